package analysis

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/taxonomy"
)

// RuleInput is the text and context scored by the rule-based scorer
type RuleInput struct {
	Text   string
	Title  string
	Agency string
	Branch string
}

type compiledTiers struct {
	core     []string
	related  []string
	negative []string
	terms    []string
}

// RuleScorer scores categories from curated keyword tiers and agency/branch
// priors. Its configuration is copied at construction and never changes.
type RuleScorer struct {
	cfg        RulesConfig
	categories []string
	tiers      map[string]compiledTiers
	agency     map[string]map[string]float64
	branch     map[string]map[string]float64
	maxScore   map[string]float64
}

// NewRuleScorer validates rules against the taxonomy and compiles keyword tiers
func NewRuleScorer(cfg RulesConfig, tax *taxonomy.Taxonomy) (*RuleScorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tax == nil {
		return nil, fmt.Errorf("%w: rule scorer requires a taxonomy", ErrInvalidConfig)
	}

	r := &RuleScorer{
		cfg:      cfg,
		tiers:    make(map[string]compiledTiers, len(cfg.Categories)),
		maxScore: make(map[string]float64),
	}
	r.cfg.Categories = nil
	r.cfg.AgencyPriors = nil
	r.cfg.BranchPriors = nil

	for id, t := range cfg.Categories {
		if !tax.Has(id) {
			return nil, fmt.Errorf("%w: keyword tiers reference unknown category %q", ErrInvalidConfig, id)
		}
		if id == taxonomy.NoneCategoryID {
			return nil, fmt.Errorf("%w: reserved category %q cannot have keywords", ErrInvalidConfig, id)
		}
		r.tiers[id] = compiledTiers{
			core:     foldKeywords(t.Core),
			related:  foldKeywords(t.Related),
			negative: foldKeywords(t.Negative),
			terms:    append(append([]string(nil), t.Core...), t.Related...),
		}
	}

	var err error
	if r.agency, err = compilePriors("agency", cfg.AgencyPriors, tax); err != nil {
		return nil, err
	}
	if r.branch, err = compilePriors("branch", cfg.BranchPriors, tax); err != nil {
		return nil, err
	}

	for _, id := range tax.IDs() {
		if id == taxonomy.NoneCategoryID {
			continue
		}
		r.categories = append(r.categories, id)
		r.maxScore[id] = r.theoreticalMax(r.tiers[id])
	}
	return r, nil
}

func compilePriors(kind string, raw map[string]map[string]float64, tax *taxonomy.Taxonomy) (map[string]map[string]float64, error) {
	out := make(map[string]map[string]float64, len(raw))
	for key, boosts := range raw {
		k := priorKey(key)
		if k == "" {
			return nil, fmt.Errorf("%w: empty %s prior key", ErrInvalidConfig, kind)
		}
		m := make(map[string]float64, len(boosts))
		for id, v := range boosts {
			if !tax.Has(id) || id == taxonomy.NoneCategoryID {
				return nil, fmt.Errorf("%w: %s prior %q references invalid category %q", ErrInvalidConfig, kind, key, id)
			}
			m[id] = v
		}
		out[k] = m
	}
	return out, nil
}

func priorKey(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

func foldKeywords(words []string) []string {
	out := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = foldText(w)
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// theoreticalMax is the keyword score at saturation: capped core hits, one
// title bonus and capped related hits.
func (r *RuleScorer) theoreticalMax(t compiledTiers) float64 {
	core := min(len(t.core), r.cfg.CoreSaturation)
	related := min(len(t.related), r.cfg.RelatedSaturation)
	if core == 0 && related == 0 {
		return r.cfg.DefaultMaxScore
	}
	total := r.cfg.CoreWeight*float64(core) + r.cfg.RelatedWeight*float64(related)
	if core > 0 {
		total += r.cfg.TitleBonus
	}
	return total
}

// Categories returns the scored category ids in taxonomy order, excluding none
func (r *RuleScorer) Categories() []string {
	return append([]string(nil), r.categories...)
}

// MaxScore returns the normalization denominator for a category
func (r *RuleScorer) MaxScore(categoryID string) float64 {
	if m, ok := r.maxScore[categoryID]; ok {
		return m
	}
	return r.cfg.DefaultMaxScore
}

// Terms returns the core then related keywords for a category as configured
func (r *RuleScorer) Terms(categoryID string) []string {
	return append([]string(nil), r.tiers[categoryID].terms...)
}

// KeywordScores scores each category from its keyword tiers. Categories with
// a zero score are omitted.
func (r *RuleScorer) KeywordScores(text, title string) map[string]float64 {
	body := foldText(text)
	head := foldText(title)
	scores := make(map[string]float64)
	for _, id := range r.categories {
		t, ok := r.tiers[id]
		if !ok {
			continue
		}
		s := 0.0
		for _, kw := range t.core {
			inTitle := head != "" && containsAsWord(head, kw)
			if inTitle || containsAsWord(body, kw) {
				s += r.cfg.CoreWeight
			}
			if inTitle {
				s += r.cfg.TitleBonus
			}
		}
		for _, kw := range t.related {
			if containsAsWord(body, kw) || (head != "" && containsAsWord(head, kw)) {
				s += r.cfg.RelatedWeight
			}
		}
		for _, kw := range t.negative {
			if containsAsWord(body, kw) || (head != "" && containsAsWord(head, kw)) {
				s -= r.cfg.NegativePenalty
			}
		}
		if s != 0 {
			scores[id] = s
		}
	}
	return scores
}

// AgencyPriors returns the boosts configured for an agency
func (r *RuleScorer) AgencyPriors(agency string) map[string]float64 {
	return copyScores(r.agency[priorKey(agency)])
}

// BranchPriors returns the boosts configured for a branch
func (r *RuleScorer) BranchPriors(branch string) map[string]float64 {
	return copyScores(r.branch[priorKey(branch)])
}

// ApplyPriors adds each boost, clamped to [-limit, limit], to a copy of scores
func ApplyPriors(scores, priors map[string]float64, limit float64) map[string]float64 {
	out := copyScores(scores)
	for id, boost := range priors {
		v := out[id] + clip(boost, -limit, limit)
		if v == 0 {
			delete(out, id)
			continue
		}
		out[id] = v
	}
	return out
}

// WithNoneFallback returns scores unchanged when any category is positive;
// otherwise it adds the reserved none category at noneScore.
func WithNoneFallback(scores map[string]float64, noneScore float64) map[string]float64 {
	out := copyScores(scores)
	for id, v := range out {
		if id != taxonomy.NoneCategoryID && v > 0 {
			return out
		}
	}
	out[taxonomy.NoneCategoryID] = noneScore
	return out
}

// ScoreText runs keyword scoring, agency priors, branch priors and the none fallback in sequence
func (r *RuleScorer) ScoreText(in RuleInput) map[string]float64 {
	scores := r.KeywordScores(in.Text, in.Title)
	scores = ApplyPriors(scores, r.AgencyPriors(in.Agency), r.cfg.PriorCap)
	scores = ApplyPriors(scores, r.BranchPriors(in.Branch), r.cfg.PriorCap)
	return WithNoneFallback(scores, r.cfg.NoneScore)
}

// Normalize maps raw rule scores to 0-100 using each category's theoretical
// maximum. Every scored category appears in the result; none keeps its raw value.
func (r *RuleScorer) Normalize(raw map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(r.categories)+1)
	for _, id := range r.categories {
		out[id] = clip(raw[id]/r.MaxScore(id)*100, 0, 100)
	}
	if v, ok := raw[taxonomy.NoneCategoryID]; ok {
		out[taxonomy.NoneCategoryID] = clip(v, 0, 100)
	}
	return out
}

func copyScores(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// sortedKeys returns map keys in lexical order
func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsAsWord(text, word string) bool {
	if word == "" {
		return false
	}
	start := 0
	for start < len(text) {
		idx := strings.Index(text[start:], word)
		if idx < 0 {
			return false
		}
		idx += start
		var before rune
		if idx > 0 {
			before, _ = utf8.DecodeLastRuneInString(text[:idx])
		}
		var after rune
		if end := idx + len(word); end < len(text) {
			after, _ = utf8.DecodeRuneInString(text[end:])
		}
		if !isAlphaNumRune(before) && !isAlphaNumRune(after) {
			return true
		}
		start = idx + len(word)
	}
	return false
}

func isAlphaNumRune(r rune) bool {
	if r == 0 || r == utf8.RuneError {
		return false
	}
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
