package analysis

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/taxonomy"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"golang.org/x/sync/errgroup"
)

// AnalyzerOptions wires the scoring pipeline
type AnalyzerOptions struct {
	Mode         ScoringMode
	HybridWeight float64
	Taxonomy     *taxonomy.Taxonomy
	Model        *Model
	Rules        *RuleScorer
	Bands        BandConfig
	TieBreak     TieBreakSignals
	Now          func() time.Time
}

// ScoreInput is one award plus its resolved enrichment
type ScoreInput struct {
	Award      types.Award
	Enrichment *types.Enrichment
}

// BatchResult holds the outcome of scoring one award in a batch
type BatchResult struct {
	AwardID    string
	Assessment Assessment
	Err        error
	Scored     bool
}

// Analyzer orchestrates the full scoring pipeline. It holds no mutable state
// and is safe for concurrent use.
type Analyzer struct {
	taxonomy *taxonomy.Taxonomy
	model    *Model
	rules    *RuleScorer
	blender  *Blender
	bands    BandConfig
	tieBreak TieBreakSignals
	now      func() time.Time
}

// NewAnalyzer checks that the mode has the collaborators it needs
func NewAnalyzer(opts AnalyzerOptions) (*Analyzer, error) {
	if opts.Taxonomy == nil {
		return nil, fmt.Errorf("%w: analyzer requires a taxonomy", ErrInvalidConfig)
	}
	blender, err := NewBlender(opts.Mode, opts.HybridWeight)
	if err != nil {
		return nil, err
	}
	if err := opts.Bands.Validate(); err != nil {
		return nil, err
	}
	if opts.Mode.usesModel() {
		if opts.Model == nil {
			return nil, fmt.Errorf("%w: %s scoring requires a trained model", ErrNotTrained, opts.Mode)
		}
		for _, label := range opts.Model.Labels() {
			if !opts.Taxonomy.Has(label) {
				return nil, fmt.Errorf("%w: model label %q is not in taxonomy %s", ErrSchemaMismatch, label, opts.Taxonomy.Version())
			}
		}
	}
	if opts.Mode.usesRules() && opts.Rules == nil {
		return nil, fmt.Errorf("%w: %s scoring requires rule configuration", ErrInvalidConfig, opts.Mode)
	}

	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	signals := make(TieBreakSignals, len(opts.TieBreak))
	for k, v := range opts.TieBreak {
		signals[k] = v
	}

	return &Analyzer{
		taxonomy: opts.Taxonomy,
		model:    opts.Model,
		rules:    opts.Rules,
		blender:  blender,
		bands:    opts.Bands,
		tieBreak: signals,
		now:      now,
	}, nil
}

// Mode returns the scoring mode
func (a *Analyzer) Mode() ScoringMode { return a.blender.mode }

// Taxonomy returns the taxonomy assessments are computed against
func (a *Analyzer) Taxonomy() *taxonomy.Taxonomy { return a.taxonomy }

// ModelVersion is the version of the model in use, empty in rules mode
func (a *Analyzer) ModelVersion() string {
	if a.model == nil || !a.blender.mode.usesModel() {
		return ""
	}
	return a.model.Version()
}

// WithTieBreak returns a copy of the analyzer using new tie-break signals
func (a *Analyzer) WithTieBreak(signals TieBreakSignals) *Analyzer {
	cp := *a
	cp.tieBreak = make(TieBreakSignals, len(signals))
	for k, v := range signals {
		cp.tieBreak[k] = v
	}
	return &cp
}

// Score produces one assessment
func (a *Analyzer) Score(in ScoreInput) (Assessment, error) {
	fields := FieldTexts(in.Award, in.Enrichment)
	text := joinFields(fields)

	var probs map[string]float64
	if a.blender.mode.usesModel() {
		var err error
		if probs, err = a.model.Predict(text); err != nil {
			return Assessment{}, fmt.Errorf("award %s: %w", in.Award.ID, err)
		}
	}
	return a.assemble(in, fields, text, probs)
}

// ScoreBatch scores awards in parallel. A failed award is recorded in its
// result and does not stop the batch. Cancellation is checked between awards;
// unscored awards then carry the context error.
func (a *Analyzer) ScoreBatch(ctx context.Context, inputs []ScoreInput) ([]BatchResult, error) {
	results := make([]BatchResult, len(inputs))
	fields := make([][]FieldText, len(inputs))
	texts := make([]string, len(inputs))
	for i, in := range inputs {
		results[i].AwardID = in.Award.ID
		fields[i] = FieldTexts(in.Award, in.Enrichment)
		texts[i] = joinFields(fields[i])
	}

	var probs []map[string]float64
	if a.blender.mode.usesModel() {
		var err error
		if probs, err = a.model.PredictBatch(ctx, texts); err != nil {
			if ctx.Err() != nil {
				return markUnscored(results, ctx.Err()), ctx.Err()
			}
			return a.scoreEach(ctx, inputs, results)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, in := range inputs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var p map[string]float64
			if probs != nil {
				p = probs[i]
			}
			assessment, err := a.assemble(in, fields[i], texts[i], p)
			results[i] = BatchResult{AwardID: in.Award.ID, Assessment: assessment, Err: err, Scored: true}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return markUnscored(results, err), err
	}
	return results, nil
}

// scoreEach falls back to per-award prediction so one bad vector only fails its own award
func (a *Analyzer) scoreEach(ctx context.Context, inputs []ScoreInput, results []BatchResult) ([]BatchResult, error) {
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return markUnscored(results, err), err
		}
		assessment, err := a.Score(in)
		results[i] = BatchResult{AwardID: in.Award.ID, Assessment: assessment, Err: err, Scored: true}
	}
	return results, nil
}

func markUnscored(results []BatchResult, err error) []BatchResult {
	for i := range results {
		if !results[i].Scored && results[i].Err == nil {
			results[i].Err = err
		}
	}
	return results
}

func (a *Analyzer) assemble(in ScoreInput, fields []FieldText, text string, probs map[string]float64) (Assessment, error) {
	var mlRaw, mlScores, ruleRaw, ruleScores map[string]float64

	if a.blender.mode.usesModel() {
		mlRaw = probs
		mlScores = make(map[string]float64, len(probs))
		for id, p := range probs {
			mlScores[id] = p * 100
		}
	}
	if a.blender.mode.usesRules() {
		title := ""
		if len(fields) > 0 && fields[0].Field == FieldTitle {
			title = fields[0].Text
		}
		ruleRaw = a.rules.ScoreText(RuleInput{
			Text:   text,
			Title:  title,
			Agency: in.Award.Agency,
			Branch: in.Award.Branch,
		})
		ruleScores = a.rules.Normalize(ruleRaw)
	}

	final, err := a.blender.Combine(mlScores, ruleScores)
	if err != nil {
		return Assessment{}, err
	}
	for id, v := range final {
		final[id] = roundTo(v, 4)
	}

	cls, err := Classify(final, a.bands, a.tieBreak)
	if err != nil {
		return Assessment{}, fmt.Errorf("award %s: %w", in.Award.ID, err)
	}

	assessment := Assessment{
		AwardID:         in.Award.ID,
		Scores:          a.categoryScores(final, mlRaw, ruleRaw),
		PrimaryCategory: cls.Primary,
		PrimaryScore:    cls.Score,
		Band:            cls.Band,
		Supporting:      cls.Supporting,
		Method:          a.blender.mode,
		TaxonomyVersion: a.taxonomy.Version(),
		Evidence:        ExtractEvidence(fields, a.taxonomy.Name(cls.Primary), a.evidenceTerms(cls.Primary)),
		ScoredAt:        a.now(),
	}
	if a.model != nil && a.blender.mode.usesModel() {
		assessment.ModelVersion = a.model.Version()
	}
	return assessment, nil
}

// categoryScores lists every considered category in taxonomy order
func (a *Analyzer) categoryScores(final, mlRaw, ruleRaw map[string]float64) []CategoryScore {
	ids := sortedKeys(final)
	sortByTaxonomy(ids, a.taxonomy)

	out := make([]CategoryScore, 0, len(ids))
	for _, id := range ids {
		cs := CategoryScore{CategoryID: id, Raw: final[id], Normalized: final[id]}
		switch a.blender.mode {
		case ModeML:
			cs.Raw = mlRaw[id]
		case ModeRules:
			cs.Raw = ruleRaw[id]
		case ModeHybrid:
			ml, rule := mlRaw[id], ruleRaw[id]
			cs.MLRaw, cs.RuleRaw = &ml, &rule
		}
		out = append(out, cs)
	}
	return out
}

// evidenceTerms merges rule keywords and taxonomy keyword hints for a category
func (a *Analyzer) evidenceTerms(categoryID string) []string {
	if categoryID == taxonomy.NoneCategoryID {
		return nil
	}
	var terms []string
	if a.rules != nil {
		terms = append(terms, a.rules.Terms(categoryID)...)
	}
	if c, err := a.taxonomy.Category(categoryID); err == nil {
		terms = append(terms, c.Keywords...)
	}
	return terms
}

func joinFields(fields []FieldText) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = f.Text
	}
	return strings.Join(parts, " ")
}

func sortByTaxonomy(ids []string, tax *taxonomy.Taxonomy) {
	sort.SliceStable(ids, func(i, j int) bool {
		return tax.Order(ids[i]) < tax.Order(ids[j])
	})
}
