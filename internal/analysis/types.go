package analysis

import (
	"fmt"
	"strings"
	"time"
)

// ScoringMode selects which scoring paths feed the blender
type ScoringMode int

const (
	ModeML ScoringMode = iota + 1
	ModeRules
	ModeHybrid
)

// ParseScoringMode maps ml|rules|hybrid to a ScoringMode
func ParseScoringMode(s string) (ScoringMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ml":
		return ModeML, nil
	case "rules":
		return ModeRules, nil
	case "hybrid":
		return ModeHybrid, nil
	}
	return 0, fmt.Errorf("%w: unknown scoring mode %q", ErrInvalidConfig, s)
}

func (m ScoringMode) String() string {
	switch m {
	case ModeML:
		return "ml"
	case ModeRules:
		return "rules"
	case ModeHybrid:
		return "hybrid"
	}
	return "unknown"
}

func (m ScoringMode) usesModel() bool { return m == ModeML || m == ModeHybrid }
func (m ScoringMode) usesRules() bool { return m == ModeRules || m == ModeHybrid }

// MarshalText implements encoding.TextMarshaler
func (m ScoringMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *ScoringMode) UnmarshalText(b []byte) error {
	parsed, err := ParseScoringMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Band is an ordered confidence tier: Low < Medium < High
type Band int

const (
	BandLow Band = iota
	BandMedium
	BandHigh
)

func (b Band) String() string {
	switch b {
	case BandHigh:
		return "High"
	case BandMedium:
		return "Medium"
	}
	return "Low"
}

// ParseBand is case-insensitive
func ParseBand(s string) (Band, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return BandHigh, nil
	case "medium":
		return BandMedium, nil
	case "low":
		return BandLow, nil
	}
	return BandLow, fmt.Errorf("%w: unknown band %q", ErrInvalidConfig, s)
}

// MarshalText implements encoding.TextMarshaler
func (b Band) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (b *Band) UnmarshalText(text []byte) error {
	parsed, err := ParseBand(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// Field tags the award field a piece of text came from
type Field string

const (
	FieldTitle      Field = "title"
	FieldAbstract   Field = "abstract"
	FieldKeywords   Field = "keywords"
	FieldEnrichment Field = "enrichment"
)

// FieldText is one source field's text
type FieldText struct {
	Field Field
	Text  string
}

// CategoryScore holds the scores computed for one category. Raw is the
// scoring method's own value; in hybrid mode it is the blend and MLRaw and
// RuleRaw keep its inputs.
type CategoryScore struct {
	CategoryID string   `json:"category_id"`
	Raw        float64  `json:"raw"`
	Normalized float64  `json:"normalized"`
	MLRaw      *float64 `json:"ml_raw,omitempty"`
	RuleRaw    *float64 `json:"rule_raw,omitempty"`
}

// SupportingCategory is a secondary category ranked below the primary
type SupportingCategory struct {
	CategoryID string  `json:"category_id"`
	Score      float64 `json:"score"`
}

// EvidenceStatement is a short excerpt justifying a category assignment
type EvidenceStatement struct {
	Source    Field  `json:"source"`
	Excerpt   string `json:"excerpt"`
	Rationale string `json:"rationale"`
	Term      string `json:"term"`
}

// Assessment is the scoring output for one award
type Assessment struct {
	AwardID         string               `json:"award_id"`
	Scores          []CategoryScore      `json:"scores"`
	PrimaryCategory string               `json:"primary_category"`
	PrimaryScore    float64              `json:"primary_score"`
	Band            Band                 `json:"band"`
	Supporting      []SupportingCategory `json:"supporting"`
	Method          ScoringMode          `json:"method"`
	TaxonomyVersion string               `json:"taxonomy_version"`
	ModelVersion    string               `json:"model_version,omitempty"`
	Evidence        []EvidenceStatement  `json:"evidence"`
	ScoredAt        time.Time            `json:"scored_at"`
}

// Score returns the normalized score for a category, 0 when absent
func (a Assessment) Score(categoryID string) float64 {
	for _, s := range a.Scores {
		if s.CategoryID == categoryID {
			return s.Normalized
		}
	}
	return 0
}

// TrainingExample pairs feature text with its CET labels. The first label is the training class.
type TrainingExample struct {
	Text   string   `json:"text"`
	Labels []string `json:"labels"`
}
