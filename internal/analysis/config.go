package analysis

import (
	"fmt"
	"math"
)

// VectorizerConfig controls TF-IDF vocabulary construction
type VectorizerConfig struct {
	NGramMin       int      `mapstructure:"ngram_min" json:"ngram_min"`
	NGramMax       int      `mapstructure:"ngram_max" json:"ngram_max"`
	MaxFeatures    int      `mapstructure:"max_features" json:"max_features"`
	MinDF          int      `mapstructure:"min_df" json:"min_df"`
	MaxDF          float64  `mapstructure:"max_df" json:"max_df"`
	SublinearTF    bool     `mapstructure:"sublinear_tf" json:"sublinear_tf"`
	ExtraStopWords []string `mapstructure:"extra_stop_words" json:"extra_stop_words,omitempty"`
}

// SelectionConfig controls chi-squared feature selection
type SelectionConfig struct {
	K int `mapstructure:"k" json:"k"`
}

// ClassifierConfig controls logistic regression training
type ClassifierConfig struct {
	MaxIter      int     `mapstructure:"max_iter" json:"max_iter"`
	C            float64 `mapstructure:"c" json:"c"`
	Tolerance    float64 `mapstructure:"tolerance" json:"tolerance"`
	LearningRate float64 `mapstructure:"learning_rate" json:"learning_rate"`
	ClassWeight  string  `mapstructure:"class_weight" json:"class_weight"`
}

// CalibrationConfig controls Platt calibration
type CalibrationConfig struct {
	MinSamplesPerClass int `mapstructure:"min_samples_per_class" json:"min_samples_per_class"`
	Folds              int `mapstructure:"folds" json:"folds"`
}

// BandConfig holds band thresholds and supporting-category policy
type BandConfig struct {
	High                float64 `mapstructure:"high" json:"high"`
	Medium              float64 `mapstructure:"medium" json:"medium"`
	SupportingThreshold float64 `mapstructure:"supporting_threshold" json:"supporting_threshold"`
	SupportingCap       int     `mapstructure:"supporting_cap" json:"supporting_cap"`
}

// KeywordTiers are the curated keyword lists for one category
type KeywordTiers struct {
	Core     []string `mapstructure:"core" json:"core" yaml:"core"`
	Related  []string `mapstructure:"related" json:"related" yaml:"related"`
	Negative []string `mapstructure:"negative" json:"negative" yaml:"negative"`
}

// RulesConfig configures the rule-based scorer
type RulesConfig struct {
	CoreWeight        float64                       `mapstructure:"core_weight" json:"core_weight"`
	TitleBonus        float64                       `mapstructure:"title_bonus" json:"title_bonus"`
	RelatedWeight     float64                       `mapstructure:"related_weight" json:"related_weight"`
	NegativePenalty   float64                       `mapstructure:"negative_penalty" json:"negative_penalty"`
	CoreSaturation    int                           `mapstructure:"core_saturation" json:"core_saturation"`
	RelatedSaturation int                           `mapstructure:"related_saturation" json:"related_saturation"`
	DefaultMaxScore   float64                       `mapstructure:"default_max_score" json:"default_max_score"`
	PriorCap          float64                       `mapstructure:"prior_cap" json:"prior_cap"`
	NoneScore         float64                       `mapstructure:"none_score" json:"none_score"`
	Categories        map[string]KeywordTiers       `mapstructure:"categories" json:"categories"`
	AgencyPriors      map[string]map[string]float64 `mapstructure:"agency_priors" json:"agency_priors"`
	BranchPriors      map[string]map[string]float64 `mapstructure:"branch_priors" json:"branch_priors"`
}

// DefaultVectorizerConfig returns unigram-to-trigram TF-IDF defaults
func DefaultVectorizerConfig() VectorizerConfig {
	return VectorizerConfig{
		NGramMin:    1,
		NGramMax:    3,
		MaxFeatures: 50000,
		MinDF:       2,
		MaxDF:       0.95,
		SublinearTF: true,
	}
}

func DefaultSelectionConfig() SelectionConfig {
	return SelectionConfig{K: 20000}
}

func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		MaxIter:      500,
		C:            1.0,
		Tolerance:    1e-6,
		LearningRate: 1.0,
		ClassWeight:  ClassWeightBalanced,
	}
}

func DefaultCalibrationConfig() CalibrationConfig {
	return CalibrationConfig{MinSamplesPerClass: 3, Folds: 3}
}

func DefaultBandConfig() BandConfig {
	return BandConfig{High: 70, Medium: 40, SupportingThreshold: 20, SupportingCap: 2}
}

// DefaultRulesConfig returns scoring weights with no keyword tables or priors
func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		CoreWeight:        15,
		TitleBonus:        10,
		RelatedWeight:     5,
		NegativePenalty:   10,
		CoreSaturation:    2,
		RelatedSaturation: 3,
		DefaultMaxScore:   55,
		PriorCap:          25,
		NoneScore:         25,
	}
}

// Validate checks n-gram range and document-frequency bounds
func (c VectorizerConfig) Validate() error {
	if c.NGramMin < 1 || c.NGramMax < c.NGramMin {
		return fmt.Errorf("%w: ngram range [%d,%d]", ErrInvalidConfig, c.NGramMin, c.NGramMax)
	}
	if c.MaxFeatures < 0 {
		return fmt.Errorf("%w: max_features must be >= 0, got %d", ErrInvalidConfig, c.MaxFeatures)
	}
	if c.MinDF < 1 {
		return fmt.Errorf("%w: min_df must be >= 1, got %d", ErrInvalidConfig, c.MinDF)
	}
	if !(c.MaxDF > 0 && c.MaxDF <= 1) {
		return fmt.Errorf("%w: max_df must be in (0,1], got %v", ErrInvalidConfig, c.MaxDF)
	}
	return nil
}

func (c SelectionConfig) Validate() error {
	if c.K <= 0 {
		return fmt.Errorf("%w: feature selection k must be > 0, got %d", ErrInvalidConfig, c.K)
	}
	return nil
}

func (c ClassifierConfig) Validate() error {
	if c.MaxIter <= 0 {
		return fmt.Errorf("%w: max_iter must be > 0, got %d", ErrInvalidConfig, c.MaxIter)
	}
	if !(c.C > 0) || math.IsInf(c.C, 0) {
		return fmt.Errorf("%w: C must be > 0, got %v", ErrInvalidConfig, c.C)
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("%w: tolerance must be >= 0, got %v", ErrInvalidConfig, c.Tolerance)
	}
	if !(c.LearningRate > 0) {
		return fmt.Errorf("%w: learning_rate must be > 0, got %v", ErrInvalidConfig, c.LearningRate)
	}
	switch c.ClassWeight {
	case ClassWeightBalanced, ClassWeightNone:
	default:
		return fmt.Errorf("%w: class_weight must be %q or %q, got %q", ErrInvalidConfig, ClassWeightBalanced, ClassWeightNone, c.ClassWeight)
	}
	return nil
}

func (c CalibrationConfig) Validate() error {
	if c.MinSamplesPerClass < 2 {
		return fmt.Errorf("%w: min_samples_per_class must be >= 2, got %d", ErrInvalidConfig, c.MinSamplesPerClass)
	}
	if c.Folds < 2 {
		return fmt.Errorf("%w: calibration folds must be >= 2, got %d", ErrInvalidConfig, c.Folds)
	}
	return nil
}

func (c BandConfig) Validate() error {
	if !(0 <= c.Medium && c.Medium < c.High && c.High <= 100) {
		return fmt.Errorf("%w: band thresholds must satisfy 0 <= medium < high <= 100, got medium=%v high=%v", ErrInvalidConfig, c.Medium, c.High)
	}
	if c.SupportingThreshold < 0 || c.SupportingThreshold > 100 || math.IsNaN(c.SupportingThreshold) {
		return fmt.Errorf("%w: supporting threshold must be in [0,100], got %v", ErrInvalidConfig, c.SupportingThreshold)
	}
	if c.SupportingCap < 0 {
		return fmt.Errorf("%w: supporting cap must be >= 0, got %d", ErrInvalidConfig, c.SupportingCap)
	}
	return nil
}

func (c RulesConfig) Validate() error {
	for name, v := range map[string]float64{
		"core_weight":      c.CoreWeight,
		"title_bonus":      c.TitleBonus,
		"related_weight":   c.RelatedWeight,
		"negative_penalty": c.NegativePenalty,
		"prior_cap":        c.PriorCap,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be a finite value >= 0, got %v", ErrInvalidConfig, name, v)
		}
	}
	if c.CoreSaturation < 1 || c.RelatedSaturation < 0 {
		return fmt.Errorf("%w: keyword saturation must be positive", ErrInvalidConfig)
	}
	if !(c.DefaultMaxScore > 0) {
		return fmt.Errorf("%w: default_max_score must be > 0, got %v", ErrInvalidConfig, c.DefaultMaxScore)
	}
	if !(c.NoneScore > 0 && c.NoneScore <= 100) {
		return fmt.Errorf("%w: none_score must be in (0,100], got %v", ErrInvalidConfig, c.NoneScore)
	}
	return nil
}
