package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TrainingConfig groups every hyperparameter used by Train
type TrainingConfig struct {
	Vectorizer  VectorizerConfig  `mapstructure:"vectorizer" json:"vectorizer"`
	Selection   SelectionConfig   `mapstructure:"selection" json:"selection"`
	Classifier  ClassifierConfig  `mapstructure:"classifier" json:"classifier"`
	Calibration CalibrationConfig `mapstructure:"calibration" json:"calibration"`
}

// DefaultTrainingConfig returns the default hyperparameters
func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		Vectorizer:  DefaultVectorizerConfig(),
		Selection:   DefaultSelectionConfig(),
		Classifier:  DefaultClassifierConfig(),
		Calibration: DefaultCalibrationConfig(),
	}
}

// Model bundles a fitted vectorizer, feature selector and calibrated classifier
type Model struct {
	vectorizer      *Vectorizer
	selector        *FeatureSelector
	classifier      *Classifier
	version         string
	fittedAt        time.Time
	taxonomyVersion string
	trainingSize    int
}

// Train fits the full pipeline: vectorizer, chi-squared selection, classifier, calibration
func Train(examples []TrainingExample, cfg TrainingConfig, taxonomyVersion string) (*Model, error) {
	if err := cfg.Selection.Validate(); err != nil {
		return nil, err
	}

	corpus := make([]string, 0, len(examples))
	labels := make([]string, 0, len(examples))
	for _, ex := range examples {
		if len(ex.Labels) == 0 || strings.TrimSpace(ex.Labels[0]) == "" {
			continue
		}
		corpus = append(corpus, ex.Text)
		labels = append(labels, strings.TrimSpace(ex.Labels[0]))
	}
	if len(corpus) < 2 {
		return nil, fmt.Errorf("%w: %d labeled examples", ErrInsufficientData, len(corpus))
	}

	vectorizer, err := FitVectorizer(corpus, cfg.Vectorizer)
	if err != nil {
		return nil, fmt.Errorf("failed to fit vectorizer: %w", err)
	}
	vectors := vectorizer.TransformAll(corpus)

	selector, err := FitSelector(vectors, labels, cfg.Selection.K)
	if err != nil {
		return nil, fmt.Errorf("failed to fit feature selector: %w", err)
	}
	selected := make([]SparseVector, len(vectors))
	for i, v := range vectors {
		if selected[i], err = selector.Apply(v); err != nil {
			return nil, err
		}
	}

	classifier, err := FitClassifier(selected, labels, cfg.Classifier, cfg.Calibration)
	if err != nil {
		return nil, fmt.Errorf("failed to fit classifier: %w", err)
	}

	return &Model{
		vectorizer:      vectorizer,
		selector:        selector,
		classifier:      classifier,
		version:         uuid.NewString(),
		fittedAt:        time.Now().UTC(),
		taxonomyVersion: taxonomyVersion,
		trainingSize:    len(corpus),
	}, nil
}

// Version returns the model version identifier
func (m *Model) Version() string { return m.version }

// FittedAt returns the fit timestamp
func (m *Model) FittedAt() time.Time { return m.fittedAt }

// TaxonomyVersion returns the taxonomy version the model was trained against
func (m *Model) TaxonomyVersion() string { return m.taxonomyVersion }

// TrainingSize returns the number of labeled examples used in the fit
func (m *Model) TrainingSize() int { return m.trainingSize }

// Labels returns the known category labels
func (m *Model) Labels() []string { return m.classifier.Labels() }

// Uncalibrated returns labels scored without calibration
func (m *Model) Uncalibrated() []string { return m.classifier.Uncalibrated() }

// Vectorize maps text into the classifier's selected feature space
func (m *Model) Vectorize(text string) (SparseVector, error) {
	if m == nil || m.vectorizer == nil {
		return SparseVector{}, ErrNotTrained
	}
	return m.selector.Apply(m.vectorizer.Transform(text))
}

// Predict returns the calibrated category distribution for text
func (m *Model) Predict(text string) (map[string]float64, error) {
	v, err := m.Vectorize(text)
	if err != nil {
		return nil, err
	}
	return m.classifier.Predict(v)
}

// PredictBatch predicts many texts in parallel
func (m *Model) PredictBatch(ctx context.Context, texts []string) ([]map[string]float64, error) {
	vectors := make([]SparseVector, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := m.Vectorize(text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return m.classifier.PredictBatch(ctx, vectors)
}
