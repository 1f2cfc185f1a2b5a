package analysis

import "errors"

var (
	// ErrInvalidConfig is returned for out-of-range hyperparameters and thresholds.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrInsufficientData is returned when a fit has too few documents, classes or terms.
	ErrInsufficientData = errors.New("insufficient training data")
	// ErrNotTrained is returned when predicting with an unfit model.
	ErrNotTrained = errors.New("model not trained")
	// ErrSchemaMismatch is returned when vectors, artifacts or labels disagree with the fitted model.
	ErrSchemaMismatch = errors.New("schema mismatch")
)
