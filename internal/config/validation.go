package config

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
)

// Validate checks the configuration for semantic errors and reports all of them at once.
func Validate(cfg Config) error {
	var errs []string
	check := func(name string, err error) {
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
		}
	}

	if strings.TrimSpace(cfg.Server.Port) == "" {
		errs = append(errs, "server.port must not be empty")
	}
	if !oneOf(cfg.Server.Mode, "debug", "release", "test") {
		errs = append(errs, "server.mode must be one of debug|release|test")
	}
	if cfg.Server.RequestTimeout <= 0 {
		errs = append(errs, "server.request_timeout must be > 0")
	}
	if cfg.Server.SummaryTTL < 0 {
		errs = append(errs, "server.summary_ttl cannot be negative")
	}
	if cfg.Server.MaxBatchSize < 1 {
		errs = append(errs, "server.max_batch_size must be >= 1")
	}
	if cfg.Server.RateLimit.RequestsPerMinute < 0 || cfg.Server.RateLimit.Burst < 0 {
		errs = append(errs, "server.rate_limit values cannot be negative")
	}

	if strings.TrimSpace(cfg.Storage.DataDir) == "" {
		errs = append(errs, "storage.data_dir must not be empty")
	}
	if strings.TrimSpace(cfg.Storage.ModelDir) == "" {
		errs = append(errs, "storage.model_dir must not be empty")
	}

	mode, err := cfg.ScoringMode()
	check("scoring.mode", err)
	if err == nil && mode == analysis.ModeHybrid {
		_, err := analysis.NewBlender(mode, cfg.Scoring.HybridWeight)
		check("scoring.hybrid_weight", err)
	}
	check("scoring.bands", cfg.Scoring.Bands.Validate())

	check("training.vectorizer", cfg.Training.Vectorizer.Validate())
	check("training.selection", cfg.Training.Selection.Validate())
	check("training.classifier", cfg.Training.Classifier.Validate())
	check("training.calibration", cfg.Training.Calibration.Validate())
	check("rules", cfg.Rules.Validate())

	if cfg.Export.MaxRows < 1 {
		errs = append(errs, "export.max_rows must be >= 1")
	}
	if !oneOf(strings.ToLower(cfg.Log.Level), "debug", "info", "warn", "error") {
		errs = append(errs, "log.level must be one of debug|info|warn|error")
	}
	if !oneOf(cfg.Log.Format, "json", "text") {
		errs = append(errs, "log.format must be one of json|text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: config validation failed: %s", analysis.ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

func oneOf(val string, options ...string) bool {
	for _, opt := range options {
		if val == opt {
			return true
		}
	}
	return false
}
