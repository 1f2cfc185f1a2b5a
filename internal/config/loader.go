package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. CET_SERVER_PORT.
const EnvPrefix = "CET"

// LoadOptions controls configuration loading.
type LoadOptions struct {
	// ConfigPath is a YAML file merged over the defaults. Missing files are ignored
	// unless Required is set.
	ConfigPath string
	Required   bool
	// Overrides are highest-priority values keyed by dot-notated path.
	Overrides map[string]any
}

// Load returns the effective configuration after applying precedence:
// defaults < config file < env (CET_*) < overrides.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := opts.ConfigPath
	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if err := mergeConfigFile(v, path, opts.Required); err != nil {
		return Config{}, err
	}
	for k, val := range opts.Overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	applyRuleTableDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults seeds viper with every scalar default so env overrides resolve.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("server.port", def.Server.Port)
	v.SetDefault("server.mode", def.Server.Mode)
	v.SetDefault("server.allowed_origins", def.Server.AllowedOrigins)
	v.SetDefault("server.jwt_secret", def.Server.JWTSecret)
	v.SetDefault("server.request_timeout", def.Server.RequestTimeout)
	v.SetDefault("server.summary_ttl", def.Server.SummaryTTL)
	v.SetDefault("server.max_batch_size", def.Server.MaxBatchSize)
	v.SetDefault("server.rate_limit.redis_addr", def.Server.RateLimit.RedisAddr)
	v.SetDefault("server.rate_limit.redis_password", def.Server.RateLimit.RedisPassword)
	v.SetDefault("server.rate_limit.redis_db", def.Server.RateLimit.RedisDB)
	v.SetDefault("server.rate_limit.requests_per_minute", def.Server.RateLimit.RequestsPerMinute)
	v.SetDefault("server.rate_limit.burst", def.Server.RateLimit.Burst)

	v.SetDefault("storage.data_dir", def.Storage.DataDir)
	v.SetDefault("storage.database_path", def.Storage.DatabasePath)
	v.SetDefault("storage.model_dir", def.Storage.ModelDir)
	v.SetDefault("storage.taxonomy_path", def.Storage.TaxonomyPath)

	v.SetDefault("scoring.mode", def.Scoring.Mode)
	v.SetDefault("scoring.hybrid_weight", def.Scoring.HybridWeight)
	v.SetDefault("scoring.model_version", def.Scoring.ModelVersion)
	v.SetDefault("scoring.bands.high", def.Scoring.Bands.High)
	v.SetDefault("scoring.bands.medium", def.Scoring.Bands.Medium)
	v.SetDefault("scoring.bands.supporting_threshold", def.Scoring.Bands.SupportingThreshold)
	v.SetDefault("scoring.bands.supporting_cap", def.Scoring.Bands.SupportingCap)

	tr := def.Training
	v.SetDefault("training.vectorizer.ngram_min", tr.Vectorizer.NGramMin)
	v.SetDefault("training.vectorizer.ngram_max", tr.Vectorizer.NGramMax)
	v.SetDefault("training.vectorizer.max_features", tr.Vectorizer.MaxFeatures)
	v.SetDefault("training.vectorizer.min_df", tr.Vectorizer.MinDF)
	v.SetDefault("training.vectorizer.max_df", tr.Vectorizer.MaxDF)
	v.SetDefault("training.vectorizer.sublinear_tf", tr.Vectorizer.SublinearTF)
	v.SetDefault("training.vectorizer.extra_stop_words", []string{})
	v.SetDefault("training.selection.k", tr.Selection.K)
	v.SetDefault("training.classifier.max_iter", tr.Classifier.MaxIter)
	v.SetDefault("training.classifier.c", tr.Classifier.C)
	v.SetDefault("training.classifier.tolerance", tr.Classifier.Tolerance)
	v.SetDefault("training.classifier.learning_rate", tr.Classifier.LearningRate)
	v.SetDefault("training.classifier.class_weight", tr.Classifier.ClassWeight)
	v.SetDefault("training.calibration.min_samples_per_class", tr.Calibration.MinSamplesPerClass)
	v.SetDefault("training.calibration.folds", tr.Calibration.Folds)

	r := def.Rules
	v.SetDefault("rules.core_weight", r.CoreWeight)
	v.SetDefault("rules.title_bonus", r.TitleBonus)
	v.SetDefault("rules.related_weight", r.RelatedWeight)
	v.SetDefault("rules.negative_penalty", r.NegativePenalty)
	v.SetDefault("rules.core_saturation", r.CoreSaturation)
	v.SetDefault("rules.related_saturation", r.RelatedSaturation)
	v.SetDefault("rules.default_max_score", r.DefaultMaxScore)
	v.SetDefault("rules.prior_cap", r.PriorCap)
	v.SetDefault("rules.none_score", r.NoneScore)

	v.SetDefault("export.default_fields", def.Export.DefaultFields)
	v.SetDefault("export.max_rows", def.Export.MaxRows)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
}

// applyRuleTableDefaults fills keyword tiers and priors the file left unset.
// Tables are replaced whole, never merged key by key.
func applyRuleTableDefaults(cfg *Config) {
	if len(cfg.Rules.Categories) > 0 && cfg.Rules.AgencyPriors != nil && cfg.Rules.BranchPriors != nil {
		return
	}
	tables, err := DefaultRuleTables()
	if err != nil {
		return
	}
	if len(cfg.Rules.Categories) == 0 {
		cfg.Rules.Categories = tables.Categories
	}
	if cfg.Rules.AgencyPriors == nil {
		cfg.Rules.AgencyPriors = tables.AgencyPriors
	}
	if cfg.Rules.BranchPriors == nil {
		cfg.Rules.BranchPriors = tables.BranchPriors
	}
}

// mergeConfigFile merges the YAML config file if it exists.
func mergeConfigFile(v *viper.Viper, path string, required bool) error {
	if path == "" {
		if required {
			return fmt.Errorf("config path is empty")
		}
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}
