// Package config loads classifier settings.
// Precedence: defaults < YAML file < environment (CET_*) < overrides.
package config

import (
	_ "embed"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig            `mapstructure:"server"`
	Storage  StorageConfig           `mapstructure:"storage"`
	Scoring  ScoringConfig           `mapstructure:"scoring"`
	Training analysis.TrainingConfig `mapstructure:"training"`
	Rules    analysis.RulesConfig    `mapstructure:"rules"`
	Export   ExportConfig            `mapstructure:"export"`
	Log      LogConfig               `mapstructure:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string          `mapstructure:"port"`
	Mode           string          `mapstructure:"mode"` // debug | release | test
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	JWTSecret      string          `mapstructure:"jwt_secret"`
	RequestTimeout time.Duration   `mapstructure:"request_timeout"`
	SummaryTTL     time.Duration   `mapstructure:"summary_ttl"`
	MaxBatchSize   int             `mapstructure:"max_batch_size"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-client request limits. An empty RedisAddr
// keeps limits in process memory.
type RateLimitConfig struct {
	RedisAddr         string `mapstructure:"redis_addr"`
	RedisPassword     string `mapstructure:"redis_password"`
	RedisDB           int    `mapstructure:"redis_db"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	Burst             int    `mapstructure:"burst"`
}

// StorageConfig locates on-disk state.
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	DatabasePath string `mapstructure:"database_path"`
	ModelDir     string `mapstructure:"model_dir"`
	TaxonomyPath string `mapstructure:"taxonomy_path"`
}

// ScoringConfig selects the scoring mode and band policy.
type ScoringConfig struct {
	Mode         string              `mapstructure:"mode"` // ml | rules | hybrid
	HybridWeight float64             `mapstructure:"hybrid_weight"`
	ModelVersion string              `mapstructure:"model_version"`
	Bands        analysis.BandConfig `mapstructure:"bands"`
}

// ExportConfig governs what leaves the system.
type ExportConfig struct {
	DefaultFields []string `mapstructure:"default_fields"`
	MaxRows       int      `mapstructure:"max_rows"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
}

// DefaultConfig returns built-in defaults, including the curated CET rule table.
func DefaultConfig() Config {
	rules := analysis.DefaultRulesConfig()
	tables, err := DefaultRuleTables()
	if err == nil {
		rules.Categories = tables.Categories
		rules.AgencyPriors = tables.AgencyPriors
		rules.BranchPriors = tables.BranchPriors
	}

	return Config{
		Server: ServerConfig{
			Port:           "8080",
			Mode:           "release",
			AllowedOrigins: []string{"http://localhost:3000"},
			RequestTimeout: 30 * time.Second,
			SummaryTTL:     5 * time.Minute,
			MaxBatchSize:   1000,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 120,
				Burst:             20,
			},
		},
		Storage: StorageConfig{
			DataDir:      "./data",
			DatabasePath: "./data/cet.db",
			ModelDir:     "./data/models",
		},
		Scoring: ScoringConfig{
			Mode:         analysis.ModeRules.String(),
			HybridWeight: 0.5,
			Bands:        analysis.DefaultBandConfig(),
		},
		Training: analysis.DefaultTrainingConfig(),
		Rules:    rules,
		Export: ExportConfig{
			DefaultFields: []string{"award_id", "agency", "title", "primary_category", "primary_score", "band", "taxonomy_version"},
			MaxRows:       100000,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// RuleTables are the keyword tiers and priors of the rule-based scorer.
type RuleTables struct {
	Categories   map[string]analysis.KeywordTiers `yaml:"categories"`
	AgencyPriors map[string]map[string]float64    `yaml:"agency_priors"`
	BranchPriors map[string]map[string]float64    `yaml:"branch_priors"`
}

// DefaultRuleTables decodes the embedded CET rule table. Each call returns fresh maps.
func DefaultRuleTables() (RuleTables, error) {
	return ParseRuleTables(defaultRulesYAML)
}

// ParseRuleTables decodes a YAML rule table
func ParseRuleTables(data []byte) (RuleTables, error) {
	var t RuleTables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return RuleTables{}, fmt.Errorf("decode rule tables: %w", err)
	}
	return t, nil
}

// ScoringMode parses the configured scoring mode.
func (c Config) ScoringMode() (analysis.ScoringMode, error) {
	return analysis.ParseScoringMode(c.Scoring.Mode)
}
