// Package pipeline wires configuration, taxonomy, model and storage into a
// ready analyzer and runs scoring with persistence for the server and CLI.
package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/config"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/taxonomy"
)

// LoadTaxonomy reads the configured taxonomy file, or the embedded default
// when no path is set
func LoadTaxonomy(path string) (*taxonomy.Taxonomy, error) {
	if path == "" {
		return taxonomy.Default()
	}
	return taxonomy.Load(path)
}

// LoadModel loads the configured model version, or the current one when no
// version is pinned
func LoadModel(cfg config.Config) (*analysis.Model, error) {
	store := analysis.NewArtifactStore(cfg.Storage.ModelDir)
	model, err := store.LoadModel(cfg.Scoring.ModelVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: loading model from %s: %w", analysis.ErrNotTrained, store.Dir(), err)
	}
	return model, nil
}

// BuildAnalyzer creates the analyzer for the configured mode. Modes that use
// a model fail when it cannot be loaded.
func BuildAnalyzer(cfg config.Config, tax *taxonomy.Taxonomy) (*analysis.Analyzer, error) {
	mode, err := cfg.ScoringMode()
	if err != nil {
		return nil, err
	}

	rules, err := analysis.NewRuleScorer(cfg.Rules, tax)
	if err != nil {
		return nil, fmt.Errorf("building rule scorer: %w", err)
	}

	var model *analysis.Model
	if mode != analysis.ModeRules {
		if model, err = LoadModel(cfg); err != nil {
			return nil, err
		}
		if model.TaxonomyVersion() != tax.Version() {
			slog.Warn("Model was trained on a different taxonomy version",
				"model_taxonomy", model.TaxonomyVersion(),
				"taxonomy", tax.Version())
		}
		slog.Info("Model loaded",
			"version", model.Version(),
			"labels", len(model.Labels()),
			"training_size", model.TrainingSize())
	}

	return analysis.NewAnalyzer(analysis.AnalyzerOptions{
		Mode:         mode,
		HybridWeight: cfg.Scoring.HybridWeight,
		Taxonomy:     tax,
		Model:        model,
		Rules:        rules,
		Bands:        cfg.Scoring.Bands,
	})
}
