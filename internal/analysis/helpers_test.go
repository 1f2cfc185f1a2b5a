package analysis

import (
	"fmt"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/taxonomy"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func testTaxonomy(t testing.TB) *taxonomy.Taxonomy {
	t.Helper()
	tax, err := taxonomy.New("test-1", []taxonomy.Category{
		{ID: "quantum_computing", Name: "Quantum Computing", Keywords: []string{"quantum processor"}},
		{ID: "artificial_intelligence", Name: "Artificial Intelligence"},
		{ID: "space_technology", Name: "Space Technologies", Keywords: []string{"cubesat"}},
		{ID: "biotechnologies", Name: "Biotechnologies"},
		{ID: taxonomy.NoneCategoryID, Name: "Uncategorized"},
	})
	require.NoError(t, err)
	return tax
}

func testRulesConfig() RulesConfig {
	cfg := DefaultRulesConfig()
	cfg.Categories = map[string]KeywordTiers{
		"quantum_computing": {
			Core:     []string{"quantum computing", "qubit", "quantum algorithm"},
			Related:  []string{"superconducting", "entanglement", "cryogenic"},
			Negative: []string{"quantum mechanics", "quantum chemistry"},
		},
		"artificial_intelligence": {
			Core:    []string{"machine learning", "neural network", "deep learning"},
			Related: []string{"classifier", "training data", "computer vision"},
		},
		"space_technology": {
			Core:    []string{"spacecraft", "satellite", "launch vehicle"},
			Related: []string{"orbit", "propulsion", "payload"},
		},
		"biotechnologies": {
			Core:    []string{"synthetic biology", "genome"},
			Related: []string{"protein", "enzyme", "microbial"},
		},
	}
	cfg.AgencyPriors = map[string]map[string]float64{
		"NASA": {"space_technology": 25},
		"DOD":  {"artificial_intelligence": 40},
	}
	cfg.BranchPriors = map[string]map[string]float64{
		"Air Force": {"artificial_intelligence": 5},
	}
	return cfg
}

func testRuleScorer(t testing.TB) *RuleScorer {
	t.Helper()
	r, err := NewRuleScorer(testRulesConfig(), testTaxonomy(t))
	require.NoError(t, err)
	return r
}

var classVocab = map[string][]string{
	"quantum_computing":       {"qubit", "coherence", "superconducting", "processor", "entanglement", "cryogenic", "gate", "fidelity"},
	"artificial_intelligence": {"neural", "network", "inference", "dataset", "transformer", "vision", "learning", "embedding"},
	"space_technology":        {"satellite", "orbit", "propulsion", "spacecraft", "payload", "thruster", "telemetry", "launch"},
}

// trainingCorpus builds a separable corpus with perClass documents per class.
func trainingCorpus(perClass int) []TrainingExample {
	var out []TrainingExample
	for _, label := range []string{"quantum_computing", "artificial_intelligence", "space_technology"} {
		words := classVocab[label]
		for i := 0; i < perClass; i++ {
			doc := ""
			for j := 0; j < 5; j++ {
				doc += words[(i+j)%len(words)] + " "
			}
			doc += fmt.Sprintf("study %d", i)
			out = append(out, TrainingExample{Text: doc, Labels: []string{label}})
		}
	}
	return out
}

func testTrainingConfig() TrainingConfig {
	cfg := DefaultTrainingConfig()
	cfg.Vectorizer.MinDF = 1
	cfg.Vectorizer.MaxDF = 1.0
	cfg.Vectorizer.NGramMax = 2
	cfg.Selection.K = 200
	cfg.Classifier.MaxIter = 300
	return cfg
}

func testModel(t testing.TB) *Model {
	t.Helper()
	m, err := Train(trainingCorpus(6), testTrainingConfig(), "test-1")
	require.NoError(t, err)
	return m
}

func argmax(m map[string]float64) string {
	best := ""
	for _, k := range sortedKeys(m) {
		if best == "" || m[k] > m[best] {
			best = k
		}
	}
	return best
}
