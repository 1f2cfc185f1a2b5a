package analysis

import (
	"testing"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/taxonomy"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleScorerScenarios(t *testing.T) {
	r := testRuleScorer(t)

	tests := []struct {
		name     string
		input    RuleInput
		validate func(t *testing.T, scores map[string]float64)
	}{
		{
			name: "core keywords with title bonus",
			input: RuleInput{
				Title: "Quantum Computing Research for Cryptography",
				Text:  "Quantum Computing Research for Cryptography. We design a qubit array and a quantum algorithm for factoring.",
			},
			validate: func(t *testing.T, scores map[string]float64) {
				assert.GreaterOrEqual(t, scores["quantum_computing"], 40.0)
				for id, v := range scores {
					if id != "quantum_computing" {
						assert.Less(t, v, scores["quantum_computing"], id)
					}
				}
				assert.NotContains(t, scores, taxonomy.NoneCategoryID)
			},
		},
		{
			name:  "negative keyword suppresses false positive",
			input: RuleInput{Text: "A textbook review of quantum mechanics for undergraduates."},
			validate: func(t *testing.T, scores map[string]float64) {
				assert.LessOrEqual(t, scores["quantum_computing"], 0.0)
				assert.Equal(t, 25.0, scores[taxonomy.NoneCategoryID])
			},
		},
		{
			name:  "agency prior without keywords",
			input: RuleInput{Text: "General research on advanced manufacturing.", Agency: "NASA"},
			validate: func(t *testing.T, scores map[string]float64) {
				assert.Equal(t, map[string]float64{"space_technology": 25}, scores)
			},
		},
		{
			name:  "empty input falls back to none",
			input: RuleInput{},
			validate: func(t *testing.T, scores map[string]float64) {
				assert.Equal(t, map[string]float64{taxonomy.NoneCategoryID: 25}, scores)
			},
		},
		{
			name:  "prior capped and branch added",
			input: RuleInput{Text: "nothing relevant", Agency: "dod", Branch: " air   force "},
			validate: func(t *testing.T, scores map[string]float64) {
				assert.Equal(t, 30.0, scores["artificial_intelligence"])
			},
		},
		{
			name:  "word boundaries respected",
			input: RuleInput{Text: "The qubits and satellites were described as genomewide."},
			validate: func(t *testing.T, scores map[string]float64) {
				assert.Equal(t, map[string]float64{taxonomy.NoneCategoryID: 25}, scores)
			},
		},
		{
			name:  "related keywords only",
			input: RuleInput{Text: "Orbit payload integration and propulsion testing."},
			validate: func(t *testing.T, scores map[string]float64) {
				assert.Equal(t, 15.0, scores["space_technology"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, r.ScoreText(tt.input))
		})
	}
}

func TestRuleScorerNormalize(t *testing.T) {
	r := testRuleScorer(t)

	// 2 core saturated + title bonus + 3 related saturated
	assert.Equal(t, 55.0, r.MaxScore("quantum_computing"))
	// 2 core + title bonus + 3 related
	assert.Equal(t, 55.0, r.MaxScore("space_technology"))
	// category without tiers uses the default denominator
	assert.Equal(t, 55.0, r.MaxScore("unknown"))

	scenario3 := r.Normalize(r.ScoreText(RuleInput{Agency: "NASA", Text: "general research"}))
	assert.InDelta(t, 45.4545, scenario3["space_technology"], 1e-4)
	assert.Equal(t, BandMedium, BandFor(scenario3["space_technology"], DefaultBandConfig()))

	norm := r.Normalize(map[string]float64{"quantum_computing": 110, "artificial_intelligence": -10, taxonomy.NoneCategoryID: 25})
	assert.Equal(t, 100.0, norm["quantum_computing"])
	assert.Equal(t, 0.0, norm["artificial_intelligence"])
	assert.Equal(t, 0.0, norm["biotechnologies"])
	assert.Equal(t, 25.0, norm[taxonomy.NoneCategoryID])
	assert.NotContains(t, r.Normalize(map[string]float64{}), taxonomy.NoneCategoryID)
}

func TestPriorFunctionsArePure(t *testing.T) {
	scores := map[string]float64{"a": 10, "b": 5}
	before := copyScores(scores)

	out := ApplyPriors(scores, map[string]float64{"a": 100, "c": -3, "b": -5}, 25)
	assert.Equal(t, map[string]float64{"a": 35, "c": -3}, out)
	if diff := cmp.Diff(before, scores); diff != "" {
		t.Errorf("ApplyPriors mutated its input (-want +got):\n%s", diff)
	}

	fallback := WithNoneFallback(map[string]float64{"a": -10}, 25)
	assert.Equal(t, map[string]float64{"a": -10, taxonomy.NoneCategoryID: 25}, fallback)

	positive := map[string]float64{"a": 1}
	assert.Equal(t, positive, WithNoneFallback(positive, 25))
}

func TestNewRuleScorerErrors(t *testing.T) {
	tax := testTaxonomy(t)

	tests := []struct {
		name   string
		mutate func(cfg *RulesConfig)
	}{
		{name: "unknown tier category", mutate: func(cfg *RulesConfig) {
			cfg.Categories["hypersonics"] = KeywordTiers{Core: []string{"scramjet"}}
		}},
		{name: "keywords on none", mutate: func(cfg *RulesConfig) {
			cfg.Categories[taxonomy.NoneCategoryID] = KeywordTiers{Core: []string{"misc"}}
		}},
		{name: "unknown prior category", mutate: func(cfg *RulesConfig) {
			cfg.AgencyPriors["DOE"] = map[string]float64{"fusion": 10}
		}},
		{name: "prior on none", mutate: func(cfg *RulesConfig) {
			cfg.BranchPriors["Navy"] = map[string]float64{taxonomy.NoneCategoryID: 10}
		}},
		{name: "blank prior key", mutate: func(cfg *RulesConfig) {
			cfg.AgencyPriors["  "] = map[string]float64{"space_technology": 10}
		}},
		{name: "negative weight", mutate: func(cfg *RulesConfig) { cfg.CoreWeight = -1 }},
		{name: "none score out of range", mutate: func(cfg *RulesConfig) { cfg.NoneScore = 120 }},
		{name: "zero none score", mutate: func(cfg *RulesConfig) { cfg.NoneScore = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testRulesConfig()
			tt.mutate(&cfg)
			_, err := NewRuleScorer(cfg, tax)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := NewRuleScorer(testRulesConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRuleScorerIgnoresLaterConfigMutation(t *testing.T) {
	cfg := testRulesConfig()
	r, err := NewRuleScorer(cfg, testTaxonomy(t))
	require.NoError(t, err)

	cfg.Categories["quantum_computing"] = KeywordTiers{}
	cfg.AgencyPriors["NASA"]["space_technology"] = 0

	assert.Equal(t, 15.0, r.KeywordScores("a qubit array", "")["quantum_computing"])
	assert.Equal(t, map[string]float64{"space_technology": 25}, r.AgencyPriors("nasa"))
	assert.Equal(t, []string{"quantum computing", "qubit", "quantum algorithm", "superconducting", "entanglement", "cryogenic"}, r.Terms("quantum_computing"))
}

func TestContainsAsWord(t *testing.T) {
	tests := []struct {
		text, word string
		expected   bool
	}{
		{"quantum computing research", "quantum computing", true},
		{"quantum computingx", "quantum computing", false},
		{"aqubit", "qubit", false},
		{"qubit-based", "qubit", true},
		{"the qubits and a qubit", "qubit", true},
		{"", "qubit", false},
		{"qubit", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, containsAsWord(tt.text, tt.word), "%q in %q", tt.word, tt.text)
	}
}
