package analysis

import (
	"testing"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"github.com/stretchr/testify/assert"
)

func TestBuildFeatureText(t *testing.T) {
	tests := []struct {
		name       string
		award      types.Award
		enrichment *types.Enrichment
		expected   string
	}{
		{
			name:     "empty award",
			award:    types.Award{ID: "a1"},
			expected: "",
		},
		{
			name: "fixed field order",
			award: types.Award{
				Title:    "Qubit Control",
				Abstract: "Cryogenic  electronics\nfor processors.",
				Keywords: []string{"quantum", "control"},
			},
			expected: "Qubit Control Cryogenic electronics for processors. quantum control",
		},
		{
			name:  "enrichment appended last",
			award: types.Award{Title: "Title"},
			enrichment: &types.Enrichment{
				Description: "Company builds satellites.",
				Keywords:    []string{"orbit"},
			},
			expected: "Title Company builds satellites. orbit",
		},
		{
			name:     "nfkc normalization",
			award:    types.Award{Title: "ﬁber optics"},
			expected: "fiber optics",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, BuildFeatureText(tt.award, tt.enrichment))
		})
	}
}

func TestFieldTexts(t *testing.T) {
	award := types.Award{Title: "Title", Keywords: []string{"a", "b"}}
	fields := FieldTexts(award, &types.Enrichment{Description: "desc"})

	assert.Equal(t, []FieldText{
		{Field: FieldTitle, Text: "Title"},
		{Field: FieldKeywords, Text: "a b"},
		{Field: FieldEnrichment, Text: "desc"},
	}, fields)
}

func TestPreprocessorTerms(t *testing.T) {
	p := NewPreprocessor(1, 2, StopWords([]string{"custom"}))

	assert.Equal(t, []string{"qubit", "fabrication"}, p.Tokens("The SBIR Phase II qubit custom fabrication!"))
	assert.Equal(t,
		[]string{"qubit", "fabrication", "qubit fabrication"},
		p.Terms("The qubit fabrication"),
	)
	assert.Empty(t, p.Terms("the and of"))
	assert.Empty(t, p.Terms(""))
}

func TestStopWordsIncludesDomainBoilerplate(t *testing.T) {
	set := StopWords(nil)
	for _, w := range []string{"phase", "sbir", "proposal", "the"} {
		_, ok := set[w]
		assert.True(t, ok, w)
	}
	_, ok := set["quantum"]
	assert.False(t, ok)
}
