package analysis

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func smallVectorizerConfig() VectorizerConfig {
	cfg := DefaultVectorizerConfig()
	cfg.MinDF = 1
	cfg.MaxDF = 1.0
	return cfg
}

func TestFitVectorizerInsufficientData(t *testing.T) {
	tests := []struct {
		name   string
		corpus []string
	}{
		{name: "empty corpus", corpus: nil},
		{name: "single document", corpus: []string{"qubit control electronics"}},
		{name: "only stop words", corpus: []string{"the and", "of the sbir phase"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FitVectorizer(tt.corpus, smallVectorizerConfig())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInsufficientData)
		})
	}
}

func TestFitVectorizerInvalidConfig(t *testing.T) {
	cfg := smallVectorizerConfig()
	cfg.NGramMax = 0
	_, err := FitVectorizer([]string{"a b", "c d"}, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = smallVectorizerConfig()
	cfg.MaxDF = 1.5
	_, err = FitVectorizer([]string{"a b", "c d"}, cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestVectorizerDocumentFrequencyFilters(t *testing.T) {
	corpus := []string{
		"qubit laser common",
		"qubit orbit common",
		"neural orbit common",
	}

	cfg := smallVectorizerConfig()
	cfg.NGramMax = 1
	cfg.MinDF = 2
	cfg.MaxDF = 0.9
	v, err := FitVectorizer(corpus, cfg)
	require.NoError(t, err)

	// "common" appears in every document and is above max_df; singletons fall below min_df
	assert.Equal(t, []string{"orbit", "qubit"}, v.terms)
	assert.Equal(t, 2, v.Dim())
	assert.Equal(t, "orbit", v.Term(0))
}

func TestVectorizerMaxFeatures(t *testing.T) {
	corpus := []string{
		"alpha alpha alpha beta gamma",
		"alpha beta delta",
	}
	cfg := smallVectorizerConfig()
	cfg.NGramMax = 1
	cfg.MaxFeatures = 2
	v, err := FitVectorizer(corpus, cfg)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta"}, v.terms)
}

func TestVectorizerTransform(t *testing.T) {
	corpus := []string{
		"superconducting qubit processor",
		"satellite orbit propulsion",
		"qubit satellite link",
	}
	v, err := FitVectorizer(corpus, smallVectorizerConfig())
	require.NoError(t, err)

	vec := v.Transform("superconducting qubit processor design")
	assert.Equal(t, v.Dim(), vec.Dim)
	assert.NotEmpty(t, vec.Indices)
	assert.Len(t, vec.Values, len(vec.Indices))

	norm := 0.0
	for _, x := range vec.Values {
		norm += x * x
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-12)

	for i := 1; i < len(vec.Indices); i++ {
		assert.Less(t, vec.Indices[i-1], vec.Indices[i])
	}

	empty := v.Transform("")
	assert.Equal(t, v.Dim(), empty.Dim)
	assert.Empty(t, empty.Indices)
}

func TestVectorizerTransformIsIdempotent(t *testing.T) {
	corpus := []string{
		"superconducting qubit processor",
		"satellite orbit propulsion",
		"neural network inference",
	}
	v, err := FitVectorizer(corpus, smallVectorizerConfig())
	require.NoError(t, err)

	words := []string{"qubit", "orbit", "neural", "network", "processor", "the", "satellite", "unknown"}
	rapid.Check(t, func(t *rapid.T) {
		doc := rapid.SliceOfN(rapid.SampledFrom(words), 0, 30).Draw(t, "doc")
		text := joinWords(doc)
		a := v.Transform(text)
		b := v.Transform(text)
		if !assert.ObjectsAreEqual(a, b) {
			t.Fatalf("transform not deterministic: %v vs %v", a, b)
		}
	})
}

func TestVectorizerFitIsDeterministic(t *testing.T) {
	corpus := []string{"b a c", "c d e", "a e f"}
	v1, err := FitVectorizer(corpus, smallVectorizerConfig())
	require.NoError(t, err)
	v2, err := FitVectorizer(corpus, smallVectorizerConfig())
	require.NoError(t, err)

	assert.Equal(t, v1.terms, v2.terms)
	assert.Equal(t, v1.idf, v2.idf)
}

func joinWords(words []string) string {
	out := ""
	for i, w := range words {
		if i > 0 {
			out += " "
		}
		out += w
	}
	return out
}
