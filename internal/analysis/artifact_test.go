package analysis

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactStoreRoundTrip(t *testing.T) {
	m := testModel(t)
	store := NewArtifactStore(filepath.Join(t.TempDir(), "models"))

	checksum, err := store.Save(m.Artifact())
	require.NoError(t, err)
	assert.Len(t, checksum, 64)

	loaded, err := store.LoadModel("")
	require.NoError(t, err)
	assert.Equal(t, m.Version(), loaded.Version())
	assert.Equal(t, m.TaxonomyVersion(), loaded.TaxonomyVersion())
	assert.Equal(t, m.TrainingSize(), loaded.TrainingSize())
	assert.True(t, m.FittedAt().Equal(loaded.FittedAt()))
	assert.Equal(t, m.Labels(), loaded.Labels())

	for _, text := range []string{"qubit coherence gate", "satellite payload", "neural vision", ""} {
		want, err := m.Predict(text)
		require.NoError(t, err)
		got, err := loaded.Predict(text)
		require.NoError(t, err)
		for label, p := range want {
			assert.InDelta(t, p, got[label], 1e-12, "%s / %s", text, label)
		}
	}

	byVersion, err := store.LoadModel(m.Version())
	require.NoError(t, err)
	assert.Equal(t, m.Version(), byVersion.Version())

	versions, err := store.Versions()
	require.NoError(t, err)
	assert.Equal(t, []string{m.Version()}, versions)
}

func TestArtifactStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir)
	_, err := store.Save(testModel(t).Artifact())
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), e.Name())
	}
	assert.Len(t, entries, 3)
}

func TestArtifactChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	store := NewArtifactStore(dir)
	a := testModel(t).Artifact()
	_, err := store.Save(a)
	require.NoError(t, err)

	path := filepath.Join(dir, "model-"+a.ModelVersion+".json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, append(data, ' '), 0o644))

	_, err = store.Load(a.ModelVersion)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "checksum")
}

func TestArtifactValidation(t *testing.T) {
	base := testModel(t).Artifact()

	tests := []struct {
		name   string
		mutate func(a *ModelArtifact)
	}{
		{name: "schema version", mutate: func(a *ModelArtifact) { a.SchemaVersion = 99 }},
		{name: "missing model version", mutate: func(a *ModelArtifact) { a.ModelVersion = "" }},
		{name: "idf length", mutate: func(a *ModelArtifact) { a.Vectorizer.IDF = a.Vectorizer.IDF[:1] }},
		{name: "unsorted vocabulary", mutate: func(a *ModelArtifact) {
			v := a.Vectorizer.Vocabulary
			v[0], v[len(v)-1] = v[len(v)-1], v[0]
		}},
		{name: "mask out of range", mutate: func(a *ModelArtifact) {
			a.FeatureMask[len(a.FeatureMask)-1] = len(a.Vectorizer.Vocabulary)
		}},
		{name: "coefficient width", mutate: func(a *ModelArtifact) { a.Coefficients[0] = a.Coefficients[0][:1] }},
		{name: "missing calibration", mutate: func(a *ModelArtifact) { a.Calibration = a.Calibration[:1] }},
		{name: "single label", mutate: func(a *ModelArtifact) {
			a.Labels = a.Labels[:1]
			a.Coefficients = a.Coefficients[:1]
			a.Intercepts = a.Intercepts[:1]
			a.Calibration = a.Calibration[:1]
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := cloneArtifact(base)
			tt.mutate(a)

			_, err := ModelFromArtifact(a)
			assert.ErrorIs(t, err, ErrSchemaMismatch)

			_, err = NewArtifactStore(t.TempDir()).Save(a)
			assert.ErrorIs(t, err, ErrSchemaMismatch)
		})
	}

	_, err := ModelFromArtifact(nil)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestLoadMissingArtifact(t *testing.T) {
	store := NewArtifactStore(t.TempDir())
	_, err := store.Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	versions, err := NewArtifactStore(filepath.Join(t.TempDir(), "absent")).Versions()
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func cloneArtifact(a *ModelArtifact) *ModelArtifact {
	out := *a
	out.Vectorizer.Vocabulary = append([]string(nil), a.Vectorizer.Vocabulary...)
	out.Vectorizer.IDF = append([]float64(nil), a.Vectorizer.IDF...)
	out.FeatureMask = append([]int(nil), a.FeatureMask...)
	out.Labels = append([]string(nil), a.Labels...)
	out.Intercepts = append([]float64(nil), a.Intercepts...)
	out.Calibration = append([]PlattParams(nil), a.Calibration...)
	out.Coefficients = make([][]float64, len(a.Coefficients))
	for i, row := range a.Coefficients {
		out.Coefficients[i] = append([]float64(nil), row...)
	}
	return &out
}
