package analysis

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"gonum.org/v1/gonum/mat"
)

// ArtifactSchemaVersion is bumped whenever the artifact layout changes
const ArtifactSchemaVersion = 1

const currentArtifact = "current.json"

// VectorizerArtifact is the persisted state of a fitted vectorizer
type VectorizerArtifact struct {
	Config     VectorizerConfig `json:"config"`
	Vocabulary []string         `json:"vocabulary"`
	IDF        []float64        `json:"idf"`
	StopWords  []string         `json:"stop_words"`
	CorpusSize int              `json:"corpus_size"`
}

// ModelArtifact is the immutable persisted form of a Model
type ModelArtifact struct {
	SchemaVersion   int                `json:"schema_version"`
	ModelVersion    string             `json:"model_version"`
	FittedAt        time.Time          `json:"fitted_at"`
	TaxonomyVersion string             `json:"taxonomy_version"`
	TrainingSize    int                `json:"training_size"`
	Vectorizer      VectorizerArtifact `json:"vectorizer"`
	FeatureMask     []int              `json:"feature_mask"`
	Labels          []string           `json:"labels"`
	Coefficients    [][]float64        `json:"coefficients"`
	Intercepts      []float64          `json:"intercepts"`
	Calibration     []PlattParams      `json:"calibration"`
}

// Artifact snapshots the model into its persisted form
func (m *Model) Artifact() *ModelArtifact {
	c := m.classifier
	coef := make([][]float64, len(c.labels))
	for i := range coef {
		coef[i] = append([]float64(nil), c.model.weights.RawRowView(i)...)
	}
	return &ModelArtifact{
		SchemaVersion:   ArtifactSchemaVersion,
		ModelVersion:    m.version,
		FittedAt:        m.fittedAt,
		TaxonomyVersion: m.taxonomyVersion,
		TrainingSize:    m.trainingSize,
		Vectorizer: VectorizerArtifact{
			Config:     m.vectorizer.cfg,
			Vocabulary: append([]string(nil), m.vectorizer.terms...),
			IDF:        append([]float64(nil), m.vectorizer.idf...),
			StopWords:  append([]string(nil), m.vectorizer.stopWords...),
			CorpusSize: m.vectorizer.corpusSize,
		},
		FeatureMask:  m.selector.Selected(),
		Labels:       c.Labels(),
		Coefficients: coef,
		Intercepts:   append([]float64(nil), c.model.bias...),
		Calibration:  append([]PlattParams(nil), c.calibration...),
	}
}

// ModelFromArtifact validates an artifact and rebuilds the model it describes
func ModelFromArtifact(a *ModelArtifact) (*Model, error) {
	if err := validateArtifact(a); err != nil {
		return nil, err
	}

	va := a.Vectorizer
	vectorizer := newVectorizer(va.Config, append([]string(nil), va.Vocabulary...), append([]float64(nil), va.IDF...), append([]string(nil), va.StopWords...), va.CorpusSize)
	selector := newFeatureSelector(len(va.Vocabulary), append([]int(nil), a.FeatureMask...))

	dim := len(a.FeatureMask)
	weights := mat.NewDense(len(a.Labels), dim, nil)
	for i, row := range a.Coefficients {
		weights.SetRow(i, row)
	}

	return &Model{
		vectorizer: vectorizer,
		selector:   selector,
		classifier: &Classifier{
			labels:      append([]string(nil), a.Labels...),
			dim:         dim,
			model:       &linearModel{weights: weights, bias: append([]float64(nil), a.Intercepts...)},
			calibration: append([]PlattParams(nil), a.Calibration...),
			trained:     true,
		},
		version:         a.ModelVersion,
		fittedAt:        a.FittedAt,
		taxonomyVersion: a.TaxonomyVersion,
		trainingSize:    a.TrainingSize,
	}, nil
}

func validateArtifact(a *ModelArtifact) error {
	if a == nil {
		return fmt.Errorf("%w: nil artifact", ErrSchemaMismatch)
	}
	if a.SchemaVersion != ArtifactSchemaVersion {
		return fmt.Errorf("%w: artifact schema version %d, expected %d", ErrSchemaMismatch, a.SchemaVersion, ArtifactSchemaVersion)
	}
	if a.ModelVersion == "" {
		return fmt.Errorf("%w: model_version must not be empty", ErrSchemaMismatch)
	}
	if err := a.Vectorizer.Config.Validate(); err != nil {
		return fmt.Errorf("%w: vectorizer config: %w", ErrSchemaMismatch, err)
	}

	vocab := a.Vectorizer.Vocabulary
	if len(vocab) == 0 || len(vocab) != len(a.Vectorizer.IDF) {
		return fmt.Errorf("%w: vocabulary has %d terms and %d idf weights", ErrSchemaMismatch, len(vocab), len(a.Vectorizer.IDF))
	}
	if !sort.StringsAreSorted(vocab) {
		return fmt.Errorf("%w: vocabulary is not sorted", ErrSchemaMismatch)
	}

	if len(a.FeatureMask) == 0 {
		return fmt.Errorf("%w: feature mask is empty", ErrSchemaMismatch)
	}
	prev := -1
	for _, j := range a.FeatureMask {
		if j <= prev || j >= len(vocab) {
			return fmt.Errorf("%w: feature mask index %d out of range", ErrSchemaMismatch, j)
		}
		prev = j
	}

	k := len(a.Labels)
	if k < 2 {
		return fmt.Errorf("%w: artifact has %d labels", ErrSchemaMismatch, k)
	}
	if len(a.Coefficients) != k || len(a.Intercepts) != k || len(a.Calibration) != k {
		return fmt.Errorf("%w: %d labels, %d coefficient rows, %d intercepts, %d calibrations",
			ErrSchemaMismatch, k, len(a.Coefficients), len(a.Intercepts), len(a.Calibration))
	}
	for i, row := range a.Coefficients {
		if len(row) != len(a.FeatureMask) {
			return fmt.Errorf("%w: coefficient row %d has %d values, feature mask has %d", ErrSchemaMismatch, i, len(row), len(a.FeatureMask))
		}
	}
	return nil
}

// ArtifactStore persists model artifacts in a directory. Each save writes a
// versioned file and then replaces current.json; both writes are
// write-then-rename so readers never observe a partial file.
type ArtifactStore struct {
	dataDir string
}

// NewArtifactStore creates a new artifact store
func NewArtifactStore(dataDir string) *ArtifactStore {
	return &ArtifactStore{dataDir: dataDir}
}

// Dir returns the store directory
func (s *ArtifactStore) Dir() string { return s.dataDir }

// Save writes the artifact and marks it current. It returns the SHA-256 of the written bytes.
func (s *ArtifactStore) Save(a *ModelArtifact) (string, error) {
	if err := validateArtifact(a); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to encode model artifact: %w", err)
	}
	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	versioned := s.path(a.ModelVersion)
	if err := writeFileAtomic(versioned, data); err != nil {
		return "", err
	}
	if err := writeFileAtomic(versioned+".sha256", []byte(checksum+"\n")); err != nil {
		return "", err
	}
	if err := writeFileAtomic(filepath.Join(s.dataDir, currentArtifact), data); err != nil {
		return "", err
	}
	return checksum, nil
}

// Load reads an artifact by version; an empty version loads the current artifact
func (s *ArtifactStore) Load(version string) (*ModelArtifact, error) {
	path := filepath.Join(s.dataDir, currentArtifact)
	if version != "" {
		path = s.path(version)
	}
	return ReadArtifact(path)
}

// LoadModel loads and rebuilds a model
func (s *ArtifactStore) LoadModel(version string) (*Model, error) {
	a, err := s.Load(version)
	if err != nil {
		return nil, err
	}
	return ModelFromArtifact(a)
}

// Versions lists stored model versions in lexical order
func (s *ArtifactStore) Versions() ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "model-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		out = append(out, strings.TrimSuffix(strings.TrimPrefix(name, "model-"), ".json"))
	}
	sort.Strings(out)
	return out, nil
}

func (s *ArtifactStore) path(version string) string {
	return filepath.Join(s.dataDir, fmt.Sprintf("model-%s.json", version))
}

// ReadArtifact decodes and validates an artifact file. When a .sha256 sidecar
// exists the content must match it.
func ReadArtifact(path string) (*ModelArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}

	if want, err := os.ReadFile(path + ".sha256"); err == nil {
		sum := sha256.Sum256(data)
		if got := hex.EncodeToString(sum[:]); got != string(bytes.TrimSpace(want)) {
			return nil, fmt.Errorf("%w: artifact checksum mismatch: got %s want %s", ErrSchemaMismatch, got, bytes.TrimSpace(want))
		}
	}

	var a ModelArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	if err := validateArtifact(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

// writeFileAtomic writes to a temp file in the target directory, syncs it and renames it into place
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
