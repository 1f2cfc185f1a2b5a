package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const awardsJSONL = `{"id":"Q-1","agency":"NSF","title":"Quantum Computing Research for Cryptography","abstract":"Quantum error correction for superconducting qubit arrays.","keywords":"qubit; quantum algorithm","award_date":"2024-05-01","obligated_amount":"250000"}
{"id":"S-1","agency":"Department of Defense","title":"Cubesat launch vehicle integration","abstract":"Spacecraft payload integration for on-orbit demonstration.","award_date":"2024-07-01","obligated_amount":500000}
{"title":"Record without an identifier"}
`

type workspace struct {
	dir    string
	config string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	config := filepath.Join(dir, "cet.yaml")
	yaml := "storage:\n" +
		"  database_path: " + filepath.Join(dir, "cet.db") + "\n" +
		"  model_dir: " + filepath.Join(dir, "models") + "\n" +
		"log:\n  level: error\n"
	require.NoError(t, os.WriteFile(config, []byte(yaml), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "awards.jsonl"), []byte(awardsJSONL), 0o644))
	return workspace{dir: dir, config: config}
}

func (w workspace) path(name string) string {
	return filepath.Join(w.dir, name)
}

func (w workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd(&out, &errOut)
	root.SetArgs(append([]string{"--config", w.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (w workspace) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := w.run(t, args...)
	require.NoError(t, err, "cetctl %s", strings.Join(args, " "))
	return out
}

func decodeOutput(t *testing.T, out string) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func TestIngestScoreAndSummarize(t *testing.T) {
	w := newWorkspace(t)

	report := decodeOutput(t, w.mustRun(t, "ingest", w.path("awards.jsonl"), "--parquet", w.path("awards.parquet")))
	assert.Equal(t, float64(3), report["read"])
	assert.Equal(t, float64(2), report["accepted"])
	assert.Len(t, report["rejected"], 1)
	assert.FileExists(t, w.path("awards.parquet"))

	scored := decodeOutput(t, w.mustRun(t, "score", "--batch-size", "1", "--parquet", w.path("assessments.parquet")))
	assert.Equal(t, float64(2), scored["scored"])
	assert.Equal(t, float64(0), scored["failed"])
	assert.Equal(t, true, scored["persisted"])
	assert.Equal(t, "rules", scored["mode"])
	assert.FileExists(t, w.path("assessments.parquet"))

	tests := []struct {
		name       string
		args       []string
		wantAwards float64
	}{
		{name: "all", wantAwards: 2},
		{name: "normalized agency", args: []string{"--agency", "DOD"}, wantAwards: 1},
		{name: "category", args: []string{"--category", "quantum_computing"}, wantAwards: 1},
		{name: "date window", args: []string{"--from", "2024-06-01"}, wantAwards: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			summary := decodeOutput(t, w.mustRun(t, append([]string{"summary"}, tt.args...)...))
			assert.Equal(t, tt.wantAwards, summary["awards"])
		})
	}
}

func TestScoreDryRun(t *testing.T) {
	w := newWorkspace(t)

	scored := decodeOutput(t, w.mustRun(t, "score", w.path("awards.jsonl"), "--dry-run"))
	assert.Equal(t, float64(2), scored["scored"])
	assert.Equal(t, false, scored["persisted"])

	summary := decodeOutput(t, w.mustRun(t, "summary"))
	assert.Equal(t, float64(0), summary["awards"])
}

func TestScoreParquetTable(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "ingest", w.path("awards.jsonl"), "--parquet", w.path("awards.parquet"), "--db", w.path("staging.db"))

	scored := decodeOutput(t, w.mustRun(t, "score", w.path("awards.parquet")))
	assert.Equal(t, float64(2), scored["scored"])

	summary := decodeOutput(t, w.mustRun(t, "summary", "--agency", "DOD"))
	assert.Equal(t, float64(1), summary["awards"])
}

func TestExport(t *testing.T) {
	w := newWorkspace(t)
	w.mustRun(t, "score", w.path("awards.jsonl"))

	fields := "--fields=award_id,primary_category,abstract"

	out := w.mustRun(t, "export", fields)
	rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"award_id", "primary_category"}, rows[0])
	assert.Equal(t, []string{"Q-1", "quantum_computing"}, rows[1])

	out = w.mustRun(t, "export", fields, "--full")
	rows, err = csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"award_id", "primary_category", "abstract"}, rows[0])

	w.mustRun(t, "export", "--format", "parquet", "--out", w.path("out/export.parquet"))
	data, err := os.ReadFile(w.path("out/export.parquet"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("PAR1")))
}

func TestCommandErrors(t *testing.T) {
	w := newWorkspace(t)
	require.NoError(t, os.WriteFile(w.path("train.jsonl"),
		[]byte(`{"text":"qubit error correction","labels":["quantum_computing"]}`+"\n"), 0o644))

	tests := []struct {
		name    string
		args    []string
		wantErr error
	}{
		{name: "parquet to stdout", args: []string{"export", "--format", "parquet"}, wantErr: ErrCLI},
		{name: "unknown format", args: []string{"export", "--format", "xlsx"}, wantErr: ErrCLI},
		{name: "bad band", args: []string{"summary", "--band", "extreme"}, wantErr: ErrCLI},
		{name: "bad date", args: []string{"summary", "--to", "July"}, wantErr: ErrCLI},
		{name: "zero batch size", args: []string{"score", "--batch-size", "0"}, wantErr: ErrCLI},
		{name: "too few examples", args: []string{"train", w.path("train.jsonl")}, wantErr: analysis.ErrInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.run(t, tt.args...)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTaxonomy(t *testing.T) {
	w := newWorkspace(t)

	out := w.mustRun(t, "taxonomy")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Greater(t, len(lines), 2)
	assert.True(t, strings.HasPrefix(lines[0], "taxonomy "))
	assert.Contains(t, lines[1], "ID")
	assert.Contains(t, out, "quantum_computing")
}
