package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/database"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/storage"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/summary"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"github.com/apache/arrow/go/v18/arrow"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scoredAt = time.Date(2024, 10, 1, 12, 30, 0, 0, time.UTC)

func fixtures() ([]types.Award, []analysis.Assessment) {
	awards := []types.Award{
		{
			ID: "B-2", Agency: "NASA", Title: "Scramjet inlet", Abstract: "Hypersonic inlet design.",
			Keywords: []string{"scramjet", "inlet"}, AwardDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			ObligatedAmount: 750000,
		},
		{ID: "A-1", Agency: "DOD", Title: "Qubit control", Abstract: "Superconducting qubits.", ObligatedAmount: 150000.5},
		{ID: "C-3", Agency: "DOE", Title: "Unscored"},
	}
	latest := []analysis.Assessment{
		{
			AwardID: "B-2", PrimaryCategory: "hypersonics", PrimaryScore: 82.5, Band: analysis.BandHigh,
			Supporting: []analysis.SupportingCategory{{CategoryID: "advanced_materials", Score: 31}},
			Method:     analysis.ModeRules, TaxonomyVersion: "NSTC-2024",
			Evidence: []analysis.EvidenceStatement{{Source: analysis.FieldAbstract, Excerpt: "Hypersonic inlet design."}},
			ScoredAt: scoredAt,
		},
		{
			AwardID: "A-1", PrimaryCategory: "quantum_computing", PrimaryScore: 45, Band: analysis.BandMedium,
			Method: analysis.ModeHybrid, TaxonomyVersion: "NSTC-2024", ModelVersion: "m1", ScoredAt: scoredAt,
		},
		{AwardID: "Z-9", PrimaryCategory: "none", Method: analysis.ModeRules, ScoredAt: scoredAt},
	}
	return awards, latest
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{input: "", want: FormatCSV},
		{input: "CSV", want: FormatCSV},
		{input: " parquet ", want: FormatParquet},
		{input: "xlsx", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, ".parquet", FormatParquet.Extension())
	assert.Equal(t, ".csv", FormatCSV.Extension())
}

func TestResolveFields(t *testing.T) {
	defaults := []string{"award_id", "title", "abstract"}

	tests := []struct {
		name      string
		requested []string
		full      bool
		fields    []string
		withheld  []string
		wantErr   error
	}{
		{name: "defaults withhold abstract", fields: []string{"award_id", "title"}, withheld: []string{"abstract"}},
		{name: "defaults with full role", full: true, fields: []string{"award_id", "title", "abstract"}},
		{name: "requested order and case", requested: []string{"Band", "award_id", "band", " "}, fields: []string{"band", "award_id"}},
		{name: "evidence withheld", requested: []string{"award_id", "evidence"}, fields: []string{"award_id"}, withheld: []string{"evidence"}},
		{name: "unknown field", requested: []string{"award_id", "ssn"}, wantErr: ErrUnknownField},
		{name: "only restricted", requested: []string{"abstract"}, wantErr: ErrNoFields},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, withheld, err := ResolveFields(tt.requested, defaults, tt.full)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.fields, fields)
			assert.Equal(t, tt.withheld, withheld)
		})
	}

	all, _, err := ResolveFields(nil, nil, true)
	require.NoError(t, err)
	assert.Equal(t, Fields(), all)
	assert.True(t, Restricted("abstract"))
	assert.False(t, Restricted("title"))
}

func TestJoin(t *testing.T) {
	awards, latest := fixtures()
	newer := latest[1]
	newer.PrimaryScore = 50
	newer.ScoredAt = scoredAt.Add(time.Hour)
	latest = append(latest, newer)

	records := Join(awards, latest)
	require.Len(t, records, 2)
	assert.Equal(t, "A-1", records[0].Award.ID)
	assert.Equal(t, 50.0, records[0].Assessment.PrimaryScore)
	assert.Equal(t, "B-2", records[1].Award.ID)
}

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriteCSV(t *testing.T) {
	awards, latest := fixtures()
	fields := []string{"award_id", "keywords", "award_date", "obligated_amount", "band", "supporting_categories", "scored_at", "evidence"}

	var buf bytes.Buffer
	result, err := Write(context.Background(), &buf, Join(awards, latest), fields, Options{Format: FormatCSV})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rows)
	assert.Equal(t, 2, result.Matched)
	assert.False(t, result.Truncated)

	want := [][]string{
		fields,
		{"A-1", "", "", "150000.5", "Medium", "", "2024-10-01T12:30:00Z", ""},
		{"B-2", "scramjet; inlet", "2024-03-01", "750000", "High", "advanced_materials", "2024-10-01T12:30:00Z", "Hypersonic inlet design."},
	}
	if diff := cmp.Diff(want, readCSV(t, buf.Bytes())); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteFilterAndTruncate(t *testing.T) {
	awards, latest := fixtures()
	records := Join(awards, latest)

	var buf bytes.Buffer
	result, err := Write(context.Background(), &buf, records, []string{"award_id"}, Options{
		Filter: summary.Filter{Agencies: []string{"nasa"}},
	})
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, result.Format)
	assert.Equal(t, [][]string{{"award_id"}, {"B-2"}}, readCSV(t, buf.Bytes()))

	buf.Reset()
	result, err = Write(context.Background(), &buf, records, []string{"award_id"}, Options{Format: FormatCSV, MaxRows: 1})
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, 1, result.Rows)
	assert.Equal(t, 2, result.Matched)
}

func TestWriteParquet(t *testing.T) {
	awards, latest := fixtures()
	fields := []string{"award_id", "branch", "award_date", "primary_score", "supporting_categories", "model_version", "scored_at"}

	path := filepath.Join(t.TempDir(), "export.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)

	result, err := Write(context.Background(), f, Join(awards, latest), fields, Options{Format: FormatParquet})
	require.NoError(t, err)
	require.NoError(t, f.Close(), "parquet writer must leave the destination open")
	assert.Equal(t, 2, result.Rows)

	var names []string
	rows := int64(0)
	err = storage.ScanTable(context.Background(), path, func(rec arrow.Record) error {
		if names == nil {
			for _, field := range rec.Schema().Fields() {
				names = append(names, field.Name)
			}
		}
		rows += rec.NumRows()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, fields, names)
	assert.Equal(t, int64(2), rows)
}

type fakeStore struct {
	awards []types.Award
	latest []analysis.Assessment
}

func (f fakeStore) ListAwards(context.Context) ([]types.Award, error) {
	return f.awards, nil
}

func (f fakeStore) LatestAssessments(context.Context) ([]database.AssessmentRecord, error) {
	out := make([]database.AssessmentRecord, len(f.latest))
	for i, a := range f.latest {
		out[i] = database.AssessmentRecord{ID: "r" + a.AwardID, Assessment: a}
	}
	return out, nil
}

func TestExporter(t *testing.T) {
	awards, latest := fixtures()
	exporter := NewExporter(fakeStore{awards: awards, latest: latest}, []string{"award_id", "abstract", "primary_category"}, 10)

	req, err := ParseRequest(types.ExportRequest{Bands: []string{"high"}})
	require.NoError(t, err)

	var buf bytes.Buffer
	result, err := exporter.Export(context.Background(), &buf, req, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"abstract"}, result.Withheld)
	assert.Equal(t, [][]string{{"award_id", "primary_category"}, {"B-2", "hypersonics"}}, readCSV(t, buf.Bytes()))

	buf.Reset()
	result, err = exporter.Export(context.Background(), &buf, req, true)
	require.NoError(t, err)
	assert.Empty(t, result.Withheld)
	assert.Equal(t, [][]string{
		{"award_id", "abstract", "primary_category"},
		{"B-2", "Hypersonic inlet design.", "hypersonics"},
	}, readCSV(t, buf.Bytes()))

	_, err = ParseRequest(types.ExportRequest{Format: "xml"})
	assert.ErrorIs(t, err, ErrUnknownFormat)
	_, err = ParseRequest(types.ExportRequest{Bands: []string{"extreme"}})
	assert.Error(t, err)
}
