package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"github.com/apache/arrow/go/v18/arrow"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwardsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", AwardsName+ParquetExt)
	awards := []types.Award{
		{
			ID:              "F2-0001",
			Agency:          "DOD",
			Branch:          "Air Force",
			Title:           "Cold atom interferometer for inertial navigation",
			Abstract:        "Quantum sensing payload for GPS-denied flight.",
			Keywords:        []string{"quantum", "navigation"},
			TopicCode:       "AF241-001",
			Program:         "SBIR",
			Phase:           "II",
			Firm:            "Atomic Nav LLC",
			AwardDate:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			ObligatedAmount: 1_249_000.50,
		},
		{
			ID:     "N-77",
			Agency: "NASA",
			Title:  "Small satellite propulsion",
		},
	}

	require.NoError(t, WriteAwards(path, awards))

	got, err := ReadAwards(context.Background(), path)
	require.NoError(t, err)
	if diff := cmp.Diff(awards, got); diff != "" {
		t.Errorf("awards mismatch (-want +got):\n%s", diff)
	}
}

func TestReadAwardsMissingFile(t *testing.T) {
	_, err := ReadAwards(context.Background(), filepath.Join(t.TempDir(), "missing.parquet"))
	assert.Error(t, err)
}

func TestReadAwardsWrongTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), AssessmentsName+ParquetExt)
	require.NoError(t, WriteAssessments(path, []analysis.Assessment{{
		AwardID:  "A-1",
		Band:     analysis.BandLow,
		Method:   analysis.ModeRules,
		ScoredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}}))

	_, err := ReadAwards(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing column "agency"`)
}

func TestAssessmentsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), AssessmentsName+ParquetExt)
	scoredAt := time.Date(2025, 3, 1, 12, 30, 45, 123456000, time.UTC)

	assessments := []analysis.Assessment{
		{
			AwardID:         "F2-0001",
			PrimaryCategory: "quantum_sensing",
			PrimaryScore:    81.8,
			Band:            analysis.BandHigh,
			Supporting:      []analysis.SupportingCategory{{CategoryID: "space_technology", Score: 27.3}},
			Method:          analysis.ModeHybrid,
			TaxonomyVersion: "2025.1",
			ModelVersion:    "m-1",
			Evidence: []analysis.EvidenceStatement{
				{Source: analysis.FieldTitle, Excerpt: "Cold atom interferometer for inertial navigation"},
			},
			ScoredAt: scoredAt,
		},
		{
			AwardID:         "N-77",
			PrimaryCategory: "none",
			PrimaryScore:    25,
			Band:            analysis.BandLow,
			Method:          analysis.ModeRules,
			TaxonomyVersion: "2025.1",
			ScoredAt:        scoredAt,
		},
	}

	require.NoError(t, WriteAssessments(path, assessments))

	rows, err := ReadAssessments(context.Background(), path)
	require.NoError(t, err)

	want := []AssessmentRow{
		{
			AwardID:         "F2-0001",
			PrimaryCategory: "quantum_sensing",
			PrimaryScore:    81.8,
			Band:            analysis.BandHigh.String(),
			Supporting:      []string{"space_technology"},
			Method:          analysis.ModeHybrid.String(),
			TaxonomyVersion: "2025.1",
			ModelVersion:    "m-1",
			Evidence:        []string{"Cold atom interferometer for inertial navigation"},
			ScoredAt:        scoredAt,
		},
		{
			AwardID:         "N-77",
			PrimaryCategory: "none",
			PrimaryScore:    25,
			Band:            analysis.BandLow.String(),
			Method:          analysis.ModeRules.String(),
			TaxonomyVersion: "2025.1",
			ScoredAt:        scoredAt,
		},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("assessment rows mismatch (-want +got):\n%s", diff)
	}
}

func TestTableWriterValidation(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String},
		{Name: "score", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)

	tests := []struct {
		name    string
		values  []any
		wantErr string
	}{
		{name: "valid row", values: []any{"A-1", 12.5}},
		{name: "null in nullable field", values: []any{"A-1", nil}},
		{name: "wrong arity", values: []any{"A-1"}, wantErr: "row has 1 values"},
		{name: "wrong type", values: []any{"A-1", "high"}, wantErr: "expected float64"},
		{name: "null in required field", values: []any{nil, 1.0}, wantErr: "null value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewTableWriter(&buf, schema)
			require.NoError(t, err)

			err = w.Append(tt.values...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, 1, w.Rows())
			}
			require.NoError(t, w.Close())
			assert.NotZero(t, buf.Len())
		})
	}
}
