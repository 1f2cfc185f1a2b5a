package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
)

func createTable(path string, schema *arrow.Schema) (*TableWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %q: %w", path, err)
	}
	w, err := NewTableWriter(f, schema)
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// WriteAwards writes awards to a Parquet file at path, replacing it
func WriteAwards(path string, awards []types.Award) error {
	w, err := createTable(path, AwardsSchema)
	if err != nil {
		return err
	}

	for _, a := range awards {
		err := w.Append(
			a.ID, a.Agency, a.Branch, a.Title, a.Abstract, nonNil(a.Keywords),
			a.TopicCode, a.Program, a.Phase, a.Firm, a.AwardDate, a.ObligatedAmount,
		)
		if err != nil {
			w.Close()
			return fmt.Errorf("writing award %s: %w", a.ID, err)
		}
	}
	return w.Close()
}

// ReadAwards loads every award from a Parquet file written by WriteAwards
func ReadAwards(ctx context.Context, path string) ([]types.Award, error) {
	var awards []types.Award

	err := ScanTable(ctx, path, func(record arrow.Record) error {
		batch, err := readAwardBatch(columns{record: record})
		if err != nil {
			return err
		}
		awards = append(awards, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return awards, nil
}

func readAwardBatch(cols columns) ([]types.Award, error) {
	text := make(map[string]*array.String)
	for _, name := range []string{
		FieldAwardID, FieldAgency, FieldBranch, FieldTitle, FieldAbstract,
		FieldTopicCode, FieldProgram, FieldPhase, FieldFirm,
	} {
		col, err := cols.strings(name)
		if err != nil {
			return nil, err
		}
		text[name] = col
	}
	keywords, err := cols.stringLists(FieldKeywords)
	if err != nil {
		return nil, err
	}
	dates, err := cols.dates(FieldAwardDate)
	if err != nil {
		return nil, err
	}
	amounts, err := cols.float64s(FieldObligatedAmount)
	if err != nil {
		return nil, err
	}

	n := int(cols.record.NumRows())
	awards := make([]types.Award, n)
	for i := 0; i < n; i++ {
		a := types.Award{
			ID:              stringAt(text[FieldAwardID], i),
			Agency:          stringAt(text[FieldAgency], i),
			Branch:          stringAt(text[FieldBranch], i),
			Title:           stringAt(text[FieldTitle], i),
			Abstract:        stringAt(text[FieldAbstract], i),
			Keywords:        keywords.at(i),
			TopicCode:       stringAt(text[FieldTopicCode], i),
			Program:         stringAt(text[FieldProgram], i),
			Phase:           stringAt(text[FieldPhase], i),
			Firm:            stringAt(text[FieldFirm], i),
			ObligatedAmount: amounts.Value(i),
		}
		if !dates.IsNull(i) {
			a.AwardDate = dates.Value(i).ToTime()
		}
		awards[i] = a
	}
	return awards, nil
}

// WriteAssessments writes assessments to a Parquet file at path, replacing it
func WriteAssessments(path string, assessments []analysis.Assessment) error {
	w, err := createTable(path, AssessmentsSchema)
	if err != nil {
		return err
	}

	for _, a := range assessments {
		supporting := make([]string, 0, len(a.Supporting))
		for _, s := range a.Supporting {
			supporting = append(supporting, s.CategoryID)
		}
		evidence := make([]string, 0, len(a.Evidence))
		for _, e := range a.Evidence {
			evidence = append(evidence, e.Excerpt)
		}

		err := w.Append(
			a.AwardID, a.PrimaryCategory, a.PrimaryScore, a.Band.String(), supporting,
			a.Method.String(), a.TaxonomyVersion, a.ModelVersion, evidence, a.ScoredAt.UTC(),
		)
		if err != nil {
			w.Close()
			return fmt.Errorf("writing assessment for %s: %w", a.AwardID, err)
		}
	}
	return w.Close()
}

// AssessmentRow is the flattened form of an assessment in the Parquet table
type AssessmentRow struct {
	AwardID         string
	PrimaryCategory string
	PrimaryScore    float64
	Band            string
	Supporting      []string
	Method          string
	TaxonomyVersion string
	ModelVersion    string
	Evidence        []string
	ScoredAt        time.Time
}

// ReadAssessments loads the rows written by WriteAssessments
func ReadAssessments(ctx context.Context, path string) ([]AssessmentRow, error) {
	var rows []AssessmentRow

	err := ScanTable(ctx, path, func(record arrow.Record) error {
		cols := columns{record: record}

		text := make(map[string]*array.String)
		for _, name := range []string{FieldAwardID, FieldPrimaryCategory, FieldBand, FieldMethod, FieldTaxonomyVersion, FieldModelVersion} {
			col, err := cols.strings(name)
			if err != nil {
				return err
			}
			text[name] = col
		}
		scores, err := cols.float64s(FieldPrimaryScore)
		if err != nil {
			return err
		}
		supporting, err := cols.stringLists(FieldSupporting)
		if err != nil {
			return err
		}
		evidence, err := cols.stringLists(FieldEvidence)
		if err != nil {
			return err
		}
		scoredAt, err := cols.timestamps(FieldScoredAt)
		if err != nil {
			return err
		}
		unit := scoredAt.DataType().(*arrow.TimestampType).Unit

		for i := 0; i < int(record.NumRows()); i++ {
			rows = append(rows, AssessmentRow{
				AwardID:         stringAt(text[FieldAwardID], i),
				PrimaryCategory: stringAt(text[FieldPrimaryCategory], i),
				PrimaryScore:    scores.Value(i),
				Band:            stringAt(text[FieldBand], i),
				Supporting:      supporting.at(i),
				Method:          stringAt(text[FieldMethod], i),
				TaxonomyVersion: stringAt(text[FieldTaxonomyVersion], i),
				ModelVersion:    stringAt(text[FieldModelVersion], i),
				Evidence:        evidence.at(i),
				ScoredAt:        scoredAt.Value(i).ToTime(unit).UTC(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
