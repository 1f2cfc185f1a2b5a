package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/taxonomy"
	"github.com/willbeason/bondsmith/jsonio"
)

// ReadTrainingExamples decodes labeled examples, one JSON object per line.
// A line either carries "text" directly or award fields that are joined the
// same way scoring joins them. Labels must exist in tax when tax is non-nil.
func ReadTrainingExamples(ctx context.Context, r io.Reader, tax *taxonomy.Taxonomy) ([]analysis.TrainingExample, Report, error) {
	var (
		examples []analysis.TrainingExample
		report   Report
	)

	records := jsonio.NewReader(r, func() *rawAward { return &rawAward{} })
	record := 0
	for raw, err := range records.Read() {
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, report, fmt.Errorf("%w: training record %d: %w", ErrIngest, record+1, err)
		}
		if err := ctx.Err(); err != nil {
			return nil, report, err
		}
		record++
		report.Read++

		labels := cleanLabels(raw.Labels)
		if len(labels) == 0 {
			report.reject(record, string(raw.ID), "no labels")
			continue
		}
		if unknown := unknownLabel(labels, tax); unknown != "" {
			report.reject(record, string(raw.ID), fmt.Sprintf("unknown category %q", unknown))
			continue
		}

		text := strings.TrimSpace(raw.Text)
		if text == "" {
			a, convErr := raw.award()
			if convErr != nil {
				report.reject(record, string(raw.ID), convErr.Error())
				continue
			}
			text = analysis.BuildFeatureText(a, nil)
		}
		if strings.TrimSpace(text) == "" {
			report.reject(record, string(raw.ID), "empty text")
			continue
		}

		examples = append(examples, analysis.TrainingExample{Text: text, Labels: labels})
		report.Accepted++
	}

	return examples, report, nil
}

// LoadTrainingExamples opens path and reads its labeled examples
func LoadTrainingExamples(ctx context.Context, path string, tax *taxonomy.Taxonomy) ([]analysis.TrainingExample, Report, error) {
	src, err := Open(path)
	if err != nil {
		return nil, Report{}, err
	}
	defer src.Close()

	if src.Format != FormatJSONL {
		return nil, Report{}, fmt.Errorf("%w: training data must be JSONL, got %s", ErrIngest, src.Format)
	}
	return ReadTrainingExamples(ctx, src, tax)
}

func cleanLabels(labels []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, dup := seen[l]; dup {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

func unknownLabel(labels []string, tax *taxonomy.Taxonomy) string {
	if tax == nil {
		return ""
	}
	for _, l := range labels {
		if !tax.Has(l) {
			return l
		}
	}
	return ""
}
