package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/storage"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/summary"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
)

// Format is an export file format
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat defaults to CSV when s is blank
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "parquet":
		return FormatParquet, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType is the MIME type for the format
func (f Format) ContentType() string {
	if f == FormatParquet {
		return "application/vnd.apache.parquet"
	}
	return "text/csv; charset=utf-8"
}

// Extension is the file extension for the format
func (f Format) Extension() string {
	if f == FormatParquet {
		return storage.ParquetExt
	}
	return ".csv"
}

// Options control one export
type Options struct {
	Format  Format
	Fields  []string
	Filter  summary.Filter
	MaxRows int
}

// Result describes what an export wrote
type Result struct {
	Format    Format   `json:"format"`
	Fields    []string `json:"fields"`
	Withheld  []string `json:"withheld,omitempty"`
	Rows      int      `json:"rows"`
	Matched   int      `json:"matched"`
	Truncated bool     `json:"truncated"`
}

// Join pairs each award with its latest assessment, ordered by award ID.
// Unscored awards and assessments without an award are skipped.
func Join(awards []types.Award, latest []analysis.Assessment) []Record {
	byID := make(map[string]types.Award, len(awards))
	for _, a := range awards {
		byID[a.ID] = a
	}

	newest := make(map[string]analysis.Assessment, len(latest))
	for _, a := range latest {
		if cur, ok := newest[a.AwardID]; !ok || a.ScoredAt.After(cur.ScoredAt) {
			newest[a.AwardID] = a
		}
	}

	records := make([]Record, 0, len(newest))
	for id, assessment := range newest {
		award, ok := byID[id]
		if !ok {
			continue
		}
		records = append(records, Record{Award: award, Assessment: assessment})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Award.ID < records[j].Award.ID })
	return records
}

// Select keeps records that pass the filter
func Select(records []Record, filter summary.Filter) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if filter.MatchAward(r.Award) && filter.MatchAssessment(r.Assessment) {
			out = append(out, r)
		}
	}
	return out
}

// Write filters records and writes the selected fields to w. fields must
// already be resolved. At most MaxRows rows are written when MaxRows > 0.
func Write(ctx context.Context, w io.Writer, records []Record, fields []string, opts Options) (Result, error) {
	selected := Select(records, opts.Filter)
	result := Result{Format: opts.Format, Fields: fields, Matched: len(selected)}
	if opts.MaxRows > 0 && len(selected) > opts.MaxRows {
		selected = selected[:opts.MaxRows]
		result.Truncated = true
	}

	cols := make([]column, len(fields))
	for i, name := range fields {
		c, ok := findColumn(name)
		if !ok {
			return result, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		cols[i] = c
	}

	var err error
	switch opts.Format {
	case FormatParquet:
		result.Rows, err = writeParquet(ctx, w, selected, fields, cols)
	case FormatCSV, "":
		result.Format = FormatCSV
		result.Rows, err = writeCSV(ctx, w, selected, fields, cols)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}
	return result, err
}

func writeCSV(ctx context.Context, w io.Writer, records []Record, fields []string, cols []column) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(fields); err != nil {
		return 0, fmt.Errorf("writing csv header: %w", err)
	}

	row := make([]string, len(cols))
	for n, r := range records {
		if n%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		for i, c := range cols {
			row[i] = formatText(c.value(r))
		}
		if err := cw.Write(row); err != nil {
			return n, fmt.Errorf("writing csv row %d: %w", n+1, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return len(records), fmt.Errorf("flushing csv: %w", err)
	}
	return len(records), nil
}

// nopCloser hides Close so the Parquet writer leaves w open
type nopCloser struct{ io.Writer }

func writeParquet(ctx context.Context, w io.Writer, records []Record, fields []string, cols []column) (int, error) {
	tw, err := storage.NewTableWriter(nopCloser{w}, schemaFor(fields))
	if err != nil {
		return 0, err
	}

	values := make([]any, len(cols))
	for n, r := range records {
		if n%1000 == 0 {
			if err := ctx.Err(); err != nil {
				_ = tw.Close()
				return n, err
			}
		}
		for i, c := range cols {
			values[i] = c.value(r)
		}
		if err := tw.Append(values...); err != nil {
			_ = tw.Close()
			return n, fmt.Errorf("row %d: %w", n+1, err)
		}
	}

	if err := tw.Close(); err != nil {
		return tw.Rows(), err
	}
	return tw.Rows(), nil
}

// Store is the part of the repository an export reads from
type Store = summary.Store

// Exporter runs governed exports against the repository
type Exporter struct {
	store         Store
	defaultFields []string
	maxRows       int
}

// NewExporter creates an exporter. defaultFields are used when a request
// names none; maxRows caps every export when positive.
func NewExporter(store Store, defaultFields []string, maxRows int) *Exporter {
	return &Exporter{
		store:         store,
		defaultFields: defaultFields,
		maxRows:       maxRows,
	}
}

// Request is a parsed export request
type Request struct {
	Format Format
	Fields []string
	Filter summary.Filter
}

// ParseRequest validates the wire request
func ParseRequest(req types.ExportRequest) (Request, error) {
	format, err := ParseFormat(req.Format)
	if err != nil {
		return Request{}, err
	}
	filter, err := summary.NewFilter(req.Agencies, req.Categories, req.Bands)
	if err != nil {
		return Request{}, err
	}
	return Request{Format: format, Fields: req.Fields, Filter: filter}, nil
}

// Plan resolves the fields an export will contain for a caller
func (e *Exporter) Plan(req Request, full bool) (fields, withheld []string, err error) {
	return ResolveFields(req.Fields, e.defaultFields, full)
}

// Export loads the portfolio and writes it. full grants restricted fields.
func (e *Exporter) Export(ctx context.Context, w io.Writer, req Request, full bool) (Result, error) {
	fields, withheld, err := e.Plan(req, full)
	if err != nil {
		return Result{}, err
	}

	awards, err := e.store.ListAwards(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list awards: %w", err)
	}
	recs, err := e.store.LatestAssessments(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list latest assessments: %w", err)
	}
	latest := make([]analysis.Assessment, len(recs))
	for i, rec := range recs {
		latest[i] = rec.Assessment
	}

	result, err := Write(ctx, w, Join(awards, latest), fields, Options{
		Format:  req.Format,
		Filter:  req.Filter,
		MaxRows: e.maxRows,
	})
	result.Withheld = withheld
	if err != nil {
		return result, err
	}

	slog.Info("Export written",
		"format", result.Format,
		"rows", result.Rows,
		"matched", result.Matched,
		"truncated", result.Truncated,
		"withheld", withheld,
	)
	return result, nil
}
