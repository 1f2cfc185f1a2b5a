// Package export writes governed CSV and Parquet extracts of the latest
// assessment of each award joined with the award record.
package export

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/analysis"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/storage"
	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"github.com/apache/arrow/go/v18/arrow"
)

var (
	ErrUnknownField  = errors.New("unknown export field")
	ErrUnknownFormat = errors.New("unknown export format")
	ErrNoFields      = errors.New("no permitted export fields")
)

// Record is one award with its latest assessment
type Record struct {
	Award      types.Award
	Assessment analysis.Assessment
}

// column is one exportable field. restricted columns carry free text and
// need the full export role.
type column struct {
	field      arrow.Field
	restricted bool
	value      func(Record) any
}

func lookupField(schema *arrow.Schema, name string) arrow.Field {
	fields, ok := schema.FieldsByName(name)
	if !ok {
		panic(fmt.Sprintf("export: field %q missing from %s", name, schema))
	}
	return fields[0]
}

func awardColumn(name string, value func(types.Award) any) column {
	return column{
		field: lookupField(storage.AwardsSchema, name),
		value: func(r Record) any { return value(r.Award) },
	}
}

func assessmentColumn(name string, value func(analysis.Assessment) any) column {
	return column{
		field: lookupField(storage.AssessmentsSchema, name),
		value: func(r Record) any { return value(r.Assessment) },
	}
}

// columns lists every exportable field in output order
var columns = []column{
	awardColumn(storage.FieldAwardID, func(a types.Award) any { return a.ID }),
	awardColumn(storage.FieldAgency, func(a types.Award) any { return a.Agency }),
	awardColumn(storage.FieldBranch, func(a types.Award) any { return a.Branch }),
	awardColumn(storage.FieldTitle, func(a types.Award) any { return a.Title }),
	func() column {
		c := awardColumn(storage.FieldAbstract, func(a types.Award) any { return a.Abstract })
		c.restricted = true
		return c
	}(),
	awardColumn(storage.FieldKeywords, func(a types.Award) any { return nonNil(a.Keywords) }),
	awardColumn(storage.FieldTopicCode, func(a types.Award) any { return a.TopicCode }),
	awardColumn(storage.FieldProgram, func(a types.Award) any { return a.Program }),
	awardColumn(storage.FieldPhase, func(a types.Award) any { return a.Phase }),
	awardColumn(storage.FieldFirm, func(a types.Award) any { return a.Firm }),
	awardColumn(storage.FieldAwardDate, func(a types.Award) any { return a.AwardDate }),
	awardColumn(storage.FieldObligatedAmount, func(a types.Award) any { return a.ObligatedAmount }),
	assessmentColumn(storage.FieldPrimaryCategory, func(a analysis.Assessment) any { return a.PrimaryCategory }),
	assessmentColumn(storage.FieldPrimaryScore, func(a analysis.Assessment) any { return a.PrimaryScore }),
	assessmentColumn(storage.FieldBand, func(a analysis.Assessment) any { return a.Band.String() }),
	assessmentColumn(storage.FieldSupporting, func(a analysis.Assessment) any {
		ids := make([]string, 0, len(a.Supporting))
		for _, s := range a.Supporting {
			ids = append(ids, s.CategoryID)
		}
		return ids
	}),
	assessmentColumn(storage.FieldMethod, func(a analysis.Assessment) any { return a.Method.String() }),
	assessmentColumn(storage.FieldTaxonomyVersion, func(a analysis.Assessment) any { return a.TaxonomyVersion }),
	assessmentColumn(storage.FieldModelVersion, func(a analysis.Assessment) any { return a.ModelVersion }),
	func() column {
		c := assessmentColumn(storage.FieldEvidence, func(a analysis.Assessment) any {
			excerpts := make([]string, 0, len(a.Evidence))
			for _, e := range a.Evidence {
				excerpts = append(excerpts, e.Excerpt)
			}
			return excerpts
		})
		c.restricted = true
		return c
	}(),
	assessmentColumn(storage.FieldScoredAt, func(a analysis.Assessment) any { return a.ScoredAt.UTC() }),
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func findColumn(name string) (column, bool) {
	i := slices.IndexFunc(columns, func(c column) bool { return c.field.Name == name })
	if i < 0 {
		return column{}, false
	}
	return columns[i], true
}

// Fields lists every exportable field name in output order
func Fields() []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.field.Name
	}
	return names
}

// Restricted reports whether a field needs the full export role
func Restricted(name string) bool {
	c, ok := findColumn(name)
	return ok && c.restricted
}

// ResolveFields validates requested fields, falling back to defaults when
// none are requested. Restricted fields are withheld unless full is set.
// Duplicates are dropped and the requested order is kept.
func ResolveFields(requested, defaults []string, full bool) (fields, withheld []string, err error) {
	if len(requested) == 0 {
		requested = defaults
	}
	if len(requested) == 0 {
		requested = Fields()
	}

	for _, name := range requested {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || slices.Contains(fields, name) || slices.Contains(withheld, name) {
			continue
		}
		c, ok := findColumn(name)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		if c.restricted && !full {
			withheld = append(withheld, name)
			continue
		}
		fields = append(fields, name)
	}
	if len(fields) == 0 {
		return nil, withheld, fmt.Errorf("%w: withheld %s", ErrNoFields, strings.Join(withheld, ", "))
	}
	return fields, withheld, nil
}

func schemaFor(fields []string) *arrow.Schema {
	out := make([]arrow.Field, 0, len(fields))
	for _, name := range fields {
		c, _ := findColumn(name)
		out = append(out, c.field)
	}
	return arrow.NewSchema(out, nil)
}

// formatText renders a value for CSV output
func formatText(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, "; ")
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		if v.IsZero() {
			return ""
		}
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format(time.DateOnly)
		}
		return v.Format(time.RFC3339)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
