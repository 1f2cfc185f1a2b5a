// Package storage keeps award and assessment tables as gzip-compressed Parquet.
package storage

import (
	"github.com/apache/arrow/go/v18/arrow"
)

const (
	ParquetExt = ".parquet"

	AwardsName      = "awards"
	AssessmentsName = "assessments"
)

const comment = "comment"

// Award table columns
const (
	FieldAwardID         = "award_id"
	FieldAgency          = "agency"
	FieldBranch          = "branch"
	FieldTitle           = "title"
	FieldAbstract        = "abstract"
	FieldKeywords        = "keywords"
	FieldTopicCode       = "topic_code"
	FieldProgram         = "program"
	FieldPhase           = "phase"
	FieldFirm            = "firm"
	FieldAwardDate       = "award_date"
	FieldObligatedAmount = "obligated_amount"
)

// Assessment table columns
const (
	FieldPrimaryCategory = "primary_category"
	FieldPrimaryScore    = "primary_score"
	FieldBand            = "band"
	FieldSupporting      = "supporting_categories"
	FieldMethod          = "method"
	FieldTaxonomyVersion = "taxonomy_version"
	FieldModelVersion    = "model_version"
	FieldEvidence        = "evidence"
	FieldScoredAt        = "scored_at"
)

// MetadataBuilder is a convenience type to aid readability of code that
// specifies metadata for Arrow types.
type MetadataBuilder struct {
	keys   []string
	values []string
}

func NewMetadataBuilder() *MetadataBuilder {
	return &MetadataBuilder{}
}

func (b *MetadataBuilder) Add(key, value string) *MetadataBuilder {
	b.keys = append(b.keys, key)
	b.values = append(b.values, value)
	return b
}

// Build constructs and returns the arrow.Metadata.
func (b *MetadataBuilder) Build() arrow.Metadata {
	return arrow.NewMetadata(b.keys, b.values)
}

func described(text string) arrow.Metadata {
	return NewMetadataBuilder().Add(comment, text).Build()
}

// ScoredAtType is the timestamp type of the scored_at column
var ScoredAtType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

var AwardsSchema = arrow.NewSchema([]arrow.Field{
	{Name: FieldAwardID, Type: arrow.BinaryTypes.String,
		Metadata: described("Award identifier as issued by the awarding agency")},
	{Name: FieldAgency, Type: arrow.BinaryTypes.String,
		Metadata: described("Normalized agency code, e.g. DOD or NASA")},
	{Name: FieldBranch, Type: arrow.BinaryTypes.String, Nullable: true,
		Metadata: described("Sub-agency or service branch")},
	{Name: FieldTitle, Type: arrow.BinaryTypes.String},
	{Name: FieldAbstract, Type: arrow.BinaryTypes.String},
	{Name: FieldKeywords, Type: arrow.ListOf(arrow.BinaryTypes.String)},
	{Name: FieldTopicCode, Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: FieldProgram, Type: arrow.BinaryTypes.String, Nullable: true,
		Metadata: described("SBIR or STTR")},
	{Name: FieldPhase, Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: FieldFirm, Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: FieldAwardDate, Type: arrow.PrimitiveTypes.Date32, Nullable: true},
	{Name: FieldObligatedAmount, Type: arrow.PrimitiveTypes.Float64,
		Metadata: described("Obligated amount in US dollars")},
}, nil)

var AssessmentsSchema = arrow.NewSchema([]arrow.Field{
	{Name: FieldAwardID, Type: arrow.BinaryTypes.String},
	{Name: FieldPrimaryCategory, Type: arrow.BinaryTypes.String,
		Metadata: described("CET category id with the highest normalized score")},
	{Name: FieldPrimaryScore, Type: arrow.PrimitiveTypes.Float64,
		Metadata: described("Normalized 0-100 applicability score")},
	{Name: FieldBand, Type: arrow.BinaryTypes.String,
		Metadata: described("High, Medium or Low")},
	{Name: FieldSupporting, Type: arrow.ListOf(arrow.BinaryTypes.String)},
	{Name: FieldMethod, Type: arrow.BinaryTypes.String},
	{Name: FieldTaxonomyVersion, Type: arrow.BinaryTypes.String},
	{Name: FieldModelVersion, Type: arrow.BinaryTypes.String, Nullable: true},
	{Name: FieldEvidence, Type: arrow.ListOf(arrow.BinaryTypes.String),
		Metadata: described("Evidence excerpts, at most three")},
	{Name: FieldScoredAt, Type: ScoredAtType},
}, nil)
