package storage

import (
	"compress/gzip"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
)

// rowGroupSize is the number of rows buffered before a row group is flushed
const rowGroupSize = 1 << 16

// TableWriter appends rows to a Parquet file one value per schema field
type TableWriter struct {
	schema  *arrow.Schema
	builder *array.RecordBuilder
	writer  *pqarrow.FileWriter
	pending int
	rows    int
}

// NewTableWriter starts a gzip-compressed Parquet stream on w. Close flushes
// and closes w when it is an io.Closer.
func NewTableWriter(w io.Writer, schema *arrow.Schema) (*TableWriter, error) {
	writer, err := pqarrow.NewFileWriter(
		schema,
		w,
		parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Gzip), parquet.WithCompressionLevel(gzip.DefaultCompression)),
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()),
	)
	if err != nil {
		return nil, fmt.Errorf("creating writer: %w", err)
	}

	return &TableWriter{
		schema:  schema,
		builder: array.NewRecordBuilder(memory.NewGoAllocator(), schema),
		writer:  writer,
	}, nil
}

// Append adds one row. values must line up with the schema fields; supported
// Go types are string, []string, float64, time.Time and nil for nullable fields.
// A failed Append leaves the row partially built; discard the writer.
func (t *TableWriter) Append(values ...any) error {
	fields := t.schema.Fields()
	if len(values) != len(fields) {
		return fmt.Errorf("row has %d values, schema has %d fields", len(values), len(fields))
	}

	for j, field := range fields {
		if err := appendValue(t.builder.Field(j), field, values[j]); err != nil {
			return fmt.Errorf("field %q: %w", field.Name, err)
		}
	}
	t.pending++
	t.rows++

	if t.pending >= rowGroupSize {
		return t.flush()
	}
	return nil
}

// Rows is the number of rows appended so far
func (t *TableWriter) Rows() int {
	return t.rows
}

func (t *TableWriter) flush() error {
	if t.pending == 0 {
		return nil
	}
	record := t.builder.NewRecord()
	defer record.Release()

	t.pending = 0
	if err := t.writer.Write(record); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// Close flushes buffered rows and finalizes the file footer
func (t *TableWriter) Close() error {
	defer t.builder.Release()

	if err := t.flush(); err != nil {
		_ = t.writer.Close()
		return err
	}
	if err := t.writer.Close(); err != nil {
		return fmt.Errorf("closing writer: %w", err)
	}
	return nil
}

func appendValue(b array.Builder, field arrow.Field, value any) error {
	if value == nil {
		if !field.Nullable {
			return fmt.Errorf("null value for non-nullable field")
		}
		b.AppendNull()
		return nil
	}

	switch field.Type.ID() {
	case arrow.STRING:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		if s == "" && field.Nullable {
			b.AppendNull()
			return nil
		}
		b.(*array.StringBuilder).Append(s)
	case arrow.FLOAT64:
		f, ok := value.(float64)
		if !ok {
			return fmt.Errorf("expected float64, got %T", value)
		}
		b.(*array.Float64Builder).Append(f)
	case arrow.DATE32:
		ts, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", value)
		}
		if ts.IsZero() && field.Nullable {
			b.AppendNull()
			return nil
		}
		b.(*array.Date32Builder).Append(arrow.Date32FromTime(ts))
	case arrow.TIMESTAMP:
		ts, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", value)
		}
		unit := field.Type.(*arrow.TimestampType).Unit
		v, err := arrow.TimestampFromTime(ts, unit)
		if err != nil {
			return err
		}
		b.(*array.TimestampBuilder).Append(v)
	case arrow.LIST:
		items, ok := value.([]string)
		if !ok {
			return fmt.Errorf("expected []string, got %T", value)
		}
		lb := b.(*array.ListBuilder)
		lb.Append(true)
		vb := lb.ValueBuilder().(*array.StringBuilder)
		for _, item := range items {
			vb.Append(item)
		}
	default:
		return fmt.Errorf("unsupported field type %s", field.Type)
	}
	return nil
}
