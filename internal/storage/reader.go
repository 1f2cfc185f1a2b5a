package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
)

const batchSize = 1 << 14

// ScanTable calls fn for every record batch in the Parquet file at path.
// Records are released after fn returns.
func ScanTable(ctx context.Context, path string, fn func(arrow.Record) error) error {
	fileReader, err := file.OpenParquetFile(path, false)
	if err != nil {
		return fmt.Errorf("opening parquet file %q: %w", path, err)
	}
	defer fileReader.Close()

	reader, err := pqarrow.NewFileReader(fileReader,
		pqarrow.ArrowReadProperties{Parallel: true, BatchSize: batchSize},
		memory.NewGoAllocator(),
	)
	if err != nil {
		return fmt.Errorf("creating pqarrow FileReader: %w", err)
	}

	recordReader, err := reader.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return fmt.Errorf("getting record reader: %w", err)
	}
	defer recordReader.Release()

	var record arrow.Record
	for record, err = recordReader.Read(); err == nil; record, err = recordReader.Read() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err := fn(record); err != nil {
			return err
		}
	}
	if !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading records: %w", err)
	}
	return nil
}

// columns resolves column positions by name
type columns struct {
	record arrow.Record
}

func (c columns) index(name string) (int, error) {
	indices := c.record.Schema().FieldIndices(name)
	if len(indices) == 0 {
		return 0, fmt.Errorf("missing column %q", name)
	}
	return indices[0], nil
}

func (c columns) strings(name string) (*array.String, error) {
	i, err := c.index(name)
	if err != nil {
		return nil, err
	}
	col, ok := c.record.Column(i).(*array.String)
	if !ok {
		return nil, fmt.Errorf("expected %s column to be of type *array.String, got %T", name, c.record.Column(i))
	}
	return col, nil
}

func (c columns) float64s(name string) (*array.Float64, error) {
	i, err := c.index(name)
	if err != nil {
		return nil, err
	}
	col, ok := c.record.Column(i).(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("expected %s column to be of type *array.Float64, got %T", name, c.record.Column(i))
	}
	return col, nil
}

func (c columns) dates(name string) (*array.Date32, error) {
	i, err := c.index(name)
	if err != nil {
		return nil, err
	}
	col, ok := c.record.Column(i).(*array.Date32)
	if !ok {
		return nil, fmt.Errorf("expected %s column to be of type *array.Date32, got %T", name, c.record.Column(i))
	}
	return col, nil
}

func (c columns) timestamps(name string) (*array.Timestamp, error) {
	i, err := c.index(name)
	if err != nil {
		return nil, err
	}
	col, ok := c.record.Column(i).(*array.Timestamp)
	if !ok {
		return nil, fmt.Errorf("expected %s column to be of type *array.Timestamp, got %T", name, c.record.Column(i))
	}
	return col, nil
}

// stringList is a list<string> column
type stringList struct {
	list   *array.List
	values *array.String
}

func (c columns) stringLists(name string) (stringList, error) {
	i, err := c.index(name)
	if err != nil {
		return stringList{}, err
	}
	list, ok := c.record.Column(i).(*array.List)
	if !ok {
		return stringList{}, fmt.Errorf("expected %s column to be of type *array.List, got %T", name, c.record.Column(i))
	}
	values, ok := list.ListValues().(*array.String)
	if !ok {
		return stringList{}, fmt.Errorf("expected %s values to be of type *array.String, got %T", name, list.ListValues())
	}
	return stringList{list: list, values: values}, nil
}

func (l stringList) at(i int) []string {
	if l.list.IsNull(i) {
		return nil
	}
	start, end := l.list.ValueOffsets(i)
	if start == end {
		return nil
	}
	out := make([]string, 0, end-start)
	for j := start; j < end; j++ {
		out = append(out, l.values.Value(int(j)))
	}
	return out
}

func stringAt(col *array.String, i int) string {
	if col.IsNull(i) {
		return ""
	}
	return col.Value(i)
}
