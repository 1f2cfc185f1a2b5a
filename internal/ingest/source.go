package ingest

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/sbir-cet-classifier/internal/types"
	"github.com/willbeason/bondsmith"
)

// Format identifies an input file layout
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// DetectFormat infers the format from the file name, ignoring a .gz suffix
func DetectFormat(path string) (Format, error) {
	name := strings.TrimSuffix(strings.ToLower(path), ".gz")
	switch {
	case strings.HasSuffix(name, ".jsonl"), strings.HasSuffix(name, ".ndjson"), strings.HasSuffix(name, ".json"):
		return FormatJSONL, nil
	case strings.HasSuffix(name, ".csv"):
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: cannot infer format of %q", ErrIngest, path)
}

// Source is an opened input file. Count reports compressed bytes consumed so
// far, which lets callers draw progress against Size.
type Source struct {
	io.Reader
	Format Format
	Size   int64

	file  *os.File
	count *bondsmith.CountReader
	gz    *gzip.Reader
}

// Open opens path, transparently decompressing .gz files
func Open(path string) (*Source, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %q: %w", ErrIngest, path, err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: getting stat for %q: %w", ErrIngest, path, err)
	}

	src := &Source{Format: format, Size: stat.Size(), file: file}
	src.count = bondsmith.NewCountReader(file)
	src.Reader = src.count

	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		src.gz, err = gzip.NewReader(src.count)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("%w: starting gzip reader stream for %q: %w", ErrIngest, path, err)
		}
		src.Reader = src.gz
	}
	return src, nil
}

// Count is the number of bytes read from the underlying file
func (s *Source) Count() int64 {
	return int64(s.count.Count())
}

// Close releases the file and any decompressor
func (s *Source) Close() error {
	if s.gz != nil {
		s.gz.Close()
	}
	return s.file.Close()
}

// ReadAwards decodes every award in the source
func (s *Source) ReadAwards(ctx context.Context) ([]types.Award, Report, error) {
	switch s.Format {
	case FormatCSV:
		return ReadCSV(ctx, s)
	default:
		return ReadJSONL(ctx, s)
	}
}

// LoadAwards opens path and reads its awards
func LoadAwards(ctx context.Context, path string) ([]types.Award, Report, error) {
	src, err := Open(path)
	if err != nil {
		return nil, Report{}, err
	}
	defer src.Close()

	return src.ReadAwards(ctx)
}
