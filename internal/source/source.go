// Package source reads wide survey tables from files, object storage and SQL databases.
package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/TobiSchelling/surveysentiment/internal/reshape"
)

// maxInputBytes caps downloaded or read input artifacts.
const maxInputBytes = 100 * 1024 * 1024

// Reader produces the wide table of one input artifact.
type Reader interface {
	Read(ctx context.Context) (*reshape.WideTable, error)
}

// Spec describes where the input lives.
type Spec struct {
	// Ref is a file path, s3://bucket/key, sqlite://path or postgres:// DSN.
	Ref string
	// Sheet selects a worksheet for xlsx inputs.
	Sheet string
	// Query is required for SQL inputs.
	Query string

	S3Region   string
	S3Endpoint string
}

// Open picks a reader for spec.Ref.
func Open(ctx context.Context, spec Spec) (Reader, error) {
	ref := strings.TrimSpace(spec.Ref)
	switch {
	case ref == "":
		return nil, fmt.Errorf("input reference is required")
	case strings.HasPrefix(ref, "s3://"):
		return NewS3Reader(ctx, spec)
	case strings.HasPrefix(ref, "sqlite://"):
		return NewSQLReader("sqlite", strings.TrimPrefix(ref, "sqlite://"), spec.Query)
	case strings.HasPrefix(ref, "postgres://"), strings.HasPrefix(ref, "postgresql://"):
		return NewSQLReader("postgres", ref, spec.Query)
	default:
		return &FileReader{Path: ref, Sheet: spec.Sheet}, nil
	}
}

// FileReader reads a local csv, tsv or xlsx file.
type FileReader struct {
	Path  string
	Sheet string
}

func (f *FileReader) Read(_ context.Context) (*reshape.WideTable, error) {
	info, err := os.Stat(f.Path)
	if err != nil {
		return nil, fmt.Errorf("input file: %w", err)
	}
	if info.Size() > maxInputBytes {
		return nil, fmt.Errorf("input file %s is larger than %d bytes", f.Path, maxInputBytes)
	}

	content, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	return Parse(filepath.Base(f.Path), content, f.Sheet)
}

// Parse routes content to the csv, tsv or xlsx parser by file extension.
func Parse(name string, content []byte, sheet string) (*reshape.WideTable, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return ParseDelimited(content, ',')
	case strings.HasSuffix(lower, ".tsv"):
		return ParseDelimited(content, '\t')
	case strings.HasSuffix(lower, ".xlsx"), strings.HasSuffix(lower, ".xlsm"):
		return ParseExcel(content, sheet)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", name)
	}
}

// newTable normalises headers and pads or trims rows to the header width.
func newTable(all [][]string) (*reshape.WideTable, error) {
	if len(all) == 0 {
		return nil, &reshape.SchemaError{Reason: "input has no header row"}
	}

	headers := make([]string, len(all[0]))
	for i, h := range all[0] {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	rows := make([][]string, 0, len(all)-1)
	for _, row := range all[1:] {
		if isBlank(row) {
			continue
		}
		switch {
		case len(row) < len(headers):
			padded := make([]string, len(headers))
			copy(padded, row)
			row = padded
		case len(row) > len(headers):
			row = row[:len(headers)]
		}
		rows = append(rows, row)
	}

	return &reshape.WideTable{Columns: headers, Rows: rows}, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
