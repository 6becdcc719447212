package artifact

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Output column names shared by both scored tables.
const (
	ColumnSentiment = "Sentiment"
	ColumnMagnitude = "Magnitude"
	ColumnBucket    = "Sentiment Bucket"
	ColumnEntity    = "Entity"
	ColumnType      = "Type"
	ColumnSalience  = "Salience"
)

// Output formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const resultSheet = "Sentiment"

// ResponseHeader is the header of the per-response table.
func ResponseHeader(long *LongTable) []string {
	return append(long.Header(), ColumnSentiment, ColumnMagnitude, ColumnBucket)
}

// EntityHeader is the header of the per-entity table.
func EntityHeader(long *LongTable) []string {
	return append(long.Header(), ColumnEntity, ColumnType, ColumnSalience, ColumnSentiment, ColumnMagnitude, ColumnBucket)
}

// Sink is a scored output table that grows one chunk at a time.
type Sink interface {
	// Reset replaces any existing artifact with a header-only table.
	Reset(header []string) error
	// Append adds rows and commits them atomically. A missing artifact is
	// created with header first.
	Append(header []string, rows [][]string) error
	// Replace atomically rewrites the artifact as header plus rows.
	Replace(header []string, rows [][]string) error
	Path() string
}

// TruncateRows cuts the artifact behind sink back to its first n data rows
// and returns how many rows were dropped. An artifact holding fewer than n
// rows is an error.
func TruncateRows(sink Sink, n int) (int, error) {
	header, rows, err := ReadTable(sink.Path())
	if err != nil {
		return 0, err
	}
	switch {
	case len(rows) < n:
		return 0, fmt.Errorf("%s has %d rows, expected at least %d", sink.Path(), len(rows), n)
	case len(rows) == n:
		return 0, nil
	}
	if err := sink.Replace(header, rows[:n]); err != nil {
		return 0, err
	}
	return len(rows) - n, nil
}

// NewSink opens a sink for base (a path without extension) in format.
func NewSink(base, format string) (Sink, error) {
	if err := ValidateFormat(format); err != nil {
		return nil, err
	}
	if strings.EqualFold(format, FormatXLSX) {
		return &XLSXSink{path: base + ".xlsx"}, nil
	}
	return &CSVSink{path: base + ".csv"}, nil
}

// ValidateFormat accepts csv, xlsx or empty (csv).
func ValidateFormat(format string) error {
	switch strings.ToLower(format) {
	case "", FormatCSV, FormatXLSX:
		return nil
	}
	return fmt.Errorf("unsupported output format %q: want csv or xlsx", format)
}

// CSVSink appends to a csv file.
type CSVSink struct {
	path string
}

func (s *CSVSink) Path() string { return s.path }

func (s *CSVSink) Reset(header []string) error {
	return s.write(header, nil, false)
}

func (s *CSVSink) Append(header []string, rows [][]string) error {
	return s.write(header, rows, true)
}

func (s *CSVSink) Replace(header []string, rows [][]string) error {
	return s.write(header, rows, false)
}

func (s *CSVSink) write(header []string, rows [][]string, keep bool) error {
	return WriteAtomic(s.path, func(w io.Writer) error {
		existing := keep && Exists(s.path)
		if existing {
			f, err := os.Open(s.path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", s.path, err)
			}
			_, err = io.Copy(w, f)
			f.Close()
			if err != nil {
				return fmt.Errorf("copying %s: %w", s.path, err)
			}
		}

		cw := csv.NewWriter(w)
		if !existing {
			if err := cw.Write(header); err != nil {
				return err
			}
		}
		if err := cw.WriteAll(rows); err != nil {
			return err
		}
		return cw.Error()
	})
}

// XLSXSink appends to a single-sheet workbook.
type XLSXSink struct {
	path string
}

func (s *XLSXSink) Path() string { return s.path }

func (s *XLSXSink) Reset(header []string) error {
	return s.Replace(header, nil)
}

func (s *XLSXSink) Replace(header []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", resultSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	if err := setRow(f, 1, header); err != nil {
		return err
	}
	for i, row := range rows {
		if err := setRow(f, i+2, row); err != nil {
			return err
		}
	}
	return s.save(f)
}

func (s *XLSXSink) Append(header []string, rows [][]string) error {
	if !Exists(s.path) {
		if err := s.Reset(header); err != nil {
			return err
		}
	}

	f, err := excelize.OpenFile(s.path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.path, err)
	}
	defer f.Close()

	existing, err := f.GetRows(resultSheet)
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}
	next := len(existing) + 1
	for i, row := range rows {
		if err := setRow(f, next+i, row); err != nil {
			return err
		}
	}
	return s.save(f)
}

func (s *XLSXSink) save(f *excelize.File) error {
	return WriteAtomic(s.path, func(w io.Writer) error {
		if err := f.Write(w); err != nil {
			return fmt.Errorf("writing workbook: %w", err)
		}
		return nil
	})
}

func setRow(f *excelize.File, n int, row []string) error {
	cells := make([]any, len(row))
	for i, v := range row {
		cells[i] = v
	}
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(resultSheet, cell, &cells); err != nil {
		return fmt.Errorf("writing row %d: %w", n, err)
	}
	return nil
}

// ReadTable loads a scored output table, csv or xlsx, as header plus rows.
func ReadTable(path string) ([]string, [][]string, error) {
	var all [][]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		all, err = f.GetRows(f.GetSheetName(0))
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", path, err)
		}
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		all, err = r.ReadAll()
		if err != nil {
			return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("%s is empty", path)
	}
	return all[0], all[1:], nil
}

// Find returns the existing output table for base, or "" if there is none.
// When both a csv and an xlsx table exist the more recently written wins.
func Find(base string) string {
	var found string
	var newest time.Time
	for _, ext := range []string{".csv", ".xlsx"} {
		info, err := os.Stat(base + ext)
		if err != nil || info.IsDir() {
			continue
		}
		if found == "" || info.ModTime().After(newest) {
			found, newest = base+ext, info.ModTime()
		}
	}
	return found
}
