package artifact

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/TobiSchelling/surveysentiment/internal/reshape"
)

// LongTable is the intermediate artifact: identifier, preserved key columns,
// Question, Response.
type LongTable struct {
	IDColumn   string
	KeyColumns []string
	Records    []reshape.LongRecord
}

// Header returns the csv header of the table.
func (t *LongTable) Header() []string {
	h := append([]string{t.IDColumn}, t.KeyColumns...)
	return append(h, reshape.QuestionColumn, reshape.ResponseColumn)
}

// WriteLong writes the intermediate artifact atomically.
func WriteLong(path string, t *LongTable) error {
	return WriteAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(t.Header()); err != nil {
			return err
		}
		for _, r := range t.Records {
			row := append([]string{r.ID}, r.Keys...)
			row = append(row, r.Question, r.Response)
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// ReadLong loads the intermediate artifact. The first column is the
// identifier and the last two must be Question and Response.
func ReadLong(path string) (*LongTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening long table: %w", err)
	}
	defer f.Close()

	all, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing long table: %w", err)
	}
	if len(all) == 0 {
		return nil, &reshape.SchemaError{Reason: "long table has no header"}
	}

	header := all[0]
	n := len(header)
	if n < 3 {
		return nil, &reshape.SchemaError{Reason: fmt.Sprintf("long table needs identifier, %s and %s columns", reshape.QuestionColumn, reshape.ResponseColumn)}
	}
	if header[n-2] != reshape.QuestionColumn {
		return nil, &reshape.SchemaError{Column: reshape.QuestionColumn, Reason: "column not found in long table"}
	}
	if header[n-1] != reshape.ResponseColumn {
		return nil, &reshape.SchemaError{Column: reshape.ResponseColumn, Reason: "column not found in long table"}
	}

	t := &LongTable{
		IDColumn:   header[0],
		KeyColumns: append([]string(nil), header[1:n-2]...),
		Records:    make([]reshape.LongRecord, 0, len(all)-1),
	}
	for i, row := range all[1:] {
		if len(row) != n {
			return nil, &reshape.SchemaError{Reason: fmt.Sprintf("long table row %d has %d fields, want %d", i+2, len(row), n)}
		}
		rec := reshape.LongRecord{
			ID:       row[0],
			Question: row[n-2],
			Response: row[n-1],
		}
		if n > 3 {
			rec.Keys = append([]string(nil), row[1:n-2]...)
		}
		t.Records = append(t.Records, rec)
	}
	return t, nil
}
