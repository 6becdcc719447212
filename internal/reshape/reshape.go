// Package reshape turns wide survey tables into long (identifier, question, response) records.
package reshape

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Column names of the long format.
const (
	QuestionColumn = "Question"
	ResponseColumn = "Response"
)

// SchemaError reports a table that is missing an expected column or cannot
// satisfy the long-format invariants.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return "schema error: " + e.Reason
	}
	return fmt.Sprintf("schema error: column %q: %s", e.Column, e.Reason)
}

// WideTable is a header row plus one row per respondent.
type WideTable struct {
	Columns []string
	Rows    [][]string
}

// Index returns the position of column name, or -1.
func (t *WideTable) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Cell returns the value at row/col, treating short rows as empty.
func (t *WideTable) Cell(row, col int) string {
	r := t.Rows[row]
	if col < 0 || col >= len(r) {
		return ""
	}
	return r[col]
}

// LongRecord is one respondent's answer to one question. Keys holds the
// preserved key column values in the order of Options.KeyColumns.
type LongRecord struct {
	ID       string
	Keys     []string
	Question string
	Response string
}

// Selector decides which non-key columns are free-text questions.
// Exactly one of All, Include or Pattern must be set.
type Selector struct {
	All     bool
	Include []string
	Pattern string
}

// Options controls Melt.
type Options struct {
	IDColumn   string
	KeyColumns []string
	Questions  Selector
	// GenerateIDs synthesises IDColumn from the 1-based row number.
	GenerateIDs bool
	// Limit caps the number of emitted records; 0 means no limit.
	Limit int
}

// Validate checks the options independently of any table.
func (o Options) Validate() error {
	if strings.TrimSpace(o.IDColumn) == "" {
		return fmt.Errorf("identifier column is required")
	}
	set := 0
	if o.Questions.All {
		set++
	}
	if len(o.Questions.Include) > 0 {
		set++
	}
	if o.Questions.Pattern != "" {
		set++
		if _, err := regexp.Compile(o.Questions.Pattern); err != nil {
			return fmt.Errorf("invalid question pattern: %w", err)
		}
	}
	switch set {
	case 0:
		return fmt.Errorf("question selection is required: set one of all, include or pattern")
	case 1:
		return nil
	default:
		return fmt.Errorf("question selection is ambiguous: set only one of all, include or pattern")
	}
}

// Melt converts a wide table into long records. Only selected question
// columns with a non-blank value produce a record.
func Melt(table *WideTable, opts Options) ([]LongRecord, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.GenerateIDs {
		if table.Index(opts.IDColumn) >= 0 {
			return nil, &SchemaError{Column: opts.IDColumn, Reason: "column already exists; cannot generate identifiers"}
		}
		table = withRowIDs(table, opts.IDColumn)
	}

	idIdx := table.Index(opts.IDColumn)
	if idIdx < 0 {
		return nil, &SchemaError{Column: opts.IDColumn, Reason: "identifier column not found"}
	}

	keyIdx := make([]int, len(opts.KeyColumns))
	isKey := map[int]bool{idIdx: true}
	for i, k := range opts.KeyColumns {
		idx := table.Index(k)
		if idx < 0 {
			return nil, &SchemaError{Column: k, Reason: "key column not found"}
		}
		keyIdx[i] = idx
		isKey[idx] = true
	}

	questions, err := selectQuestions(table, opts.Questions, isKey)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(table.Rows))
	var out []LongRecord
	for r := range table.Rows {
		id := strings.TrimSpace(table.Cell(r, idIdx))
		if id == "" {
			return nil, &SchemaError{Column: opts.IDColumn, Reason: fmt.Sprintf("empty identifier on row %d", r+1)}
		}
		if seen[id] {
			return nil, &SchemaError{Column: opts.IDColumn, Reason: fmt.Sprintf("duplicate identifier %q", id)}
		}
		seen[id] = true

		var keys []string
		if len(keyIdx) > 0 {
			keys = make([]string, len(keyIdx))
			for i, idx := range keyIdx {
				keys[i] = table.Cell(r, idx)
			}
		}

		for _, q := range questions {
			resp := table.Cell(r, q)
			if strings.TrimSpace(resp) == "" {
				continue
			}
			out = append(out, LongRecord{
				ID:       id,
				Keys:     keys,
				Question: table.Columns[q],
				Response: resp,
			})
			if opts.Limit > 0 && len(out) >= opts.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func selectQuestions(table *WideTable, sel Selector, isKey map[int]bool) ([]int, error) {
	var idx []int
	switch {
	case sel.All:
		for i := range table.Columns {
			if !isKey[i] {
				idx = append(idx, i)
			}
		}
	case len(sel.Include) > 0:
		included := make(map[string]bool, len(sel.Include))
		for _, name := range sel.Include {
			if included[name] {
				continue
			}
			included[name] = true
			i := table.Index(name)
			if i < 0 {
				return nil, &SchemaError{Column: name, Reason: "question column not found"}
			}
			if isKey[i] {
				return nil, &SchemaError{Column: name, Reason: "column is both a key and a question"}
			}
			idx = append(idx, i)
		}
	default:
		re := regexp.MustCompile(sel.Pattern)
		for i, c := range table.Columns {
			if !isKey[i] && re.MatchString(c) {
				idx = append(idx, i)
			}
		}
		if len(idx) == 0 {
			return nil, &SchemaError{Reason: fmt.Sprintf("no column matches question pattern %q", sel.Pattern)}
		}
	}

	// A repeated header would yield the same (id, question) pair twice.
	counts := make(map[string]int, len(table.Columns))
	for _, c := range table.Columns {
		counts[c]++
	}
	for _, i := range idx {
		if name := table.Columns[i]; counts[name] > 1 {
			return nil, &SchemaError{Column: name, Reason: "duplicate question column"}
		}
	}
	return idx, nil
}

func withRowIDs(table *WideTable, idColumn string) *WideTable {
	out := &WideTable{
		Columns: append([]string{idColumn}, table.Columns...),
		Rows:    make([][]string, len(table.Rows)),
	}
	for i, row := range table.Rows {
		out.Rows[i] = append([]string{strconv.Itoa(i + 1)}, row...)
	}
	return out
}
