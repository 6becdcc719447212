package source

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/TobiSchelling/surveysentiment/internal/reshape"
)

// SQLReader runs a query and treats its result set as the wide table.
type SQLReader struct {
	Driver string
	DSN    string
	Query  string
}

// NewSQLReader validates the query up front; the connection is opened on Read.
func NewSQLReader(driver, dsn, query string) (*SQLReader, error) {
	if query == "" {
		return nil, fmt.Errorf("a query is required for %s inputs", driver)
	}
	return &SQLReader{Driver: driver, DSN: dsn, Query: query}, nil
}

func (r *SQLReader) Read(ctx context.Context) (*reshape.WideTable, error) {
	db, err := sql.Open(r.Driver, r.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", r.Driver, err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, r.Query)
	if err != nil {
		return nil, fmt.Errorf("running input query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	all := [][]string{cols}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = cellString(v)
		}
		all = append(all, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return newTable(all)
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}
