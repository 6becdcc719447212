package source

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/TobiSchelling/surveysentiment/internal/reshape"
)

// ParseDelimited parses csv or tsv content whose first row is the header.
func ParseDelimited(content []byte, comma rune) (*reshape.WideTable, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = comma
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	all, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing delimited input: %w", err)
	}
	return newTable(all)
}
