package source

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/TobiSchelling/surveysentiment/internal/reshape"
)

// Sheets that survey exports use for metadata rather than responses.
var metadataSheets = map[string]bool{
	"info":     true,
	"metadata": true,
	"about":    true,
	"readme":   true,
	"notes":    true,
}

// ParseExcel reads one worksheet of an xlsx workbook. With no sheet given it
// takes the first sheet that is not a metadata sheet.
func ParseExcel(content []byte, sheet string) (*reshape.WideTable, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}

	if sheet == "" {
		for _, s := range sheets {
			if !metadataSheets[strings.ToLower(s)] {
				sheet = s
				break
			}
		}
		if sheet == "" {
			sheet = sheets[len(sheets)-1]
		}
	} else if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		return nil, fmt.Errorf("sheet %q not found in workbook (have %v)", sheet, sheets)
	}
	slog.Debug("reading worksheet", "sheet", sheet, "sheets", len(sheets))

	all, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
	}
	return newTable(all)
}
