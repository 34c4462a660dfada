package table

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"labelsync/internal/domain"
)

// metadataSheets are skipped when no sheet is named explicitly.
var metadataSheets = map[string]bool{
	"info":     true,
	"metadata": true,
	"about":    true,
	"readme":   true,
	"notes":    true,
}

// ReadExcel reads one worksheet of an xlsx workbook. An empty sheet name
// selects the first sheet that is not a metadata sheet.
func ReadExcel(r io.Reader, sheet string) (*domain.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if sheet == "" {
		sheet = dataSheet(f.GetSheetList())
	}
	if sheet == "" {
		return nil, domain.ErrValidation("workbook has no sheets")
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrValidation("sheet %q is empty", sheet)
	}
	columns, err := normalizeHeader(rows[0])
	if err != nil {
		return nil, err
	}
	t := &domain.Table{Columns: columns, Rows: make([]domain.Row, 0, len(rows)-1)}
	for _, record := range rows[1:] {
		t.Rows = append(t.Rows, recordRow(columns, record))
	}
	return t, nil
}

func dataSheet(sheets []string) string {
	for _, s := range sheets {
		if !metadataSheets[strings.ToLower(s)] {
			return s
		}
	}
	if len(sheets) > 0 {
		return sheets[len(sheets)-1]
	}
	return ""
}
