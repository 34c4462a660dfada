package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"labelsync/internal/domain"
)

// ReadDelimited reads a CSV (or TSV) stream whose first record is the header.
// Short records are padded with empty cells and long ones truncated.
func ReadDelimited(r io.Reader, tsv bool) (*domain.Table, error) {
	reader := csv.NewReader(r)
	if tsv {
		reader.Comma = '\t'
	}
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, domain.ErrValidation("empty file: no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns, err := normalizeHeader(header)
	if err != nil {
		return nil, err
	}

	t := &domain.Table{Columns: columns}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record %d: %w", len(t.Rows)+1, err)
		}
		t.Rows = append(t.Rows, recordRow(columns, record))
	}
	return t, nil
}

// normalizeHeader trims header cells and a leading byte-order mark. Column
// names are otherwise kept verbatim since prefixed names carry the divider.
func normalizeHeader(header []string) ([]string, error) {
	out := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, domain.ErrValidation("header column %d is empty", i+1)
		}
		if seen[h] {
			return nil, domain.ErrValidation("duplicate header column %q", h)
		}
		seen[h] = true
		out[i] = h
	}
	return out, nil
}

func recordRow(columns, record []string) domain.Row {
	row := make(domain.Row, len(columns))
	for i, c := range columns {
		if i < len(record) {
			row[c] = record[i]
		} else {
			row[c] = ""
		}
	}
	return row
}
