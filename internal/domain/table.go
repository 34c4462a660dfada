package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Row is one entry of the source table: column name → cell value.
// The pipeline never mutates a Row.
type Row map[string]any

// Table is an in-memory tabular dataset with one row per asset.
type Table struct {
	Columns []string
	Rows    []Row
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether the table declares the column.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// UniqueValues returns the distinct non-empty string values of a column in
// first-seen order.
func (t *Table) UniqueValues(column string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range t.Rows {
		v := CellString(r[column])
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Rename returns a copy of the table with columns renamed per the mapping.
// Cell values are shared with the receiver.
func (t *Table) Rename(mapping map[string]string) *Table {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		if to, ok := mapping[c]; ok {
			cols[i] = to
		} else {
			cols[i] = c
		}
	}
	rows := make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		nr := make(Row, len(r))
		for k, v := range r {
			if to, ok := mapping[k]; ok {
				nr[to] = v
			} else {
				nr[k] = v
			}
		}
		rows[i] = nr
	}
	return &Table{Columns: cols, Rows: rows}
}

// CellString renders a cell value as the string the platform expects.
// Missing values (nil, NaN) render as "". Whole floats drop their fraction.
func CellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		if math.IsNaN(x) {
			return ""
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		if math.IsNaN(float64(x)) {
			return ""
		}
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
