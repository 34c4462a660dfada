package table

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // duckdb driver
	_ "github.com/lib/pq"              // postgres driver

	"labelsync/internal/domain"
)

// QueryDuckDB runs query in a fresh in-memory DuckDB and returns the result.
func QueryDuckDB(ctx context.Context, query string) (*domain.Table, error) {
	return queryTable(ctx, "duckdb", "", query)
}

// QueryPostgres runs a read-only query against a Postgres warehouse.
func QueryPostgres(ctx context.Context, dsn, query string) (*domain.Table, error) {
	return queryTable(ctx, "postgres", dsn, query)
}

func queryTable(ctx context.Context, driver, dsn, query string) (*domain.Table, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	defer db.Close() //nolint:errcheck

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", driver, err)
	}
	defer rows.Close() //nolint:errcheck
	return ScanRows(rows)
}

// ScanRows reads every row of a result set into a table. Byte slices are
// converted to strings; other driver values are kept as returned.
func ScanRows(rows *sql.Rows) (*domain.Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}

	t := &domain.Table{Columns: cols}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row %d: %w", len(t.Rows)+1, err)
		}
		row := make(domain.Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, rows.Err()
}

// fileQuery builds the DuckDB query that reads a parquet or JSON file.
func fileQuery(format, path string) string {
	fn := "read_parquet"
	if format == FormatJSON {
		fn = "read_json_auto"
	}
	return fmt.Sprintf("SELECT * FROM %s('%s')", fn, strings.ReplaceAll(path, "'", "''"))
}
