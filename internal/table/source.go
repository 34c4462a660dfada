// Package table loads source tables from files, DuckDB and Postgres.
package table

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"labelsync/internal/domain"
)

// Source formats.
const (
	FormatCSV      = "csv"
	FormatTSV      = "tsv"
	FormatExcel    = "excel"
	FormatParquet  = "parquet"
	FormatJSON     = "json"
	FormatDuckDB   = "duckdb"
	FormatPostgres = "postgres"
)

// Spec describes where a table comes from.
//
// File formats read Path. "duckdb" runs Query in an in-memory DuckDB
// (which can itself read files). "postgres" runs Query against DSN, which
// callers may fill from a default connection string before loading.
type Spec struct {
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	Sheet  string `json:"sheet,omitempty" yaml:"sheet,omitempty"`
	Query  string `json:"query,omitempty" yaml:"query,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// ResolvedFormat returns the explicit format, or one inferred from the path
// extension.
func (s Spec) ResolvedFormat() string {
	if s.Format != "" {
		return strings.ToLower(s.Format)
	}
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".csv":
		return FormatCSV
	case ".tsv", ".tab":
		return FormatTSV
	case ".xlsx", ".xlsm":
		return FormatExcel
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	}
	return ""
}

// Validate checks that the spec names everything its format needs.
func (s Spec) Validate() error {
	switch f := s.ResolvedFormat(); f {
	case FormatCSV, FormatTSV, FormatExcel, FormatParquet, FormatJSON:
		if s.Path == "" {
			return domain.ErrValidation("source format %q requires a path", f)
		}
	case FormatDuckDB:
		if s.Query == "" {
			return domain.ErrValidation("source format %q requires a query", f)
		}
	case FormatPostgres:
		if s.Query == "" {
			return domain.ErrValidation("source format %q requires a query", f)
		}
	case "":
		return domain.ErrValidation("cannot infer source format from path %q", s.Path)
	default:
		return domain.ErrValidation("unsupported source format %q", f)
	}
	return nil
}

// Load reads the table described by spec.
func Load(ctx context.Context, spec Spec) (*domain.Table, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	switch spec.ResolvedFormat() {
	case FormatCSV, FormatTSV:
		return loadFile(spec.Path, func(f *os.File) (*domain.Table, error) {
			return ReadDelimited(f, spec.ResolvedFormat() == FormatTSV)
		})
	case FormatExcel:
		return loadFile(spec.Path, func(f *os.File) (*domain.Table, error) {
			return ReadExcel(f, spec.Sheet)
		})
	case FormatParquet, FormatJSON:
		return QueryDuckDB(ctx, fileQuery(spec.ResolvedFormat(), spec.Path))
	case FormatDuckDB:
		return QueryDuckDB(ctx, spec.Query)
	default:
		if spec.DSN == "" {
			return nil, domain.ErrValidation("postgres source requires a dsn")
		}
		return QueryPostgres(ctx, spec.DSN, spec.Query)
	}
}

func loadFile(path string, read func(*os.File) (*domain.Table, error)) (*domain.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close() //nolint:errcheck
	t, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return t, nil
}
