package storage

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"labelsync/internal/domain"
)

// ColumnOldRowData receives an existing row_data column when local files
// are materialized.
const ColumnOldRowData = "old_row_data"

// Default materialization settings.
const (
	DefaultURLExpiry = 7 * 24 * time.Hour
	DefaultWorkers   = 8
)

// Materializer uploads the local files a table references and points each
// row's row_data at the uploaded object.
type Materializer struct {
	store   ObjectStore
	prefix  string
	expiry  time.Duration
	workers int
	logger  *slog.Logger
}

// MaterializerOption customises a Materializer.
type MaterializerOption func(*Materializer)

// WithKeyPrefix sets the object key prefix.
func WithKeyPrefix(prefix string) MaterializerOption {
	return func(m *Materializer) { m.prefix = strings.Trim(prefix, "/") }
}

// WithURLExpiry sets the lifetime of the presigned URLs.
func WithURLExpiry(d time.Duration) MaterializerOption {
	return func(m *Materializer) { m.expiry = d }
}

// WithWorkers bounds concurrent uploads.
func WithWorkers(n int) MaterializerOption {
	return func(m *Materializer) { m.workers = n }
}

// NewMaterializer creates a Materializer.
func NewMaterializer(store ObjectStore, logger *slog.Logger, opts ...MaterializerOption) *Materializer {
	m := &Materializer{
		store:   store,
		prefix:  "labelsync",
		expiry:  DefaultURLExpiry,
		workers: DefaultWorkers,
		logger:  logger,
	}
	for _, o := range opts {
		o(m)
	}
	if m.workers <= 0 {
		m.workers = DefaultWorkers
	}
	return m
}

// MaterializeLocalFiles uploads every distinct file named in fileColumn and
// returns a copy of the table whose row_data holds presigned URLs. An
// existing row_data column is kept as old_row_data. Rows with an empty path
// get an empty row_data. Any failed upload fails the whole call. An empty
// prefix uses the materializer's default key prefix.
func (m *Materializer) MaterializeLocalFiles(ctx context.Context, table *domain.Table, fileColumn, prefix string) (*domain.Table, error) {
	if !table.HasColumn(fileColumn) {
		return nil, domain.ErrValidation("file path column %q not found", fileColumn)
	}
	var out *domain.Table
	if table.HasColumn(domain.ColumnRowData) {
		if table.HasColumn(ColumnOldRowData) {
			return nil, domain.ErrValidation("table already has both %q and %q", domain.ColumnRowData, ColumnOldRowData)
		}
		m.logger.Warn("row_data column exists, keeping it as old_row_data")
		out = table.Rename(map[string]string{domain.ColumnRowData: ColumnOldRowData})
		if fileColumn == domain.ColumnRowData {
			fileColumn = ColumnOldRowData
		}
	} else {
		out = table.Rename(nil)
	}

	paths := out.UniqueValues(fileColumn)
	urls := make([]string, len(paths))
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = m.prefix
	}
	keyDir := path.Join(prefix, domain.NewID())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for i, p := range paths {
		g.Go(func() error {
			u, err := m.uploadOne(gctx, keyDir, p)
			if err != nil {
				return err
			}
			urls[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byPath := make(map[string]string, len(paths))
	for i, p := range paths {
		byPath[p] = urls[i]
	}
	for _, row := range out.Rows {
		row[domain.ColumnRowData] = byPath[domain.CellString(row[fileColumn])]
	}
	out.Columns = append(out.Columns, domain.ColumnRowData)

	m.logger.Info("local files materialized", "files", len(paths), "rows", out.Len())
	return out, nil
}

func (m *Materializer) uploadOne(ctx context.Context, keyDir, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open local file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	key := path.Join(keyDir, objectName(localPath))
	if err := m.store.Put(ctx, key, f, mime.TypeByExtension(filepath.Ext(localPath))); err != nil {
		return "", err
	}
	return m.store.PresignGet(ctx, key, m.expiry)
}

// objectName keeps the base name readable and disambiguates equal base
// names from different directories.
func objectName(localPath string) string {
	clean := filepath.ToSlash(filepath.Clean(localPath))
	dir := strings.Trim(filepath.ToSlash(filepath.Dir(clean)), "/.")
	base := path.Base(clean)
	if dir == "" {
		return base
	}
	return strings.ReplaceAll(dir, "/", "_") + "_" + base
}
