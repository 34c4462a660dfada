// Package job runs declarative upload jobs: load a source table, reshape it
// and hand it to the upload service.
package job

import (
	"context"
	"fmt"
	"log/slog"

	"labelsync/internal/config"
	"labelsync/internal/domain"
	"labelsync/internal/service/upload"
	"labelsync/internal/table"
)

// Uploader is the part of the upload service a job needs.
type Uploader interface {
	UploadTable(ctx context.Context, t *domain.Table, req domain.UploadRequest, opts ...upload.UploadOption) (*domain.UploadResult, error)
	Plan(ctx context.Context, t *domain.Table, req domain.UploadRequest) (*upload.PlanReport, error)
}

// FileMaterializer uploads local files referenced by a table.
type FileMaterializer interface {
	MaterializeLocalFiles(ctx context.Context, t *domain.Table, fileColumn, prefix string) (*domain.Table, error)
}

// Loader reads a source table.
type Loader func(ctx context.Context, spec table.Spec) (*domain.Table, error)

// Runner executes jobs.
type Runner struct {
	uploader     Uploader
	materializer FileMaterializer
	load         Loader
	defaultDSN   string
	workers      int
	logger       *slog.Logger
}

// Option customises a Runner.
type Option func(*Runner)

// WithMaterializer enables local_files jobs.
func WithMaterializer(m FileMaterializer) Option {
	return func(r *Runner) { r.materializer = m }
}

// WithLoader replaces table.Load.
func WithLoader(l Loader) Option {
	return func(r *Runner) { r.load = l }
}

// WithDefaultDSN sets the connection string for postgres sources that do
// not name one.
func WithDefaultDSN(dsn string) Option {
	return func(r *Runner) { r.defaultDSN = dsn }
}

// WithDefaultWorkers sets the conversion workers for jobs that do not name
// a worker count.
func WithDefaultWorkers(n int) Option {
	return func(r *Runner) { r.workers = n }
}

// NewRunner creates a Runner.
func NewRunner(uploader Uploader, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{uploader: uploader, load: table.Load, logger: logger}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run loads, reshapes and uploads the job's table.
func (r *Runner) Run(ctx context.Context, j config.Job) (*domain.UploadResult, error) {
	t, req, err := r.prepare(ctx, j, true)
	if err != nil {
		return nil, err
	}
	return r.uploader.UploadTable(ctx, t, req, upload.WithJobName(j.Name))
}

// Plan loads and reshapes the job's table and reports what an upload would
// do. Local files are not uploaded; their paths stand in for row_data.
func (r *Runner) Plan(ctx context.Context, j config.Job) (*upload.PlanReport, error) {
	t, req, err := r.prepare(ctx, j, false)
	if err != nil {
		return nil, err
	}
	return r.uploader.Plan(ctx, t, req)
}

func (r *Runner) prepare(ctx context.Context, j config.Job, materialize bool) (*domain.Table, domain.UploadRequest, error) {
	req := j.Request
	if err := j.Validate(); err != nil {
		return nil, req, err
	}
	if j.LocalFiles != nil && materialize && r.materializer == nil {
		return nil, req, domain.ErrConfig("job %q uploads local files but object storage is not configured", j.Name)
	}
	if req.Workers == 0 {
		req.Workers = r.workers
	}

	spec := j.Source
	if spec.ResolvedFormat() == table.FormatPostgres && spec.DSN == "" {
		spec.DSN = r.defaultDSN
	}
	logger := r.logger.With("job", j.Name, "format", spec.ResolvedFormat())

	t, err := r.load(ctx, spec)
	if err != nil {
		return nil, req, fmt.Errorf("load source: %w", err)
	}
	logger.Debug("source loaded", "rows", t.Len(), "columns", len(t.Columns))

	if len(j.Rename) > 0 {
		t, err = upload.RenameColumns(t, j.Rename)
		if err != nil {
			return nil, req, err
		}
	}

	switch {
	case j.LocalFiles == nil:
	case materialize:
		t, err = r.materializer.MaterializeLocalFiles(ctx, t, j.LocalFiles.Column, j.LocalFiles.Prefix)
		if err != nil {
			return nil, req, fmt.Errorf("materialize local files: %w", err)
		}
	default:
		t, err = pathsAsRowData(t, j.LocalFiles.Column)
		if err != nil {
			return nil, req, err
		}
	}
	return t, req, nil
}

func pathsAsRowData(t *domain.Table, column string) (*domain.Table, error) {
	if !t.HasColumn(column) {
		return nil, domain.ErrValidation("file path column %q not found", column)
	}
	out := t.Rename(nil)
	if !out.HasColumn(domain.ColumnRowData) {
		out.Columns = append(out.Columns, domain.ColumnRowData)
	}
	for _, row := range out.Rows {
		row[domain.ColumnRowData] = row[column]
	}
	return out, nil
}
