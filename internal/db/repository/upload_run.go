package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"labelsync/internal/domain"
)

// Compile-time check.
var _ domain.UploadRunRepository = (*UploadRunRepo)(nil)

// UploadRunRepo implements UploadRunRepository using SQLite.
type UploadRunRepo struct {
	write *sql.DB
	read  *sql.DB
}

// NewUploadRunRepo creates a new UploadRunRepo. read may be the same pool as write.
func NewUploadRunRepo(write, read *sql.DB) *UploadRunRepo {
	if read == nil {
		read = write
	}
	return &UploadRunRepo{write: write, read: read}
}

const uploadRunColumns = `id, job_name, status, request, row_count, planned_records, created_records,
	duplicate_keys, conversion_errors, failed_targets, result, started_at, finished_at`

// Create inserts a run and its per-row and per-target errors in one transaction.
func (r *UploadRunRepo) Create(ctx context.Context, run *domain.UploadRun) error {
	if run.ID == "" {
		run.ID = domain.NewID()
	}
	reqJSON, err := json.Marshal(run.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	resultJSON, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	tx, err := r.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `INSERT INTO upload_runs (`+uploadRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobName, string(run.Status), string(reqJSON), run.RowCount, run.PlannedRecords,
		run.CreatedRecords, run.DuplicateKeys, run.ConversionErrors, run.FailedTargets,
		string(resultJSON), formatTime(run.StartedAt), formatTime(run.FinishedAt))
	if err != nil {
		return mapDBError(err)
	}

	for _, e := range runErrors(run.Result) {
		if _, err := tx.ExecContext(ctx, `INSERT INTO upload_run_errors
			(run_id, stage, target, global_key, reason, message) VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, e.stage, e.target, e.globalKey, e.reason, e.message); err != nil {
			return fmt.Errorf("insert run error: %w", err)
		}
	}
	return tx.Commit()
}

// GetByID returns a run by id.
func (r *UploadRunRepo) GetByID(ctx context.Context, id string) (*domain.UploadRun, error) {
	row := r.read.QueryRowContext(ctx, `SELECT `+uploadRunColumns+` FROM upload_runs WHERE id = ?`, id)
	run, err := scanUploadRun(row)
	if err != nil {
		return nil, mapDBError(err)
	}
	return run, nil
}

// List returns a filtered page of runs, newest first. Pages are keyed by
// the (started_at, id) of the last run on the previous page, so runs
// recorded while a client pages through do not shift later pages.
func (r *UploadRunRepo) List(ctx context.Context, filter domain.UploadRunFilter) (*domain.UploadRunPage, error) {
	cursor, err := filter.Page.Cursor()
	if err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if filter.JobName != nil {
		where = append(where, "job_name = ?")
		args = append(args, *filter.JobName)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	page := &domain.UploadRunPage{Runs: make([]domain.UploadRun, 0)}
	if err := r.read.QueryRowContext(ctx, `SELECT count(*) FROM upload_runs`+clause, args...).Scan(&page.Total); err != nil {
		return nil, err
	}

	if cursor != nil {
		started := formatTime(cursor.StartedAt)
		where = append(where, "(started_at < ? OR (started_at = ? AND id < ?))")
		args = append(args, started, started, cursor.ID)
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Page.Limit()
	rows, err := r.read.QueryContext(ctx,
		`SELECT `+uploadRunColumns+` FROM upload_runs`+clause+` ORDER BY started_at DESC, id DESC LIMIT ?`,
		append(args, limit+1)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		run, err := scanUploadRun(rows)
		if err != nil {
			return nil, err
		}
		page.Runs = append(page.Runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(page.Runs) > limit {
		page.Runs = page.Runs[:limit]
		last := page.Runs[limit-1]
		page.NextPageToken = domain.RunCursor{StartedAt: last.StartedAt, ID: last.ID}.Token()
	}
	return page, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUploadRun(s rowScanner) (*domain.UploadRun, error) {
	var (
		run                         domain.UploadRun
		status, reqJSON, resultJSON string
		startedAt, finishedAt       string
	)
	err := s.Scan(&run.ID, &run.JobName, &status, &reqJSON, &run.RowCount, &run.PlannedRecords,
		&run.CreatedRecords, &run.DuplicateKeys, &run.ConversionErrors, &run.FailedTargets,
		&resultJSON, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	if err := json.Unmarshal([]byte(reqJSON), &run.Request); err != nil {
		return nil, fmt.Errorf("decode request of run %s: %w", run.ID, err)
	}
	if resultJSON != "" && resultJSON != "null" {
		run.Result = &domain.UploadResult{}
		if err := json.Unmarshal([]byte(resultJSON), run.Result); err != nil {
			return nil, fmt.Errorf("decode result of run %s: %w", run.ID, err)
		}
	}
	run.StartedAt = parseTime(startedAt)
	run.FinishedAt = parseTime(finishedAt)
	return &run, nil
}

type runError struct {
	stage, target, globalKey, reason, message string
}

// runErrors flattens the conversion, resolve and per-target failures of a result.
func runErrors(res *domain.UploadResult) []runError {
	if res == nil {
		return nil
	}
	var out []runError
	for _, ce := range res.ConversionErrors {
		out = append(out, runError{stage: "convert", globalKey: ce.GlobalKey, reason: string(ce.Reason), message: ce.Message})
	}
	if res.ResolveError != "" {
		out = append(out, runError{stage: domain.StageResolveIDs, message: res.ResolveError})
	}
	for _, key := range res.UnresolvedKeys {
		out = append(out, runError{stage: domain.StageResolveIDs, globalKey: key, message: "global key did not resolve to a record"})
	}
	for _, stage := range []string{domain.StageCreate, domain.StageBatch, domain.StageAnnotate, domain.StageGroundTruth, domain.StagePredict} {
		report := res.Stages()[stage]
		if report == nil {
			continue
		}
		for _, t := range report.Targets {
			if t.Failed() {
				out = append(out, runError{stage: stage, target: t.Target, message: t.Error})
			}
			for _, f := range t.Failures {
				out = append(out, runError{stage: stage, target: t.Target, globalKey: f.GlobalKey, message: f.Message})
			}
		}
	}
	return out
}

// ListErrors returns the recorded errors of a run, stage by stage.
func (r *UploadRunRepo) ListErrors(ctx context.Context, runID string) ([]domain.RunError, error) {
	rows, err := r.read.QueryContext(ctx, `SELECT stage, target, global_key, reason, message
		FROM upload_run_errors WHERE run_id = ? ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := make([]domain.RunError, 0)
	for rows.Next() {
		var e domain.RunError
		if err := rows.Scan(&e.Stage, &e.Target, &e.GlobalKey, &e.Reason, &e.Message); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
