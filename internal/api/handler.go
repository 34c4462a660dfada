// Package api serves the upload HTTP API: ad-hoc and planned uploads, the
// run ledger and the schedule table.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"labelsync/internal/config"
	"labelsync/internal/domain"
	"labelsync/internal/service/schedule"
	"labelsync/internal/service/upload"
)

// UploadRunner runs and plans declarative upload jobs.
type UploadRunner interface {
	Run(ctx context.Context, j config.Job) (*domain.UploadResult, error)
	Plan(ctx context.Context, j config.Job) (*upload.PlanReport, error)
}

// ScheduleRegistry exposes the cron schedule table.
type ScheduleRegistry interface {
	Entries() []schedule.ScheduledJob
	Reload() error
}

// Handler implements the API endpoints.
type Handler struct {
	runner    UploadRunner
	runs      domain.UploadRunRepository
	schedules ScheduleRegistry
	logger    *slog.Logger
}

// NewHandler creates a Handler. schedules may be nil when no job files are
// configured.
func NewHandler(runner UploadRunner, runs domain.UploadRunRepository, schedules ScheduleRegistry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = discardLogger
	}
	return &Handler{runner: runner, runs: runs, schedules: schedules, logger: logger}
}

// UploadResponse is returned by POST /v1/uploads.
type UploadResponse struct {
	RunID  string               `json:"run_id"`
	Status domain.RunStatus     `json:"status"`
	Result *domain.UploadResult `json:"result"`
}

// UploadRun is the API view of a ledger entry.
type UploadRun struct {
	ID               string               `json:"id"`
	JobName          string               `json:"job_name,omitempty"`
	Status           domain.RunStatus     `json:"status"`
	Request          domain.UploadRequest `json:"request"`
	RowCount         int                  `json:"row_count"`
	PlannedRecords   int                  `json:"planned_records"`
	CreatedRecords   int                  `json:"created_records"`
	DuplicateKeys    int                  `json:"duplicate_keys"`
	ConversionErrors int                  `json:"conversion_errors"`
	FailedTargets    int                  `json:"failed_targets"`
	Result           *domain.UploadResult `json:"result,omitempty"`
	StartedAt        time.Time            `json:"started_at"`
	FinishedAt       time.Time            `json:"finished_at"`
}

// ListUploadRunsResponse is a page of ledger entries.
type ListUploadRunsResponse struct {
	Runs          []UploadRun `json:"runs"`
	Total         int64       `json:"total"`
	NextPageToken string      `json:"next_page_token,omitempty"`
}

func uploadRunToAPI(r domain.UploadRun, withResult bool) UploadRun {
	out := UploadRun{
		ID:               r.ID,
		JobName:          r.JobName,
		Status:           r.Status,
		Request:          r.Request,
		RowCount:         r.RowCount,
		PlannedRecords:   r.PlannedRecords,
		CreatedRecords:   r.CreatedRecords,
		DuplicateKeys:    r.DuplicateKeys,
		ConversionErrors: r.ConversionErrors,
		FailedTargets:    r.FailedTargets,
		StartedAt:        r.StartedAt,
		FinishedAt:       r.FinishedAt,
	}
	if withResult {
		out.Result = r.Result
	}
	return out
}

// createUpload runs a job synchronously. Row and stage failures are part of
// the result; only fatal errors produce a non-200 status.
func (h *Handler) createUpload(w http.ResponseWriter, r *http.Request) {
	var job config.Job
	if err := decodeBody(w, r, &job); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.runner.Run(r.Context(), job)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, UploadResponse{RunID: res.RunID, Status: res.Status(), Result: res})
}

func (h *Handler) planUpload(w http.ResponseWriter, r *http.Request) {
	var job config.Job
	if err := decodeBody(w, r, &job); err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.runner.Plan(r.Context(), job)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) listUploads(w http.ResponseWriter, r *http.Request) {
	filter, err := uploadRunFilterFromQuery(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	page, err := h.runs.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := ListUploadRunsResponse{
		Runs:          make([]UploadRun, 0, len(page.Runs)),
		Total:         page.Total,
		NextPageToken: page.NextPageToken,
	}
	for _, run := range page.Runs {
		out.Runs = append(out.Runs, uploadRunToAPI(run, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getUpload(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadRunToAPI(*run, true))
}

func (h *Handler) listUploadErrors(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.runs.GetByID(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	errs, err := h.runs.ListErrors(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if errs == nil {
		errs = []domain.RunError{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": errs})
}

func (h *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	entries := []schedule.ScheduledJob{}
	if h.schedules != nil {
		entries = append(entries, h.schedules.Entries()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": entries})
}

func (h *Handler) reloadSchedules(w http.ResponseWriter, r *http.Request) {
	if h.schedules == nil {
		h.writeError(w, r, domain.ErrNotFound("no job files configured"))
		return
	}
	if err := h.schedules.Reload(); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.listSchedules(w, r)
}

func uploadRunFilterFromQuery(r *http.Request) (domain.UploadRunFilter, error) {
	q := r.URL.Query()
	var f domain.UploadRunFilter
	if v := q.Get("job_name"); v != "" {
		f.JobName = &v
	}
	if v := q.Get("status"); v != "" {
		st := domain.RunStatus(v)
		switch st {
		case domain.RunStatusSuccess, domain.RunStatusPartial, domain.RunStatusFailed:
			f.Status = &st
		default:
			return f, domain.ErrValidation("invalid status %q", v)
		}
	}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, domain.ErrValidation("invalid max_results %q", v)
		}
		f.Page.MaxResults = n
	}
	f.Page.PageToken = q.Get("page_token")
	if _, err := f.Page.Cursor(); err != nil {
		return f, err
	}
	return f, nil
}
