package domain

import (
	"context"
	"time"
)

// RunStatus is the final status of an upload run.
type RunStatus string

// Upload run statuses.
const (
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// UploadRun is the ledger entry for one table upload.
type UploadRun struct {
	ID               string        `json:"id"`
	JobName          string        `json:"job_name,omitempty"`
	Status           RunStatus     `json:"status"`
	Request          UploadRequest `json:"request"`
	RowCount         int           `json:"row_count"`
	PlannedRecords   int           `json:"planned_records"`
	CreatedRecords   int           `json:"created_records"`
	DuplicateKeys    int           `json:"duplicate_keys"`
	ConversionErrors int           `json:"conversion_errors"`
	FailedTargets    int           `json:"failed_targets"`
	Result           *UploadResult `json:"result,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       time.Time     `json:"finished_at"`
}

// RunError is one recorded failure of an upload run: a row conversion
// error, an unresolved key or a failed stage target.
type RunError struct {
	Stage     string `json:"stage"`
	Target    string `json:"target,omitempty"`
	GlobalKey string `json:"global_key,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message"`
}

// UploadRunFilter narrows a ledger listing.
type UploadRunFilter struct {
	JobName *string
	Status  *RunStatus
	Page    PageRequest
}

// UploadRunRepository persists upload runs.
type UploadRunRepository interface {
	Create(ctx context.Context, run *UploadRun) error
	GetByID(ctx context.Context, id string) (*UploadRun, error)
	List(ctx context.Context, filter UploadRunFilter) (*UploadRunPage, error)
	ListErrors(ctx context.Context, runID string) ([]RunError, error)
}
