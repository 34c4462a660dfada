package upload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"labelsync/internal/domain"
)

// Service is the single entry point for uploading a table to the platform.
type Service struct {
	builder    *PlanBuilder
	dispatcher *Dispatcher
	runs       domain.UploadRunRepository
	metrics    MetricsRecorder
	logger     *slog.Logger
}

// NewService creates a Service. runs and metrics may be nil.
func NewService(
	platform domain.Platform,
	processor domain.MetadataProcessor,
	encoder domain.AnnotationEncoder,
	runs domain.UploadRunRepository,
	metrics MetricsRecorder,
	logger *slog.Logger,
) *Service {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Service{
		builder:    NewPlanBuilder(platform, processor, encoder, logger),
		dispatcher: NewDispatcher(platform, metrics, logger),
		runs:       runs,
		metrics:    metrics,
		logger:     logger,
	}
}

type uploadOptions struct {
	jobName string
}

// UploadOption customises a single upload.
type UploadOption func(*uploadOptions)

// WithJobName records the job name on the ledger entry.
func WithJobName(name string) UploadOption {
	return func(o *uploadOptions) { o.jobName = name }
}

// prepared is the request state shared by planning and uploading.
type prepared struct {
	req     domain.UploadRequest
	roles   Roles
	actions domain.ActionSet
}

func (s *Service) prepare(table *domain.Table, req domain.UploadRequest) (*prepared, error) {
	req, err := req.WithDefaults()
	if err != nil {
		return nil, err
	}
	if table.Len() == 0 {
		return nil, domain.ErrValidation("table has no rows")
	}
	roles, err := ResolveRoles(table.Columns, req.Targets, req.Divider)
	if err != nil {
		return nil, err
	}
	actions, err := DetermineActions(req.Targets, roles, req.UploadMethod)
	if err != nil {
		return nil, err
	}
	return &prepared{req: req, roles: roles, actions: actions}, nil
}

// PlanReport summarises an upload plan without dispatching it.
type PlanReport struct {
	Actions          domain.ActionSet         `json:"actions"`
	Datasets         map[string]int           `json:"datasets"`
	PlannedRecords   int                      `json:"planned_records"`
	DuplicateKeys    int                      `json:"duplicate_keys"`
	ConversionErrors []domain.ConversionError `json:"conversion_errors"`
	PendingModels    []string                 `json:"pending_models,omitempty"`
	PendingMetadata  []string                 `json:"pending_metadata,omitempty"`
	MetadataFields   []string                 `json:"metadata_fields,omitempty"`
}

// Plan resolves roles and actions and converts every row, without creating
// anything on the platform. Bare model ids and missing metadata fields are
// reported as pending instead of being created.
func (s *Service) Plan(ctx context.Context, table *domain.Table, req domain.UploadRequest) (*PlanReport, error) {
	p, err := s.prepare(table, req)
	if err != nil {
		return nil, err
	}
	built, err := s.builder.Build(ctx, PlanInput{
		Table: table, Roles: p.roles, Actions: p.actions, Request: p.req, DryRun: true,
	})
	if err != nil {
		return nil, err
	}
	report := &PlanReport{
		Actions:          p.actions,
		Datasets:         map[string]int{},
		PlannedRecords:   built.Plan.Len(),
		DuplicateKeys:    built.DuplicateKeys,
		ConversionErrors: built.ConversionErrors,
		PendingModels:    built.PendingModels,
		PendingMetadata:  built.PendingMetadata,
		MetadataFields:   p.roles.MetadataNames(),
	}
	for ds, byKey := range built.Plan {
		report.Datasets[ds] = len(byKey)
	}
	return report, nil
}

// UploadTable converts the table into an upload plan and dispatches it.
// Configuration problems are returned as errors before any row is processed.
// Row and per-target failures are reported on the result.
func (s *Service) UploadTable(ctx context.Context, table *domain.Table, req domain.UploadRequest, opts ...UploadOption) (*domain.UploadResult, error) {
	var o uploadOptions
	for _, opt := range opts {
		opt(&o)
	}
	started := time.Now()

	p, err := s.prepare(table, req)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("rows", table.Len())
	if o.jobName != "" {
		logger = logger.With("job", o.jobName)
	}
	logger.Info("upload started",
		"create", p.actions.Create, "batch", p.actions.Batch,
		"annotate", string(p.actions.Annotate), "predict", p.actions.Predict)

	built, err := s.builder.Build(ctx, PlanInput{
		Table: table, Roles: p.roles, Actions: p.actions, Request: p.req,
	})
	if err != nil {
		return nil, fmt.Errorf("build upload plan: %w", err)
	}

	result := &domain.UploadResult{
		RunID:            domain.NewID(),
		Actions:          p.actions,
		ConversionErrors: built.ConversionErrors,
		DuplicateKeys:    built.DuplicateKeys,
		PlannedRecords:   built.Plan.Len(),
	}

	var dispatchErr error
	if built.Plan.Len() == 0 {
		logger.Warn("no rows converted, nothing to dispatch", "conversion_errors", len(built.ConversionErrors))
	} else {
		dispatchErr = s.dispatcher.Dispatch(ctx, built.Plan, p.actions, p.req, result)
	}

	elapsed := time.Since(started)
	s.metrics.ObserveUpload(result, table.Len(), elapsed)
	s.recordRun(o.jobName, p.req, table.Len(), result, started)
	logger.Info("upload finished", "run_id", result.RunID, "status", result.Status(),
		"planned", result.PlannedRecords, "failed_targets", result.FailedTargets(), "elapsed", elapsed)

	if dispatchErr != nil {
		return result, dispatchErr
	}
	return result, nil
}

// recordRun writes the ledger entry. Ledger failures are logged and never
// fail the upload.
func (s *Service) recordRun(jobName string, req domain.UploadRequest, rows int, result *domain.UploadResult, started time.Time) {
	if s.runs == nil {
		return
	}
	run := &domain.UploadRun{
		ID:               result.RunID,
		JobName:          jobName,
		Status:           result.Status(),
		Request:          req,
		RowCount:         rows,
		PlannedRecords:   result.PlannedRecords,
		CreatedRecords:   result.Creation.Count(),
		DuplicateKeys:    result.DuplicateKeys,
		ConversionErrors: len(result.ConversionErrors),
		FailedTargets:    result.FailedTargets(),
		Result:           result,
		StartedAt:        started.UTC(),
		FinishedAt:       time.Now().UTC(),
	}
	// The upload context may already be cancelled; the ledger write should still land.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.runs.Create(ctx, run); err != nil {
		s.logger.Error("failed to record upload run", "run_id", run.ID, "error", err)
	}
}
