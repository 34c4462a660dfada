package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"labelsync/internal/domain"
)

// MetricsRecorder receives dispatch and upload observations. Implementations
// must be safe for concurrent use.
type MetricsRecorder interface {
	ObserveStage(stage string, elapsed time.Duration, report *domain.StageReport)
	ObserveUpload(result *domain.UploadResult, rows int, elapsed time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveStage(string, time.Duration, *domain.StageReport)  {}
func (noopRecorder) ObserveUpload(*domain.UploadResult, int, time.Duration) {}

// Dispatcher executes an UploadPlan against the platform stage by stage.
type Dispatcher struct {
	platform domain.Platform
	metrics  MetricsRecorder
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. metrics may be nil.
func NewDispatcher(platform domain.Platform, metrics MetricsRecorder, logger *slog.Logger) *Dispatcher {
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Dispatcher{platform: platform, metrics: metrics, logger: logger}
}

type dispatchState struct {
	plan    domain.UploadPlan
	actions domain.ActionSet
	req     domain.UploadRequest
	result  *domain.UploadResult

	ids      map[string]string          // global key → record id
	failed   map[string]map[string]bool // stage → failed targets
	attached map[string]map[string]bool // model run → record ids attached by promotion
}

func (st *dispatchState) markFailed(stage string, results []domain.TargetResult) {
	for _, r := range results {
		if r.Failed() {
			if st.failed[stage] == nil {
				st.failed[stage] = map[string]bool{}
			}
			st.failed[stage][r.Target] = true
		}
	}
}

func (d *Dispatcher) stages() []stage {
	return []stage{
		{
			name:    domain.StageCreate,
			enabled: func(a domain.ActionSet) bool { return a.Create },
			run:     d.create,
		},
		{
			name:      domain.StageResolveIDs,
			dependsOn: []string{domain.StageCreate},
			enabled:   func(a domain.ActionSet) bool { return a.NeedsRecordIDs() },
			run:       d.resolveIDs,
		},
		{
			name:      domain.StageBatch,
			dependsOn: []string{domain.StageResolveIDs},
			enabled:   func(a domain.ActionSet) bool { return a.Batch },
			run:       d.batch,
		},
		{
			name:      domain.StageAnnotate,
			dependsOn: []string{domain.StageResolveIDs, domain.StageBatch},
			enabled:   func(a domain.ActionSet) bool { return a.Annotating() },
			run:       d.annotate,
		},
		{
			name:      domain.StageGroundTruth,
			dependsOn: []string{domain.StageAnnotate},
			enabled:   func(a domain.ActionSet) bool { return a.Annotate == domain.AnnotateGroundTruth },
			run:       d.groundTruth,
		},
		{
			name:      domain.StagePredict,
			dependsOn: []string{domain.StageResolveIDs, domain.StageGroundTruth},
			enabled:   func(a domain.ActionSet) bool { return a.Predict },
			run:       d.predict,
		},
	}
}

// Dispatch runs every enabled stage in dependency order and records stage
// reports on result. Stages whose prerequisites halted are skipped and their
// report stays nil. Cancellation is checked between stages; an in-flight
// stage always finishes.
func (d *Dispatcher) Dispatch(ctx context.Context, plan domain.UploadPlan, actions domain.ActionSet,
	req domain.UploadRequest, result *domain.UploadResult) error {

	var enabled []stage
	for _, s := range d.stages() {
		if s.enabled(actions) {
			enabled = append(enabled, s)
		}
	}
	levels, err := resolveStageOrder(enabled)
	if err != nil {
		return fmt.Errorf("resolve stage order: %w", err)
	}
	byName := make(map[string]stage, len(enabled))
	for _, s := range enabled {
		byName[s.name] = s
	}

	st := &dispatchState{
		plan:     plan,
		actions:  actions,
		req:      req,
		result:   result,
		ids:      map[string]string{},
		failed:   map[string]map[string]bool{},
		attached: map[string]map[string]bool{},
	}
	halted := map[string]bool{}

	for _, level := range levels {
		for _, name := range level {
			s := byName[name]
			if blocked := haltedDependency(s, halted); blocked != "" {
				halted[name] = true
				d.logger.Warn("stage skipped", "stage", name, "blocked_by", blocked)
				continue
			}
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("dispatch cancelled before %s: %w", name, err)
			}

			start := time.Now()
			err := s.run(ctx, st)
			report := result.Stages()[name]
			d.metrics.ObserveStage(name, time.Since(start), report)
			if errors.Is(err, errHalt) {
				halted[name] = true
				d.logger.Warn("stage halted dependent stages", "stage", name)
				continue
			}
			if err != nil {
				return fmt.Errorf("stage %s: %w", name, err)
			}
			if report != nil {
				d.logger.Info("stage completed", "stage", name,
					"targets", len(report.Targets), "failed", report.FailedTargets(), "count", report.Count())
			}
		}
	}
	return nil
}

func haltedDependency(s stage, halted map[string]bool) string {
	for _, dep := range s.dependsOn {
		if halted[dep] {
			return dep
		}
	}
	return ""
}

func (d *Dispatcher) create(ctx context.Context, st *dispatchState) error {
	datasets := st.plan.DatasetIDs()
	results := forEachTarget(ctx, datasets, st.req.Workers, func(ctx context.Context, ds string) domain.TargetResult {
		recs := st.plan.DatasetRecords(ds)
		bodies := make([]domain.RecordBody, len(recs))
		for i, r := range recs {
			bodies[i] = r.Body
		}
		res, err := d.platform.CreateRecords(ctx, ds, bodies, st.req.SkipDuplicates)
		if err != nil {
			d.logger.Error("record creation failed", "dataset_id", ds, "records", len(bodies), "error", err)
			return domain.TargetResult{Target: ds, Error: err.Error()}
		}
		return domain.TargetResult{Target: ds, Count: res.Created, Failures: res.Failures}
	})
	st.result.Creation = &domain.StageReport{Targets: results}
	st.markFailed(domain.StageCreate, results)
	if len(results) > 0 && st.result.Creation.FailedTargets() == len(results) {
		return errHalt
	}
	return nil
}

// resolveIDs looks up record ids for every planned key. Keys without an id
// are reported and dropped from later stages.
func (d *Dispatcher) resolveIDs(ctx context.Context, st *dispatchState) error {
	keys := st.plan.GlobalKeys()
	ids, err := d.platform.ResolveIDs(ctx, keys)
	if err != nil {
		d.logger.Error("record id resolution failed", "keys", len(keys), "error", err)
		st.result.ResolveError = err.Error()
		st.result.UnresolvedKeys = keys
		return errHalt
	}
	for _, k := range keys {
		if id, ok := ids[k]; ok && id != "" {
			st.ids[k] = id
			continue
		}
		st.result.UnresolvedKeys = append(st.result.UnresolvedKeys, k)
	}
	if n := len(st.result.UnresolvedKeys); n > 0 {
		d.logger.Warn("global keys without a record id", "unresolved", n, "keys", len(keys))
	}
	if len(st.ids) == 0 {
		return errHalt
	}
	return nil
}

func (d *Dispatcher) batch(ctx context.Context, st *dispatchState) error {
	groups := map[string][]string{}
	for _, r := range st.plan.Records() {
		id, ok := st.ids[r.Body.GlobalKey]
		if !ok || r.ProjectID == "" {
			continue
		}
		groups[r.ProjectID] = append(groups[r.ProjectID], id)
	}
	results := forEachTarget(ctx, sortedGroupKeys(groups), st.req.Workers, func(ctx context.Context, project string) domain.TargetResult {
		ids := groups[project]
		batchID, err := d.platform.CreateBatch(ctx, project, ids, st.req.Priority)
		if err != nil {
			d.logger.Error("batch creation failed", "project_id", project, "records", len(ids), "error", err)
			return domain.TargetResult{Target: project, Error: err.Error()}
		}
		d.logger.Debug("batch created", "project_id", project, "batch_id", batchID, "records", len(ids))
		return domain.TargetResult{Target: project, Count: len(ids)}
	})
	st.result.Batches = &domain.StageReport{Targets: results}
	st.markFailed(domain.StageBatch, results)
	return nil
}

func (d *Dispatcher) annotate(ctx context.Context, st *dispatchState) error {
	groups := map[string][]domain.Payload{}
	for _, r := range st.plan.Records() {
		id, ok := st.ids[r.Body.GlobalKey]
		if !ok || r.ProjectID == "" || len(r.Annotations) == 0 {
			continue
		}
		for _, p := range r.Annotations {
			groups[r.ProjectID] = append(groups[r.ProjectID], p.WithRecordID(id))
		}
	}
	mode := st.actions.Annotate.ImportMode()
	results := forEachTarget(ctx, sortedGroupKeys(groups), st.req.Workers, func(ctx context.Context, project string) domain.TargetResult {
		if st.failed[domain.StageBatch][project] {
			return domain.TargetResult{Target: project, Error: "skipped: batch creation failed for project"}
		}
		res, err := d.platform.UploadLabels(ctx, project, groups[project], mode)
		if err != nil {
			d.logger.Error("annotation upload failed", "project_id", project, "mode", mode, "error", err)
			return domain.TargetResult{Target: project, Error: err.Error()}
		}
		return domain.TargetResult{Target: project, Count: res.Accepted, Failures: res.Failures}
	})
	st.result.Annotations = &domain.StageReport{Targets: results}
	st.markFailed(domain.StageAnnotate, results)
	return nil
}

type runProject struct{ run, project string }

func (k runProject) String() string {
	run := k.run
	if run == "" {
		run = "-"
	}
	return run + "/" + k.project
}

// groundTruth promotes submitted labels on each record's model run. Records
// promoted here count as attached to the run.
func (d *Dispatcher) groundTruth(ctx context.Context, st *dispatchState) error {
	groups := map[string][]string{}
	keys := map[string]runProject{}
	for _, r := range st.plan.Records() {
		id, ok := st.ids[r.Body.GlobalKey]
		if !ok || r.ProjectID == "" || len(r.Annotations) == 0 {
			continue
		}
		k := runProject{run: r.ModelRunID, project: r.ProjectID}
		keys[k.String()] = k
		groups[k.String()] = append(groups[k.String()], id)
	}
	results := forEachTarget(ctx, sortedGroupKeys(groups), st.req.Workers, func(ctx context.Context, target string) domain.TargetResult {
		k := keys[target]
		switch {
		case k.run == "":
			return domain.TargetResult{Target: target, Error: "no model run for ground-truth promotion"}
		case st.failed[domain.StageAnnotate][k.project]:
			return domain.TargetResult{Target: target, Error: "skipped: annotation upload failed for project"}
		}
		res, err := d.platform.PromoteGroundTruth(ctx, k.run, k.project, groups[target])
		if err != nil {
			d.logger.Error("ground-truth promotion failed", "model_run_id", k.run, "project_id", k.project, "error", err)
			return domain.TargetResult{Target: target, Error: err.Error()}
		}
		return domain.TargetResult{Target: target, Count: res.Accepted, Failures: res.Failures}
	})
	st.result.GroundTruth = &domain.StageReport{Targets: results}
	st.markFailed(domain.StageGroundTruth, results)

	for _, r := range results {
		if r.Failed() {
			continue
		}
		k := keys[r.Target]
		if st.attached[k.run] == nil {
			st.attached[k.run] = map[string]bool{}
		}
		for _, id := range groups[r.Target] {
			st.attached[k.run][id] = true
		}
	}
	return nil
}

// predict attaches records not already attached by promotion to their model
// run, then uploads the predictions.
func (d *Dispatcher) predict(ctx context.Context, st *dispatchState) error {
	payloads := map[string][]domain.Payload{}
	members := map[string][]string{}
	for _, r := range st.plan.Records() {
		id, ok := st.ids[r.Body.GlobalKey]
		if !ok || r.ModelRunID == "" || len(r.Predictions) == 0 {
			continue
		}
		members[r.ModelRunID] = append(members[r.ModelRunID], id)
		for _, p := range r.Predictions {
			payloads[r.ModelRunID] = append(payloads[r.ModelRunID], p.WithRecordID(id))
		}
	}
	results := forEachTarget(ctx, sortedGroupKeys(payloads), st.req.Workers, func(ctx context.Context, run string) domain.TargetResult {
		var toAttach []string
		for _, id := range members[run] {
			if !st.attached[run][id] {
				toAttach = append(toAttach, id)
			}
		}
		if len(toAttach) > 0 {
			if err := d.platform.AttachRecords(ctx, run, toAttach); err != nil {
				d.logger.Error("attaching records to model run failed", "model_run_id", run, "records", len(toAttach), "error", err)
				return domain.TargetResult{Target: run, Error: fmt.Sprintf("attach records: %v", err)}
			}
		}
		res, err := d.platform.UploadPredictions(ctx, run, payloads[run])
		if err != nil {
			d.logger.Error("prediction upload failed", "model_run_id", run, "error", err)
			return domain.TargetResult{Target: run, Error: err.Error()}
		}
		return domain.TargetResult{Target: run, Count: res.Accepted, Failures: res.Failures}
	})
	st.result.Predictions = &domain.StageReport{Targets: results}
	st.markFailed(domain.StagePredict, results)
	return nil
}

func sortedGroupKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
