package domain

// Dispatch stage names.
const (
	StageCreate      = "create"
	StageResolveIDs  = "resolve_ids"
	StageBatch       = "batch"
	StageAnnotate    = "annotate"
	StageGroundTruth = "ground_truth"
	StagePredict     = "predict"
)

// RecordFailure is a per-record failure reported by the platform.
type RecordFailure struct {
	GlobalKey string `json:"global_key,omitempty"`
	RecordID  string `json:"record_id,omitempty"`
	Message   string `json:"message"`
}

// TargetResult is the outcome of one stage call against one target
// (dataset, project or model run).
type TargetResult struct {
	Target   string          `json:"target"`
	Count    int             `json:"count"`
	Error    string          `json:"error,omitempty"`
	Failures []RecordFailure `json:"failures,omitempty"`
}

// Failed reports whether the call for this target failed outright.
func (t TargetResult) Failed() bool { return t.Error != "" }

// StageReport collects the per-target results of one attempted stage.
// A nil *StageReport means the stage was not triggered.
type StageReport struct {
	Targets []TargetResult `json:"targets"`
}

// FailedTargets returns the number of targets whose call failed.
func (s *StageReport) FailedTargets() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, t := range s.Targets {
		if t.Failed() {
			n++
		}
	}
	return n
}

// Count returns the total number of items the stage processed successfully.
func (s *StageReport) Count() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, t := range s.Targets {
		if !t.Failed() {
			n += t.Count
		}
	}
	return n
}

// UploadResult is the aggregated outcome of one table upload. Stage
// sections are nil (and omitted from JSON) for stages that did not run.
type UploadResult struct {
	RunID            string            `json:"run_id,omitempty"`
	Actions          ActionSet         `json:"actions"`
	Creation         *StageReport      `json:"creation_results,omitempty"`
	Batches          *StageReport      `json:"batch_results,omitempty"`
	Annotations      *StageReport      `json:"annotation_results,omitempty"`
	GroundTruth      *StageReport      `json:"ground_truth_results,omitempty"`
	Predictions      *StageReport      `json:"prediction_results,omitempty"`
	ConversionErrors []ConversionError `json:"conversion_errors"`
	UnresolvedKeys   []string          `json:"unresolved_keys,omitempty"`
	ResolveError     string            `json:"resolve_error,omitempty"`
	DuplicateKeys    int               `json:"duplicate_keys"`
	PlannedRecords   int               `json:"planned_records"`
}

// Stages returns the attempted stage reports keyed by stage name.
func (r *UploadResult) Stages() map[string]*StageReport {
	out := make(map[string]*StageReport)
	if r.Creation != nil {
		out[StageCreate] = r.Creation
	}
	if r.Batches != nil {
		out[StageBatch] = r.Batches
	}
	if r.Annotations != nil {
		out[StageAnnotate] = r.Annotations
	}
	if r.GroundTruth != nil {
		out[StageGroundTruth] = r.GroundTruth
	}
	if r.Predictions != nil {
		out[StagePredict] = r.Predictions
	}
	return out
}

// FailedTargets returns the number of failed targets across every stage.
func (r *UploadResult) FailedTargets() int {
	n := 0
	for _, s := range r.Stages() {
		n += s.FailedTargets()
	}
	return n
}

// Status summarises the run outcome.
func (r *UploadResult) Status() RunStatus {
	if r.PlannedRecords == 0 {
		return RunStatusFailed
	}
	if r.ResolveError != "" || r.FailedTargets() > 0 ||
		len(r.ConversionErrors) > 0 || len(r.UnresolvedKeys) > 0 {
		if r.Creation != nil && r.Creation.Count() == 0 && r.Creation.FailedTargets() == len(r.Creation.Targets) {
			return RunStatusFailed
		}
		return RunStatusPartial
	}
	return RunStatusSuccess
}
