package domain

import (
	"fmt"
	"sort"
)

// Reserved column names recognised in the source table.
const (
	ColumnRowData    = "row_data"
	ColumnGlobalKey  = "global_key"
	ColumnExternalID = "external_id"
	ColumnDatasetID  = "dataset_id"
	ColumnProjectID  = "project_id"
	ColumnModelID    = "model_id"
	ColumnModelRunID = "model_run_id"
)

// Reserved column-name prefixes. A prefixed column is split on the divider,
// e.g. "metadata///string///camera".
const (
	PrefixMetadata   = "metadata"
	PrefixAttachment = "attachment"
	PrefixAnnotation = "annotation"
	PrefixPrediction = "prediction"
)

// DefaultDivider separates the parts of prefixed column names and ontology name paths.
const DefaultDivider = "///"

// Provenance metadata stamped on every created record.
const (
	IntegrationSourceField = "lb_integration_source"
	IntegrationSourceValue = "LabelSync"
)

// PayloadRecordKey is the payload key holding the remote record reference.
// It is only set during dispatch, once remote ids are known.
const PayloadRecordKey = "dataRow"

// ReservedColumns lists the non-prefixed reserved column names.
var ReservedColumns = []string{
	ColumnRowData, ColumnGlobalKey, ColumnExternalID,
	ColumnDatasetID, ColumnProjectID, ColumnModelID, ColumnModelRunID,
}

// MetadataField is one metadata value attached to a record.
type MetadataField struct {
	SchemaID string `json:"schema_id"`
	Value    any    `json:"value"`
}

// Attachment is one attachment on a record.
type Attachment struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// RecordBody is the data-record creation payload.
type RecordBody struct {
	GlobalKey      string          `json:"global_key"`
	RowData        string          `json:"row_data"`
	ExternalID     string          `json:"external_id"`
	MetadataFields []MetadataField `json:"metadata_fields"`
	Attachments    []Attachment    `json:"attachments,omitempty"`
}

// Payload is one NDJSON annotation or prediction object.
type Payload map[string]any

// WithRecordID returns a shallow copy of the payload referencing the remote record.
func (p Payload) WithRecordID(recordID string) Payload {
	out := make(Payload, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[PayloadRecordKey] = map[string]any{"id": recordID}
	return out
}

// UploadRecord is the normalized per-row output of conversion.
type UploadRecord struct {
	Body        RecordBody `json:"record"`
	DatasetID   string     `json:"dataset_id"`
	ProjectID   string     `json:"project_id"`
	ModelRunID  string     `json:"model_run_id"`
	Annotations []Payload  `json:"annotations,omitempty"`
	Predictions []Payload  `json:"predictions,omitempty"`
}

// UploadPlan groups records by dataset id, then global key.
type UploadPlan map[string]map[string]*UploadRecord

// Put stores the record under its dataset and global key. A global key
// appears at most once across the whole plan: an earlier record for the
// same key is removed, whichever dataset it was in. Reports whether a
// record was replaced.
func (p UploadPlan) Put(r *UploadRecord) bool {
	key := r.Body.GlobalKey
	replaced := false
	for ds, byKey := range p {
		if _, ok := byKey[key]; !ok {
			continue
		}
		replaced = true
		delete(byKey, key)
		if len(byKey) == 0 {
			delete(p, ds)
		}
	}
	byKey, ok := p[r.DatasetID]
	if !ok {
		byKey = make(map[string]*UploadRecord)
		p[r.DatasetID] = byKey
	}
	byKey[key] = r
	return replaced
}

// Get returns the record for a dataset and global key.
func (p UploadPlan) Get(datasetID, globalKey string) (*UploadRecord, bool) {
	r, ok := p[datasetID][globalKey]
	return r, ok
}

// Len returns the total number of records.
func (p UploadPlan) Len() int {
	n := 0
	for _, byKey := range p {
		n += len(byKey)
	}
	return n
}

// DatasetIDs returns the dataset ids in sorted order.
func (p UploadPlan) DatasetIDs() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Records returns every record ordered by dataset id, then global key.
func (p UploadPlan) Records() []*UploadRecord {
	out := make([]*UploadRecord, 0, p.Len())
	for _, ds := range p.DatasetIDs() {
		out = append(out, p.DatasetRecords(ds)...)
	}
	return out
}

// DatasetRecords returns the records of one dataset ordered by global key.
func (p UploadPlan) DatasetRecords(datasetID string) []*UploadRecord {
	byKey := p[datasetID]
	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*UploadRecord, len(keys))
	for i, k := range keys {
		out[i] = byKey[k]
	}
	return out
}

// GlobalKeys returns the distinct global keys across all datasets, sorted.
func (p UploadPlan) GlobalKeys() []string {
	seen := make(map[string]struct{})
	for _, byKey := range p {
		for k := range byKey {
			seen[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AnnotateMode selects how annotations are uploaded.
type AnnotateMode string

// Annotation upload modes.
const (
	AnnotateNone        AnnotateMode = ""
	AnnotatePreLabel    AnnotateMode = "mal"
	AnnotateSubmit      AnnotateMode = "import"
	AnnotateGroundTruth AnnotateMode = "ground-truth"
)

// ParseAnnotateMode validates an upload method string.
func ParseAnnotateMode(s string) (AnnotateMode, error) {
	switch m := AnnotateMode(s); m {
	case AnnotateNone, AnnotatePreLabel, AnnotateSubmit, AnnotateGroundTruth:
		return m, nil
	default:
		return AnnotateNone, ErrConfig("invalid upload method %q: must be one of \"\", \"mal\", \"import\", \"ground-truth\"", s)
	}
}

// ImportMode returns the label import mode sent to the platform. Ground-truth
// labels are submitted as regular imports and promoted afterwards.
func (m AnnotateMode) ImportMode() AnnotateMode {
	if m == AnnotateGroundTruth {
		return AnnotateSubmit
	}
	return m
}

// ActionSet is the set of upload actions for one invocation.
type ActionSet struct {
	Create   bool         `json:"create"`
	Batch    bool         `json:"batch"`
	Annotate AnnotateMode `json:"annotate"`
	Predict  bool         `json:"predict"`
}

// Annotating reports whether annotations are uploaded.
func (a ActionSet) Annotating() bool { return a.Annotate != AnnotateNone }

// NeedsRecordIDs reports whether any stage addresses records by remote id.
func (a ActionSet) NeedsRecordIDs() bool {
	return a.Batch || a.Annotating() || a.Predict
}

// NeedsModelRuns reports whether records must be linked to model runs.
func (a ActionSet) NeedsModelRuns() bool {
	return a.Predict || a.Annotate == AnnotateGroundTruth
}

// Targets holds the caller-supplied explicit identifiers.
type Targets struct {
	DatasetID  string `json:"dataset_id,omitempty" yaml:"dataset_id,omitempty"`
	ProjectID  string `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	ModelID    string `json:"model_id,omitempty" yaml:"model_id,omitempty"`
	ModelRunID string `json:"model_run_id,omitempty" yaml:"model_run_id,omitempty"`
}

// UploadRequest carries the caller's intent for one table upload.
type UploadRequest struct {
	Targets        `yaml:",inline"`
	UploadMethod   string `json:"upload_method,omitempty" yaml:"upload_method,omitempty"`
	SkipDuplicates bool   `json:"skip_duplicates,omitempty" yaml:"skip_duplicates,omitempty"`
	Priority       int    `json:"priority,omitempty" yaml:"priority,omitempty"`
	Divider        string `json:"divider,omitempty" yaml:"divider,omitempty"`
	Workers        int    `json:"workers,omitempty" yaml:"workers,omitempty"`
}

// Batch priority bounds.
const (
	MinBatchPriority     = 1
	MaxBatchPriority     = 5
	DefaultBatchPriority = 5
	DefaultUploadWorkers = 8
)

// WithDefaults fills unset fields and validates the priority range.
func (r UploadRequest) WithDefaults() (UploadRequest, error) {
	if r.Divider == "" {
		r.Divider = DefaultDivider
	}
	if r.Priority == 0 {
		r.Priority = DefaultBatchPriority
	}
	if r.Priority < MinBatchPriority || r.Priority > MaxBatchPriority {
		return r, ErrValidation("priority must be between %d and %d, got %d", MinBatchPriority, MaxBatchPriority, r.Priority)
	}
	if r.Workers <= 0 {
		r.Workers = DefaultUploadWorkers
	}
	return r, nil
}

// ReasonCode classifies a row conversion failure.
type ReasonCode string

// Row conversion failure reasons.
const (
	ReasonMissingColumn ReasonCode = "missing_column"
	ReasonInvalidValue  ReasonCode = "invalid_value"
	ReasonMetadata      ReasonCode = "metadata"
	ReasonAttachment    ReasonCode = "attachment"
	ReasonAnnotation    ReasonCode = "annotation"
	ReasonPrediction    ReasonCode = "prediction"
	ReasonLookup        ReasonCode = "lookup"
	ReasonPanic         ReasonCode = "panic"
)

// ConversionError describes one row that could not be converted.
type ConversionError struct {
	Row       int        `json:"row"`
	GlobalKey string     `json:"global_key"`
	Reason    ReasonCode `json:"reason"`
	Message   string     `json:"message"`
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("row %d (global key %q): %s: %s", e.Row, e.GlobalKey, e.Reason, e.Message)
}
