package domain

import "context"

// OntologyIndex maps a name path ("feature///option") to a schema id.
type OntologyIndex map[string]string

// CreateResult is the platform response to a bulk record creation.
type CreateResult struct {
	Created  int
	Failures []RecordFailure
}

// ImportResult is the platform response to a label, prediction or
// ground-truth import.
type ImportResult struct {
	Accepted int
	Failures []RecordFailure
}

// RecordCreator creates data records in a dataset. skipDuplicates selects the
// platform's global-key collision policy (skip, or suffix the key).
type RecordCreator interface {
	CreateRecords(ctx context.Context, datasetID string, records []RecordBody, skipDuplicates bool) (*CreateResult, error)
}

// IDResolver maps global keys to remote record ids. Keys without a record
// are absent from the returned map.
type IDResolver interface {
	ResolveIDs(ctx context.Context, globalKeys []string) (map[string]string, error)
}

// Batcher queues records into a project.
type Batcher interface {
	CreateBatch(ctx context.Context, projectID string, recordIDs []string, priority int) (string, error)
}

// LabelUploader uploads annotation and prediction payloads.
type LabelUploader interface {
	UploadLabels(ctx context.Context, projectID string, payloads []Payload, mode AnnotateMode) (*ImportResult, error)
	UploadPredictions(ctx context.Context, modelRunID string, payloads []Payload) (*ImportResult, error)
}

// ModelRunManager manages model runs and their record membership.
type ModelRunManager interface {
	CreateModelRun(ctx context.Context, modelID string) (string, error)
	AttachRecords(ctx context.Context, modelRunID string, recordIDs []string) error
	PromoteGroundTruth(ctx context.Context, modelRunID, projectID string, recordIDs []string) (*ImportResult, error)
}

// SchemaResolver looks up metadata schema and ontology indices.
type SchemaResolver interface {
	// MetadataSchema returns name key → schema id for every metadata field.
	// Enum options appear as "field<divider>option".
	MetadataSchema(ctx context.Context, divider string) (map[string]string, error)
	ProjectOntology(ctx context.Context, projectID, divider string) (OntologyIndex, error)
	ModelRunOntology(ctx context.Context, modelRunID, divider string) (OntologyIndex, error)
}

// MetadataFieldRef identifies a metadata field created on the platform.
type MetadataFieldRef struct {
	ID      string
	Options map[string]string // enum option name → schema id
}

// MetadataSchemaWriter adds metadata fields and enum options to the
// platform schema.
type MetadataSchemaWriter interface {
	CreateMetadataField(ctx context.Context, name, kind string, options []string) (*MetadataFieldRef, error)
	// AddMetadataOptions returns option name → schema id for the added options.
	AddMetadataOptions(ctx context.Context, fieldID string, options []string) (map[string]string, error)
}

// Platform is the full remote annotation-platform contract.
type Platform interface {
	RecordCreator
	IDResolver
	Batcher
	LabelUploader
	ModelRunManager
	SchemaResolver
	MetadataSchemaWriter
}

// MetadataProcessor normalizes one metadata cell. A nil result, or one that
// renders empty (an empty string, slice or map, or NaN), skips the field.
type MetadataProcessor interface {
	Process(value any, metadataType, fieldName string, schema map[string]string, divider string) (any, error)
}

// AnnotationEncoder turns one annotation cell into NDJSON payloads without
// a record reference.
type AnnotationEncoder interface {
	Encode(featureName string, cell any, ontology OntologyIndex, confidence bool, divider string) ([]Payload, error)
}
