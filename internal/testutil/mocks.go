// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"labelsync/internal/domain"
)

// === Platform Mock ===

// MockPlatform implements domain.Platform for testing. Unset functions fall
// back to an always-succeeding in-memory platform: every created global key
// resolves to "id-<key>" and model runs are named "run-<model>".
type MockPlatform struct {
	CreateRecordsFn       func(ctx context.Context, datasetID string, records []domain.RecordBody, skipDuplicates bool) (*domain.CreateResult, error)
	ResolveIDsFn          func(ctx context.Context, globalKeys []string) (map[string]string, error)
	CreateBatchFn         func(ctx context.Context, projectID string, recordIDs []string, priority int) (string, error)
	UploadLabelsFn        func(ctx context.Context, projectID string, payloads []domain.Payload, mode domain.AnnotateMode) (*domain.ImportResult, error)
	UploadPredictionsFn   func(ctx context.Context, modelRunID string, payloads []domain.Payload) (*domain.ImportResult, error)
	CreateModelRunFn      func(ctx context.Context, modelID string) (string, error)
	AttachRecordsFn       func(ctx context.Context, modelRunID string, recordIDs []string) error
	PromoteGroundTruthFn  func(ctx context.Context, modelRunID, projectID string, recordIDs []string) (*domain.ImportResult, error)
	MetadataSchemaFn      func(ctx context.Context, divider string) (map[string]string, error)
	ProjectOntologyFn     func(ctx context.Context, projectID, divider string) (domain.OntologyIndex, error)
	ModelRunOntologyFn    func(ctx context.Context, modelRunID, divider string) (domain.OntologyIndex, error)
	CreateMetadataFieldFn func(ctx context.Context, name, kind string, options []string) (*domain.MetadataFieldRef, error)
	AddMetadataOptionsFn  func(ctx context.Context, fieldID string, options []string) (map[string]string, error)

	mu      sync.Mutex
	calls   []string
	created map[string]bool
}

func (m *MockPlatform) record(format string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls as "Method:target" strings in call order.
func (m *MockPlatform) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of recorded calls to the named method.
func (m *MockPlatform) CallCount(method string) int {
	n := 0
	for _, c := range m.Calls() {
		if c == method || strings.HasPrefix(c, method+":") {
			n++
		}
	}
	return n
}

// CreateRecords implements the interface method for testing.
func (m *MockPlatform) CreateRecords(ctx context.Context, datasetID string, records []domain.RecordBody, skipDuplicates bool) (*domain.CreateResult, error) {
	m.record("CreateRecords:%s", datasetID)
	if m.CreateRecordsFn != nil {
		return m.CreateRecordsFn(ctx, datasetID, records, skipDuplicates)
	}
	m.mu.Lock()
	if m.created == nil {
		m.created = make(map[string]bool)
	}
	for _, r := range records {
		m.created[r.GlobalKey] = true
	}
	m.mu.Unlock()
	return &domain.CreateResult{Created: len(records)}, nil
}

// ResolveIDs implements the interface method for testing.
func (m *MockPlatform) ResolveIDs(ctx context.Context, globalKeys []string) (map[string]string, error) {
	m.record("ResolveIDs")
	if m.ResolveIDsFn != nil {
		return m.ResolveIDsFn(ctx, globalKeys)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(globalKeys))
	for _, k := range globalKeys {
		if m.created[k] {
			out[k] = "id-" + k
		}
	}
	return out, nil
}

// CreateBatch implements the interface method for testing.
func (m *MockPlatform) CreateBatch(ctx context.Context, projectID string, recordIDs []string, priority int) (string, error) {
	m.record("CreateBatch:%s", projectID)
	if m.CreateBatchFn != nil {
		return m.CreateBatchFn(ctx, projectID, recordIDs, priority)
	}
	return "batch-" + projectID, nil
}

// UploadLabels implements the interface method for testing.
func (m *MockPlatform) UploadLabels(ctx context.Context, projectID string, payloads []domain.Payload, mode domain.AnnotateMode) (*domain.ImportResult, error) {
	m.record("UploadLabels:%s", projectID)
	if m.UploadLabelsFn != nil {
		return m.UploadLabelsFn(ctx, projectID, payloads, mode)
	}
	return &domain.ImportResult{Accepted: len(payloads)}, nil
}

// UploadPredictions implements the interface method for testing.
func (m *MockPlatform) UploadPredictions(ctx context.Context, modelRunID string, payloads []domain.Payload) (*domain.ImportResult, error) {
	m.record("UploadPredictions:%s", modelRunID)
	if m.UploadPredictionsFn != nil {
		return m.UploadPredictionsFn(ctx, modelRunID, payloads)
	}
	return &domain.ImportResult{Accepted: len(payloads)}, nil
}

// CreateModelRun implements the interface method for testing.
func (m *MockPlatform) CreateModelRun(ctx context.Context, modelID string) (string, error) {
	m.record("CreateModelRun:%s", modelID)
	if m.CreateModelRunFn != nil {
		return m.CreateModelRunFn(ctx, modelID)
	}
	return "run-" + modelID, nil
}

// AttachRecords implements the interface method for testing.
func (m *MockPlatform) AttachRecords(ctx context.Context, modelRunID string, recordIDs []string) error {
	m.record("AttachRecords:%s", modelRunID)
	if m.AttachRecordsFn != nil {
		return m.AttachRecordsFn(ctx, modelRunID, recordIDs)
	}
	return nil
}

// PromoteGroundTruth implements the interface method for testing.
func (m *MockPlatform) PromoteGroundTruth(ctx context.Context, modelRunID, projectID string, recordIDs []string) (*domain.ImportResult, error) {
	m.record("PromoteGroundTruth:%s/%s", modelRunID, projectID)
	if m.PromoteGroundTruthFn != nil {
		return m.PromoteGroundTruthFn(ctx, modelRunID, projectID, recordIDs)
	}
	return &domain.ImportResult{Accepted: len(recordIDs)}, nil
}

// MetadataSchema implements the interface method for testing.
func (m *MockPlatform) MetadataSchema(ctx context.Context, divider string) (map[string]string, error) {
	m.record("MetadataSchema")
	if m.MetadataSchemaFn != nil {
		return m.MetadataSchemaFn(ctx, divider)
	}
	return map[string]string{domain.IntegrationSourceField: "schema-source"}, nil
}

// ProjectOntology implements the interface method for testing.
func (m *MockPlatform) ProjectOntology(ctx context.Context, projectID, divider string) (domain.OntologyIndex, error) {
	m.record("ProjectOntology:%s", projectID)
	if m.ProjectOntologyFn != nil {
		return m.ProjectOntologyFn(ctx, projectID, divider)
	}
	return domain.OntologyIndex{}, nil
}

// ModelRunOntology implements the interface method for testing.
func (m *MockPlatform) ModelRunOntology(ctx context.Context, modelRunID, divider string) (domain.OntologyIndex, error) {
	m.record("ModelRunOntology:%s", modelRunID)
	if m.ModelRunOntologyFn != nil {
		return m.ModelRunOntologyFn(ctx, modelRunID, divider)
	}
	return domain.OntologyIndex{}, nil
}

// CreateMetadataField implements the interface method for testing. The
// default names the field "schema-<name>" and each option
// "schema-<name>-<option>".
func (m *MockPlatform) CreateMetadataField(ctx context.Context, name, kind string, options []string) (*domain.MetadataFieldRef, error) {
	m.record("CreateMetadataField:%s", name)
	if m.CreateMetadataFieldFn != nil {
		return m.CreateMetadataFieldFn(ctx, name, kind, options)
	}
	ref := &domain.MetadataFieldRef{ID: "schema-" + name, Options: map[string]string{}}
	for _, o := range options {
		ref.Options[o] = "schema-" + name + "-" + o
	}
	return ref, nil
}

// AddMetadataOptions implements the interface method for testing.
func (m *MockPlatform) AddMetadataOptions(ctx context.Context, fieldID string, options []string) (map[string]string, error) {
	m.record("AddMetadataOptions:%s", fieldID)
	if m.AddMetadataOptionsFn != nil {
		return m.AddMetadataOptionsFn(ctx, fieldID, options)
	}
	out := make(map[string]string, len(options))
	for _, o := range options {
		out[o] = fieldID + "-" + o
	}
	return out, nil
}

var _ domain.Platform = (*MockPlatform)(nil)

// === Metadata Processor Mock ===

// MockMetadataProcessor implements domain.MetadataProcessor for testing.
// Without ProcessFn it returns the cell rendered as a string, or nil when empty.
type MockMetadataProcessor struct {
	ProcessFn func(value any, metadataType, fieldName string, schema map[string]string, divider string) (any, error)
}

// Process implements the interface method for testing.
func (m *MockMetadataProcessor) Process(value any, metadataType, fieldName string, schema map[string]string, divider string) (any, error) {
	if m.ProcessFn != nil {
		return m.ProcessFn(value, metadataType, fieldName, schema, divider)
	}
	s := domain.CellString(value)
	if s == "" {
		return nil, nil
	}
	return s, nil
}

var _ domain.MetadataProcessor = (*MockMetadataProcessor)(nil)

// === Annotation Encoder Mock ===

// MockEncoder implements domain.AnnotationEncoder for testing. Without
// EncodeFn it emits one classification payload per cell.
type MockEncoder struct {
	EncodeFn func(featureName string, cell any, ontology domain.OntologyIndex, confidence bool, divider string) ([]domain.Payload, error)
}

// Encode implements the interface method for testing.
func (m *MockEncoder) Encode(featureName string, cell any, ontology domain.OntologyIndex, confidence bool, divider string) ([]domain.Payload, error) {
	if m.EncodeFn != nil {
		return m.EncodeFn(featureName, cell, ontology, confidence, divider)
	}
	answer := map[string]any{"name": domain.CellString(cell)}
	if confidence {
		answer["confidence"] = 1.0
	}
	return []domain.Payload{{"name": featureName, "answer": answer}}, nil
}

var _ domain.AnnotationEncoder = (*MockEncoder)(nil)

// === Upload Run Repository Mock ===

// MockUploadRunRepo implements domain.UploadRunRepository for testing.
type MockUploadRunRepo struct {
	CreateFn     func(ctx context.Context, run *domain.UploadRun) error
	GetByIDFn    func(ctx context.Context, id string) (*domain.UploadRun, error)
	ListFn       func(ctx context.Context, filter domain.UploadRunFilter) (*domain.UploadRunPage, error)
	ListErrorsFn func(ctx context.Context, runID string) ([]domain.RunError, error)

	mu   sync.Mutex
	Runs []*domain.UploadRun // collected runs for assertions
}

// Create implements the interface method for testing.
func (m *MockUploadRunRepo) Create(ctx context.Context, run *domain.UploadRun) error {
	if m.CreateFn != nil {
		if err := m.CreateFn(ctx, run); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.Runs = append(m.Runs, run)
	m.mu.Unlock()
	return nil
}

// GetByID implements the interface method for testing.
func (m *MockUploadRunRepo) GetByID(ctx context.Context, id string) (*domain.UploadRun, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Runs {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, domain.ErrNotFound("upload run %q not found", id)
}

// List implements the interface method for testing.
func (m *MockUploadRunRepo) List(ctx context.Context, filter domain.UploadRunFilter) (*domain.UploadRunPage, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	panic("unexpected call to MockUploadRunRepo.List")
}

// ListErrors implements the interface method for testing.
func (m *MockUploadRunRepo) ListErrors(ctx context.Context, runID string) ([]domain.RunError, error) {
	if m.ListErrorsFn != nil {
		return m.ListErrorsFn(ctx, runID)
	}
	panic("unexpected call to MockUploadRunRepo.ListErrors")
}

// LastRun returns the last collected run, or nil if none.
func (m *MockUploadRunRepo) LastRun() *domain.UploadRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Runs) == 0 {
		return nil
	}
	return m.Runs[len(m.Runs)-1]
}

var _ domain.UploadRunRepository = (*MockUploadRunRepo)(nil)

// SortedCalls returns the recorded calls sorted, for order-insensitive assertions.
func (m *MockPlatform) SortedCalls() []string {
	calls := m.Calls()
	sort.Strings(calls)
	return calls
}
