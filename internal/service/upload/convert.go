package upload

import (
	"fmt"

	"labelsync/internal/domain"
)

// Lookups are the shared, read-only lookups built once per upload before
// rows are converted.
type Lookups struct {
	// MetadataSchema maps metadata field names (and "field<div>option" for
	// enum options) to schema ids.
	MetadataSchema map[string]string

	ProjectOntologies      map[string]domain.OntologyIndex
	ProjectOntologyErrors  map[string]error
	ModelRunOntologies     map[string]domain.OntologyIndex
	ModelRunOntologyErrors map[string]error

	// ModelRuns maps a bare model id to the run created for this upload.
	ModelRuns      map[string]string
	ModelRunErrors map[string]error
}

func newLookups() *Lookups {
	return &Lookups{
		MetadataSchema:         map[string]string{},
		ProjectOntologies:      map[string]domain.OntologyIndex{},
		ProjectOntologyErrors:  map[string]error{},
		ModelRunOntologies:     map[string]domain.OntologyIndex{},
		ModelRunOntologyErrors: map[string]error{},
		ModelRuns:              map[string]string{},
		ModelRunErrors:         map[string]error{},
	}
}

// rowTargets resolves per-row identifiers: explicit value, then column value.
type rowTargets struct {
	targets domain.Targets
	roles   Roles
}

func (t rowTargets) pick(explicit, column string, row domain.Row) string {
	if explicit != "" {
		return explicit
	}
	if column == "" {
		return ""
	}
	return domain.CellString(row[column])
}

func (t rowTargets) dataset(row domain.Row) string {
	return t.pick(t.targets.DatasetID, t.roles.DatasetIDCol, row)
}

func (t rowTargets) project(row domain.Row) string {
	return t.pick(t.targets.ProjectID, t.roles.ProjectIDCol, row)
}

func (t rowTargets) modelRun(row domain.Row) string {
	return t.pick(t.targets.ModelRunID, t.roles.ModelRunIDCol, row)
}

func (t rowTargets) model(row domain.Row) string {
	return t.pick(t.targets.ModelID, t.roles.ModelIDCol, row)
}

// Converter turns one table row into an UploadRecord. It holds no mutable
// state and is safe for concurrent use.
type Converter struct {
	roles     Roles
	actions   domain.ActionSet
	targets   rowTargets
	lookups   *Lookups
	processor domain.MetadataProcessor
	encoder   domain.AnnotationEncoder
	divider   string
}

// NewConverter creates a Converter. lookups must not be modified while the
// converter is in use.
func NewConverter(roles Roles, actions domain.ActionSet, targets domain.Targets, lookups *Lookups,
	processor domain.MetadataProcessor, encoder domain.AnnotationEncoder, divider string) *Converter {
	if lookups == nil {
		lookups = newLookups()
	}
	if divider == "" {
		divider = domain.DefaultDivider
	}
	return &Converter{
		roles:     roles,
		actions:   actions,
		targets:   rowTargets{targets: targets, roles: roles},
		lookups:   lookups,
		processor: processor,
		encoder:   encoder,
		divider:   divider,
	}
}

// Convert builds the upload record for row i. Any failure, including a
// panic in a collaborator, is returned as a ConversionError.
func (c *Converter) Convert(i int, row domain.Row) (rec *domain.UploadRecord, cerr *domain.ConversionError) {
	globalKey := domain.CellString(row[c.roles.GlobalKeyCol])
	fail := func(reason domain.ReasonCode, format string, args ...any) *domain.ConversionError {
		return &domain.ConversionError{Row: i, GlobalKey: globalKey, Reason: reason, Message: fmt.Sprintf(format, args...)}
	}
	defer func() {
		if r := recover(); r != nil {
			rec, cerr = nil, fail(domain.ReasonPanic, "%v", r)
		}
	}()

	if globalKey == "" {
		return nil, fail(domain.ReasonInvalidValue, "empty global key in column %q", c.roles.GlobalKeyCol)
	}
	rowData := domain.CellString(row[c.roles.RowDataCol])
	if rowData == "" {
		return nil, fail(domain.ReasonInvalidValue, "empty %q", c.roles.RowDataCol)
	}

	rec = &domain.UploadRecord{
		DatasetID: c.targets.dataset(row),
		ProjectID: c.targets.project(row),
	}
	if rec.DatasetID == "" {
		return nil, fail(domain.ReasonMissingColumn, "no dataset id for row")
	}
	if c.actions.NeedsModelRuns() {
		run, err := c.modelRunFor(row)
		if err != nil {
			return nil, fail(domain.ReasonLookup, "%v", err)
		}
		rec.ModelRunID = run
	}

	rec.Body = domain.RecordBody{
		GlobalKey:  globalKey,
		RowData:    rowData,
		ExternalID: domain.CellString(row[c.roles.ExternalIDCol]),
	}
	if rec.Body.ExternalID == "" {
		rec.Body.ExternalID = globalKey
	}

	fields, err := c.metadataFields(row)
	if err != nil {
		return nil, fail(domain.ReasonMetadata, "%v", err)
	}
	rec.Body.MetadataFields = fields
	rec.Body.Attachments = c.attachments(row)

	if c.actions.Annotating() && rec.ProjectID != "" {
		if err := c.lookups.ProjectOntologyErrors[rec.ProjectID]; err != nil {
			return nil, fail(domain.ReasonLookup, "ontology for project %s: %v", rec.ProjectID, err)
		}
		ontology := c.lookups.ProjectOntologies[rec.ProjectID]
		payloads, err := c.encode(row, c.roles.AnnotationIndex, ontology, false)
		if err != nil {
			return nil, fail(domain.ReasonAnnotation, "%v", err)
		}
		rec.Annotations = payloads
	}

	if c.actions.Predict && rec.ModelRunID != "" {
		if err := c.lookups.ModelRunOntologyErrors[rec.ModelRunID]; err != nil {
			return nil, fail(domain.ReasonLookup, "ontology for model run %s: %v", rec.ModelRunID, err)
		}
		ontology := c.lookups.ModelRunOntologies[rec.ModelRunID]
		payloads, err := c.encode(row, c.roles.PredictionIndex, ontology, true)
		if err != nil {
			return nil, fail(domain.ReasonPrediction, "%v", err)
		}
		rec.Predictions = payloads
	}
	return rec, nil
}

// modelRunFor resolves the row's model run: explicit run, run column, then
// the run created for the row's model.
func (c *Converter) modelRunFor(row domain.Row) (string, error) {
	if run := c.targets.modelRun(row); run != "" {
		return run, nil
	}
	model := c.targets.model(row)
	if model == "" {
		return "", nil
	}
	if err := c.lookups.ModelRunErrors[model]; err != nil {
		return "", fmt.Errorf("model run for model %s: %w", model, err)
	}
	return c.lookups.ModelRuns[model], nil
}

func (c *Converter) metadataFields(row domain.Row) ([]domain.MetadataField, error) {
	schema := c.lookups.MetadataSchema
	fields := []domain.MetadataField{{
		SchemaID: schemaRef(schema, domain.IntegrationSourceField),
		Value:    domain.IntegrationSourceValue,
	}}
	for _, name := range c.roles.MetadataNames() {
		typ := c.roles.MetadataIndex[name]
		value, err := c.processor.Process(row[c.roles.MetadataColumns[name]], typ, name, schema, c.divider)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		if emptyMetadata(value) {
			continue
		}
		id, ok := schema[name]
		if !ok {
			return nil, fmt.Errorf("field %q: not in metadata schema", name)
		}
		fields = append(fields, domain.MetadataField{SchemaID: id, Value: value})
	}
	return fields, nil
}

// emptyMetadata reports whether a processed metadata value carries nothing
// to upload.
func emptyMetadata(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return domain.CellString(v) == ""
}

func (c *Converter) attachments(row domain.Row) []domain.Attachment {
	var out []domain.Attachment
	for _, col := range sortedKeys(c.roles.AttachmentIndex) {
		v := domain.CellString(row[col])
		if v == "" {
			continue
		}
		out = append(out, domain.Attachment{Type: c.roles.AttachmentIndex[col], Value: v})
	}
	return out
}

func (c *Converter) encode(row domain.Row, index map[string]string, ontology domain.OntologyIndex, confidence bool) ([]domain.Payload, error) {
	var out []domain.Payload
	for _, col := range sortedKeys(index) {
		cell := row[col]
		if domain.CellString(cell) == "" {
			continue
		}
		payloads, err := c.encoder.Encode(index[col], cell, ontology, confidence, c.divider)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col, err)
		}
		out = append(out, payloads...)
	}
	return out, nil
}

// schemaRef returns the schema id for a field, falling back to the field
// name, which the platform also accepts for reserved fields.
func schemaRef(schema map[string]string, name string) string {
	if id, ok := schema[name]; ok {
		return id
	}
	return name
}
