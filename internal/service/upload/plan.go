package upload

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"golang.org/x/sync/errgroup"

	"labelsync/internal/domain"
)

// lookupPlatform is the part of the platform the plan builder needs.
type lookupPlatform interface {
	domain.SchemaResolver
	domain.MetadataSchemaWriter
	CreateModelRun(ctx context.Context, modelID string) (string, error)
}

// PlanBuilder converts a table into an UploadPlan.
type PlanBuilder struct {
	platform  lookupPlatform
	processor domain.MetadataProcessor
	encoder   domain.AnnotationEncoder
	logger    *slog.Logger
}

// NewPlanBuilder creates a PlanBuilder.
func NewPlanBuilder(platform lookupPlatform, processor domain.MetadataProcessor, encoder domain.AnnotationEncoder, logger *slog.Logger) *PlanBuilder {
	return &PlanBuilder{platform: platform, processor: processor, encoder: encoder, logger: logger}
}

// PlanInput is everything resolved before plan building.
type PlanInput struct {
	Table   *domain.Table
	Roles   Roles
	Actions domain.ActionSet
	Request domain.UploadRequest

	// DryRun creates nothing on the platform: bare model ids stay
	// unresolved and missing metadata fields are reported instead of
	// created. Used for plan-only validation.
	DryRun bool
}

// BuiltPlan is the output of plan building.
type BuiltPlan struct {
	Plan             domain.UploadPlan
	ConversionErrors []domain.ConversionError
	DuplicateKeys    int
	Lookups          *Lookups
	// PendingModels lists bare model ids left without a run (DryRun).
	PendingModels []string
	// PendingMetadata lists metadata fields and enum options
	// ("field<divider>option") that an upload would create (DryRun).
	PendingMetadata []string
}

// Build fetches shared lookups once, converts every row on a bounded worker
// pool, then merges results in row order. For a repeated global key the
// last row wins.
func (b *PlanBuilder) Build(ctx context.Context, in PlanInput) (*BuiltPlan, error) {
	workers := in.Request.Workers
	if workers <= 0 {
		workers = domain.DefaultUploadWorkers
	}
	divider := in.Request.Divider
	if divider == "" {
		divider = domain.DefaultDivider
	}

	keys := in.Table.UniqueValues(in.Roles.GlobalKeyCol)
	nonEmpty := 0
	for _, r := range in.Table.Rows {
		if domain.CellString(r[in.Roles.GlobalKeyCol]) != "" {
			nonEmpty++
		}
	}
	duplicates := nonEmpty - len(keys)
	if duplicates > 0 {
		b.logger.Warn("duplicate global keys in table, the last row for each key wins",
			"rows", in.Table.Len(), "unique_keys", len(keys), "duplicates", duplicates)
	}

	lookups, pending, err := b.fetchLookups(ctx, in, divider)
	if err != nil {
		return nil, err
	}

	conv := NewConverter(in.Roles, in.Actions, in.Request.Targets, lookups, b.processor, b.encoder, divider)

	type result struct {
		rec  *domain.UploadRecord
		cerr *domain.ConversionError
	}
	results := make([]result, len(in.Table.Rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, row := range in.Table.Rows {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec, cerr := conv.Convert(i, row)
			results[i] = result{rec: rec, cerr: cerr}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("convert rows: %w", err)
	}

	out := &BuiltPlan{
		Plan:             make(domain.UploadPlan),
		ConversionErrors: []domain.ConversionError{},
		DuplicateKeys:    duplicates,
		Lookups:          lookups,
		PendingModels:    pending.models,
		PendingMetadata:  pending.metadata,
	}
	for _, r := range results {
		if r.cerr != nil {
			out.ConversionErrors = append(out.ConversionErrors, *r.cerr)
			continue
		}
		out.Plan.Put(r.rec)
	}
	if n := len(out.ConversionErrors); n > 0 {
		b.logger.Warn("rows failed conversion", "failed", n, "rows", in.Table.Len())
	}
	b.logger.Debug("upload plan built", "records", out.Plan.Len(), "datasets", len(out.Plan))
	return out, nil
}

// pendingWrites lists what a dry run would have created.
type pendingWrites struct {
	models   []string
	metadata []string
}

// fetchLookups resolves metadata schema, ontologies and model runs. A schema
// failure, or a failure to add a missing metadata field, is fatal; a failed
// ontology or model run only affects the rows that reference it.
func (b *PlanBuilder) fetchLookups(ctx context.Context, in PlanInput, divider string) (*Lookups, pendingWrites, error) {
	l := newLookups()
	var pending pendingWrites

	schema, err := b.platform.MetadataSchema(ctx, divider)
	if err != nil {
		return nil, pending, fmt.Errorf("fetch metadata schema: %w", err)
	}
	maps.Copy(l.MetadataSchema, schema)

	pending.metadata, err = b.syncMetadataSchema(ctx, in, l.MetadataSchema, divider)
	if err != nil {
		return nil, pending, err
	}

	t := rowTargets{targets: in.Request.Targets, roles: in.Roles}

	if in.Actions.Annotating() {
		for _, project := range distinct(in.Table.Rows, t.project) {
			ont, err := b.platform.ProjectOntology(ctx, project, divider)
			if err != nil {
				b.logger.Warn("project ontology lookup failed", "project_id", project, "error", err)
				l.ProjectOntologyErrors[project] = err
				continue
			}
			l.ProjectOntologies[project] = ont
		}
	}

	if !in.Actions.NeedsModelRuns() {
		return l, pending, nil
	}

	// Rows without an explicit or column run fall back to their model.
	var runs []string
	var models []string
	seenRun := map[string]bool{}
	seenModel := map[string]bool{}
	for _, row := range in.Table.Rows {
		if run := t.modelRun(row); run != "" {
			if !seenRun[run] {
				seenRun[run] = true
				runs = append(runs, run)
			}
			continue
		}
		if model := t.model(row); model != "" && !seenModel[model] {
			seenModel[model] = true
			models = append(models, model)
		}
	}

	for _, model := range models {
		if in.DryRun {
			pending.models = append(pending.models, model)
			continue
		}
		run, err := b.platform.CreateModelRun(ctx, model)
		if err != nil {
			b.logger.Warn("model run creation failed", "model_id", model, "error", err)
			l.ModelRunErrors[model] = err
			continue
		}
		b.logger.Info("model run created", "model_id", model, "model_run_id", run)
		l.ModelRuns[model] = run
		if !seenRun[run] {
			seenRun[run] = true
			runs = append(runs, run)
		}
	}

	if in.Actions.Predict {
		for _, run := range runs {
			ont, err := b.platform.ModelRunOntology(ctx, run, divider)
			if err != nil {
				b.logger.Warn("model run ontology lookup failed", "model_run_id", run, "error", err)
				l.ModelRunOntologyErrors[run] = err
				continue
			}
			l.ModelRunOntologies[run] = ont
		}
	}
	return l, pending, nil
}

// syncMetadataSchema adds every metadata field the table uses, and every
// enum option its cells use, that the schema lacks. The integration source
// field is always synced as a string field. New schema ids are merged into
// schema. In a dry run nothing is created; the missing names are returned
// and mapped to a placeholder id so rows still convert.
func (b *PlanBuilder) syncMetadataSchema(ctx context.Context, in PlanInput, schema map[string]string, divider string) ([]string, error) {
	fields := map[string]string{domain.IntegrationSourceField: "string"}
	maps.Copy(fields, in.Roles.MetadataIndex)

	var pending []string
	for _, name := range sortedKeys(fields) {
		kind := fields[name]
		var options []string
		if kind == "enum" {
			options = enumOptions(in.Table, in.Roles.MetadataColumns[name])
		}

		fieldID, exists := schema[name]
		if !exists {
			if in.DryRun {
				pending = append(pending, name)
				schema[name] = pendingSchemaID
				for _, o := range options {
					schema[name+divider+o] = pendingSchemaID
				}
				continue
			}
			ref, err := b.platform.CreateMetadataField(ctx, name, kind, options)
			if err != nil {
				return nil, fmt.Errorf("sync metadata field %q: %w", name, err)
			}
			b.logger.Info("metadata field created", "field", name, "kind", kind, "options", len(options))
			schema[name] = ref.ID
			for o, id := range ref.Options {
				schema[name+divider+o] = id
			}
			continue
		}

		var missing []string
		for _, o := range options {
			if _, ok := schema[name+divider+o]; !ok {
				missing = append(missing, o)
			}
		}
		if len(missing) == 0 {
			continue
		}
		if in.DryRun {
			for _, o := range missing {
				pending = append(pending, name+divider+o)
				schema[name+divider+o] = pendingSchemaID
			}
			continue
		}
		ids, err := b.platform.AddMetadataOptions(ctx, fieldID, missing)
		if err != nil {
			return nil, fmt.Errorf("sync options of metadata field %q: %w", name, err)
		}
		b.logger.Info("metadata options added", "field", name, "options", len(missing))
		for o, id := range ids {
			schema[name+divider+o] = id
		}
	}
	return pending, nil
}

// pendingSchemaID stands in for schema ids a dry run did not create.
const pendingSchemaID = "pending"

// enumOptions returns the distinct trimmed non-empty cells of column in
// first-seen order.
func enumOptions(t *domain.Table, column string) []string {
	return distinct(t.Rows, func(r domain.Row) string {
		return strings.TrimSpace(domain.CellString(r[column]))
	})
}

// distinct returns the distinct non-empty values of fn over rows in
// first-seen order.
func distinct(rows []domain.Row, fn func(domain.Row) string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rows {
		v := fn(r)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
