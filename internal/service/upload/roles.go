// Package upload implements the table upload pipeline: column role
// resolution, action selection, row conversion, plan building and staged
// dispatch against the annotation platform.
package upload

import (
	"sort"
	"strings"

	"labelsync/internal/domain"
)

// Supported metadata types.
var metadataTypes = map[string]bool{
	"string":   true,
	"number":   true,
	"datetime": true,
	"enum":     true,
}

// Roles classifies the table's columns.
type Roles struct {
	RowDataCol    string
	GlobalKeyCol  string
	ExternalIDCol string

	// Empty when the explicit id was given or the column is absent.
	DatasetIDCol  string
	ProjectIDCol  string
	ModelIDCol    string
	ModelRunIDCol string

	MetadataIndex   map[string]string // field name → metadata type
	MetadataColumns map[string]string // field name → column name
	AttachmentIndex map[string]string // column name → attachment type
	AnnotationIndex map[string]string // column name → top-level feature name
	PredictionIndex map[string]string // column name → top-level feature name
}

// MetadataNames returns the metadata field names in sorted order.
func (r Roles) MetadataNames() []string { return sortedKeys(r.MetadataIndex) }

// ResolveRoles classifies columns by reserved names and prefixes and
// resolves explicit identifiers against their column equivalents.
func ResolveRoles(columns []string, targets domain.Targets, divider string) (Roles, error) {
	if divider == "" {
		divider = domain.DefaultDivider
	}

	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[c] = true
	}
	if !present[domain.ColumnRowData] {
		return Roles{}, domain.ErrConfig("table is missing the required %q column", domain.ColumnRowData)
	}

	r := Roles{
		RowDataCol:      domain.ColumnRowData,
		GlobalKeyCol:    domain.ColumnRowData,
		MetadataIndex:   map[string]string{},
		MetadataColumns: map[string]string{},
		AttachmentIndex: map[string]string{},
		AnnotationIndex: map[string]string{},
		PredictionIndex: map[string]string{},
	}
	if present[domain.ColumnGlobalKey] {
		r.GlobalKeyCol = domain.ColumnGlobalKey
	}
	r.ExternalIDCol = r.GlobalKeyCol
	if present[domain.ColumnExternalID] {
		r.ExternalIDCol = domain.ColumnExternalID
	}

	r.DatasetIDCol = idColumn(present, domain.ColumnDatasetID, targets.DatasetID)
	r.ProjectIDCol = idColumn(present, domain.ColumnProjectID, targets.ProjectID)
	r.ModelIDCol = idColumn(present, domain.ColumnModelID, targets.ModelID)
	r.ModelRunIDCol = idColumn(present, domain.ColumnModelRunID, targets.ModelRunID)

	for _, col := range columns {
		parts := strings.Split(col, divider)
		if len(parts) < 2 {
			continue
		}
		switch parts[0] {
		case domain.PrefixMetadata:
			if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
				return Roles{}, malformed(col, "metadata"+divider+"{type}"+divider+"{name}")
			}
			typ, name := strings.ToLower(parts[1]), parts[2]
			if !metadataTypes[typ] {
				return Roles{}, domain.ErrConfig("column %q: unsupported metadata type %q (want string, number, datetime or enum)", col, parts[1])
			}
			if prev, ok := r.MetadataIndex[name]; ok {
				return Roles{}, domain.ErrConfig("column %q: metadata field %q is already declared as %q", col, name, prev)
			}
			r.MetadataIndex[name] = typ
			r.MetadataColumns[name] = col
		case domain.PrefixAttachment:
			if (len(parts) != 2 && len(parts) != 3) || hasEmpty(parts[1:]) {
				return Roles{}, malformed(col, "attachment"+divider+"{type}["+divider+"{name}]")
			}
			r.AttachmentIndex[col] = parts[1]
		case domain.PrefixAnnotation:
			if len(parts) != 2 || parts[1] == "" {
				return Roles{}, malformed(col, "annotation"+divider+"{feature}")
			}
			r.AnnotationIndex[col] = parts[1]
		case domain.PrefixPrediction:
			if len(parts) != 2 || parts[1] == "" {
				return Roles{}, malformed(col, "prediction"+divider+"{feature}")
			}
			r.PredictionIndex[col] = parts[1]
		}
	}
	return r, nil
}

// idColumn returns the column holding an identifier, or "" when the caller
// supplied the id explicitly or the column is absent.
func idColumn(present map[string]bool, column, explicit string) string {
	if explicit != "" || !present[column] {
		return ""
	}
	return column
}

func malformed(col, want string) *domain.ConfigError {
	return domain.ErrConfig("column %q is malformed: expected %s", col, want)
}

func hasEmpty(parts []string) bool {
	for _, p := range parts {
		if p == "" {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
