package upload

import (
	"sort"
	"strings"

	"labelsync/internal/domain"
)

var renamePrefixes = []string{
	domain.PrefixMetadata, domain.PrefixAttachment, domain.PrefixAnnotation, domain.PrefixPrediction,
}

// RenameColumns renames table columns into the reserved vocabulary. Every
// source column must exist and every new name must be a reserved column name
// or start with a reserved prefix.
func RenameColumns(table *domain.Table, mapping map[string]string) (*domain.Table, error) {
	olds := make([]string, 0, len(mapping))
	for old := range mapping {
		olds = append(olds, old)
	}
	sort.Strings(olds)

	targets := make(map[string]string, len(mapping))
	for _, old := range olds {
		to := mapping[old]
		if !table.HasColumn(old) {
			return nil, domain.ErrValidation("cannot rename %q: no such column", old)
		}
		if !reservedName(to) {
			return nil, domain.ErrValidation(
				"cannot rename %q to %q: new name must be one of %s or start with %s",
				old, to, strings.Join(domain.ReservedColumns, ", "), strings.Join(renamePrefixes, ", "))
		}
		if prev, ok := targets[to]; ok {
			return nil, domain.ErrValidation("columns %q and %q are both renamed to %q", prev, old, to)
		}
		if _, renamed := mapping[to]; table.HasColumn(to) && !renamed {
			return nil, domain.ErrValidation("cannot rename %q to %q: column already exists", old, to)
		}
		targets[to] = old
	}
	return table.Rename(mapping), nil
}

func reservedName(name string) bool {
	for _, c := range domain.ReservedColumns {
		if name == c {
			return true
		}
	}
	for _, p := range renamePrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
