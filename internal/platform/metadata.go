package platform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"labelsync/internal/domain"
)

// datetimeLayouts are tried in order when parsing datetime metadata.
var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// MetadataProcessor is the default metadata normaliser.
//   - string:   trimmed text
//   - number:   float64
//   - datetime: RFC3339 in UTC
//   - enum:     the option's schema id; an option missing from the schema is skipped
type MetadataProcessor struct{}

var _ domain.MetadataProcessor = MetadataProcessor{}

// Process implements domain.MetadataProcessor.
func (MetadataProcessor) Process(value any, metadataType, fieldName string, schema map[string]string, divider string) (any, error) {
	if t, ok := value.(time.Time); ok && metadataType == "datetime" {
		if t.IsZero() {
			return nil, nil
		}
		return t.UTC().Format(time.RFC3339), nil
	}
	s := strings.TrimSpace(domain.CellString(value))
	if s == "" {
		return nil, nil
	}

	switch metadataType {
	case "string":
		return s, nil
	case "number":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", s)
		}
		return f, nil
	case "datetime":
		for _, layout := range datetimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Format(time.RFC3339), nil
			}
		}
		return nil, fmt.Errorf("invalid datetime %q", s)
	case "enum":
		id, ok := schema[fieldName+divider+s]
		if !ok {
			return nil, nil
		}
		return id, nil
	default:
		return nil, fmt.Errorf("unsupported metadata type %q", metadataType)
	}
}
