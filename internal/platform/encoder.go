package platform

import (
	"fmt"
	"strings"

	"labelsync/internal/domain"
)

// ClassificationEncoder encodes classification cells into import payloads.
//
// A string cell is a radio answer; it may name a nested answer as a path
// ("answer<div>sub-question<div>sub-answer"). A list cell, or a string with
// comma-separated values, is a checklist. A map cell with "answer" and
// "confidence" keys carries an explicit confidence for predictions.
type ClassificationEncoder struct{}

var _ domain.AnnotationEncoder = ClassificationEncoder{}

// Encode implements domain.AnnotationEncoder.
func (ClassificationEncoder) Encode(featureName string, cell any, ontology domain.OntologyIndex, confidence bool, divider string) ([]domain.Payload, error) {
	featureID, ok := ontology[featureName]
	if !ok {
		return nil, fmt.Errorf("feature %q not in ontology", featureName)
	}

	conf := 1.0
	if m, ok := cell.(map[string]any); ok {
		if c, ok := m["confidence"].(float64); ok {
			conf = c
		}
		cell = m["answer"]
	}

	values := answerValues(cell)
	if len(values) == 0 {
		return nil, nil
	}

	answers := make([]map[string]any, 0, len(values))
	for _, v := range values {
		a, err := encodeAnswer(featureName, v, ontology, divider)
		if err != nil {
			return nil, err
		}
		if confidence {
			a["confidence"] = conf
		}
		answers = append(answers, a)
	}

	p := domain.Payload{"name": featureName, "schemaId": featureID}
	if len(answers) == 1 && !isList(cell) {
		p["answer"] = answers[0]
	} else {
		p["answer"] = answers
	}
	return []domain.Payload{p}, nil
}

// encodeAnswer resolves one answer path against the ontology, nesting
// sub-classifications along the way.
func encodeAnswer(featureName, value string, ontology domain.OntologyIndex, divider string) (map[string]any, error) {
	parts := strings.Split(value, divider)
	path := featureName + divider + parts[0]
	id, ok := ontology[path]
	if !ok {
		return nil, fmt.Errorf("answer %q not in ontology under %q", parts[0], featureName)
	}
	answer := map[string]any{"name": parts[0], "schemaId": id}
	if len(parts) == 1 {
		return answer, nil
	}
	if len(parts) == 2 {
		return nil, fmt.Errorf("nested answer %q must name a sub-question and an answer", value)
	}
	sub := parts[1]
	subPath := path + divider + sub
	subID, ok := ontology[subPath]
	if !ok {
		return nil, fmt.Errorf("sub-question %q not in ontology under %q", sub, path)
	}
	nested, err := encodeAnswer(subPath, strings.Join(parts[2:], divider), ontology, divider)
	if err != nil {
		return nil, err
	}
	answer["classifications"] = []map[string]any{{"name": sub, "schemaId": subID, "answer": nested}}
	return answer, nil
}

func answerValues(cell any) []string {
	var raw []string
	switch v := cell.(type) {
	case []string:
		raw = v
	case []any:
		for _, x := range v {
			raw = append(raw, domain.CellString(x))
		}
	default:
		raw = strings.Split(domain.CellString(cell), ",")
	}
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func isList(cell any) bool {
	switch v := cell.(type) {
	case []string, []any:
		return true
	case string:
		return strings.Contains(v, ",")
	}
	return false
}
