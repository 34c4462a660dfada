package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelsync/internal/domain"
)

func TestClassificationEncoder_Encode(t *testing.T) {
	ontology := domain.OntologyIndex{
		"animal":                       "f-animal",
		"animal///cat":                 "o-cat",
		"animal///dog":                 "o-dog",
		"animal///cat///breed":         "f-breed",
		"animal///cat///breed///tabby": "o-tabby",
	}
	enc := ClassificationEncoder{}

	t.Run("radio", func(t *testing.T) {
		got, err := enc.Encode("animal", "cat", ontology, false, "///")
		require.NoError(t, err)
		assert.Equal(t, []domain.Payload{{
			"name":     "animal",
			"schemaId": "f-animal",
			"answer":   map[string]any{"name": "cat", "schemaId": "o-cat"},
		}}, got)
	})

	t.Run("checklist_from_list", func(t *testing.T) {
		got, err := enc.Encode("animal", []any{"cat", "dog"}, ontology, false, "///")
		require.NoError(t, err)
		require.Len(t, got, 1)
		answers := got[0]["answer"].([]map[string]any)
		assert.Len(t, answers, 2)
		assert.Equal(t, "o-dog", answers[1]["schemaId"])
	})

	t.Run("checklist_from_commas", func(t *testing.T) {
		got, err := enc.Encode("animal", "cat, dog", ontology, false, "///")
		require.NoError(t, err)
		assert.Len(t, got[0]["answer"].([]map[string]any), 2)
	})

	t.Run("nested_answer", func(t *testing.T) {
		got, err := enc.Encode("animal", "cat///breed///tabby", ontology, false, "///")
		require.NoError(t, err)
		answer := got[0]["answer"].(map[string]any)
		nested := answer["classifications"].([]map[string]any)
		require.Len(t, nested, 1)
		assert.Equal(t, "f-breed", nested[0]["schemaId"])
		assert.Equal(t, "o-tabby", nested[0]["answer"].(map[string]any)["schemaId"])
	})

	t.Run("prediction_confidence", func(t *testing.T) {
		got, err := enc.Encode("animal", map[string]any{"answer": "dog", "confidence": 0.4}, ontology, true, "///")
		require.NoError(t, err)
		assert.Equal(t, 0.4, got[0]["answer"].(map[string]any)["confidence"])

		got, err = enc.Encode("animal", "dog", ontology, true, "///")
		require.NoError(t, err)
		assert.Equal(t, 1.0, got[0]["answer"].(map[string]any)["confidence"])
	})

	t.Run("empty_cell", func(t *testing.T) {
		got, err := enc.Encode("animal", " ", ontology, false, "///")
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	errTests := []struct {
		name    string
		feature string
		cell    any
	}{
		{"unknown_feature", "vehicle", "car"},
		{"unknown_answer", "animal", "horse"},
		{"unknown_sub_question", "animal", "cat///color///black"},
		{"incomplete_nested_path", "animal", "cat///breed"},
	}
	for _, tc := range errTests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := enc.Encode(tc.feature, tc.cell, ontology, false, "///")
			require.Error(t, err)
		})
	}
}
