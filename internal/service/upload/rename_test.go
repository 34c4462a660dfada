package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelsync/internal/domain"
)

func TestRenameColumns(t *testing.T) {
	table := &domain.Table{
		Columns: []string{"url", "key", "camera"},
		Rows:    []domain.Row{{"url": "s3://a.jpg", "key": "a", "camera": "front"}},
	}

	t.Run("renames_into_vocabulary", func(t *testing.T) {
		out, err := RenameColumns(table, map[string]string{
			"url":    "row_data",
			"key":    "global_key",
			"camera": "metadata///string///camera",
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"row_data", "global_key", "metadata///string///camera"}, out.Columns)
		assert.Equal(t, "front", out.Rows[0]["metadata///string///camera"])
		assert.Equal(t, "s3://a.jpg", table.Rows[0]["url"], "source table is untouched")
	})

	tests := []struct {
		name    string
		mapping map[string]string
	}{
		{"unknown_source", map[string]string{"missing": "row_data"}},
		{"unreserved_target", map[string]string{"url": "image_url"}},
		{"duplicate_target", map[string]string{"url": "row_data", "key": "row_data"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := RenameColumns(table, tc.mapping)
			require.Error(t, err)
			var valErr *domain.ValidationError
			assert.ErrorAs(t, err, &valErr)
		})
	}

	t.Run("collides_with_existing_column", func(t *testing.T) {
		tbl := &domain.Table{Columns: []string{"url", "row_data"}}
		_, err := RenameColumns(tbl, map[string]string{"url": "row_data"})
		require.Error(t, err)
	})
}
