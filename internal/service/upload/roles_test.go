package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelsync/internal/domain"
)

func TestResolveRoles(t *testing.T) {
	t.Run("defaults_chain_to_row_data", func(t *testing.T) {
		r, err := ResolveRoles([]string{"row_data"}, domain.Targets{}, "")
		require.NoError(t, err)
		assert.Equal(t, "row_data", r.RowDataCol)
		assert.Equal(t, "row_data", r.GlobalKeyCol)
		assert.Equal(t, "row_data", r.ExternalIDCol)
		assert.Empty(t, r.DatasetIDCol)
		assert.Empty(t, r.MetadataIndex)
	})

	t.Run("external_id_defaults_to_global_key", func(t *testing.T) {
		r, err := ResolveRoles([]string{"row_data", "global_key"}, domain.Targets{}, "")
		require.NoError(t, err)
		assert.Equal(t, "global_key", r.GlobalKeyCol)
		assert.Equal(t, "global_key", r.ExternalIDCol)
	})

	t.Run("explicit_ids_suppress_columns", func(t *testing.T) {
		cols := []string{"row_data", "dataset_id", "project_id", "model_id", "model_run_id"}
		r, err := ResolveRoles(cols, domain.Targets{DatasetID: "ds-1", ModelRunID: "run-1"}, "")
		require.NoError(t, err)
		assert.Empty(t, r.DatasetIDCol)
		assert.Equal(t, "project_id", r.ProjectIDCol)
		assert.Equal(t, "model_id", r.ModelIDCol)
		assert.Empty(t, r.ModelRunIDCol)
	})

	t.Run("prefixed_columns", func(t *testing.T) {
		cols := []string{
			"row_data",
			"metadata///string///camera",
			"metadata///NUMBER///frames",
			"attachment///IMAGE///thumbnail",
			"attachment///RAW_TEXT",
			"annotation///animal",
			"prediction///animal",
			"metadata_without_divider",
		}
		r, err := ResolveRoles(cols, domain.Targets{}, "")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"camera": "string", "frames": "number"}, r.MetadataIndex)
		assert.Equal(t, "metadata///NUMBER///frames", r.MetadataColumns["frames"])
		assert.Equal(t, []string{"camera", "frames"}, r.MetadataNames())
		assert.Equal(t, map[string]string{
			"attachment///IMAGE///thumbnail": "IMAGE",
			"attachment///RAW_TEXT":          "RAW_TEXT",
		}, r.AttachmentIndex)
		assert.Equal(t, map[string]string{"annotation///animal": "animal"}, r.AnnotationIndex)
		assert.Equal(t, map[string]string{"prediction///animal": "animal"}, r.PredictionIndex)
	})

	t.Run("custom_divider", func(t *testing.T) {
		r, err := ResolveRoles([]string{"row_data", "metadata|enum|weather", "metadata///string///x"}, domain.Targets{}, "|")
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"weather": "enum"}, r.MetadataIndex)
	})

	errTests := []struct {
		name string
		cols []string
	}{
		{"missing_row_data", []string{"global_key"}},
		{"metadata_missing_name", []string{"row_data", "metadata///string"}},
		{"metadata_empty_name", []string{"row_data", "metadata///string///"}},
		{"metadata_bad_type", []string{"row_data", "metadata///blob///x"}},
		{"metadata_duplicate_name", []string{"row_data", "metadata///string///x", "metadata///number///x"}},
		{"attachment_too_many_parts", []string{"row_data", "attachment///IMAGE///a///b"}},
		{"annotation_extra_part", []string{"row_data", "annotation///a///b"}},
		{"prediction_empty_feature", []string{"row_data", "prediction///"}},
	}
	for _, tc := range errTests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ResolveRoles(tc.cols, domain.Targets{}, "")
			require.Error(t, err)
			var cfgErr *domain.ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}
