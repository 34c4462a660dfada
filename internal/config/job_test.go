package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelsync/internal/domain"
	"labelsync/internal/table"
)

const singleJob = `
name: nightly-assets
schedule: "0 2 * * *"
source:
  path: /data/assets.parquet
rename:
  image_url: row_data
local_files:
  column: path
request:
  dataset_id: ds-1
  project_id: p-1
  upload_method: mal
  priority: 3
`

func TestParseJobs(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		jobs, err := ParseJobs(strings.NewReader(singleJob))
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		j := jobs[0]
		assert.Equal(t, "nightly-assets", j.Name)
		assert.Equal(t, "0 2 * * *", j.Schedule)
		assert.Equal(t, "/data/assets.parquet", j.Source.Path)
		assert.Equal(t, map[string]string{"image_url": "row_data"}, j.Rename)
		require.NotNil(t, j.LocalFiles)
		assert.Equal(t, "path", j.LocalFiles.Column)
		assert.Equal(t, "ds-1", j.Request.DatasetID)
		assert.Equal(t, "p-1", j.Request.ProjectID)
		assert.Equal(t, "mal", j.Request.UploadMethod)
		assert.Equal(t, 3, j.Request.Priority)
		assert.NoError(t, j.Validate())
	})

	t.Run("list", func(t *testing.T) {
		jobs, err := ParseJobs(strings.NewReader(`
jobs:
  - name: a
    source: {path: a.csv}
  - name: b
    source: {format: duckdb, query: "SELECT 1"}
`))
		require.NoError(t, err)
		require.Len(t, jobs, 2)
		assert.Equal(t, "b", jobs[1].Name)
		assert.Equal(t, "duckdb", jobs[1].Source.Format)
	})

	t.Run("empty", func(t *testing.T) {
		jobs, err := ParseJobs(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, jobs)
	})

	t.Run("unknown_field", func(t *testing.T) {
		_, err := ParseJobs(strings.NewReader("name: a\nsorce: {path: a.csv}\n"))
		require.Error(t, err)
	})
}

func TestJob_Validate(t *testing.T) {
	valid := Job{Name: "a", Source: sourceCSV()}
	require.NoError(t, valid.Validate())

	tests := map[string]Job{
		"no_name":          {Source: sourceCSV()},
		"bad_source":       {Name: "a"},
		"local_no_column":  {Name: "a", Source: sourceCSV(), LocalFiles: &LocalFiles{}},
		"priority_too_low": {Name: "a", Source: sourceCSV(), Request: domain.UploadRequest{Priority: -1}},
	}
	for name, j := range tests {
		t.Run(name, func(t *testing.T) {
			err := j.Validate()
			require.Error(t, err)
			assert.ErrorAs(t, err, new(*domain.ValidationError))
		})
	}
}

func TestLoadJobs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("name: second\nsource: {path: b.csv}\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(singleJob), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	jobs, err := LoadJobs(dir)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "nightly-assets", jobs[0].Name)
	assert.Equal(t, "second", jobs[1].Name)

	single, err := LoadJobs(filepath.Join(dir, "b.yml"))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("name: second\nsource: {path: c.csv}\n"), 0o600))
	_, err = LoadJobs(dir)
	require.Error(t, err)
	assert.ErrorAs(t, err, new(*domain.ConflictError))

	_, err = LoadJobs(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func sourceCSV() table.Spec { return table.Spec{Path: "rows.csv"} }
