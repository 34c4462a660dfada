package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadPlan_Put(t *testing.T) {
	rec := func(ds, key, rowData string) *UploadRecord {
		return &UploadRecord{DatasetID: ds, Body: RecordBody{GlobalKey: key, RowData: rowData}}
	}

	t.Run("same_dataset", func(t *testing.T) {
		p := UploadPlan{}
		assert.False(t, p.Put(rec("ds", "a", "first")))
		assert.True(t, p.Put(rec("ds", "a", "second")))
		got, ok := p.Get("ds", "a")
		require.True(t, ok)
		assert.Equal(t, "second", got.Body.RowData)
		assert.Equal(t, 1, p.Len())
	})

	t.Run("moves_between_datasets", func(t *testing.T) {
		p := UploadPlan{}
		assert.False(t, p.Put(rec("ds1", "a", "first")))
		assert.False(t, p.Put(rec("ds1", "b", "b")))
		assert.True(t, p.Put(rec("ds2", "a", "second")))

		assert.Equal(t, 2, p.Len())
		_, ok := p.Get("ds1", "a")
		assert.False(t, ok)
		got, ok := p.Get("ds2", "a")
		require.True(t, ok)
		assert.Equal(t, "second", got.Body.RowData)
		assert.Len(t, p.Records(), 2)
	})

	t.Run("empty_dataset_removed", func(t *testing.T) {
		p := UploadPlan{}
		p.Put(rec("ds1", "a", "first"))
		p.Put(rec("ds2", "a", "second"))
		assert.Equal(t, []string{"ds2"}, p.DatasetIDs())
	})
}
