package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelsync/internal/domain"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string]string
	failKey string
}

func (s *memStore) Put(_ context.Context, key string, body io.Reader, _ string) error {
	if s.failKey != "" && strings.HasSuffix(key, s.failKey) {
		return errors.New("bucket full")
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects == nil {
		s.objects = map[string]string{}
	}
	s.objects[key] = string(b)
	return nil
}

func (s *memStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://store.test/" + key, nil
}

func writeFiles(t *testing.T, names ...string) []string {
	t.Helper()
	dir := t.TempDir()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(out[i], []byte("content of "+n), 0o600))
	}
	return out
}

func TestMaterializeLocalFiles(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.png")
	table := &domain.Table{
		Columns: []string{"path", "global_key"},
		Rows: []domain.Row{
			{"path": paths[0], "global_key": "a"},
			{"path": paths[1], "global_key": "b"},
			{"path": paths[0], "global_key": "a2"},
			{"path": "", "global_key": "empty"},
		},
	}
	store := &memStore{}
	m := NewMaterializer(store, slog.New(slog.DiscardHandler), WithKeyPrefix("/uploads/"), WithWorkers(2))

	out, err := m.MaterializeLocalFiles(context.Background(), table, "path", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"path", "global_key", domain.ColumnRowData}, out.Columns)
	assert.Len(t, store.objects, 2, "each distinct file is uploaded once")
	for key, body := range store.objects {
		assert.True(t, strings.HasPrefix(key, "uploads/"), key)
		assert.Contains(t, body, "content of ")
	}
	url := out.Rows[0][domain.ColumnRowData].(string)
	assert.True(t, strings.HasPrefix(url, "https://store.test/uploads/"))
	assert.True(t, strings.HasSuffix(url, "_a.jpg"))
	assert.Equal(t, url, out.Rows[2][domain.ColumnRowData])
	assert.NotEqual(t, url, out.Rows[1][domain.ColumnRowData])
	assert.Equal(t, "", out.Rows[3][domain.ColumnRowData])
	assert.NotContains(t, table.Rows[0], domain.ColumnRowData, "input table is not mutated")
}

func TestMaterializeLocalFiles_ExistingRowData(t *testing.T) {
	paths := writeFiles(t, "a.jpg")
	table := &domain.Table{
		Columns: []string{domain.ColumnRowData},
		Rows:    []domain.Row{{domain.ColumnRowData: paths[0]}},
	}
	m := NewMaterializer(&memStore{}, slog.New(slog.DiscardHandler))

	out, err := m.MaterializeLocalFiles(context.Background(), table, domain.ColumnRowData, "/jobs/nightly/")
	require.NoError(t, err)
	assert.Equal(t, []string{ColumnOldRowData, domain.ColumnRowData}, out.Columns)
	assert.Equal(t, paths[0], out.Rows[0][ColumnOldRowData])
	assert.Contains(t, out.Rows[0][domain.ColumnRowData], "https://store.test/jobs/nightly/")
}

func TestMaterializeLocalFiles_Errors(t *testing.T) {
	paths := writeFiles(t, "a.jpg", "b.jpg")
	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()

	t.Run("unknown_column", func(t *testing.T) {
		_, err := NewMaterializer(&memStore{}, logger).MaterializeLocalFiles(ctx, &domain.Table{Columns: []string{"x"}}, "path", "")
		assert.ErrorAs(t, err, new(*domain.ValidationError))
	})

	t.Run("row_data_and_old_row_data", func(t *testing.T) {
		table := &domain.Table{Columns: []string{"path", domain.ColumnRowData, ColumnOldRowData}}
		_, err := NewMaterializer(&memStore{}, logger).MaterializeLocalFiles(ctx, table, "path", "")
		assert.ErrorAs(t, err, new(*domain.ValidationError))
	})

	t.Run("missing_file", func(t *testing.T) {
		table := &domain.Table{Columns: []string{"path"}, Rows: []domain.Row{{"path": "/no/such/file.jpg"}}}
		_, err := NewMaterializer(&memStore{}, logger).MaterializeLocalFiles(ctx, table, "path", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "open local file")
	})

	t.Run("upload_failure", func(t *testing.T) {
		table := &domain.Table{Columns: []string{"path"}, Rows: []domain.Row{{"path": paths[0]}, {"path": paths[1]}}}
		_, err := NewMaterializer(&memStore{failKey: "b.jpg"}, logger).MaterializeLocalFiles(ctx, table, "path", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bucket full")
	})
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "a.jpg", objectName("a.jpg"))
	assert.Equal(t, "data_img_a.jpg", objectName("./data/img/a.jpg"))
	assert.Equal(t, "tmp_x_a.jpg", objectName("/tmp/x/a.jpg"))
}

func TestS3Store(t *testing.T) {
	var (
		gotPath string
		gotBody []byte
		gotType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	store, err := NewS3Store(S3Config{Endpoint: srv.URL, Region: "eu-central", KeyID: "k", Secret: "s", Bucket: "assets"})
	require.NoError(t, err)

	err = store.Put(context.Background(), "labelsync/a.jpg", bytes.NewReader([]byte("jpeg")), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "/assets/labelsync/a.jpg", gotPath)
	assert.Equal(t, "image/jpeg", gotType)
	assert.Contains(t, string(gotBody), "jpeg")

	u, err := store.PresignGet(context.Background(), "labelsync/a.jpg", time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, srv.URL+"/assets/labelsync/a.jpg?"))
	assert.Contains(t, u, "X-Amz-Signature=")
	assert.Contains(t, u, "X-Amz-Expires=3600")

	_, err = NewS3Store(S3Config{})
	require.Error(t, err)
}
