package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// captureStdout redirects os.Stdout to a pipe and returns a function
// that restores stdout and returns the captured output.
// Uses a goroutine to read concurrently, avoiding pipe buffer deadlocks.
func captureStdout(t *testing.T) func() string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w

	var buf bytes.Buffer
	done := make(chan struct{})
	go func() {
		_, _ = buf.ReadFrom(r)
		close(done)
	}()

	return func() string {
		_ = w.Close()
		<-done
		os.Stdout = old
		return buf.String()
	}
}

// isolateEnv points HOME at a temp dir and blanks every variable the CLI
// reads or sets, so tests neither see nor leak real configuration.
func isolateEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, k := range []string{
		"PLATFORM_URL", "PLATFORM_API_KEY", "LEDGER_DB_PATH", "LOG_LEVEL", "JOBS_PATH",
		"DATABASE_URL", "KEY_ID", "SECRET", "ENDPOINT", "REGION", "BUCKET", "ENV",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

// runCLI executes a fresh root command and returns what it printed to stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...))
	stop := captureStdout(t)
	err := root.Execute()
	return stop(), err
}

// fakePlatform serves the platform endpoints a create-only upload touches.
type fakePlatform struct {
	*httptest.Server

	mu        sync.Mutex
	created   map[string][]string // dataset → global keys
	createErr bool
}

func newFakePlatform(t *testing.T) *fakePlatform {
	t.Helper()
	fp := &fakePlatform{created: map[string][]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/metadata/schema", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"fields":[{"id":"s-src","name":"lb_integration_source","kind":"string"}]}`))
	})
	mux.HandleFunc("POST /v1/datasets/{id}/records:bulkCreate", func(w http.ResponseWriter, r *http.Request) {
		fp.mu.Lock()
		defer fp.mu.Unlock()
		if fp.createErr {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":"INVALID","message":"dataset is archived"}`))
			return
		}
		var req struct {
			Records []struct {
				GlobalKey string `json:"global_key"`
			} `json:"records"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		id := r.PathValue("id")
		for _, rec := range req.Records {
			fp.created[id] = append(fp.created[id], rec.GlobalKey)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"created": len(req.Records)})
	})
	fp.Server = httptest.NewServer(mux)
	t.Cleanup(fp.Close)
	return fp
}

func (fp *fakePlatform) createdKeys(dataset string) []string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]string(nil), fp.created[dataset]...)
}

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.csv")
	data := "row_data,global_key\nhttps://cdn.example.com/a.jpg,a\nhttps://cdn.example.com/b.jpg,b\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
