package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/islandd/internal/embeddings"
)

const testDim = 8

// newTEIServer serves deterministic embeddings so the daemon can start
// without downloading a model.
func newTEIServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs []string `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([][]float32, len(req.Inputs))
		for i, in := range req.Inputs {
			out[i] = embeddings.FakeVector(in, testDim)
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestMainIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dir := t.TempDir()
	port := freePort(t)
	tei := newTEIServer(t)

	t.Setenv("HOME", dir)
	t.Setenv("ISLANDD_SERVER_PORT", fmt.Sprint(port))
	t.Setenv("ISLANDD_METADATA_DSN", filepath.Join(dir, "metadata.db"))
	t.Setenv("ISLANDD_VECTORSTORE_CHROMEM__PATH", filepath.Join(dir, "vectors"))
	t.Setenv("ISLANDD_EMBEDDINGS_PROVIDER", "tei")
	t.Setenv("ISLANDD_EMBEDDINGS_BASE_URL", tei.URL)
	t.Setenv("ISLANDD_EMBEDDINGS_DIMENSION", fmt.Sprint(testDim))
	t.Setenv("ISLANDD_LOGGING_LEVEL", "warn")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, "")
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond, "daemon never became healthy")

	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "main.go"), []byte("package main\n"), 0o644))

	body, _ := json.Marshal(map[string]any{"project": "acme", "dataset": "backend", "root": src, "wait": true})
	resp, err := http.Post(base+"/api/v1/sync", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ = json.Marshal(map[string]any{"project": "acme", "dataset": "backend", "query": "package main"})
	resp, err = http.Post(base+"/api/v1/search", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var out struct {
		Hits []struct {
			Payload struct {
				Path string `json:"path"`
			} `json:"payload"`
		} `json:"hits"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.NotEmpty(t, out.Hits)
	assert.Equal(t, "main.go", out.Hits[0].Payload.Path)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shutdown in time")
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ISLANDD_SYNC_LOCK", "zookeeper")
	err := run(context.Background(), "")
	assert.Error(t, err)
}

func TestRun_ConfigOutsideAllowedDirs(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	err := run(context.Background(), "/tmp/islandd.yaml")
	assert.ErrorContains(t, err, "failed to load configuration")
}
