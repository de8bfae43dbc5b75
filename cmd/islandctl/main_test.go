package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	islandhttp "github.com/fyrsmithlabs/islandd/internal/http"
	"github.com/fyrsmithlabs/islandd/internal/lifecycle"
	"github.com/fyrsmithlabs/islandd/internal/vectorstore"
)

// recorded is one request seen by the fake server.
type recorded struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

// fakeServer answers every islandd route with canned responses and records
// what the CLI sent.
func fakeServer(t *testing.T) (*httptest.Server, *[]recorded) {
	t.Helper()
	var reqs []recorded
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		rec := recorded{Method: r.Method, Path: r.URL.EscapedPath(), Query: r.URL.RawQuery}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		}
		reqs = append(reqs, rec)
	}
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, islandhttp.HealthResponse{Status: "ok", Services: map[string]string{"metadata": "ok"}})
	})
	mux.HandleFunc("POST /api/v1/sync", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, islandhttp.SyncResponse{
			RunID: "run-1", Partition: "isl_p_x_d_y", Status: "completed",
			Created: 2, ChunksAdded: 5,
		})
	})
	mux.HandleFunc("POST /api/v1/search", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, islandhttp.SearchResponse{
			Hits: []islandhttp.SearchHit{{
				Partition: "isl_p_x_d_y", ID: "1", Score: 0.91,
				Payload: vectorstore.Payload{Path: "retry.go", StartLine: 10, EndLine: 20, Content: "func Retry() {\n}"},
			}},
			Partitions: []string{"isl_p_x_d_y"},
			Failed:     []string{"isl_p_x_d_z"},
		})
	})
	mux.HandleFunc("GET /api/v1/partitions", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		writeJSON(w, http.StatusOK, islandhttp.PartitionsResponse{
			Partitions: []islandhttp.PartitionInfo{
				{Name: "isl_p_x_d_y", Project: "acme", Dataset: "backend", Backend: "chromem", Dimension: 8, PointCount: 42, LastIndexedAt: &now},
				{Name: "isl_legacy_0123456789abcdef", Project: "acme", Backend: "chromem", Dimension: 8, PointCount: 3, Legacy: true},
			},
			Counts: islandhttp.PartitionCounts{Partitions: 2, Points: 45, Legacy: 1, Projects: 1},
		})
	})
	mux.HandleFunc("POST /api/v1/reconcile", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, islandhttp.ReconcileResponse{
			Checked: 3,
			Drift:   []lifecycle.Drift{{Partition: "isl_p_x_d_y", Recorded: 40, Actual: 42}},
			Orphans: []string{"stray"},
		})
	})
	mux.HandleFunc("POST /api/v1/shares", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if rev, _ := reqs[len(reqs)-1].Body["revoke"].(bool); rev {
			writeJSON(w, http.StatusOK, islandhttp.ShareResponse{Revoked: true})
			return
		}
		writeJSON(w, http.StatusCreated, islandhttp.ShareResponse{ID: "s1"})
	})
	mux.HandleFunc("PATCH /api/v1/datasets/{project}/{dataset}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, islandhttp.PartitionInfo{Name: "isl_p_x_d_y", Project: "Acme", Dataset: "Backend API"})
	})
	mux.HandleFunc("PATCH /api/v1/projects/{project}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		global, _ := reqs[len(reqs)-1].Body["global"].(bool)
		writeJSON(w, http.StatusOK, islandhttp.ProjectInfo{Name: r.PathValue("project"), Global: global})
	})
	mux.HandleFunc("DELETE /api/v1/datasets/{project}/{dataset}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		if r.PathValue("dataset") == "missing" {
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in       string
		optional bool
		project  string
		dataset  string
		wantErr  bool
	}{
		{in: "acme/backend", project: "acme", dataset: "backend"},
		{in: "acme/docs/v2", project: "acme", dataset: "docs/v2"},
		{in: "acme", optional: true, project: "acme"},
		{in: "acme", wantErr: true},
		{in: "/backend", wantErr: true},
		{in: "", optional: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, d, err := parseScope(tt.in, tt.optional)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.project, p)
			assert.Equal(t, tt.dataset, d)
		})
	}
}

func TestHealthCmd(t *testing.T) {
	srv, _ := fakeServer(t)
	out, err := execute(t, "health", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Server Status: ok")
	assert.Contains(t, out, "metadata: ok")
}

func TestHealthCmd_Unreachable(t *testing.T) {
	_, err := execute(t, "health", "--server", "http://127.0.0.1:1", "--timeout", "500ms")
	assert.ErrorContains(t, err, "failed to send request")
}

func TestSyncCmd(t *testing.T) {
	srv, reqs := fakeServer(t)
	out, err := execute(t, "sync", "acme/backend", "/srv/backend", "--source-kind", "code", "--wait", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Sync run-1: completed")
	assert.Contains(t, out, "2 created")
	assert.Contains(t, out, "5 added")

	require.Len(t, *reqs, 1)
	body := (*reqs)[0].Body
	assert.Equal(t, "acme", body["project"])
	assert.Equal(t, "backend", body["dataset"])
	assert.Equal(t, "/srv/backend", body["root"])
	assert.Equal(t, "code", body["source_kind"])
	assert.Equal(t, true, body["wait"])

	_, err = execute(t, "sync", "acme", "/srv", "--server", srv.URL)
	assert.ErrorContains(t, err, "expected project/dataset")
}

func TestSearchCmd(t *testing.T) {
	srv, reqs := fakeServer(t)
	out, err := execute(t, "search", "acme", "retry", "with", "backoff", "--include-global", "--limit", "5", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "retry.go:10-20")
	assert.Contains(t, out, "func Retry() {")
	assert.Contains(t, out, "partial results: isl_p_x_d_z failed")

	body := (*reqs)[0].Body
	assert.Equal(t, "acme", body["project"])
	assert.Equal(t, "", body["dataset"])
	assert.Equal(t, "retry with backoff", body["query"])
	assert.Equal(t, float64(5), body["limit"])
	assert.Equal(t, true, body["include_global"])
}

func TestPartitionsCmd(t *testing.T) {
	srv, reqs := fakeServer(t)
	out, err := execute(t, "partitions", "--project", "acme", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "project=acme", (*reqs)[0].Query)
	assert.Contains(t, out, "isl_p_x_d_y")
	assert.Contains(t, out, "2026-01-02T03:04:05Z")
	assert.Contains(t, out, "isl_legacy_0123456789abcdef (legacy)")
	assert.Contains(t, out, "2 partitions, 45 points, 1 projects, 1 legacy")
}

func TestReconcileCmd(t *testing.T) {
	srv, _ := fakeServer(t)
	out, err := execute(t, "reconcile", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Checked 3 partitions")
	assert.Contains(t, out, "drift isl_p_x_d_y: recorded 40, actual 42")
	assert.Contains(t, out, "orphan stray")
}

func TestShareCmd(t *testing.T) {
	srv, reqs := fakeServer(t)

	out, err := execute(t, "share", "acme/backend", "web", "--ttl", "1h", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Shared acme/backend with web")
	body := (*reqs)[0].Body
	assert.Equal(t, "web", body["grantee"])
	assert.Contains(t, body, "expires_at")

	out, err = execute(t, "share", "acme/backend", "web", "--revoke", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Revoked acme/backend from web")
	assert.Equal(t, true, (*reqs)[1].Body["revoke"])
}

func TestUpdateCmd(t *testing.T) {
	srv, reqs := fakeServer(t)

	out, err := execute(t, "update", "acme/backend", "--display-dataset", "Backend API", "--global=false", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "now shown as Acme/Backend API")

	rec := (*reqs)[0]
	assert.Equal(t, http.MethodPatch, rec.Method)
	assert.Equal(t, "/api/v1/datasets/acme/backend", rec.Path)
	assert.Equal(t, "Backend API", rec.Body["display_dataset"])
	assert.Equal(t, false, rec.Body["global"], "an explicit --global=false is sent")

	_, err = execute(t, "update", "acme/backend", "--server", srv.URL)
	assert.ErrorContains(t, err, "nothing to update")
}

func TestProjectCmd(t *testing.T) {
	srv, reqs := fakeServer(t)

	out, err := execute(t, "project", "docs", "--global", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Project docs is now global")

	rec := (*reqs)[0]
	assert.Equal(t, http.MethodPatch, rec.Method)
	assert.Equal(t, "/api/v1/projects/docs", rec.Path)
	assert.Equal(t, true, rec.Body["global"])

	_, err = execute(t, "project", "docs", "--server", srv.URL)
	assert.ErrorContains(t, err, "nothing to update")
	assert.Len(t, *reqs, 1)
}

func TestDeleteCmd(t *testing.T) {
	srv, reqs := fakeServer(t)

	_, err := execute(t, "delete", "acme/backend", "--server", srv.URL)
	assert.ErrorContains(t, err, "without --yes")
	assert.Empty(t, *reqs)

	out, err := execute(t, "delete", "acme/backend", "--yes", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted acme/backend")

	_, err = execute(t, "delete", "acme/missing", "--yes", "--server", srv.URL)
	assert.ErrorContains(t, err, "server returned status 404")
}

func TestDatasetPath_Escapes(t *testing.T) {
	assert.Equal(t, "/api/v1/datasets/acme/docs%2Fv2", datasetPath("acme", "docs/v2"))
}

func TestLegacyList(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("ISLANDD_METADATA_DSN", filepath.Join(dir, "metadata.db"))
	t.Setenv("ISLANDD_VECTORSTORE_CHROMEM__PATH", filepath.Join(dir, "vectors"))

	out, err := execute(t, "legacy", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No legacy partitions")

	_, err = execute(t, "legacy", "migrate", "not-legacy", "acme/backend")
	assert.ErrorIs(t, err, lifecycle.ErrNotLegacy)
}
