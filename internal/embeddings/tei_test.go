package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTEIServer(t *testing.T, dim int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/embed", r.URL.Path)
		var req struct {
			Inputs   []string `json:"inputs"`
			Truncate bool     `json:"truncate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Inputs[0] == "fail" {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
			return
		}
		out := make([][]float32, len(req.Inputs))
		for i, in := range req.Inputs {
			out[i] = FakeVector(in, dim)
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestTEIConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     TEIConfig
		wantErr bool
	}{
		{name: "valid", cfg: TEIConfig{BaseURL: "http://localhost:8080", Dimension: 384}},
		{name: "missing url", cfg: TEIConfig{Dimension: 384}, wantErr: true},
		{name: "missing dimension", cfg: TEIConfig{BaseURL: "http://x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTEIProvider_Embed(t *testing.T) {
	srv, _ := newTEIServer(t, 8)
	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL + "/", Model: "custom", Dimension: 8}, nil)
	require.NoError(t, err)

	vecs, err := p.Embed(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, FakeVector("alpha", 8), vecs[0])
	assert.Equal(t, 8, p.Dimension())

	q, err := EmbedQuery(context.Background(), p, "beta")
	require.NoError(t, err)
	assert.Equal(t, vecs[1], q)

	_, err = p.Embed(context.Background(), []string{"fail"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "model overloaded")

	_, err = p.Embed(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEIProvider_DimensionMismatch(t *testing.T) {
	srv, _ := newTEIServer(t, 4)
	p, err := NewTEIProvider(TEIConfig{BaseURL: srv.URL, Dimension: 8}, nil)
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), []string{"alpha"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestTEIProvider_DimensionFromModel(t *testing.T) {
	p, err := NewTEIProvider(TEIConfig{BaseURL: "http://localhost", Model: "BAAI/bge-base-en-v1.5"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 768, p.Dimension())
}
