package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/islandd/internal/config"
)

func TestModelDimension(t *testing.T) {
	tests := []struct {
		model string
		want  int
		known bool
	}{
		{"BAAI/bge-small-en-v1.5", 384, true},
		{"BAAI/bge-base-en-v1.5", 768, true},
		{"BAAI/bge-small-zh-v1.5", 512, true},
		{"intfloat/e5-large-v2", 1024, false},
		{"nomic-embed-text-base", 768, false},
		{"something", 384, false},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, known := ModelDimension(tt.model)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestFakeEmbedder(t *testing.T) {
	f := NewFakeEmbedder(16)
	vecs, err := f.Embed(context.Background(), []string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, vecs[0], vecs[2])
	assert.NotEqual(t, vecs[0], vecs[1])
	assert.Len(t, vecs[0], 16)
	assert.Equal(t, 1, f.Calls())
	assert.Equal(t, []string{"a", "b", "a"}, f.Texts())

	var norm float32
	for _, x := range vecs[0] {
		norm += x * x
	}
	assert.InDelta(t, 1.0, norm, 1e-4)

	f.Err = errors.New("down")
	_, err = f.Embed(context.Background(), []string{"a"})
	assert.Error(t, err)
	f.Reset()
	assert.Zero(t, f.Calls())
}

func TestLimited_BatchesInOrder(t *testing.T) {
	f := NewFakeEmbedder(4)
	l := NewLimited(f, 2, 0)

	texts := []string{"t1", "t2", "t3", "t4", "t5"}
	vecs, err := l.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 5)
	for i, text := range texts {
		assert.Equal(t, FakeVector(text, 4), vecs[i])
	}
	assert.Equal(t, 3, f.Calls())
	assert.Equal(t, 4, l.Dimension())
	assert.NoError(t, l.Close())
}

func TestLimited_RateLimitHonorsContext(t *testing.T) {
	l := NewLimited(NewFakeEmbedder(4), 1, 0.001)

	_, err := l.Embed(context.Background(), []string{"first"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Embed(ctx, []string{"second"})
	assert.Error(t, err)
}

func TestLimited_EmbedQueryFallsBackToEmbed(t *testing.T) {
	f := NewFakeEmbedder(4)
	v, err := NewLimited(f, 0, 0).EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, FakeVector("q", 4), v)

	_, err = EmbedQuery(context.Background(), f, "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestHashingSparse(t *testing.T) {
	h := HashingSparse{Buckets: 1 << 16}

	a := h.EmbedSparse("func Parse(input string) error { return parse(input) }")
	b := h.EmbedSparse("func Parse(input string) error { return parse(input) }")
	assert.Equal(t, a, b)
	require.NotEmpty(t, a.Indices)
	assert.Len(t, a.Values, len(a.Indices))
	for i := 1; i < len(a.Indices); i++ {
		assert.Less(t, a.Indices[i-1], a.Indices[i])
	}
	for _, idx := range a.Indices {
		assert.Less(t, idx, uint32(1<<16))
	}

	// "input" and "parse" appear twice.
	var boosted int
	for _, v := range a.Values {
		if v > 1 {
			boosted++
		}
	}
	assert.Equal(t, 2, boosted)

	assert.Empty(t, h.EmbedSparse("a b c").Indices)
}

func TestNewProvider(t *testing.T) {
	srv, _ := newTEIServer(t, 8)

	p, err := NewProvider(context.Background(), config.EmbeddingsConfig{
		Provider:  ProviderTEI,
		Model:     "custom",
		BaseURL:   srv.URL,
		Dimension: 8,
		BatchSize: 4,
	}, nil)
	require.NoError(t, err)
	defer p.Close()

	vecs, err := p.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vecs[0], 8)

	_, err = NewProvider(context.Background(), config.EmbeddingsConfig{Provider: "word2vec"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
