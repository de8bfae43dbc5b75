package embeddings

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDimensionMismatch is returned when a provider yields vectors of an
	// unexpected size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Embedder turns texts into dense vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// QueryEmbedder is implemented by models that embed search queries
// differently from indexed passages.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder holding resources.
type Provider interface {
	Embedder
	Close() error
}

// EmbedQuery embeds a search query, preferring the query form when e has one.
func EmbedQuery(ctx context.Context, e Embedder, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: query text cannot be empty", ErrEmptyInput)
	}
	if q, ok := e.(QueryEmbedder); ok {
		return q.EmbedQuery(ctx, text)
	}
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: got %d vectors for one query", ErrEmbeddingFailed, len(vecs))
	}
	return vecs[0], nil
}

// checkVectors verifies count and size of a provider response.
func checkVectors(vecs [][]float32, want, dim int) error {
	if len(vecs) != want {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), want)
	}
	if dim <= 0 {
		return nil
	}
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d dimensions, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	return nil
}
