package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// FakeEmbedder is a deterministic Embedder for tests. Equal texts get equal
// vectors; every call and text is counted.
type FakeEmbedder struct {
	Dim int
	// Err, when set, is returned by every call.
	Err error

	mu    sync.Mutex
	calls int
	texts []string
}

// NewFakeEmbedder returns a fake producing dim-sized vectors.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim}
}

func (f *FakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls++
	f.texts = append(f.texts, texts...)
	err := f.Err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = FakeVector(t, f.Dim)
	}
	return out, nil
}

func (f *FakeEmbedder) Dimension() int { return f.Dim }

func (f *FakeEmbedder) Close() error { return nil }

// Calls returns the number of Embed calls.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Texts returns every text embedded so far.
func (f *FakeEmbedder) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

// Reset clears the counters.
func (f *FakeEmbedder) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = 0
	f.texts = nil
}

// FakeVector derives a unit vector from the sha256 stream of text.
func FakeVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	var norm float64
	seed := sha256.Sum256([]byte(text))
	block := seed
	for i := 0; i < dim; i++ {
		if i > 0 && i%8 == 0 {
			block = sha256.Sum256(block[:])
		}
		u := binary.BigEndian.Uint32(block[(i%8)*4:])
		x := float64(u)/math.MaxUint32*2 - 1
		v[i] = float32(x)
		norm += x * x
	}
	if norm == 0 {
		v[0] = 1
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}
