package embeddings

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited splits large inputs into batches and paces calls to the wrapped
// provider.
type Limited struct {
	next      Embedder
	batchSize int
	limiter   *rate.Limiter // nil means unlimited
}

// NewLimited wraps e. perSecond <= 0 disables rate limiting; batchSize <= 0
// sends every input in one call.
func NewLimited(e Embedder, batchSize int, perSecond float64) *Limited {
	l := &Limited{next: e, batchSize: batchSize}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return l
}

func (l *Limited) wait(ctx context.Context) error {
	if l.limiter == nil {
		return ctx.Err()
	}
	return l.limiter.Wait(ctx)
}

// Embed embeds texts batch by batch, preserving order.
func (l *Limited) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	size := l.batchSize
	if size <= 0 || size > len(texts) {
		size = len(texts)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		if err := l.wait(ctx); err != nil {
			return nil, err
		}
		vecs, err := l.next.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedQuery forwards to the wrapped provider's query form.
func (l *Limited) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return EmbedQuery(ctx, l.next, text)
}

func (l *Limited) Dimension() int { return l.next.Dimension() }

// Close closes the wrapped provider when it holds resources.
func (l *Limited) Close() error {
	if p, ok := l.next.(Provider); ok {
		return p.Close()
	}
	return nil
}
