//go:build !cgo

package embeddings

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/islandd/internal/logging"
)

// ErrFastEmbedNotAvailable is returned by every FastEmbed call in binaries
// built with CGO_ENABLED=0. The ONNX runtime needs cgo.
var ErrFastEmbedNotAvailable = fmt.Errorf("%w: fastembed needs a cgo build, set embeddings.provider=%s", ErrInvalidConfig, ProviderTEI)

// FastEmbedConfig mirrors the cgo build so callers compile either way.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
	BatchSize int
}

// FastEmbedProvider is a stub; NewFastEmbedProvider never returns one.
type FastEmbedProvider struct{}

func NewFastEmbedProvider(FastEmbedConfig, *Metrics) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) Dimension() int { return 0 }

func (*FastEmbedProvider) Close() error { return nil }

// ensureRuntime fails early so NewProvider reports the build problem
// before anything is downloaded.
func ensureRuntime(context.Context, *logging.Logger) (string, error) {
	return "", ErrFastEmbedNotAvailable
}
