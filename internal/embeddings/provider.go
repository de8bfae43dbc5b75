package embeddings

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/config"
	"github.com/fyrsmithlabs/islandd/internal/logging"
)

// Provider names.
const (
	ProviderFastEmbed = "fastembed"
	ProviderTEI       = "tei"
)

// NewProvider builds the configured provider wrapped with batching and rate
// limiting. The provider's dimension must match cfg.Dimension, which sizes
// every partition.
func NewProvider(ctx context.Context, cfg config.EmbeddingsConfig, logger *logging.Logger) (*Limited, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	metrics := NewMetrics(logger)

	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case ProviderFastEmbed, "":
		if _, rerr := ensureRuntime(ctx, logger); rerr != nil {
			return nil, rerr
		}
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:     cfg.Model,
			CacheDir:  cfg.CacheDir,
			BatchSize: cfg.BatchSize,
		}, metrics)
	case ProviderTEI:
		p, err = NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		}, metrics)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Dimension > 0 && p.Dimension() != cfg.Dimension {
		_ = p.Close()
		return nil, fmt.Errorf("%w: model %s produces %d dimensions, configured %d",
			ErrDimensionMismatch, cfg.Model, p.Dimension(), cfg.Dimension)
	}

	logger.Info(ctx, "embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", p.Dimension()),
		zap.Bool("hybrid", cfg.Hybrid),
	)
	return NewLimited(p, cfg.BatchSize, cfg.RateLimit), nil
}
