package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/islandd/internal/config"
	"github.com/fyrsmithlabs/islandd/internal/logging"
)

// Supported providers.
const (
	ProviderChromem       = "chromem"
	ProviderQdrant        = "qdrant"
	ProviderElasticsearch = "elasticsearch"
)

// NewBackend creates the backend named by cfg.Provider and wraps it with
// per-call timeouts, tracing and metrics.
//
//	b, err := vectorstore.NewBackend(ctx, cfg.VectorStore, logger)
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
func NewBackend(ctx context.Context, cfg config.VectorStoreConfig, logger *logging.Logger) (Backend, error) {
	var (
		b   Backend
		err error
	)

	switch cfg.Provider {
	case ProviderChromem, "":
		b, err = NewChromemBackend(ctx, ChromemConfig{
			Path:     cfg.Chromem.Path,
			Compress: cfg.Chromem.Compress,
		}, logger)

	case ProviderQdrant:
		q := cfg.Qdrant
		b, err = NewQdrantBackend(ctx, QdrantConfig{
			Host:           q.Host,
			Port:           q.Port,
			UseTLS:         q.UseTLS,
			APIKey:         q.APIKey.Value(),
			MaxMessageSize: q.MaxMessageMB * 1024 * 1024,
			Retry: RetryConfig{
				MaxRetries:    q.MaxRetries,
				Backoff:       q.RetryBackoff,
				CircuitLimit:  q.CircuitLimit,
				CircuitWindow: q.CircuitWindow,
			},
		}, logger)

	case ProviderElasticsearch:
		e := cfg.Elasticsearch
		b, err = NewElasticsearchBackend(ctx, ElasticsearchConfig{
			Addresses:  e.Addresses,
			Username:   e.Username,
			Password:   e.Password.Value(),
			MaxRetries: e.MaxRetries,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider %q (supported: chromem, qdrant, elasticsearch)",
			ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return Instrument(b, cfg.Timeout), nil
}
