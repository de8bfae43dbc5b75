package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/islandd/internal/config"
	"github.com/fyrsmithlabs/islandd/internal/lifecycle"
	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/metadata"
	"github.com/fyrsmithlabs/islandd/internal/vectorstore"
)

// Maintenance is a lifecycle manager over the configured stores without an
// embedder, sync engine or router. Offline tooling uses it for work that
// never embeds text, such as legacy migration.
type Maintenance struct {
	Manager *lifecycle.Manager

	store   *metadata.Store
	backend vectorstore.Backend
}

// OpenMaintenance opens the metadata store and vector backend named by cfg.
func OpenMaintenance(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Maintenance, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	store, err := openStore(ctx, cfg.Metadata, logger)
	if err != nil {
		return nil, err
	}
	backend, err := vectorstore.NewBackend(ctx, cfg.VectorStore, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("vector backend: %w", err)
	}
	m, err := lifecycle.NewManager(store, backend, logger, lifecycle.WithBackendTimeout(cfg.VectorStore.Timeout))
	if err != nil {
		_ = backend.Close()
		_ = store.Close()
		return nil, err
	}
	return &Maintenance{Manager: m, store: store, backend: backend}, nil
}

// Close releases the backend, then the store.
func (m *Maintenance) Close() error {
	return errors.Join(m.backend.Close(), m.store.Close())
}
