package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/chunker"
	"github.com/fyrsmithlabs/islandd/internal/config"
	"github.com/fyrsmithlabs/islandd/internal/embeddings"
	"github.com/fyrsmithlabs/islandd/internal/lifecycle"
	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/metadata"
	"github.com/fyrsmithlabs/islandd/internal/router"
	"github.com/fyrsmithlabs/islandd/internal/syncer"
	"github.com/fyrsmithlabs/islandd/internal/vectorstore"
)

// Sync lock backends.
const (
	LockMemory = "memory"
	LockRedis  = "redis"
	LockDB     = "db"
)

// Registry provides access to the islandd components.
type Registry interface {
	Store() *metadata.Store
	Backend() vectorstore.Backend
	Embedder() embeddings.Embedder
	Manager() *lifecycle.Manager
	Syncer() *syncer.Syncer
	Router() *router.Router
	// Scheduler is nil when reconcile.interval is zero.
	Scheduler() *lifecycle.Scheduler
	Close() error
}

// Option overrides a component New would otherwise build from config.
type Option func(*options)

type options struct {
	backend  vectorstore.Backend
	embedder embeddings.Embedder
	redis    syncer.RedisClient
}

// WithBackend uses b instead of the configured vector backend. The
// registry closes it.
func WithBackend(b vectorstore.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithEmbedder uses e instead of the configured embedding provider.
func WithEmbedder(e embeddings.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithRedis uses c for the redis sync lock instead of dialing redis.addr.
func WithRedis(c syncer.RedisClient) Option {
	return func(o *options) { o.redis = c }
}

type registry struct {
	store     *metadata.Store
	backend   vectorstore.Backend
	embedder  embeddings.Embedder
	manager   *lifecycle.Manager
	syncer    *syncer.Syncer
	router    *router.Router
	scheduler *lifecycle.Scheduler

	closers []func() error
	logger  *logging.Logger
}

// New builds every component from cfg. On failure, whatever was already
// opened is closed again.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger, opts ...Option) (_ Registry, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	r := &registry{logger: logger}
	defer func() {
		if err != nil {
			if cerr := r.Close(); cerr != nil {
				logger.Warn(ctx, "closing partially built services", zap.Error(cerr))
			}
		}
	}()

	if r.store, err = openStore(ctx, cfg.Metadata, logger); err != nil {
		return nil, err
	}
	r.closers = append(r.closers, r.store.Close)

	if o.backend != nil {
		r.backend = o.backend
	} else if r.backend, err = vectorstore.NewBackend(ctx, cfg.VectorStore, logger); err != nil {
		return nil, fmt.Errorf("vector backend: %w", err)
	}
	r.closers = append(r.closers, r.backend.Close)

	if o.embedder != nil {
		r.embedder = o.embedder
	} else {
		p, err := embeddings.NewProvider(ctx, cfg.Embeddings, logger)
		if err != nil {
			return nil, fmt.Errorf("embeddings: %w", err)
		}
		r.embedder = p
	}
	if c, ok := r.embedder.(io.Closer); ok {
		r.closers = append(r.closers, c.Close)
	}

	if r.manager, err = lifecycle.NewManager(r.store, r.backend, logger,
		lifecycle.WithBackendTimeout(cfg.VectorStore.Timeout)); err != nil {
		return nil, err
	}

	if err := r.manager.EnsureGlobalPartition(ctx, r.embedder.Dimension(), cfg.Embeddings.Hybrid); err != nil {
		logger.Warn(ctx, "global partition unavailable, searches treat it as empty", zap.Error(err))
	}

	locker, err := r.locker(cfg, o.redis)
	if err != nil {
		return nil, err
	}

	syncOpts := []syncer.Option{
		syncer.WithChunker(chunker.New(
			chunker.WithLines(cfg.Sync.ChunkLines),
			chunker.WithOverlap(cfg.Sync.ChunkOverlap))),
		syncer.WithLocker(locker),
		syncer.WithFSOptions(syncer.FSOptions{
			MaxFileBytes: cfg.Sync.MaxFileBytes,
			SkipDirs:     cfg.Sync.SkipDirs,
		}),
		syncer.WithBackendTimeout(cfg.VectorStore.Timeout),
		syncer.WithBatchSize(cfg.Embeddings.BatchSize),
	}
	routerOpts := []router.Option{
		router.WithFallback(cfg.Router.AllowFallback),
		router.WithMaxFanout(cfg.Router.MaxFanout),
		router.WithDefaultLimit(cfg.Router.DefaultLimit),
		router.WithBackendTimeout(cfg.VectorStore.Timeout),
	}
	if cfg.Embeddings.Hybrid {
		sparse := embeddings.HashingSparse{}
		syncOpts = append(syncOpts, syncer.WithSparse(sparse))
		routerOpts = append(routerOpts, router.WithSparse(sparse))
	}
	if cfg.ObjectStore.Endpoint != "" {
		objects, err := syncer.NewMinioStore(cfg.ObjectStore)
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		syncOpts = append(syncOpts, syncer.WithObjectStore(objects))
	}

	if r.syncer, err = syncer.New(r.manager, r.embedder, logger, syncOpts...); err != nil {
		return nil, err
	}
	if r.router, err = router.New(r.store, r.backend, r.embedder, logger, routerOpts...); err != nil {
		return nil, err
	}
	if cfg.Reconcile.Interval > 0 {
		if r.scheduler, err = lifecycle.NewScheduler(r.manager, cfg.Reconcile.Interval); err != nil {
			return nil, err
		}
	}

	logger.Info(ctx, "services ready",
		zap.String("metadata", r.store.Driver()),
		zap.String("metadata_dsn", cfg.Metadata.DSN.Masked()),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("sync_lock", cfg.Sync.Lock),
		zap.Bool("hybrid", cfg.Embeddings.Hybrid),
	)
	return r, nil
}

func openStore(ctx context.Context, cfg config.MetadataConfig, logger *logging.Logger) (*metadata.Store, error) {
	dsn := cfg.DSN.Value()
	if cfg.Driver == metadata.DriverSQLite {
		var err error
		if dsn, err = config.ExpandPath(dsn); err != nil {
			return nil, err
		}
	}
	store, err := metadata.Open(ctx, metadata.Config{
		Driver:          cfg.Driver,
		DSN:             dsn,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("metadata store: %w", err)
	}
	return store, nil
}

// locker builds the sync lock named by sync.lock.
func (r *registry) locker(cfg *config.Config, client syncer.RedisClient) (syncer.Locker, error) {
	switch cfg.Sync.Lock {
	case LockMemory, "":
		return syncer.NewMemoryLocker(), nil
	case LockRedis:
		if client == nil {
			c := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password.Value(),
				DB:       cfg.Redis.DB,
			})
			r.closers = append(r.closers, c.Close)
			client = c
		}
		return syncer.NewRedisLocker(client, "", cfg.Sync.LeaseTTL), nil
	case LockDB:
		return syncer.NewLeaseLocker(r.store, cfg.Sync.LeaseTTL), nil
	default:
		return nil, fmt.Errorf("unsupported sync lock %q", cfg.Sync.Lock)
	}
}

func (r *registry) Store() *metadata.Store          { return r.store }
func (r *registry) Backend() vectorstore.Backend    { return r.backend }
func (r *registry) Embedder() embeddings.Embedder   { return r.embedder }
func (r *registry) Manager() *lifecycle.Manager     { return r.manager }
func (r *registry) Syncer() *syncer.Syncer          { return r.syncer }
func (r *registry) Router() *router.Router          { return r.router }
func (r *registry) Scheduler() *lifecycle.Scheduler { return r.scheduler }

// Close stops the scheduler and closes everything New opened, newest first.
func (r *registry) Close() error {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
