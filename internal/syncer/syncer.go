// Package syncer keeps a dataset's partition in step with its source.
//
// A run scans the source, diffs the scan against the indexed-file records,
// applies the difference to the vector backend and records the outcome:
//
//	Scan -> Diff -> Apply -> Record
//
// Chunks of a deleted or modified file are removed before new chunks are
// inserted. Renamed files keep their vectors and only have their payload
// path rewritten. Unchanged files cause no backend writes, so running a
// sync twice over the same content is a no-op the second time.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/islandd/internal/chunker"
	"github.com/fyrsmithlabs/islandd/internal/embeddings"
	"github.com/fyrsmithlabs/islandd/internal/lifecycle"
	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/metadata"
	"github.com/fyrsmithlabs/islandd/internal/scope"
	"github.com/fyrsmithlabs/islandd/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/islandd/internal/syncer"

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// DefaultBatchSize is the number of chunks embedded and inserted per call.
const DefaultBatchSize = 64

// Request names the dataset to sync and where its content lives.
type Request struct {
	// Root is a directory for local, repository and crawl sources, or
	// "bucket/prefix" for object sources.
	Root       string
	Project    string
	Dataset    string
	SourceKind metadata.SourceKind
	// Global marks the dataset readable by every project.
	Global bool
	// TryLock fails with ErrSyncInProgress instead of waiting for a
	// running sync of the same dataset.
	TryLock bool
}

// Failure is a file that could not be processed.
type Failure struct {
	Path string `json:"path"`
	Op   string `json:"op"` // delete, rename, read, embed, insert
	Err  string `json:"error"`
}

// Result describes one run.
type Result struct {
	RunID     string
	Partition string
	Status    string

	Created   int
	Modified  int
	Deleted   int
	Renamed   int
	Unchanged int

	ChunksAdded   int
	ChunksRemoved int64
	// ChunksRemovedUnknown is set when the backend could not report how many
	// chunks a delete removed. ChunksRemoved is then a lower bound.
	ChunksRemovedUnknown bool

	DeleteFailures int
	FileFailures   int
	Failures       []Failure

	Duration time.Duration
}

// Syncer runs incremental syncs.
type Syncer struct {
	manager   *lifecycle.Manager
	store     *metadata.Store
	backend   vectorstore.Backend
	embedder  embeddings.Embedder
	sparse    embeddings.SparseEmbedder
	chunker   chunker.Chunker
	locker    Locker
	objects   ObjectStore
	fsOpts    FSOptions
	limiter   *rate.Limiter
	timeout   time.Duration
	batchSize int
	logger    *logging.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithChunker replaces the default line chunker.
func WithChunker(c chunker.Chunker) Option {
	return func(s *Syncer) {
		s.chunker = c
	}
}

// WithSparse enables hybrid partitions with sparse vectors from e.
func WithSparse(e embeddings.SparseEmbedder) Option {
	return func(s *Syncer) {
		s.sparse = e
	}
}

// WithLocker replaces the in-process dataset locker.
func WithLocker(l Locker) Option {
	return func(s *Syncer) {
		s.locker = l
	}
}

// WithObjectStore enables object sources.
func WithObjectStore(o ObjectStore) Option {
	return func(s *Syncer) {
		s.objects = o
	}
}

// WithFSOptions configures filesystem scans.
func WithFSOptions(o FSOptions) Option {
	return func(s *Syncer) {
		s.fsOpts = o
	}
}

// WithRateLimit caps embed and insert calls per second across all runs.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Syncer) {
		if perSecond > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithBackendTimeout bounds each backend call. Zero disables the bound.
func WithBackendTimeout(d time.Duration) Option {
	return func(s *Syncer) {
		s.timeout = d
	}
}

// WithBatchSize sets the chunks per embed and insert call.
func WithBatchSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithClock overrides the time source for recorded timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Syncer) {
		s.now = now
	}
}

// New creates a Syncer writing through manager.
func New(manager *lifecycle.Manager, embedder embeddings.Embedder, logger *logging.Logger, opts ...Option) (*Syncer, error) {
	if manager == nil {
		return nil, fmt.Errorf("lifecycle manager is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if embedder.Dimension() <= 0 {
		return nil, fmt.Errorf("embedder dimension must be positive, got %d", embedder.Dimension())
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	s := &Syncer{
		manager:   manager,
		store:     manager.Store(),
		backend:   manager.Backend(),
		embedder:  embedder,
		chunker:   chunker.New(),
		locker:    NewMemoryLocker(),
		timeout:   lifecycle.DefaultBackendTimeout,
		batchSize: DefaultBatchSize,
		logger:    logger.Named("syncer"),
		tracer:    otel.Tracer(instrumentationName),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Syncer) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Syncer) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// source builds the Source for a request.
func (s *Syncer) source(req Request) (Source, error) {
	switch req.SourceKind {
	case "", metadata.SourceLocal, metadata.SourceRepository, metadata.SourceCrawl:
		opts := s.fsOpts
		opts.Kind = req.SourceKind
		return NewFSSource(req.Root, opts)
	case metadata.SourceObject:
		if s.objects == nil {
			return nil, fmt.Errorf("%w: object store is not configured", ErrUnsupportedSource)
		}
		bucket, prefix, err := ParseObjectRoot(req.Root)
		if err != nil {
			return nil, err
		}
		return NewObjectSource(s.objects, bucket, prefix, s.fsOpts.MaxFileBytes), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, req.SourceKind)
	}
}

// Sync brings the dataset's partition in line with its source.
//
// Per-file failures are counted in the result and do not fail the run;
// their records are left untouched so the next run retries them. A
// cancelled run records the files it finished and returns the context
// error with a failed result.
func (s *Syncer) Sync(ctx context.Context, req Request) (res *Result, err error) {
	if err := scope.Validate(req.Project, req.Dataset, scope.Local); err != nil {
		return nil, err
	}
	start := time.Now()
	res = &Result{RunID: uuid.NewString(), Status: StatusFailed}
	datasetID := scope.DatasetID(req.Project, req.Dataset).String()

	ctx = logging.WithSyncRun(logging.WithScope(ctx, req.Project, req.Dataset), res.RunID)
	ctx, span := s.tracer.Start(ctx, "syncer.sync", trace.WithAttributes(
		attribute.String("dataset_id", datasetID),
		attribute.String("source_kind", string(req.SourceKind)),
	))
	defer func() {
		if res != nil {
			res.Duration = time.Since(start)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var unlock func()
	if req.TryLock {
		unlock, err = s.locker.TryLock(ctx, datasetID)
	} else {
		unlock, err = s.locker.Lock(ctx, datasetID)
	}
	if err != nil {
		if errors.Is(err, ErrSyncInProgress) {
			syncRuns.WithLabelValues("busy").Inc()
		}
		return nil, err
	}
	defer unlock()

	defer func() {
		syncRuns.WithLabelValues(res.Status).Inc()
		syncDuration.Observe(time.Since(start).Seconds())
	}()

	src, err := s.source(req)
	if err != nil {
		return res, err
	}
	kind := src.Kind()

	partition, err := s.manager.GetOrCreatePartition(ctx, lifecycle.PartitionRequest{
		ProjectName: req.Project,
		DatasetName: req.Dataset,
		Dimension:   s.embedder.Dimension(),
		Hybrid:      s.sparse != nil,
		Global:      req.Global,
		SourceKind:  kind,
		Source:      src.Meta(ctx),
	})
	if err != nil {
		return res, fmt.Errorf("ensure partition: %w", err)
	}
	res.Partition = partition.Name
	ctx = logging.WithPartition(ctx, partition.Name)

	recorded, err := s.store.ListIndexedFiles(ctx, partition.ProjectID, partition.DatasetID)
	if err != nil {
		return res, fmt.Errorf("list indexed files: %w", err)
	}
	current, err := src.Scan(ctx)
	if err != nil {
		return res, fmt.Errorf("scan %s: %w", req.Root, err)
	}
	changes := Diff(current, recorded)
	res.Unchanged = changes.Unchanged
	s.logger.Debug(ctx, "sync diff computed",
		zap.Int("created", len(changes.Created)),
		zap.Int("modified", len(changes.Modified)),
		zap.Int("deleted", len(changes.Deleted)),
		zap.Int("renamed", len(changes.Renamed)),
		zap.Int("unchanged", changes.Unchanged))

	run := &run{
		Syncer:    s,
		src:       src,
		kind:      kind,
		partition: partition,
		records:   make(map[string]metadata.IndexedFile, len(recorded)),
		res:       res,
	}
	for _, f := range recorded {
		run.records[f.Path] = f
	}

	applyErr := run.apply(ctx, changes)

	// Finished work is recorded even when the run was cancelled.
	rctx := context.WithoutCancel(ctx)
	if err := run.record(rctx); err != nil {
		return res, fmt.Errorf("record sync: %w", err)
	}
	s.updateStats(rctx, partition)

	if applyErr != nil {
		s.logger.Warn(ctx, "sync interrupted", zap.Error(applyErr))
		return res, applyErr
	}

	res.Status = StatusCompleted
	span.SetAttributes(
		attribute.Int("chunks_added", res.ChunksAdded),
		attribute.Int("file_failures", res.FileFailures),
	)
	s.logger.Info(ctx, "sync completed",
		zap.Int("created", res.Created),
		zap.Int("modified", res.Modified),
		zap.Int("deleted", res.Deleted),
		zap.Int("renamed", res.Renamed),
		zap.Int("chunks_added", res.ChunksAdded),
		zap.Int64("chunks_removed", res.ChunksRemoved),
		zap.Bool("chunks_removed_unknown", res.ChunksRemovedUnknown),
		zap.Int("delete_failures", res.DeleteFailures),
		zap.Int("file_failures", res.FileFailures),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// updateStats stores the backend's point count for the partition, or the
// recorded chunk total when the backend cannot report one.
func (s *Syncer) updateStats(ctx context.Context, p *metadata.Partition) {
	cctx, cancel := s.bounded(ctx)
	stats, err := s.backend.Stats(cctx, p.Name)
	cancel()
	count := stats.PointCount
	if err != nil {
		s.logger.Warn(ctx, "backend stats unavailable, using recorded chunk count", zap.Error(err))
		if count, err = s.store.SumChunks(ctx, p.DatasetID); err != nil {
			s.logger.Warn(ctx, "could not sum recorded chunks", zap.Error(err))
			return
		}
	}
	if err := s.manager.UpdateStats(ctx, p.DatasetID, count); err != nil {
		s.logger.Warn(ctx, "could not update partition stats", zap.Error(err))
	}
}
