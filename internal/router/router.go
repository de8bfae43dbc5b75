// Package router resolves which partitions a query may read and fans the
// search out across them.
//
// Resolution maps a (project, dataset) pair to partitions with a single
// metadata query:
//
//	project + dataset  the dataset's partition
//	project            partitions of datasets the project owns, plus, when
//	                   global data is included, datasets shared with it,
//	                   datasets flagged global and the well-known global
//	                   partition
//	neither            every partition
//
// Hits are then filtered so that nothing outside the resolved projects is
// ever returned, whatever the backend's filtering did.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/islandd/internal/embeddings"
	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/metadata"
	"github.com/fyrsmithlabs/islandd/internal/scope"
	"github.com/fyrsmithlabs/islandd/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/islandd/internal/router"

// Defaults for router settings.
const (
	DefaultMaxFanout    = 8
	DefaultLimit        = 10
	DefaultQueryTimeout = 30 * time.Second
)

// ErrNoAccessibleData is returned when a query resolves to no partition and
// fallback is disabled.
var ErrNoAccessibleData = errors.New("no accessible data for query scope")

// MetadataStore is the part of the metadata store the router reads.
type MetadataStore interface {
	VisiblePartitions(ctx context.Context, q metadata.VisibilityQuery) ([]metadata.PartitionRef, error)
}

// Resolution is the set of partitions a query reads.
type Resolution struct {
	Level      scope.Level
	Partitions []string
	// Fallback is set when metadata was empty or unavailable and the
	// partitions came from the backend's own listing.
	Fallback bool

	targets []target
	// accessible holds the project ids a hit may carry. Nil means any.
	accessible map[string]bool
}

// target is one partition to search with the filter bound to its scope.
type target struct {
	name      string
	projectID string
	filter    vectorstore.Filter
}

// Router resolves and runs scoped searches. It holds no locks; concurrent
// searches only share the backend and the metadata store.
type Router struct {
	store         MetadataStore
	backend       vectorstore.Backend
	embedder      embeddings.Embedder
	sparse        embeddings.SparseEmbedder
	allowFallback bool
	maxFanout     int
	defaultLimit  int
	timeout       time.Duration
	logger        *logging.Logger
	tracer        trace.Tracer
	now           func() time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithFallback lets resolution fall back to the backend's partition list
// when metadata yields nothing.
func WithFallback(enabled bool) Option {
	return func(r *Router) {
		r.allowFallback = enabled
	}
}

// WithMaxFanout bounds concurrent partition searches per query.
func WithMaxFanout(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxFanout = n
		}
	}
}

// WithDefaultLimit sets the limit used when a query has none.
func WithDefaultLimit(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.defaultLimit = n
		}
	}
}

// WithSparse adds sparse query vectors for hybrid partitions.
func WithSparse(e embeddings.SparseEmbedder) Option {
	return func(r *Router) {
		r.sparse = e
	}
}

// WithBackendTimeout bounds each partition search. Zero disables the bound.
func WithBackendTimeout(d time.Duration) Option {
	return func(r *Router) {
		r.timeout = d
	}
}

// WithClock overrides the instant share expiry is evaluated against.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.now = now
	}
}

// New creates a router. embedder may be nil when every query carries a
// vector.
func New(store MetadataStore, backend vectorstore.Backend, embedder embeddings.Embedder, logger *logging.Logger, opts ...Option) (*Router, error) {
	if store == nil {
		return nil, fmt.Errorf("metadata store is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("vector backend is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	r := &Router{
		store:        store,
		backend:      backend,
		embedder:     embedder,
		maxFanout:    DefaultMaxFanout,
		defaultLimit: DefaultLimit,
		timeout:      DefaultQueryTimeout,
		logger:       logger.Named("router"),
		tracer:       otel.Tracer(instrumentationName),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ResolveSearchPartitions returns the partitions a query for project and
// dataset may read.
func (r *Router) ResolveSearchPartitions(ctx context.Context, projectName, datasetName string, includeGlobal bool) (*Resolution, error) {
	level := scope.Resolve(projectName, datasetName, scope.Unset)
	res := &Resolution{Level: level}

	vq := metadata.VisibilityQuery{At: r.now()}
	switch level {
	case scope.Local:
		vq.DatasetID = scope.DatasetID(projectName, datasetName).String()
	case scope.Project:
		vq.ProjectID = scope.ProjectID(projectName).String()
		vq.IncludeShared = includeGlobal
	}

	refs, err := r.store.VisiblePartitions(ctx, vq)
	if err == nil && len(refs) > 0 {
		r.fromRecords(res, refs, projectName, includeGlobal)
		return res, nil
	}

	if !r.allowFallback {
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoAccessibleData, err)
		}
		return nil, ErrNoAccessibleData
	}

	fields := []zap.Field{zap.Stringer("level", level)}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	r.logger.Warn(ctx, "partition metadata unavailable, falling back to backend listing", fields...)
	fallbackTotal.Inc()

	if err := r.fromBackend(ctx, res, projectName, datasetName, includeGlobal); err != nil {
		return nil, err
	}
	if len(res.targets) == 0 {
		return nil, ErrNoAccessibleData
	}
	return res, nil
}

func (r *Router) fromRecords(res *Resolution, refs []metadata.PartitionRef, projectName string, includeGlobal bool) {
	if res.Level != scope.Global {
		res.accessible = make(map[string]bool, len(refs)+1)
		if projectName != "" {
			res.accessible[scope.ProjectID(projectName).String()] = true
		}
	}

	seen := make(map[string]bool, len(refs)+1)
	for _, ref := range refs {
		if seen[ref.Name] {
			continue
		}
		seen[ref.Name] = true
		if res.accessible != nil && ref.ProjectID != "" {
			res.accessible[ref.ProjectID] = true
		}
		res.add(target{name: ref.Name, projectID: ref.ProjectID, filter: scopeFilter(ref.Name, ref.ProjectID, ref.DatasetID)})
	}

	if res.Level == scope.Project && includeGlobal && !seen[scope.GlobalPartition] {
		res.add(target{name: scope.GlobalPartition})
	}
}

// fromBackend resolves from the backend's partition list, keeping names
// derived from the requested scope.
func (r *Router) fromBackend(ctx context.Context, res *Resolution, projectName, datasetName string, includeGlobal bool) error {
	cctx, cancel := r.bounded(ctx)
	names, err := r.backend.ListPartitions(cctx)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: list partitions: %w", ErrNoAccessibleData, err)
	}
	res.Fallback = true

	var projectID, datasetID, local string
	if projectName != "" {
		projectID = scope.ProjectID(projectName).String()
		res.accessible = map[string]bool{projectID: true}
	}
	if res.Level == scope.Local {
		datasetID = scope.DatasetID(projectName, datasetName).String()
		if local, err = scope.PartitionName(projectName, datasetName, scope.Local); err != nil {
			return err
		}
	}

	for _, name := range names {
		if !scope.Recognized(name) {
			continue
		}
		switch res.Level {
		case scope.Local:
			if name == local {
				res.add(target{name: name, projectID: projectID, filter: vectorstore.ScopeFilter(projectID, datasetID)})
			}
		case scope.Project:
			if scope.BelongsToProject(name, projectName) {
				res.add(target{name: name, projectID: projectID, filter: vectorstore.ScopeFilter(projectID, "")})
			} else if includeGlobal && name == scope.GlobalPartition {
				res.add(target{name: name})
			}
		default:
			res.add(target{name: name})
		}
	}
	return nil
}

func (res *Resolution) add(t target) {
	res.targets = append(res.targets, t)
	res.Partitions = append(res.Partitions, t.name)
}

// allows reports whether a hit from t may be returned.
func (res *Resolution) allows(t target, payloadProject string) bool {
	if res.accessible == nil || t.name == scope.GlobalPartition {
		return true
	}
	if payloadProject == "" {
		// Points written before project ids were recorded belong to the
		// partition's owner.
		payloadProject = t.projectID
	}
	return res.accessible[payloadProject]
}

// scopeFilter binds a partition search to its dataset. Legacy and global
// partitions hold points without scope ids and are searched unfiltered.
func scopeFilter(name, projectID, datasetID string) vectorstore.Filter {
	if name == scope.GlobalPartition || scope.IsLegacy(name) {
		return nil
	}
	f := vectorstore.ScopeFilter(projectID, datasetID)
	if len(f) == 0 {
		return nil
	}
	return f
}

func (r *Router) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}
