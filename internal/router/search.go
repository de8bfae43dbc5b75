package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/islandd/internal/embeddings"
	"github.com/fyrsmithlabs/islandd/internal/logging"
	"github.com/fyrsmithlabs/islandd/internal/vectorstore"
)

// Query is a scoped search. Either Text or Vector must be set; Vector
// wins when both are.
type Query struct {
	Project       string
	Dataset       string
	Text          string
	Vector        []float32
	Limit         int
	IncludeGlobal bool
}

// Hit is one search result.
type Hit struct {
	Partition string
	ID        string
	Score     float32
	Payload   vectorstore.Payload
}

// SearchResult holds merged hits by descending score.
type SearchResult struct {
	Hits       []Hit
	Partitions []string
	Fallback   bool
	// Failed lists partitions whose search failed. Their hits are missing
	// but the others are returned.
	Failed []string
}

// Search resolves the query's scope and searches every resolved partition
// concurrently. A partition that fails is reported in Failed; the search
// fails only when every partition does.
func (r *Router) Search(ctx context.Context, q Query) (out *SearchResult, err error) {
	if q.Text == "" && len(q.Vector) == 0 {
		return nil, fmt.Errorf("%w: query needs text or a vector", embeddings.ErrEmptyInput)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = r.defaultLimit
	}
	start := time.Now()

	ctx = logging.WithScope(ctx, q.Project, q.Dataset)
	ctx, span := r.tracer.Start(ctx, "router.search", trace.WithAttributes(
		attribute.Int("limit", limit),
		attribute.Bool("include_global", q.IncludeGlobal),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	res, err := r.ResolveSearchPartitions(ctx, q.Project, q.Dataset, q.IncludeGlobal)
	if err != nil {
		return nil, err
	}
	defer func() {
		searchDuration.WithLabelValues(res.Level.String()).Observe(time.Since(start).Seconds())
	}()

	req := vectorstore.SearchRequest{Vector: q.Vector, Limit: limit}
	if len(req.Vector) == 0 {
		if r.embedder == nil {
			return nil, fmt.Errorf("%w: no embedder for text queries", embeddings.ErrInvalidConfig)
		}
		if req.Vector, err = embeddings.EmbedQuery(ctx, r.embedder, q.Text); err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
	}
	if r.sparse != nil && q.Text != "" {
		sv := r.sparse.EmbedSparse(q.Text)
		req.Sparse = &sv
	}

	perTarget := make([][]Hit, len(res.targets))
	errs := make([]error, len(res.targets))

	var g errgroup.Group
	g.SetLimit(r.maxFanout)
	for i, t := range res.targets {
		g.Go(func() error {
			perTarget[i], errs[i] = r.searchOne(ctx, res, t, req)
			return nil
		})
	}
	_ = g.Wait()

	out = &SearchResult{Partitions: res.Partitions, Fallback: res.Fallback}
	var failures []error
	for i, t := range res.targets {
		if errs[i] == nil {
			out.Hits = append(out.Hits, perTarget[i]...)
			continue
		}
		out.Failed = append(out.Failed, t.name)
		failures = append(failures, fmt.Errorf("partition %s: %w", t.name, errs[i]))
		partitionErrors.Inc()
		r.logger.Warn(logging.WithPartition(ctx, t.name), "partition search failed", zap.Error(errs[i]))
	}
	if len(failures) == len(res.targets) {
		return nil, errors.Join(failures...)
	}

	// Ties keep partition resolution order.
	sort.SliceStable(out.Hits, func(i, j int) bool { return out.Hits[i].Score > out.Hits[j].Score })
	if len(out.Hits) > limit {
		out.Hits = out.Hits[:limit]
	}

	span.SetAttributes(
		attribute.Int("partitions", len(res.targets)),
		attribute.Int("hits", len(out.Hits)),
		attribute.Bool("fallback", res.Fallback),
	)
	return out, nil
}

func (r *Router) searchOne(ctx context.Context, res *Resolution, t target, req vectorstore.SearchRequest) ([]Hit, error) {
	cctx, cancel := r.bounded(ctx)
	defer cancel()

	req.Filter = t.filter
	points, err := r.backend.Search(cctx, t.name, req)
	if err != nil {
		if errors.Is(err, vectorstore.ErrPartitionNotFound) && t.projectID == "" {
			// Well-known partitions that were never created.
			return nil, nil
		}
		return nil, err
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		if !res.allows(t, p.Payload.ProjectID) {
			containmentDrops.Inc()
			r.logger.Debug(ctx, "dropped hit outside query scope",
				zap.String("partition", t.name),
				zap.String("payload_project_id", p.Payload.ProjectID))
			continue
		}
		hits = append(hits, Hit{Partition: t.name, ID: p.ID, Score: p.Score, Payload: p.Payload})
	}
	return hits, nil
}
