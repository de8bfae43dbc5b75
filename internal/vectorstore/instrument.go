package vectorstore

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/fyrsmithlabs/islandd/internal/vectorstore"

// instrumented decorates a Backend with a per-call deadline, a span and
// call metrics.
type instrumented struct {
	next    Backend
	timeout time.Duration
	tracer  trace.Tracer
}

// Instrument wraps b. A zero timeout leaves caller deadlines untouched.
func Instrument(b Backend, timeout time.Duration) Backend {
	if _, ok := b.(*instrumented); ok {
		return b
	}
	return &instrumented{next: b, timeout: timeout, tracer: otel.Tracer(instrumentationName)}
}

// Unwrap returns the decorated backend.
func (i *instrumented) Unwrap() Backend { return i.next }

func (i *instrumented) start(ctx context.Context, op, partition string) (context.Context, func(error)) {
	ctx, span := i.tracer.Start(ctx, "vectorstore."+op, trace.WithAttributes(
		attribute.String("backend", i.next.Name()),
		attribute.String("partition", partition),
	))
	cancel := context.CancelFunc(func() {})
	if i.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
	}
	began := time.Now()

	return ctx, func(err error) {
		cancel()
		backendLatency.WithLabelValues(i.next.Name(), op).Observe(time.Since(began).Seconds())
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		backendCalls.WithLabelValues(i.next.Name(), op, result).Inc()
		span.End()
	}
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) CreatePartition(ctx context.Context, name string, dim int, hybrid bool) (err error) {
	ctx, done := i.start(ctx, "create_partition", name)
	defer func() { done(err) }()
	return i.next.CreatePartition(ctx, name, dim, hybrid)
}

func (i *instrumented) HasPartition(ctx context.Context, name string) (ok bool, err error) {
	ctx, done := i.start(ctx, "has_partition", name)
	defer func() { done(err) }()
	return i.next.HasPartition(ctx, name)
}

func (i *instrumented) DeletePartition(ctx context.Context, name string) (err error) {
	ctx, done := i.start(ctx, "delete_partition", name)
	defer func() { done(err) }()
	return i.next.DeletePartition(ctx, name)
}

func (i *instrumented) Insert(ctx context.Context, name string, points []Point) (err error) {
	ctx, done := i.start(ctx, "insert", name)
	defer func() { done(err) }()
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("points", len(points)))
	return i.next.Insert(ctx, name, points)
}

func (i *instrumented) DeleteByFilter(ctx context.Context, name string, f Filter) (res DeleteResult, err error) {
	ctx, done := i.start(ctx, "delete_by_filter", name)
	defer func() { done(err) }()
	res, err = i.next.DeleteByFilter(ctx, name, f)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int64("deleted", res.Count),
		attribute.Bool("count_known", res.Known),
	)
	return res, err
}

func (i *instrumented) SetPayload(ctx context.Context, name string, f Filter, fields map[string]string) (res DeleteResult, err error) {
	ctx, done := i.start(ctx, "set_payload", name)
	defer func() { done(err) }()
	return i.next.SetPayload(ctx, name, f, fields)
}

func (i *instrumented) Search(ctx context.Context, name string, req SearchRequest) (hits []ScoredPoint, err error) {
	ctx, done := i.start(ctx, "search", name)
	defer func() { done(err) }()
	hits, err = i.next.Search(ctx, name, req)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("hits", len(hits)))
	return hits, err
}

func (i *instrumented) Stats(ctx context.Context, name string) (s Stats, err error) {
	ctx, done := i.start(ctx, "stats", name)
	defer func() { done(err) }()
	return i.next.Stats(ctx, name)
}

func (i *instrumented) ListPartitions(ctx context.Context) (names []string, err error) {
	ctx, done := i.start(ctx, "list_partitions", "")
	defer func() { done(err) }()
	return i.next.ListPartitions(ctx)
}

func (i *instrumented) Close() error { return i.next.Close() }
