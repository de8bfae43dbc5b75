package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	scopeCtxKey     struct{}
	partitionCtxKey struct{}
	syncRunCtxKey   struct{}
	requestCtxKey   struct{}
	loggerCtxKey    struct{}
)

type scopeValue struct {
	project string
	dataset string
}

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if s, ok := ctx.Value(scopeCtxKey{}).(scopeValue); ok {
		if s.project != "" {
			fields = append(fields, zap.String("project", s.project))
		}
		if s.dataset != "" {
			fields = append(fields, zap.String("dataset", s.dataset))
		}
	}
	if p, ok := ctx.Value(partitionCtxKey{}).(string); ok {
		fields = append(fields, zap.String("partition", p))
	}
	if id, ok := ctx.Value(syncRunCtxKey{}).(string); ok {
		fields = append(fields, zap.String("sync_run_id", id))
	}
	if id, ok := ctx.Value(requestCtxKey{}).(string); ok {
		fields = append(fields, zap.String("request_id", id))
	}
	return fields
}

// WithScope records the project and dataset an operation works on.
func WithScope(ctx context.Context, project, dataset string) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, scopeValue{project: project, dataset: dataset})
}

// ScopeFromContext returns the project and dataset recorded by WithScope.
func ScopeFromContext(ctx context.Context) (project, dataset string) {
	s, _ := ctx.Value(scopeCtxKey{}).(scopeValue)
	return s.project, s.dataset
}

// WithPartition records the physical partition an operation targets.
func WithPartition(ctx context.Context, partition string) context.Context {
	return context.WithValue(ctx, partitionCtxKey{}, partition)
}

// WithSyncRun records the id of the sync run in progress.
func WithSyncRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, syncRunCtxKey{}, runID)
}

// SyncRunFromContext returns the id recorded by WithSyncRun.
func SyncRunFromContext(ctx context.Context) string {
	id, _ := ctx.Value(syncRunCtxKey{}).(string)
	return id
}

// WithRequestID records an inbound request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored by WithLogger, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return NewNop()
}
