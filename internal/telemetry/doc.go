// Package telemetry provides OpenTelemetry instrumentation for islandd.
//
// Tracing and OTLP metrics are disabled by default. When enabled, spans
// cover partition lifecycle, sync runs and query routing:
//
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	ctx, span := tel.Tracer("islandd.router").Start(ctx, "router.Search")
//	defer span.End()
//
// Prometheus collectors live next to the code they measure (lifecycle,
// syncer, router, vectorstore) and are served on /metrics regardless of
// this package's state.
//
// Telemetry failures never stop the daemon; the instance degrades to no-op
// providers and lists what failed in Status.
//
// Tests use NewTestTelemetry, which records spans in memory.
package telemetry
