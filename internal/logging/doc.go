// Package logging provides structured, context-aware logging on top of zap.
//
// Every logging method takes a context. Correlation fields found in the
// context (trace and span ids, project, dataset, partition, sync run id,
// request id) are attached to the entry automatically:
//
//	ctx = logging.WithScope(ctx, "acme", "backend")
//	ctx = logging.WithSyncRun(ctx, runID)
//	logger.Info(ctx, "sync completed", zap.Int("created", n))
//
// produces
//
//	{"level":"info","msg":"sync completed","project":"acme","dataset":"backend","sync_run_id":"...","created":3}
//
// Output goes to stdout, to an OpenTelemetry log provider through the
// otelzap bridge, or both. Values of sensitive keys are redacted by the
// encoder before they are written.
//
// Tests use NewTestLogger, which records entries for assertions.
package logging
