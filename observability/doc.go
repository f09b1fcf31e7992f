// Package observability provides OpenTelemetry tracing integration.
//
//	tp, err := observability.InitTracer(ctx, observability.DefaultTracerConfig("datagraph"))
//	defer tp.Shutdown(ctx)
//
//	ctx, span := observability.StartSpan(ctx, "runner.execute")
//	defer span.End()
//
// The runner opens one span per executed node; engines may add their
// own around storage calls.
package observability
