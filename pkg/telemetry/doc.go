// Package telemetry provides logging, tracing, metrics and events for
// the rules engine.
//
// The package bundles four concerns behind one handle:
//
//   - structured logging with zerolog, with field helpers for
//     evaluation IDs, filter run IDs, fields, entities and endpoints
//   - distributed tracing with OpenTelemetry, exporting to stdout or
//     OTLP over gRPC
//   - Prometheus metrics covering evaluations, field resolutions,
//     data-service calls, the request-scoped cache and filter runs
//   - an in-process event stream for evaluation, resolution, filter,
//     registry and admission events
//
// # Setup
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "openrules"
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	ctx = tel.WithContext(ctx)
//
// Downstream code retrieves the logger from the context:
//
//	logger := telemetry.FromContext(ctx)
//	logger.WithEvaluationID(id).Info("evaluation complete")
//
// # Instrumenting evaluations
//
// WithEvaluationContext opens a span, attaches an evaluation-scoped
// logger, bumps the in-flight gauge and publishes a started event.
// EndEvaluationContext closes all of it:
//
//	ctx = telemetry.WithEvaluationContext(ctx, evaluationID)
//	defer telemetry.EndEvaluationContext(ctx, evaluationID, outcome, err)
//
// Data-service calls are wrapped the same way:
//
//	err := telemetry.RecordDataServiceOperation(ctx, endpoint, "graphql", func() error {
//	    return client.Fetch(ctx, req)
//	})
//
// # Events
//
// Subscribers receive events matching their filter:
//
//	tel.Events.Subscribe(func(event telemetry.Event) {
//	    fmt.Printf("event: %s %s\n", event.Type, event.Message)
//	}, telemetry.FilterByLevel("warning"))
//
// # Environments
//
// DevelopmentConfig logs debug to the console and samples every trace;
// ProductionConfig logs JSON, samples logs and 10% of traces, and
// exports spans over OTLP.
package telemetry
