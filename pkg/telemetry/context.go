package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry combines logging, tracing, metrics and events behind one
// handle.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the
// context. If none is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	// Shutdown in reverse order of initialization
	if err := t.Events.Shutdown(ctx); err != nil {
		return err
	}

	if err := t.Tracer.Shutdown(ctx); err != nil {
		return err
	}

	// The metrics server keeps serving until the process exits.

	return nil
}

// Flush forces all pending telemetry data to be exported.
func (t *Telemetry) Flush(ctx context.Context) error {
	return t.Tracer.ForceFlush(ctx)
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}

// InstrumentedContext bundles the context, span, logger and timer of
// one instrumented operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer
}

// StartOperation begins an instrumented operation with logging, tracing, and timing.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return &InstrumentedContext{
			Ctx:    ctx,
			Logger: FromContext(ctx),
			Timer:  NewTimer(),
		}
	}

	spanCtx, span := tel.Tracer.StartSpan(ctx, operation, attrs...)

	logger := tel.Logger.WithField("operation", operation)
	if span.SpanContext().IsValid() {
		logger = logger.WithFields(map[string]interface{}{
			"trace_id": span.SpanContext().TraceID().String(),
			"span_id":  span.SpanContext().SpanID().String(),
		})
	}

	return &InstrumentedContext{
		Ctx:    spanCtx,
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
	}
}

// End finishes the instrumented operation, recording success or failure.
func (ic *InstrumentedContext) End(err error) {
	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
}

// evaluationSpanKey is the context key for evaluation spans.
type evaluationSpanKey struct{}

// evaluationTimerKey is the context key for evaluation timers.
type evaluationTimerKey struct{}

// WithEvaluationContext creates a context enriched with
// evaluation-scoped telemetry: a span, an evaluation logger, a started
// metric and a started event.
func WithEvaluationContext(ctx context.Context, evaluationID string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	spanCtx, span := tel.Tracer.StartEvaluationSpan(ctx, evaluationID)

	logger := tel.Logger.WithEvaluationID(evaluationID)
	spanCtx = logger.WithContext(spanCtx)

	tel.Metrics.RecordEvaluationStarted()
	_ = tel.Events.PublishEvaluationStarted(evaluationID)

	spanCtx = context.WithValue(spanCtx, evaluationSpanKey{}, span)
	spanCtx = context.WithValue(spanCtx, evaluationTimerKey{}, NewTimer())

	return spanCtx
}

// EndEvaluationContext completes the evaluation context. Outcome is
// matched, unmatched or errored.
func EndEvaluationContext(ctx context.Context, evaluationID, outcome string, err error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return
	}

	if span, ok := ctx.Value(evaluationSpanKey{}).(trace.Span); ok {
		span.SetAttributes(attribute.String("evaluation.outcome", outcome))
		if err != nil {
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
		span.End()
	}

	timer, ok := ctx.Value(evaluationTimerKey{}).(*Timer)
	if !ok {
		timer = NewTimer()
	}
	duration := timer.Duration()

	tel.Metrics.RecordEvaluationCompleted(outcome, duration)

	if err != nil {
		_ = tel.Events.PublishEvaluationFailed(evaluationID, "", err.Error())
	} else {
		_ = tel.Events.PublishEvaluationCompleted(evaluationID, outcome == "matched", duration)
	}
}

// RecordDataServiceOperation wraps a data-service call with a span,
// call metrics and error accounting.
func RecordDataServiceOperation(ctx context.Context, endpoint, method string, fn func() error) error {
	tel := FromTelemetryContext(ctx)

	var span trace.Span
	if tel != nil {
		_, span = tel.Tracer.StartDataServiceSpan(ctx, endpoint, method)
		defer span.End()
	}

	timer := NewTimer()
	err := fn()

	if tel != nil {
		tel.Metrics.RecordDataServiceCall(endpoint, method, timer.Duration())
		if err != nil {
			tel.Metrics.RecordDataServiceError(endpoint, "")
			RecordError(span, err)
		} else {
			RecordSuccess(span)
		}
	}

	return err
}
