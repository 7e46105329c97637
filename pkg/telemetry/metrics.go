package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the rules engine.
type Metrics struct {
	config MetricsConfig

	// Evaluation metrics
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	activeEvaluations  prometheus.Gauge

	// Field resolution metrics
	fieldResolutions   *prometheus.CounterVec
	resolutionDuration prometheus.Histogram

	// Data-service metrics
	dataServiceCalls    *prometheus.CounterVec
	dataServiceDuration *prometheus.HistogramVec
	dataServiceRetries  *prometheus.CounterVec
	dataServiceErrors   *prometheus.CounterVec
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter

	// Filter metrics
	filterRuns     *prometheus.CounterVec
	filterBatches  prometheus.Counter
	filterEntities *prometheus.CounterVec
	filterDuration prometheus.Histogram

	// Registry metrics
	registeredFields      prometheus.Gauge
	registeredEntityTypes prometheus.Gauge

	// Error metrics
	errorsByCode *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Total number of rule evaluations",
			},
			[]string{"outcome"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "End-to-end duration of rule evaluations in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		activeEvaluations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_evaluations",
				Help:      "Current number of in-flight evaluations",
			},
		),

		fieldResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "field_resolutions_total",
				Help:      "Total number of field resolutions by final status",
			},
			[]string{"status"},
		),
		resolutionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "resolution_duration_seconds",
				Help:      "Duration of whole-plan field resolution in seconds",
				Buckets:   buckets,
			},
		),

		dataServiceCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "data_service_calls_total",
				Help:      "Total number of data-service calls",
			},
			[]string{"endpoint", "method"},
		),
		dataServiceDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "data_service_call_duration_seconds",
				Help:      "Duration of data-service calls in seconds",
				Buckets:   buckets,
			},
			[]string{"endpoint", "method"},
		),
		dataServiceRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "data_service_retries_total",
				Help:      "Total number of data-service call retries",
			},
			[]string{"endpoint"},
		),
		dataServiceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "data_service_errors_total",
				Help:      "Total number of failed data-service calls",
			},
			[]string{"endpoint", "code"},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_cache_hits_total",
				Help:      "Total number of request-scoped cache hits",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_cache_misses_total",
				Help:      "Total number of request-scoped cache misses",
			},
		),

		filterRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_runs_total",
				Help:      "Total number of filter runs",
			},
			[]string{"status"},
		),
		filterBatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_batches_total",
				Help:      "Total number of filter batches processed",
			},
		),
		filterEntities: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filter_entities_total",
				Help:      "Total number of entities processed by filter runs",
			},
			[]string{"outcome"},
		),
		filterDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "filter_run_duration_seconds",
				Help:      "Duration of filter runs in seconds",
				Buckets:   buckets,
			},
		),

		registeredFields: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_fields",
				Help:      "Current number of registered field configs",
			},
		),
		registeredEntityTypes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_entity_types",
				Help:      "Current number of registered entity types",
			},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.evaluationsTotal,
		m.evaluationDuration,
		m.activeEvaluations,
		m.fieldResolutions,
		m.resolutionDuration,
		m.dataServiceCalls,
		m.dataServiceDuration,
		m.dataServiceRetries,
		m.dataServiceErrors,
		m.cacheHits,
		m.cacheMisses,
		m.filterRuns,
		m.filterBatches,
		m.filterEntities,
		m.filterDuration,
		m.registeredFields,
		m.registeredEntityTypes,
		m.errorsByCode,
	)

	return m, nil
}

// Evaluation Metrics

// RecordEvaluationStarted tracks an in-flight evaluation.
func (m *Metrics) RecordEvaluationStarted() {
	if m.activeEvaluations == nil {
		return
	}
	m.activeEvaluations.Inc()
}

// RecordEvaluationCompleted records a finished evaluation. Outcome is
// matched, unmatched or errored.
func (m *Metrics) RecordEvaluationCompleted(outcome string, duration time.Duration) {
	if m.evaluationsTotal == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(outcome).Inc()
	m.evaluationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.activeEvaluations.Dec()
}

// Field Resolution Metrics

// RecordFieldResolution counts one field reaching its final status.
func (m *Metrics) RecordFieldResolution(status string) {
	if m.fieldResolutions == nil {
		return
	}
	m.fieldResolutions.WithLabelValues(status).Inc()
}

// RecordResolutionDuration records the duration of one plan execution.
func (m *Metrics) RecordResolutionDuration(duration time.Duration) {
	if m.resolutionDuration == nil {
		return
	}
	m.resolutionDuration.Observe(duration.Seconds())
}

// Data-Service Metrics

// RecordDataServiceCall records a data-service call with its duration.
func (m *Metrics) RecordDataServiceCall(endpoint, method string, duration time.Duration) {
	if m.dataServiceCalls == nil {
		return
	}
	m.dataServiceCalls.WithLabelValues(endpoint, method).Inc()
	m.dataServiceDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// RecordDataServiceRetry counts one retry against an endpoint.
func (m *Metrics) RecordDataServiceRetry(endpoint string) {
	if m.dataServiceRetries == nil {
		return
	}
	m.dataServiceRetries.WithLabelValues(endpoint).Inc()
}

// RecordDataServiceError counts one failed call against an endpoint.
func (m *Metrics) RecordDataServiceError(endpoint, code string) {
	if m.dataServiceErrors == nil {
		return
	}
	m.dataServiceErrors.WithLabelValues(endpoint, code).Inc()
}

// RecordCacheHit counts a request-scoped cache hit.
func (m *Metrics) RecordCacheHit() {
	if m.cacheHits == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss counts a request-scoped cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m.cacheMisses == nil {
		return
	}
	m.cacheMisses.Inc()
}

// Filter Metrics

// RecordFilterRun records a completed filter run.
func (m *Metrics) RecordFilterRun(status string, duration time.Duration) {
	if m.filterRuns == nil {
		return
	}
	m.filterRuns.WithLabelValues(status).Inc()
	m.filterDuration.Observe(duration.Seconds())
}

// RecordFilterBatch counts one processed batch.
func (m *Metrics) RecordFilterBatch() {
	if m.filterBatches == nil {
		return
	}
	m.filterBatches.Inc()
}

// RecordFilterEntity counts one entity outcome: matched, unmatched or
// failed.
func (m *Metrics) RecordFilterEntity(outcome string) {
	if m.filterEntities == nil {
		return
	}
	m.filterEntities.WithLabelValues(outcome).Inc()
}

// Registry Metrics

// SetRegisteredFields sets the current count of field configs.
func (m *Metrics) SetRegisteredFields(count float64) {
	if m.registeredFields == nil {
		return
	}
	m.registeredFields.Set(count)
}

// SetRegisteredEntityTypes sets the current count of entity types.
func (m *Metrics) SetRegisteredEntityTypes(count float64) {
	if m.registeredEntityTypes == nil {
		return
	}
	m.registeredEntityTypes.Set(count)
}

// Error Metrics

// RecordError counts an error by its engine error code.
func (m *Metrics) RecordError(code string) {
	if m.errorsByCode == nil || code == "" {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
