package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the orchestrator.
// All Record methods are safe to call on a nil or disabled *Metrics.
type Metrics struct {
	config MetricsConfig

	// Operation metrics
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Configuration metrics
	solutionsRegistered prometheus.Counter
	answers             *prometheus.CounterVec
	stageTransitions    *prometheus.CounterVec

	// Generation metrics
	generationAttempts *prometheus.CounterVec
	generationRuns     *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	activeGenerations  prometheus.Gauge

	// Deploy metrics
	deploys        *prometheus.CounterVec
	deployDuration *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
	addr     string
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
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

		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of orchestrator operations by outcome",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of orchestrator operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		solutionsRegistered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "solutions_registered_total",
				Help:      "Total number of solutions registered",
			},
		),
		answers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "answer_submissions_total",
				Help:      "Total number of answer submissions by stage and result",
			},
			[]string{"stage", "result"},
		),
		stageTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_transitions_total",
				Help:      "Total number of stage transitions",
			},
			[]string{"from", "to"},
		),

		generationAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_attempts_total",
				Help:      "Total number of manifest generation attempts by outcome",
			},
			[]string{"outcome"},
		),
		generationRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_runs_total",
				Help:      "Total number of completed manifest generation runs by result",
			},
			[]string{"result"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_run_duration_seconds",
				Help:      "Duration of manifest generation runs in seconds",
				Buckets:   buckets,
			},
			[]string{"result"},
		),
		activeGenerations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_generation_runs",
				Help:      "Current number of running manifest generation runs",
			},
		),

		deploys: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deploys_total",
				Help:      "Total number of manifest deployments by result",
			},
			[]string{"result"},
		),
		deployDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deploy_duration_seconds",
				Help:      "Duration of manifest deployments in seconds",
				Buckets:   buckets,
			},
			[]string{"result"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
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
		m.operations,
		m.operationDuration,
		m.solutionsRegistered,
		m.answers,
		m.stageTransitions,
		m.generationAttempts,
		m.generationRuns,
		m.generationDuration,
		m.activeGenerations,
		m.deploys,
		m.deployDuration,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// RecordOperation records one façade operation with its status and duration.
func (m *Metrics) RecordOperation(operation, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordSolutionRegistered increments the registered solutions counter.
func (m *Metrics) RecordSolutionRegistered() {
	if !m.enabled() {
		return
	}
	m.solutionsRegistered.Inc()
}

// RecordAnswer records an answer submission. result is "accepted" or an error code.
func (m *Metrics) RecordAnswer(stage, result string) {
	if !m.enabled() {
		return
	}
	m.answers.WithLabelValues(stage, result).Inc()
}

// RecordStageTransition records a stage change.
func (m *Metrics) RecordStageTransition(from, to string) {
	if !m.enabled() {
		return
	}
	m.stageTransitions.WithLabelValues(from, to).Inc()
}

// RecordGenerationAttempt records one generation attempt by outcome.
func (m *Metrics) RecordGenerationAttempt(outcome string) {
	if !m.enabled() {
		return
	}
	m.generationAttempts.WithLabelValues(outcome).Inc()
}

// RecordGenerationStarted marks a generation run as active.
func (m *Metrics) RecordGenerationStarted() {
	if !m.enabled() {
		return
	}
	m.activeGenerations.Inc()
}

// RecordGenerationCompleted records the end of a generation run.
func (m *Metrics) RecordGenerationCompleted(result string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.generationRuns.WithLabelValues(result).Inc()
	m.generationDuration.WithLabelValues(result).Observe(duration.Seconds())
	m.activeGenerations.Dec()
}

// RecordDeploy records a deployment with its result and duration.
func (m *Metrics) RecordDeploy(result string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.deploys.WithLabelValues(result).Inc()
	m.deployDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if !m.enabled() {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the private registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
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

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
// It is a no-op when metrics are disabled or no listen address is set.
// The listener is bound before it returns; serve errors go to errorLog.
func (m *Metrics) StartMetricsServer(errorLog func(error)) error {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.ListenAddress, err)
	}
	m.addr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	m.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if errorLog != nil {
				errorLog(fmt.Errorf("metrics server error: %w", err))
			}
		}
	}()

	return nil
}

// Addr returns the address the metrics server listens on, or "" when it
// was not started.
func (m *Metrics) Addr() string {
	if m == nil {
		return ""
	}
	return m.addr
}

// Shutdown stops the metrics server if it was started.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
