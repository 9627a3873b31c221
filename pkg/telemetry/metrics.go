package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Quarry.
type Metrics struct {
	config MetricsConfig

	// Session metrics
	sessionsStarted   prometheus.Counter
	sessionsCompleted *prometheus.CounterVec
	sessionDuration   *prometheus.HistogramVec

	// File parse metrics
	filesParsed       *prometheus.CounterVec
	fileParseDuration *prometheus.HistogramVec
	retryRounds       prometheus.Counter

	// Target metrics
	targetsCreated *prometheus.CounterVec

	// Callback metrics
	callbackRuns     *prometheus.CounterVec
	callbackDuration *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec

	// System metrics
	cachedFiles   prometheus.Gauge
	liveCallbacks prometheus.Gauge
	pendingFiles  prometheus.Gauge

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

	// Create a new registry
	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		// Session metrics
		sessionsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_started_total",
				Help:      "Total number of parse sessions started",
			},
		),
		sessionsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_completed_total",
				Help:      "Total number of parse sessions completed",
			},
			[]string{"status"},
		),
		sessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Duration of parse sessions in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		// File parse metrics
		filesParsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_parsed_total",
				Help:      "Total number of file evaluations by outcome",
			},
			[]string{"status"},
		),
		fileParseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "file_parse_duration_seconds",
				Help:      "Duration of single file evaluations in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		retryRounds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_rounds_total",
				Help:      "Total number of deferral retry rounds scheduled",
			},
		),

		// Target metrics
		targetsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "targets_created_total",
				Help:      "Total number of build targets created",
			},
			[]string{"kind"},
		),

		// Callback metrics
		callbackRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "callback_runs_total",
				Help:      "Total number of pre/post-build callback invocations",
			},
			[]string{"kind", "status"},
		),
		callbackDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "callback_duration_seconds",
				Help:      "Duration of callback invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"kind"},
		),

		// Error metrics
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of parse errors by error class",
			},
			[]string{"class"},
		),

		// System metrics
		cachedFiles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cached_files",
				Help:      "Current number of compiled files held by the parse cache",
			},
		),
		liveCallbacks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "live_callbacks",
				Help:      "Current number of registered build callbacks",
			},
		),
		pendingFiles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_files",
				Help:      "Current number of files waiting to be parsed or retried",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.sessionsStarted,
		m.sessionsCompleted,
		m.sessionDuration,
		m.filesParsed,
		m.fileParseDuration,
		m.retryRounds,
		m.targetsCreated,
		m.callbackRuns,
		m.callbackDuration,
		m.errorsByClass,
		m.cachedFiles,
		m.liveCallbacks,
		m.pendingFiles,
	)

	return m, nil
}

// Session Metrics

// RecordSessionStarted increments the counter for started parse sessions.
func (m *Metrics) RecordSessionStarted() {
	if m.sessionsStarted == nil {
		return
	}
	m.sessionsStarted.Inc()
}

// RecordSessionCompleted records a completed session with its status and duration.
func (m *Metrics) RecordSessionCompleted(status string, duration time.Duration) {
	if m.sessionsCompleted == nil {
		return
	}
	m.sessionsCompleted.WithLabelValues(status).Inc()
	m.sessionDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// File Parse Metrics

// RecordFileParsed records one file evaluation with its outcome and duration.
func (m *Metrics) RecordFileParsed(status string, duration time.Duration) {
	if m.filesParsed == nil {
		return
	}
	m.filesParsed.WithLabelValues(status).Inc()
	m.fileParseDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordRetryRound records one deferral retry round.
func (m *Metrics) RecordRetryRound() {
	if m.retryRounds == nil {
		return
	}
	m.retryRounds.Inc()
}

// Target Metrics

// RecordTargetCreated records the creation of a build target.
func (m *Metrics) RecordTargetCreated(kind string) {
	if m.targetsCreated == nil {
		return
	}
	m.targetsCreated.WithLabelValues(kind).Inc()
}

// Callback Metrics

// RecordCallbackRun records one pre- or post-build callback invocation.
func (m *Metrics) RecordCallbackRun(kind, status string, duration time.Duration) {
	if m.callbackRuns == nil {
		return
	}
	m.callbackRuns.WithLabelValues(kind, status).Inc()
	m.callbackDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records a parse error by class.
func (m *Metrics) RecordError(errorClass string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
}

// System Metrics

// SetCachedFiles sets the current size of the parse cache.
func (m *Metrics) SetCachedFiles(count float64) {
	if m.cachedFiles == nil {
		return
	}
	m.cachedFiles.Set(count)
}

// SetLiveCallbacks sets the current number of registered callbacks.
func (m *Metrics) SetLiveCallbacks(count float64) {
	if m.liveCallbacks == nil {
		return
	}
	m.liveCallbacks.Set(count)
}

// SetPendingFiles sets the current number of files waiting to be parsed.
func (m *Metrics) SetPendingFiles(count float64) {
	if m.pendingFiles == nil {
		return
	}
	m.pendingFiles.Set(count)
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
