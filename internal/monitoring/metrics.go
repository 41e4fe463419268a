// internal/monitoring/metrics.go
package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsManager manages Prometheus metrics for the scraping engine
type MetricsManager struct {
	// Method metrics
	methodAttempts *prometheus.CounterVec
	methodDuration *prometheus.HistogramVec
	methodRetries  *prometheus.CounterVec

	// Output metrics
	filesDownloaded *prometheus.CounterVec
	bytesDownloaded *prometheus.CounterVec

	// Breaker and limiter metrics
	breakerTransitions *prometheus.CounterVec
	rateLimitWaits     *prometheus.CounterVec

	// Job metrics
	jobsTotal   *prometheus.CounterVec
	jobDuration prometheus.Histogram
	jobsActive  prometheus.Gauge

	registry  *prometheus.Registry
	namespace string
	subsystem string
}

// MetricsConfig configuration for metrics
type MetricsConfig struct {
	Namespace       string `json:"namespace"`
	Subsystem       string `json:"subsystem"`
	EnableGoMetrics bool   `json:"enable_go_metrics"`

	// Registry receives the collectors; a private registry is created when nil
	Registry *prometheus.Registry `json:"-"`
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(config MetricsConfig) *MetricsManager {
	if config.Namespace == "" {
		config.Namespace = "mediascrapexter"
	}
	if config.Subsystem == "" {
		config.Subsystem = "engine"
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}

	mm := &MetricsManager{
		registry:  config.Registry,
		namespace: config.Namespace,
		subsystem: config.Subsystem,
	}

	mm.initializeMetrics()

	if config.EnableGoMetrics {
		mm.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return mm
}

// initializeMetrics initializes all Prometheus metrics
func (mm *MetricsManager) initializeMetrics() {
	factory := promauto.With(mm.registry)

	mm.methodAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mm.namespace,
			Subsystem: mm.subsystem,
			Name:      "method_attempts_total",
			Help:      "Method executions by outcome",
		},
		[]string{"source", "method", "result"},
	)

	mm.methodDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: mm.namespace,
			Subsystem: mm.subsystem,
			Name:      "method_duration_seconds",
			Help:      "Wall-clock time of a method execution including retries",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 240},
		},
		[]string{"source", "method"},
	)

	mm.methodRetries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mm.namespace,
			Subsystem: mm.subsystem,
			Name:      "method_retries_total",
			Help:      "Retries performed by the method executor",
		},
		[]string{"source", "method"},
	)

	mm.filesDownloaded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mm.namespace,
			Subsystem: mm.subsystem,
			Name:      "files_downloaded_total",
			Help:      "Media files accepted into a job",
		},
		[]string{"source"},
	)

	mm.bytesDownloaded = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mm.namespace,
			Subsystem: mm.subsystem,
			Name:      "bytes_downloaded_total",
			Help:      "Bytes of accepted media files",
		},
		[]string{"source"},
	)

	mm.breakerTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mm.namespace,
			Subsystem: mm.subsystem,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state changes by target state",
		},
		[]string{"source", "state"},
	)

	mm.rateLimitWaits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mm.namespace,
			Subsystem: mm.subsystem,
			Name:      "rate_limit_waits_total",
			Help:      "Requests that had to wait for a source token",
		},
		[]string{"source"},
	)

	mm.jobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mm.namespace,
			Subsystem: mm.subsystem,
			Name:      "jobs_total",
			Help:      "Finished jobs by status",
		},
		[]string{"status"},
	)

	mm.jobDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: mm.namespace,
			Subsystem: mm.subsystem,
			Name:      "job_duration_seconds",
			Help:      "Job duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	mm.jobsActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: mm.namespace,
			Subsystem: mm.subsystem,
			Name:      "jobs_active",
			Help:      "Jobs currently running",
		},
	)
}

// RecordMethod records one executor outcome
func (mm *MetricsManager) RecordMethod(source, method string, success bool, retries int, duration time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	mm.methodAttempts.WithLabelValues(source, method, result).Inc()
	mm.methodDuration.WithLabelValues(source, method).Observe(duration.Seconds())
	if retries > 0 {
		mm.methodRetries.WithLabelValues(source, method).Add(float64(retries))
	}
}

// RecordFile records an accepted file
func (mm *MetricsManager) RecordFile(source string, size int64) {
	mm.filesDownloaded.WithLabelValues(source).Inc()
	if size > 0 {
		mm.bytesDownloaded.WithLabelValues(source).Add(float64(size))
	}
}

// RecordBreakerTransition records a breaker moving to state
func (mm *MetricsManager) RecordBreakerTransition(source, state string) {
	mm.breakerTransitions.WithLabelValues(source, state).Inc()
}

// RecordRateLimitWait records a request that waited for a token
func (mm *MetricsManager) RecordRateLimitWait(source string) {
	mm.rateLimitWaits.WithLabelValues(source).Inc()
}

// RecordJobStart marks a job as running
func (mm *MetricsManager) RecordJobStart() {
	mm.jobsActive.Inc()
}

// RecordJobFinished records a job's terminal status
func (mm *MetricsManager) RecordJobFinished(status string, duration time.Duration) {
	mm.jobsActive.Dec()
	mm.jobsTotal.WithLabelValues(status).Inc()
	mm.jobDuration.Observe(duration.Seconds())
}

// Registry returns the registry holding the collectors
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// MetricsHandler returns an HTTP handler for metrics endpoint
func (mm *MetricsManager) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{})
}

// Router builds the observability routes: metrics under path, plus the
// health endpoints when health is non-nil
func (mm *MetricsManager) Router(path string, health *HealthManager) *mux.Router {
	router := mux.NewRouter()
	router.Handle(path, mm.MetricsHandler()).Methods(http.MethodGet)
	if health != nil {
		router.HandleFunc("/health", health.HealthHandler()).Methods(http.MethodGet)
		router.HandleFunc("/live", health.LivenessHandler()).Methods(http.MethodGet)
	}
	return router
}

// StartMetricsServer serves Router until ctx is done
func (mm *MetricsManager) StartMetricsServer(ctx context.Context, address, path string, health *HealthManager) error {
	server := &http.Server{
		Addr:              address,
		Handler:           mm.Router(path, health),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
