package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	GridCacheHitsTotal  prometheus.Counter
	GridCacheMissTotal  prometheus.Counter

	// Versioning metrics
	VersionAppendsTotal *prometheus.CounterVec
	RollbacksTotal      prometheus.Counter

	// Collaboration metrics
	CollabSessionsActive prometheus.Gauge
	CollabMessagesTotal  prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chronicle_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_store_operations_total",
				Help: "Total number of store operations",
			},
			[]string{"collection", "operation", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chronicle_store_operation_duration_seconds",
				Help:    "Store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"collection", "operation"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"resource", "verb", "decision"},
		),
		GridCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chronicle_permission_cache_hits_total",
				Help: "Permission grid cache hits",
			},
		),
		GridCacheMissTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chronicle_permission_cache_misses_total",
				Help: "Permission grid cache misses",
			},
		),
		VersionAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chronicle_version_appends_total",
				Help: "Total number of version entries appended",
			},
			[]string{"change_type"},
		),
		RollbacksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chronicle_rollbacks_total",
				Help: "Total number of event rollbacks",
			},
		),
		CollabSessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "chronicle_collab_sessions_active",
				Help: "Number of active collaboration sessions",
			},
		),
		CollabMessagesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "chronicle_collab_messages_total",
				Help: "Total number of collaboration messages relayed",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.AuthzDecisionsTotal,
		m.GridCacheHitsTotal,
		m.GridCacheMissTotal,
		m.VersionAppendsTotal,
		m.RollbacksTotal,
		m.CollabSessionsActive,
		m.CollabMessagesTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
