package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsManager manages Prometheus metrics
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime       prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	instances        prometheus.Gauge
	tokenExchanges   *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec
	fetches          *prometheus.CounterVec
	fetchDuration    prometheus.Histogram
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	mm := &MetricsManager{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	mm.initMetrics()
	mm.registerMetrics()

	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fedsearch_uptime_seconds",
		Help: "Time since the application started",
	})

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedsearch_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fedsearch_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	mm.instances = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fedsearch_instances",
		Help: "Number of registered remote instances",
	})

	mm.tokenExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedsearch_token_exchanges_total",
			Help: "Total number of OAuth2 token exchanges with remote instances",
		},
		[]string{"grant", "outcome"}, // outcome: success, rejected, unreachable, malformed
	)

	mm.exchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fedsearch_token_exchange_duration_seconds",
			Help:    "OAuth2 token exchange duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"grant"},
	)

	mm.fetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fedsearch_delegated_fetches_total",
			Help: "Total number of delegated fetches of remote resources",
		},
		[]string{"outcome"},
	)

	mm.fetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fedsearch_delegated_fetch_duration_seconds",
			Help:    "Delegated fetch duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
	)
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.httpRequests,
		mm.httpDuration,
		mm.instances,
		mm.tokenExchanges,
		mm.exchangeDuration,
		mm.fetches,
		mm.fetchDuration,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry for custom metrics
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime sets the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// SetInstanceCount sets the number of registered instances
func (mm *MetricsManager) SetInstanceCount(count int) {
	mm.instances.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (mm *MetricsManager) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	mm.httpRequests.WithLabelValues(method, route, status).Inc()
	mm.httpDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// RecordTokenExchange records one password or refresh_token grant
func (mm *MetricsManager) RecordTokenExchange(grant, outcome string, duration time.Duration) {
	mm.tokenExchanges.WithLabelValues(grant, outcome).Inc()
	if duration > 0 {
		mm.exchangeDuration.WithLabelValues(grant).Observe(duration.Seconds())
	}
}

// RecordDelegatedFetch records one delegated fetch
func (mm *MetricsManager) RecordDelegatedFetch(outcome string, duration time.Duration) {
	mm.fetches.WithLabelValues(outcome).Inc()
	mm.fetchDuration.Observe(duration.Seconds())
}

// HTTPMiddleware returns middleware that records HTTP metrics. Requests are
// labelled with the chi route pattern to keep label cardinality bounded.
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			mm.RecordHTTPRequest(r.Method, routePattern(r), strconv.Itoa(ww.statusCode), time.Since(start))
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through so streamed blob responses are not buffered.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
