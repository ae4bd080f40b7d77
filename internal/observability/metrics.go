package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quarryline/quarryline/internal/shared"
)

// Metrics collects Prometheus metrics for the service.
type Metrics struct {
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	reportRenders     *prometheus.CounterVec
}

// NewMetrics initialises the registry and the base collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quarryline_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quarryline_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quarryline_lifecycle_operations_total",
		Help: "Delivery lifecycle operations by operation and outcome.",
	}, []string{"operation", "outcome"})
	opDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quarryline_lifecycle_operation_duration_seconds",
		Help:    "Delivery lifecycle operation duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	renders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quarryline_report_renders_total",
		Help: "Traceability report renders by format and cache result.",
	}, []string{"format", "cache"})
	registry.MustRegister(requests, duration, operations, opDuration, renders)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		operationsTotal:   operations,
		operationDuration: opDuration,
		reportRenders:     renders,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveOperation records one lifecycle operation. The outcome label is the
// error kind, or "ok".
func (m *Metrics) ObserveOperation(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(shared.KindOf(err))
	}
	m.operationsTotal.WithLabelValues(operation, outcome).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveRender records a report render.
func (m *Metrics) ObserveRender(format string, cacheHit bool) {
	if m == nil {
		return
	}
	cache := "miss"
	if cacheHit {
		cache = "hit"
	}
	m.reportRenders.WithLabelValues(format, cache).Inc()
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
