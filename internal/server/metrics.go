package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/docqa-go/internal/rag"
)

// labelHandler partitions metrics by logical endpoint name rather than the
// raw URL path.
const labelHandler = "handler"

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// apiRequestsTotal counts completed ingest and query calls, partitioned
	// by operation and outcome ("ok" or an error kind).
	apiRequestsTotal *prometheus.CounterVec

	// apiDurationSeconds records the time spent in the service per call.
	apiDurationSeconds *prometheus.HistogramVec

	// inflight is the number of API requests currently being served.
	inflight *prometheus.GaugeVec

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// throttled counts requests rejected by the per-client rate limiter.
	throttled *prometheus.CounterVec
}

// newServerMetrics registers all server metrics against reg. promauto.With(reg)
// registers into the provided registry rather than the global default, which
// keeps unit tests hermetic.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		apiRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of ingest and query calls, partitioned by operation and outcome.",
		}, []string{"operation", "outcome"}),

		apiDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "api",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of ingest and query calls.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
		}, []string{"operation", "outcome"}),

		inflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "docqa",
			Subsystem: "api",
			Name:      "inflight_requests",
			Help:      "Number of API requests currently being served.",
		}, []string{labelHandler}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		throttled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Subsystem: "http",
			Name:      "throttled_total",
			Help:      "Requests rejected by the per-client rate limiter.",
		}, []string{labelHandler}),
	}
}

// observe records one service call.
func (m *serverMetrics) observe(operation string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = string(rag.KindOf(err))
	}
	m.apiRequestsTotal.WithLabelValues(operation, outcome).Inc()
	m.apiDurationSeconds.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

// instrument wraps next with request counting and latency under handler.
func (m *serverMetrics) instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g := m.inflight.WithLabelValues(handler)
		g.Inc()
		defer g.Dec()

		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		start := time.Now()
		next.ServeHTTP(rw, r)

		m.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		m.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}
