package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gantry",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests by method, path, and status code.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gantry",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"method", "path"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gantry",
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "Number of HTTP requests currently being processed.",
	})

	// RateLimitRejections counts requests short-circuited with 429.
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gantry",
		Name:      "ratelimit_rejections_total",
		Help:      "Total requests rejected by the rate limiter.",
	})

	// AuthFailures counts identity verification failures (bad tokens).
	// Anonymous requests are not failures.
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gantry",
		Name:      "auth_failures_total",
		Help:      "Total requests whose credentials failed verification.",
	})

	// ValidationFailures counts requests rejected with 400 by the
	// schema validation layer.
	ValidationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gantry",
		Name:      "validation_failures_total",
		Help:      "Total requests rejected by schema validation.",
	})

	// PanicsRecovered counts panics caught by the error normalizer.
	PanicsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gantry",
		Name:      "panics_recovered_total",
		Help:      "Total panics recovered by the error normalization layer.",
	})
)

// normalizePath maps request paths to metric-safe labels to avoid
// cardinality explosion.
func normalizePath(r *http.Request) string {
	// The matched route pattern is low-cardinality by construction.
	if r.Pattern != "" {
		return r.Pattern
	}
	return "unmatched"
}

// Metrics returns middleware that records Prometheus metrics for every
// request.
func Metrics() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			path := normalizePath(r)
			status := strconv.Itoa(sw.status)
			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}
