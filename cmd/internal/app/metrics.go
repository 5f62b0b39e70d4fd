package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the HTTP-level and auth Prometheus collectors. It satisfies
// session.Metrics so the session service can report outcomes without knowing
// about Prometheus.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec

	logins    *prometheus.CounterVec
	rotations *prometheus.CounterVec
	reuse     prometheus.Counter
}

// NewMetrics builds and registers the app collectors on a private registry so
// tests can construct multiple instances without collisions.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidtube",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vidtube",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and path.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidtube",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vidtube",
			Subsystem: "auth",
			Name:      "refresh_rotations_total",
			Help:      "Refresh token rotation attempts by result.",
		}, []string{"result"}),
		reuse: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vidtube",
			Subsystem: "auth",
			Name:      "refresh_reuse_detected_total",
			Help:      "Refresh tokens presented after they were superseded.",
		}),
	}

	reg.MustRegister(m.requests, m.duration, m.logins, m.rotations, m.reuse)
	return m
}

// Handler exposes the registry for the /metrics route.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// observe records one served request.
func (m *Metrics) observe(method, path string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.duration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// LoginAttempt counts one login by result.
func (m *Metrics) LoginAttempt(result string) {
	m.logins.WithLabelValues(result).Inc()
}

// RefreshRotation counts one refresh rotation attempt by result.
func (m *Metrics) RefreshRotation(result string) {
	m.rotations.WithLabelValues(result).Inc()
}

// ReuseDetected counts one superseded refresh token being replayed.
func (m *Metrics) ReuseDetected() {
	m.reuse.Inc()
}
