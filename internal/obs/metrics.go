package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	exchangeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_exchange_requests_total",
			Help: "Gateway exchange requests by outcome.",
		},
		[]string{"outcome"},
	)

	forwardDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_forward_duration_seconds",
			Help:    "Outbound forward call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	rateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_rejections_total",
			Help: "Requests rejected by the token-bucket rate limiter.",
		},
		[]string{"scope"},
	)

	circuitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_circuit_transitions_total",
			Help: "Circuit breaker state transitions.",
		},
		[]string{"to"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		exchangeRequestsTotal, forwardDuration, rateLimitRejections, circuitTransitions,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveExchange counts one gateway exchange by outcome (success, rate_limited, ...).
func ObserveExchange(outcome string) {
	exchangeRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveForward records the latency of one outbound forward call.
func ObserveForward(d time.Duration) {
	forwardDuration.Observe(d.Seconds())
}

// ObserveRateLimitRejection counts one rejection for scope "organization" or "service".
func ObserveRateLimitRejection(scope string) {
	rateLimitRejections.WithLabelValues(scope).Inc()
}

// ObserveCircuitTransition counts one breaker transition into the given state.
func ObserveCircuitTransition(to string) {
	circuitTransitions.WithLabelValues(to).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses resource identifiers so metric label cardinality stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	parts := strings.Split(path, "/")
	collapsible := map[string]bool{
		"organizations": true,
		"subsystems":    true,
		"services":      true,
		"certificates":  true,
		"access-rights": true,
	}
	for i := 0; i < len(parts)-1; i++ {
		if collapsible[parts[i]] && parts[i+1] != "" {
			parts[i+1] = ":id"
			break
		}
	}
	return strings.Join(parts, "/")
}

// statusWriter captures the response code written by downstream handlers.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
