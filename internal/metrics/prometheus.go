// Package metrics exports request-layer events to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leonardcser/api-relay/internal/request"
)

// requestMetrics is the Prometheus implementation of request.Observer.
type requestMetrics struct {
	requests       *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	attempts       *prometheus.CounterVec
	attemptLatency *prometheus.HistogramVec
	failures       *prometheus.CounterVec
	queued         prometheus.Counter
}

// NewObserver registers the request-layer collectors with reg.
//
// Example usage:
//
//	reg := prometheus.NewRegistry()
//	cfg.Observer = metrics.NewObserver(reg)
//	http.Handle("/metrics", metrics.Handler(reg))
func NewObserver(reg prometheus.Registerer) request.Observer {
	f := promauto.With(reg)
	return &requestMetrics{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_requests_total",
				Help: "Total number of orchestrated requests by method",
			},
			[]string{"method"},
		),
		cacheHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_cache_hits_total",
				Help: "Responses served from cache, by freshness",
			},
			[]string{"freshness"}, // "fresh", "stale"
		),
		attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_network_requests_total",
				Help: "HTTP attempts by backend host and status code (0 for network errors)",
			},
			[]string{"host", "status"},
		),
		attemptLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "relay_network_request_duration_milliseconds",
				Help: "Duration of HTTP attempts in milliseconds",
				Buckets: []float64{
					10,    // 10ms
					50,    // 50ms
					100,   // 100ms
					250,   // 250ms
					500,   // 500ms
					1000,  // 1s
					2500,  // 2.5s
					5000,  // 5s
					10000, // 10s
					30000, // request timeout
				},
			},
			[]string{"host"},
		),
		failures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_failed_requests_total",
				Help: "Requests that failed after retries and failover, by error code",
			},
			[]string{"code"},
		),
		queued: f.NewCounter(prometheus.CounterOpts{
			Name: "relay_offline_queued_total",
			Help: "Mutating requests queued while offline",
		}),
	}
}

func (m *requestMetrics) Request(method string) {
	m.requests.WithLabelValues(method).Inc()
}

func (m *requestMetrics) CacheHit(stale bool) {
	freshness := "fresh"
	if stale {
		freshness = "stale"
	}
	m.cacheHits.WithLabelValues(freshness).Inc()
}

func (m *requestMetrics) NetworkRequest(host string, status int, elapsed time.Duration) {
	m.attempts.WithLabelValues(host, strconv.Itoa(status)).Inc()
	m.attemptLatency.WithLabelValues(host).Observe(float64(elapsed) / float64(time.Millisecond))
}

func (m *requestMetrics) Failure(code string) {
	m.failures.WithLabelValues(code).Inc()
}

func (m *requestMetrics) Queued() {
	m.queued.Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
