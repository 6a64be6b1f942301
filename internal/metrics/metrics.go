// Package metrics exposes Prometheus collectors for the progress monitor
// service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	monitorDatagramsTotal          *prometheus.CounterVec
	monitorDatagramsMalformedTotal prometheus.Counter
	monitorRunsTotal               *prometheus.CounterVec
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	httpRequestsThrottledTotal     prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		monitorDatagramsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_datagrams_total",
				Help: "Total progress datagrams accepted, labeled by kind.",
			},
			[]string{"kind"},
		)

		monitorDatagramsMalformedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "monitor_datagrams_malformed_total",
				Help: "Total datagrams dropped because they failed to decode.",
			},
		)

		monitorRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "monitor_runs_total",
				Help: "Total monitored runs, labeled by final status.",
			},
			[]string{"status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		httpRequestsThrottledTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "http_requests_throttled_total",
				Help: "Total HTTP requests rejected by the rate limiter.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveDatagram increments the accepted-datagram counter for a kind.
func ObserveDatagram(kind string) {
	monitorDatagramsTotal.WithLabelValues(kind).Inc()
}

// ObserveMalformedDatagram increments the malformed-datagram counter.
func ObserveMalformedDatagram() {
	monitorDatagramsMalformedTotal.Inc()
}

// ObserveRun increments the run counter for the given final status.
func ObserveRun(status string) {
	monitorRunsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveThrottledRequest increments the rate-limited request counter.
func ObserveThrottledRequest() {
	httpRequestsThrottledTotal.Inc()
}
