// Package metrics exposes the Prometheus series named in spec.md §6,
// grounded on the package-level prometheus.client_golang vars, init-time
// MustRegister, and promhttp.Handler idiom in cuemby-warren's
// pkg/metrics/metrics.go.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_requests_total",
			Help: "Total number of inbound proof requests by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatcher_request_duration_seconds",
			Help:    "End-to-end request duration in seconds, from receipt to response",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	QueueWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatcher_queue_wait_seconds",
			Help:    "Time a request spent parked waiting for a worker to free up",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_retries_total",
			Help: "Total number of request retries issued after a worker failure",
		},
		[]string{"kind"},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_rate_limited_total",
			Help: "Total number of requests rejected by the per-client rate limiter",
		},
	)

	WorkerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dispatcher_worker_state",
			Help: "Current worker state, one gauge per (address, state) pinned to 1 for the active state",
		},
		[]string{"address", "state"},
	)

	WorkersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatcher_workers_total",
			Help: "Total number of workers currently registered in the pool",
		},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(QueueWaitDuration)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(RateLimitedTotal)
	prometheus.MustRegister(WorkerState)
	prometheus.MustRegister(WorkersTotal)
}

// Handler returns the Prometheus scrape handler mounted on listen.metrics_port.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times a single operation for later observation into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveSeconds records elapsed time into histogram with the given label
// values.
func (t *Timer) ObserveSeconds(histogram *prometheus.HistogramVec, labelValues ...string) {
	histogram.WithLabelValues(labelValues...).Observe(time.Since(t.start).Seconds())
}
