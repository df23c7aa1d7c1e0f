// Package metrics exposes Prometheus collectors for the crawl service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	tasksTotal                 *prometheus.CounterVec
	tasksSubmittedTotal        prometheus.Counter
	activeWorkers              prometheus.Gauge
	livePushTotal              *prometheus.CounterVec
	liveSubscribers            prometheus.Gauge
	upstreamWaitSeconds        *prometheus.HistogramVec
	robotsFallbackTotal        prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
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

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ondemand_tasks_total",
				Help: "Total number of task attempts finished, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		tasksSubmittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ondemand_tasks_submitted_total",
				Help: "Total number of crawl tasks accepted by the API.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ondemand_active_workers",
				Help: "Number of workers currently running a task.",
			},
		)

		livePushTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ondemand_live_push_total",
				Help: "Live channel pushes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		liveSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ondemand_live_subscribers",
				Help: "Number of open live channel connections.",
			},
		)

		upstreamWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ondemand_upstream_rate_limit_wait_seconds",
				Help:    "Histogram of time spent waiting on upstream rate limiters.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"source"},
		)

		robotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ondemand_robots_fallback_total",
				Help: "robots.txt probes that timed out and were treated as allow-all.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveTask increments the task counter for the given outcome.
func ObserveTask(outcome string) {
	Init()
	tasksTotal.WithLabelValues(outcome).Inc()
}

// ObserveSubmission counts an accepted task.
func ObserveSubmission() {
	Init()
	tasksSubmittedTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveLivePush counts one live push by outcome.
func ObserveLivePush(outcome string) {
	Init()
	livePushTotal.WithLabelValues(outcome).Inc()
}

// LiveConnected tracks an opened (delta 1) or closed (delta -1) live connection.
func LiveConnected(delta int) {
	Init()
	liveSubscribers.Add(float64(delta))
}

// ObserveRateLimitWait records time spent waiting for an upstream limiter.
func ObserveRateLimitWait(source string, duration time.Duration) {
	Init()
	upstreamWaitSeconds.WithLabelValues(source).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt probe that fell back to allow-all.
func ObserveRobotsFallback() {
	Init()
	robotsFallbackTotal.Inc()
}
