// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	schedulerInFlight          *prometheus.GaugeVec
	schedulerTasksTotal        *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	rowsAppendedTotal          *prometheus.CounterVec
	classificationsTotal       *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "Total number of fetch attempts, labeled by site, kind and outcome.",
			},
			[]string{"site", "kind", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site and kind.",
			},
			[]string{"site", "kind"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_fetch_duration_seconds",
				Help:    "Histogram of single fetch attempt latencies, labeled by kind.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
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

		schedulerInFlight = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_scheduler_in_flight",
				Help: "Number of tasks currently holding a scheduler slot, labeled by pool.",
			},
			[]string{"pool"},
		)

		schedulerTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_scheduler_tasks_total",
				Help: "Total number of scheduled tasks, labeled by pool and status.",
			},
			[]string{"pool", "status"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		rowsAppendedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_rows_appended_total",
				Help: "Total number of rows appended to a result log, labeled by log and status.",
			},
			[]string{"log", "status"},
		)

		classificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_classifications_total",
				Help: "Total number of classification calls, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchAttempt records one fetch attempt against rawURL.
func ObserveFetchAttempt(rawURL, kind, outcome string, bytesFetched int64, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	fetchAttemptsTotal.WithLabelValues(site, kind, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site, kind).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncInFlight increments the in-flight gauge of a scheduler pool.
func IncInFlight(pool string) {
	Init()
	schedulerInFlight.WithLabelValues(pool).Inc()
}

// DecInFlight decrements the in-flight gauge of a scheduler pool.
func DecInFlight(pool string) {
	Init()
	schedulerInFlight.WithLabelValues(pool).Dec()
}

// ObserveTask counts a finished scheduler task.
func ObserveTask(pool, status string) {
	Init()
	schedulerTasksTotal.WithLabelValues(pool, status).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRowAppended counts an append to the named log.
func ObserveRowAppended(log, status string) {
	Init()
	rowsAppendedTotal.WithLabelValues(log, status).Inc()
}

// ObserveClassification counts a classifier call.
func ObserveClassification(outcome string) {
	Init()
	classificationsTotal.WithLabelValues(outcome).Inc()
}
