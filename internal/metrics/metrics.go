// Package metrics registers and exposes Prometheus instrumentation for the
// crawl engine. Init is safe to call more than once.
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
	once sync.Once

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	crawlerTasksTotal         *prometheus.CounterVec
	crawlerRetriesTotal       prometheus.Counter
	crawlerFetchesTotal       *prometheus.CounterVec
	crawlerFetchBytesTotal    *prometheus.CounterVec
	crawlerFetchDurationSecs  *prometheus.HistogramVec
	crawlerActiveWorkers      prometheus.Gauge
	crawlerQueueDepth         prometheus.Gauge
	crawlerRobotsDeniedTotal  *prometheus.CounterVec
	crawlerDomainWaitsSeconds *prometheus.HistogramVec
)

// Init registers all collectors with the default registry.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests handled by the API.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of API request latencies.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)

		crawlerTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_tasks_total",
				Help: "Total number of crawl tasks that reached a terminal state.",
			},
			[]string{"state"},
		)

		crawlerRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Total number of attempts requeued after a retryable failure.",
			},
		)

		crawlerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetches_total",
				Help: "Total number of page fetches by domain and status.",
			},
			[]string{"domain", "status"},
		)

		crawlerFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_bytes_total",
				Help: "Total number of body bytes fetched per domain.",
			},
			[]string{"domain"},
		)

		crawlerFetchDurationSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_fetch_duration_seconds",
				Help:    "Histogram of fetch durations per domain.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of workers currently processing a task.",
			},
		)

		crawlerQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_queue_depth",
				Help: "Number of tasks waiting to be dispatched.",
			},
		)

		crawlerRobotsDeniedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_robots_denied_total",
				Help: "Total number of tasks denied by robots.txt per domain.",
			},
			[]string{"domain"},
		)

		crawlerDomainWaitsSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_domain_wait_seconds",
				Help:    "Histogram of politeness wait durations per domain.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeDomain sanitizes a URL or hostname to a lowercase hostname label.
// It returns "unknown" if the input is invalid.
func SanitizeDomain(raw string) string {
	if raw == "" {
		return "unknown"
	}
	if !strings.Contains(raw, "://") {
		return strings.ToLower(raw)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveTask increments the terminal task counter for the given state.
func ObserveTask(state string) {
	crawlerTasksTotal.WithLabelValues(state).Inc()
}

// ObserveRetry increments the retry counter.
func ObserveRetry() {
	crawlerRetriesTotal.Inc()
}

// ObserveFetch records one fetch outcome.
func ObserveFetch(domain, status string, bytesFetched int, duration time.Duration) {
	d := SanitizeDomain(domain)
	crawlerFetchesTotal.WithLabelValues(d, status).Inc()
	if bytesFetched > 0 {
		crawlerFetchBytesTotal.WithLabelValues(d).Add(float64(bytesFetched))
	}
	crawlerFetchDurationSecs.WithLabelValues(d).Observe(duration.Seconds())
}

// ObserveRobotsDenied increments the robots denial counter for the domain.
func ObserveRobotsDenied(domain string) {
	crawlerRobotsDeniedTotal.WithLabelValues(SanitizeDomain(domain)).Inc()
}

// ObserveDomainWait records how long a task waited on the politeness gate.
func ObserveDomainWait(domain string, duration time.Duration) {
	crawlerDomainWaitsSeconds.WithLabelValues(SanitizeDomain(domain)).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	crawlerActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	crawlerActiveWorkers.Dec()
}

// SetQueueDepth sets the queue depth gauge.
func SetQueueDepth(n int) {
	crawlerQueueDepth.Set(float64(n))
}
