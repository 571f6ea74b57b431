// Package metrics exposes Prometheus collectors for the scraping service.
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
	itemsPersistedTotal    *prometheus.CounterVec
	duplicatesSkippedTotal *prometheus.CounterVec
	adapterFailuresTotal   *prometheus.CounterVec
	mirrorFailuresTotal    *prometheus.CounterVec
	keywordsRejectedTotal  prometheus.Counter
	tasksTotal             *prometheus.CounterVec
	activeTasks            prometheus.Gauge
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		itemsPersistedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_items_persisted_total",
				Help: "Total items persisted, labeled by content type.",
			},
			[]string{"content_type"},
		)

		duplicatesSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_duplicates_skipped_total",
				Help: "Total candidates dropped by URL dedup, labeled by content type.",
			},
			[]string{"content_type"},
		)

		adapterFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_adapter_failures_total",
				Help: "Total content-source adapter failures, labeled by content type.",
			},
			[]string{"content_type"},
		)

		mirrorFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_mirror_failures_total",
				Help: "Total object-store mirroring failures, labeled by content type.",
			},
			[]string{"content_type"},
		)

		keywordsRejectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_keywords_rejected_total",
				Help: "Total keywords skipped by allow-list or blank validation.",
			},
		)

		tasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_tasks_total",
				Help: "Total tasks finished, labeled by final status.",
			},
			[]string{"status"},
		)

		activeTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraper_active_tasks",
				Help: "Number of tasks currently processing.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveItemPersisted increments the persisted-items counter.
func ObserveItemPersisted(ct string) {
	itemsPersistedTotal.WithLabelValues(ct).Inc()
}

// ObserveDuplicateSkipped increments the dedup-drop counter.
func ObserveDuplicateSkipped(ct string) {
	duplicatesSkippedTotal.WithLabelValues(ct).Inc()
}

// ObserveAdapterFailure increments the adapter failure counter.
func ObserveAdapterFailure(ct string) {
	adapterFailuresTotal.WithLabelValues(ct).Inc()
}

// ObserveMirrorFailure increments the mirroring failure counter.
func ObserveMirrorFailure(ct string) {
	mirrorFailuresTotal.WithLabelValues(ct).Inc()
}

// ObserveKeywordRejected increments the validation rejection counter.
func ObserveKeywordRejected() {
	keywordsRejectedTotal.Inc()
}

// ObserveTask increments the finished-task counter for the given status.
func ObserveTask(status string) {
	tasksTotal.WithLabelValues(status).Inc()
}

// IncActiveTasks increments the active task gauge.
func IncActiveTasks() {
	activeTasks.Inc()
}

// DecActiveTasks decrements the active task gauge.
func DecActiveTasks() {
	activeTasks.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
