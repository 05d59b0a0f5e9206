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

// Page sources.
const (
	SourceCache    = "cache"
	SourceLive     = "live"
	SourceNotFound = "not_found"
)

// Image outcomes.
const (
	ImageDownloaded = "downloaded"
	ImageSkipped    = "skipped"
	ImageFailed     = "failed"
)

// Integrity failure kinds.
const (
	KindDownload  = "download"
	KindIntegrity = "integrity"
)

var (
	harvesterPagesTotal             *prometheus.CounterVec
	harvesterImagesTotal            *prometheus.CounterVec
	harvesterBatchDurationSeconds   prometheus.Histogram
	harvesterIntegrityFailuresTotal *prometheus.CounterVec
	harvesterRateLimitDelaySeconds  *prometheus.HistogramVec
	harvesterRobotsFallbackTotal    prometheus.Counter
	harvesterHeadlessPromotions     *prometheus.CounterVec
	httpRequestsTotal               *prometheus.CounterVec
	httpRequestDurationSeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Total number of product pages resolved, labeled by source.",
			},
			[]string{"source"},
		)

		harvesterImagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_images_total",
				Help: "Total number of manifest images processed, labeled by status.",
			},
			[]string{"status"},
		)

		harvesterBatchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "harvester_batch_duration_seconds",
				Help:    "Histogram of per-SKU download batch durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)

		harvesterIntegrityFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_integrity_failures_total",
				Help: "Total number of files failing integrity checks, labeled by kind.",
			},
			[]string{"kind"},
		)

		harvesterRateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		harvesterRobotsFallbackTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "harvester_robots_fallback_total",
				Help: "Total robots.txt probes answered with allow-all after transient failures.",
			},
		)

		harvesterHeadlessPromotions = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_headless_promotions_total",
				Help: "Pages re-fetched with the headless renderer, labeled by outcome.",
			},
			[]string{"outcome"},
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

// ObservePage counts a resolved (or unresolved) product page.
func ObservePage(source string) {
	Init()
	harvesterPagesTotal.WithLabelValues(source).Inc()
}

// ObserveImage counts one processed manifest entry.
func ObserveImage(status string) {
	Init()
	harvesterImagesTotal.WithLabelValues(status).Inc()
}

// ObserveBatch records how long a download batch took.
func ObserveBatch(duration time.Duration) {
	Init()
	harvesterBatchDurationSeconds.Observe(duration.Seconds())
}

// ObserveIntegrityFailure counts one failed file of the given kind.
func ObserveIntegrityFailure(kind string) {
	Init()
	harvesterIntegrityFailuresTotal.WithLabelValues(kind).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	harvesterRateLimitDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a synthetic allow-all robots.txt response.
func ObserveRobotsFallback() {
	Init()
	harvesterRobotsFallbackTotal.Inc()
}

// ObserveHeadlessPromotion counts a headless re-render of a probed page.
func ObserveHeadlessPromotion(ok bool) {
	Init()
	outcome := "rendered"
	if !ok {
		outcome = "failed"
	}
	harvesterHeadlessPromotions.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
