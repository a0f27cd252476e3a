// Package metrics defines the Prometheus collectors shared by the catalog
// and search services and serves them for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RateLimitedTotal     prometheus.Counter

	// kind is search or similar; outcome is ranked, fallback or error.
	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount *prometheus.HistogramVec
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter

	SnapshotBooks          prometheus.Gauge
	SnapshotVersion        prometheus.Gauge
	SnapshotRefreshesTotal *prometheus.CounterVec
	SnapshotBuildDuration  prometheus.Histogram

	CatalogWritesTotal  *prometheus.CounterVec
	CatalogEventsTotal  *prometheus.CounterVec
	AnalyticsDropped    prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry(); services pass prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),
		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the per-client rate limiter.",
		}),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booksphere_search_queries_total",
				Help: "Search and similar-book lookups by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "booksphere_search_latency_seconds",
				Help:    "Ranking latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"kind", "cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "booksphere_search_results_count",
				Help:    "Number of books returned per lookup.",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50},
			},
			[]string{"kind"},
		),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booksphere_cache_hits_total",
			Help: "Search result cache hits.",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booksphere_cache_misses_total",
			Help: "Search result cache misses.",
		}),
		SnapshotBooks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "booksphere_snapshot_books",
			Help: "Published books in the current ranking snapshot.",
		}),
		SnapshotVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "booksphere_snapshot_version",
			Help: "Version of the current ranking snapshot.",
		}),
		SnapshotRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booksphere_snapshot_refreshes_total",
				Help: "Snapshot rebuilds by trigger and status.",
			},
			[]string{"trigger", "status"},
		),
		SnapshotBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "booksphere_snapshot_build_seconds",
			Help:    "Time to load the catalog and build the ranker.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		CatalogWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booksphere_catalog_writes_total",
				Help: "Catalog writes by operation and status.",
			},
			[]string{"op", "status"},
		),
		CatalogEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "booksphere_catalog_events_total",
				Help: "Catalog change events consumed by type.",
			},
			[]string{"type"},
		),
		AnalyticsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booksphere_analytics_dropped_total",
			Help: "Search events dropped because the collector buffer was full.",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RateLimitedTotal,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SnapshotBooks,
		m.SnapshotVersion,
		m.SnapshotRefreshesTotal,
		m.SnapshotBuildDuration,
		m.CatalogWritesTotal,
		m.CatalogEventsTotal,
		m.AnalyticsDropped,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the scrape handler for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
