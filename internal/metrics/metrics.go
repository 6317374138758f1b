package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kinomirror"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
	}, []string{"method", "path"})

	LoaderPagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loader_pages_total",
		Help:      "Remote catalog pages fetched by the batch loader, by outcome (ok, empty, error).",
	}, []string{"status"})

	LoaderBatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "loader_batches_total",
		Help:      "Batches issued by the batch loader.",
	})

	LoadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "load_duration_seconds",
		Help:      "Full catalog load duration in seconds, by result (ok, empty, cancelled).",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"result"})

	MirrorRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "mirror_records",
		Help:      "Records currently held in the in-memory mirror.",
	})

	QueryCacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_cache_hits_total",
		Help:      "Query result cache hits by tier and level (memory, redis).",
	}, []string{"tier", "level"})

	QueryCacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_cache_misses_total",
		Help:      "Query result cache misses by tier.",
	}, []string{"tier"})

	QueryCacheEvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "query_cache_evictions_total",
		Help:      "Query result cache evictions by reason (expired, capacity).",
	}, []string{"reason"})

	SearchRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_requests_total",
		Help:      "Search calls by requested tier and the tier that answered.",
	}, []string{"requested", "resolved"})

	SearchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "Search latency in seconds by requested tier.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"tier"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		LoaderPagesTotal,
		LoaderBatchesTotal,
		LoadDuration,
		MirrorRecords,
		QueryCacheHitsTotal,
		QueryCacheMissesTotal,
		QueryCacheEvictionsTotal,
		SearchRequestsTotal,
		SearchDuration,
	)
}
