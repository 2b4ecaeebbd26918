// Package observability exposes Prometheus metrics for catalog and probe
// traffic.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	catalogRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_requests_total",
			Help: "Total catalog requests by operation and terminal outcome.",
		},
		[]string{"operation", "outcome"},
	)

	catalogRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_request_duration_seconds",
			Help:    "Duration of catalog requests in seconds, retries included.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		},
		[]string{"operation"},
	)

	catalogRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_retries_total",
			Help: "Retry attempts by classified error kind.",
		},
		[]string{"kind"},
	)

	probeDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asset_probe_duration_seconds",
			Help:    "Duration of individual asset size probes in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"outcome"},
	)

	estimatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "size_estimates_total",
			Help: "Completed size estimations by method.",
		},
		[]string{"method"},
	)

	invalidationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Consumed invalidation events by processing result.",
		},
		[]string{"result"},
	)

	cacheOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_cache_ops_total",
			Help: "Search cache operations by op and result.",
		},
		[]string{"op", "result"},
	)
)

func ObserveCatalogRequest(operation, outcome string, seconds float64) {
	catalogRequestsTotal.WithLabelValues(operation, outcome).Inc()
	catalogRequestDurationSeconds.WithLabelValues(operation).Observe(seconds)
}

func ObserveRetry(kind string) {
	catalogRetriesTotal.WithLabelValues(kind).Inc()
}

func ObserveProbe(outcome string, seconds float64) {
	probeDurationSeconds.WithLabelValues(outcome).Observe(seconds)
}

func ObserveEstimate(method string) {
	estimatesTotal.WithLabelValues(method).Inc()
}

func ObserveInvalidation(result string) {
	invalidationEventsTotal.WithLabelValues(result).Inc()
}

func ObserveCacheOp(op, result string) {
	cacheOpsTotal.WithLabelValues(op, result).Inc()
}
