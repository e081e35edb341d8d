// Package metrics provides Prometheus metrics for the telemetry engine
// (collection, ingestion, maintenance) plus HTTP RED metrics. Scrapeable
// at /metrics; dashboards and runbooks can rely on these names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dbdash"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// CollectionCyclesTotal counts poll cycles by target and outcome.
	CollectionCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collection_cycles_total",
			Help:      "Total number of telemetry collection cycles by target and outcome.",
		},
		[]string{"target", "outcome"},
	)

	// CollectionCycleDurationSeconds is cycle latency per target.
	CollectionCycleDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collection_cycle_duration_seconds",
			Help:      "Telemetry collection cycle duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		},
		[]string{"target"},
	)

	// SamplesIngestedTotal counts ingested sample upserts.
	SamplesIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_ingested_total",
			Help:      "Total number of query samples ingested.",
		},
	)

	// CanonicalQueriesCreatedTotal counts first observations of new shapes.
	CanonicalQueriesCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "canonical_queries_created_total",
			Help:      "Total number of new canonical query shapes created.",
		},
	)

	// IngestFailuresTotal counts per-row ingest failures (retried next cycle).
	IngestFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Total number of sample ingest failures.",
		},
	)

	// PruneDeletedTotal counts samples removed by retention pruning.
	PruneDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prune_deleted_samples_total",
			Help:      "Total number of query samples deleted by the retention pruner.",
		},
	)

	// ReconcileMergedTotal counts duplicate canonical groups merged.
	ReconcileMergedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_merged_groups_total",
			Help:      "Total number of duplicate canonical groups merged by reconciliation.",
		},
	)

	// ActiveSessions is the number of currently running polling loops.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitoring_sessions_active",
			Help:      "Number of monitoring sessions with a running polling loop.",
		},
	)
)
