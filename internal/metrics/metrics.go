// Package metrics holds the prometheus collectors for the content store.
package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "content_store"

var (
	// Mutations counts content store writes, exported as content_store_mutations_total.
	// Labels: op (create, update, publish, ...), outcome (ok, not_found, conflict, validation_failed, storage_unavailable, error)
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mutations_total",
		Help:      "Total content store mutations by operation and outcome",
	}, []string{"op", "outcome"})

	// CounterIncrements counts view/like increments.
	// Labels: counter (views, likes)
	CounterIncrements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "articles",
		Name:      "counter_increments_total",
		Help:      "Total successful view and like increments",
	}, []string{"counter"})

	// DegradedIndex counts mutations whose semantic vector could not be computed.
	DegradedIndex = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "index",
		Name:      "degraded_total",
		Help:      "Total index builds that completed without a semantic vector",
	})

	// EmbeddingCache counts embedding cache lookups.
	// Labels: result (hit, miss)
	EmbeddingCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "index",
		Name:      "embedding_cache_total",
		Help:      "Embedding cache lookups by result",
	}, []string{"result"})

	// SearchLatency measures search latency.
	// Labels: kind (lexical, semantic, hybrid)
	SearchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "search",
		Name:      "latency_seconds",
		Help:      "Search latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"kind"})

	// ScheduledPublications counts articles published by the scheduler.
	ScheduledPublications = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "publications_total",
		Help:      "Total scheduled articles published",
	})

	// Reindexed counts articles processed by bulk reindex.
	// Labels: outcome (updated, failed)
	Reindexed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "index",
		Name:      "reindexed_total",
		Help:      "Articles processed by bulk reindex",
	}, []string{"outcome"})
)

// RegisterDBStats exports connection pool statistics for db
func RegisterDBStats(db *sql.DB) error {
	return prometheus.Register(collectors.NewDBStatsCollector(db, namespace))
}
