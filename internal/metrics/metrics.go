// Package metrics holds the Prometheus collectors for the indexing and
// retrieval paths.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// SearchBuckets covers in-process flat search plus one embedding call,
// from 5ms to 10s.
var SearchBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var (
	// IndexOperationsTotal counts write-path operations by kind and outcome.
	IndexOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "course_rag_index_operations_total",
			Help: "Index operations",
		},
		[]string{"operation", "status"},
	)

	// ChunksIndexedTotal counts vectors written by the indexing service.
	ChunksIndexedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "course_rag_chunks_indexed_total",
			Help: "Chunks indexed",
		},
	)

	// SearchRequestsTotal counts searches by outcome (ok, empty, error).
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "course_rag_search_requests_total",
			Help: "Search requests",
		},
		[]string{"status"},
	)

	// SearchDuration records end-to-end search latency in seconds.
	SearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "course_rag_search_duration_seconds",
			Help:    "Search duration",
			Buckets: SearchBuckets,
		},
	)

	// EmbeddingFallbacksTotal counts texts that degraded to a zero vector.
	EmbeddingFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "course_rag_embedding_fallbacks_total",
			Help: "Embeddings replaced by a zero vector",
		},
	)

	// CollectionVectors tracks the vector count of each namespace.
	CollectionVectors = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "course_rag_collection_vectors",
			Help: "Vectors per namespace",
		},
		[]string{"namespace"},
	)
)

func init() {
	prometheus.MustRegister(
		IndexOperationsTotal,
		ChunksIndexedTotal,
		SearchRequestsTotal,
		SearchDuration,
		EmbeddingFallbacksTotal,
		CollectionVectors,
	)
}
