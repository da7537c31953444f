package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistered(t *testing.T) {
	IndexOperationsTotal.WithLabelValues("index", "ok").Inc()
	ChunksIndexedTotal.Add(2)
	SearchRequestsTotal.WithLabelValues("ok").Inc()
	SearchDuration.Observe(0.01)
	EmbeddingFallbacksTotal.Inc()
	CollectionVectors.WithLabelValues("documents").Set(2)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	for _, name := range []string{
		"course_rag_index_operations_total",
		"course_rag_chunks_indexed_total",
		"course_rag_search_requests_total",
		"course_rag_search_duration_seconds",
		"course_rag_embedding_fallbacks_total",
		"course_rag_collection_vectors",
	} {
		assert.True(t, found[name], "metric %s not registered", name)
	}
}

func TestCollectionVectorsGauge(t *testing.T) {
	CollectionVectors.WithLabelValues("gauge_test").Set(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(CollectionVectors.WithLabelValues("gauge_test")))
}
