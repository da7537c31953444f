package indexing

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"course-rag/internal/metrics"
	"course-rag/internal/models"
)

// Search embeds query and returns the best stored chunks, optionally limited
// to one document. It never fails: errors are logged and counted, and yield
// an empty result.
func (s *Service) Search(ctx context.Context, query, documentID string, topK int) []models.SearchResult {
	start := time.Now()
	defer func() { metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

	if strings.TrimSpace(query) == "" {
		metrics.SearchRequestsTotal.WithLabelValues("empty").Inc()
		return nil
	}
	if topK <= 0 {
		topK = s.opts.TopK
	}

	results, err := s.search(ctx, query, documentID, topK)
	switch {
	case err != nil:
		metrics.SearchRequestsTotal.WithLabelValues("error").Inc()
		log.Error().Err(err).Str("query", query).Str("document_id", documentID).Msg("Search failed")
		return nil
	case len(results) == 0:
		metrics.SearchRequestsTotal.WithLabelValues("empty").Inc()
		log.Debug().Str("query", query).Str("document_id", documentID).Msg("Search found nothing")
	default:
		metrics.SearchRequestsTotal.WithLabelValues("ok").Inc()
		log.Debug().Str("query", query).Int("results", len(results)).Msg("Search done")
	}
	return results
}

func (s *Service) search(ctx context.Context, query, documentID string, topK int) ([]models.SearchResult, error) {
	vec, err := s.embedder.Generate(ctx, query, models.TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}

	var filter models.Filter
	if documentID != "" {
		filter = models.Filter{"document_id": documentID}
	}
	matches, err := s.store.Search(ctx, vec, topK, s.opts.Namespace, filter)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, len(matches))
	for i, m := range matches {
		results[i] = models.SearchResult{
			Text:         m.Metadata.TextPreview,
			Title:        m.Metadata.Title,
			DocumentID:   m.Metadata.DocumentID,
			SectionID:    m.Metadata.SectionID,
			SubsectionID: m.Metadata.SubsectionID,
			ContentType:  m.Metadata.ContentType,
			Score:        m.Score,
		}
	}
	return results, nil
}
