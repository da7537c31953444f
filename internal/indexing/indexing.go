// Package indexing turns Documents into stored vectors and serves
// query-time retrieval over them.
package indexing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"course-rag/internal/chunker"
	"course-rag/internal/db"
	"course-rag/internal/embedding"
	"course-rag/internal/metrics"
	"course-rag/internal/models"
)

var ErrExtractionEmpty = errors.New("no content to index")

// VectorStore is implemented by vectorstore.Store and chromemdb.VectorDBManager.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, records []models.VectorRecord) (int, error)
	Search(ctx context.Context, query []float32, topK int, namespace string, filter models.Filter) ([]models.Match, error)
	DeleteByFilter(ctx context.Context, filter models.Filter, namespace string) (int, error)
	Stats(namespace string) models.Stats
	Reset(namespace string) error
}

// DocumentSource loads Documents. Missing documents are reported with an
// error wrapping db.ErrNotFound.
type DocumentSource interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocumentIDs(ctx context.Context) ([]string, error)
}

type Options struct {
	Namespace string
	ChunkSize int
	// ChunkOverlap below zero takes the default; zero means no overlap.
	ChunkOverlap int
	PreviewChars int
	// TopK is used by Search when the caller passes a non-positive value.
	TopK int
}

func DefaultOptions() Options {
	return Options{
		Namespace:    models.DefaultNamespace,
		ChunkSize:    models.DefaultChunkSize,
		ChunkOverlap: models.DefaultChunkOverlap,
		PreviewChars: models.MaxPreviewChars,
		TopK:         5,
	}
}

type Service struct {
	embedder embedding.Embedder
	store    VectorStore
	docs     DocumentSource
	chunker  *chunker.Chunker
	opts     Options
	now      func() time.Time
}

// New validates opts; zero fields take their defaults, except ChunkOverlap
// where zero is a valid window.
func New(embedder embedding.Embedder, store VectorStore, docs DocumentSource, opts Options) (*Service, error) {
	def := DefaultOptions()
	if opts.Namespace == "" {
		opts.Namespace = def.Namespace
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = def.ChunkOverlap
	}
	if opts.PreviewChars <= 0 || opts.PreviewChars > models.MaxPreviewChars {
		opts.PreviewChars = def.PreviewChars
	}
	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}

	c, err := chunker.New(opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return &Service{
		embedder: embedder,
		store:    store,
		docs:     docs,
		chunker:  c,
		opts:     opts,
		now:      time.Now,
	}, nil
}

func (s *Service) Namespace() string { return s.opts.Namespace }

// IndexDocument extracts, chunks, embeds and stores doc. Failures are
// reported in the result, never returned.
func (s *Service) IndexDocument(ctx context.Context, doc *models.Document) models.IndexResult {
	if doc == nil {
		return s.failed("index", "", errors.New("nil document"))
	}
	n, err := s.indexDocument(ctx, doc)
	if err != nil {
		return s.failed("index", doc.ID, err)
	}

	metrics.IndexOperationsTotal.WithLabelValues("index", "ok").Inc()
	metrics.ChunksIndexedTotal.Add(float64(n))
	log.Info().Str("document_id", doc.ID).Int("chunks", n).Msg("Indexed document")
	return models.IndexResult{
		Success:       true,
		DocumentID:    doc.ID,
		ChunksIndexed: n,
		Message:       "document indexed successfully",
	}
}

func (s *Service) indexDocument(ctx context.Context, doc *models.Document) (int, error) {
	if doc.ID == "" {
		return 0, errors.New("document id is required")
	}
	units := ExtractUnits(doc)
	if len(units) == 0 {
		return 0, ErrExtractionEmpty
	}
	chunks := chunkUnits(s.chunker, units)
	log.Debug().Str("document_id", doc.ID).Int("units", len(units)).Int("chunks", len(chunks)).Msg("Chunked document")

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := s.embedder.GenerateBatch(ctx, texts, models.TaskRetrievalDocument)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(chunks))
	}

	indexedAt := s.now()
	records := make([]models.VectorRecord, len(chunks))
	for i, c := range chunks {
		md, err := models.NewMetadata(c, indexedAt)
		if err != nil {
			return 0, err
		}
		md.TextPreview = models.Truncate(md.TextPreview, s.opts.PreviewChars)
		records[i] = models.VectorRecord{
			ID:        fmt.Sprintf(models.ChunkIDFormat, doc.ID, i),
			Embedding: vecs[i],
			Metadata:  md,
		}
	}

	n, err := s.store.Upsert(ctx, s.opts.Namespace, records)
	if err != nil {
		return 0, fmt.Errorf("store vectors: %w", err)
	}
	return n, nil
}

// IndexDocumentByID loads the document and indexes it.
func (s *Service) IndexDocumentByID(ctx context.Context, id string) models.IndexResult {
	doc, err := s.docs.GetDocument(ctx, id)
	if err != nil {
		return s.failed("index", id, err)
	}
	return s.IndexDocument(ctx, doc)
}

// ReindexDocument drops the stored vectors of id and indexes the reloaded
// document.
func (s *Service) ReindexDocument(ctx context.Context, id string) models.IndexResult {
	if res := s.DeleteDocumentIndex(ctx, id); !res.Success {
		return res
	}
	doc, err := s.docs.GetDocument(ctx, id)
	if err != nil {
		return s.failed("reindex", id, err)
	}
	res := s.IndexDocument(ctx, doc)
	if res.Success {
		res.Message = "document reindexed successfully"
	}
	return res
}

// DeleteDocumentIndex succeeds even when nothing was stored for id.
func (s *Service) DeleteDocumentIndex(ctx context.Context, id string) models.IndexResult {
	removed, err := s.store.DeleteByFilter(ctx, models.Filter{"document_id": id}, s.opts.Namespace)
	if err != nil {
		return s.failed("delete", id, fmt.Errorf("delete vectors: %w", err))
	}
	metrics.IndexOperationsTotal.WithLabelValues("delete", "ok").Inc()
	log.Info().Str("document_id", id).Int("removed", removed).Msg("Deleted document index")
	return models.IndexResult{
		Success:    true,
		DocumentID: id,
		Message:    fmt.Sprintf("document index deleted (%d chunks)", removed),
	}
}

// IndexAll indexes every known document; one failure does not stop the rest.
func (s *Service) IndexAll(ctx context.Context) models.IndexSummary {
	var sum models.IndexSummary
	ids, err := s.docs.ListDocumentIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list documents")
		return sum
	}

	sum.Total = len(ids)
	for _, id := range ids {
		res := s.IndexDocumentByID(ctx, id)
		if res.Success {
			sum.Indexed++
			sum.TotalChunks += res.ChunksIndexed
		} else {
			sum.Failed++
		}
	}
	log.Info().Int("total", sum.Total).Int("indexed", sum.Indexed).Int("failed", sum.Failed).
		Int("chunks", sum.TotalChunks).Msg("Indexed all documents")
	return sum
}

func (s *Service) failed(op, id string, err error) models.IndexResult {
	msg := err.Error()
	status := "error"
	switch {
	case errors.Is(err, db.ErrNotFound):
		msg, status = "not found", "not_found"
		log.Warn().Str("document_id", id).Str("operation", op).Msg("Document not found")
	case errors.Is(err, ErrExtractionEmpty):
		status = "empty"
		log.Warn().Str("document_id", id).Msg("Document has no content to index")
	default:
		log.Error().Err(err).Str("document_id", id).Str("operation", op).Msg("Indexing failed")
	}
	metrics.IndexOperationsTotal.WithLabelValues(op, status).Inc()
	return models.IndexResult{DocumentID: id, Message: msg}
}
