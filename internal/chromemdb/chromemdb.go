// Package chromemdb is a vector store backed by chromem-go. It offers the
// same operations as vectorstore.Store but addresses vectors by id, so
// deletes do not rebuild anything.
package chromemdb

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"runtime"
	"slices"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"course-rag/internal/metrics"
	"course-rag/internal/models"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// VectorDBManager wraps a chromem database. One chromem collection per
// namespace.
type VectorDBManager struct {
	db            *chromem.DB
	dbPath        string
	compress      bool
	encryptionKey string

	// serializes read-modify-write upserts; chromem guards its own maps
	writeMu sync.Mutex
	dimMu   sync.Mutex
	dims    map[string]int
}

// NewVectorDBManager opens a persistent database at dbPath, or an in-memory
// one when dbPath is empty.
func NewVectorDBManager(dbPath string, compress bool, encryptionKey string) (*VectorDBManager, error) {
	var db *chromem.DB
	if dbPath == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}
	return &VectorDBManager{
		db:            db,
		dbPath:        dbPath,
		compress:      compress,
		encryptionKey: encryptionKey,
		dims:          make(map[string]int),
	}, nil
}

// Close is a no-op: the persistent database writes through on every change.
func (m *VectorDBManager) Close() error { return nil }

// GetOrCreateCollection returns the chromem collection of namespace.
func (m *VectorDBManager) GetOrCreateCollection(namespace string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(namespace, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	return c, nil
}

func (m *VectorDBManager) getCollection(namespace string) *chromem.Collection {
	return m.db.GetCollection(namespace, nil)
}

// Upsert adds new ids and replaces the metadata of known ones. A known id
// keeps the embedding it was first stored with.
func (m *VectorDBManager) Upsert(ctx context.Context, namespace string, records []models.VectorRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	for _, r := range records {
		if err := r.Metadata.Validate(); err != nil {
			return 0, fmt.Errorf("id %s: %w", r.ID, err)
		}
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	c, err := m.GetOrCreateCollection(namespace)
	if err != nil {
		return 0, err
	}
	dim, err := m.dimension(ctx, c, records[0].Embedding)
	if err != nil {
		return 0, err
	}
	for _, r := range records {
		if len(r.Embedding) != dim {
			return 0, fmt.Errorf("%w: id %s has %d, collection %q has %d",
				ErrDimensionMismatch, r.ID, len(r.Embedding), namespace, dim)
		}
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, r := range records {
		embedding := r.Embedding
		if existing, err := c.GetByID(ctx, r.ID); err == nil {
			embedding = existing.Embedding
		}
		docs = append(docs, chromem.Document{
			ID:        r.ID,
			Content:   r.Metadata.TextPreview,
			Metadata:  r.Metadata.Fields(),
			Embedding: embedding,
		})
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return 0, fmt.Errorf("failed to add documents: %w", err)
	}
	metrics.CollectionVectors.WithLabelValues(namespace).Set(float64(c.Count()))
	return len(records), nil
}

// dimension returns the collection's vector length, learning it from a
// stored vector when the collection predates this process.
func (m *VectorDBManager) dimension(ctx context.Context, c *chromem.Collection, probe []float32) (int, error) {
	m.dimMu.Lock()
	defer m.dimMu.Unlock()

	if d, ok := m.dims[c.Name]; ok && c.Count() > 0 {
		return d, nil
	}
	if c.Count() == 0 {
		m.dims[c.Name] = len(probe)
		return len(probe), nil
	}
	res, err := c.QueryEmbedding(ctx, probe, 1, nil, nil)
	if err != nil || len(res) == 0 {
		return 0, fmt.Errorf("%w: collection %q rejects a %d-dimensional vector: %v",
			ErrDimensionMismatch, c.Name, len(probe), err)
	}
	m.dims[c.Name] = len(res[0].Embedding)
	return len(res[0].Embedding), nil
}

// Search returns up to topK matches satisfying filter among the best
// min(topK*3, count) candidates.
func (m *VectorDBManager) Search(ctx context.Context, query []float32, topK int, namespace string, filter models.Filter) ([]models.Match, error) {
	c := m.getCollection(namespace)
	if c == nil || topK <= 0 {
		return nil, nil
	}
	count := c.Count()
	if count == 0 {
		return nil, nil
	}

	results, err := c.QueryEmbedding(ctx, query, min(topK*3, count), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	candidates := make([]models.Match, 0, len(results))
	for _, r := range results {
		md := models.MetadataFromFields(r.Metadata, r.Content)
		if !filter.Matches(md) {
			continue
		}
		candidates = append(candidates, models.Match{ID: r.ID, Score: similarity(r.Similarity), Metadata: md})
	}
	slices.SortStableFunc(candidates, func(a, b models.Match) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return candidates[:min(topK, len(candidates))], nil
}

// similarity maps the NaN that chromem computes for zero vectors (the
// embedding fallback) to 0, the score a zero vector has in vectorstore.
func similarity(s float32) float32 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	return s
}

// DeleteByFilter removes the documents matching filter. An empty filter
// empties the namespace.
func (m *VectorDBManager) DeleteByFilter(ctx context.Context, filter models.Filter, namespace string) (int, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	c := m.getCollection(namespace)
	if c == nil {
		return 0, nil
	}
	before := c.Count()
	if len(filter) == 0 {
		if err := m.db.DeleteCollection(namespace); err != nil {
			return 0, fmt.Errorf("failed to drop collection: %w", err)
		}
		metrics.CollectionVectors.DeleteLabelValues(namespace)
		return before, nil
	}

	if err := c.Delete(ctx, map[string]string(filter), nil); err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	removed := before - c.Count()
	metrics.CollectionVectors.WithLabelValues(namespace).Set(float64(c.Count()))
	if removed > 0 {
		log.Info().Str("namespace", namespace).Int("removed", removed).Msg("Deleted vectors")
	}
	return removed, nil
}

func (m *VectorDBManager) Stats(namespace string) models.Stats {
	c := m.getCollection(namespace)
	if c == nil {
		return models.Stats{Name: namespace}
	}
	m.dimMu.Lock()
	dim := m.dims[namespace]
	m.dimMu.Unlock()
	return models.Stats{Name: namespace, Count: c.Count(), Dimension: dim}
}

// Reset drops the namespace. Resetting an absent namespace is not an error.
func (m *VectorDBManager) Reset(namespace string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.db.DeleteCollection(namespace); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	m.dimMu.Lock()
	delete(m.dims, namespace)
	m.dimMu.Unlock()
	metrics.CollectionVectors.DeleteLabelValues(namespace)
	return nil
}

func (m *VectorDBManager) Namespaces() []string {
	return slices.Sorted(maps.Keys(m.db.ListCollections()))
}

// Export writes namespace to filePath, encrypted with the configured key.
func (m *VectorDBManager) Export(namespace, filePath string) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if m.getCollection(namespace) == nil {
		return fmt.Errorf("collection %q not found", namespace)
	}
	log.Debug().Str("namespace", namespace).Str("file", filePath).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(filePath, m.compress, m.encryptionKey, namespace); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads namespace from a file written by Export.
func (m *VectorDBManager) Import(namespace, filePath string) error {
	if err := m.db.ImportFromFile(filePath, m.encryptionKey, namespace); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	return nil
}
