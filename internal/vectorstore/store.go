// Package vectorstore is an embedded flat similarity index. Each namespace is
// a Collection persisted as three files under the store directory.
package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"course-rag/internal/metrics"
	"course-rag/internal/models"
)

type Options struct {
	// Compress stores index rows zstd-compressed.
	Compress bool
}

type Option func(*Options)

func WithCompression(on bool) Option {
	return func(o *Options) { o.Compress = on }
}

// Store owns the collections of one directory. Collections are keyed by
// their file-safe name, so "a/b" and "a_b" address the same namespace.
type Store struct {
	dir  string
	opts Options

	mu          sync.Mutex
	collections map[string]*Collection
}

// Open creates dir if needed and loads every namespace found in it.
// Namespaces whose files are unreadable or inconsistent are skipped.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{dir: dir, collections: make(map[string]*Collection)}
	for _, o := range opts {
		o(&s.opts)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*"+indexExt))
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), indexExt)
		c, err := loadCollection(dir, name)
		if err != nil {
			log.Error().Err(err).Str("namespace", name).Msg("Skipping unreadable collection")
			continue
		}
		s.collections[name] = c
		metrics.CollectionVectors.WithLabelValues(name).Set(float64(len(c.ids)))
		log.Info().Str("namespace", name).Int("count", len(c.ids)).Int("dimension", c.index.dim).Msg("Loaded collection")
	}
	return s, nil
}

// Close flushes every collection to disk.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, c := range s.collections {
		c.mu.RLock()
		err := c.save(s.dir, s.opts.Compress)
		c.mu.RUnlock()
		if err != nil {
			log.Error().Err(err).Str("namespace", c.name).Msg("Failed to flush collection")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Store) Dir() string { return s.dir }

// GetOrCreate returns the collection of namespace, creating an empty one
// with dimension dim (0 = fixed by the first insert) when absent.
func (s *Store) GetOrCreate(namespace string, dim int) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := safeName(namespace)
	c, ok := s.collections[key]
	if !ok {
		c = newCollection(namespace, dim)
		s.collections[key] = c
	}
	return c
}

// Collection looks up an existing namespace.
func (s *Store) Collection(namespace string) (*Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[safeName(namespace)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNamespaceNotFound, namespace)
	}
	return c, nil
}

// Upsert inserts new ids and replaces the metadata of known ones, then
// persists the namespace. Embeddings of known ids are never replaced.
func (s *Store) Upsert(ctx context.Context, namespace string, records []models.VectorRecord) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	c := s.lockCollection(namespace, true)
	defer c.mu.Unlock()

	prev := c.snapshot()
	if err := c.upsert(records); err != nil {
		return 0, err
	}
	if err := c.save(s.dir, s.opts.Compress); err != nil {
		c.restore(prev)
		return 0, fmt.Errorf("persist %s: %w", namespace, err)
	}
	metrics.CollectionVectors.WithLabelValues(c.name).Set(float64(len(c.ids)))
	log.Debug().Str("namespace", namespace).Int("records", len(records)).Int("total", len(c.ids)).Msg("Upserted vectors")
	return len(records), nil
}

// Search returns up to topK matches that satisfy filter, best first. Only
// the best min(topK*3, size) candidates are considered, so a selective
// filter may return fewer than topK. Absent or empty namespaces yield nil.
func (s *Store) Search(ctx context.Context, query []float32, topK int, namespace string, filter models.Filter) ([]models.Match, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	c, err := s.Collection(namespace)
	if err != nil {
		log.Debug().Str("namespace", namespace).Msg("Search on missing namespace")
		return nil, nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.search(query, topK, filter)
}

// DeleteByFilter removes every vector whose metadata matches filter and
// returns how many were removed.
func (s *Store) DeleteByFilter(ctx context.Context, filter models.Filter, namespace string) (int, error) {
	if err := checkContext(ctx); err != nil {
		return 0, err
	}
	c := s.lockCollection(namespace, false)
	if c == nil {
		return 0, nil
	}
	defer c.mu.Unlock()

	prev := c.snapshot()
	removed := c.deleteWhere(filter)
	if removed == 0 {
		return 0, nil
	}
	if err := c.save(s.dir, s.opts.Compress); err != nil {
		c.restore(prev)
		return 0, fmt.Errorf("persist %s: %w", namespace, err)
	}
	metrics.CollectionVectors.WithLabelValues(c.name).Set(float64(len(c.ids)))
	log.Info().Str("namespace", namespace).Int("removed", removed).Int("remaining", len(c.ids)).Msg("Deleted vectors")
	return removed, nil
}

// Stats returns a zero-count descriptor for unknown namespaces.
func (s *Store) Stats(namespace string) models.Stats {
	c, err := s.Collection(namespace)
	if err != nil {
		return models.Stats{Name: namespace}
	}
	return c.stats()
}

// lockCollection returns the collection of namespace with its write lock
// held, or nil when it is absent and create is false. A collection dropped
// by Reset while the caller waited for the lock is looked up again.
func (s *Store) lockCollection(namespace string, create bool) *Collection {
	for {
		var c *Collection
		if create {
			c = s.GetOrCreate(namespace, 0)
		} else {
			var err error
			if c, err = s.Collection(namespace); err != nil {
				return nil
			}
		}
		c.mu.Lock()
		if !c.dropped {
			return c
		}
		c.mu.Unlock()
	}
}

// Reset drops namespace from memory and disk. Resetting an absent namespace
// is not an error. The store lock is held throughout so no new collection
// of namespace can be written while its files are removed.
func (s *Store) Reset(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := safeName(namespace)
	if c, ok := s.collections[key]; ok {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.dropped = true
		delete(s.collections, key)
		metrics.CollectionVectors.DeleteLabelValues(c.name)
	}
	if err := removeFiles(s.dir, namespace); err != nil {
		return fmt.Errorf("reset %s: %w", namespace, err)
	}
	log.Info().Str("namespace", namespace).Msg("Reset collection")
	return nil
}

// Namespaces lists the loaded namespaces in name order.
func (s *Store) Namespaces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.collections))
	for _, c := range s.collections {
		names = append(names, c.name)
	}
	slices.Sort(names)
	return names
}
