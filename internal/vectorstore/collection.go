package vectorstore

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"course-rag/internal/models"
)

// Collection is one namespace: a flat index, the ids in insertion order and
// the metadata of every id. len(ids) == index.Len() and the metadata keys
// are exactly the ids.
type Collection struct {
	mu       sync.RWMutex
	name     string
	ids      []string
	metadata map[string]models.Metadata
	index    *flatIndex
	// dropped is set by Store.Reset; writers that were waiting on mu skip
	// the collection once it is set.
	dropped bool
}

// state is a snapshot of the swappable fields, taken under the write lock.
type state struct {
	ids      []string
	metadata map[string]models.Metadata
	index    *flatIndex
}

func (c *Collection) snapshot() state {
	return state{ids: c.ids, metadata: c.metadata, index: c.index}
}

func (c *Collection) restore(st state) {
	c.ids, c.metadata, c.index = st.ids, st.metadata, st.index
}

func newCollection(name string, dim int) *Collection {
	return &Collection{
		name:     name,
		metadata: make(map[string]models.Metadata),
		index:    newFlatIndex(dim),
	}
}

func (c *Collection) Name() string { return c.name }

func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ids)
}

// Dimension is 0 until the first vector is inserted.
func (c *Collection) Dimension() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.index.dim
}

func (c *Collection) stats() models.Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.Stats{Name: c.name, Count: len(c.ids), Dimension: c.index.dim}
}

// upsert must be called with the write lock held. New ids get their
// normalized embedding appended; known ids only get their metadata replaced.
func (c *Collection) upsert(records []models.VectorRecord) error {
	dim := c.index.dim
	if dim == 0 && len(c.ids) == 0 {
		dim = len(records[0].Embedding)
	}
	for _, r := range records {
		if len(r.Embedding) == 0 {
			return fmt.Errorf("%w: id %s", ErrEmptyEmbedding, r.ID)
		}
		if len(r.Embedding) != dim {
			return fmt.Errorf("%w: id %s has %d, collection %q has %d",
				ErrDimensionMismatch, r.ID, len(r.Embedding), c.name, dim)
		}
		if err := r.Metadata.Validate(); err != nil {
			return fmt.Errorf("id %s: %w", r.ID, err)
		}
	}

	metadata := maps.Clone(c.metadata)
	ids := c.ids[:len(c.ids):len(c.ids)]
	var added [][]float32
	for _, r := range records {
		if _, ok := metadata[r.ID]; !ok {
			ids = append(ids, r.ID)
			added = append(added, normalize(r.Embedding))
		}
		metadata[r.ID] = r.Metadata
	}

	index := c.index
	if index.dim == 0 {
		index = newFlatIndex(dim)
	}
	if len(added) > 0 {
		index = index.withAdded(added)
	}

	c.ids, c.metadata, c.index = ids, metadata, index
	return nil
}

// search must be called with the read lock held.
func (c *Collection) search(query []float32, topK int, filter models.Filter) ([]models.Match, error) {
	n := len(c.ids)
	if n == 0 || topK <= 0 {
		return nil, nil
	}
	if len(query) != c.index.dim {
		return nil, fmt.Errorf("%w: query has %d, collection %q has %d",
			ErrDimensionMismatch, len(query), c.name, c.index.dim)
	}

	hits := c.index.Search(normalize(query), min(topK*3, n))
	matches := make([]models.Match, 0, min(topK, len(hits)))
	for _, h := range hits {
		if h.pos < 0 || h.pos >= n {
			continue
		}
		id := c.ids[h.pos]
		md, ok := c.metadata[id]
		if !ok || !filter.Matches(md) {
			continue
		}
		matches = append(matches, models.Match{ID: id, Score: h.score, Metadata: md})
		if len(matches) == topK {
			break
		}
	}
	return matches, nil
}

// deleteWhere must be called with the write lock held. It rebuilds the index
// from the kept vectors in their original order.
func (c *Collection) deleteWhere(filter models.Filter) int {
	keep := make([]int, 0, len(c.ids))
	for i, id := range c.ids {
		if !filter.Matches(c.metadata[id]) {
			keep = append(keep, i)
		}
	}
	removed := len(c.ids) - len(keep)
	if removed == 0 {
		return 0
	}

	ids := make([]string, 0, len(keep))
	metadata := make(map[string]models.Metadata, len(keep))
	vecs := make([][]float32, 0, len(keep))
	for _, pos := range keep {
		id := c.ids[pos]
		ids = append(ids, id)
		metadata[id] = c.metadata[id]
		vecs = append(vecs, c.index.Reconstruct(pos))
	}
	index := newFlatIndex(c.index.dim).withAdded(vecs)

	c.ids, c.metadata, c.index = ids, metadata, index
	return removed
}

func checkContext(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
