package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"course-rag/internal/models"
)

func record(id, docID string, ct models.ContentType, vec ...float32) models.VectorRecord {
	return models.VectorRecord{
		ID:        id,
		Embedding: vec,
		Metadata:  models.Metadata{DocumentID: docID, ContentType: ct, Title: id},
	}
}

func openStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), opts...)
	require.NoError(t, err)
	return s
}

func ids(matches []models.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.ID
	}
	return out
}

func TestUpsertAndSearch_SelfIsTop(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	n, err := s.Upsert(ctx, "docs", []models.VectorRecord{
		record("a", "d1", models.ContentOverview, 1, 0, 0),
		record("b", "d1", models.ContentSection, 0, 1, 0),
		record("c", "d2", models.ContentSection, 0.2, 0.2, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, tc := range []struct {
		id    string
		query []float32
	}{
		{"a", []float32{2, 0, 0}},
		{"b", []float32{0, 5, 0}},
		{"c", []float32{0.2, 0.2, 3}},
	} {
		matches, err := s.Search(ctx, tc.query, 1, "docs", nil)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, tc.id, matches[0].ID)
		assert.InDelta(t, 1.0, float64(matches[0].Score), 1e-5)
	}
}

func TestSearch_OrderedAndBounded(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, err := s.Upsert(ctx, "docs", []models.VectorRecord{
		record("a", "d1", models.ContentSection, 1, 0),
		record("b", "d1", models.ContentSection, 1, 1),
		record("c", "d1", models.ContentSection, 0, 1),
	})
	require.NoError(t, err)

	matches, err := s.Search(ctx, []float32{1, 0}, 2, "docs", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(matches))
	assert.GreaterOrEqual(t, matches[0].Score, matches[1].Score)

	matches, err = s.Search(ctx, []float32{1, 0}, 10, "docs", nil)
	require.NoError(t, err)
	assert.Len(t, matches, 3)

	matches, err = s.Search(ctx, []float32{1, 0}, 0, "docs", nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, err := s.Upsert(ctx, "docs", []models.VectorRecord{
		record("first", "d1", models.ContentSection, 0, 1),
		record("second", "d1", models.ContentSection, 0, 2),
	})
	require.NoError(t, err)

	matches, err := s.Search(ctx, []float32{0, 1}, 2, "docs", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, ids(matches))
}

func TestSearch_Filter(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, err := s.Upsert(ctx, "docs", []models.VectorRecord{
		record("a", "d1", models.ContentOverview, 1, 0),
		record("b", "d2", models.ContentSection, 0.9, 0.1),
		record("c", "d1", models.ContentSection, 0.5, 0.5),
	})
	require.NoError(t, err)

	matches, err := s.Search(ctx, []float32{1, 0}, 5, "docs", models.Filter{"document_id": "d1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(matches))

	matches, err = s.Search(ctx, []float32{1, 0}, 5, "docs",
		models.Filter{"document_id": "d1", "content_type": "section"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(matches))

	matches, err = s.Search(ctx, []float32{1, 0}, 5, "docs", models.Filter{"nope": "x"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearch_MissingOrEmptyNamespace(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	matches, err := s.Search(ctx, []float32{1, 0}, 3, "missing", nil)
	require.NoError(t, err)
	assert.Nil(t, matches)

	s.GetOrCreate("empty", 2)
	matches, err = s.Search(ctx, []float32{1, 0}, 3, "empty", nil)
	require.NoError(t, err)
	assert.Nil(t, matches)
}

func TestSearch_QueryDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, err := s.Upsert(ctx, "docs", []models.VectorRecord{record("a", "d1", models.ContentSection, 1, 0)})
	require.NoError(t, err)

	_, err = s.Search(ctx, []float32{1, 0, 0}, 1, "docs", nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestUpsert_ExistingIDReplacesMetadataOnly(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, err := s.Upsert(ctx, "docs", []models.VectorRecord{record("a", "d1", models.ContentSection, 1, 0)})
	require.NoError(t, err)

	updated := record("a", "d1", models.ContentSection, 0, 1)
	updated.Metadata.Title = "renamed"
	_, err = s.Upsert(ctx, "docs", []models.VectorRecord{updated})
	require.NoError(t, err)

	assert.Equal(t, 1, s.Stats("docs").Count)

	matches, err := s.Search(ctx, []float32{1, 0}, 1, "docs", nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.InDelta(t, 1.0, float64(matches[0].Score), 1e-5, "embedding must not change")
	assert.Equal(t, "renamed", matches[0].Metadata.Title)
}

func TestUpsert_DimensionMismatchRejectsBatch(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.Upsert(ctx, "docs", []models.VectorRecord{
		record("a", "d1", models.ContentSection, 1, 0, 0),
		record("b", "d1", models.ContentSection, 1, 0),
	})
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, s.Stats("docs").Count)

	_, err = s.Upsert(ctx, "docs", []models.VectorRecord{record("a", "d1", models.ContentSection, 1, 0, 0)})
	require.NoError(t, err)

	_, err = s.Upsert(ctx, "docs", []models.VectorRecord{
		record("c", "d1", models.ContentSection, 0, 1, 0),
		record("d", "d1", models.ContentSection, 0, 1, 0, 0),
	})
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, models.Stats{Name: "docs", Count: 1, Dimension: 3}, s.Stats("docs"))
}

func TestUpsert_InvalidMetadataRejected(t *testing.T) {
	s := openStore(t)
	bad := record("a", "", models.ContentSection, 1, 0)

	_, err := s.Upsert(context.Background(), "docs", []models.VectorRecord{bad})
	assert.ErrorIs(t, err, models.ErrInvalidMetadata)
	assert.Equal(t, 0, s.Stats("docs").Count)
}

func TestUpsert_Empty(t *testing.T) {
	s := openStore(t)
	n, err := s.Upsert(context.Background(), "docs", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, s.Namespaces())
}

func TestDeleteByFilter(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, err := s.Upsert(ctx, "docs", []models.VectorRecord{
		record("a0", "A", models.ContentOverview, 1, 0, 0),
		record("b0", "B", models.ContentSection, 0.6, 0.8, 0),
		record("a1", "A", models.ContentSection, 0, 1, 0),
		record("b1", "B", models.ContentSection, 0, 0.6, 0.8),
	})
	require.NoError(t, err)

	query := []float32{0.3, 0.5, 0.4}
	before, err := s.Search(ctx, query, 10, "docs", models.Filter{"document_id": "B"})
	require.NoError(t, err)

	removed, err := s.DeleteByFilter(ctx, models.Filter{"document_id": "A"}, "docs")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2, s.Stats("docs").Count)

	after, err := s.Search(ctx, query, 10, "docs", nil)
	require.NoError(t, err)
	require.Equal(t, ids(before), ids(after))
	for i := range before {
		assert.InDelta(t, before[i].Score, after[i].Score, 1e-6)
	}

	removed, err = s.DeleteByFilter(ctx, models.Filter{"document_id": "A"}, "docs")
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = s.DeleteByFilter(ctx, models.Filter{"document_id": "A"}, "missing")
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestPersistence_Reload(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(fmt.Sprintf("compress=%v", compress), func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			s, err := Open(dir, WithCompression(compress))
			require.NoError(t, err)
			recs := []models.VectorRecord{
				record("a", "d1", models.ContentOverview, 1, 2, 3),
				record("b", "d1", models.ContentSection, 3, 2, 1),
				record("c", "d2", models.ContentSubsection, -1, 0, 1),
			}
			recs[1].Metadata.SectionID = "s1"
			recs[1].Metadata.TotalChunks = 2
			_, err = s.Upsert(ctx, "course materials/v1", recs)
			require.NoError(t, err)
			want, err := s.Search(ctx, []float32{1, 1, 1}, 3, "course materials/v1", nil)
			require.NoError(t, err)
			require.NoError(t, s.Close())

			for _, ext := range []string{indexExt, metadataExt, idsExt} {
				assert.FileExists(t, filepath.Join(dir, "course_materials_v1"+ext))
			}

			reopened, err := Open(dir, WithCompression(compress))
			require.NoError(t, err)
			assert.Equal(t, 3, reopened.Stats("course materials/v1").Count)
			assert.Equal(t, 3, reopened.Stats("course materials/v1").Dimension)

			got, err := reopened.Search(ctx, []float32{1, 1, 1}, 3, "course materials/v1", nil)
			require.NoError(t, err)
			require.Equal(t, ids(want), ids(got))
			for i := range want {
				assert.InDelta(t, want[i].Score, got[i].Score, 1e-6)
				assert.Equal(t, want[i].Metadata.SectionID, got[i].Metadata.SectionID)
				assert.Equal(t, want[i].Metadata.TotalChunks, got[i].Metadata.TotalChunks)
			}
		})
	}
}

func TestOpen_SkipsCorruptCollection(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken"+indexExt), []byte("garbage"), 0o644))

	s, err := Open(dir)
	require.NoError(t, err)
	assert.Empty(t, s.Namespaces())
}

func TestDecodeIndex_Corrupt(t *testing.T) {
	ix := newFlatIndex(2).withAdded([][]float32{{1, 0}, {0, 1}})
	data, err := encodeIndex(ix, false)
	require.NoError(t, err)

	_, err = decodeIndex(data[:len(data)-4])
	assert.ErrorIs(t, err, ErrCorruptIndex)

	data[0] = 'X'
	_, err = decodeIndex(data)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "docs", []models.VectorRecord{record("a", "d1", models.ContentSection, 1, 0)})
	require.NoError(t, err)

	require.NoError(t, s.Reset("docs"))
	assert.Equal(t, models.Stats{Name: "docs"}, s.Stats("docs"))
	assert.NoFileExists(t, filepath.Join(dir, "docs"+indexExt))

	require.NoError(t, s.Reset("docs"))
	require.NoError(t, s.Reset("never-existed"))
}

func TestReset_StaleCollectionIsNotWritten(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, err := s.Upsert(ctx, "docs", []models.VectorRecord{record("a", "d1", models.ContentSection, 1, 0)})
	require.NoError(t, err)

	stale, err := s.Collection("docs")
	require.NoError(t, err)
	require.NoError(t, s.Reset("docs"))
	assert.True(t, stale.dropped)

	c := s.lockCollection("docs", true)
	assert.NotSame(t, stale, c)
	c.mu.Unlock()

	require.NoError(t, s.Reset("docs"))
	assert.Nil(t, s.lockCollection("docs", false))
}

// After racing writers and resets settle, memory and disk agree.
func TestReset_RacingWritersLeaveDiskConsistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	for round := range 50 {
		var wg sync.WaitGroup
		for i := range 4 {
			wg.Add(2)
			go func() {
				defer wg.Done()
				_, err := s.Upsert(ctx, "docs", []models.VectorRecord{
					record(fmt.Sprintf("r%d-%d", round, i), "d1", models.ContentSection, 1, float32(i)),
				})
				assert.NoError(t, err)
			}()
			go func() {
				defer wg.Done()
				_, err := s.DeleteByFilter(ctx, models.Filter{"title": fmt.Sprintf("r%d-%d", round, i-1)}, "docs")
				assert.NoError(t, err)
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Reset("docs"))
		}()
		wg.Wait()

		inMemory := s.Stats("docs").Count
		reloaded, err := Open(dir)
		require.NoError(t, err)
		assert.Equal(t, inMemory, reloaded.Stats("docs").Count, "round %d", round)
		if _, err := s.Collection("docs"); err != nil {
			assert.NoFileExists(t, filepath.Join(dir, "docs"+indexExt), "round %d", round)
		} else {
			assert.FileExists(t, filepath.Join(dir, "docs"+indexExt), "round %d", round)
		}
	}
}

func TestWrite_SaveFailureKeepsPreviousState(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "store")
	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.Upsert(ctx, "docs", []models.VectorRecord{record("a", "d1", models.ContentSection, 1, 0)})
	require.NoError(t, err)

	// a file in place of the directory makes every save fail
	require.NoError(t, os.RemoveAll(dir))
	require.NoError(t, os.WriteFile(dir, []byte("not a dir"), 0o644))

	_, err = s.Upsert(ctx, "docs", []models.VectorRecord{record("b", "d2", models.ContentSection, 0, 1)})
	require.Error(t, err)
	assert.Equal(t, 1, s.Stats("docs").Count)
	matches, err := s.Search(ctx, []float32{0, 1}, 5, "docs", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(matches))

	removed, err := s.DeleteByFilter(ctx, models.Filter{"document_id": "d1"}, "docs")
	require.Error(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, 1, s.Stats("docs").Count)
}

func TestNamespaces(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	for _, ns := range []string{"zeta", "alpha"} {
		_, err := s.Upsert(ctx, ns, []models.VectorRecord{record("a", "d1", models.ContentSection, 1)})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"alpha", "zeta"}, s.Namespaces())
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	_, err := s.Upsert(ctx, "docs", []models.VectorRecord{record("seed", "d0", models.ContentSection, 1, 0)})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.Upsert(ctx, "docs", []models.VectorRecord{
				record(fmt.Sprintf("r%d", i), fmt.Sprintf("d%d", i), models.ContentSection, float32(i), 1),
			})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := s.Search(ctx, []float32{1, 0}, 3, "docs", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 9, s.Stats("docs").Count)
}

func TestContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := openStore(t)

	_, err := s.Upsert(ctx, "docs", []models.VectorRecord{record("a", "d1", models.ContentSection, 1)})
	assert.ErrorIs(t, err, context.Canceled)
}
