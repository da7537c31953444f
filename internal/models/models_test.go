package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleChunk() Chunk {
	return Chunk{
		ContentUnit: ContentUnit{
			Text:        "Variables hold values.",
			Title:       "Intro - Variables",
			DocumentID:  "doc1",
			SectionID:   "s1",
			ContentType: ContentSection,
		},
		ChunkIndex:  1,
		TotalChunks: 3,
	}
}

func TestNewMetadata(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	md, err := NewMetadata(sampleChunk(), at)
	require.NoError(t, err)

	assert.Equal(t, "doc1", md.DocumentID)
	assert.Equal(t, "s1", md.SectionID)
	assert.Equal(t, ContentSection, md.ContentType)
	assert.Equal(t, "Variables hold values.", md.TextPreview)
	assert.Equal(t, 1, md.ChunkIndex)
	assert.Equal(t, 3, md.TotalChunks)
	assert.Equal(t, time.UTC, md.IndexedAt.Location())
	assert.True(t, at.Equal(md.IndexedAt))
}

func TestNewMetadataTruncatesPreview(t *testing.T) {
	c := sampleChunk()
	long := make([]rune, MaxPreviewChars+50)
	for i := range long {
		long[i] = 'é'
	}
	c.Text = string(long)

	md, err := NewMetadata(c, time.Now())
	require.NoError(t, err)
	assert.Len(t, []rune(md.TextPreview), MaxPreviewChars)
}

func TestNewMetadataInvalid(t *testing.T) {
	c := sampleChunk()
	c.DocumentID = ""
	_, err := NewMetadata(c, time.Now())
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	c = sampleChunk()
	c.ContentType = "chapter"
	_, err = NewMetadata(c, time.Now())
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	c = sampleChunk()
	c.ChunkIndex = -1
	_, err = NewMetadata(c, time.Now())
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "", Truncate("abc", 0))
	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "abc", Truncate("abc", 3))
	assert.Equal(t, "abc", Truncate("abc", 10))
	assert.Equal(t, "日本", Truncate("日本語", 2))
}

func TestFilterMatches(t *testing.T) {
	md, err := NewMetadata(sampleChunk(), time.Now())
	require.NoError(t, err)

	assert.True(t, Filter{}.Matches(md))
	assert.True(t, Filter{"document_id": "doc1"}.Matches(md))
	assert.True(t, Filter{"document_id": "doc1", "content_type": "section"}.Matches(md))
	assert.True(t, Filter{"chunk_index": "1"}.Matches(md))
	assert.False(t, Filter{"document_id": "doc1", "section_id": "s2"}.Matches(md))
	assert.False(t, Filter{"unknown": ""}.Matches(md))
}

func TestFieldsRoundTrip(t *testing.T) {
	md, err := NewMetadata(sampleChunk(), time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC))
	require.NoError(t, err)

	back := MetadataFromFields(md.Fields(), md.TextPreview)
	assert.Equal(t, md, back)
}
