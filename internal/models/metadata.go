package models

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ContentType tags which level of a Document a chunk came from.
type ContentType string

const (
	ContentOverview   ContentType = "overview"
	ContentSection    ContentType = "section"
	ContentSubsection ContentType = "subsection"
)

var ErrInvalidMetadata = errors.New("invalid metadata")

func (c ContentType) Valid() bool {
	switch c {
	case ContentOverview, ContentSection, ContentSubsection:
		return true
	}
	return false
}

// Metadata is stored next to every vector.
type Metadata struct {
	DocumentID   string      `json:"document_id" msgpack:"document_id"`
	SectionID    string      `json:"section_id,omitempty" msgpack:"section_id,omitempty"`
	SubsectionID string      `json:"subsection_id,omitempty" msgpack:"subsection_id,omitempty"`
	ContentType  ContentType `json:"content_type" msgpack:"content_type"`
	Title        string      `json:"title" msgpack:"title"`
	TextPreview  string      `json:"text_preview" msgpack:"text_preview"`
	ChunkIndex   int         `json:"chunk_index" msgpack:"chunk_index"`
	TotalChunks  int         `json:"total_chunks,omitempty" msgpack:"total_chunks,omitempty"`
	IndexedAt    time.Time   `json:"indexed_at" msgpack:"indexed_at"`
}

// NewMetadata builds the metadata of a chunk and validates it. The text
// preview is cut to MaxPreviewChars runes.
func NewMetadata(chunk Chunk, indexedAt time.Time) (Metadata, error) {
	md := Metadata{
		DocumentID:   chunk.DocumentID,
		SectionID:    chunk.SectionID,
		SubsectionID: chunk.SubsectionID,
		ContentType:  chunk.ContentType,
		Title:        chunk.Title,
		TextPreview:  Truncate(chunk.Text, MaxPreviewChars),
		ChunkIndex:   chunk.ChunkIndex,
		TotalChunks:  chunk.TotalChunks,
		IndexedAt:    indexedAt.UTC(),
	}
	if err := md.Validate(); err != nil {
		return Metadata{}, err
	}
	return md, nil
}

func (m Metadata) Validate() error {
	if m.DocumentID == "" {
		return fmt.Errorf("%w: empty document_id", ErrInvalidMetadata)
	}
	if !m.ContentType.Valid() {
		return fmt.Errorf("%w: unknown content_type %q", ErrInvalidMetadata, m.ContentType)
	}
	if m.ChunkIndex < 0 || m.TotalChunks < 0 {
		return fmt.Errorf("%w: negative chunk position", ErrInvalidMetadata)
	}
	return nil
}

// Field returns the string form of a filterable field.
func (m Metadata) Field(key string) (string, bool) {
	switch key {
	case "document_id":
		return m.DocumentID, true
	case "section_id":
		return m.SectionID, true
	case "subsection_id":
		return m.SubsectionID, true
	case "content_type":
		return string(m.ContentType), true
	case "title":
		return m.Title, true
	case "chunk_index":
		return strconv.Itoa(m.ChunkIndex), true
	case "total_chunks":
		return strconv.Itoa(m.TotalChunks), true
	}
	return "", false
}

// Fields flattens the metadata into string pairs, the shape chromem stores.
func (m Metadata) Fields() map[string]string {
	return map[string]string{
		"document_id":   m.DocumentID,
		"section_id":    m.SectionID,
		"subsection_id": m.SubsectionID,
		"content_type":  string(m.ContentType),
		"title":         m.Title,
		"chunk_index":   strconv.Itoa(m.ChunkIndex),
		"total_chunks":  strconv.Itoa(m.TotalChunks),
		"indexed_at":    m.IndexedAt.Format(time.RFC3339Nano),
	}
}

// MetadataFromFields is the inverse of Fields. text becomes the preview.
func MetadataFromFields(fields map[string]string, text string) Metadata {
	md := Metadata{
		DocumentID:   fields["document_id"],
		SectionID:    fields["section_id"],
		SubsectionID: fields["subsection_id"],
		ContentType:  ContentType(fields["content_type"]),
		Title:        fields["title"],
		TextPreview:  text,
	}
	md.ChunkIndex, _ = strconv.Atoi(fields["chunk_index"])
	md.TotalChunks, _ = strconv.Atoi(fields["total_chunks"])
	md.IndexedAt, _ = time.Parse(time.RFC3339Nano, fields["indexed_at"])
	return md
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
