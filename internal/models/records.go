package models

// VectorRecord is the unit the vector store persists.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Metadata  Metadata
}

// Filter is an equality predicate over metadata fields, ANDed across keys.
type Filter map[string]string

// Matches reports whether md satisfies every key of f. An empty filter
// matches everything; an unknown key matches nothing.
func (f Filter) Matches(md Metadata) bool {
	for key, want := range f {
		got, ok := md.Field(key)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Match is a raw hit returned by a vector store.
type Match struct {
	ID       string
	Score    float32
	Metadata Metadata
}

// Stats describes one namespace.
type Stats struct {
	Name      string `json:"name"`
	Count     int    `json:"count"`
	Dimension int    `json:"dimension"`
}

// SearchResult is what retrieval hands to its callers.
type SearchResult struct {
	Text         string      `json:"text"`
	Title        string      `json:"title"`
	DocumentID   string      `json:"document_id"`
	SectionID    string      `json:"section_id,omitempty"`
	SubsectionID string      `json:"subsection_id,omitempty"`
	ContentType  ContentType `json:"content_type"`
	Score        float32     `json:"score"`
}

type IndexResult struct {
	Success       bool   `json:"success"`
	DocumentID    string `json:"document_id"`
	ChunksIndexed int    `json:"chunks_indexed"`
	Message       string `json:"message"`
}

type IndexSummary struct {
	Total       int `json:"total"`
	Indexed     int `json:"indexed"`
	Failed      int `json:"failed"`
	TotalChunks int `json:"total_chunks"`
}

type PromptResponse struct {
	Query   string
	Context string
	Content string
}
