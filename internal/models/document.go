package models

import "time"

// Document is hierarchical source content: an overview plus ordered
// sections, each holding ordered subsections.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Sections    []Section `json:"sections"`
}

type Section struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	Subsections []Subsection `json:"subsections,omitempty"`
}

type Subsection struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ContentUnit is one extracted leaf of a Document.
type ContentUnit struct {
	Text         string
	Title        string
	DocumentID   string
	SectionID    string
	SubsectionID string
	ContentType  ContentType
}

// Chunk is a word window cut from a ContentUnit. TotalChunks is zero when the
// unit was not split.
type Chunk struct {
	ContentUnit
	ChunkIndex  int
	TotalChunks int
}

// Reference is text extracted from a file a user uploaded.
type Reference struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	FileName      string    `json:"file_name"`
	ExtractedText string    `json:"extracted_text"`
	CreatedAt     time.Time `json:"created_at"`
}
