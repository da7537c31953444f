package indexing

import (
	"strings"

	"course-rag/internal/chunker"
	"course-rag/internal/models"
	"course-rag/internal/parser"
)

// ExtractUnits returns the overview unit followed by one unit per section and
// subsection, in document order. Units whose cleaned text is empty are
// dropped. Bodies are markdown and are reduced to plain text first.
func ExtractUnits(doc *models.Document) []models.ContentUnit {
	var units []models.ContentUnit
	add := func(u models.ContentUnit, heading, body string) {
		u.Text = chunker.Clean(heading + "\n\n" + body)
		if u.Text == "" {
			return
		}
		u.DocumentID = doc.ID
		units = append(units, u)
	}

	add(models.ContentUnit{Title: doc.Title, ContentType: models.ContentOverview}, doc.Title, doc.Description)

	for _, sec := range doc.Sections {
		secTitle := joinTitle(doc.Title, sec.Title)
		add(models.ContentUnit{
			Title:       secTitle,
			SectionID:   sec.ID,
			ContentType: models.ContentSection,
		}, sec.Title, parser.PlainText(sec.Body))

		for _, sub := range sec.Subsections {
			add(models.ContentUnit{
				Title:        joinTitle(secTitle, sub.Title),
				SectionID:    sec.ID,
				SubsectionID: sub.ID,
				ContentType:  models.ContentSubsection,
			}, sub.Title, parser.PlainText(sub.Body))
		}
	}
	return units
}

// joinTitle joins the non-blank parts of a title path.
func joinTitle(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, models.TitleSeparator)
}

// chunkUnits splits every unit. A unit yielding one chunk keeps zero split
// metadata; otherwise each chunk carries its index and the unit's total.
func chunkUnits(c *chunker.Chunker, units []models.ContentUnit) []models.Chunk {
	var chunks []models.Chunk
	for _, u := range units {
		parts := c.Split(u.Text)
		if len(parts) == 1 {
			chunks = append(chunks, models.Chunk{ContentUnit: u})
			continue
		}
		for i, text := range parts {
			cu := u
			cu.Text = text
			chunks = append(chunks, models.Chunk{ContentUnit: cu, ChunkIndex: i, TotalChunks: len(parts)})
		}
	}
	return chunks
}
