package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"

	"course-rag/internal/helper"
	"course-rag/internal/models"
)

// Page is one unit of a source file: a PDF page, a slide, a sheet, or the
// whole file for formats without pages.
type Page struct {
	Label string
	Text  string
}

// Supported reports whether path has an extension ExtractPages can read.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".docx", ".pptx", ".xlsx", ".ods", ".txt", ".md", ".markdown":
		return true
	}
	return false
}

// ExtractPages reads the text of path. Empty pages are dropped.
func ExtractPages(path string) ([]Page, error) {
	var (
		pages []Page
		err   error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".pdf":
		pages, err = parsePDF(path)
	case ".docx":
		pages, err = parseDOCX(path)
	case ".pptx":
		pages, err = parsePPTX(path)
	case ".xlsx":
		pages, err = parseXLSX(path)
	case ".ods":
		pages, err = parseODS(path)
	case ".txt", ".md", ".markdown":
		pages, err = parseText(path)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return slices.DeleteFunc(pages, func(p Page) bool { return strings.TrimSpace(p.Text) == "" }), nil
}

// ExtractText returns the plain text of path, pages separated by blank lines.
func ExtractText(path string) (string, error) {
	pages, err := ExtractPages(path)
	if err != nil {
		return "", err
	}
	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	text := strings.Join(texts, "\n\n")
	if isMarkdown(path) {
		text = PlainText(text)
	}
	return strings.TrimSpace(text), nil
}

// ParseDocument turns a file into a Document. Markdown headings become
// sections and subsections; other formats get one section per page. An
// empty id is replaced by a random UUID.
func ParseDocument(path, id string) (*models.Document, error) {
	if id == "" {
		var err error
		if id, err = helper.GenerateUUID(); err != nil {
			return nil, err
		}
	}

	if isMarkdown(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		doc := ParseMarkdown(string(data))
		doc.ID = id
		if doc.Title == "" {
			doc.Title = titleFromPath(path)
		}
		return doc, nil
	}

	pages, err := ExtractPages(path)
	if err != nil {
		return nil, err
	}
	doc := &models.Document{ID: id, Title: titleFromPath(path)}
	for i, p := range pages {
		doc.Sections = append(doc.Sections, models.Section{
			ID:    "s" + strconv.Itoa(i+1),
			Title: p.Label,
			Body:  p.Text,
		})
	}
	return doc, nil
}

func isMarkdown(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func parsePDF(filePath string) ([]Page, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, Page{Label: fmt.Sprintf("Page %d", i), Text: text})
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]Page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// GetContent returns the raw document XML
	content := extractTagText(r.Editable().GetContent(), "<w:t", "</w:t>")
	return []Page{{Label: "Document", Text: content}}, nil
}

func parsePPTX(filePath string) ([]Page, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, file := range f.File {
		name := file.Name
		if !strings.HasPrefix(name, "ppt/slides/slide") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		num, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml"))
		if err != nil {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		slides = append(slides, slide{num: num, text: extractTagText(string(data), "<a:t", "</a:t>")})
	}
	slices.SortFunc(slides, func(a, b slide) int { return a.num - b.num })

	pages := make([]Page, len(slides))
	for i, s := range slides {
		pages[i] = Page{Label: fmt.Sprintf("Slide %d", s.num), Text: s.text}
	}
	return pages, nil
}

func parseXLSX(filePath string) ([]Page, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	var pages []Page
	for _, sheet := range f.Sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			cells := make([]string, len(row.Cells))
			for i, cell := range row.Cells {
				cells[i] = cell.String()
			}
			rows = append(rows, cells)
		}
		pages = append(pages, Page{Label: "Sheet " + sheet.Name, Text: joinRows(rows)})
	}
	return pages, nil
}

func parseODS(filePath string) ([]Page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []Page
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		pages = append(pages, Page{Label: "Sheet " + sheetName, Text: joinRows(rows)})
	}
	return pages, nil
}

func parseText(filePath string) ([]Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []Page{{Label: "Text", Text: string(data)}}, nil
}

func joinRows(rows [][]string) string {
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteByte('\n')
	}
	return b.String()
}

// extractTagText concatenates the character data of every open...close
// element in an XML document. open omits the closing '>' so attributes match.
func extractTagText(xmlContent, open, close string) string {
	var text strings.Builder
	rest := xmlContent
	for {
		i := strings.Index(rest, open)
		if i < 0 {
			break
		}
		rest = rest[i+len(open):]
		// skip longer tag names sharing the prefix, e.g. <a:tab
		if rest == "" || (rest[0] != '>' && rest[0] != ' ') {
			continue
		}
		gt := strings.IndexByte(rest, '>')
		if gt < 0 {
			break
		}
		if gt > 0 && rest[gt-1] == '/' {
			rest = rest[gt+1:]
			continue
		}
		rest = rest[gt+1:]
		end := strings.Index(rest, close)
		if end < 0 {
			break
		}
		text.WriteString(unescapeXML(rest[:end]))
		text.WriteByte(' ')
		rest = rest[end+len(close):]
	}
	return strings.TrimSpace(text.String())
}

var xmlUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func unescapeXML(s string) string {
	return xmlUnescaper.Replace(s)
}
