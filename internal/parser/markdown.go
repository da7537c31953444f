package parser

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"course-rag/internal/models"
)

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

func parseMarkdown(source []byte) ast.Node {
	return md.Parser().Parse(text.NewReader(source))
}

// PlainText strips markdown syntax, keeping the readable text. Blocks are
// separated by newlines.
func PlainText(markdown string) string {
	src := []byte(markdown)
	var b strings.Builder
	writeText(&b, parseMarkdown(src), src)
	return strings.TrimSpace(b.String())
}

// ParseMarkdown builds a Document from a markdown outline: the first level-1
// heading is the title, text before the first section is the description,
// level-1/2 headings open sections and deeper headings open subsections.
func ParseMarkdown(markdown string) *models.Document {
	src := []byte(markdown)
	root := parseMarkdown(src)

	doc := &models.Document{}
	var description strings.Builder
	var section *models.Section
	var subsection *models.Subsection

	flush := func() {
		if section == nil {
			return
		}
		if subsection != nil {
			subsection.Body = strings.TrimSpace(subsection.Body)
			section.Subsections = append(section.Subsections, *subsection)
			subsection = nil
		}
		section.Body = strings.TrimSpace(section.Body)
		doc.Sections = append(doc.Sections, *section)
		section = nil
	}

	for n := root.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			var title strings.Builder
			writeText(&title, h, src)
			heading := strings.TrimSpace(title.String())

			switch {
			case h.Level == 1 && doc.Title == "" && section == nil:
				doc.Title = heading
			case h.Level <= 2 || section == nil:
				flush()
				section = &models.Section{ID: "s" + strconv.Itoa(len(doc.Sections)+1), Title: heading}
			default:
				if subsection != nil {
					subsection.Body = strings.TrimSpace(subsection.Body)
					section.Subsections = append(section.Subsections, *subsection)
				}
				subsection = &models.Subsection{
					ID:    section.ID + "-" + strconv.Itoa(len(section.Subsections)+1),
					Title: heading,
				}
			}
			continue
		}

		var block strings.Builder
		writeText(&block, n, src)
		switch {
		case subsection != nil:
			subsection.Body += block.String()
		case section != nil:
			section.Body += block.String()
		default:
			description.WriteString(block.String())
		}
	}
	flush()

	doc.Description = strings.TrimSpace(description.String())
	return doc
}

func writeText(b *strings.Builder, root ast.Node, src []byte) {
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				b.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch n := n.(type) {
		case *ast.Text:
			b.Write(n.Segment.Value(src))
			switch {
			case n.HardLineBreak():
				b.WriteByte('\n')
			case n.SoftLineBreak():
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(n.Value)
		case *ast.AutoLink:
			b.Write(n.Label(src))
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
}
