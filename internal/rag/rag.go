// Package rag assembles retrieval-augmented context for a conversation turn
// and builds the generation prompt around it.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"course-rag/internal/llmservice"
	"course-rag/internal/models"
	"course-rag/internal/parser"
)

type Searcher interface {
	Search(ctx context.Context, query, documentID string, topK int) []models.SearchResult
}

type DocumentGetter interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

type ReferenceLister interface {
	RecentReferences(ctx context.Context, userID string, limit int) ([]models.Reference, error)
}

// Generator is satisfied by every langchaingo llms.Model.
type Generator = llmservice.Generator

type Options struct {
	ContextTopK    int
	MaxSections    int
	SectionChars   int
	MaxReferences  int
	ReferenceChars int
	HistoryTurns   int
}

func DefaultOptions() Options {
	return Options{
		ContextTopK:    3,
		MaxSections:    5,
		SectionChars:   100,
		MaxReferences:  3,
		ReferenceChars: 300,
		HistoryTurns:   10,
	}
}

// Turn is one user message in a conversation, optionally scoped to a
// document.
type Turn struct {
	UserID     string
	DocumentID string
	Message    string
	UseRAG     bool
}

// Message is a past conversation message. Role is "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

type Assembler struct {
	search Searcher
	docs   DocumentGetter
	refs   ReferenceLister
	opts   Options
}

// NewAssembler accepts a nil refs when reference files are not available.
func NewAssembler(search Searcher, docs DocumentGetter, refs ReferenceLister, opts Options) *Assembler {
	def := DefaultOptions()
	if opts.ContextTopK <= 0 {
		opts.ContextTopK = def.ContextTopK
	}
	if opts.MaxSections <= 0 {
		opts.MaxSections = def.MaxSections
	}
	if opts.SectionChars <= 0 {
		opts.SectionChars = def.SectionChars
	}
	if opts.MaxReferences <= 0 {
		opts.MaxReferences = def.MaxReferences
	}
	if opts.ReferenceChars <= 0 {
		opts.ReferenceChars = def.ReferenceChars
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = def.HistoryTurns
	}
	return &Assembler{search: search, docs: docs, refs: refs, opts: opts}
}

// BuildContext renders the context block of a turn. Lookup failures only
// shrink the block; the turn always gets a context, possibly empty.
func (a *Assembler) BuildContext(ctx context.Context, turn Turn) string {
	var parts []string

	if turn.DocumentID != "" {
		doc, err := a.docs.GetDocument(ctx, turn.DocumentID)
		if err != nil {
			log.Warn().Err(err).Str("document_id", turn.DocumentID).Msg("Context without document")
		} else {
			parts = append(parts, a.documentBlock(ctx, doc, turn)...)
		}
	}
	parts = append(parts, a.referenceBlock(ctx, turn.UserID)...)

	block := strings.Join(parts, "\n")
	log.Debug().Int("chars", len(block)).Bool("rag", turn.UseRAG).Msg("Context built")
	return block
}

func (a *Assembler) documentBlock(ctx context.Context, doc *models.Document, turn Turn) []string {
	parts := []string{
		"=== DOCUMENT ===",
		"Document: " + doc.Title,
		"Description: " + doc.Description,
		"",
	}

	if turn.UseRAG && strings.TrimSpace(turn.Message) != "" {
		results := a.search.Search(ctx, turn.Message, doc.ID, a.opts.ContextTopK)
		if len(results) > 0 {
			parts = append(parts, "=== RELEVANT CONTENT ===")
			for i, r := range results {
				parts = append(parts,
					fmt.Sprintf("\n[%d] %s", i+1, r.Title),
					fmt.Sprintf("(relevance: %.2f)", r.Score),
					r.Text,
				)
			}
			log.Info().Str("document_id", doc.ID).Int("chunks", len(results)).Msg("Retrieved context")
			return append(parts, "")
		}
		log.Debug().Str("document_id", doc.ID).Msg("No relevant content, using outline")
	}

	if len(doc.Sections) == 0 {
		return parts
	}
	parts = append(parts, "=== OUTLINE ===")
	for i, sec := range doc.Sections[:min(len(doc.Sections), a.opts.MaxSections)] {
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, sec.Title))
		if body := parser.PlainText(sec.Body); body != "" {
			parts = append(parts, "   "+models.Truncate(body, a.opts.SectionChars)+"...")
		}
	}
	return append(parts, "")
}

func (a *Assembler) referenceBlock(ctx context.Context, userID string) []string {
	if a.refs == nil || userID == "" {
		return nil
	}
	refs, err := a.refs.RecentReferences(ctx, userID, a.opts.MaxReferences)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Context without references")
		return nil
	}
	if len(refs) == 0 {
		return nil
	}

	parts := []string{"=== REFERENCES ==="}
	for _, r := range refs[:min(len(refs), a.opts.MaxReferences)] {
		parts = append(parts, "- "+r.FileName)
		if r.ExtractedText != "" {
			parts = append(parts, "  "+models.Truncate(r.ExtractedText, a.opts.ReferenceChars)+"...")
		}
	}
	return append(parts, "")
}

// Messages builds the generation request: the system prompt carrying the
// context, the most recent history and the user message.
func (a *Assembler) Messages(ctx context.Context, turn Turn, history []Message) []llms.MessageContent {
	return a.messages(a.BuildContext(ctx, turn), turn, history)
}

func (a *Assembler) messages(contextBlock string, turn Turn, history []Message) []llms.MessageContent {
	system := models.SystemPromptTemplate
	if contextBlock != "" {
		system += fmt.Sprintf(models.ContextEnvelope, contextBlock)
	}

	msgs := []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeSystem, system)}
	if len(history) > a.opts.HistoryTurns {
		history = history[len(history)-a.opts.HistoryTurns:]
	}
	for _, m := range history {
		role := llms.ChatMessageTypeAI
		if m.Role == "user" {
			role = llms.ChatMessageTypeHuman
		}
		msgs = append(msgs, llms.TextParts(role, m.Content))
	}
	return append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, turn.Message))
}

// Answer builds the prompt for turn and sends it to gen.
func (a *Assembler) Answer(ctx context.Context, gen Generator, turn Turn, history []Message) (*models.PromptResponse, error) {
	contextBlock := a.BuildContext(ctx, turn)
	resp, err := llmservice.GenerateContent(ctx, gen, nil, a.messages(contextBlock, turn, history))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("generate answer: empty response")
	}
	return &models.PromptResponse{
		Query:   turn.Message,
		Context: contextBlock,
		Content: resp.Choices[0].Content,
	}, nil
}
