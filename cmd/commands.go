package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"course-rag/internal/chromemdb"
	"course-rag/internal/db"
	"course-rag/internal/helper"
	"course-rag/internal/llmservice"
	"course-rag/internal/models"
	"course-rag/internal/parser"
	"course-rag/internal/rag"
)

var (
	searchDocument string
	searchTopK     int
	importID       string
	askUser        string
	askNoRAG       bool
	dropConfirm    bool
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the document and reference tables",
	Args:  cobra.NoArgs,
	RunE: withEnv(needs{db: true}, func(ctx context.Context, e *env, _ []string) error {
		if err := db.InitDB(ctx, e.bunDB); err != nil {
			return err
		}
		log.Info().Msg("Database initialized")
		return nil
	}),
}

var dropDBCmd = &cobra.Command{
	Use:   "drop-db",
	Short: "Drop the document and reference tables",
	Args:  cobra.NoArgs,
	RunE: withEnv(needs{db: true}, func(ctx context.Context, e *env, _ []string) error {
		if !dropConfirm {
			return errors.New("drop-db deletes every stored document; pass --yes to confirm")
		}
		if err := db.DropTables(ctx, e.bunDB); err != nil {
			return err
		}
		log.Info().Msg("Database tables dropped")
		return nil
	}),
}

var indexCmd = &cobra.Command{
	Use:   "index <document-id>",
	Short: "Index a stored document",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(needs{db: true, embedder: true}, func(ctx context.Context, e *env, args []string) error {
		return printResult(e.svc.IndexDocumentByID(ctx, args[0]))
	}),
}

var reindexCmd = &cobra.Command{
	Use:   "reindex <document-id>",
	Short: "Drop and rebuild the index entries of a document",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(needs{db: true, embedder: true}, func(ctx context.Context, e *env, args []string) error {
		return printResult(e.svc.ReindexDocument(ctx, args[0]))
	}),
}

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Remove the index entries of a document",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(needs{}, func(ctx context.Context, e *env, args []string) error {
		return printResult(e.svc.DeleteDocumentIndex(ctx, args[0]))
	}),
}

var indexAllCmd = &cobra.Command{
	Use:   "index-all",
	Short: "Index every stored document",
	Args:  cobra.NoArgs,
	RunE: withEnv(needs{db: true, embedder: true}, func(ctx context.Context, e *env, _ []string) error {
		summary := e.svc.IndexAll(ctx)
		helper.PrettyPrint(os.Stdout, summary)
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d documents failed", summary.Failed, summary.Total)
		}
		return nil
	}),
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed content",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(needs{embedder: true}, func(ctx context.Context, e *env, args []string) error {
		results := e.svc.Search(ctx, args[0], searchDocument, searchTopK)
		helper.PrettyPrint(os.Stdout, results)
		return nil
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats [namespace]",
	Short: "Show vector counts per namespace",
	Args:  cobra.MaximumNArgs(1),
	RunE: withEnv(needs{}, func(_ context.Context, e *env, args []string) error {
		if len(args) == 1 {
			helper.PrettyPrint(os.Stdout, e.store.Stats(args[0]))
			return nil
		}
		var all []models.Stats
		for _, ns := range e.store.Namespaces() {
			all = append(all, e.store.Stats(ns))
		}
		helper.PrettyPrint(os.Stdout, all)
		return nil
	}),
}

var resetCmd = &cobra.Command{
	Use:   "reset <namespace>",
	Short: "Delete a namespace and its files",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(needs{}, func(_ context.Context, e *env, args []string) error {
		if err := e.store.Reset(args[0]); err != nil {
			return err
		}
		log.Info().Str("namespace", args[0]).Msg("Namespace reset")
		return nil
	}),
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Parse a file into a document, store it and index it",
	Args:  cobra.ExactArgs(1),
	RunE: withEnv(needs{db: true, embedder: true}, func(ctx context.Context, e *env, args []string) error {
		doc, err := parser.ParseDocument(args[0], importID)
		if err != nil {
			return err
		}
		if err := e.repo.SaveDocument(ctx, doc); err != nil {
			return err
		}
		log.Info().Str("document_id", doc.ID).Int("sections", len(doc.Sections)).Msg("Document stored")
		return printResult(e.svc.IndexDocument(ctx, doc))
	}),
}

var attachCmd = &cobra.Command{
	Use:   "attach <user-id> <file>",
	Short: "Store the text of a reference file for a user",
	Args:  cobra.ExactArgs(2),
	RunE: withEnv(needs{db: true}, func(ctx context.Context, e *env, args []string) error {
		text, err := parser.ExtractText(args[1])
		if err != nil {
			return err
		}
		id, err := helper.GenerateUUID()
		if err != nil {
			return err
		}
		ref := &models.Reference{
			ID:            id,
			UserID:        args[0],
			FileName:      filepath.Base(args[1]),
			ExtractedText: text,
			CreatedAt:     time.Now(),
		}
		if err := e.repo.SaveReference(ctx, ref); err != nil {
			return err
		}
		helper.PrettyPrint(os.Stdout, map[string]any{"id": ref.ID, "file_name": ref.FileName, "chars": len(text)})
		return nil
	}),
}

var askCmd = &cobra.Command{
	Use:   "ask <document-id> <message>",
	Short: "Answer a question with retrieved document context",
	Args:  cobra.ExactArgs(2),
	RunE: withEnv(needs{db: true, embedder: true}, func(ctx context.Context, e *env, args []string) error {
		llm, err := llmservice.NewLLM(&cfg.LLM)
		if err != nil {
			return err
		}
		assembler := rag.NewAssembler(e.svc, e.repo, e.repo, rag.Options{
			ContextTopK:    cfg.RAG.ContextTopK,
			MaxSections:    cfg.RAG.MaxSections,
			MaxReferences:  cfg.RAG.MaxReferences,
			ReferenceChars: cfg.RAG.ReferenceChars,
		})
		resp, err := assembler.Answer(ctx, llm, rag.Turn{
			UserID:     askUser,
			DocumentID: args[0],
			Message:    args[1],
			UseRAG:     !askNoRAG,
		}, nil)
		if err != nil {
			return err
		}
		log.Debug().Str("context", resp.Context).Msg("Prompt context")
		fmt.Fprintln(os.Stdout, resp.Content)
		return nil
	}),
}

var exportCmd = &cobra.Command{
	Use:   "export <namespace> <file>",
	Short: "Export a chromem namespace to a file",
	Args:  cobra.ExactArgs(2),
	RunE: withEnv(needs{}, func(_ context.Context, e *env, args []string) error {
		m, ok := e.store.(*chromemdb.VectorDBManager)
		if !ok {
			return errors.New("export requires the chromem store backend")
		}
		return m.Export(args[0], args[1])
	}),
}

var restoreCmd = &cobra.Command{
	Use:   "restore <namespace> <file>",
	Short: "Restore a chromem namespace from an exported file",
	Args:  cobra.ExactArgs(2),
	RunE: withEnv(needs{}, func(_ context.Context, e *env, args []string) error {
		m, ok := e.store.(*chromemdb.VectorDBManager)
		if !ok {
			return errors.New("restore requires the chromem store backend")
		}
		return m.Import(args[0], args[1])
	}),
}

func printResult(res models.IndexResult) error {
	helper.PrettyPrint(os.Stdout, res)
	if !res.Success {
		return errors.New(res.Message)
	}
	return nil
}

func init() {
	searchCmd.Flags().StringVar(&searchDocument, "document", "", "Restrict results to one document")
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "Number of results (default from config)")
	importCmd.Flags().StringVar(&importID, "id", "", "Document ID (default: random UUID)")
	askCmd.Flags().StringVar(&askUser, "user", "", "User whose reference files join the context")
	askCmd.Flags().BoolVar(&askNoRAG, "no-rag", false, "Skip retrieval and use the document outline")

	dropDBCmd.Flags().BoolVar(&dropConfirm, "yes", false, "Confirm dropping the tables")

	rootCmd.AddCommand(initDBCmd, dropDBCmd, indexCmd, reindexCmd, deleteCmd, indexAllCmd, searchCmd,
		statsCmd, resetCmd, importCmd, attachCmd, askCmd, exportCmd, restoreCmd)
}
