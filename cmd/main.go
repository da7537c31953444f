package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"course-rag/internal/chromemdb"
	"course-rag/internal/config"
	"course-rag/internal/db"
	"course-rag/internal/embedding"
	"course-rag/internal/helper"
	"course-rag/internal/indexing"
	"course-rag/internal/vectorstore"
)

const configFilePath = "./configs/config.yaml"

var (
	configPath string
	cfg        *config.Config
)

// storeBackend is what both vector store implementations offer.
type storeBackend interface {
	indexing.VectorStore
	Namespaces() []string
	Close() error
}

var rootCmd = &cobra.Command{
	Use:           "course-rag",
	Short:         "Index course documents and retrieve context for them",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Msg("Error loading .env")
		}
		var err error
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		helper.SetupLogger(cfg.Log.Level, cfg.Log.Pretty)
		log.Debug().Str("config", configPath).Str("backend", cfg.Store.Backend).Msg("Loaded config")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", configFilePath, "Path to the config file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func openStore() (storeBackend, error) {
	switch cfg.Store.Backend {
	case "chromem":
		if cfg.Store.Dir != "" {
			if err := helper.CreateFolder(cfg.Store.Dir); err != nil {
				return nil, err
			}
		}
		m, err := chromemdb.NewVectorDBManager(cfg.Store.Dir, cfg.Store.Compress, cfg.Store.EncryptionKey)
		if err != nil {
			return nil, err
		}
		return m, nil
	case "flat", "":
		s, err := vectorstore.Open(cfg.Store.Dir, vectorstore.WithCompression(cfg.Store.Compress))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func openDB() (*bun.DB, error) {
	sqldb, err := db.ConnectDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db.NewDB(sqldb, cfg.Database.Debug), nil
}

// env is the set of collaborators a command runs with.
type env struct {
	store    storeBackend
	bunDB    *bun.DB
	repo     *db.Repository
	embedder *embedding.Adapter
	svc      *indexing.Service
}

type needs struct {
	db       bool
	embedder bool
}

func setup(n needs) (*env, error) {
	e := &env{}
	var err error
	if e.store, err = openStore(); err != nil {
		return nil, err
	}

	var source indexing.DocumentSource
	if n.db {
		if e.bunDB, err = openDB(); err != nil {
			e.close()
			return nil, err
		}
		e.repo = db.NewRepository(e.bunDB)
		source = e.repo
	}

	var embedder embedding.Embedder
	if n.embedder {
		if e.embedder, err = embedding.New(&cfg.EmbedLLM); err != nil {
			e.close()
			return nil, err
		}
		embedder = e.embedder
	}

	e.svc, err = indexing.New(embedder, e.store, source, indexing.Options{
		Namespace:    cfg.RAG.Namespace,
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: *cfg.RAG.ChunkOverlap,
		TopK:         cfg.RAG.TopK,
	})
	if err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

func (e *env) close() {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing vector store")
		}
	}
	if e.bunDB != nil {
		e.bunDB.Close()
	}
}

// withEnv runs fn with a fully wired env and always closes it.
func withEnv(n needs, fn func(ctx context.Context, e *env, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := setup(n)
		if err != nil {
			return err
		}
		defer e.close()
		return fn(cmd.Context(), e, args)
	}
}
