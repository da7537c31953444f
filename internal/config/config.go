package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"course-rag/internal/models"
)

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// StoreConfig selects the vector store backend and where it keeps its files.
type StoreConfig struct {
	Backend       string `yaml:"backend"` // flat or chromem
	Dir           string `yaml:"dir"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // pgdriver or pq
	DSN    string `yaml:"dsn"`
	Debug  bool   `yaml:"debug"`
}

// LLMConfig configures one langchaingo client, used for both the embedder
// and the generator.
type LLMConfig struct {
	Provider   string        `yaml:"provider"` // ollama or openai
	BaseURL    string        `yaml:"base_url"`
	Key        string        `yaml:"key"`
	KeyEnv     string        `yaml:"key_env"`
	Model      string        `yaml:"model"`
	Dimension  int           `yaml:"dimension"`
	BatchSize  int           `yaml:"batch_size"`
	BatchDelay time.Duration `yaml:"batch_delay"`
	MaxChars   int           `yaml:"max_chars"`
}

type RAGConfig struct {
	Namespace      string `yaml:"namespace"`
	ChunkSize      int    `yaml:"chunk_size"`
	ChunkOverlap   *int   `yaml:"chunk_overlap"` // nil takes the default, 0 disables overlap
	TopK           int    `yaml:"top_k"`
	ContextTopK    int    `yaml:"context_top_k"`
	MaxSections    int    `yaml:"max_sections"`
	MaxReferences  int    `yaml:"max_references"`
	ReferenceChars int    `yaml:"reference_chars"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Database DatabaseConfig `yaml:"database"`
	EmbedLLM LLMConfig      `yaml:"embed_llm"`
	LLM      LLMConfig      `yaml:"llm"`
	RAG      RAGConfig      `yaml:"rag"`
}

// LoadConfig reads path. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// APIKey returns Key, or the value of the KeyEnv variable when Key is empty.
func (c *LLMConfig) APIKey() string {
	if c.Key != "" {
		return c.Key
	}
	if c.KeyEnv != "" {
		return os.Getenv(c.KeyEnv)
	}
	return ""
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "flat"
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "./vector_db"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "pgdriver"
	}
	applyLLMDefaults(&cfg.EmbedLLM, "nomic-embed-text")
	applyLLMDefaults(&cfg.LLM, "llama3.1")

	if cfg.RAG.Namespace == "" {
		cfg.RAG.Namespace = models.DefaultNamespace
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = models.DefaultChunkSize
	}
	if cfg.RAG.ChunkOverlap == nil {
		overlap := models.DefaultChunkOverlap
		cfg.RAG.ChunkOverlap = &overlap
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.ContextTopK == 0 {
		cfg.RAG.ContextTopK = 3
	}
	if cfg.RAG.MaxSections == 0 {
		cfg.RAG.MaxSections = 5
	}
	if cfg.RAG.MaxReferences == 0 {
		cfg.RAG.MaxReferences = 3
	}
	if cfg.RAG.ReferenceChars == 0 {
		cfg.RAG.ReferenceChars = 300
	}
}

func applyLLMDefaults(c *LLMConfig, model string) {
	if c.Provider == "" {
		c.Provider = "ollama"
	}
	if c.BaseURL == "" {
		switch c.Provider {
		case "openai":
			c.BaseURL = "https://api.openai.com/v1"
		default:
			c.BaseURL = "http://localhost:11434"
		}
	}
	if c.Provider == "openai" && c.KeyEnv == "" {
		c.KeyEnv = "OPENAI_API_KEY"
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.Dimension == 0 {
		c.Dimension = models.DefaultDimension
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.BatchDelay == 0 {
		c.BatchDelay = 100 * time.Millisecond
	}
	if c.MaxChars == 0 {
		c.MaxChars = 10000
	}
}
