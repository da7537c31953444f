package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"course-rag/internal/config"
	"course-rag/internal/metrics"
	"course-rag/internal/models"
)

// Embedder turns text into fixed-dimension vectors.
type Embedder interface {
	Generate(ctx context.Context, text string, task models.TaskType) ([]float32, error)
	// GenerateBatch returns one vector per text, in input order. Items that
	// cannot be embedded come back as zero vectors.
	GenerateBatch(ctx context.Context, texts []string, task models.TaskType) ([][]float32, error)
}

const (
	defaultBatchSize  = 100
	defaultBatchDelay = 100 * time.Millisecond
	defaultMaxChars   = 10000
)

// Adapter implements Embedder over any langchaingo embedder.
type Adapter struct {
	client    embeddings.Embedder
	dimension int
	batchSize int
	maxChars  int
	limiter   *rate.Limiter
}

type Option func(*Adapter)

func WithBatchSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithBatchDelay sets the pause between sub-batches of one call.
func WithBatchDelay(d time.Duration) Option {
	return func(a *Adapter) {
		if d <= 0 {
			a.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		a.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithMaxChars caps the runes sent per text.
func WithMaxChars(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxChars = n
		}
	}
}

func NewAdapter(client embeddings.Embedder, dimension int, opts ...Option) *Adapter {
	if dimension <= 0 {
		dimension = models.DefaultDimension
	}
	a := &Adapter{
		client:    client,
		dimension: dimension,
		batchSize: defaultBatchSize,
		maxChars:  defaultMaxChars,
		limiter:   rate.NewLimiter(rate.Every(defaultBatchDelay), 1),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// New builds the embedder selected by cfg.Provider.
func New(cfg *config.LLMConfig) (*Adapter, error) {
	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaEmbedder(cfg)
	case "openai":
		return NewOpenAIEmbedder(cfg)
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

// new ollama embedder
func NewOllamaEmbedder(cfg *config.LLMConfig) (*Adapter, error) {
	log.Debug().Str("base_url", cfg.BaseURL).Str("embedding_model", cfg.Model).Msg("Creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init ollama: %w", err)
	}
	client, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(cfg.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return fromConfig(client, cfg), nil
}

// NewOpenAIEmbedder works with any OpenAI-compatible endpoint.
func NewOpenAIEmbedder(cfg *config.LLMConfig) (*Adapter, error) {
	log.Debug().Str("base_url", cfg.BaseURL).Str("embedding_model", cfg.Model).Msg("Creating openai embedder")

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.APIKey(), "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("init openai: %w", err)
	}
	client, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(cfg.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return fromConfig(client, cfg), nil
}

func fromConfig(client embeddings.Embedder, cfg *config.LLMConfig) *Adapter {
	return NewAdapter(client, cfg.Dimension,
		WithBatchSize(cfg.BatchSize),
		WithBatchDelay(cfg.BatchDelay),
		WithMaxChars(cfg.MaxChars),
	)
}

func (a *Adapter) Dimension() int { return a.dimension }

// Generate embeds one text. Blank text yields a zero vector without a call.
func (a *Adapter) Generate(ctx context.Context, text string, task models.TaskType) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return a.zero(), nil
	}
	v, err := a.embedOne(ctx, models.Truncate(text, a.maxChars), task)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", task, err)
	}
	if len(v) != a.dimension {
		return nil, fmt.Errorf("embed %s: got %d dimensions, want %d", task, len(v), a.dimension)
	}
	return v, nil
}

// GenerateBatch embeds texts in sub-batches of batchSize, pausing between
// them. Only a canceled context makes it fail.
func (a *Adapter) GenerateBatch(ctx context.Context, texts []string, task models.TaskType) ([][]float32, error) {
	out := make([][]float32, len(texts))
	multi := len(texts) > a.batchSize
	for start := 0; start < len(texts); start += a.batchSize {
		if multi {
			if err := a.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		end := min(start+a.batchSize, len(texts))
		a.embedBatch(ctx, texts[start:end], task, out[start:end])
	}
	return out, nil
}

func (a *Adapter) embedBatch(ctx context.Context, batch []string, task models.TaskType, dst [][]float32) {
	var (
		pos   []int
		texts []string
	)
	for i, t := range batch {
		if strings.TrimSpace(t) == "" {
			dst[i] = a.zero()
			continue
		}
		pos = append(pos, i)
		texts = append(texts, models.Truncate(t, a.maxChars))
	}
	if len(texts) == 0 {
		return
	}

	vecs, err := a.embedMany(ctx, texts, task)
	if err == nil && len(vecs) == len(texts) {
		for j, v := range vecs {
			dst[pos[j]] = a.checked(v)
		}
		return
	}
	log.Warn().Err(err).Int("batch", len(texts)).Msg("Batch embedding failed, retrying item by item")

	for j, t := range texts {
		v, err := a.embedOne(ctx, t, task)
		if err != nil {
			log.Error().Err(err).Int("item", pos[j]).Msg("Embedding failed, using zero vector")
			metrics.EmbeddingFallbacksTotal.Inc()
			dst[pos[j]] = a.zero()
			continue
		}
		dst[pos[j]] = a.checked(v)
	}
}

func (a *Adapter) embedMany(ctx context.Context, texts []string, task models.TaskType) ([][]float32, error) {
	if task != models.TaskRetrievalQuery {
		return a.client.EmbedDocuments(ctx, texts)
	}
	vecs := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := a.client.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

func (a *Adapter) embedOne(ctx context.Context, text string, task models.TaskType) ([]float32, error) {
	if task == models.TaskRetrievalQuery {
		return a.client.EmbedQuery(ctx, text)
	}
	vecs, err := a.client.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("provider returned %d vectors for 1 text", len(vecs))
	}
	return vecs[0], nil
}

func (a *Adapter) checked(v []float32) []float32 {
	if len(v) != a.dimension {
		log.Warn().Int("got", len(v)).Int("want", a.dimension).Msg("Embedding has wrong dimension, using zero vector")
		metrics.EmbeddingFallbacksTotal.Inc()
		return a.zero()
	}
	return v
}

func (a *Adapter) zero() []float32 {
	return make([]float32, a.dimension)
}
