package llmservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"course-rag/internal/config"
)

// NewLLM returns the chat model selected by llmConfig.Provider.
func NewLLM(llmConfig *config.LLMConfig) (llms.Model, error) {
	log.Debug().Str("provider", llmConfig.Provider).Str("model", llmConfig.Model).Msg("Creating llm client")
	var (
		llm llms.Model
		err error
	)
	switch llmConfig.Provider {
	case "openai":
		llm, err = openai.New(
			openai.WithBaseURL(llmConfig.BaseURL),
			openai.WithToken(strings.TrimPrefix(llmConfig.APIKey(), "Bearer ")),
			openai.WithModel(llmConfig.Model),
		)
	case "ollama", "":
		llm, err = ollama.New(
			ollama.WithServerURL(llmConfig.BaseURL),
			ollama.WithModel(llmConfig.Model),
		)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", llmConfig.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s: %w", llmConfig.Provider, err)
	}
	return llm, nil
}

// Generator is the part of llms.Model that answers prompts.
type Generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// GenerateContent sends messages to llm, offering tools when there are any.
func GenerateContent(ctx context.Context, llm Generator, tools []llms.Tool, messages []llms.MessageContent) (*llms.ContentResponse, error) {
	if len(tools) > 0 {
		return llm.GenerateContent(ctx, messages, llms.WithTools(tools))
	}
	return llm.GenerateContent(ctx, messages)
}
