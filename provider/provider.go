package provider

import (
	"context"
	"errors"

	"github.com/mohammad-safakhou/mcpbridge/config"
	openai_provider "github.com/mohammad-safakhou/mcpbridge/provider/openai"
)

// Message represents one turn of an LLM conversation.
type Message = openai_provider.Message

// Provider is the interface every LLM implementation must satisfy.
// Complete returns free text; CompleteJSON forces a JSON-object response.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
	CompleteJSON(ctx context.Context, messages []Message) (string, error)
}

// NewProvider creates an LLM client from configuration.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	return openai_provider.NewClient(cfg.APIKey, cfg.Model, cfg.Temperature, cfg.MaxTokens, cfg.Timeout), nil
}
