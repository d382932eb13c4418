package provider

import (
	"context"
	"errors"
	"time"

	openai_provider "github.com/mohammad-safakhou/deepresearch/internal/provider/openai"
	"github.com/mohammad-safakhou/deepresearch/models"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// Provider is the interface that all LLM implementations must satisfy.
// The returned channel is closed when the stream ends; implementations
// must support multiple independent concurrent streams.
type Provider interface {
	GenerateStream(ctx context.Context, req models.ChatRequest) (<-chan models.StreamChunk, error)
}

// Options configures provider construction.
type Options struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// NewProvider creates a new LLM client based on the provided configuration
func NewProvider(client Client, opts Options) (Provider, error) {
	switch client {
	case OpenAI:
		if opts.APIKey == "" {
			return nil, errors.New("openai api key not set")
		}
		return openai_provider.NewClient(opts.APIKey, opts.BaseURL, opts.Timeout), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	case Gemini:
		return nil, errors.New("gemini client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
