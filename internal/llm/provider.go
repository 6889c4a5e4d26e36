package llm

import (
	"context"
	"time"
)

// Config selects and configures a provider.
type Config struct {
	Provider        Provider
	GeminiAPIKey    string
	GeminiBaseURL   string
	GeminiModel     string
	OpenAIAPIKey    string
	OpenAIModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	Timeout         time.Duration
}

// NewClient creates a new LLM client based on provider.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderAnthropic:
		client, err := NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		if err != nil {
			return nil, err
		}
		return client, nil
	case ProviderOpenAI:
		client, err := NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return NewGeminiClient(GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.GeminiBaseURL,
			Model:   cfg.GeminiModel,
			Timeout: cfg.Timeout,
		}), nil
	}
}

// unavailableClient fails every call with the error that prevented construction.
type unavailableClient struct {
	provider Provider
	err      error
}

// Unavailable returns a Client whose every call fails with err. It keeps a
// misconfigured provider non-fatal: the failure surfaces per request.
func Unavailable(provider Provider, err error) Client {
	return &unavailableClient{provider: provider, err: err}
}

func (c *unavailableClient) Name() string { return string(c.provider) }

func (c *unavailableClient) Models() []string { return nil }

func (c *unavailableClient) Complete(context.Context, *CompletionRequest) (*CompletionResponse, error) {
	return nil, c.err
}
