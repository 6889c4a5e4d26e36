// Package llm provides text generation clients for the persona chat.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrMissingAPIKey is returned by constructors that cannot run without a key.
	ErrMissingAPIKey = errors.New("API key is required")

	// ErrMalformedResponse is returned when a provider answers with an unexpected shape.
	ErrMalformedResponse = errors.New("malformed response")
)

// Conversation roles understood by every provider. RoleModel is translated
// to the provider's own assistant role where needed.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ChatMessage represents a chat message for LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// APIError is returned when the remote endpoint answers with a non-success status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API request failed: %d %s - %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Client is the interface for LLM providers.
type Client interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of LLM provider.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ParseProvider maps a configuration string to a Provider, defaulting to Gemini.
func ParseProvider(s string) Provider {
	switch Provider(strings.ToLower(strings.TrimSpace(s))) {
	case ProviderAnthropic:
		return ProviderAnthropic
	case ProviderOpenAI:
		return ProviderOpenAI
	default:
		return ProviderGemini
	}
}

// assistantRole maps the model-facing role to the chat-completions vocabulary.
func assistantRole(role string) string {
	if role == RoleModel {
		return "assistant"
	}
	return role
}
