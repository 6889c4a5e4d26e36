package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultGeminiBaseURL is the public Generative Language API host.
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultGeminiModel is used when the request names no model.
	DefaultGeminiModel = "gemini-2.5-flash-lite"
)

// GeminiConfig configures a GeminiClient.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// GeminiClient calls the generateContent REST endpoint.
type GeminiClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
}

// NewGeminiClient creates a new Gemini client. An empty API key is accepted:
// requests are still issued and fail at call time.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &GeminiClient{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		model:      model,
	}
}

// Name returns the provider name.
func (c *GeminiClient) Name() string {
	return "gemini"
}

// Models returns available models.
func (c *GeminiClient) Models() []string {
	return []string{
		"gemini-2.5-flash-lite",
		"gemini-2.5-flash",
		"gemini-2.5-pro",
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

// geminiResponsePart keeps Text a pointer so a part without text, such as a
// function call, is told apart from an empty reply.
type geminiResponsePart struct {
	Text *string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content *struct {
			Parts []geminiResponsePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

func (c *GeminiClient) endpoint(model string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(model), url.QueryEscape(c.apiKey))
}

// Complete sends a completion request.
func (c *GeminiClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}

	ctx, span := otel.Tracer("llm").Start(ctx, "gemini.generateContent")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.messages", len(req.Messages)),
	)

	contents := make([]geminiContent, len(req.Messages))
	for i, msg := range req.Messages {
		contents[i] = geminiContent{
			Role:  msg.Role,
			Parts: []geminiPart{{Text: msg.Content}},
		}
	}

	body, err := json.Marshal(geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(model), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		err = c.transportError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
		span.SetStatus(codes.Error, apiErr.Error())
		return nil, apiErr
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		span.SetStatus(codes.Error, "malformed body")
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(parsed.Candidates) == 0 || parsed.Candidates[0].Content == nil ||
		len(parsed.Candidates[0].Content.Parts) == 0 || parsed.Candidates[0].Content.Parts[0].Text == nil {
		span.SetStatus(codes.Error, "missing candidate text")
		return nil, fmt.Errorf("%w: missing candidates[0].content.parts[0].text", ErrMalformedResponse)
	}

	respModel := parsed.ModelVersion
	if respModel == "" {
		respModel = model
	}

	return &CompletionResponse{
		Content:    *parsed.Candidates[0].Content.Parts[0].Text,
		Model:      respModel,
		TokensIn:   parsed.UsageMetadata.PromptTokenCount,
		TokensOut:  parsed.UsageMetadata.CandidatesTokenCount,
		StopReason: parsed.Candidates[0].FinishReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// transportError drops the request URL from err. The URL carries the API key
// as a query parameter, and the message ends up in the chat log.
func (c *GeminiClient) transportError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	if c.apiKey == "" {
		return fmt.Errorf("request failed: %w", err)
	}
	msg := err.Error()
	redacted := strings.NewReplacer(c.apiKey, "REDACTED", url.QueryEscape(c.apiKey), "REDACTED").Replace(msg)
	if redacted != msg {
		return fmt.Errorf("request failed: %s", redacted)
	}
	return fmt.Errorf("request failed: %w", err)
}
