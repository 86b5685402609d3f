package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inspire-id/idvault/internal/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Completer is anything that can answer a chat completion request. Both
// *Client and *ProviderManager satisfy it.
type Completer interface {
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Client talks to one OpenAI-compatible chat completions endpoint
type Client struct {
	provider config.Provider
	client   *http.Client
	logger   *zap.Logger
}

// NewClient creates a new LLM client
func NewClient(provider config.Provider, logger *zap.Logger) *Client {
	timeout := provider.Timeout
	if timeout == 0 {
		timeout = 60
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		provider: provider,
		client: &http.Client{
			Timeout: time.Duration(timeout) * time.Second,
		},
		logger: logger,
	}
}

// Message represents a chat message. Content is either a string or a slice of
// ContentPart for multimodal input.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentPart is one element of a multimodal message
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference, usually a data URI
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// TextPart builds a text content part
func TextPart(text string) ContentPart {
	return ContentPart{Type: "text", Text: text}
}

// ImagePart builds an image content part from a data URI or URL
func ImagePart(url string) ContentPart {
	return ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url, Detail: "high"}}
}

// ResponseFormat asks the model for a particular output shape
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatRequest represents an API request
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatResponse represents a non-streaming API response
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Text returns the first choice's content
func (r *ChatResponse) Text() (string, error) {
	if r == nil || len(r.Choices) == 0 {
		return "", fmt.Errorf("no response from model")
	}
	return r.Choices[0].Message.Content, nil
}

// ChatCompletion sends a chat completion request. An empty req.Model is
// filled from the provider configuration.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.provider.APIKey == "" {
		return nil, fmt.Errorf("llm provider has no api key")
	}
	if req.Model == "" {
		req.Model = c.provider.Model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.provider.MaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	rid := uuid.New().String()
	start := time.Now()
	endpoint := strings.TrimRight(c.provider.BaseURL, "/") + "/chat/completions"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.provider.APIKey)
	httpReq.Header.Set("X-Request-ID", rid)
	httpReq.Header.Set("X-Title", "idvault")

	c.logger.Debug("llm.request",
		zap.String("req_id", rid),
		zap.String("model", req.Model),
		zap.Int("bytes", len(body)),
	)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Warn("llm.http_error",
			zap.String("req_id", rid),
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("llm.response",
		zap.String("req_id", rid),
		zap.Int("total_tokens", result.Usage.TotalTokens),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &result, nil
}

// GetModel returns the configured model
func (c *Client) GetModel() string {
	return c.provider.Model
}
