package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

const anthropicVersion = "2023-06-01"

// AnthropicConfig holds configuration for the Anthropic client.
type AnthropicConfig struct {
	APIKey    string
	Model     string        // default: claude-haiku-4-5-20251001
	BaseURL   string        // default: https://api.anthropic.com
	MaxTokens int           // default: 512
	Timeout   time.Duration // default: 60s
}

// AnthropicClient implements TextGenerator with the Messages API.
type AnthropicClient struct {
	model     string
	maxTokens int
	api       *endpoint
}

// NewAnthropicClient creates a client, filling unset fields with defaults.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	if cfg.Model == "" {
		cfg.Model = "claude-haiku-4-5-20251001"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	headers := http.Header{}
	headers.Set("x-api-key", cfg.APIKey)
	headers.Set("anthropic-version", anthropicVersion)

	return &AnthropicClient{
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		api:       newEndpoint("anthropic", cfg.BaseURL, cfg.Timeout, headers),
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicMessagesRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Complete sends one user turn under the given system prompt. Text blocks
// of the reply are concatenated.
func (c *AnthropicClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := anthropicMessagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  []anthropicMessage{{Role: "user", Content: prompt}},
	}

	return guarded(ctx, c.api.breaker, c.api.provider, c.api.timeout, func(ctx context.Context) (string, error) {
		var resp anthropicMessagesResponse
		if err := c.api.postJSON(ctx, "/v1/messages", req, &resp); err != nil {
			return "", err
		}

		var reply strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" || block.Type == "" {
				reply.WriteString(block.Text)
			}
		}
		if reply.Len() == 0 {
			return "", errors.New("anthropic returned no text content")
		}
		return reply.String(), nil
	})
}

// GetModel returns the configured model name.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

var _ TextGenerator = (*AnthropicClient)(nil)
