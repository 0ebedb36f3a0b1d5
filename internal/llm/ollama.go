package llm

import (
	"context"
	"errors"
	"strings"
	"time"
)

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	BaseURL string        // default: http://localhost:11434
	Model   string        // default: qwen2.5:7b
	Timeout time.Duration // default: 60s
}

// OllamaClient talks to a local Ollama server. One client serves either
// chat or embeddings depending on the model it is given.
type OllamaClient struct {
	model string
	api   *endpoint
}

// NewOllamaClient creates a client, filling unset fields with defaults.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "qwen2.5:7b"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &OllamaClient{
		model: cfg.Model,
		api:   newEndpoint("ollama", cfg.BaseURL, cfg.Timeout, nil),
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Complete sends the persona as the system message and prompt as the user
// message to /api/chat.
func (c *OllamaClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]ollamaMessage, 0, 2)
	if system != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: system})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: prompt})

	return guarded(ctx, c.api.breaker, c.api.provider, c.api.timeout, func(ctx context.Context) (string, error) {
		var resp ollamaChatResponse
		err := c.api.postJSON(ctx, "/api/chat", ollamaChatRequest{Model: c.model, Messages: messages}, &resp)
		if err != nil {
			return "", err
		}
		return resp.Message.Content, nil
	})
}

// Embed returns the embedding of text from /api/embed.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("ollama: empty text")
	}
	return guarded(ctx, c.api.breaker, c.api.provider, c.api.timeout, func(ctx context.Context) ([]float32, error) {
		var resp ollamaEmbedResponse
		if err := c.api.postJSON(ctx, "/api/embed", ollamaEmbedRequest{Model: c.model, Input: text}, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
			return nil, errors.New("ollama returned empty embedding vector")
		}
		return resp.Embeddings[0], nil
	})
}

// HealthCheck probes /api/version. It bypasses the breaker.
func (c *OllamaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.api.timeout)
	defer cancel()
	return c.api.get(ctx, "/api/version", nil)
}

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.model
}

var (
	_ TextGenerator      = (*OllamaClient)(nil)
	_ EmbeddingGenerator = (*OllamaClient)(nil)
	_ HealthChecker      = (*OllamaClient)(nil)
)
