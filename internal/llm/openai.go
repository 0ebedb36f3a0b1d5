package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds configuration for an OpenAI-compatible chat client.
// DeepSeek and other compatible providers work by pointing BaseURL at them.
type OpenAIConfig struct {
	APIKey      string
	Model       string        // default: deepseek-chat
	BaseURL     string        // default: https://api.deepseek.com/v1
	Temperature float32       // default: 0.7
	Timeout     time.Duration // default: 60s
}

// OpenAIClient implements TextGenerator using the chat completions API.
type OpenAIClient struct {
	cfg            OpenAIConfig
	client         *openai.Client
	circuitBreaker *CircuitBreaker
}

// NewOpenAIClient creates a new OpenAI-compatible client with the given configuration.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepseek.com/v1"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIClient{
		cfg:            cfg,
		client:         openai.NewClientWithConfig(clientConfig),
		circuitBreaker: NewCircuitBreaker("openai-chat"),
	}
}

// Complete sends a system and user message and returns the reply text.
func (c *OpenAIClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	return guarded(ctx, c.circuitBreaker, "openai", c.cfg.Timeout, func(ctx context.Context) (string, error) {
		return c.complete(ctx, system, prompt)
	})
}

func (c *OpenAIClient) complete(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

// GetModel returns the configured model name.
func (c *OpenAIClient) GetModel() string {
	return c.cfg.Model
}

// Compile-time assertion.
var _ TextGenerator = (*OpenAIClient)(nil)

// OpenAIEmbeddingConfig holds configuration for the OpenAI embedding client.
type OpenAIEmbeddingConfig struct {
	APIKey     string
	Model      string        // default: text-embedding-3-small
	BaseURL    string        // default: https://api.openai.com/v1
	Dimensions int           // optional truncation supported by v3 models
	Timeout    time.Duration // default: 30s
}

// OpenAIEmbeddingClient implements EmbeddingGenerator using the embeddings API.
type OpenAIEmbeddingClient struct {
	cfg            OpenAIEmbeddingConfig
	client         *openai.Client
	circuitBreaker *CircuitBreaker
}

// NewOpenAIEmbeddingClient creates a new OpenAI embedding client.
func NewOpenAIEmbeddingClient(cfg OpenAIEmbeddingConfig) *OpenAIEmbeddingClient {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIEmbeddingClient{
		cfg:            cfg,
		client:         openai.NewClientWithConfig(clientConfig),
		circuitBreaker: NewCircuitBreaker("openai-embedding"),
	}
}

// Embed generates an embedding vector for the given text.
func (c *OpenAIEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return guarded(ctx, c.circuitBreaker, "openai embedding", c.cfg.Timeout, func(ctx context.Context) ([]float32, error) {
		return c.embed(ctx, text)
	})
}

func (c *OpenAIEmbeddingClient) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(c.cfg.Model),
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings failed: %w", err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai returned empty embedding")
	}

	return resp.Data[0].Embedding, nil
}

// GetModel returns the configured model name.
func (c *OpenAIEmbeddingClient) GetModel() string {
	return c.cfg.Model
}

// Compile-time assertion.
var _ EmbeddingGenerator = (*OpenAIEmbeddingClient)(nil)
