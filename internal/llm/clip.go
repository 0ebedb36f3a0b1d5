package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CLIPConfig holds configuration for a CLIP embedding service speaking the
// clip-as-service HTTP protocol.
type CLIPConfig struct {
	// BaseURL is the service address (default: http://localhost:51000)
	BaseURL string

	// Model is reported by GetModel and recorded with each vector
	// (default: clip-ViT-B-32)
	Model string

	// Timeout is the request timeout duration (default: 30s)
	Timeout time.Duration
}

// CLIPClient embeds text and images into a shared vector space, so a text
// query can rank pets ingested from photos.
type CLIPClient struct {
	model string
	api   *endpoint
}

// NewCLIPClient creates a new CLIP client with the given configuration.
func NewCLIPClient(cfg CLIPConfig) *CLIPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:51000"
	}
	if cfg.Model == "" {
		cfg.Model = "clip-ViT-B-32"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CLIPClient{
		model: cfg.Model,
		api:   newEndpoint("clip", cfg.BaseURL, cfg.Timeout, nil),
	}
}

// clipDoc is one input document. Exactly one of Text or URI is set.
type clipDoc struct {
	Text string `json:"text,omitempty"`
	URI  string `json:"uri,omitempty"`
}

type clipRequest struct {
	Data         []clipDoc `json:"data"`
	ExecEndpoint string    `json:"execEndpoint"`
}

type clipResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates an embedding for text.
func (c *CLIPClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("clip: empty text")
	}
	return guarded(ctx, c.api.breaker, c.api.provider, c.api.timeout, func(ctx context.Context) ([]float32, error) {
		return c.encode(ctx, clipDoc{Text: text})
	})
}

// EmbedImage generates an embedding for encoded image bytes, sent inline
// as a data URI.
func (c *CLIPClient) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, errors.New("clip: empty image")
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, mime)
	}

	doc := clipDoc{URI: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)}
	return guarded(ctx, c.api.breaker, c.api.provider, c.api.timeout, func(ctx context.Context) ([]float32, error) {
		return c.encode(ctx, doc)
	})
}

func (c *CLIPClient) encode(ctx context.Context, doc clipDoc) ([]float32, error) {
	var resp clipResponse
	if err := c.api.postJSON(ctx, "/post", clipRequest{Data: []clipDoc{doc}, ExecEndpoint: "/"}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("clip returned empty embedding")
	}
	return resp.Data[0].Embedding, nil
}

// HealthCheck embeds a short probe string outside the breaker.
func (c *CLIPClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.api.timeout)
	defer cancel()
	_, err := c.encode(ctx, clipDoc{Text: "ping"})
	return err
}

// GetModel returns the configured model name.
func (c *CLIPClient) GetModel() string {
	return c.model
}

var (
	_ EmbeddingGenerator = (*CLIPClient)(nil)
	_ ImageEmbedder      = (*CLIPClient)(nil)
	_ HealthChecker      = (*CLIPClient)(nil)
)
