// Package llm provides clients for chat completion and embedding providers.
// Every client routes its calls through a circuit breaker and bounds each
// call with its own timeout.
package llm

import (
	"context"
	"errors"
)

// ErrUnsupportedMedia is returned by embedders that cannot handle the given
// input type, e.g. a text-only model asked to embed an image.
var ErrUnsupportedMedia = errors.New("llm: unsupported media for this embedder")

// TextGenerator produces a chat completion from a system prompt and a user
// prompt.
type TextGenerator interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings from text.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}

// ImageEmbedder generates embeddings for encoded image bytes in the same
// vector space as its text embeddings.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
}

// HealthChecker is implemented by clients that can probe their backend.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
