package llm

import (
	"fmt"

	"github.com/scrypster/petmind/internal/config"
)

// NewTextGenerator creates the TextGenerator selected by cfg.LLMProvider.
func NewTextGenerator(cfg config.LLMConfig) (TextGenerator, error) {
	switch cfg.LLMProvider {
	case "openai", "deepseek", "":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.Timeout,
		}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			Timeout: cfg.Timeout,
		}), nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.LLMProvider)
	}
}

// NewEmbedders creates the text embedder and, when the provider can embed
// images, the image embedder. The image embedder is nil for text-only
// providers; image ingestion then falls back to the entity's text.
func NewEmbedders(cfg config.EmbeddingConfig, ollamaURL string) (EmbeddingGenerator, ImageEmbedder, error) {
	switch cfg.Provider {
	case "clip", "":
		c := NewCLIPClient(CLIPConfig{BaseURL: cfg.ClipURL, Model: cfg.Model, Timeout: cfg.Timeout})
		return c, c, nil
	case "openai":
		c := NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.OpenAIBaseURL,
			Dimensions: cfg.Dimension,
			Timeout:    cfg.Timeout,
		})
		return c, nil, nil
	case "ollama":
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		c := NewOllamaClient(OllamaConfig{BaseURL: ollamaURL, Model: model, Timeout: cfg.Timeout})
		return c, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}
