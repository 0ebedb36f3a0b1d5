package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/petmind/internal/config"
)

func TestCLIPClient_EmbedText(t *testing.T) {
	var got clipRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/post", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	}))
	defer srv.Close()

	c := NewCLIPClient(CLIPConfig{BaseURL: srv.URL + "/"})
	vec, err := c.Embed(context.Background(), "fluffy cat")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	require.Len(t, got.Data, 1)
	assert.Equal(t, "fluffy cat", got.Data[0].Text)
	assert.Equal(t, "/", got.ExecEndpoint)
	assert.Equal(t, "clip-ViT-B-32", c.GetModel())
}

func TestCLIPClient_EmbedImage(t *testing.T) {
	var got clipRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	c := NewCLIPClient(CLIPConfig{BaseURL: srv.URL})

	png := []byte("\x89PNG\r\n\x1a\n0000")
	vec, err := c.EmbedImage(context.Background(), png)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)
	assert.True(t, strings.HasPrefix(got.Data[0].URI, "data:image/png;base64,"))

	_, err = c.EmbedImage(context.Background(), []byte("plain text, not an image"))
	assert.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestCLIPClient_ErrorsTripBreaker(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCLIPClient(CLIPConfig{BaseURL: srv.URL})
	for i := 0; i < 3; i++ {
		_, err := c.Embed(context.Background(), "x")
		require.Error(t, err)
	}

	_, err := c.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, calls)
}

func TestCLIPClient_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	_, err := NewCLIPClient(CLIPConfig{BaseURL: srv.URL}).Embed(context.Background(), "x")
	assert.Error(t, err)
}

func TestOpenAIClient_CompleteSendsSystemAndUser(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"Meow!"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	reply, err := c.Complete(context.Background(), "You are a cat.", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Meow!", reply)

	assert.Equal(t, "deepseek-chat", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "You are a cat.", got.Messages[0].Content)
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestOpenAIEmbeddingClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.5,0.25]}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{APIKey: "k", BaseURL: srv.URL})
	vec, err := c.Embed(context.Background(), "dog")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)
}

func TestOllamaClient_CompleteSendsSystem(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Woof!"},"done":true}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Timeout: 5 * time.Second})
	reply, err := c.Complete(context.Background(), "You are a dog.", "sit")
	require.NoError(t, err)
	assert.Equal(t, "Woof!", reply)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, ollamaMessage{Role: "system", Content: "You are a dog."}, got.Messages[0])
	assert.Equal(t, ollamaMessage{Role: "user", Content: "sit"}, got.Messages[1])
	assert.False(t, got.Stream)
}

func TestOllamaClient_EmbedAndHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/embed":
			_, _ = w.Write([]byte(`{"embeddings":[[0.5,0.5]]}`))
		case "/api/version":
			_, _ = w.Write([]byte(`{"version":"0.5.0"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewOllamaClient(OllamaConfig{BaseURL: srv.URL, Model: "nomic-embed-text"})
	vec, err := c.Embed(context.Background(), "tabby")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, vec)
	assert.NoError(t, c.HealthCheck(context.Background()))

	_, err = c.Embed(context.Background(), "  ")
	assert.Error(t, err)
}

func TestAnthropicClient_CompleteSendsSystem(t *testing.T) {
	var got anthropicMessagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Purr. "},{"type":"text","text":"Nap time."}]}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "key", BaseURL: srv.URL})
	reply, err := c.Complete(context.Background(), "You are a cat.", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Purr. Nap time.", reply)
	assert.Equal(t, "You are a cat.", got.System)
	assert.Equal(t, 512, got.MaxTokens)
}

func TestEndpoint_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewAnthropicClient(AnthropicConfig{BaseURL: srv.URL}).Complete(context.Background(), "", "hi")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "anthropic", statusErr.Provider)
	assert.Equal(t, http.StatusTooManyRequests, statusErr.Code)
	assert.Equal(t, "rate limited", statusErr.Body)
}

func TestCircuitBreaker_CallerCancellationDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreakerWithConfig("test", CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute, HalfOpenMaxSuccesses: 1})

	_, err := cb.Execute(context.Background(), func() (any, error) {
		return nil, context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "closed", cb.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = cb.Execute(ctx, func() (any, error) {
		t.Fatal("not called once ctx is done")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, uint64(1), cb.Metrics().TotalRequests)
}

func TestFactory(t *testing.T) {
	gen, err := NewTextGenerator(config.LLMConfig{LLMProvider: "ollama"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, gen)

	gen, err = NewTextGenerator(config.LLMConfig{})
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", gen.GetModel())

	_, err = NewTextGenerator(config.LLMConfig{LLMProvider: "bard"})
	assert.Error(t, err)

	text, img, err := NewEmbedders(config.EmbeddingConfig{Provider: "clip"}, "")
	require.NoError(t, err)
	assert.NotNil(t, text)
	assert.NotNil(t, img)

	text, img, err = NewEmbedders(config.EmbeddingConfig{Provider: "openai"}, "")
	require.NoError(t, err)
	assert.NotNil(t, text)
	assert.Nil(t, img)

	_, _, err = NewEmbedders(config.EmbeddingConfig{Provider: "word2vec"}, "")
	assert.Error(t, err)
}
