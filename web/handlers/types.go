package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/scrypster/petmind/internal/config"
	"github.com/scrypster/petmind/internal/engine"
	"github.com/scrypster/petmind/internal/media"
	"github.com/scrypster/petmind/internal/queue"
	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

// Engine is the part of the petmind engine the HTTP layer calls.
type Engine interface {
	SubmitEntity(ctx context.Context, in engine.NewEntity) (*types.Entity, error)
	GetEntity(ctx context.Context, id string) (*types.Entity, error)
	ListEntities(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Entity], error)
	Reingest(ctx context.Context, entityID, mediaRef string) error
	Search(ctx context.Context, q engine.Query) ([]types.SearchResult, error)
	EmbedMedia(ctx context.Context, data []byte, isImage bool) ([]float32, error)
	ConverseTurn(ctx context.Context, req engine.ChatRequest) (*engine.Turn, error)
	Recent(ctx context.Context, subjectID string, limit int) ([]types.MemoryEntry, error)
	Stats(ctx context.Context) (engine.Stats, error)
}

var _ Engine = (*engine.Engine)(nil)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// EntityListResponse is the response format for GET /api/pets and GET /api/feed.
type EntityListResponse struct {
	Items   []types.Entity `json:"items"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	HasMore bool           `json:"has_more"`
}

// SearchResponse is the response format for /api/search.
type SearchResponse struct {
	Results []types.SearchResult `json:"results"`
	Total   int                  `json:"total"`
	Query   string               `json:"query,omitempty"`
}

// ChatResponse is the response format for POST /api/chat.
type ChatResponse struct {
	TurnID   string          `json:"turn_id"`
	Reply    string          `json:"reply"`
	State    types.TurnState `json:"state"`
	Fallback bool            `json:"fallback"`
	Retained bool            `json:"retained"`
	Memories int             `json:"memories_used"`
}

// MemoriesResponse is the response format for GET /api/subjects/{id}/memories.
type MemoriesResponse struct {
	SubjectID string              `json:"subject_id"`
	Memories  []types.MemoryEntry `json:"memories"`
}

// ConfigResponse is the response format for GET /api/config.
// API keys are masked for security.
type ConfigResponse struct {
	LLMProvider       string `json:"llm_provider"`
	OpenAIBaseURL     string `json:"openai_base_url,omitempty"`
	OpenAIModel       string `json:"openai_model,omitempty"`
	OpenAIAPIKey      string `json:"openai_api_key,omitempty"`
	AnthropicAPIKey   string `json:"anthropic_api_key,omitempty"`
	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model,omitempty"`
	StorageEngine     string `json:"storage_engine"`
	QueueBackend      string `json:"queue_backend"`
	MediaBackend      string `json:"media_backend"`
	MemoryWindow      int    `json:"memory_window"`
	SearchLimit       int    `json:"search_limit"`
}

// MaskAPIKey masks an API key for safe display.
// Shows first 7 chars and last 4 chars, hides the middle.
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) < 8 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// ToConfigResponse converts a config.Config to ConfigResponse with masked keys.
func ToConfigResponse(cfg *config.Config) ConfigResponse {
	return ConfigResponse{
		LLMProvider:       cfg.LLM.LLMProvider,
		OpenAIBaseURL:     cfg.LLM.OpenAIBaseURL,
		OpenAIModel:       cfg.LLM.OpenAIModel,
		OpenAIAPIKey:      MaskAPIKey(cfg.LLM.OpenAIAPIKey),
		AnthropicAPIKey:   MaskAPIKey(cfg.LLM.AnthropicAPIKey),
		EmbeddingProvider: cfg.Embedding.Provider,
		EmbeddingModel:    cfg.Embedding.Model,
		StorageEngine:     cfg.Storage.StorageEngine,
		QueueBackend:      cfg.Queue.Backend,
		MediaBackend:      cfg.Media.Backend,
		MemoryWindow:      cfg.Chat.MemoryWindow,
		SearchLimit:       cfg.Engine.SearchLimit,
	}
}

// extractID extracts a path parameter from a Go 1.22+ pattern route.
func extractID(r *http.Request, key string) string {
	return r.PathValue(key)
}

// parseInt parses an integer from a string, returning defaultValue if parsing fails.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent; just log.
		log.Printf("failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}

// statusForError maps engine and storage errors to HTTP status codes.
func statusForError(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, engine.ErrSubjectNotFound),
		errors.Is(err, media.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidInput), errors.Is(err, engine.ErrInvalidQuery),
		errors.Is(err, engine.ErrEmptyInput), errors.Is(err, media.ErrInvalidRef):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, queue.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
