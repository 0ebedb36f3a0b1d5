// Package engine wires the ingestion pipeline, the similarity ranker and the
// conversation context assembler behind one Engine facade.
//
// Entity writes are synchronous and fast; embeddings are derived in the
// background by a worker pool fed from a bounded queue. Queries rank only
// records whose embedding is ready.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/petmind/internal/config"
	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

var (
	// ErrIngestion marks a failed embedding derivation. It is recorded on the
	// embedding record and never returned to the submitter.
	ErrIngestion = errors.New("ingestion failed")

	// ErrRetrieval wraps store failures hit while answering a query.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrCompletion marks a failed completion call. The assembler catches it
	// and answers with the fallback reply.
	ErrCompletion = errors.New("completion failed")

	// ErrSubjectNotFound is returned when a chat subject does not exist.
	ErrSubjectNotFound = errors.New("subject not found")

	// ErrInvalidQuery is returned for searches that carry nothing to rank by.
	// Rankers in every backend report it through the same value.
	ErrInvalidQuery = storage.ErrInvalidQuery

	// ErrEmptyInput is returned when a chat message is blank.
	ErrEmptyInput = errors.New("input is required")
)

// Config holds configuration for the engine.
type Config struct {
	// NumWorkers is the number of embedding worker goroutines (default: 4).
	NumWorkers int

	// QueueSize is the capacity of the in-process ingestion queue (default: 1000).
	QueueSize int

	// ShutdownTimeout is the maximum time to wait for workers to drain on shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// RecoveryBatchSize is the number of pending records recovered per page (default: 1000).
	RecoveryBatchSize int

	// QueryCacheSize is the number of text query vectors kept in memory (default: 256).
	QueryCacheSize int

	// Dimension is the expected vector size. Zero accepts whatever the
	// embedder returns.
	Dimension int

	// EmbedTimeout bounds each embed call made by a worker (default: 30s).
	EmbedTimeout time.Duration

	// MaxImageDim is the longest image side after downscaling (default: 512).
	MaxImageDim int

	// Chat configures the conversation context assembler.
	Chat AssemblerConfig
}

// AssemblerConfig configures conversation context assembly.
type AssemblerConfig struct {
	// MemoryWindow is the number of recent memories placed in a prompt (default: 2).
	MemoryWindow int

	// MaxPromptChars bounds the assembled prompt. Zero disables the bound.
	MaxPromptChars int

	// CompletionTimeout bounds each completion call (default: 60s).
	CompletionTimeout time.Duration

	// FallbackReply is returned when completion fails.
	FallbackReply string
}

// DefaultFallbackReply is the reply given when the completion service fails.
const DefaultFallbackReply = "Woof... I'm tired."

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		NumWorkers:        4,
		QueueSize:         1000,
		ShutdownTimeout:   30 * time.Second,
		RecoveryBatchSize: 1000,
		QueryCacheSize:    256,
		EmbedTimeout:      30 * time.Second,
		MaxImageDim:       512,
		Chat: AssemblerConfig{
			MemoryWindow:      2,
			MaxPromptChars:    4000,
			CompletionTimeout: 60 * time.Second,
			FallbackReply:     DefaultFallbackReply,
		},
	}
}

// ConfigFromGlobal maps the application config onto an engine Config.
func ConfigFromGlobal(cfg *config.Config) Config {
	c := DefaultConfig()
	c.NumWorkers = cfg.Engine.NumWorkers
	c.QueueSize = cfg.Engine.QueueSize
	c.ShutdownTimeout = cfg.Engine.ShutdownTimeout
	c.RecoveryBatchSize = cfg.Engine.RecoveryBatchSize
	c.QueryCacheSize = cfg.Engine.QueryCacheSize
	c.Dimension = cfg.Embedding.Dimension
	c.EmbedTimeout = cfg.Embedding.Timeout
	c.MaxImageDim = cfg.Media.MaxImageDim
	c.Chat = AssemblerConfig{
		MemoryWindow:      cfg.Chat.MemoryWindow,
		MaxPromptChars:    cfg.Chat.MaxPromptChars,
		CompletionTimeout: cfg.LLM.Timeout,
		FallbackReply:     cfg.Chat.FallbackReply,
	}
	return c
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.NumWorkers < 1 {
		return fmt.Errorf("NumWorkers must be >= 1, got %d", c.NumWorkers)
	}

	if c.QueueSize < 1 {
		return fmt.Errorf("QueueSize must be >= 1, got %d", c.QueueSize)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}

	if c.RecoveryBatchSize < 1 {
		return fmt.Errorf("RecoveryBatchSize must be >= 1, got %d", c.RecoveryBatchSize)
	}

	if c.Dimension < 0 {
		return fmt.Errorf("Dimension must be >= 0, got %d", c.Dimension)
	}

	if c.EmbedTimeout < 0 {
		return fmt.Errorf("EmbedTimeout must be >= 0, got %v", c.EmbedTimeout)
	}

	return c.Chat.Validate()
}

// Validate checks if the assembler config is valid.
func (c *AssemblerConfig) Validate() error {
	if c.MemoryWindow < 0 {
		return fmt.Errorf("MemoryWindow must be >= 0, got %d", c.MemoryWindow)
	}

	if c.MaxPromptChars < 0 {
		return fmt.Errorf("MaxPromptChars must be >= 0, got %d", c.MaxPromptChars)
	}

	if c.CompletionTimeout < 0 {
		return fmt.Errorf("CompletionTimeout must be >= 0, got %v", c.CompletionTimeout)
	}

	return nil
}

// GenerateEntityID generates a unique entity ID in the format kind:uuid.
func GenerateEntityID(kind types.EntityKind) string {
	k := strings.ReplaceAll(strings.TrimSpace(string(kind)), ":", "-")
	if k == "" {
		k = "entity"
	}
	return fmt.Sprintf("%s:%s", k, uuid.NewString())
}

// NewEntity is the caller-supplied part of an entity.
type NewEntity struct {
	Kind        types.EntityKind `json:"kind"`
	Name        string           `json:"name,omitempty"`
	Breed       string           `json:"breed,omitempty"`
	Description string           `json:"description,omitempty"`
	Content     string           `json:"content,omitempty"`
	MediaRef    string           `json:"media_ref,omitempty"`
	OwnerID     string           `json:"owner_id,omitempty"`
	SubjectID   string           `json:"subject_id,omitempty"`
	Persona     string           `json:"persona,omitempty"`
}

// Query is a similarity search. Exactly one of Text, MediaRef or Vector
// should be set; Vector wins, then MediaRef, then Text.
type Query struct {
	Text     string           `json:"text,omitempty"`
	MediaRef string           `json:"media_ref,omitempty"`
	Vector   []float32        `json:"vector,omitempty"`
	K        int              `json:"k,omitempty"`
	Kind     types.EntityKind `json:"kind,omitempty"`
}

// Stats is a point-in-time view of the ingestion pipeline.
type Stats struct {
	Workers   int   `json:"workers"`
	QueueLen  int   `json:"queue_len"`
	Dropped   int64 `json:"dropped"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`

	// Records counts embedding records by status.
	Records storage.StatusCounts `json:"records"`
}
