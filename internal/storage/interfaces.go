// Package storage provides composable storage interfaces for petmind.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. SQLite and PostgreSQL
// backends implement all of them.
package storage

import (
	"context"

	"github.com/scrypster/petmind/pkg/types"
)

// EntityStore persists entities synchronously on write.
type EntityStore interface {
	// CreateEntity inserts a new entity. The entity ID must be set.
	CreateEntity(ctx context.Context, entity *types.Entity) error

	// GetEntity retrieves an entity by ID, including its embedding status.
	// Returns ErrNotFound if the entity doesn't exist.
	GetEntity(ctx context.Context, id string) (*types.Entity, error)

	// ListEntities returns entities newest first.
	ListEntities(ctx context.Context, opts ListOptions) (*PaginatedResult[types.Entity], error)
}

// VectorStore holds one embedding record per entity.
//
// Writes to a record are whole-row: a reader never observes a partially
// written vector. Concurrent upserts for the same entity resolve to whichever
// write the store applies last.
type VectorStore interface {
	// MarkPending creates the record in pending state if it is absent.
	// A ready record keeps its vector and status.
	MarkPending(ctx context.Context, entityID string) error

	// Upsert stores a complete vector and marks the record ready.
	Upsert(ctx context.Context, entityID string, vector []float32, model string) error

	// MarkFailed records an ingestion failure. A record that is already ready
	// keeps its vector and status; only LastError changes.
	MarkFailed(ctx context.Context, entityID string, reason string) error

	// GetEmbedding returns the embedding record for an entity.
	// Returns ErrNotFound if the entity has never been submitted for ingestion.
	GetEmbedding(ctx context.Context, entityID string) (*types.EmbeddingRecord, error)

	// AllReady calls fn for every ready record matching filter, in ascending
	// entity id order. fn must not call back into the store.
	AllReady(ctx context.Context, filter ReadyFilter, fn func(entityID string, vector []float32) error) error

	// ListByStatus pages through embedding records with opts.Status.
	ListByStatus(ctx context.Context, opts ListOptions) (*PaginatedResult[types.EmbeddingRecord], error)

	// CountByStatus returns the number of records per status.
	CountByStatus(ctx context.Context) (StatusCounts, error)
}

// MemoryLedger is the append-only store of facts about a subject.
type MemoryLedger interface {
	// AppendMemory stores a new memory entry for a subject.
	AppendMemory(ctx context.Context, entry *types.MemoryEntry) error

	// RecentMemories returns at most limit entries for the subject, newest first.
	RecentMemories(ctx context.Context, subjectID string, limit int) ([]types.MemoryEntry, error)
}

// InteractionLog is the append-only log of completed chat turns.
type InteractionLog interface {
	// AppendInteraction stores one completed turn.
	AppendInteraction(ctx context.Context, interaction *types.Interaction) error

	// ListInteractions returns turns for a subject, newest first.
	ListInteractions(ctx context.Context, subjectID string, limit int) ([]types.Interaction, error)
}

// Store is the full persistence surface used by the engine.
type Store interface {
	EntityStore
	VectorStore
	MemoryLedger
	InteractionLog

	// Close releases the underlying database connection.
	Close() error
}
