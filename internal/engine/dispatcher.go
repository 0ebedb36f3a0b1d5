package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/petmind/internal/queue"
	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

// Enqueue schedules ingestion for an entity without blocking.
// An empty mediaRef means the entity's stored media or text is used.
// Returns false if the job was dropped because the queue is full or the
// engine is not running.
func (e *Engine) Enqueue(entityID, mediaRef string) bool {
	return e.enqueueJob(queue.NewJob(entityID, mediaRef, "")) == nil
}

// enqueueJob hands a job to the queue. It never blocks on a full queue.
func (e *Engine) enqueueJob(job *queue.Job) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.started || e.shuttingDown {
		return errNotStarted
	}

	if err := e.queue.Enqueue(job); err != nil {
		if errors.Is(err, queue.ErrQueueFull) {
			e.dropped.Add(1)
			log.Printf("WARNING: ingestion queue full, dropping job for %s", job.EntityID)
		}
		return err
	}
	return nil
}

// SubmitEntity stores a new entity and schedules its embedding.
//
// The entity is durable when SubmitEntity returns. Its embedding record
// starts pending; a full queue marks it failed instead, which is reported
// on the returned entity rather than as an error.
func (e *Engine) SubmitEntity(ctx context.Context, in NewEntity) (*types.Entity, error) {
	if !e.running() {
		return nil, errNotStarted
	}

	entity, err := e.buildEntity(ctx, in)
	if err != nil {
		return nil, err
	}

	if err := e.store.CreateEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to store entity: %w", err)
	}
	if err := e.store.MarkPending(ctx, entity.ID); err != nil {
		return nil, fmt.Errorf("failed to create embedding record: %w", err)
	}
	entity.EmbeddingStatus = types.EmbeddingPending

	e.fireEntityCreated(entity.ID)

	job := queue.NewJob(entity.ID, entity.MediaRef, entity.EmbeddingText())
	if err := e.enqueueJob(job); err != nil {
		reason := err.Error()
		if mErr := e.store.MarkFailed(ctx, entity.ID, reason); mErr != nil {
			log.Printf("ERROR: Failed to mark %s as failed: %v", entity.ID, mErr)
		}
		entity.EmbeddingStatus = types.EmbeddingFailed
		entity.EmbeddingError = reason
		e.fireEmbeddingFailed(entity.ID, reason)
	}

	return entity, nil
}

// buildEntity validates caller input and fills in derived fields.
func (e *Engine) buildEntity(ctx context.Context, in NewEntity) (*types.Entity, error) {
	if !types.IsValidEntityKind(in.Kind) {
		return nil, fmt.Errorf("%w: unknown entity kind %q", storage.ErrInvalidInput, in.Kind)
	}

	name := strings.TrimSpace(in.Name)
	switch in.Kind {
	case types.KindPet:
		if name == "" {
			return nil, fmt.Errorf("%w: a pet needs a name", storage.ErrInvalidInput)
		}
	case types.KindPost:
		if strings.TrimSpace(in.Content) == "" && in.MediaRef == "" {
			return nil, fmt.Errorf("%w: a post needs content or media", storage.ErrInvalidInput)
		}
		if in.SubjectID != "" {
			if _, err := e.store.GetEntity(ctx, in.SubjectID); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return nil, fmt.Errorf("%w: %s", ErrSubjectNotFound, in.SubjectID)
				}
				return nil, fmt.Errorf("failed to load subject %s: %w", in.SubjectID, err)
			}
		}
	}

	persona := strings.TrimSpace(in.Persona)
	if persona == "" && in.Kind == types.KindPet {
		persona = types.PetPersona(name, strings.TrimSpace(in.Breed), in.Description)
	}

	now := time.Now()
	return &types.Entity{
		ID:          GenerateEntityID(in.Kind),
		Kind:        in.Kind,
		Name:        name,
		Breed:       strings.TrimSpace(in.Breed),
		Description: in.Description,
		Content:     in.Content,
		MediaRef:    in.MediaRef,
		OwnerID:     in.OwnerID,
		SubjectID:   in.SubjectID,
		Persona:     persona,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Reingest schedules a fresh embedding for an existing entity. An empty
// mediaRef uses the stored one; the stored reference is never rewritten.
// A ready record stays ready and rankable until the new vector lands.
func (e *Engine) Reingest(ctx context.Context, entityID, mediaRef string) error {
	if !e.running() {
		return errNotStarted
	}

	entity, err := e.store.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}

	if mediaRef == "" {
		mediaRef = entity.MediaRef
	}

	if err := e.store.MarkPending(ctx, entityID); err != nil {
		return fmt.Errorf("failed to mark %s pending: %w", entityID, err)
	}

	job := queue.NewJob(entityID, mediaRef, entity.EmbeddingText())
	if err := e.enqueueJob(job); err != nil {
		if mErr := e.store.MarkFailed(ctx, entityID, err.Error()); mErr != nil {
			log.Printf("ERROR: Failed to mark %s as failed: %v", entityID, mErr)
		}
		return err
	}
	return nil
}
