package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

// entityColumns is the projection shared by GetEntity and ListEntities.
// The embedding status comes from a LEFT JOIN so entities that were never
// submitted for ingestion still load.
const entityColumns = `
	n.id, n.kind, n.name, n.breed, n.description, n.content, n.media_ref,
	n.owner_id, n.subject_id, n.persona, n.created_at, n.updated_at,
	COALESCE(e.status, ''), COALESCE(e.last_error, '')
`

// CreateEntity inserts a new entity.
func (s *Store) CreateEntity(ctx context.Context, entity *types.Entity) error {
	if entity == nil {
		return storage.ErrInvalidInput
	}

	if entity.ID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	if !types.IsValidEntityKind(entity.Kind) {
		return fmt.Errorf("%w: unsupported entity kind %q", storage.ErrInvalidInput, entity.Kind)
	}

	now := time.Now().UTC()
	if entity.CreatedAt.IsZero() {
		entity.CreatedAt = now
	}
	entity.UpdatedAt = now

	query := `
		INSERT INTO entities (
			id, kind, name, breed, description, content, media_ref,
			owner_id, subject_id, persona, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		entity.ID, string(entity.Kind), entity.Name, entity.Breed, entity.Description,
		entity.Content, entity.MediaRef, entity.OwnerID, entity.SubjectID, entity.Persona,
		entity.CreatedAt, entity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}

	return nil
}

// GetEntity retrieves an entity by ID.
func (s *Store) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	query := `SELECT ` + entityColumns + `
		FROM entities n
		LEFT JOIN embeddings e ON e.entity_id = n.id
		WHERE n.id = ?
	`

	entity, err := scanEntity(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	return entity, nil
}

// ListEntities returns entities newest first, optionally filtered by kind
// and subject.
func (s *Store) ListEntities(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Entity], error) {
	opts.Normalize()

	where := "WHERE (? = '' OR n.kind = ?) AND (? = '' OR n.subject_id = ?)"
	args := []interface{}{string(opts.Kind), string(opts.Kind), opts.SubjectID, opts.SubjectID}

	var total int
	countQuery := `SELECT COUNT(*) FROM entities n ` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}

	query := `SELECT ` + entityColumns + `
		FROM entities n
		LEFT JOIN embeddings e ON e.entity_id = n.id
		` + where + `
		ORDER BY n.created_at DESC, n.rowid DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	items := make([]types.Entity, 0, opts.Limit)
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		items = append(items, *entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entities: %w", err)
	}

	return storage.NewPaginatedResult(items, total, opts), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*types.Entity, error) {
	var entity types.Entity
	var kind, status string

	err := row.Scan(
		&entity.ID, &kind, &entity.Name, &entity.Breed, &entity.Description,
		&entity.Content, &entity.MediaRef, &entity.OwnerID, &entity.SubjectID,
		&entity.Persona, &entity.CreatedAt, &entity.UpdatedAt,
		&status, &entity.EmbeddingError,
	)
	if err != nil {
		return nil, err
	}

	entity.Kind = types.EntityKind(kind)
	entity.EmbeddingStatus = types.EmbeddingStatus(status)
	return &entity, nil
}
