package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

// entityRow maps the joined entity projection.
type entityRow struct {
	ID             string    `db:"id"`
	Kind           string    `db:"kind"`
	Name           string    `db:"name"`
	Breed          string    `db:"breed"`
	Description    string    `db:"description"`
	Content        string    `db:"content"`
	MediaRef       string    `db:"media_ref"`
	OwnerID        string    `db:"owner_id"`
	SubjectID      string    `db:"subject_id"`
	Persona        string    `db:"persona"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
	Status         string    `db:"status"`
	EmbeddingError string    `db:"last_error"`
}

func (r entityRow) toEntity() types.Entity {
	return types.Entity{
		ID:              r.ID,
		Kind:            types.EntityKind(r.Kind),
		Name:            r.Name,
		Breed:           r.Breed,
		Description:     r.Description,
		Content:         r.Content,
		MediaRef:        r.MediaRef,
		OwnerID:         r.OwnerID,
		SubjectID:       r.SubjectID,
		Persona:         r.Persona,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		EmbeddingStatus: types.EmbeddingStatus(r.Status),
		EmbeddingError:  r.EmbeddingError,
	}
}

const entitySelect = `
	SELECT n.id, n.kind, n.name, n.breed, n.description, n.content, n.media_ref,
		n.owner_id, n.subject_id, n.persona, n.created_at, n.updated_at,
		COALESCE(e.status, '') AS status, COALESCE(e.last_error, '') AS last_error
	FROM entities n
	LEFT JOIN embeddings e ON e.entity_id = n.id
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := s.db.ExecContext(ctx, query,
		entity.ID, string(entity.Kind), entity.Name, entity.Breed, entity.Description,
		entity.Content, entity.MediaRef, entity.OwnerID, entity.SubjectID, entity.Persona,
		entity.CreatedAt, entity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to create entity: %w", err)
	}

	return nil
}

// GetEntity retrieves an entity by ID.
func (s *Store) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	var row entityRow
	if err := s.db.GetContext(ctx, &row, entitySelect+` WHERE n.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get entity: %w", err)
	}

	entity := row.toEntity()
	return &entity, nil
}

// ListEntities returns entities newest first.
func (s *Store) ListEntities(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Entity], error) {
	opts.Normalize()

	where := ` WHERE ($1 = '' OR n.kind = $1) AND ($2 = '' OR n.subject_id = $2)`

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM entities n`+where,
		string(opts.Kind), opts.SubjectID); err != nil {
		return nil, fmt.Errorf("postgres: failed to count entities: %w", err)
	}

	var rows []entityRow
	query := entitySelect + where + ` ORDER BY n.created_at DESC, n.seq DESC LIMIT $3 OFFSET $4`
	if err := s.db.SelectContext(ctx, &rows, query,
		string(opts.Kind), opts.SubjectID, opts.Limit, opts.Offset()); err != nil {
		return nil, fmt.Errorf("postgres: failed to list entities: %w", err)
	}

	items := make([]types.Entity, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toEntity())
	}

	return storage.NewPaginatedResult(items, total, opts), nil
}
