package postgres

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

// recordRow maps one embeddings row.
type recordRow struct {
	EntityID  string    `db:"entity_id"`
	Status    string    `db:"status"`
	Vector    []byte    `db:"vector"`
	Dimension int       `db:"dimension"`
	Model     string    `db:"model"`
	LastError string    `db:"last_error"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r recordRow) toRecord() (types.EmbeddingRecord, error) {
	rec := types.EmbeddingRecord{
		EntityID:  r.EntityID,
		Status:    types.EmbeddingStatus(r.Status),
		Dimension: r.Dimension,
		Model:     r.Model,
		LastError: r.LastError,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Vector) > 0 {
		v, err := deserializeVector(r.Vector, r.Dimension)
		if err != nil {
			return rec, err
		}
		rec.Vector = v
	}
	return rec, nil
}

const recordSelect = `SELECT entity_id, status, vector, dimension, model, last_error, updated_at FROM embeddings`

// MarkPending creates the embedding record in pending state. Ready records
// keep serving their current vector.
func (s *Store) MarkPending(ctx context.Context, entityID string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO embeddings (entity_id, status, created_at, updated_at)
		VALUES ($1, 'pending', NOW(), NOW())
		ON CONFLICT (entity_id) DO UPDATE SET
			status = CASE WHEN embeddings.status = 'ready' THEN 'ready' ELSE 'pending' END,
			updated_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, entityID); err != nil {
		return fmt.Errorf("postgres: failed to mark embedding pending: %w", err)
	}

	return nil
}

// Upsert stores a complete vector and marks the record ready. When pgvector
// is available the vector is also written to the vector column in the same
// statement.
func (s *Store) Upsert(ctx context.Context, entityID string, vector []float32, model string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	if len(vector) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", storage.ErrInvalidInput)
	}

	if !types.IsFiniteVector(vector) {
		return fmt.Errorf("%w: embedding vector has non-finite components", storage.ErrInvalidInput)
	}

	buf := serializeVector(vector)

	if s.pgvectorAvailable {
		query := `
			INSERT INTO embeddings (entity_id, status, vector, vector_vec, dimension, model, last_error, created_at, updated_at)
			VALUES ($1, 'ready', $2, $3, $4, $5, '', NOW(), NOW())
			ON CONFLICT (entity_id) DO UPDATE SET
				status = 'ready',
				vector = excluded.vector,
				vector_vec = excluded.vector_vec,
				dimension = excluded.dimension,
				model = excluded.model,
				last_error = '',
				updated_at = NOW()
		`
		_, err := s.db.ExecContext(ctx, query, entityID, buf, pgvector.NewVector(vector), len(vector), model)
		if err == nil {
			return nil
		}
		log.Printf("postgres: failed to store vector_vec for %s, pgvector ranking will skip it until the next upsert: %v", entityID, err)
	}

	// A vector_vec left from an earlier upsert would keep ranking the old
	// vector, so the fallback clears it.
	clearVec := ""
	if s.pgvectorAvailable {
		clearVec = "vector_vec = NULL,"
	}
	query := `
		INSERT INTO embeddings (entity_id, status, vector, dimension, model, last_error, created_at, updated_at)
		VALUES ($1, 'ready', $2, $3, $4, '', NOW(), NOW())
		ON CONFLICT (entity_id) DO UPDATE SET
			status = 'ready',
			vector = excluded.vector,
			` + clearVec + `
			dimension = excluded.dimension,
			model = excluded.model,
			last_error = '',
			updated_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, entityID, buf, len(vector), model); err != nil {
		return fmt.Errorf("postgres: failed to store embedding: %w", err)
	}

	return nil
}

// MarkFailed records an ingestion failure.
func (s *Store) MarkFailed(ctx context.Context, entityID string, reason string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO embeddings (entity_id, status, last_error, created_at, updated_at)
		VALUES ($1, 'failed', $2, NOW(), NOW())
		ON CONFLICT (entity_id) DO UPDATE SET
			status = CASE WHEN embeddings.status = 'ready' THEN 'ready' ELSE 'failed' END,
			last_error = excluded.last_error,
			updated_at = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, entityID, reason); err != nil {
		return fmt.Errorf("postgres: failed to mark embedding failed: %w", err)
	}

	return nil
}

// GetEmbedding retrieves the embedding record for an entity.
func (s *Store) GetEmbedding(ctx context.Context, entityID string) (*types.EmbeddingRecord, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	var row recordRow
	if err := s.db.GetContext(ctx, &row, recordSelect+` WHERE entity_id = $1`, entityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get embedding: %w", err)
	}

	rec, err := row.toRecord()
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to deserialize embedding: %w", err)
	}

	return &rec, nil
}

// AllReady streams every ready vector in ascending entity id order.
func (s *Store) AllReady(ctx context.Context, filter storage.ReadyFilter, fn func(entityID string, vector []float32) error) error {
	query := `
		SELECT e.entity_id, e.vector, e.dimension
		FROM embeddings e
		JOIN entities n ON n.id = e.entity_id
		WHERE e.status = 'ready' AND ($1 = '' OR n.kind = $1)
		ORDER BY e.entity_id ASC
	`

	rows, err := s.db.QueryxContext(ctx, query, string(filter.Kind))
	if err != nil {
		return fmt.Errorf("postgres: failed to scan ready embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entityID string
		var buf []byte
		var dimension int

		if err := rows.Scan(&entityID, &buf, &dimension); err != nil {
			return fmt.Errorf("postgres: failed to scan embedding row: %w", err)
		}

		vector, err := deserializeVector(buf, dimension)
		if err != nil {
			return fmt.Errorf("postgres: failed to deserialize embedding for %s: %w", entityID, err)
		}

		if err := fn(entityID, vector); err != nil {
			return err
		}
	}

	return rows.Err()
}

// ListByStatus pages through embedding records, oldest first.
func (s *Store) ListByStatus(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.EmbeddingRecord], error) {
	opts.Normalize()

	where := ` WHERE ($1 = '' OR status = $1)`

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM embeddings`+where, string(opts.Status)); err != nil {
		return nil, fmt.Errorf("postgres: failed to count embeddings: %w", err)
	}

	var rows []recordRow
	query := recordSelect + where + ` ORDER BY created_at ASC, entity_id ASC LIMIT $2 OFFSET $3`
	if err := s.db.SelectContext(ctx, &rows, query, string(opts.Status), opts.Limit, opts.Offset()); err != nil {
		return nil, fmt.Errorf("postgres: failed to list embeddings: %w", err)
	}

	items := make([]types.EmbeddingRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to deserialize embedding for %s: %w", r.EntityID, err)
		}
		items = append(items, rec)
	}

	return storage.NewPaginatedResult(items, total, opts), nil
}

// CountByStatus returns the number of embedding records per status.
func (s *Store) CountByStatus(ctx context.Context) (storage.StatusCounts, error) {
	var counts storage.StatusCounts

	var rows []struct {
		Status string `db:"status"`
		N      int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT status, COUNT(*) AS n FROM embeddings GROUP BY status`); err != nil {
		return counts, fmt.Errorf("postgres: failed to count embeddings: %w", err)
	}

	for _, r := range rows {
		switch types.EmbeddingStatus(r.Status) {
		case types.EmbeddingPending:
			counts.Pending = r.N
		case types.EmbeddingReady:
			counts.Ready = r.N
		case types.EmbeddingFailed:
			counts.Failed = r.N
		}
	}

	return counts, nil
}

// serializeVector converts a float32 slice to little-endian IEEE 754 bytes.
func serializeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// deserializeVector converts little-endian bytes back to a float32 slice.
func deserializeVector(buf []byte, dimension int) ([]float32, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid dimension: %d", dimension)
	}

	if len(buf) != dimension*4 {
		return nil, fmt.Errorf("buffer size mismatch: expected %d bytes, got %d", dimension*4, len(buf))
	}

	vector := make([]float32, dimension)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}

	return vector, nil
}
