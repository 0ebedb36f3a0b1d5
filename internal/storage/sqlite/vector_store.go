package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

// MarkPending creates the embedding record in pending state. Existing ready
// records keep serving their current vector until a new one lands.
func (s *Store) MarkPending(ctx context.Context, entityID string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO embeddings (entity_id, status, created_at, updated_at)
		VALUES (?, 'pending', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(entity_id) DO UPDATE SET
			status = CASE WHEN embeddings.status = 'ready' THEN 'ready' ELSE 'pending' END,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, query, entityID); err != nil {
		return fmt.Errorf("failed to mark embedding pending: %w", err)
	}

	return nil
}

// Upsert stores a complete vector for an entity and marks it ready.
// The vector is serialized as a single BLOB and written in one statement, so
// readers see either the previous vector or the new one.
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

	query := `
		INSERT INTO embeddings (entity_id, status, vector, dimension, model, last_error, created_at, updated_at)
		VALUES (?, 'ready', ?, ?, ?, '', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(entity_id) DO UPDATE SET
			status = 'ready',
			vector = excluded.vector,
			dimension = excluded.dimension,
			model = excluded.model,
			last_error = '',
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := s.db.ExecContext(ctx, query, entityID, serializeVector(vector), len(vector), model)
	if err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	return nil
}

// MarkFailed records an ingestion failure for an entity.
func (s *Store) MarkFailed(ctx context.Context, entityID string, reason string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	query := `
		INSERT INTO embeddings (entity_id, status, last_error, created_at, updated_at)
		VALUES (?, 'failed', ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(entity_id) DO UPDATE SET
			status = CASE WHEN embeddings.status = 'ready' THEN 'ready' ELSE 'failed' END,
			last_error = excluded.last_error,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, query, entityID, reason); err != nil {
		return fmt.Errorf("failed to mark embedding failed: %w", err)
	}

	return nil
}

// GetEmbedding retrieves the embedding record for an entity.
func (s *Store) GetEmbedding(ctx context.Context, entityID string) (*types.EmbeddingRecord, error) {
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}

	query := `
		SELECT entity_id, status, vector, dimension, model, last_error, updated_at
		FROM embeddings
		WHERE entity_id = ?
	`

	record, err := scanRecord(s.db.QueryRowContext(ctx, query, entityID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}

	return record, nil
}

// AllReady streams every ready vector in ascending entity id order.
func (s *Store) AllReady(ctx context.Context, filter storage.ReadyFilter, fn func(entityID string, vector []float32) error) error {
	query := `
		SELECT e.entity_id, e.vector, e.dimension
		FROM embeddings e
		JOIN entities n ON n.id = e.entity_id
		WHERE e.status = 'ready' AND (? = '' OR n.kind = ?)
		ORDER BY e.entity_id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, string(filter.Kind), string(filter.Kind))
	if err != nil {
		return fmt.Errorf("failed to scan ready embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entityID string
		var buf []byte
		var dimension int

		if err := rows.Scan(&entityID, &buf, &dimension); err != nil {
			return fmt.Errorf("failed to scan embedding row: %w", err)
		}

		vector, err := deserializeVector(buf, dimension)
		if err != nil {
			return fmt.Errorf("failed to deserialize embedding for %s: %w", entityID, err)
		}

		if err := fn(entityID, vector); err != nil {
			return err
		}
	}

	return rows.Err()
}

// ListByStatus pages through embedding records with the given status,
// oldest first so recovery processes records in submission order.
func (s *Store) ListByStatus(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.EmbeddingRecord], error) {
	opts.Normalize()

	var total int
	countQuery := `SELECT COUNT(*) FROM embeddings WHERE (? = '' OR status = ?)`
	if err := s.db.QueryRowContext(ctx, countQuery, string(opts.Status), string(opts.Status)).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}

	query := `
		SELECT entity_id, status, vector, dimension, model, last_error, updated_at
		FROM embeddings
		WHERE (? = '' OR status = ?)
		ORDER BY created_at ASC, entity_id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, string(opts.Status), string(opts.Status), opts.Limit, opts.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer rows.Close()

	items := make([]types.EmbeddingRecord, 0, opts.Limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan embedding: %w", err)
		}
		items = append(items, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate embeddings: %w", err)
	}

	return storage.NewPaginatedResult(items, total, opts), nil
}

// CountByStatus returns the number of embedding records per status.
func (s *Store) CountByStatus(ctx context.Context) (storage.StatusCounts, error) {
	var counts storage.StatusCounts

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM embeddings GROUP BY status`)
	if err != nil {
		return counts, fmt.Errorf("failed to count embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("failed to scan status count: %w", err)
		}
		switch types.EmbeddingStatus(status) {
		case types.EmbeddingPending:
			counts.Pending = n
		case types.EmbeddingReady:
			counts.Ready = n
		case types.EmbeddingFailed:
			counts.Failed = n
		}
	}

	return counts, rows.Err()
}

func scanRecord(row rowScanner) (*types.EmbeddingRecord, error) {
	var record types.EmbeddingRecord
	var status string
	var buf []byte

	err := row.Scan(&record.EntityID, &status, &buf, &record.Dimension,
		&record.Model, &record.LastError, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	record.Status = types.EmbeddingStatus(status)
	if len(buf) > 0 {
		record.Vector, err = deserializeVector(buf, record.Dimension)
		if err != nil {
			return nil, err
		}
	}

	return &record, nil
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
// dimension is used to validate the buffer size.
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
