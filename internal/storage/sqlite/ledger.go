package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

// AppendMemory stores a memory entry. Entries are ordered by an
// autoincrement sequence so entries written within the same clock tick keep
// their append order.
func (s *Store) AppendMemory(ctx context.Context, entry *types.MemoryEntry) error {
	if entry == nil || entry.ID == "" || entry.SubjectID == "" {
		return fmt.Errorf("%w: memory entry requires id and subject", storage.ErrInvalidInput)
	}

	if entry.Text == "" {
		return fmt.Errorf("%w: memory text is required", storage.ErrInvalidInput)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, subject_id, text, created_at) VALUES (?, ?, ?, ?)`,
		entry.ID, entry.SubjectID, entry.Text, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append memory: %w", err)
	}

	return nil
}

// RecentMemories returns at most limit entries for a subject, newest first.
func (s *Store) RecentMemories(ctx context.Context, subjectID string, limit int) ([]types.MemoryEntry, error) {
	if limit <= 0 {
		return []types.MemoryEntry{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, text, created_at
		FROM memories
		WHERE subject_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	entries := make([]types.MemoryEntry, 0, limit)
	for rows.Next() {
		var m types.MemoryEntry
		if err := rows.Scan(&m.ID, &m.SubjectID, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		entries = append(entries, m)
	}

	return entries, rows.Err()
}

// AppendInteraction stores one completed chat turn.
func (s *Store) AppendInteraction(ctx context.Context, interaction *types.Interaction) error {
	if interaction == nil || interaction.ID == "" || interaction.SubjectID == "" {
		return fmt.Errorf("%w: interaction requires id and subject", storage.ErrInvalidInput)
	}

	if interaction.CreatedAt.IsZero() {
		interaction.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions (id, actor_id, subject_id, input, output, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, interaction.ID, interaction.ActorID, interaction.SubjectID,
		interaction.Input, interaction.Output, interaction.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append interaction: %w", err)
	}

	return nil
}

// ListInteractions returns the latest turns for a subject, newest first.
func (s *Store) ListInteractions(ctx context.Context, subjectID string, limit int) ([]types.Interaction, error) {
	if limit <= 0 {
		return []types.Interaction{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, subject_id, input, output, created_at
		FROM interactions
		WHERE subject_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	out := make([]types.Interaction, 0, limit)
	for rows.Next() {
		var it types.Interaction
		if err := rows.Scan(&it.ID, &it.ActorID, &it.SubjectID, &it.Input, &it.Output, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan interaction: %w", err)
		}
		out = append(out, it)
	}

	return out, rows.Err()
}
