package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

type memoryRow struct {
	ID        string    `db:"id"`
	SubjectID string    `db:"subject_id"`
	Text      string    `db:"text"`
	CreatedAt time.Time `db:"created_at"`
}

type interactionRow struct {
	ID        string    `db:"id"`
	ActorID   string    `db:"actor_id"`
	SubjectID string    `db:"subject_id"`
	Input     string    `db:"input"`
	Output    string    `db:"output"`
	CreatedAt time.Time `db:"created_at"`
}

// AppendMemory stores a memory entry.
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
		`INSERT INTO memories (id, subject_id, text, created_at) VALUES ($1, $2, $3, $4)`,
		entry.ID, entry.SubjectID, entry.Text, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to append memory: %w", err)
	}

	return nil
}

// RecentMemories returns at most limit entries for a subject, newest first.
func (s *Store) RecentMemories(ctx context.Context, subjectID string, limit int) ([]types.MemoryEntry, error) {
	if limit <= 0 {
		return []types.MemoryEntry{}, nil
	}

	var rows []memoryRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, subject_id, text, created_at
		FROM memories
		WHERE subject_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query memories: %w", err)
	}

	entries := make([]types.MemoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, types.MemoryEntry(r))
	}

	return entries, nil
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
		VALUES ($1, $2, $3, $4, $5, $6)
	`, interaction.ID, interaction.ActorID, interaction.SubjectID,
		interaction.Input, interaction.Output, interaction.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to append interaction: %w", err)
	}

	return nil
}

// ListInteractions returns turns for a subject, newest first.
func (s *Store) ListInteractions(ctx context.Context, subjectID string, limit int) ([]types.Interaction, error) {
	if limit <= 0 {
		return []types.Interaction{}, nil
	}

	var rows []interactionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, actor_id, subject_id, input, output, created_at
		FROM interactions
		WHERE subject_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query interactions: %w", err)
	}

	out := make([]types.Interaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.Interaction(r))
	}

	return out, nil
}
