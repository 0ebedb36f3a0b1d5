package sqlite

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

func TestRecentMemories_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.AppendMemory(ctx, &types.MemoryEntry{
			ID:        fmt.Sprintf("m%d", i),
			SubjectID: "pet:7",
			Text:      fmt.Sprintf("User said: fact %d", i),
		}))
	}
	require.NoError(t, s.AppendMemory(ctx, &types.MemoryEntry{ID: "other", SubjectID: "pet:8", Text: "x"}))

	got, err := s.RecentMemories(ctx, "pet:7", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m3", got[0].ID)
	assert.Equal(t, "m2", got[1].ID)

	// Stable across repeated reads with no writes in between.
	again, err := s.RecentMemories(ctx, "pet:7", 2)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestRecentMemories_EdgeCases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.RecentMemories(ctx, "pet:none", 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.AppendMemory(ctx, &types.MemoryEntry{ID: "m1", SubjectID: "pet:1", Text: "a"}))
	got, err = s.RecentMemories(ctx, "pet:1", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAppendMemory_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.AppendMemory(ctx, nil), storage.ErrInvalidInput)
	assert.ErrorIs(t, s.AppendMemory(ctx, &types.MemoryEntry{ID: "m", SubjectID: "pet:1"}), storage.ErrInvalidInput)
	assert.ErrorIs(t, s.AppendMemory(ctx, &types.MemoryEntry{ID: "m", Text: "x"}), storage.ErrInvalidInput)
}

func TestInteractions_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendInteraction(ctx, &types.Interaction{
		ID: "i1", ActorID: "alice", SubjectID: "pet:7", Input: "hello", Output: "woof",
	}))
	require.NoError(t, s.AppendInteraction(ctx, &types.Interaction{
		ID: "i2", ActorID: "alice", SubjectID: "pet:7", Input: "sit", Output: "*sits*",
	}))

	got, err := s.ListInteractions(ctx, "pet:7", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "i2", got[0].ID)
	assert.Equal(t, "woof", got[1].Output)
	assert.Equal(t, "alice", got[1].ActorID)
}
