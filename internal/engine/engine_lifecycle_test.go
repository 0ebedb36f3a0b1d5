package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/scrypster/petmind/pkg/types"
)

// TestEngine_DoubleStart verifies that calling Start() twice returns an error.
// The second call should fail gracefully without panicking or corrupting state.
func TestEngine_DoubleStart(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, te.Start(ctx))

	err := te.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, "engine already started", err.Error())

	// Still usable after the rejected Start.
	entity, err := te.SubmitEntity(ctx, NewEntity{Kind: types.KindPet, Name: "Mochi"})
	require.NoError(t, err)
	require.NotNil(t, entity)

	require.NoError(t, te.Shutdown(ctx))
}

// TestEngine_SubmitBeforeStart verifies that SubmitEntity() before Start()
// returns an error without storing anything.
func TestEngine_SubmitBeforeStart(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	entity, err := te.SubmitEntity(ctx, NewEntity{Kind: types.KindPet, Name: "Mochi"})
	require.Error(t, err)
	assert.Equal(t, "engine not started", err.Error())
	assert.Nil(t, entity)

	assert.False(t, te.Enqueue("pet:1", ""), "Enqueue before Start must drop the job")
}

func TestEngine_ShutdownBeforeStart(t *testing.T) {
	te := newTestEngine(t, nil)

	err := te.Shutdown(context.Background())
	require.Error(t, err)
	assert.Equal(t, "engine not started", err.Error())
}

func TestEngine_StartAfterShutdown(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	require.NoError(t, te.Start(ctx))
	require.NoError(t, te.Shutdown(ctx))

	assert.Error(t, te.Start(ctx), "a shut down engine cannot be restarted")
	assert.Error(t, te.Shutdown(ctx))
}

// TestEngine_ShutdownDrainsQueue verifies that Shutdown() lets workers finish
// every buffered job and leaves no goroutines behind.
func TestEngine_ShutdownDrainsQueue(t *testing.T) {
	te := newTestEngine(t, func(d *Deps, c *Config) {
		c.NumWorkers = 1
	})
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	require.NoError(t, te.Start(ctx))

	var ids []string
	for i := 0; i < 20; i++ {
		entity, err := te.SubmitEntity(ctx, NewEntity{Kind: types.KindPet, Name: fmt.Sprintf("pet-%d", i)})
		require.NoError(t, err)
		ids = append(ids, entity.ID)
	}

	done := make(chan error, 1)
	go func() {
		done <- te.Shutdown(ctx)
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown timed out after 5 seconds")
	}

	for _, id := range ids {
		rec, err := te.store.GetEmbedding(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.EmbeddingReady, rec.Status, "job for %s was not drained", id)
	}
}

// TestEngine_QueueFull_MarksFailed verifies that a dropped job marks the
// record failed while the entity itself is kept and returned.
func TestEngine_QueueFull_MarksFailed(t *testing.T) {
	te := newTestEngine(t, func(d *Deps, c *Config) {
		d.Queue = newFullQueue()
	})
	te.start(t)
	ctx := context.Background()

	entity, err := te.SubmitEntity(ctx, NewEntity{Kind: types.KindPet, Name: "Mochi"})
	require.NoError(t, err, "a full queue is not a submitter error")
	require.NotNil(t, entity)
	assert.Equal(t, types.EmbeddingFailed, entity.EmbeddingStatus)
	assert.Contains(t, entity.EmbeddingError, "queue full")

	stored, err := te.GetEntity(ctx, entity.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingFailed, stored.EmbeddingStatus)

	stats, err := te.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Dropped)
	assert.Equal(t, 1, stats.Records.Failed)
}

// TestEngine_RecoverPending verifies that records left pending by a previous
// run are picked up on Start().
func TestEngine_RecoverPending(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	for _, id := range []string{"pet:a", "pet:b"} {
		require.NoError(t, te.store.CreateEntity(ctx, &types.Entity{ID: id, Kind: types.KindPet, Name: id}))
		require.NoError(t, te.store.MarkPending(ctx, id))
	}

	te.start(t)

	waitForStatus(t, te, "pet:a", types.EmbeddingReady)
	waitForStatus(t, te, "pet:b", types.EmbeddingReady)
}

func TestEngine_RecoverPending_QueueFullMarksFailed(t *testing.T) {
	te := newTestEngine(t, func(d *Deps, c *Config) {
		d.Queue = newFullQueue()
	})
	ctx := context.Background()

	require.NoError(t, te.store.CreateEntity(ctx, &types.Entity{ID: "pet:a", Kind: types.KindPet, Name: "a"}))
	require.NoError(t, te.store.MarkPending(ctx, "pet:a"))

	te.start(t)

	rec := waitForStatus(t, te, "pet:a", types.EmbeddingFailed)
	assert.Contains(t, rec.LastError, "queue full")
}

func TestNew_RequiresDeps(t *testing.T) {
	store := createTestStore(t)

	_, err := New(Deps{TextEmbedder: newFakeEmbedder()}, DefaultConfig())
	assert.Error(t, err)

	_, err = New(Deps{Store: store}, DefaultConfig())
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.NumWorkers = 0
	_, err = New(Deps{Store: store, TextEmbedder: newFakeEmbedder()}, bad)
	assert.Error(t, err)

	eng, err := New(Deps{Store: store, TextEmbedder: newFakeEmbedder()}, DefaultConfig())
	require.NoError(t, err)
	_, err = eng.Converse(context.Background(), "pet:1", "hello")
	assert.Error(t, err, "chat is disabled without a generator")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero workers", func(c *Config) { c.NumWorkers = 0 }, true},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }, true},
		{"negative shutdown timeout", func(c *Config) { c.ShutdownTimeout = -time.Second }, true},
		{"zero recovery batch", func(c *Config) { c.RecoveryBatchSize = 0 }, true},
		{"negative dimension", func(c *Config) { c.Dimension = -1 }, true},
		{"negative memory window", func(c *Config) { c.Chat.MemoryWindow = -1 }, true},
		{"zero prompt budget disables bound", func(c *Config) { c.Chat.MaxPromptChars = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerateEntityID(t *testing.T) {
	a := GenerateEntityID(types.KindPet)
	b := GenerateEntityID(types.KindPet)

	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^pet:[0-9a-f-]{36}$`, a)
	assert.Regexp(t, `^post:`, GenerateEntityID(types.KindPost))
}
