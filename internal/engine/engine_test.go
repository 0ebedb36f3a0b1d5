package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSubmitEntity_SearchFindsReadyEntity(t *testing.T) {
	te := newTestEngine(t, nil)
	te.embedder.set("Cat01\nThis is a lovely Cat01", []float32{1, 0, 0})
	te.embedder.set("Rex\nThis is a lovely Rex", []float32{0, 1, 0})
	te.embedder.set("orange cat", []float32{0.9, 0.1, 0})
	te.start(t)
	ctx := context.Background()

	cat, err := te.SubmitEntity(ctx, NewEntity{Kind: types.KindPet, Name: "Cat01", Description: "This is a lovely Cat01"})
	require.NoError(t, err)
	assert.Equal(t, types.EmbeddingPending, cat.EmbeddingStatus)
	assert.Equal(t, "You are a pet named Cat01. This is a lovely Cat01", cat.Persona)

	dog, err := te.SubmitEntity(ctx, NewEntity{Kind: types.KindPet, Name: "Rex", Description: "This is a lovely Rex"})
	require.NoError(t, err)

	waitForStatus(t, te, cat.ID, types.EmbeddingReady)
	waitForStatus(t, te, dog.ID, types.EmbeddingReady)

	results, err := te.Search(ctx, Query{Text: "orange cat", K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, cat.ID, results[0].Entity.ID)
	assert.Equal(t, "Cat01", results[0].Entity.Name)
	assert.InDelta(t, 0.9/math.Sqrt(0.82), results[0].Score, 1e-6)
}

func TestSearch_OnlyReadyEntitiesAreRanked(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	// A pending record with no vector must never be ranked.
	require.NoError(t, te.store.CreateEntity(ctx, &types.Entity{ID: "pet:pending", Kind: types.KindPet, Name: "p"}))
	require.NoError(t, te.store.MarkPending(ctx, "pet:pending"))

	require.NoError(t, te.store.CreateEntity(ctx, &types.Entity{ID: "pet:ready", Kind: types.KindPet, Name: "r"}))
	require.NoError(t, te.store.Upsert(ctx, "pet:ready", []float32{1, 0, 0}, "m"))

	results, err := te.Search(ctx, Query{Vector: []float32{1, 0, 0}, K: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "pet:ready", results[0].Entity.ID)
}

func TestSearch_KindFilterAndZeroK(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	for i, id := range []string{"pet:1", "pet:2", "pet:3"} {
		require.NoError(t, te.store.CreateEntity(ctx, &types.Entity{ID: id, Kind: types.KindPet, Name: id}))
		require.NoError(t, te.store.Upsert(ctx, id, []float32{1, float32(i)}, "m"))
	}
	require.NoError(t, te.store.CreateEntity(ctx, &types.Entity{ID: "post:1", Kind: types.KindPost, Content: "hi"}))
	require.NoError(t, te.store.Upsert(ctx, "post:1", []float32{1, 0}, "m"))

	results, err := te.Search(ctx, Query{Vector: []float32{1, 0}})
	require.NoError(t, err)
	assert.Empty(t, results, "K=0 asks for nothing")

	results, err = te.Search(ctx, Query{Vector: []float32{1, 0}, K: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = te.Search(ctx, Query{Vector: []float32{1, 0}, K: 10, Kind: types.KindPost})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "post:1", results[0].Entity.ID)
}

func TestSearch_InvalidQuery(t *testing.T) {
	te := newTestEngine(t, nil)

	_, err := te.Search(context.Background(), Query{})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = te.Search(context.Background(), Query{Vector: []float32{float32(math.NaN())}, K: 1})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSearch_TextQueryEmbeddingsAreCached(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := te.Search(ctx, Query{Text: "fluffy", K: 3})
	require.NoError(t, err)
	_, err = te.Search(ctx, Query{Text: "fluffy", K: 3})
	require.NoError(t, err)

	assert.EqualValues(t, 1, te.embedder.calls.Load())
	assert.Equal(t, 1, te.queries.Len())
}

func TestSearch_ImageQuery(t *testing.T) {
	img := &fakeImageEmbedder{vector: []float32{0, 1}}
	te := newTestEngine(t, func(d *Deps, c *Config) {
		d.ImageEmbedder = img
		d.Media = fakeResolver{"query.png": pngBytes(t, 8, 8)}
	})
	ctx := context.Background()

	require.NoError(t, te.store.CreateEntity(ctx, &types.Entity{ID: "pet:1", Kind: types.KindPet, Name: "a"}))
	require.NoError(t, te.store.Upsert(ctx, "pet:1", []float32{0, 1}, "m"))

	results, err := te.Search(ctx, Query{MediaRef: "query.png", K: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.EqualValues(t, 1, img.got.Load())
}

func TestWorker_EmbedsImagesWithImageEmbedder(t *testing.T) {
	img := &fakeImageEmbedder{vector: []float32{0.5, 0.5}}
	te := newTestEngine(t, func(d *Deps, c *Config) {
		d.ImageEmbedder = img
		d.Media = fakeResolver{"pets/cat01.png": pngBytes(t, 1024, 256)}
	})
	te.start(t)

	entity, err := te.SubmitEntity(context.Background(), NewEntity{Kind: types.KindPet, Name: "Cat01", MediaRef: "pets/cat01.png"})
	require.NoError(t, err)

	rec := waitForStatus(t, te, entity.ID, types.EmbeddingReady)
	assert.Equal(t, []float32{0.5, 0.5}, rec.Vector)
	assert.Equal(t, 2, rec.Dimension)
	assert.Equal(t, "fake-clip", rec.Model)
}

func TestWorker_ImageWithoutImageEmbedderUsesText(t *testing.T) {
	te := newTestEngine(t, nil)
	te.embedder.set("Cat01", []float32{1, 1})
	te.start(t)

	entity, err := te.SubmitEntity(context.Background(), NewEntity{Kind: types.KindPet, Name: "Cat01", MediaRef: "pets/cat01.jpg"})
	require.NoError(t, err)

	rec := waitForStatus(t, te, entity.ID, types.EmbeddingReady)
	assert.Equal(t, []float32{1, 1}, rec.Vector)
	assert.Equal(t, "fake-embed", rec.Model)
}

func TestWorker_TextMediaIsEmbeddedAsText(t *testing.T) {
	te := newTestEngine(t, func(d *Deps, c *Config) {
		d.Media = fakeResolver{"notes/walk.txt": []byte("went to the park")}
	})
	te.embedder.set("went to the park", []float32{0, 2})
	te.start(t)

	entity, err := te.SubmitEntity(context.Background(), NewEntity{Kind: types.KindPost, MediaRef: "notes/walk.txt"})
	require.NoError(t, err)

	rec := waitForStatus(t, te, entity.ID, types.EmbeddingReady)
	assert.Equal(t, []float32{0, 2}, rec.Vector)
}

func TestWorker_FailuresMarkRecordFailed(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(d *Deps, c *Config)
		vector    []float32
		mediaRef  string
		wantInErr string
	}{
		{
			name:      "dimension mismatch",
			mutate:    func(d *Deps, c *Config) { c.Dimension = 3 },
			vector:    []float32{1, 2},
			wantInErr: "want 3",
		},
		{
			name:      "non-finite component",
			vector:    []float32{1, float32(math.Inf(1))},
			wantInErr: "non-finite",
		},
		{
			name:      "empty vector",
			vector:    []float32{},
			wantInErr: "empty vector",
		},
		{
			name:      "missing media",
			mediaRef:  "notes/missing.txt",
			wantInErr: "not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEngine(t, tt.mutate)
			if tt.vector != nil {
				te.embedder.set("Mochi", tt.vector)
			}
			te.start(t)

			entity, err := te.SubmitEntity(context.Background(), NewEntity{Kind: types.KindPet, Name: "Mochi", MediaRef: tt.mediaRef})
			require.NoError(t, err)

			rec := waitForStatus(t, te, entity.ID, types.EmbeddingFailed)
			assert.Contains(t, rec.LastError, tt.wantInErr)
			assert.Empty(t, rec.Vector, "a failed record never carries a partial vector")
		})
	}
}

// TestReingest_LastWriteWins verifies that a re-ingested entity stays ranked
// with its old vector until the new one lands, then ranks with the new one.
func TestReingest_LastWriteWins(t *testing.T) {
	te := newTestEngine(t, nil)
	te.embedder.set("Mochi", []float32{1, 0})
	te.start(t)
	ctx := context.Background()

	entity, err := te.SubmitEntity(ctx, NewEntity{Kind: types.KindPet, Name: "Mochi"})
	require.NoError(t, err)
	waitForStatus(t, te, entity.ID, types.EmbeddingReady)

	te.embedder.set("Mochi", []float32{0, 1})
	require.NoError(t, te.Reingest(ctx, entity.ID, ""))

	require.Eventually(t, func() bool {
		rec, err := te.GetEmbedding(ctx, entity.ID)
		return err == nil && rec.Status == types.EmbeddingReady &&
			len(rec.Vector) == 2 && rec.Vector[1] == 1
	}, 3*time.Second, 10*time.Millisecond)

	stored, err := te.GetEntity(ctx, entity.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.MediaRef, "re-ingestion never rewrites the stored media reference")
}

func TestReingest_ConcurrentWithRanking(t *testing.T) {
	const writers, dim = 16, 3

	resolver := fakeResolver{}
	known := map[string]bool{}
	te := newTestEngine(t, func(d *Deps, c *Config) {
		c.NumWorkers = 4
		d.Media = resolver
	})
	te.embedder.set("Mochi", []float32{1, 0, 0})
	known[fmt.Sprint([]float32{1, 0, 0})] = true

	submitted := map[string]bool{}
	for i := 0; i < writers; i++ {
		vector := []float32{1, float32(i + 1), float32(writers - i)}
		resolver[fmt.Sprintf("note-%d.txt", i)] = []byte(fmt.Sprintf("note %d", i))
		te.embedder.set(fmt.Sprintf("note %d", i), vector)
		known[fmt.Sprint(vector)] = true
		submitted[fmt.Sprint(vector)] = true
	}

	te.start(t)
	ctx := context.Background()

	entity, err := te.SubmitEntity(ctx, NewEntity{Kind: types.KindPet, Name: "Mochi"})
	require.NoError(t, err)
	waitForStatus(t, te, entity.ID, types.EmbeddingReady)

	done := make(chan struct{})
	var readers errgroup.Group
	for r := 0; r < 4; r++ {
		readers.Go(func() error {
			for {
				select {
				case <-done:
					return nil
				default:
				}
				scored, err := te.Rank(ctx, []float32{1, 0, 0}, 1, "")
				if err != nil {
					return err
				}
				if len(scored) != 1 || scored[0].EntityID != entity.ID {
					return fmt.Errorf("ready entity dropped out of ranking: %v", scored)
				}
				rec, err := te.GetEmbedding(ctx, entity.ID)
				if err != nil {
					return err
				}
				if len(rec.Vector) != dim || !known[fmt.Sprint(rec.Vector)] {
					return fmt.Errorf("observed torn vector %v", rec.Vector)
				}
			}
		})
	}

	var writersGroup errgroup.Group
	for i := 0; i < writers; i++ {
		ref := fmt.Sprintf("note-%d.txt", i)
		writersGroup.Go(func() error {
			return te.Reingest(ctx, entity.ID, ref)
		})
	}
	require.NoError(t, writersGroup.Wait())

	require.Eventually(t, func() bool {
		return te.processed.Load() == writers+1
	}, 5*time.Second, 10*time.Millisecond)
	close(done)
	require.NoError(t, readers.Wait())

	rec := waitForStatus(t, te, entity.ID, types.EmbeddingReady)
	require.Len(t, rec.Vector, dim)
	assert.True(t, submitted[fmt.Sprint(rec.Vector)], "final vector %v is one of the submitted ones", rec.Vector)
	assert.Zero(t, te.failed.Load())
}

func TestReingest_UnknownEntity(t *testing.T) {
	te := newTestEngine(t, nil)
	te.start(t)

	err := te.Reingest(context.Background(), "pet:nope", "")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestSubmitEntity_Validation(t *testing.T) {
	te := newTestEngine(t, nil)
	te.start(t)
	ctx := context.Background()

	_, err := te.SubmitEntity(ctx, NewEntity{Kind: "lizard", Name: "x"})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = te.SubmitEntity(ctx, NewEntity{Kind: types.KindPet})
	assert.ErrorIs(t, err, storage.ErrInvalidInput, "a pet needs a name")

	_, err = te.SubmitEntity(ctx, NewEntity{Kind: types.KindPost})
	assert.ErrorIs(t, err, storage.ErrInvalidInput, "a post needs content or media")

	_, err = te.SubmitEntity(ctx, NewEntity{Kind: types.KindPost, Content: "hi", SubjectID: "pet:ghost"})
	assert.ErrorIs(t, err, ErrSubjectNotFound)
}

func TestStats_CountsRecords(t *testing.T) {
	te := newTestEngine(t, nil)
	te.start(t)
	ctx := context.Background()

	entity, err := te.SubmitEntity(ctx, NewEntity{Kind: types.KindPet, Name: "Mochi"})
	require.NoError(t, err)
	waitForStatus(t, te, entity.ID, types.EmbeddingReady)

	stats, err := te.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, 1, stats.Records.Ready)
	assert.EqualValues(t, 1, stats.Processed)
}
