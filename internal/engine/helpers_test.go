package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scrypster/petmind/internal/media"
	"github.com/scrypster/petmind/internal/queue"
	"github.com/scrypster/petmind/internal/storage/sqlite"
	"github.com/scrypster/petmind/pkg/types"
)

// fakeEmbedder maps known texts to fixed vectors.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   atomic.Int64
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float32)}
}

func (f *fakeEmbedder) set(text string, v []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[text] = v
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vectors[text]; ok {
		return append([]float32(nil), v...), nil
	}
	return []float32{0, 0, 1}, nil
}

func (f *fakeEmbedder) GetModel() string { return "fake-embed" }

// fakeImageEmbedder returns one vector for any image.
type fakeImageEmbedder struct {
	vector []float32
	got    atomic.Int64
}

func (f *fakeImageEmbedder) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	f.got.Add(1)
	return append([]float32(nil), f.vector...), nil
}

func (f *fakeImageEmbedder) GetModel() string { return "fake-clip" }

// fakeResolver serves media from a map.
type fakeResolver map[string][]byte

func (f fakeResolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	if data, ok := f[ref]; ok {
		return data, nil
	}
	return nil, media.ErrNotFound
}

// fakeGenerator returns a fixed reply or error and records its inputs.
type fakeGenerator struct {
	mu     sync.Mutex
	reply  string
	err    error
	block  bool
	system string
	prompt string
}

func (f *fakeGenerator) Complete(ctx context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	f.system, f.prompt = system, prompt
	reply, err, block := f.reply, f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return reply, err
}

func (f *fakeGenerator) GetModel() string { return "fake-chat" }

func (f *fakeGenerator) lastSystem() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.system
}

// fullQueue rejects every job.
type fullQueue struct {
	jobs chan *queue.Job
	once sync.Once
}

func newFullQueue() *fullQueue { return &fullQueue{jobs: make(chan *queue.Job)} }

func (q *fullQueue) Enqueue(*queue.Job) error { return queue.ErrQueueFull }
func (q *fullQueue) Jobs() <-chan *queue.Job  { return q.jobs }
func (q *fullQueue) Len() int                 { return 0 }
func (q *fullQueue) Close() error {
	q.once.Do(func() { close(q.jobs) })
	return nil
}

var errBoom = errors.New("boom")

// Helper to create an in-memory SQLite store for testing
func createTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type testEngine struct {
	*Engine
	store     *sqlite.Store
	embedder  *fakeEmbedder
	generator *fakeGenerator
}

// newTestEngine creates an Engine over an in-memory store with fake
// embedders and a fake generator. mutate may adjust deps and config.
func newTestEngine(t *testing.T, mutate func(d *Deps, c *Config)) *testEngine {
	t.Helper()

	store := createTestStore(t)
	embedder := newFakeEmbedder()
	generator := &fakeGenerator{reply: "Meow!"}

	cfg := DefaultConfig()
	cfg.NumWorkers = 2
	cfg.ShutdownTimeout = 5 * time.Second

	deps := Deps{
		Store:        store,
		TextEmbedder: embedder,
		Generator:    generator,
		Media:        fakeResolver{},
	}
	if mutate != nil {
		mutate(&deps, &cfg)
	}

	eng, err := New(deps, cfg)
	require.NoError(t, err)

	return &testEngine{Engine: eng, store: store, embedder: embedder, generator: generator}
}

// start starts the engine and shuts it down when the test ends.
func (te *testEngine) start(t *testing.T) {
	t.Helper()
	require.NoError(t, te.Start(context.Background()))
	t.Cleanup(func() {
		te.mu.RLock()
		running := te.started
		te.mu.RUnlock()
		if running {
			_ = te.Shutdown(context.Background())
		}
	})
}

// waitForStatus polls until the entity's embedding record reaches status.
func waitForStatus(t *testing.T, te *testEngine, entityID string, status types.EmbeddingStatus) *types.EmbeddingRecord {
	t.Helper()
	var rec *types.EmbeddingRecord
	require.Eventually(t, func() bool {
		r, err := te.store.GetEmbedding(context.Background(), entityID)
		if err != nil {
			return false
		}
		rec = r
		return r.Status == status
	}, 3*time.Second, 10*time.Millisecond, "entity %s never reached %s", entityID, status)
	return rec
}
