package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/scrypster/petmind/internal/llm"
	"github.com/scrypster/petmind/internal/media"
	"github.com/scrypster/petmind/internal/queue"
	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

var (
	errAlreadyStarted = errors.New("engine already started")
	errNotStarted     = errors.New("engine not started")
	errStopped        = errors.New("engine has been shut down")
)

// Deps are the collaborators an Engine is built from.
type Deps struct {
	// Store persists entities, vectors and conversation history. Required.
	Store storage.Store

	// TextEmbedder embeds text. Required.
	TextEmbedder llm.EmbeddingGenerator

	// ImageEmbedder embeds images into the text embedder's space. Optional;
	// without it image entities are embedded from their text.
	ImageEmbedder llm.ImageEmbedder

	// Media resolves media references. Required for entities with media.
	Media media.Resolver

	// Generator produces chat replies. Optional; without it Converse fails.
	Generator llm.TextGenerator

	// Queue feeds the worker pool. Defaults to a MemoryQueue of Config.QueueSize.
	Queue queue.Queue

	// Ranker answers similarity queries. Defaults to a BruteForceRanker
	// over Store.
	Ranker Ranker

	// Retention decides which chat inputs become memories. Defaults to
	// DefaultRetentionPolicy.
	Retention RetentionPolicy
}

// Engine is the core orchestrator for ingestion, retrieval and chat.
// SubmitEntity writes synchronously and returns; vectors are derived by a
// worker pool fed from a bounded queue.
type Engine struct {
	// Configuration
	config Config

	// Collaborators
	store         storage.Store
	textEmbedder  llm.EmbeddingGenerator
	imageEmbedder llm.ImageEmbedder
	media         media.Resolver
	ranker        Ranker
	assembler     *Assembler
	queries       *queryCache

	// Ingestion pipeline
	queue           queue.Queue
	workerWaitGroup sync.WaitGroup
	recoveryCancel  context.CancelFunc
	recoveryDone    chan struct{}

	// State management
	started      bool
	shuttingDown bool
	stopped      bool
	mu           sync.RWMutex

	// Callbacks
	cbMu              sync.RWMutex
	onEntityCreated   func(entityID string)
	onEmbeddingReady  func(entityID string)
	onEmbeddingFailed func(entityID, reason string)

	// Counters
	dropped   atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

// New creates an engine. Use DefaultConfig() for sensible defaults.
func New(deps Deps, cfg Config) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.TextEmbedder == nil {
		return nil, fmt.Errorf("text embedder is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &Engine{
		config:        cfg,
		store:         deps.Store,
		textEmbedder:  deps.TextEmbedder,
		imageEmbedder: deps.ImageEmbedder,
		media:         deps.Media,
		ranker:        deps.Ranker,
		queue:         deps.Queue,
	}

	if e.queue == nil {
		e.queue = queue.NewMemoryQueue(cfg.QueueSize)
	}
	if e.ranker == nil {
		e.ranker = NewBruteForceRanker(deps.Store)
	}

	queries, err := newQueryCache(deps.TextEmbedder, cfg.QueryCacheSize)
	if err != nil {
		return nil, err
	}
	e.queries = queries

	if deps.Generator != nil {
		retention := deps.Retention
		if retention == nil {
			retention = DefaultRetentionPolicy()
		}
		e.assembler, err = NewAssembler(deps.Store, deps.Store, deps.Store, deps.Generator, retention, cfg.Chat)
		if err != nil {
			return nil, err
		}
	} else {
		log.Println("Warning: no text generator configured, chat is disabled")
	}

	return e, nil
}

// SetOnEntityCreated sets a callback fired when an entity is stored (before embedding).
func (e *Engine) SetOnEntityCreated(callback func(entityID string)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onEntityCreated = callback
}

// SetOnEmbeddingReady sets a callback fired when a worker stores a vector.
func (e *Engine) SetOnEmbeddingReady(callback func(entityID string)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onEmbeddingReady = callback
}

// SetOnEmbeddingFailed sets a callback fired when ingestion of an entity fails.
func (e *Engine) SetOnEmbeddingFailed(callback func(entityID, reason string)) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.onEmbeddingFailed = callback
}

func (e *Engine) fireEntityCreated(entityID string) {
	e.cbMu.RLock()
	cb := e.onEntityCreated
	e.cbMu.RUnlock()
	if cb != nil {
		cb(entityID)
	}
}

func (e *Engine) fireEmbeddingReady(entityID string) {
	e.cbMu.RLock()
	cb := e.onEmbeddingReady
	e.cbMu.RUnlock()
	if cb != nil {
		cb(entityID)
	}
}

func (e *Engine) fireEmbeddingFailed(entityID, reason string) {
	e.cbMu.RLock()
	cb := e.onEmbeddingFailed
	e.cbMu.RUnlock()
	if cb != nil {
		cb(entityID, reason)
	}
}

// Start starts the worker pool and recovers records left pending by a
// previous run. It must be called before SubmitEntity.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return errStopped
	}
	if e.started {
		return errAlreadyStarted
	}

	log.Println("Starting petmind engine...")

	e.startWorkerPool()

	// Recovery runs in the background so Start returns quickly.
	recoveryCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.recoveryCancel = cancel
	e.recoveryDone = make(chan struct{})
	go func() {
		defer close(e.recoveryDone)
		if err := e.RecoverPending(recoveryCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("ERROR: Embedding recovery failed: %v", err)
		}
	}()

	e.started = true
	log.Println("Petmind engine started successfully")

	return nil
}

// Shutdown stops accepting work, closes the queue and waits for workers to
// drain buffered jobs, bounded by ctx and Config.ShutdownTimeout.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.started || e.shuttingDown {
		e.mu.Unlock()
		return errNotStarted
	}
	e.shuttingDown = true
	cancel, done := e.recoveryCancel, e.recoveryDone
	e.mu.Unlock()

	log.Println("Shutting down petmind engine...")

	cancel()
	<-done

	err := e.stopWorkerPool(ctx)
	if err != nil {
		log.Printf("WARNING: Worker pool shutdown had errors: %v", err)
	}

	e.mu.Lock()
	e.started = false
	e.shuttingDown = false
	e.stopped = true
	e.mu.Unlock()

	log.Println("Petmind engine shut down successfully")
	return err
}

// running reports whether the engine accepts new work.
func (e *Engine) running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started && !e.shuttingDown
}

// GetEntity retrieves an entity with its embedding status.
func (e *Engine) GetEntity(ctx context.Context, id string) (*types.Entity, error) {
	return e.store.GetEntity(ctx, id)
}

// ListEntities lists entities newest first.
func (e *Engine) ListEntities(ctx context.Context, opts storage.ListOptions) (*storage.PaginatedResult[types.Entity], error) {
	return e.store.ListEntities(ctx, opts)
}

// GetEmbedding returns the embedding record of an entity.
func (e *Engine) GetEmbedding(ctx context.Context, entityID string) (*types.EmbeddingRecord, error) {
	return e.store.GetEmbedding(ctx, entityID)
}

// Recent returns up to limit memories for a subject, newest first.
func (e *Engine) Recent(ctx context.Context, subjectID string, limit int) ([]types.MemoryEntry, error) {
	memories, err := e.store.RecentMemories(ctx, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	return memories, nil
}

// Interactions returns completed chat turns for a subject, newest first.
func (e *Engine) Interactions(ctx context.Context, subjectID string, limit int) ([]types.Interaction, error) {
	interactions, err := e.store.ListInteractions(ctx, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}
	return interactions, nil
}

// Converse answers one chat message from the subject's point of view.
// Completion failures yield the fallback reply, not an error.
func (e *Engine) Converse(ctx context.Context, subjectID, text string) (string, error) {
	turn, err := e.ConverseTurn(ctx, ChatRequest{SubjectID: subjectID, Text: text})
	if err != nil {
		return "", err
	}
	return turn.Reply, nil
}

// ConverseTurn is Converse with the full turn record.
func (e *Engine) ConverseTurn(ctx context.Context, req ChatRequest) (*Turn, error) {
	if e.assembler == nil {
		return nil, fmt.Errorf("chat is disabled: no text generator configured")
	}
	return e.assembler.Converse(ctx, req)
}

// Stats returns pipeline counters and record counts.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	counts, err := e.store.CountByStatus(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}

	return Stats{
		Workers:   e.config.NumWorkers,
		QueueLen:  e.queue.Len(),
		Dropped:   e.dropped.Load(),
		Processed: e.processed.Load(),
		Failed:    e.failed.Load(),
		Records:   counts,
	}, nil
}

// GetQueueSize returns the current number of jobs in the ingestion queue.
func (e *Engine) GetQueueSize() int {
	return e.queue.Len()
}
