package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/scrypster/petmind/internal/config"
	"github.com/scrypster/petmind/internal/engine"
	"github.com/scrypster/petmind/internal/llm"
	"github.com/scrypster/petmind/internal/media"
	"github.com/scrypster/petmind/internal/queue"
	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/internal/storage/postgres"
	"github.com/scrypster/petmind/internal/storage/sqlite"
)

// app holds the wired components of one petmind process.
type app struct {
	cfg    *config.Config
	store  storage.Store
	media  *media.Router
	local  *media.FileStore
	engine *engine.Engine

	started bool
}

// appOptions adjusts how much of the stack is built.
type appOptions struct {
	// chat builds the completion provider. Commands that never chat skip it
	// so a missing API key does not stop them.
	chat bool
}

// buildApp wires storage, queue, media, providers and the engine from cfg.
// The engine is not started.
func buildApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	store, ranker, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, store: store}
	fail := func(err error) (*app, error) {
		_ = store.Close()
		return nil, err
	}

	a.local, err = media.NewFileStore(cfg.Media.Root)
	if err != nil {
		return fail(err)
	}
	for _, dir := range append([]string{cfg.Media.InboxPath}, cfg.Media.AllowRoots...) {
		if dir == "" {
			continue
		}
		if err := a.local.AllowRoot(dir); err != nil {
			return fail(err)
		}
	}
	var s3Store *media.S3Store
	if cfg.Media.Backend == "s3" {
		s3Store, err = media.NewS3Store(ctx, media.S3Config{
			Region:         cfg.Media.S3Region,
			Bucket:         cfg.Media.S3Bucket,
			Endpoint:       cfg.Media.S3Endpoint,
			ForcePathStyle: cfg.Media.S3PathStyle,
		})
		if err != nil {
			return fail(err)
		}
	}
	a.media = media.NewRouter(a.local, s3Store)

	q, err := openQueue(ctx, cfg)
	if err != nil {
		return fail(err)
	}

	textEmbedder, imageEmbedder, err := llm.NewEmbedders(cfg.Embedding, cfg.LLM.OllamaURL)
	if err != nil {
		return fail(fmt.Errorf("embedding provider: %w", err))
	}

	deps := engine.Deps{
		Store:         store,
		TextEmbedder:  textEmbedder,
		ImageEmbedder: imageEmbedder,
		Media:         a.media,
		Queue:         q,
		Retention:     engine.MinLengthPolicy{MinRunes: cfg.Chat.RetainMinLength},
	}
	if ranker != nil {
		deps.Ranker = ranker
	}
	if opts.chat {
		deps.Generator, err = llm.NewTextGenerator(cfg.LLM)
		if err != nil {
			return fail(fmt.Errorf("completion provider: %w", err))
		}
	}

	a.engine, err = engine.New(deps, engine.ConfigFromGlobal(cfg))
	if err != nil {
		return fail(fmt.Errorf("failed to initialize engine: %w", err))
	}
	return a, nil
}

// openStore opens the configured store. The ranker is non-nil only when
// the store can rank in the database.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, engine.Ranker, error) {
	switch cfg.StorageEngine {
	case "postgres":
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, cfg.UsePgvector)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		if ranker, ok := store.Ranker(); ok {
			log.Println("Ranking with pgvector")
			return store, ranker, nil
		}
		return store, nil, nil

	case "sqlite", "":
		if err := os.MkdirAll(cfg.DataPath, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		store, err := sqlite.NewStore(filepath.Join(cfg.DataPath, "petmind.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return store, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage engine %q", cfg.StorageEngine)
	}
}

// openQueue returns nil for the in-memory queue, which the engine builds itself.
func openQueue(ctx context.Context, cfg *config.Config) (queue.Queue, error) {
	switch cfg.Queue.Backend {
	case "redis":
		q, err := queue.NewRedisQueue(ctx, queue.RedisConfig{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
			Key:      cfg.Queue.RedisKey,
			Capacity: cfg.Engine.QueueSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect job queue: %w", err)
		}
		return q, nil
	case "memory", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// start starts the ingestion workers.
func (a *app) start(ctx context.Context) error {
	if err := a.engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	a.started = true
	return nil
}

// shutdown drains the engine if it was started and closes the store.
func (a *app) shutdown(ctx context.Context) {
	if a.started {
		if err := a.engine.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down engine: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		log.Printf("Error closing store: %v", err)
	}
}
