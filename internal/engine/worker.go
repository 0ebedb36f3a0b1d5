package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/petmind/internal/llm"
	"github.com/scrypster/petmind/internal/media"
	"github.com/scrypster/petmind/internal/queue"
	"github.com/scrypster/petmind/pkg/types"
)

// startWorkerPool starts the configured number of embedding workers.
func (e *Engine) startWorkerPool() {
	for i := 0; i < e.config.NumWorkers; i++ {
		e.workerWaitGroup.Add(1)
		go e.embeddingWorker(i)
	}
	log.Printf("Started %d embedding workers", e.config.NumWorkers)
}

// stopWorkerPool closes the queue and waits for workers to finish the jobs
// already handed out, bounded by ctx and the shutdown timeout.
func (e *Engine) stopWorkerPool(ctx context.Context) error {
	if err := e.queue.Close(); err != nil {
		log.Printf("WARNING: failed to close ingestion queue: %v", err)
	}

	done := make(chan struct{})
	go func() {
		e.workerWaitGroup.Wait()
		close(done)
	}()

	timeout := e.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Println("All embedding workers stopped")
		return nil
	case <-timer.C:
		return fmt.Errorf("timed out after %v waiting for embedding workers", timeout)
	case <-ctx.Done():
		return fmt.Errorf("waiting for embedding workers: %w", ctx.Err())
	}
}

// embeddingWorker processes jobs until the queue is closed and drained.
func (e *Engine) embeddingWorker(workerID int) {
	defer e.workerWaitGroup.Done()

	log.Printf("Embedding worker %d started", workerID)

	for job := range e.queue.Jobs() {
		e.processJob(workerID, job)
	}

	log.Printf("Embedding worker %d stopped", workerID)
}

// processJob derives and stores one vector. Every outcome is written back
// to the embedding record; nothing is returned to the submitter.
func (e *Engine) processJob(workerID int, job *queue.Job) {
	// Jobs run to completion during shutdown; each embed call carries its
	// own timeout.
	ctx := context.Background()

	log.Printf("Worker %d processing entity %s", workerID, job.EntityID)

	vector, model, err := e.deriveVector(ctx, job)
	if err == nil {
		err = e.checkVector(vector)
	}
	if err == nil {
		if uErr := e.store.Upsert(ctx, job.EntityID, vector, model); uErr != nil {
			err = fmt.Errorf("%w: store vector: %v", ErrIngestion, uErr)
		}
	}

	if err != nil {
		reason := err.Error()
		log.Printf("ERROR: Worker %d failed to embed %s: %v", workerID, job.EntityID, err)
		if mErr := e.store.MarkFailed(ctx, job.EntityID, reason); mErr != nil {
			log.Printf("ERROR: Worker %d failed to mark %s as failed: %v", workerID, job.EntityID, mErr)
		}
		e.failed.Add(1)
		e.fireEmbeddingFailed(job.EntityID, reason)
		return
	}

	e.processed.Add(1)
	log.Printf("Worker %d: embedding ready for %s (%d dims)", workerID, job.EntityID, len(vector))
	e.fireEmbeddingReady(job.EntityID)
}

// deriveVector embeds a job's media, falling back to the entity's text.
//
// Images go to the image embedder after downscaling. Other media is read and
// embedded as text. A job that carries neither media nor text is resolved
// against the stored entity.
func (e *Engine) deriveVector(ctx context.Context, job *queue.Job) ([]float32, string, error) {
	mediaRef, text := job.MediaRef, job.Text

	var entity *types.Entity
	loadEntity := func() error {
		if entity != nil {
			return nil
		}
		ent, err := e.store.GetEntity(ctx, job.EntityID)
		if err != nil {
			return fmt.Errorf("%w: load entity: %v", ErrIngestion, err)
		}
		entity = ent
		return nil
	}

	if mediaRef == "" && text == "" {
		if err := loadEntity(); err != nil {
			return nil, "", err
		}
		mediaRef, text = entity.MediaRef, entity.EmbeddingText()
	}

	embedCtx, cancel := e.embedContext(ctx)
	defer cancel()

	if mediaRef != "" {
		switch {
		case types.IsImageRef(mediaRef) && e.imageEmbedder != nil:
			data, err := e.loadMedia(ctx, mediaRef)
			if err != nil {
				return nil, "", err
			}
			data, err = media.NormalizeImage(data, e.config.MaxImageDim)
			if err != nil {
				return nil, "", fmt.Errorf("%w: %v", ErrIngestion, err)
			}
			vector, err := e.imageEmbedder.EmbedImage(embedCtx, data)
			if err != nil {
				return nil, "", fmt.Errorf("%w: embed image: %v", ErrIngestion, err)
			}
			return vector, modelName(e.imageEmbedder, e.textEmbedder.GetModel()), nil

		case types.IsImageRef(mediaRef):
			if text == "" {
				if err := loadEntity(); err != nil {
					return nil, "", err
				}
				text = entity.EmbeddingText()
			}
			if strings.TrimSpace(text) == "" {
				return nil, "", fmt.Errorf("%w: %s: %v", ErrIngestion, mediaRef, llm.ErrUnsupportedMedia)
			}
			log.Printf("WARNING: no image embedder configured, embedding text of %s", job.EntityID)

		default:
			data, err := e.loadMedia(ctx, mediaRef)
			if err != nil {
				return nil, "", err
			}
			text = string(data)
		}
	}

	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("%w: nothing to embed", ErrIngestion)
	}

	vector, err := e.textEmbedder.Embed(embedCtx, text)
	if err != nil {
		return nil, "", fmt.Errorf("%w: embed text: %v", ErrIngestion, err)
	}
	return vector, e.textEmbedder.GetModel(), nil
}

// loadMedia resolves a media reference to bytes.
func (e *Engine) loadMedia(ctx context.Context, ref string) ([]byte, error) {
	if e.media == nil {
		return nil, fmt.Errorf("%w: no media resolver configured for %s", ErrIngestion, ref)
	}
	data, err := e.media.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", ErrIngestion, ref, err)
	}
	return data, nil
}

// checkVector rejects vectors a ready record must not hold.
func (e *Engine) checkVector(vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: embedder returned an empty vector", ErrIngestion)
	}
	if e.config.Dimension > 0 && len(vector) != e.config.Dimension {
		return fmt.Errorf("%w: vector has %d dimensions, want %d", ErrIngestion, len(vector), e.config.Dimension)
	}
	if !types.IsFiniteVector(vector) {
		return fmt.Errorf("%w: vector has non-finite components", ErrIngestion)
	}
	return nil
}

func (e *Engine) embedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.config.EmbedTimeout > 0 {
		return context.WithTimeout(ctx, e.config.EmbedTimeout)
	}
	return context.WithCancel(ctx)
}

// modelName returns the model reported by v, or fallback.
func modelName(v any, fallback string) string {
	if m, ok := v.(interface{ GetModel() string }); ok {
		if name := m.GetModel(); name != "" {
			return name
		}
	}
	return fallback
}
