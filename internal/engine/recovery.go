package engine

import (
	"context"
	"errors"
	"log"

	"github.com/scrypster/petmind/internal/queue"
	"github.com/scrypster/petmind/internal/storage"
	"github.com/scrypster/petmind/pkg/types"
)

// RecoverPending re-queues embedding records left pending by a previous run.
// It is called automatically during Start().
//
// All pending ids are collected before anything is queued, so workers
// finishing jobs cannot shift the pages being read.
func (e *Engine) RecoverPending(ctx context.Context) error {
	log.Println("Starting embedding recovery for pending records...")

	var ids []string
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		result, err := e.store.ListByStatus(ctx, storage.ListOptions{
			Status: types.EmbeddingPending,
			Limit:  e.config.RecoveryBatchSize,
			Page:   page,
		})
		if err != nil {
			log.Printf("ERROR: Failed to list pending records for recovery: %v", err)
			return err
		}

		for _, rec := range result.Items {
			ids = append(ids, rec.EntityID)
		}

		if !result.HasMore {
			break
		}
		log.Printf("More pending records found (%d total), reading next batch...", result.Total)
	}

	if len(ids) == 0 {
		log.Println("No pending records to recover")
		return nil
	}

	totalQueued := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.enqueueJob(queue.NewJob(id, "", ""))
		switch {
		case err == nil:
			totalQueued++
		case errors.Is(err, queue.ErrQueueFull):
			if mErr := e.store.MarkFailed(ctx, id, err.Error()); mErr != nil {
				log.Printf("ERROR: Failed to mark %s as failed: %v", id, mErr)
			}
		default:
			// Shutting down; the rest stay pending for the next run.
			log.Printf("Recovery stopped after queueing %d of %d pending records: %v", totalQueued, len(ids), err)
			return nil
		}
	}

	log.Printf("Recovery complete: queued %d pending records", totalQueued)
	return nil
}
