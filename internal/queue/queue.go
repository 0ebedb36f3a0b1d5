// Package queue provides the ingestion job queue that feeds the embedding
// worker pool. MemoryQueue is a bounded in-process channel; RedisQueue keeps
// pending jobs in a Redis list so they survive a restart.
package queue

import (
	"errors"
	"time"
)

var (
	// ErrQueueFull is returned when the queue is at capacity.
	ErrQueueFull = errors.New("ingestion queue full")

	// ErrQueueClosed is returned when enqueueing after Close.
	ErrQueueClosed = errors.New("ingestion queue closed")
)

// Job is a unit of ingestion work: derive a vector for EntityID from its
// media reference or text.
type Job struct {
	EntityID   string    `json:"entity_id"`
	MediaRef   string    `json:"media_ref,omitempty"`
	Text       string    `json:"text,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob creates a job stamped with the current time.
func NewJob(entityID, mediaRef, text string) *Job {
	return &Job{
		EntityID:   entityID,
		MediaRef:   mediaRef,
		Text:       text,
		EnqueuedAt: time.Now(),
	}
}

// Queue is a bounded FIFO of ingestion jobs.
//
// Enqueue never blocks: it returns ErrQueueFull when the queue is at
// capacity. Jobs returns the channel workers range over; it is closed once
// Close is called and buffered jobs have been handed out.
type Queue interface {
	Enqueue(job *Job) error
	Jobs() <-chan *Job
	Len() int
	Close() error
}
