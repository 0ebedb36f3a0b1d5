package queue

import "sync"

// MemoryQueue is a bounded channel-backed queue.
type MemoryQueue struct {
	mu     sync.RWMutex
	ch     chan *Job
	closed bool
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a queue holding at most size jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{ch: make(chan *Job, size)}
}

// Enqueue adds a job without blocking.
func (q *MemoryQueue) Enqueue(job *Job) error {
	// The read lock keeps Close from closing the channel mid-send.
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Jobs returns the receive side of the queue.
func (q *MemoryQueue) Jobs() <-chan *Job {
	return q.ch
}

// Len returns the number of buffered jobs.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *MemoryQueue) Cap() int {
	return cap(q.ch)
}

// Close stops accepting jobs. Buffered jobs remain readable from Jobs.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
