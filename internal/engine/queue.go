package engine

import (
	"sync"

	"github.com/roach88/catalog/internal/record"
)

// batchQueue is a thread-safe FIFO queue of event batches.
//
// HTTP handlers and CLI commands enqueue from any goroutine while the
// Engine's Run loop dequeues. The queue is unbounded; event sources are
// fire-and-forget and must never block on the sync engine.
//
// A buffered signal channel enables context-aware waiting in Run.
type batchQueue struct {
	mu      sync.Mutex
	batches [][]record.Event
	closed  bool
	signal  chan struct{} // buffered, size 1
}

func newBatchQueue() *batchQueue {
	return &batchQueue{
		batches: make([][]record.Event, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

// Enqueue adds a batch to the back of the queue.
// Returns false if the queue is closed.
func (q *batchQueue) Enqueue(batch []record.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.batches = append(q.batches, batch)

	// Non-blocking: a buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front batch without blocking.
func (q *batchQueue) TryDequeue() ([]record.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.batches) == 0 {
		return nil, false
	}

	b := q.batches[0]
	// Nil the slot so the backing array does not retain payloads.
	q.batches[0] = nil
	if len(q.batches) == 1 {
		q.batches = q.batches[:0]
	} else {
		q.batches = q.batches[1:]
	}
	return b, true
}

// Wait returns a channel that signals when batches may be available.
// The channel is closed when the queue is closed.
func (q *batchQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued batches.
func (q *batchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.batches)
}

// Close stops accepting batches and wakes any waiter.
func (q *batchQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Closed reports whether Close has been called.
func (q *batchQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
