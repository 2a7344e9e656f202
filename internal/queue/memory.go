package queue

import (
	"context"
	"sync"
)

// MemoryQueue is a bounded in-process queue
type MemoryQueue struct {
	ch     chan string
	done   chan struct{}
	closed sync.Once
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

// Enqueue never blocks; a full queue returns ErrFull
func (q *MemoryQueue) Enqueue(ctx context.Context, jobID string) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-q.done:
		return "", ErrClosed
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Len reports queued IDs
func (q *MemoryQueue) Len() int { return len(q.ch) }

func (q *MemoryQueue) Close() error {
	q.closed.Do(func() { close(q.done) })
	return nil
}
