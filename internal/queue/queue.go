// Package queue carries job identifiers from the orchestrator to its workers.
// Payloads live in the store; only IDs travel through the queue.
package queue

import (
	"context"

	"github.com/Aidin1998/amlwatch/pkg/errors"
)

var (
	// ErrFull is returned when a bounded queue cannot accept more work
	ErrFull = errors.Unavailable.Reason("QueueFull").Explain("job queue is full")
	// ErrClosed is returned once the queue has been shut down
	ErrClosed = errors.Unavailable.Reason("QueueClosed").Explain("job queue is closed")
)

// Queue is a FIFO of job IDs
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks until an ID is available, ctx is done or the queue is closed
	Dequeue(ctx context.Context) (string, error)
	Close() error
}
