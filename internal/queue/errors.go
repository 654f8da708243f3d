package queue

import "errors"

// Sentinel errors for queue operations.
// Callers check these with errors.Is.
var (
	// ErrQueueFull is returned by Enqueue when the queue is at capacity
	// and the overflow policy is reject_new.
	ErrQueueFull = errors.New("queue: queue full")

	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue: queue closed")
)
