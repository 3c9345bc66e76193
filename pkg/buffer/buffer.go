package buffer

import "context"

// Queue is a bounded FIFO hand-off between a single producer and a single
// consumer. Items are never dropped: a full queue either blocks the writer or
// rejects the write, depending on the overflow policy.
type Queue[T any] interface {
	// Write adds an item. Under Block it waits for space until ctx ends or the
	// queue is closed; under Reject it returns ErrQueueFull immediately.
	Write(ctx context.Context, item T) error

	// Read removes the oldest item, waiting until one is available, ctx ends or
	// the queue is closed and drained. ok is false only in the last two cases.
	Read(ctx context.Context) (item T, ok bool)

	// TryRead removes the oldest item without waiting.
	TryRead() (item T, ok bool)

	// Size returns the number of queued items.
	Size() int

	// Capacity returns the maximum number of queued items.
	Capacity() int

	// Stats returns queue statistics.
	Stats() *Statistics

	// Close stops accepting writes. Items already queued remain readable.
	Close() error
}

// OverflowPolicy defines how the queue behaves when it reaches capacity.
type OverflowPolicy int

const (
	// Block causes Write to wait until space is available.
	Block OverflowPolicy = iota

	// Reject causes Write to fail with ErrQueueFull.
	Reject
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case Block:
		return "Block"
	case Reject:
		return "Reject"
	default:
		return "Unknown"
	}
}

// NewQueue creates a bounded queue with the given capacity and options.
// Returns an error if metrics registration fails when metrics are requested.
func NewQueue[T any](capacity int, options ...Option[T]) (Queue[T], error) {
	opts := applyOptions(options...)
	return newChanQueue(capacity, opts)
}
