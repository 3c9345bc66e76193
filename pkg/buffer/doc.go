// Package buffer provides a bounded, generic hand-off queue.
//
// The batch writer seals the pending updates of each clock tick into a batch and
// writes it to a Queue; the flush worker reads batches off the other end. The
// queue never drops work. When the store falls behind, Block backpressures the
// ingestion goroutine and Reject reports ErrQueueFull so the caller can decide.
//
// Statistics are always collected. Prometheus metrics are enabled per queue with
// WithMetrics:
//
//	q, err := buffer.NewQueue[*storage.Batch](16,
//	    buffer.WithOverflowPolicy[*storage.Batch](buffer.Block),
//	    buffer.WithMetrics[*storage.Batch](registry, "batch_writer"))
//
// Close stops new writes; items queued before Close stay readable so the
// consumer can drain them on shutdown.
package buffer
