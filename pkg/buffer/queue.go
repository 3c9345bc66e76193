package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/c360/acmistream/errors"
)

// chanQueue backs Queue with a buffered channel. The data channel is never
// closed; done signals Close so that blocked writers can return without a send
// on a closed channel.
type chanQueue[T any] struct {
	items    chan T
	done     chan struct{}
	closeMu  sync.Once
	stats    *Statistics
	metrics  *queueMetrics
	opts     *queueOptions[T]
	capacity int
}

func newChanQueue[T any](capacity int, opts *queueOptions[T]) (*chanQueue[T], error) {
	if capacity <= 0 {
		capacity = 1
	}

	var metrics *queueMetrics
	if opts.metricsReg != nil && opts.metricsPrefix != "" {
		var err error
		metrics, err = newQueueMetrics(opts.metricsReg, opts.metricsPrefix)
		if err != nil {
			return nil, errors.WrapTransient(err, "queue", "newChanQueue", "metrics registration")
		}
	}

	return &chanQueue[T]{
		items:    make(chan T, capacity),
		done:     make(chan struct{}),
		stats:    NewStatistics(),
		metrics:  metrics,
		opts:     opts,
		capacity: capacity,
	}, nil
}

func (q *chanQueue[T]) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}

// Write adds an item according to the overflow policy.
func (q *chanQueue[T]) Write(ctx context.Context, item T) error {
	if q.closed() {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Write", "queue closed")
	}

	// Fast path: space is available.
	select {
	case q.items <- item:
		q.recordWrite()
		return nil
	default:
	}

	q.stats.Overflow()
	if q.metrics != nil {
		q.metrics.recordOverflow()
	}

	if q.opts.overflowPolicy == Reject {
		return errors.WrapTransient(errors.ErrQueueFull, "Queue", "Write", "enqueue")
	}

	start := time.Now()
	defer func() {
		waited := time.Since(start)
		q.stats.Blocked(waited)
		if q.metrics != nil {
			q.metrics.recordBlocked(waited)
		}
	}()

	select {
	case q.items <- item:
		q.recordWrite()
		return nil
	case <-q.done:
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Queue", "Write", "queue closed while waiting")
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), "Queue", "Write", "wait for space")
	}
}

func (q *chanQueue[T]) recordWrite() {
	q.stats.Write()
	size := len(q.items)
	q.stats.UpdateSize(int64(size))
	if q.metrics != nil {
		q.metrics.recordWrite(size, q.capacity)
	}
}

func (q *chanQueue[T]) recordRead() {
	q.stats.Read()
	size := len(q.items)
	q.stats.UpdateSize(int64(size))
	if q.metrics != nil {
		q.metrics.recordRead(size, q.capacity)
	}
}

// Read removes the oldest item, waiting if the queue is empty.
func (q *chanQueue[T]) Read(ctx context.Context) (T, bool) {
	select {
	case item := <-q.items:
		q.recordRead()
		return item, true
	default:
	}

	select {
	case item := <-q.items:
		q.recordRead()
		return item, true
	case <-q.done:
		// Drain whatever was queued before Close.
		return q.TryRead()
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// TryRead removes the oldest item without waiting.
func (q *chanQueue[T]) TryRead() (T, bool) {
	select {
	case item := <-q.items:
		q.recordRead()
		return item, true
	default:
		var zero T
		return zero, false
	}
}

// Size returns the number of queued items.
func (q *chanQueue[T]) Size() int {
	return len(q.items)
}

// Capacity returns the maximum number of queued items.
func (q *chanQueue[T]) Capacity() int {
	return q.capacity
}

// Stats returns queue statistics.
func (q *chanQueue[T]) Stats() *Statistics {
	return q.stats
}

// Close stops accepting writes. It is safe to call more than once.
func (q *chanQueue[T]) Close() error {
	q.closeMu.Do(func() {
		close(q.done)
	})
	return nil
}
