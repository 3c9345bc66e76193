package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/acmistream/config"
	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/metric"
	"github.com/c360/acmistream/model"
	"github.com/c360/acmistream/pkg/buffer"
	"github.com/c360/acmistream/pkg/retry"
	"github.com/c360/acmistream/storage"
)

const (
	componentName = "batch-writer"

	outcomeWritten = "written"
	outcomeFailed  = "failed"
)

// Deps are the optional collaborators of a Writer.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Stats is a point-in-time view of the writer's counters.
type Stats struct {
	Creates   int64
	Batches   int64
	Updates   int64
	Events    int64
	Impacts   int64
	Retries   int64
	Pending   int64
	FlushTime time.Duration
}

// Writer batches rows per tick and writes them through a storage.Sink.
//
// EnqueueCreate, EnqueueUpdate, EnqueueEvent, EnqueueImpact, Tick, Discard
// and Close must be called from one goroutine. Err and Stats are safe from
// any goroutine.
type Writer struct {
	cfg     config.BatchConfig
	sink    storage.Sink
	queue   buffer.Queue[*storage.Batch]
	logger  *slog.Logger
	metrics *writerMetrics

	// Pending state, owned by the ingestion goroutine.
	updates map[int64]int
	pending []model.ObjectRecord
	events  []model.Event
	impacts []model.Impact
	session *model.Session
	seq     uint64

	started atomic.Bool
	closed  atomic.Bool

	cancel   context.CancelFunc
	done     chan struct{}
	progress chan struct{}
	inflight atomic.Int64

	mu     sync.Mutex
	err    error
	failed *storage.Batch

	creates, batches, rowsUpd, rowsEvt, rowsImp, retries atomic.Int64
	flushNanos                                           atomic.Int64
}

// NewWriter returns a writer over sink. Start must be called before Tick.
func NewWriter(cfg config.BatchConfig, sink storage.Sink, deps Deps) (*Writer, error) {
	if sink == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "NewWriter", "sink is nil")
	}
	switch cfg.FailurePolicy {
	case config.PolicyRetry, config.PolicyAbort:
	case "":
		cfg.FailurePolicy = config.PolicyRetry
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, componentName, "NewWriter",
			"unknown failure policy "+cfg.FailurePolicy)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", componentName)
	}

	m, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, componentName, "NewWriter", "register metrics")
	}

	opts := []buffer.Option[*storage.Batch]{buffer.WithOverflowPolicy[*storage.Batch](buffer.Block)}
	if deps.MetricsRegistry != nil {
		opts = append(opts, buffer.WithMetrics[*storage.Batch](deps.MetricsRegistry, "batch"))
	}
	queue, err := buffer.NewQueue[*storage.Batch](cfg.QueueSize, opts...)
	if err != nil {
		return nil, errors.Wrap(err, componentName, "NewWriter", "create queue")
	}

	return &Writer{
		cfg:      cfg,
		sink:     sink,
		queue:    queue,
		logger:   logger,
		metrics:  m,
		updates:  make(map[int64]int),
		done:     make(chan struct{}),
		progress: make(chan struct{}, 1),
	}, nil
}

// Start launches the flush worker. The worker outlives cancellation of ctx so
// that Close can drain the queue; Close bounds that drain with its own
// context.
func (w *Writer) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, componentName, "Start", "start worker")
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.cancel = cancel
	go w.run(workerCtx)
	return nil
}

// CreateSession writes the session row synchronously and makes it the
// session later batches belong to.
func (w *Writer) CreateSession(ctx context.Context, session *model.Session) error {
	if err := w.Err(); err != nil {
		return err
	}
	if err := w.syncWrite(ctx, "CreateSession", func(ctx context.Context) error {
		return w.sink.CreateSession(ctx, session)
	}); err != nil {
		return err
	}
	w.session = session
	w.logger.Info("Session created", "session_id", session.ID, "uuid", session.UUID)
	return nil
}

// EnqueueCreate writes the first state of an object synchronously.
func (w *Writer) EnqueueCreate(ctx context.Context, rec model.ObjectRecord) error {
	if err := w.Err(); err != nil {
		return err
	}
	if err := w.syncWrite(ctx, "EnqueueCreate", func(ctx context.Context) error {
		return w.sink.CreateObject(ctx, rec)
	}); err != nil {
		return err
	}
	w.creates.Add(1)
	w.metrics.recordCreate()
	return nil
}

// EnqueueUpdate records the latest state of an object. Repeated updates of
// the same id within a tick keep only the newest snapshot.
func (w *Writer) EnqueueUpdate(rec model.ObjectRecord) {
	if i, ok := w.updates[rec.ID]; ok {
		w.pending[i] = rec
		return
	}
	w.updates[rec.ID] = len(w.pending)
	w.pending = append(w.pending, rec)
}

// EnqueueEvent appends an event unless event writes are disabled.
func (w *Writer) EnqueueEvent(ev model.Event) {
	if !w.cfg.WriteEvents {
		return
	}
	w.events = append(w.events, ev)
}

// EnqueueImpact appends an impact.
func (w *Writer) EnqueueImpact(im model.Impact) {
	w.impacts = append(w.impacts, im)
}

// Pending reports the number of rows waiting for the next Tick.
func (w *Writer) Pending() int {
	return len(w.pending) + len(w.events) + len(w.impacts)
}

// Tick seals the pending rows, together with a snapshot of session, into a
// batch and queues it for the worker. Nothing is queued when no rows are
// pending. Tick blocks while the queue is full.
func (w *Writer) Tick(ctx context.Context, session *model.Session) error {
	if !w.started.Load() {
		return errors.WrapInvalid(errors.ErrNotStarted, componentName, "Tick", "seal batch")
	}
	if err := w.Err(); err != nil {
		return err
	}
	if session != nil {
		w.session = session
	}

	b := w.seal()
	if b == nil {
		return nil
	}

	w.inflight.Add(1)
	if err := w.queue.Write(ctx, b); err != nil {
		w.inflight.Add(-1)
		// Keep the rows so a later Tick or Close can still write them.
		w.restore(b)
		return errors.WrapTransient(err, componentName, "Tick", "queue batch")
	}
	return nil
}

func (w *Writer) seal() *storage.Batch {
	if len(w.pending) == 0 && len(w.events) == 0 && len(w.impacts) == 0 {
		return nil
	}
	w.seq++
	b := &storage.Batch{
		Seq:     w.seq,
		Session: w.session.Clone(),
		Updates: w.pending,
		Events:  w.events,
		Impacts: w.impacts,
	}
	w.updates = make(map[int64]int, len(w.pending))
	w.pending, w.events, w.impacts = nil, nil, nil
	return b
}

func (w *Writer) restore(b *storage.Batch) {
	for _, u := range b.Updates {
		w.EnqueueUpdate(u)
	}
	w.events = append(b.Events, w.events...)
	w.impacts = append(b.Impacts, w.impacts...)
}

// Drain waits until every queued batch has been written. It returns the
// worker's error if the worker stopped.
func (w *Writer) Drain(ctx context.Context) error {
	for w.inflight.Load() > 0 {
		if err := w.Err(); err != nil {
			return err
		}
		select {
		case <-w.progress:
		case <-w.done:
			if err := w.Err(); err != nil {
				return err
			}
			return nil
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), componentName, "Drain", "wait for flush")
		}
	}
	return w.Err()
}

// Discard ends the current session: pending rows are sealed and written and
// the writer forgets the session. When Discard returns nil nothing of the
// old session remains to be written, so a new session row can be created.
func (w *Writer) Discard(ctx context.Context) error {
	if w.started.Load() {
		if err := w.Tick(ctx, nil); err != nil {
			return err
		}
		if err := w.Drain(ctx); err != nil {
			return err
		}
	}
	w.updates = make(map[int64]int)
	w.pending, w.events, w.impacts = nil, nil, nil
	w.session = nil
	return nil
}

// Close seals the remaining rows, stops intake, and waits for the worker to
// drain the queue. If ctx ends first the worker is cancelled. Close returns
// the first error the writer encountered, annotated with the number of rows
// left unwritten.
func (w *Writer) Close(ctx context.Context) error {
	if !w.closed.CompareAndSwap(false, true) {
		return w.Err()
	}
	if !w.started.Load() {
		w.queue.Close()
		return w.Err()
	}

	var tickErr error
	if w.Err() == nil {
		tickErr = w.Tick(ctx, nil)
	}
	w.queue.Close()

	select {
	case <-w.done:
	case <-ctx.Done():
		w.cancel()
		<-w.done
		w.setErr(errors.WrapTransient(ctx.Err(), componentName, "Close", "drain queue"))
	}
	w.cancel()

	err := w.Err()
	if err == nil {
		err = tickErr
	}
	if err == nil {
		return nil
	}

	// Rows restored by a failed Tick stay pending.
	rows := w.Pending() + w.queue.Size()
	args := []any{"error", err}
	if b := w.failedBatch(); b != nil {
		rows += b.Rows()
		args = append(args, "seq", b.Seq)
	}
	if rows == 0 {
		return err
	}
	w.logger.Error("Batch writer stopped with unwritten rows", append(args, "rows", rows)...)
	return fmt.Errorf("%w: %d rows unwritten", err, rows)
}

// Err returns the error that stopped the worker, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Stats returns the writer's counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Creates:   w.creates.Load(),
		Batches:   w.batches.Load(),
		Updates:   w.rowsUpd.Load(),
		Events:    w.rowsEvt.Load(),
		Impacts:   w.rowsImp.Load(),
		Retries:   w.retries.Load(),
		Pending:   w.inflight.Load(),
		FlushTime: time.Duration(w.flushNanos.Load()),
	}
}

func (w *Writer) setErr(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
}

func (w *Writer) failedBatch() *storage.Batch {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)
	for {
		b, ok := w.queue.Read(ctx)
		if !ok {
			return
		}
		err := w.flush(ctx, b)
		w.inflight.Add(-1)
		select {
		case w.progress <- struct{}{}:
		default:
		}
		if err != nil {
			w.mu.Lock()
			w.failed = b
			w.mu.Unlock()
			w.setErr(err)
			w.logger.Error("Flush failed, stopping intake",
				"seq", b.Seq, "policy", w.cfg.FailurePolicy, "error", err)
			return
		}
	}
}

func (w *Writer) flush(ctx context.Context, b *storage.Batch) error {
	start := time.Now()
	err := w.withPolicy(ctx, "flush", func(ctx context.Context) error {
		return w.sink.WriteBatch(ctx, b)
	})
	took := time.Since(start)
	w.flushNanos.Add(int64(took))

	if err != nil {
		w.metrics.recordFlush(outcomeFailed, took, 0, 0, 0)
		return err
	}
	w.batches.Add(1)
	w.rowsUpd.Add(int64(len(b.Updates)))
	w.rowsEvt.Add(int64(len(b.Events)))
	w.rowsImp.Add(int64(len(b.Impacts)))
	w.metrics.recordFlush(outcomeWritten, took, len(b.Updates), len(b.Events), len(b.Impacts))
	w.logger.Debug("Batch written",
		"seq", b.Seq, "updates", len(b.Updates), "events", len(b.Events),
		"impacts", len(b.Impacts), "took", took)
	return nil
}

// syncWrite runs a synchronous sink call under the failure policy. An error
// under either policy stops the writer.
func (w *Writer) syncWrite(ctx context.Context, op string, fn func(context.Context) error) error {
	if err := w.withPolicy(ctx, op, fn); err != nil {
		w.setErr(err)
		return err
	}
	return nil
}

// withPolicy applies the failure policy to fn. Each attempt is bounded by
// FlushTimeout. Fatal errors are never retried.
func (w *Writer) withPolicy(ctx context.Context, op string, fn func(context.Context) error) error {
	attempt := func() error {
		actx, cancel := w.attemptContext(ctx)
		defer cancel()
		err := fn(actx)
		if err != nil && errors.IsFatal(err) {
			return retry.NonRetryable(err)
		}
		return err
	}

	cfg := retry.Config{MaxAttempts: 1}
	if w.cfg.FailurePolicy == config.PolicyRetry {
		cfg = retry.Backoff(w.cfg.RetryBaseDelay, w.cfg.RetryMaxDelay)
		cfg.OnRetry = func(n int, err error, next time.Duration) {
			w.retries.Add(1)
			w.metrics.recordRetry()
			w.logger.Warn("Storage write failed, retrying",
				"op", op, "attempt", n, "next", next, "error", err)
		}
	}

	err := retry.Do(ctx, cfg, attempt)
	if err == nil {
		return nil
	}
	var nre *retry.NonRetryableError
	if errors.As(err, &nre) {
		err = nre.Err
	}
	return errors.Wrap(err, componentName, op, "write to storage")
}

func (w *Writer) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.cfg.FlushTimeout > 0 {
		return context.WithTimeout(ctx, w.cfg.FlushTimeout)
	}
	return context.WithCancel(ctx)
}
