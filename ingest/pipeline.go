package ingest

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/acmistream/acmi"
	"github.com/c360/acmistream/attribution"
	"github.com/c360/acmistream/batch"
	"github.com/c360/acmistream/config"
	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/metric"
	"github.com/c360/acmistream/tracker"
)

const componentName = "ingest"

// Source yields logical ACMI lines. *tacview.Client implements it.
type Source interface {
	Connect(ctx context.Context) error
	ReadLine(ctx context.Context) (string, error)
	Reconnect(ctx context.Context) error
	Close() error
}

// Deps are the optional collaborators of a Pipeline.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

type phase int

const (
	phaseRead phase = iota
	phaseDecode
	phaseApply
	phaseAttribute
	phaseEnqueue
	phaseFlush
	numPhases
)

var phaseNames = [numPhases]string{"read", "decode", "apply", "attribute", "enqueue", "flush"}

var frameKinds = []acmi.FrameKind{
	acmi.KindIgnorable,
	acmi.KindReference,
	acmi.KindTick,
	acmi.KindUpsert,
	acmi.KindDelete,
}

// Stats is a point-in-time view of the pipeline's counters.
type Stats struct {
	Lines          int64
	Frames         map[string]int64
	DecodeErrors   int64
	SkippedTokens  int64
	Dropped        int64
	UnknownDeletes int64
	Sessions       int64
	Objects        int64
	Parents        int64
	Impactors      int64
	Reconnects     int64
	Elapsed        time.Duration
	LinesPerSec    float64
	Phases         map[string]time.Duration
	Batch          batch.Stats
}

// Pipeline reads lines from a Source and turns them into sessions, objects,
// events and impacts written through a batch.Writer.
//
// Everything mutable belongs to the goroutine running Run. Stats is safe
// from any goroutine.
type Pipeline struct {
	cfg     *config.Config
	source  Source
	writer  *batch.Writer
	decoder *acmi.Decoder
	ref     *acmi.ReferenceContext
	store   *tracker.Store
	engine  *attribution.Engine

	logger     *slog.Logger
	metrics    *pipelineMetrics
	core       *metric.Metrics
	limiter    *rate.Limiter
	suppressed int

	running  atomic.Bool
	started  atomic.Int64
	finished atomic.Int64

	lines, decodeErrors, skippedTokens, dropped, unknownDeletes atomic.Int64
	sessions, objects, parents, impactors, reconnects          atomic.Int64
	frames                                                     [acmi.KindDelete + 1]atomic.Int64
	phases                                                     [numPhases]atomic.Int64
}

// New wires a pipeline over source and writer. The pipeline owns both once
// Run is called and closes them on exit.
func New(cfg *config.Config, source Source, writer *batch.Writer, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "New", "config is nil")
	}
	if source == nil || writer == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "New", "source and writer are required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", componentName)
	}

	decoder, err := acmi.NewDecoder(cfg.Decoder.TupleOrder)
	if err != nil {
		return nil, errors.WrapInvalid(err, componentName, "New", "build decoder")
	}
	store, err := tracker.NewStore(tracker.Deps{
		Logger:          logger.With("component", "tracker"),
		MetricsRegistry: deps.MetricsRegistry,
	})
	if err != nil {
		return nil, errors.Wrap(err, componentName, "New", "build tracker")
	}
	engine, err := attribution.NewEngine(cfg.Attribution, store, attribution.Deps{
		Logger:          logger.With("component", "attribution"),
		MetricsRegistry: deps.MetricsRegistry,
	})
	if err != nil {
		return nil, errors.Wrap(err, componentName, "New", "build attribution engine")
	}
	m, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, componentName, "New", "register metrics")
	}

	perSec := cfg.Ingest.ErrorLogPerSec
	if perSec <= 0 {
		perSec = 1
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}

	p := &Pipeline{
		cfg:     cfg,
		source:  source,
		writer:  writer,
		decoder: decoder,
		ref:     acmi.NewReferenceContext(),
		store:   store,
		engine:  engine,
		logger:  logger,
		metrics: m,
		limiter: rate.NewLimiter(rate.Limit(perSec), burst),
	}
	if deps.MetricsRegistry != nil {
		p.core = deps.MetricsRegistry.CoreMetrics()
	}
	return p, nil
}

// Run connects and ingests until ctx ends, the iteration limit is reached, or
// the batch writer fails. It always closes the writer with a fresh context
// bounded by batch.shutdown_grace, so rows read before a stop are flushed.
// Cancellation of ctx is a clean stop and returns nil.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	if !p.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, componentName, "Run", "start pipeline")
	}
	p.started.Store(time.Now().UnixNano())

	if err := p.writer.Start(ctx); err != nil {
		return errors.Wrap(err, componentName, "Run", "start batch writer")
	}

	statsCtx, stopStats := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if interval := p.cfg.Ingest.StatsInterval; interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.reportStats(statsCtx, interval)
		}()
	}

	defer func() {
		stopStats()
		wg.Wait()
		if shutdownErr := p.shutdown(); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}()

	p.logger.Info("Connecting to telemetry server")
	if err := p.source.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, componentName, "Run", "connect")
	}

	return p.loop(ctx)
}

func (p *Pipeline) loop(ctx context.Context) error {
	limit := p.cfg.Ingest.MaxIterations
	for {
		if ctx.Err() != nil {
			p.logger.Info("Ingestion cancelled")
			return nil
		}
		if limit > 0 && p.lines.Load() >= limit {
			p.logger.Info("Iteration limit reached", "max_iterations", limit)
			return nil
		}
		if err := p.writer.Err(); err != nil {
			return errors.Wrap(err, componentName, "Run", "batch writer stopped")
		}

		start := time.Now()
		line, err := p.source.ReadLine(ctx)
		p.observe(phaseRead, start)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.IsTransient(err) {
				return errors.Wrap(err, componentName, "Run", "read line")
			}
			if err := p.resetSession(ctx, err); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			continue
		}

		p.lines.Add(1)
		p.metrics.recordLine()
		if err := p.handle(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// resetSession ends the current session after a lost connection and reconnects.
// Rows of the old session are flushed before anything is reset so that no
// row of it is written after the next session exists.
func (p *Pipeline) resetSession(ctx context.Context, cause error) error {
	p.logger.Warn("Telemetry connection lost", "error", cause,
		"objects", p.store.Len(), "offset", p.ref.Offset())

	start := time.Now()
	err := p.writer.Discard(ctx)
	p.observe(phaseFlush, start)
	if err != nil {
		return errors.Wrap(err, componentName, "resetSession", "flush session")
	}

	if p.ref.Session() != nil {
		p.core.RecordSessionEnd()
	}
	p.decoder.Reset()
	p.ref.Reset()
	p.store.Reset()
	p.metrics.recordReset()

	if err := p.source.Reconnect(ctx); err != nil {
		return errors.Wrap(err, componentName, "resetSession", "reconnect")
	}
	p.reconnects.Add(1)
	return nil
}

func (p *Pipeline) handle(ctx context.Context, line string) error {
	start := time.Now()
	frame, err := p.decoder.Decode(line, p.ref.Origin())
	p.observe(phaseDecode, start)
	if err != nil {
		p.decodeErrors.Add(1)
		p.metrics.recordDecodeError("line", 1)
		p.core.RecordError(componentName, err)
		p.warn("Skipping malformed line", err, line)
		return nil
	}

	kind := frame.Kind()
	p.frames[kind].Add(1)
	p.metrics.recordFrame(kind.String())

	switch f := frame.(type) {
	case acmi.ReferenceFrame:
		return p.applyReference(ctx, f)
	case acmi.TickFrame:
		return p.applyTick(ctx, f)
	case acmi.UpsertFrame:
		if len(f.Skipped) > 0 {
			p.skippedTokens.Add(int64(len(f.Skipped)))
			p.metrics.recordDecodeError("token", len(f.Skipped))
			p.warn("Skipping malformed tokens", f.Skipped[0], line)
		}
		if !p.ref.Ready() {
			p.drop("no_reference")
			return nil
		}
		return p.applyUpsert(ctx, f)
	case acmi.DeleteFrame:
		if !p.ref.Ready() {
			p.drop("no_reference")
			return nil
		}
		p.applyDelete(f)
	}
	return nil
}

func (p *Pipeline) applyReference(ctx context.Context, f acmi.ReferenceFrame) error {
	start := time.Now()
	_, session := p.ref.Apply(f)
	p.observe(phaseApply, start)
	if session == nil {
		return nil
	}

	start = time.Now()
	err := p.writer.CreateSession(ctx, session)
	p.observe(phaseEnqueue, start)
	if err != nil {
		return errors.Wrap(err, componentName, "applyReference", "create session")
	}
	p.store.SetSession(session.ID)
	p.sessions.Add(1)
	p.core.RecordSessionStart()
	p.logger.Info("Reference established",
		"session_id", session.ID, "uuid", session.UUID,
		"lat", session.Lat, "lon", session.Lon, "start", session.StartTime,
		"title", session.Title, "source", session.DataSource)
	return nil
}

// applyTick seals the rows of the elapsed tick, then moves the clock.
func (p *Pipeline) applyTick(ctx context.Context, f acmi.TickFrame) error {
	if session := p.ref.Session(); session != nil {
		start := time.Now()
		err := p.writer.Tick(ctx, session)
		p.observe(phaseFlush, start)
		if err != nil {
			return errors.Wrap(err, componentName, "applyTick", "seal batch")
		}
	}
	if err := p.ref.AdvanceTick(f.Delta); err != nil {
		p.decodeErrors.Add(1)
		p.metrics.recordDecodeError("tick", 1)
		p.warn("Ignoring time offset", err, "#"+strconv.FormatFloat(f.Offset, 'f', -1, 64))
	}
	return nil
}

func (p *Pipeline) applyUpsert(ctx context.Context, f acmi.UpsertFrame) error {
	now := p.ref.Offset()

	start := time.Now()
	rec, created := p.store.Upsert(f.ID, f.Fields, now)
	p.observe(phaseApply, start)

	if created {
		p.objects.Add(1)
		p.metrics.setObjects(p.store.Len())

		start = time.Now()
		if p.engine.OnCreate(rec, now) {
			p.parents.Add(1)
		}
		p.observe(phaseAttribute, start)

		start = time.Now()
		err := p.writer.EnqueueCreate(ctx, rec.Clone())
		if err == nil {
			p.writer.EnqueueEvent(rec.ToEvent())
		}
		p.observe(phaseEnqueue, start)
		if err != nil {
			return errors.Wrap(err, componentName, "applyUpsert", "create object "+rec.HexID())
		}
		return nil
	}

	start = time.Now()
	p.writer.EnqueueUpdate(rec.Clone())
	p.writer.EnqueueEvent(rec.ToEvent())
	p.observe(phaseEnqueue, start)
	return nil
}

func (p *Pipeline) applyDelete(f acmi.DeleteFrame) {
	now := p.ref.Offset()

	start := time.Now()
	rec, ok := p.store.MarkDead(f.ID, now)
	p.observe(phaseApply, start)
	if !ok {
		p.unknownDeletes.Add(1)
		return
	}

	start = time.Now()
	impact, hit := p.engine.OnDeath(rec, now)
	p.observe(phaseAttribute, start)

	start = time.Now()
	if hit {
		p.impactors.Add(1)
		p.writer.EnqueueImpact(impact)
	}
	p.writer.EnqueueUpdate(rec.Clone())
	p.writer.EnqueueEvent(rec.ToEvent())
	p.observe(phaseEnqueue, start)
}

func (p *Pipeline) drop(reason string) {
	p.dropped.Add(1)
	p.metrics.recordDrop(reason)
}

// warn logs through the rate limiter. Suppressed messages are counted and
// reported with the next one that passes.
func (p *Pipeline) warn(msg string, err error, line string) {
	if !p.limiter.Allow() {
		p.suppressed++
		return
	}
	if len(line) > 120 {
		line = line[:120] + "..."
	}
	p.logger.Warn(msg, "error", err, "line", line, "suppressed", p.suppressed)
	p.suppressed = 0
}

func (p *Pipeline) observe(ph phase, start time.Time) {
	d := time.Since(start)
	p.phases[ph].Add(int64(d))
	p.metrics.recordPhase(phaseNames[ph], d.Seconds())
}

func (p *Pipeline) shutdown() error {
	grace := p.cfg.Batch.ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	start := time.Now()
	writerErr := p.writer.Close(ctx)
	p.observe(phaseFlush, start)
	if p.ref.Session() != nil {
		p.core.RecordSessionEnd()
	}
	sourceErr := p.source.Close()
	p.finished.Store(time.Now().UnixNano())
	p.logStats("Ingestion finished")

	if writerErr != nil {
		return errors.Wrap(writerErr, componentName, "shutdown", "close batch writer")
	}
	if sourceErr != nil {
		return errors.Wrap(sourceErr, componentName, "shutdown", "close source")
	}
	return nil
}

func (p *Pipeline) reportStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.logStats("Ingestion progress")
		}
	}
}

func (p *Pipeline) logStats(msg string) {
	s := p.Stats()
	p.logger.Info(msg,
		"lines", s.Lines,
		"lines_per_sec", s.LinesPerSec,
		"elapsed", s.Elapsed.Round(time.Millisecond),
		"sessions", s.Sessions,
		"objects", s.Objects,
		"parents", s.Parents,
		"impactors", s.Impactors,
		"decode_errors", s.DecodeErrors,
		"dropped", s.Dropped,
		"reconnects", s.Reconnects,
		"batches", s.Batch.Batches,
		"retries", s.Batch.Retries)
}

// Err returns the error that stopped the batch writer, if any. A pipeline
// with a stopped writer accepts no more rows.
func (p *Pipeline) Err() error {
	return p.writer.Err()
}

// Stats returns the pipeline's counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Lines:          p.lines.Load(),
		Frames:         make(map[string]int64, len(frameKinds)),
		DecodeErrors:   p.decodeErrors.Load(),
		SkippedTokens:  p.skippedTokens.Load(),
		Dropped:        p.dropped.Load(),
		UnknownDeletes: p.unknownDeletes.Load(),
		Sessions:       p.sessions.Load(),
		Objects:        p.objects.Load(),
		Parents:        p.parents.Load(),
		Impactors:      p.impactors.Load(),
		Reconnects:     p.reconnects.Load(),
		Phases:         make(map[string]time.Duration, numPhases),
		Batch:          p.writer.Stats(),
	}
	for _, k := range frameKinds {
		s.Frames[k.String()] = p.frames[k].Load()
	}
	for i := range numPhases {
		s.Phases[phaseNames[i]] = time.Duration(p.phases[i].Load())
	}

	if started := p.started.Load(); started != 0 {
		end := time.Now().UnixNano()
		if finished := p.finished.Load(); finished != 0 {
			end = finished
		}
		s.Elapsed = time.Duration(end - started)
	}
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.LinesPerSec = float64(s.Lines) / secs
	}
	return s
}
