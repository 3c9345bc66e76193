package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/model"
)

// Fanout writes to a primary sink and then to each mirror. The primary
// assigns session IDs; mirrors see the session with its ID already set.
// Every sink is written even when an earlier one fails, and the first error
// is returned.
//
// Retries only reach the sinks that failed. Fanout remembers the highest
// batch Seq each sink accepted, and which sinks took a session or object
// create that some other sink refused.
type Fanout struct {
	primary Sink
	mirrors []Sink

	mu       sync.Mutex
	applied  []uint64 // index 0 is the primary
	sessions map[uuid.UUID][]bool
	objects  map[objectKey][]bool
}

type objectKey struct {
	session int64
	id      int64
}

// NewFanout returns a Fanout over primary and mirrors.
func NewFanout(primary Sink, mirrors ...Sink) *Fanout {
	return &Fanout{
		primary:  primary,
		mirrors:  mirrors,
		applied:  make([]uint64, len(mirrors)+1),
		sessions: make(map[uuid.UUID][]bool),
		objects:  make(map[objectKey][]bool),
	}
}

// CreateSession creates the session on the primary, then on every mirror.
// A session that already carries an ID has been taken by the primary.
func (f *Fanout) CreateSession(ctx context.Context, session *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	done, ok := f.sessions[session.UUID]
	if !ok {
		done = make([]bool, len(f.mirrors)+1)
	}
	if session.ID != 0 {
		done[0] = true
	}
	if !done[0] {
		if err := f.primary.CreateSession(ctx, session); err != nil {
			return err
		}
		done[0] = true
	}

	first := f.each(done, func(s Sink) error { return s.CreateSession(ctx, session) })
	if first != nil {
		f.sessions[session.UUID] = done
	} else {
		delete(f.sessions, session.UUID)
	}
	return first
}

// CreateObject creates the object on every sink that does not have it yet.
func (f *Fanout) CreateObject(ctx context.Context, rec model.ObjectRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := objectKey{rec.SessionID, rec.ID}
	done, ok := f.objects[k]
	if !ok {
		done = make([]bool, len(f.mirrors)+1)
	}

	var first error
	if !done[0] {
		if first = f.primary.CreateObject(ctx, rec); first == nil {
			done[0] = true
		}
	}
	if err := f.each(done, func(s Sink) error { return s.CreateObject(ctx, rec) }); first == nil {
		first = err
	}

	if first != nil {
		f.objects[k] = done
	} else {
		delete(f.objects, k)
	}
	return first
}

// WriteBatch writes the batch to every sink that has not yet accepted it.
func (f *Fanout) WriteBatch(ctx context.Context, batch *Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var first error
	for i, s := range f.sinks() {
		if batch.Seq != 0 && f.applied[i] >= batch.Seq {
			continue
		}
		if err := s.WriteBatch(ctx, batch); err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		f.applied[i] = batch.Seq
	}
	return first
}

func (f *Fanout) sinks() []Sink {
	return append([]Sink{f.primary}, f.mirrors...)
}

// Close closes every sink.
func (f *Fanout) Close() error {
	errs := []error{f.primary.Close()}
	for _, m := range f.mirrors {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}

// each calls fn on the mirrors not yet marked in done and marks the ones
// that succeed. done[0] is the primary.
func (f *Fanout) each(done []bool, fn func(Sink) error) error {
	var first error
	for i, m := range f.mirrors {
		if done[i+1] {
			continue
		}
		if err := fn(m); err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		done[i+1] = true
	}
	return first
}
