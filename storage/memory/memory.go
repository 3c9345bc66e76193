// Package memory is an in-process storage.Sink used by tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/model"
	"github.com/c360/acmistream/storage"
)

const componentName = "memory-sink"

// Store keeps every row in slices and maps. Objects are keyed by session and
// id the way the durable stores key them.
type Store struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[int64]*model.Session
	objects  map[key]model.ObjectRecord
	order    []key
	events   []model.Event
	impacts  []model.Impact
	batches  []uint64
	closed   bool

	// failWrites, when set, is returned by WriteBatch instead of applying it.
	failWrites error
	// failCreate is returned once by the next CreateSession or CreateObject.
	failCreate error
}

type key struct {
	session int64
	id      int64
}

var _ storage.Sink = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		sessions: make(map[int64]*model.Session),
		objects:  make(map[key]model.ObjectRecord),
	}
}

// CreateSession assigns the next session ID.
func (s *Store) CreateSession(ctx context.Context, session *model.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.WrapFatal(errors.ErrStorageUnavailable, componentName, "CreateSession", "store closed")
	}
	if err := s.takeFailCreate(); err != nil {
		return err
	}
	for _, existing := range s.sessions {
		if existing.UUID == session.UUID {
			return errors.WrapFatal(errors.ErrDuplicateRow, componentName, "CreateSession", "insert session")
		}
	}
	if session.ID == 0 {
		s.nextID++
		session.ID = s.nextID
	} else if session.ID > s.nextID {
		s.nextID = session.ID
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

// CreateObject stores the first state of an object.
func (s *Store) CreateObject(ctx context.Context, rec model.ObjectRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[rec.SessionID]; !ok {
		return errors.WrapFatal(errors.ErrSessionMissing, componentName, "CreateObject", "look up session")
	}
	if err := s.takeFailCreate(); err != nil {
		return err
	}
	k := key{rec.SessionID, rec.ID}
	if _, ok := s.objects[k]; ok {
		return errors.WrapFatal(errors.ErrDuplicateRow, componentName, "CreateObject", "insert object "+rec.HexID())
	}
	s.order = append(s.order, k)
	s.objects[k] = rec.Clone()
	return nil
}

func (s *Store) takeFailCreate() error {
	err := s.failCreate
	s.failCreate = nil
	return err
}

// WriteBatch applies the batch. An update for an object that was never
// created rejects the whole batch.
func (s *Store) WriteBatch(ctx context.Context, batch *storage.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites != nil {
		return s.failWrites
	}
	if batch.Session != nil {
		if _, ok := s.sessions[batch.Session.ID]; !ok {
			return errors.WrapFatal(errors.ErrSessionMissing, componentName, "WriteBatch", "look up session")
		}
	}
	for _, u := range batch.Updates {
		if _, ok := s.objects[key{u.SessionID, u.ID}]; !ok {
			return errors.WrapFatal(errors.ErrBatchRejected, componentName, "WriteBatch",
				"update object "+u.HexID()+" before create")
		}
	}

	if batch.Session != nil {
		s.sessions[batch.Session.ID] = batch.Session.Clone()
	}
	for _, u := range batch.Updates {
		s.objects[key{u.SessionID, u.ID}] = u.Clone()
	}
	s.events = append(s.events, batch.Events...)
	s.impacts = append(s.impacts, batch.Impacts...)
	s.batches = append(s.batches, batch.Seq)
	return nil
}

// Close marks the store closed. Rows stay readable.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// FailNextCreate makes the next CreateSession or CreateObject return err
// without storing anything.
func (s *Store) FailNextCreate(err error) {
	s.mu.Lock()
	s.failCreate = err
	s.mu.Unlock()
}

// FailWrites makes every later WriteBatch return err. A nil err restores
// normal operation.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	s.failWrites = err
	s.mu.Unlock()
}

// Session returns a copy of the session row.
func (s *Store) Session(id int64) (*model.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess.Clone(), ok
}

// Sessions returns the number of sessions created.
func (s *Store) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Object returns the stored state of an object.
func (s *Store) Object(sessionID, id int64) (model.ObjectRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.objects[key{sessionID, id}]
	if !ok {
		return model.ObjectRecord{}, false
	}
	return rec.Clone(), true
}

// Objects returns every object of a session in creation order.
func (s *Store) Objects(sessionID int64) []model.ObjectRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ObjectRecord
	for _, k := range s.order {
		if k.session == sessionID {
			rec := s.objects[k]
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Events returns a copy of every event written.
func (s *Store) Events() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Event(nil), s.events...)
}

// Impacts returns a copy of every impact written.
func (s *Store) Impacts() []model.Impact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Impact(nil), s.impacts...)
}

// Batches returns the sequence numbers of applied batches in order.
func (s *Store) Batches() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.batches...)
}
