// Package natssink mirrors flushed telemetry to NATS JetStream.
//
// Every session, object create, batch of object updates, event and impact is
// published as a JSON envelope to
//
//	<prefix>.<session_uuid>.session
//	<prefix>.<session_uuid>.object
//	<prefix>.<session_uuid>.event
//	<prefix>.<session_uuid>.impact
//
// and the latest state of each object is put into a KV bucket under
// <session_uuid>.<hexid>, giving external readers a read-only live snapshot.
// Sink implements storage.Sink and is meant to run as a mirror behind
// storage.Fanout.
package natssink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/acmistream/config"
	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/metric"
	"github.com/c360/acmistream/model"
	"github.com/c360/acmistream/natsclient"
	"github.com/c360/acmistream/storage"
)

const componentName = "natssink"

// Subject suffixes.
const (
	KindSession = "session"
	KindObject  = "object"
	KindEvent   = "event"
	KindImpact  = "impact"
)

// Envelope operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpAppend = "append"
)

// Publisher publishes to a JetStream stream and waits for the ack.
type Publisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Snapshot is a last-writer-wins key value store.
type Snapshot interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

// Envelope is the JSON body of every published message.
type Envelope[T any] struct {
	SessionUUID uuid.UUID `json:"session_uuid"`
	SessionID   int64     `json:"session_id"`
	Seq         uint64    `json:"seq,omitempty"`
	Op          string    `json:"op"`
	Records     []T       `json:"records"`
}

// Deps are the optional collaborators of a Sink.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Sink publishes telemetry to JetStream and the object snapshot bucket.
type Sink struct {
	prefix   string
	pub      Publisher
	snapshot Snapshot
	logger   *slog.Logger
	metrics  *sinkMetrics
	closer   func() error

	mu       sync.RWMutex
	sessions map[int64]uuid.UUID
}

var _ storage.Sink = (*Sink)(nil)

// New returns a Sink publishing under prefix. A nil snapshot disables the KV
// mirror.
func New(prefix string, pub Publisher, snapshot Snapshot, deps Deps) (*Sink, error) {
	if pub == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil publisher"), componentName, "New", "validate")
	}
	if prefix == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "New", "subject prefix")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", componentName)
	}
	m, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.Wrap(err, componentName, "New", "register metrics")
	}
	return &Sink{
		prefix:   prefix,
		pub:      pub,
		snapshot: snapshot,
		logger:   logger,
		metrics:  m,
		sessions: make(map[int64]uuid.UUID),
	}, nil
}

// Open provisions the stream and the snapshot bucket on client and returns a
// Sink over them. Closing the Sink closes client.
func Open(ctx context.Context, client *natsclient.Client, cfg config.NATSConfig, deps Deps) (*Sink, error) {
	replicas := cfg.Replicas
	if replicas <= 0 {
		replicas = 1
	}

	if _, err := client.EnsureStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "ACMI telemetry sessions, objects, events and impacts",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		Replicas:    replicas,
	}); err != nil {
		return nil, errors.Wrap(err, componentName, "Open", "ensure stream")
	}

	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.KVBucket,
		Description: "Latest state of every tracked object",
		History:     1,
		Replicas:    replicas,
	})
	if err != nil {
		return nil, errors.Wrap(err, componentName, "Open", "ensure snapshot bucket")
	}

	s, err := New(cfg.SubjectPrefix, client, client.NewKVStore(bucket), deps)
	if err != nil {
		return nil, err
	}
	s.closer = func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return client.Close(ctx)
	}
	s.logger.Info("NATS egress ready",
		"stream", cfg.Stream, "subjects", cfg.SubjectPrefix+".>", "bucket", cfg.KVBucket)
	return s, nil
}

// Subject returns the subject for kind of session.
func (s *Sink) Subject(session uuid.UUID, kind string) string {
	return s.prefix + "." + session.String() + "." + kind
}

// SnapshotKey returns the KV key of an object.
func SnapshotKey(session uuid.UUID, id int64) string {
	return session.String() + "." + model.FormatID(id)
}

// CreateSession announces the session. Its ID must already be assigned by
// the primary store.
func (s *Sink) CreateSession(ctx context.Context, session *model.Session) error {
	if session == nil {
		return errors.WrapInvalid(errors.ErrSessionMissing, componentName, "CreateSession", "nil session")
	}
	s.mu.Lock()
	s.sessions[session.ID] = session.UUID
	s.mu.Unlock()

	return publish(ctx, s, session.UUID, KindSession, Envelope[model.Session]{
		SessionUUID: session.UUID,
		SessionID:   session.ID,
		Op:          OpCreate,
		Records:     []model.Session{*session},
	})
}

// CreateObject publishes the first state of an object and seeds its snapshot.
func (s *Sink) CreateObject(ctx context.Context, rec model.ObjectRecord) error {
	id, err := s.sessionUUID(rec.SessionID, "CreateObject")
	if err != nil {
		return err
	}
	if err := publish(ctx, s, id, KindObject, Envelope[model.ObjectRecord]{
		SessionUUID: id,
		SessionID:   rec.SessionID,
		Op:          OpCreate,
		Records:     []model.ObjectRecord{rec},
	}); err != nil {
		return err
	}
	return s.put(ctx, id, rec)
}

// WriteBatch publishes one message per non-empty kind and refreshes the
// snapshot of every updated object.
func (s *Sink) WriteBatch(ctx context.Context, batch *storage.Batch) error {
	if batch == nil || batch.Session == nil {
		return errors.WrapInvalid(errors.ErrSessionMissing, componentName, "WriteBatch", "batch without session")
	}
	sess := batch.Session
	id := sess.UUID

	s.mu.Lock()
	s.sessions[sess.ID] = id
	s.mu.Unlock()

	if err := publish(ctx, s, id, KindSession, Envelope[model.Session]{
		SessionUUID: id, SessionID: sess.ID, Seq: batch.Seq, Op: OpUpdate,
		Records: []model.Session{*sess},
	}); err != nil {
		return err
	}
	if len(batch.Updates) > 0 {
		if err := publish(ctx, s, id, KindObject, Envelope[model.ObjectRecord]{
			SessionUUID: id, SessionID: sess.ID, Seq: batch.Seq, Op: OpUpdate,
			Records: batch.Updates,
		}); err != nil {
			return err
		}
	}
	if len(batch.Events) > 0 {
		if err := publish(ctx, s, id, KindEvent, Envelope[model.Event]{
			SessionUUID: id, SessionID: sess.ID, Seq: batch.Seq, Op: OpAppend,
			Records: batch.Events,
		}); err != nil {
			return err
		}
	}
	if len(batch.Impacts) > 0 {
		if err := publish(ctx, s, id, KindImpact, Envelope[model.Impact]{
			SessionUUID: id, SessionID: sess.ID, Seq: batch.Seq, Op: OpAppend,
			Records: batch.Impacts,
		}); err != nil {
			return err
		}
	}

	for _, rec := range batch.Updates {
		if err := s.put(ctx, id, rec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the NATS client when the Sink was opened with Open.
func (s *Sink) Close() error {
	if s.closer == nil {
		return nil
	}
	closer := s.closer
	s.closer = nil
	return closer()
}

func (s *Sink) sessionUUID(sessionID int64, method string) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.sessions[sessionID]
	if !ok {
		return uuid.Nil, errors.WrapFatal(errors.ErrSessionMissing, componentName, method,
			fmt.Sprintf("session %d", sessionID))
	}
	return id, nil
}

func publish[T any](ctx context.Context, s *Sink, session uuid.UUID, kind string, env Envelope[T]) error {
	data, err := json.Marshal(env)
	if err != nil {
		return errors.WrapInvalid(err, componentName, "publish", "marshal "+kind)
	}
	subject := s.Subject(session, kind)
	if err := s.pub.PublishToStream(ctx, subject, data); err != nil {
		s.metrics.recordPublish(kind, err)
		return errors.WrapTransient(err, componentName, "publish", subject)
	}
	s.metrics.recordPublish(kind, nil)
	return nil
}

func (s *Sink) put(ctx context.Context, session uuid.UUID, rec model.ObjectRecord) error {
	if s.snapshot == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapInvalid(err, componentName, "put", "marshal object")
	}
	if _, err := s.snapshot.Put(ctx, SnapshotKey(session, rec.ID), data); err != nil {
		s.metrics.recordSnapshot(err)
		return errors.WrapTransient(err, componentName, "put", "snapshot "+rec.HexID())
	}
	s.metrics.recordSnapshot(nil)
	return nil
}
