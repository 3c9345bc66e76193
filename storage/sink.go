// Package storage defines the durable sink the ingestion pipeline writes to.
package storage

import (
	"context"

	"github.com/c360/acmistream/model"
)

// Sink is the durable store behind the batch writer.
//
// The pipeline calls a Sink from two goroutines: CreateSession and
// CreateObject run on the ingestion goroutine so a create is visible before
// any update that follows it, and WriteBatch runs on the flush worker.
// Implementations must be safe for that concurrent use.
//
// Ordering guarantees the writer gives a Sink:
//   - CreateSession precedes every other call that carries its session ID
//   - CreateObject for an id precedes any batch that updates that id
//   - batches arrive one at a time in the order they were sealed
//
// Example Usage:
//
//	sink, err := sqlite.Open(ctx, cfg.Storage, logger)
//	session := model.NewSession(start, lat, lon)
//	err = sink.CreateSession(ctx, session) // session.ID now set
//	err = sink.CreateObject(ctx, rec)
//	err = sink.WriteBatch(ctx, batch)
type Sink interface {
	// CreateSession persists a new session and assigns session.ID.
	CreateSession(ctx context.Context, session *model.Session) error

	// CreateObject inserts the first state of an object.
	CreateObject(ctx context.Context, rec model.ObjectRecord) error

	// WriteBatch applies one sealed tick: the session's clock, the latest
	// state of every updated object, and the appended events and impacts.
	// A batch is applied entirely or not at all where the store supports it.
	WriteBatch(ctx context.Context, batch *Batch) error

	// Close releases the store's resources.
	Close() error
}

// Batch is the immutable unit of work handed to the flush worker. Nothing in
// a batch is shared with the tracker.
type Batch struct {
	Seq     uint64
	Session *model.Session
	Updates []model.ObjectRecord
	Events  []model.Event
	Impacts []model.Impact
}

// Empty reports whether the batch carries no rows.
func (b *Batch) Empty() bool {
	return b == nil || len(b.Updates) == 0 && len(b.Events) == 0 && len(b.Impacts) == 0
}

// Rows returns the number of rows the batch writes, excluding the session.
func (b *Batch) Rows() int {
	if b == nil {
		return 0
	}
	return len(b.Updates) + len(b.Events) + len(b.Impacts)
}
