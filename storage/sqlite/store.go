// Package sqlite persists sessions, objects, events, and impacts to a local
// SQLite database through zombiezen.com/go/sqlite.
//
// Every batch is written inside one IMMEDIATE transaction with cached
// prepared statements. SQLite has no COPY, so the bulk toggle does not change
// the write path.
package sqlite

import (
	"context"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/c360/acmistream/config"
	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/model"
	"github.com/c360/acmistream/storage"
)

const componentName = "sqlite-sink"

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
	"PRAGMA temp_store=MEMORY",
}

// Store is a storage.Sink backed by a SQLite connection pool.
type Store struct {
	pool   *sqlitex.Pool
	path   string
	logger *slog.Logger
}

var _ storage.Sink = (*Store)(nil)

// Open opens the database at cfg.DSN, applies the pragmas to every
// connection, and creates the schema. With ResetSchema the existing tables
// and views are dropped first.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "Open", "dsn is empty")
	}
	if logger == nil {
		logger = slog.Default().With("component", componentName)
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = 4
	}

	pool, err := sqlitex.NewPool(cfg.DSN, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, errors.WrapTransient(errors.Join(errors.ErrStorageUnavailable, err), componentName, "Open", "open pool")
	}
	s := &Store{pool: pool, path: cfg.DSN, logger: logger}

	if err := s.migrate(ctx, cfg.ResetSchema); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("SQLite store opened", "path", cfg.DSN, "pool_size", size, "reset_schema", cfg.ResetSchema)
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, p := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, p, nil); err != nil {
			return errors.Wrap(err, componentName, "prepareConn", p)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context, reset bool) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return errors.WrapTransient(err, componentName, "migrate", "take connection")
	}
	defer s.pool.Put(conn)

	if reset {
		if err := sqlitex.ExecuteScript(conn, dropSchema, nil); err != nil {
			return errors.WrapFatal(err, componentName, "migrate", "drop schema")
		}
		s.logger.Warn("Dropped existing schema", "path", s.path)
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return errors.WrapFatal(err, componentName, "migrate", "create schema")
	}
	return nil
}

// CreateSession inserts the session row and assigns session.ID.
func (s *Store) CreateSession(ctx context.Context, session *model.Session) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return errors.WrapTransient(err, componentName, "CreateSession", "take connection")
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO session (uuid, start_time, datasource, author, title, lat, lon, time_offset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			session.UUID.String(),
			session.StartTime.UTC().Format(time.RFC3339Nano),
			nullString(session.DataSource),
			nullString(session.Author),
			nullString(session.Title),
			session.Lat,
			session.Lon,
			session.TimeOffset,
		}})
	if err != nil {
		if isDuplicate(err) {
			return errors.WrapFatal(errors.Join(errors.ErrDuplicateRow, err), componentName, "CreateSession", "insert session")
		}
		return errors.WrapTransient(err, componentName, "CreateSession", "insert session")
	}
	session.ID = conn.LastInsertRowID()
	return nil
}

const insertObject = `
INSERT INTO object (
	id, session_id, name, color, country, grp, pilot, type, platform, coalition,
	alive, first_seen, last_seen, lat, lon, alt, roll, pitch, yaw, u_coord, v_coord, heading,
	updates, secs_from_last, velocity_kts, impacted, impacted_dist, parent, parent_dist
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateObject inserts the object's first state.
func (s *Store) CreateObject(ctx context.Context, rec model.ObjectRecord) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return errors.WrapTransient(err, componentName, "CreateObject", "take connection")
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, insertObject, &sqlitex.ExecOptions{Args: objectArgs(rec)}); err != nil {
		if isDuplicate(err) {
			return errors.WrapFatal(errors.Join(errors.ErrDuplicateRow, err), componentName, "CreateObject", "insert object")
		}
		if sqlite.ErrCode(err).ToPrimary() == sqlite.ResultConstraint {
			return errors.WrapFatal(errors.Join(errors.ErrSessionMissing, err), componentName, "CreateObject", "insert object")
		}
		return errors.WrapTransient(err, componentName, "CreateObject", "insert object")
	}
	return nil
}

const updateObject = `
UPDATE object SET
	name = ?, color = ?, country = ?, grp = ?, pilot = ?, type = ?, platform = ?, coalition = ?,
	alive = ?, last_seen = ?, lat = ?, lon = ?, alt = ?, roll = ?, pitch = ?, yaw = ?,
	u_coord = ?, v_coord = ?, heading = ?, updates = ?, secs_from_last = ?, velocity_kts = ?,
	impacted = ?, impacted_dist = ?, parent = ?, parent_dist = ?
WHERE session_id = ? AND id = ?`

const insertEvent = `
INSERT INTO event (
	id, session_id, last_seen, alive, lat, lon, alt, roll, pitch, yaw,
	u_coord, v_coord, heading, velocity_kts, updates
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertImpact = `
INSERT INTO impact (session_id, killer, target, weapon, time_offset, impact_dist)
VALUES (?, ?, ?, ?, ?, ?)`

// WriteBatch applies the batch in a single IMMEDIATE transaction. An update
// for an object that was never created rolls the whole batch back.
func (s *Store) WriteBatch(ctx context.Context, batch *storage.Batch) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return errors.WrapTransient(err, componentName, "WriteBatch", "take connection")
	}
	defer s.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return errors.WrapTransient(err, componentName, "WriteBatch", "begin transaction")
	}
	defer endFn(&err)

	if sess := batch.Session; sess != nil {
		err = sqlitex.Execute(conn,
			`UPDATE session SET time_offset = ?, datasource = ?, author = ?, title = ? WHERE session_id = ?`,
			&sqlitex.ExecOptions{Args: []any{
				sess.TimeOffset, nullString(sess.DataSource), nullString(sess.Author), nullString(sess.Title), sess.ID,
			}})
		if err != nil {
			return errors.WrapTransient(err, componentName, "WriteBatch", "update session")
		}
		if conn.Changes() == 0 {
			return errors.WrapFatal(errors.ErrSessionMissing, componentName, "WriteBatch", "update session")
		}
	}

	for _, rec := range batch.Updates {
		if err = sqlitex.Execute(conn, updateObject, &sqlitex.ExecOptions{Args: updateArgs(rec)}); err != nil {
			return errors.WrapTransient(err, componentName, "WriteBatch", "update object")
		}
		if conn.Changes() == 0 {
			return errors.WrapFatal(errors.ErrBatchRejected, componentName, "WriteBatch",
				"update object "+rec.HexID()+" before create")
		}
	}

	for _, ev := range batch.Events {
		if err = sqlitex.Execute(conn, insertEvent, &sqlitex.ExecOptions{Args: eventArgs(ev)}); err != nil {
			return errors.WrapTransient(err, componentName, "WriteBatch", "insert event")
		}
	}

	for _, im := range batch.Impacts {
		err = sqlitex.Execute(conn, insertImpact, &sqlitex.ExecOptions{Args: []any{
			im.SessionID, nullInt(im.Killer), im.Target, im.Weapon, im.TimeOffset, im.ImpactDist,
		}})
		if err != nil {
			return errors.WrapTransient(err, componentName, "WriteBatch", "insert impact")
		}
	}
	return nil
}

// Close closes the pool. It blocks until borrowed connections are returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return errors.Wrap(err, componentName, "Close", "close pool")
	}
	s.logger.Info("SQLite store closed", "path", s.path)
	return nil
}

// Object reads back the stored state of one object.
func (s *Store) Object(ctx context.Context, sessionID, id int64) (rec model.ObjectRecord, found bool, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return rec, false, errors.WrapTransient(err, componentName, "Object", "take connection")
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		SELECT id, session_id, name, color, country, grp, pilot, type, platform, coalition,
			alive, first_seen, last_seen, lat, lon, alt, roll, pitch, yaw, u_coord, v_coord, heading,
			updates, secs_from_last, velocity_kts, impacted, impacted_dist, parent, parent_dist
		FROM object WHERE session_id = ? AND id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID, id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				rec = scanObject(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return rec, false, errors.Wrap(err, componentName, "Object", "select object")
	}
	return rec, found, nil
}

// Session reads back a session row.
func (s *Store) Session(ctx context.Context, id int64) (*model.Session, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, componentName, "Session", "take connection")
	}
	defer s.pool.Put(conn)

	var out *model.Session
	err = sqlitex.Execute(conn,
		`SELECT session_id, start_time, datasource, author, title, lat, lon, time_offset FROM session WHERE session_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				start, perr := time.Parse(time.RFC3339Nano, stmt.ColumnText(1))
				if perr != nil {
					return perr
				}
				out = &model.Session{
					ID:         stmt.ColumnInt64(0),
					StartTime:  start,
					DataSource: stmt.ColumnText(2),
					Author:     stmt.ColumnText(3),
					Title:      stmt.ColumnText(4),
					Lat:        stmt.ColumnFloat(5),
					Lon:        stmt.ColumnFloat(6),
					TimeOffset: stmt.ColumnFloat(7),
				}
				return nil
			},
		})
	if err != nil {
		return nil, errors.Wrap(err, componentName, "Session", "select session")
	}
	if out == nil {
		return nil, errors.WrapInvalid(errors.ErrSessionMissing, componentName, "Session", "select session")
	}
	return out, nil
}

// Count returns the number of rows in one of the session, object, event,
// impact, obj_events, or parent_summary relations.
func (s *Store) Count(ctx context.Context, relation string) (int64, error) {
	switch relation {
	case "session", "object", "event", "impact", "obj_events", "parent_summary":
	default:
		return 0, errors.WrapInvalid(errors.New(relation), componentName, "Count", "unknown relation")
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, errors.WrapTransient(err, componentName, "Count", "take connection")
	}
	defer s.pool.Put(conn)

	n, err := sqlitex.ResultInt64(conn.Prep("SELECT count(*) FROM " + relation))
	if err != nil {
		return 0, errors.Wrap(err, componentName, "Count", "count rows")
	}
	return n, nil
}

// isDuplicate reports a UNIQUE or PRIMARY KEY violation. Retrying those
// can never succeed.
func isDuplicate(err error) bool {
	switch sqlite.ErrCode(err) {
	case sqlite.ResultConstraintUnique, sqlite.ResultConstraintPrimaryKey:
		return true
	}
	return false
}
