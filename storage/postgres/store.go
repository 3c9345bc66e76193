// Package postgres persists sessions, objects, events, and impacts to
// PostgreSQL through lib/pq.
//
// With bulk enabled each batch is streamed with COPY into the unlogged
// object_temp and event_temp tables and merged with one UPDATE ... FROM and
// one INSERT ... SELECT. Without it every row goes through a prepared
// statement. Both paths run inside a single transaction per batch.
package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/lib/pq"

	"github.com/c360/acmistream/config"
	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/model"
	"github.com/c360/acmistream/storage"
)

const componentName = "postgres-sink"

// Store is a storage.Sink backed by a database/sql pool using lib/pq.
type Store struct {
	db     *sql.DB
	bulk   bool
	logger *slog.Logger
}

var _ storage.Sink = (*Store)(nil)

// Open connects to cfg.DSN and creates the schema. With ResetSchema the
// existing tables and views are dropped first.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, componentName, "Open", "dsn is empty")
	}
	if logger == nil {
		logger = slog.Default().With("component", componentName)
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, errors.WrapFatal(err, componentName, "Open", "parse dsn")
	}
	if cfg.PoolSize > 0 {
		db.SetMaxOpenConns(cfg.PoolSize)
		db.SetMaxIdleConns(cfg.PoolSize)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.WrapTransient(errors.Join(errors.ErrStorageUnavailable, err), componentName, "Open", "ping")
	}

	s := &Store{db: db, bulk: cfg.Bulk, logger: logger}
	if err := s.migrate(ctx, cfg.ResetSchema); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("Postgres store opened", "bulk", cfg.Bulk, "reset_schema", cfg.ResetSchema)
	return s, nil
}

func (s *Store) migrate(ctx context.Context, reset bool) error {
	if reset {
		if _, err := s.db.ExecContext(ctx, dropSchema); err != nil {
			return errors.WrapFatal(err, componentName, "migrate", "drop schema")
		}
		s.logger.Warn("Dropped existing schema")
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.WrapFatal(err, componentName, "migrate", "create schema")
		}
	}
	return nil
}

// CreateSession inserts the session row and assigns session.ID.
func (s *Store) CreateSession(ctx context.Context, session *model.Session) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO session (uuid, start_time, datasource, author, title, lat, lon, time_offset)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING session_id`,
		session.UUID.String(), session.StartTime.UTC(),
		nullString(session.DataSource), nullString(session.Author), nullString(session.Title),
		session.Lat, session.Lon, session.TimeOffset,
	).Scan(&session.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.WrapFatal(errors.Join(errors.ErrDuplicateRow, err), componentName, "CreateSession", "insert session")
		}
		return errors.WrapTransient(err, componentName, "CreateSession", "insert session")
	}
	return nil
}

// CreateObject inserts the object's first state.
func (s *Store) CreateObject(ctx context.Context, rec model.ObjectRecord) error {
	if _, err := s.db.ExecContext(ctx, insertObject, objectArgs(rec)...); err != nil {
		if isUniqueViolation(err) {
			return errors.WrapFatal(errors.Join(errors.ErrDuplicateRow, err), componentName, "CreateObject", "insert object")
		}
		if isForeignKeyViolation(err) {
			return errors.WrapFatal(errors.Join(errors.ErrSessionMissing, err), componentName, "CreateObject", "insert object")
		}
		return errors.WrapTransient(err, componentName, "CreateObject", "insert object")
	}
	return nil
}

// WriteBatch applies the batch in one transaction. An update for an object
// that was never created rolls the whole batch back.
func (s *Store) WriteBatch(ctx context.Context, batch *storage.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapTransient(errors.Join(errors.ErrStorageUnavailable, err), componentName, "WriteBatch", "begin transaction")
	}
	defer tx.Rollback()

	if sess := batch.Session; sess != nil {
		res, err := tx.ExecContext(ctx,
			`UPDATE session SET time_offset = $1, datasource = $2, author = $3, title = $4 WHERE session_id = $5`,
			sess.TimeOffset, nullString(sess.DataSource), nullString(sess.Author), nullString(sess.Title), sess.ID)
		if err != nil {
			return errors.WrapTransient(err, componentName, "WriteBatch", "update session")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.WrapFatal(errors.ErrSessionMissing, componentName, "WriteBatch", "update session")
		}
	}

	if s.bulk {
		err = s.writeBulk(ctx, tx, batch)
	} else {
		err = s.writeRows(ctx, tx, batch)
	}
	if err != nil {
		return err
	}

	if len(batch.Impacts) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertImpact)
		if err != nil {
			return errors.WrapTransient(err, componentName, "WriteBatch", "prepare impact insert")
		}
		defer stmt.Close()
		for _, im := range batch.Impacts {
			if _, err := stmt.ExecContext(ctx, im.SessionID, nullInt(im.Killer), im.Target, im.Weapon, im.TimeOffset, im.ImpactDist); err != nil {
				return errors.WrapTransient(err, componentName, "WriteBatch", "insert impact")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapTransient(err, componentName, "WriteBatch", "commit")
	}
	return nil
}

// writeBulk streams updates and events through COPY into the staging tables
// and merges them into object and event.
func (s *Store) writeBulk(ctx context.Context, tx *sql.Tx, batch *storage.Batch) error {
	if len(batch.Updates) > 0 {
		if err := copyRows(ctx, tx, "object_temp", objectColumns, len(batch.Updates), func(i int) []any {
			return objectArgs(batch.Updates[i])
		}); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, updateObjectFromTemp)
		if err != nil {
			return errors.WrapTransient(err, componentName, "writeBulk", "merge objects")
		}
		if n, _ := res.RowsAffected(); n != int64(len(batch.Updates)) {
			return errors.WrapFatal(errors.ErrBatchRejected, componentName, "writeBulk", "update objects before create")
		}
		if _, err := tx.ExecContext(ctx, `TRUNCATE object_temp`); err != nil {
			return errors.WrapTransient(err, componentName, "writeBulk", "truncate object_temp")
		}
	}

	if len(batch.Events) > 0 {
		if err := copyRows(ctx, tx, "event_temp", eventColumns, len(batch.Events), func(i int) []any {
			return eventArgs(batch.Events[i])
		}); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO event SELECT * FROM event_temp`); err != nil {
			if isForeignKeyViolation(err) {
				return errors.WrapFatal(errors.Join(errors.ErrBatchRejected, err), componentName, "writeBulk", "merge events")
			}
			return errors.WrapTransient(err, componentName, "writeBulk", "merge events")
		}
		if _, err := tx.ExecContext(ctx, `TRUNCATE event_temp`); err != nil {
			return errors.WrapTransient(err, componentName, "writeBulk", "truncate event_temp")
		}
	}
	return nil
}

func copyRows(ctx context.Context, tx *sql.Tx, table string, columns []string, n int, row func(int) []any) error {
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return errors.WrapTransient(err, componentName, "copyRows", "prepare copy into "+table)
	}
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			stmt.Close()
			return errors.WrapTransient(err, componentName, "copyRows", "copy into "+table)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return errors.WrapTransient(err, componentName, "copyRows", "flush copy into "+table)
	}
	if err := stmt.Close(); err != nil {
		return errors.WrapTransient(err, componentName, "copyRows", "close copy into "+table)
	}
	return nil
}

// writeRows is the per-record path.
func (s *Store) writeRows(ctx context.Context, tx *sql.Tx, batch *storage.Batch) error {
	if len(batch.Updates) > 0 {
		stmt, err := tx.PrepareContext(ctx, updateObject)
		if err != nil {
			return errors.WrapTransient(err, componentName, "writeRows", "prepare object update")
		}
		defer stmt.Close()
		for _, rec := range batch.Updates {
			res, err := stmt.ExecContext(ctx, updateArgs(rec)...)
			if err != nil {
				return errors.WrapTransient(err, componentName, "writeRows", "update object")
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return errors.WrapFatal(errors.ErrBatchRejected, componentName, "writeRows",
					"update object "+rec.HexID()+" before create")
			}
		}
	}

	if len(batch.Events) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertEvent)
		if err != nil {
			return errors.WrapTransient(err, componentName, "writeRows", "prepare event insert")
		}
		defer stmt.Close()
		for _, ev := range batch.Events {
			if _, err := stmt.ExecContext(ctx, eventArgs(ev)...); err != nil {
				if isForeignKeyViolation(err) {
					return errors.WrapFatal(errors.Join(errors.ErrBatchRejected, err), componentName, "writeRows", "insert event")
				}
				return errors.WrapTransient(err, componentName, "writeRows", "insert event")
			}
		}
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, componentName, "Close", "close pool")
	}
	s.logger.Info("Postgres store closed")
	return nil
}

// Count returns the number of rows of a session in one of the object,
// event, impact, obj_events, or parent_summary relations.
func (s *Store) Count(ctx context.Context, relation string, sessionID int64) (int64, error) {
	switch relation {
	case "object", "event", "impact", "obj_events", "parent_summary":
	default:
		return 0, errors.WrapInvalid(errors.New(relation), componentName, "Count", "unknown relation")
	}
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM "+relation+" WHERE session_id = $1", sessionID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, componentName, "Count", "count rows")
	}
	return n, nil
}

// Object reads back the stored state of one object.
func (s *Store) Object(ctx context.Context, sessionID, id int64) (model.ObjectRecord, error) {
	var (
		rec                                             model.ObjectRecord
		name, color, country, grp, pilot, typ, platform sql.NullString
		coalition                                       sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, name, color, country, grp, pilot, type, platform, coalition,
			alive, first_seen, last_seen, lat, lon, alt, roll, pitch, yaw, u_coord, v_coord, heading,
			updates, secs_from_last, velocity_kts, impacted, impacted_dist, parent, parent_dist
		FROM object WHERE session_id = $1 AND id = $2`, sessionID, id).Scan(
		&rec.ID, &rec.SessionID, &name, &color, &country, &grp, &pilot, &typ, &platform, &coalition,
		&rec.Alive, &rec.FirstSeen, &rec.LastSeen, &rec.Lat, &rec.Lon, &rec.Alt,
		&rec.Roll, &rec.Pitch, &rec.Yaw, &rec.U, &rec.V, &rec.Heading,
		&rec.Updates, &rec.SecsFromLast, &rec.VelocityKts,
		&rec.Impacted, &rec.ImpactedDist, &rec.Parent, &rec.ParentDist,
	)
	if err != nil {
		return rec, errors.Wrap(err, componentName, "Object", "select object")
	}
	rec.Name, rec.Color, rec.Country, rec.Grp = name.String, color.String, country.String, grp.String
	rec.Pilot, rec.Type, rec.Platform, rec.Coalition = pilot.String, typ.String, platform.String, coalition.String
	return rec, nil
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// Optional fields are flattened to untyped nil so COPY and prepared
// statements encode them the same way.

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullFloat(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func objectArgs(r model.ObjectRecord) []any {
	return []any{
		r.ID, r.SessionID,
		nullString(r.Name), nullString(r.Color), nullString(r.Country), nullString(r.Grp),
		nullString(r.Pilot), nullString(r.Type), nullString(r.Platform), nullString(r.Coalition),
		r.Alive, r.FirstSeen, r.LastSeen, r.Lat, r.Lon, r.Alt,
		nullFloat(r.Roll), nullFloat(r.Pitch), nullFloat(r.Yaw),
		nullFloat(r.U), nullFloat(r.V), nullFloat(r.Heading),
		r.Updates, nullFloat(r.SecsFromLast), nullFloat(r.VelocityKts),
		nullInt(r.Impacted), nullFloat(r.ImpactedDist), nullInt(r.Parent), nullFloat(r.ParentDist),
	}
}

// updateArgs is objectArgs without first_seen, which never changes.
func updateArgs(r model.ObjectRecord) []any {
	args := objectArgs(r)
	return append(args[:11:11], args[12:]...)
}

func eventArgs(e model.Event) []any {
	return []any{
		e.ID, e.SessionID, e.LastSeen, e.Alive, e.Lat, e.Lon, e.Alt,
		nullFloat(e.Roll), nullFloat(e.Pitch), nullFloat(e.Yaw),
		nullFloat(e.U), nullFloat(e.V), nullFloat(e.Heading),
		nullFloat(e.VelocityKts), e.Updates,
	}
}
