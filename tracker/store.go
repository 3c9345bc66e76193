// Package tracker holds the live object model rebuilt from an ACMI stream.
package tracker

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/acmistream/geo"
	"github.com/c360/acmistream/metric"
	"github.com/c360/acmistream/model"
)

// Deps are the optional collaborators of a Store.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

type metrics struct {
	tracked        prometheus.Gauge
	alive          prometheus.Gauge
	unknownDeletes prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) (*metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &metrics{
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "tracker",
			Name:      "objects",
			Help:      "Objects tracked in the current session",
		}),
		alive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace,
			Subsystem: "tracker",
			Name:      "objects_alive",
			Help:      "Tracked objects not yet marked dead",
		}),
		unknownDeletes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "tracker",
			Name:      "unknown_deletes_total",
			Help:      "Delete frames referencing an id never seen in the session",
		}),
	}

	if err := registry.RegisterGauge("tracker", "objects", m.tracked); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("tracker", "objects_alive", m.alive); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("tracker", "unknown_deletes", m.unknownDeletes); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) observe(tracked, alive int) {
	if m == nil {
		return
	}
	m.tracked.Set(float64(tracked))
	m.alive.Set(float64(alive))
}

func (m *metrics) unknownDelete() {
	if m == nil {
		return
	}
	m.unknownDeletes.Inc()
}

// Store maps object ids to their current record. Records are never removed
// during a session, only marked dead. A Store is owned by a single goroutine
// and takes no locks.
type Store struct {
	records map[int64]*model.ObjectRecord
	// positioned records whether a frame has ever supplied a position.
	positioned map[int64]bool
	order      []int64
	alive      int
	sessionID  int64

	logger  *slog.Logger
	metrics *metrics
}

// NewStore returns an empty store.
func NewStore(deps Deps) (*Store, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "tracker")
	}
	m, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, err
	}
	return &Store{
		records:    make(map[int64]*model.ObjectRecord),
		positioned: make(map[int64]bool),
		logger:     logger,
		metrics:    m,
	}, nil
}

// SetSession stamps records created from now on with the session id.
func (s *Store) SetSession(id int64) {
	s.sessionID = id
	for _, rec := range s.records {
		rec.SessionID = id
	}
}

// Upsert merges fields into the record for id at logical time tick. created
// is true when the id had not been seen before.
func (s *Store) Upsert(id int64, fields model.ObjectFields, tick float64) (rec *model.ObjectRecord, created bool) {
	rec, ok := s.records[id]
	if !ok {
		rec = &model.ObjectRecord{
			ID:        id,
			SessionID: s.sessionID,
			Alt:       model.DefaultAlt,
			FirstSeen: tick,
			LastSeen:  tick,
			Alive:     true,
			Updates:   1,
		}
		merge(rec, fields)
		s.records[id] = rec
		s.positioned[id] = fields.HasPosition()
		s.order = append(s.order, id)
		s.alive++
		s.metrics.observe(len(s.records), s.alive)
		return rec, true
	}

	hadPosition := s.positioned[id]
	prev := geo.ToECEF(rec.Lat, rec.Lon, rec.Alt)

	merge(rec, fields)
	rec.Updates++
	secs := tick - rec.LastSeen
	rec.SecsFromLast = &secs
	rec.LastSeen = tick

	rec.VelocityKts = nil
	if hadPosition {
		dist := geo.Distance(prev, geo.ToECEF(rec.Lat, rec.Lon, rec.Alt))
		if kts, ok := geo.Knots(dist, secs); ok {
			rec.VelocityKts = &kts
		}
	}
	if fields.HasPosition() {
		s.positioned[id] = true
	}
	return rec, false
}

// MarkDead flags the record for id as dead at tick. Unknown ids are logged
// and ignored.
func (s *Store) MarkDead(id int64, tick float64) (*model.ObjectRecord, bool) {
	rec, ok := s.records[id]
	if !ok {
		s.logger.Debug("Delete for unknown object", "id", model.FormatID(id))
		s.metrics.unknownDelete()
		return nil, false
	}
	if rec.Alive {
		s.alive--
	}
	rec.Alive = false
	rec.LastSeen = tick
	s.metrics.observe(len(s.records), s.alive)
	return rec, true
}

// Lookup returns the live record for id. Callers must not retain it across
// frames; use Snapshot for a detached copy.
func (s *Store) Lookup(id int64) (*model.ObjectRecord, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Snapshot returns a deep copy of the record for id.
func (s *Store) Snapshot(id int64) (model.ObjectRecord, bool) {
	rec, ok := s.records[id]
	if !ok {
		return model.ObjectRecord{}, false
	}
	return rec.Clone(), true
}

// IterAlive calls fn for each alive record in first-seen order until fn
// returns false.
func (s *Store) IterAlive(fn func(*model.ObjectRecord) bool) {
	for _, id := range s.order {
		rec := s.records[id]
		if !rec.Alive {
			continue
		}
		if !fn(rec) {
			return
		}
	}
}

// IterAll calls fn for each record, dead or alive, in first-seen order until
// fn returns false.
func (s *Store) IterAll(fn func(*model.ObjectRecord) bool) {
	for _, id := range s.order {
		if !fn(s.records[id]) {
			return
		}
	}
}

// Len returns the number of records in the session.
func (s *Store) Len() int { return len(s.records) }

// Alive returns the number of records not marked dead.
func (s *Store) Alive() int { return s.alive }

// Reset drops every record and the session id.
func (s *Store) Reset() {
	clear(s.records)
	clear(s.positioned)
	s.order = s.order[:0]
	s.alive = 0
	s.sessionID = 0
	s.metrics.observe(0, 0)
}

func merge(rec *model.ObjectRecord, f model.ObjectFields) {
	setString(&rec.Name, f.Name)
	setString(&rec.Color, f.Color)
	setString(&rec.Country, f.Country)
	setString(&rec.Grp, f.Grp)
	setString(&rec.Pilot, f.Pilot)
	setString(&rec.Type, f.Type)
	setString(&rec.Platform, f.Platform)
	setString(&rec.Coalition, f.Coalition)

	if f.Lat != nil {
		rec.Lat = *f.Lat
	}
	if f.Lon != nil {
		rec.Lon = *f.Lon
	}
	if f.Alt != nil {
		rec.Alt = *f.Alt
	}
	setFloat(&rec.Roll, f.Roll)
	setFloat(&rec.Pitch, f.Pitch)
	setFloat(&rec.Yaw, f.Yaw)
	setFloat(&rec.U, f.U)
	setFloat(&rec.V, f.V)
	setFloat(&rec.Heading, f.Heading)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst **float64, v *float64) {
	if v != nil {
		x := *v
		*dst = &x
	}
}
