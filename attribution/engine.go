// Package attribution infers the launching platform (parent) and struck object
// (impactor) of munitions by nearest neighbour search over the live tracker.
package attribution

import (
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/c360/acmistream/config"
	"github.com/c360/acmistream/geo"
	"github.com/c360/acmistream/metric"
	"github.com/c360/acmistream/model"
)

// View is the read-only slice of the tracker the engine searches.
type View interface {
	IterAll(fn func(*model.ObjectRecord) bool)
}

// Match is the winning candidate of a search.
type Match struct {
	ID   int64
	Type string
	Dist float64
}

// Deps are the optional collaborators of an Engine.
type Deps struct {
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

const (
	kindParent   = "parent"
	kindImpactor = "impactor"

	outcomeHit      = "hit"
	outcomeMiss     = "miss"
	outcomeRejected = "rejected"
)

type metrics struct {
	lookups  *prometheus.CounterVec
	distance *prometheus.HistogramVec
}

func newMetrics(registry *metric.MetricsRegistry) (*metrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "attribution",
			Name:      "lookups_total",
			Help:      "Attribution searches by kind and outcome",
		}, []string{"kind", "outcome"}),
		distance: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "attribution",
			Name:      "match_distance_meters",
			Help:      "Distance to the accepted candidate",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}, []string{"kind"}),
	}
	if err := registry.RegisterCounterVec("attribution", "lookups", m.lookups); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("attribution", "match_distance", m.distance); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *metrics) record(kind, outcome string, dist float64) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(kind, outcome).Inc()
	if outcome == outcomeHit {
		m.distance.WithLabelValues(kind).Observe(dist)
	}
}

// Engine runs parent and impactor searches. Searches never modify candidates;
// OnCreate and OnDeath write the result onto the munition only.
type Engine struct {
	cfg      config.AttributionConfig
	view     View
	lookback float64

	logger  *slog.Logger
	limiter *rate.Limiter
	metrics *metrics
}

// NewEngine returns an engine searching view.
func NewEngine(cfg config.AttributionConfig, view View, deps Deps) (*Engine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "attribution")
	}
	m, err := newMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		view:     view,
		lookback: cfg.Lookback.Seconds(),
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 5),
		metrics:  m,
	}, nil
}

// Enabled reports whether attribution runs at all.
func (e *Engine) Enabled() bool { return e.cfg.Enabled }

// IsParentType reports whether records of typ are eligible for a parent search.
func (e *Engine) IsParentType(typ string) bool {
	return slices.Contains(e.cfg.ParentTypes, typ)
}

// IsImpactType reports whether records of typ are eligible for an impactor search.
func (e *Engine) IsImpactType(typ string) bool {
	return slices.Contains(e.cfg.ImpactTypes, typ)
}

// OnCreate runs the parent search for a newly created record and stores the
// match on it. It reports whether a parent was attributed.
func (e *Engine) OnCreate(rec *model.ObjectRecord, now float64) bool {
	if !e.cfg.Enabled || !e.IsParentType(rec.Type) {
		return false
	}
	match, ok := e.FindParent(rec, now)
	if !ok {
		return false
	}
	rec.Parent = model.Int(match.ID)
	rec.ParentDist = model.Float(match.Dist)
	return true
}

// OnDeath runs the impactor search for a munition that has just died. On a
// match it stores the impactor on the munition and returns the Impact to
// persist.
func (e *Engine) OnDeath(rec *model.ObjectRecord, now float64) (model.Impact, bool) {
	if !e.cfg.Enabled || !e.IsImpactType(rec.Type) {
		return model.Impact{}, false
	}
	match, ok := e.FindImpactor(rec, now)
	if !ok {
		return model.Impact{}, false
	}
	rec.Impacted = model.Int(match.ID)
	rec.ImpactedDist = model.Float(match.Dist)

	var killer *int64
	if rec.Parent != nil {
		killer = model.Int(*rec.Parent)
	}
	return model.Impact{
		SessionID:  rec.SessionID,
		Killer:     killer,
		Target:     match.ID,
		Weapon:     rec.ID,
		TimeOffset: now,
		ImpactDist: match.Dist,
	}, true
}

// FindParent returns the closest plausible launcher of munition.
func (e *Engine) FindParent(munition *model.ObjectRecord, now float64) (Match, bool) {
	colors := parentColors(munition.Color)
	if len(colors) == 0 {
		e.metrics.record(kindParent, outcomeMiss, 0)
		return Match{}, false
	}

	match, found := e.nearest(munition, now, func(c *model.ObjectRecord) bool {
		return !e.IsParentType(c.Type) &&
			c.Type != munition.Type &&
			slices.Contains(colors, c.Color)
	})
	return e.accept(kindParent, munition, match, found, e.cfg.ParentMaxDist)
}

// FindImpactor returns the closest plausible target of munition, evaluated at
// the munition's last known position.
func (e *Engine) FindImpactor(munition *model.ObjectRecord, now float64) (Match, bool) {
	colors := opposingColors(munition.Color)
	if len(colors) == 0 {
		e.metrics.record(kindImpactor, outcomeMiss, 0)
		return Match{}, false
	}

	match, found := e.nearest(munition, now, func(c *model.ObjectRecord) bool {
		return slices.Contains(colors, c.Color) && e.isTargetType(c)
	})
	return e.accept(kindImpactor, munition, match, found, e.cfg.ImpactorMaxDist)
}

func (e *Engine) accept(kind string, munition *model.ObjectRecord, match Match, found bool, maxDist float64) (Match, bool) {
	if !found {
		e.metrics.record(kind, outcomeMiss, 0)
		return Match{}, false
	}
	if match.Dist > maxDist {
		e.metrics.record(kind, outcomeRejected, match.Dist)
		if e.limiter.Allow() {
			e.logger.Warn("Rejecting closest match beyond threshold",
				"kind", kind,
				"munition", munition.HexID(),
				"munition_type", munition.Type,
				"candidate", model.FormatID(match.ID),
				"candidate_type", match.Type,
				"dist", match.Dist,
				"max_dist", maxDist)
		}
		return Match{}, false
	}
	e.metrics.record(kind, outcomeHit, match.Dist)
	e.logger.Debug("Attributed munition",
		"kind", kind,
		"munition", munition.HexID(),
		"candidate", model.FormatID(match.ID),
		"dist", match.Dist)
	return match, true
}

// nearest scans every record passing the shared filters and eligible, and
// returns the one closest to munition. Ties keep the first seen.
func (e *Engine) nearest(munition *model.ObjectRecord, now float64, eligible func(*model.ObjectRecord) bool) (Match, bool) {
	origin := geo.ToECEF(munition.Lat, munition.Lon, munition.Alt)
	best := Match{Dist: math.Inf(1)}
	found := false

	e.view.IterAll(func(c *model.ObjectRecord) bool {
		if c.ID == munition.ID {
			return true
		}
		if !c.Alive && now-c.LastSeen > e.lookback {
			return true
		}
		if !e.inBox(munition, c) || !eligible(c) {
			return true
		}
		d := geo.Distance(origin, geo.ToECEF(c.Lat, c.Lon, c.Alt))
		if d < best.Dist {
			best = Match{ID: c.ID, Type: c.Type, Dist: d}
			found = true
		}
		return true
	})
	return best, found
}

// inBox bounds candidates to a lat/lon/alt box around the munition. A zero
// extent leaves that axis unbounded.
func (e *Engine) inBox(m, c *model.ObjectRecord) bool {
	if e.cfg.BoxLatLon > 0 {
		if math.Abs(m.Lat-c.Lat) > e.cfg.BoxLatLon || math.Abs(m.Lon-c.Lon) > e.cfg.BoxLatLon {
			return false
		}
	}
	if e.cfg.BoxAlt > 0 && math.Abs(m.Alt-c.Alt) > e.cfg.BoxAlt {
		return false
	}
	return true
}

func (e *Engine) isTargetType(c *model.ObjectRecord) bool {
	return slices.ContainsFunc(e.cfg.TargetTypePrefixes, c.HasTypePrefix)
}

// parentColors returns the colors a launcher of a munition of color may have.
// Violet munitions may come from either side.
func parentColors(color string) []string {
	switch color {
	case "":
		return nil
	case "Violet":
		return []string{"Red", "Blue"}
	default:
		return []string{color}
	}
}

// opposingColors returns the colors a munition of color may strike.
func opposingColors(color string) []string {
	switch color {
	case "Blue":
		return []string{"Red"}
	case "Red":
		return []string{"Blue"}
	case "Violet":
		return []string{"Red", "Blue"}
	default:
		return nil
	}
}
