package acmi

import (
	"math"
	"time"

	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/model"
)

// State of a ReferenceContext.
type State int

// Reference states
const (
	Collecting State = iota
	Ready
)

// String returns the state name.
func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "collecting"
}

// ReferenceContext accumulates the global reference properties of a
// connection and keeps its logical clock. It becomes Ready once latitude,
// longitude and time are all known; the origin is fixed from then on.
type ReferenceContext struct {
	state State

	lat, lon   *float64
	start      *time.Time
	dataSource string
	title      string
	author     string

	offset  float64
	session *model.Session
}

// NewReferenceContext returns a context in the Collecting state.
func NewReferenceContext() *ReferenceContext {
	return &ReferenceContext{}
}

// Apply merges a reference frame. On the frame that completes the reference
// it returns the new session; every other call returns a nil session.
func (r *ReferenceContext) Apply(f ReferenceFrame) (bool, *model.Session) {
	if v, ok := f.Fields[RefDataSource]; ok {
		r.dataSource = v
	}
	if v, ok := f.Fields[RefTitle]; ok {
		r.title = v
	}
	if v, ok := f.Fields[RefAuthor]; ok {
		r.author = v
	}

	if r.state == Ready {
		r.session.DataSource = r.dataSource
		r.session.Title = r.title
		r.session.Author = r.author
		return true, nil
	}

	if v, ok := f.Latitude(); ok {
		r.lat = &v
	}
	if v, ok := f.Longitude(); ok {
		r.lon = &v
	}
	if v, ok := f.Time(); ok {
		r.start = &v
	}

	if r.lat == nil || r.lon == nil || r.start == nil {
		return false, nil
	}

	r.state = Ready
	r.session = model.NewSession(*r.start, *r.lat, *r.lon)
	r.session.DataSource = r.dataSource
	r.session.Title = r.title
	r.session.Author = r.author
	r.session.TimeOffset = r.offset
	return true, r.session
}

// AdvanceTick moves the clock forward by delta seconds. A negative delta is
// rejected and the clock holds.
func (r *ReferenceContext) AdvanceTick(delta float64) error {
	if delta < 0 || math.IsNaN(delta) {
		return errors.WrapInvalid(errors.ErrNonMonotonicTick, componentName, "AdvanceTick", "advance clock")
	}
	r.offset += delta
	if r.session != nil {
		r.session.TimeOffset = r.offset
	}
	return nil
}

// State returns the current state.
func (r *ReferenceContext) State() State { return r.state }

// Ready reports whether the origin and start time are known.
func (r *ReferenceContext) Ready() bool { return r.state == Ready }

// Origin returns the reference origin. It is the zero Origin until Ready.
func (r *ReferenceContext) Origin() Origin {
	if r.state != Ready {
		return Origin{}
	}
	return Origin{Lat: *r.lat, Lon: *r.lon}
}

// Offset returns the logical clock in seconds since the reference time.
func (r *ReferenceContext) Offset() float64 { return r.offset }

// Now returns the reference time advanced by the clock, or the zero time
// before Ready.
func (r *ReferenceContext) Now() time.Time {
	if r.state != Ready {
		return time.Time{}
	}
	return r.start.Add(time.Duration(r.offset * float64(time.Second)))
}

// Session returns the session created on the transition to Ready. Its
// metadata follows later reference frames.
func (r *ReferenceContext) Session() *model.Session { return r.session }

// Reset returns the context to Collecting and clears the clock.
func (r *ReferenceContext) Reset() {
	*r = ReferenceContext{}
}
