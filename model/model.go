// Package model defines the records the ingestion pipeline builds from an ACMI stream:
// sessions, tracked objects, per-frame events, and weapon impacts.
package model

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultAlt is the altitude an object carries until a frame supplies one.
const DefaultAlt = 1.0

// Session is one connection's worth of telemetry anchored at a reference origin.
type Session struct {
	ID         int64     `json:"session_id"`
	UUID       uuid.UUID `json:"uuid"`
	StartTime  time.Time `json:"start_time"`
	DataSource string    `json:"datasource,omitempty"`
	Title      string    `json:"title,omitempty"`
	Author     string    `json:"author,omitempty"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	TimeOffset float64   `json:"time_offset"`
}

// NewSession returns a session with a fresh UUID. The store assigns ID.
func NewSession(start time.Time, lat, lon float64) *Session {
	return &Session{
		UUID:      uuid.New(),
		StartTime: start,
		Lat:       lat,
		Lon:       lon,
	}
}

// Clone returns a copy of the session that shares nothing with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// ObjectFields carries the fields a single upsert frame supplied. A nil pointer
// means the frame did not mention the field.
type ObjectFields struct {
	Name      *string
	Color     *string
	Country   *string
	Grp       *string
	Pilot     *string
	Type      *string
	Platform  *string
	Coalition *string

	Lat     *float64
	Lon     *float64
	Alt     *float64
	Roll    *float64
	Pitch   *float64
	Yaw     *float64
	U       *float64
	V       *float64
	Heading *float64
}

// HasPosition reports whether the frame moved the object in any axis.
func (f ObjectFields) HasPosition() bool {
	return f.Lat != nil || f.Lon != nil || f.Alt != nil
}

// ObjectRecord is the tracker's view of one object over its lifetime.
type ObjectRecord struct {
	ID        int64  `json:"id"`
	SessionID int64  `json:"session_id"`
	Name      string `json:"name,omitempty"`
	Color     string `json:"color,omitempty"`
	Country   string `json:"country,omitempty"`
	Grp       string `json:"grp,omitempty"`
	Pilot     string `json:"pilot,omitempty"`
	Type      string `json:"type,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Coalition string `json:"coalition,omitempty"`

	Lat     float64  `json:"lat"`
	Lon     float64  `json:"lon"`
	Alt     float64  `json:"alt"`
	Roll    *float64 `json:"roll,omitempty"`
	Pitch   *float64 `json:"pitch,omitempty"`
	Yaw     *float64 `json:"yaw,omitempty"`
	U       *float64 `json:"u_coord,omitempty"`
	V       *float64 `json:"v_coord,omitempty"`
	Heading *float64 `json:"heading,omitempty"`

	FirstSeen    float64  `json:"first_seen"`
	LastSeen     float64  `json:"last_seen"`
	Alive        bool     `json:"alive"`
	Updates      int      `json:"updates"`
	SecsFromLast *float64 `json:"secs_from_last,omitempty"`
	VelocityKts  *float64 `json:"velocity_kts,omitempty"`

	Parent       *int64   `json:"parent,omitempty"`
	ParentDist   *float64 `json:"parent_dist,omitempty"`
	Impacted     *int64   `json:"impacted,omitempty"`
	ImpactedDist *float64 `json:"impacted_dist,omitempty"`
}

// HexID returns the id in the lowercase hex form used on the wire.
func (r *ObjectRecord) HexID() string {
	return FormatID(r.ID)
}

// HasTypePrefix reports whether the record's type starts with prefix.
func (r *ObjectRecord) HasTypePrefix(prefix string) bool {
	return strings.HasPrefix(r.Type, prefix)
}

// Clone returns a deep copy of the record. The copy can be handed to another
// goroutine without sharing any pointer with r.
func (r *ObjectRecord) Clone() ObjectRecord {
	c := *r
	c.Roll = cloneFloat(r.Roll)
	c.Pitch = cloneFloat(r.Pitch)
	c.Yaw = cloneFloat(r.Yaw)
	c.U = cloneFloat(r.U)
	c.V = cloneFloat(r.V)
	c.Heading = cloneFloat(r.Heading)
	c.SecsFromLast = cloneFloat(r.SecsFromLast)
	c.VelocityKts = cloneFloat(r.VelocityKts)
	c.ParentDist = cloneFloat(r.ParentDist)
	c.ImpactedDist = cloneFloat(r.ImpactedDist)
	c.Parent = cloneInt(r.Parent)
	c.Impacted = cloneInt(r.Impacted)
	return c
}

// ToEvent snapshots the kinematic and lifecycle state of the record.
func (r *ObjectRecord) ToEvent() Event {
	return Event{
		ID:          r.ID,
		SessionID:   r.SessionID,
		LastSeen:    r.LastSeen,
		Alive:       r.Alive,
		Lat:         r.Lat,
		Lon:         r.Lon,
		Alt:         r.Alt,
		Roll:        cloneFloat(r.Roll),
		Pitch:       cloneFloat(r.Pitch),
		Yaw:         cloneFloat(r.Yaw),
		U:           cloneFloat(r.U),
		V:           cloneFloat(r.V),
		Heading:     cloneFloat(r.Heading),
		VelocityKts: cloneFloat(r.VelocityKts),
		Updates:     r.Updates,
	}
}

// Event is an immutable snapshot of one applied frame.
type Event struct {
	ID          int64    `json:"id"`
	SessionID   int64    `json:"session_id"`
	LastSeen    float64  `json:"last_seen"`
	Alive       bool     `json:"alive"`
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Alt         float64  `json:"alt"`
	Roll        *float64 `json:"roll,omitempty"`
	Pitch       *float64 `json:"pitch,omitempty"`
	Yaw         *float64 `json:"yaw,omitempty"`
	U           *float64 `json:"u_coord,omitempty"`
	V           *float64 `json:"v_coord,omitempty"`
	Heading     *float64 `json:"heading,omitempty"`
	VelocityKts *float64 `json:"velocity_kts,omitempty"`
	Updates     int      `json:"updates"`
}

// Impact records a munition reaching an impactor. Killer is the munition's
// parent and is nil when no shooter was attributed.
type Impact struct {
	SessionID  int64   `json:"session_id"`
	Killer     *int64  `json:"killer,omitempty"`
	Target     int64   `json:"target"`
	Weapon     int64   `json:"weapon"`
	TimeOffset float64 `json:"time_offset"`
	ImpactDist float64 `json:"impact_dist"`
}

// ParseID parses a hexadecimal object id as it appears on the wire.
func ParseID(s string) (int64, error) {
	u, err := strconv.ParseUint(strings.TrimSpace(s), 16, 64)
	if err != nil {
		return 0, err
	}
	return int64(u), nil
}

// FormatID renders an id in lowercase hex.
func FormatID(id int64) string {
	return strconv.FormatUint(uint64(id), 16)
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int64) *int64 { return &v }

// String returns a pointer to v.
func String(v string) *string { return &v }

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
