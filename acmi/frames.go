package acmi

import (
	"strconv"
	"time"

	"github.com/c360/acmistream/model"
)

// Origin is the reference point relative coordinates are offset from.
type Origin struct {
	Lat float64
	Lon float64
}

// RefKey names a global property carried on a "0," line.
type RefKey string

// Recognised global properties. Others are ignored.
const (
	RefLatitude   RefKey = "ReferenceLatitude"
	RefLongitude  RefKey = "ReferenceLongitude"
	RefTime       RefKey = "ReferenceTime"
	RefDataSource RefKey = "DataSource"
	RefTitle      RefKey = "Title"
	RefAuthor     RefKey = "Author"
)

var refKeys = map[RefKey]bool{
	RefLatitude:   true,
	RefLongitude:  true,
	RefTime:       true,
	RefDataSource: true,
	RefTitle:      true,
	RefAuthor:     true,
}

// FrameKind identifies the concrete type behind a Frame.
type FrameKind int

// Frame kinds
const (
	KindIgnorable FrameKind = iota
	KindReference
	KindTick
	KindUpsert
	KindDelete
)

// String returns the label used in logs and metrics.
func (k FrameKind) String() string {
	switch k {
	case KindIgnorable:
		return "ignorable"
	case KindReference:
		return "reference"
	case KindTick:
		return "tick"
	case KindUpsert:
		return "upsert"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Frame is the decoded form of one line.
type Frame interface {
	Kind() FrameKind
}

// TokenError describes a single key=value token the decoder had to skip.
type TokenError struct {
	Token string
	Err   error
}

func (e TokenError) Error() string {
	return e.Token + ": " + e.Err.Error()
}

// Unwrap returns the underlying sentinel.
func (e TokenError) Unwrap() error { return e.Err }

// ReferenceFrame carries the recognised global properties of a "0," line.
// Values are validated before they are placed in Fields.
type ReferenceFrame struct {
	Fields  map[RefKey]string
	Skipped []TokenError
}

// Kind implements Frame.
func (ReferenceFrame) Kind() FrameKind { return KindReference }

// Latitude returns the reference latitude if the frame carries one.
func (f ReferenceFrame) Latitude() (float64, bool) {
	return f.float(RefLatitude)
}

// Longitude returns the reference longitude if the frame carries one.
func (f ReferenceFrame) Longitude() (float64, bool) {
	return f.float(RefLongitude)
}

// Time returns the reference time if the frame carries one.
func (f ReferenceFrame) Time() (time.Time, bool) {
	v, ok := f.Fields[RefTime]
	if !ok {
		return time.Time{}, false
	}
	t, err := parseRefTime(v)
	return t, err == nil
}

func (f ReferenceFrame) float(key RefKey) (float64, bool) {
	v, ok := f.Fields[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseFloat(v, 64)
	return n, err == nil
}

// TickFrame advances the logical clock. Delta is relative to the highest
// offset the decoder has seen since its last reset.
type TickFrame struct {
	Offset float64
	Delta  float64
}

// Kind implements Frame.
func (TickFrame) Kind() FrameKind { return KindTick }

// UpsertFrame creates or updates an object.
type UpsertFrame struct {
	ID      int64
	Fields  model.ObjectFields
	Skipped []TokenError
}

// Kind implements Frame.
func (UpsertFrame) Kind() FrameKind { return KindUpsert }

// DeleteFrame marks an object dead.
type DeleteFrame struct {
	ID int64
}

// Kind implements Frame.
func (DeleteFrame) Kind() FrameKind { return KindDelete }

// Ignorable is returned for blank lines, comments, headers and preamble.
type Ignorable struct{}

// Kind implements Frame.
func (Ignorable) Kind() FrameKind { return KindIgnorable }

func parseRefTime(v string) (time.Time, error) {
	// RFC 3339 parsing accepts the plain "2006-01-02T15:04:05Z" form as well as
	// fractional seconds and numeric zones.
	return time.Parse(time.RFC3339, v)
}
