package acmi

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360/acmistream/errors"
	"github.com/c360/acmistream/model"
)

const componentName = "acmi-decoder"

// Protocol preamble lines exchanged before the ACMI body.
const (
	StreamProtocol    = "XtraLib.Stream.0"
	TelemetryProtocol = "Tacview.RealTimeTelemetry.0"
)

// TupleField is one position of the T= transform tuple.
type TupleField int

// Tuple fields
const (
	TupleLon TupleField = iota
	TupleLat
	TupleAlt
	TupleRoll
	TuplePitch
	TupleYaw
	TupleU
	TupleV
	TupleHeading
)

var tupleNames = map[string]TupleField{
	"lon":     TupleLon,
	"lat":     TupleLat,
	"alt":     TupleAlt,
	"roll":    TupleRoll,
	"pitch":   TuplePitch,
	"yaw":     TupleYaw,
	"u":       TupleU,
	"v":       TupleV,
	"heading": TupleHeading,
}

// DefaultTupleOrder is the full nine position transform as Tacview sends it.
var DefaultTupleOrder = []string{"lon", "lat", "alt", "roll", "pitch", "yaw", "u", "v", "heading"}

// ParseTupleOrder validates a tuple order. The first three positions must
// name lon, lat and alt in some order and no field may repeat.
func ParseTupleOrder(names []string) ([]TupleField, error) {
	if len(names) == 0 {
		names = DefaultTupleOrder
	}
	seen := make(map[TupleField]bool, len(names))
	order := make([]TupleField, 0, len(names))
	for i, name := range names {
		f, ok := tupleNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("%w: unknown tuple field %q", errors.ErrInvalidConfig, name)
		}
		if seen[f] {
			return nil, fmt.Errorf("%w: tuple field %q repeated", errors.ErrInvalidConfig, name)
		}
		if i < 3 && f != TupleLon && f != TupleLat && f != TupleAlt {
			return nil, fmt.Errorf("%w: tuple must start with lon, lat and alt, got %q at %d",
				errors.ErrInvalidConfig, name, i)
		}
		seen[f] = true
		order = append(order, f)
	}
	if len(order) < 3 {
		return nil, fmt.Errorf("%w: tuple needs at least lon, lat and alt", errors.ErrInvalidConfig)
	}
	return order, nil
}

// Decoder turns ACMI lines into frames. It keeps the previous tick offset and
// whether the header has been seen, so one Decoder serves one connection and
// must be Reset on reconnect. It is not safe for concurrent use.
type Decoder struct {
	order []TupleField

	lastOffset float64
	header     bool
}

// NewDecoder returns a decoder for the given tuple order. An empty order
// selects DefaultTupleOrder.
func NewDecoder(order []string) (*Decoder, error) {
	parsed, err := ParseTupleOrder(order)
	if err != nil {
		return nil, errors.WrapFatal(err, componentName, "NewDecoder", "tuple order")
	}
	return &Decoder{order: parsed}, nil
}

// Reset forgets the previous tick offset and header state.
func (d *Decoder) Reset() {
	d.lastOffset = 0
	d.header = false
}

// Decode parses one line. The line should already have continuation lines
// joined. An error is always classified invalid and means the line carried
// nothing usable.
func (d *Decoder) Decode(line string, origin Origin) (Frame, error) {
	line = strings.Trim(line, "\x00\r\n\t ")

	switch {
	case line == "":
		return Ignorable{}, nil
	case strings.HasPrefix(line, "//"):
		return Ignorable{}, nil
	case line == StreamProtocol || line == TelemetryProtocol:
		return Ignorable{}, nil
	case strings.HasPrefix(line, "FileType=") || strings.HasPrefix(line, "FileVersion="):
		d.header = true
		return Ignorable{}, nil
	case line[0] == '#':
		d.header = true
		return d.decodeTick(line[1:])
	case line[0] == '-':
		return d.decodeDelete(line[1:])
	}

	fields := splitFields(line)
	if len(fields) == 1 && !d.header {
		// Host name echoed by the server ahead of the body.
		return Ignorable{}, nil
	}

	idField := strings.TrimSpace(fields[0])
	if idField == "" {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: missing id in %q", errors.ErrMalformedLine, line),
			componentName, "Decode", "split line")
	}
	if idField == "0" {
		d.header = true
		return d.decodeReference(fields[1:]), nil
	}

	id, err := model.ParseID(idField)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrMalformedID, idField),
			componentName, "Decode", "parse id")
	}
	return d.decodeUpsert(id, fields[1:], origin), nil
}

func (d *Decoder) decodeTick(raw string) (Frame, error) {
	offset, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrMalformedTick, raw),
			componentName, "Decode", "parse tick")
	}
	delta := offset - d.lastOffset
	if offset > d.lastOffset {
		d.lastOffset = offset
	}
	return TickFrame{Offset: offset, Delta: delta}, nil
}

func (d *Decoder) decodeDelete(raw string) (Frame, error) {
	id, err := model.ParseID(raw)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrMalformedID, raw),
			componentName, "Decode", "parse delete id")
	}
	return DeleteFrame{ID: id}, nil
}

func (d *Decoder) decodeReference(tokens []string) ReferenceFrame {
	frame := ReferenceFrame{Fields: make(map[RefKey]string, len(tokens))}
	for _, token := range tokens {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			frame.Skipped = append(frame.Skipped, TokenError{Token: token, Err: errors.ErrMalformedToken})
			continue
		}
		ref := RefKey(strings.TrimSpace(key))
		if !refKeys[ref] {
			continue
		}
		value = strings.TrimSpace(value)
		if err := validateRef(ref, value); err != nil {
			frame.Skipped = append(frame.Skipped, TokenError{Token: token, Err: err})
			continue
		}
		frame.Fields[ref] = value
	}
	return frame
}

func validateRef(key RefKey, value string) error {
	switch key {
	case RefLatitude, RefLongitude:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return errors.ErrMalformedRef
		}
	case RefTime:
		if _, err := parseRefTime(value); err != nil {
			return errors.ErrMalformedRef
		}
	}
	return nil
}

func (d *Decoder) decodeUpsert(id int64, tokens []string, origin Origin) UpsertFrame {
	frame := UpsertFrame{ID: id}
	f := &frame.Fields
	for _, token := range tokens {
		key, value, ok := strings.Cut(token, "=")
		if !ok {
			frame.Skipped = append(frame.Skipped, TokenError{Token: token, Err: errors.ErrMalformedToken})
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "t":
			frame.Skipped = append(frame.Skipped, d.decodeTransform(value, origin, f)...)
		case "name":
			f.Name = model.String(value)
		case "pilot":
			f.Pilot = model.String(value)
		case "type":
			f.Type = model.String(value)
		case "color":
			f.Color = model.String(value)
		case "coalition":
			f.Coalition = model.String(value)
		case "country":
			f.Country = model.String(value)
		case "group":
			f.Grp = model.String(value)
		case "platform", "shortname":
			f.Platform = model.String(value)
		}
	}
	return frame
}

// layout returns the field for each position of an n position tuple. Tacview
// shortens the tuple to lon|lat|alt, lon|lat|alt|u|v or
// lon|lat|alt|roll|pitch|yaw when the remaining values are not known.
func (d *Decoder) layout(n int) []TupleField {
	if n == 5 {
		return append(append([]TupleField(nil), d.order[:3]...), TupleU, TupleV)
	}
	if n > len(d.order) {
		n = len(d.order)
	}
	return d.order[:n]
}

func (d *Decoder) decodeTransform(value string, origin Origin, f *model.ObjectFields) []TokenError {
	parts := strings.Split(value, "|")
	var skipped []TokenError
	for i, field := range d.layout(len(parts)) {
		raw := strings.TrimSpace(parts[i])
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			skipped = append(skipped, TokenError{
				Token: fmt.Sprintf("T[%d]=%s", i, raw),
				Err:   errors.ErrMalformedToken,
			})
			continue
		}
		switch field {
		case TupleLon:
			f.Lon = model.Float(v + origin.Lon)
		case TupleLat:
			f.Lat = model.Float(v + origin.Lat)
		case TupleAlt:
			f.Alt = model.Float(v)
		case TupleRoll:
			f.Roll = model.Float(v)
		case TuplePitch:
			f.Pitch = model.Float(v)
		case TupleYaw:
			f.Yaw = model.Float(v)
		case TupleU:
			f.U = model.Float(v)
		case TupleV:
			f.V = model.Float(v)
		case TupleHeading:
			f.Heading = model.Float(v)
		}
	}
	return skipped
}

// splitFields splits on unescaped commas. A backslash makes the next
// character literal.
func splitFields(line string) []string {
	if !strings.Contains(line, `\`) {
		return strings.Split(line, ",")
	}
	var (
		fields []string
		cur    strings.Builder
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\\' && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case c == ',':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(fields, cur.String())
}
