package sqlite

import (
	"zombiezen.com/go/sqlite"

	"github.com/c360/acmistream/model"
)

// Execute binds only an untyped nil as NULL, so
// optional fields are flattened to any first.

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

func updateArgs(r model.ObjectRecord) []any {
	return []any{
		nullString(r.Name), nullString(r.Color), nullString(r.Country), nullString(r.Grp),
		nullString(r.Pilot), nullString(r.Type), nullString(r.Platform), nullString(r.Coalition),
		r.Alive, r.LastSeen, r.Lat, r.Lon, r.Alt,
		nullFloat(r.Roll), nullFloat(r.Pitch), nullFloat(r.Yaw),
		nullFloat(r.U), nullFloat(r.V), nullFloat(r.Heading),
		r.Updates, nullFloat(r.SecsFromLast), nullFloat(r.VelocityKts),
		nullInt(r.Impacted), nullFloat(r.ImpactedDist), nullInt(r.Parent), nullFloat(r.ParentDist),
		r.SessionID, r.ID,
	}
}

func eventArgs(e model.Event) []any {
	return []any{
		e.ID, e.SessionID, e.LastSeen, e.Alive, e.Lat, e.Lon, e.Alt,
		nullFloat(e.Roll), nullFloat(e.Pitch), nullFloat(e.Yaw),
		nullFloat(e.U), nullFloat(e.V), nullFloat(e.Heading),
		nullFloat(e.VelocityKts), e.Updates,
	}
}

func columnFloat(stmt *sqlite.Stmt, col int) *float64 {
	if stmt.ColumnIsNull(col) {
		return nil
	}
	return model.Float(stmt.ColumnFloat(col))
}

func columnInt(stmt *sqlite.Stmt, col int) *int64 {
	if stmt.ColumnIsNull(col) {
		return nil
	}
	return model.Int(stmt.ColumnInt64(col))
}

func scanObject(stmt *sqlite.Stmt) model.ObjectRecord {
	return model.ObjectRecord{
		ID:           stmt.ColumnInt64(0),
		SessionID:    stmt.ColumnInt64(1),
		Name:         stmt.ColumnText(2),
		Color:        stmt.ColumnText(3),
		Country:      stmt.ColumnText(4),
		Grp:          stmt.ColumnText(5),
		Pilot:        stmt.ColumnText(6),
		Type:         stmt.ColumnText(7),
		Platform:     stmt.ColumnText(8),
		Coalition:    stmt.ColumnText(9),
		Alive:        stmt.ColumnBool(10),
		FirstSeen:    stmt.ColumnFloat(11),
		LastSeen:     stmt.ColumnFloat(12),
		Lat:          stmt.ColumnFloat(13),
		Lon:          stmt.ColumnFloat(14),
		Alt:          stmt.ColumnFloat(15),
		Roll:         columnFloat(stmt, 16),
		Pitch:        columnFloat(stmt, 17),
		Yaw:          columnFloat(stmt, 18),
		U:            columnFloat(stmt, 19),
		V:            columnFloat(stmt, 20),
		Heading:      columnFloat(stmt, 21),
		Updates:      stmt.ColumnInt(22),
		SecsFromLast: columnFloat(stmt, 23),
		VelocityKts:  columnFloat(stmt, 24),
		Impacted:     columnInt(stmt, 25),
		ImpactedDist: columnFloat(stmt, 26),
		Parent:       columnInt(stmt, 27),
		ParentDist:   columnFloat(stmt, 28),
	}
}
