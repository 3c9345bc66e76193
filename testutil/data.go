package testutil

import "time"

// Engagement fixture: a Blue F-16 (a01) launches an AIM-120 (c01) that dies
// next to a Red Su-27 (b01). The reference origin is 42N 41E.
const (
	FixtureOriginLat = 42.0
	FixtureOriginLon = 41.0

	FixtureLauncher = int64(0xa01)
	FixtureTarget   = int64(0xb01)
	FixtureMissile  = int64(0xc01)
	FixtureFlare    = int64(0xd01)
)

// FixtureStart is the ReferenceTime of the engagement.
var FixtureStart = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// FixtureHeader establishes the reference origin and session metadata.
var FixtureHeader = []string{
	"FileType=text/acmi/tacview",
	"FileVersion=2.2",
	"0,ReferenceTime=2026-01-01T12:00:00Z",
	"0,ReferenceLongitude=41",
	"0,ReferenceLatitude=42",
	"0,DataSource=DCS 2.9,Title=Training,Author=acmistream",
}

// FixtureBody is the engagement after the header. Offsets are relative to
// the origin; the missile is 5.5m from the launcher on creation and 5.5m
// from the target when it dies.
var FixtureBody = []string{
	"#0",
	"a01,T=0.1|0.1|5000|0|0|90|1000|2000|90,Type=Air+FixedWing,Name=F-16C_50,Pilot=Viper1,Color=Blue,Coalition=Allies,Country=us,Group=Viper",
	"b01,T=0.1|0.145|5000|0|0|270|1000|7000|270,Type=Air+FixedWing,Name=Su-27,Pilot=Flanker1,Color=Red,Coalition=Enemies,Country=ru,Group=Flanker",
	"#1",
	"a01,T=0.1|0.1001|5000",
	"b01,T=0.1|0.1449|5000",
	"c01,T=0.1|0.10015|5000,Type=Weapon+Missile,Name=AIM_120C,Color=Blue",
	"#2",
	"c01,T=0.1|0.14485|5000",
	"d01,T=0.1|0.1449|4990,Type=Misc+Decoy+Flare,Color=Red",
	"#3",
	"-c01",
	"-b01",
	"-d01",
	"#4",
	"a01,T=0.1|0.1002|5000",
}

// FixtureLines is the full engagement stream.
func FixtureLines() []string {
	lines := make([]string, 0, len(FixtureHeader)+len(FixtureBody))
	lines = append(lines, FixtureHeader...)
	return append(lines, FixtureBody...)
}

// MalformedLines are lines a decoder must reject or partially skip without
// stopping.
var MalformedLines = []string{
	"zz9,T=1|2|3",              // bad id
	"#notanumber",              // bad tick
	"a02,T=abc|0.1|100,Name=X", // bad tuple value, name survives
	",T=1|2|3",                 // missing id
}
