// Package geo converts geodetic positions to Earth-centred Cartesian coordinates
// and measures straight-line distances between them.
package geo

import "math"

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

// KnotsPerMPS converts metres per second to knots.
const KnotsPerMPS = 1.943844

// ECEF is an Earth-centred, Earth-fixed position in meters.
type ECEF struct {
	X, Y, Z float64
}

// ToECEF converts latitude and longitude in degrees and altitude in meters
// above the WGS-84 ellipsoid to ECEF.
func ToECEF(latDeg, lonDeg, altM float64) ECEF {
	lat := latDeg * math.Pi / 180.0
	lon := lonDeg * math.Pi / 180.0

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Radius of curvature in the prime vertical.
	N := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return ECEF{
		X: (N + altM) * cosLat * math.Cos(lon),
		Y: (N + altM) * cosLat * math.Sin(lon),
		Z: (N*(1-wgs84E2) + altM) * sinLat,
	}
}

// Distance returns the Euclidean distance between two ECEF points in meters.
func Distance(a, b ECEF) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Knots converts a distance covered over dt seconds to knots. It reports false
// when dt is not positive.
func Knots(distM, dtSec float64) (float64, bool) {
	if dtSec <= 0 {
		return 0, false
	}
	return distM / dtSec * KnotsPerMPS, true
}
