package geo

import (
	"math"
	"testing"
)

func magnitude(p ECEF) float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

func TestToECEF_Magnitude(t *testing.T) {
	// Sea level on the equator sits on the semi-major axis.
	if mag := magnitude(ToECEF(0, 0, 0)); math.Abs(mag-6378137.0) > 1.0 {
		t.Errorf("equatorial ECEF magnitude = %.1f m, want ~6378137 m", mag)
	}

	// The pole sits on the semi-minor axis.
	if mag := magnitude(ToECEF(90, 0, 0)); math.Abs(mag-6356752.3) > 1.0 {
		t.Errorf("polar ECEF magnitude = %.1f m, want ~6356752 m", mag)
	}
}

func TestToECEF_Altitude(t *testing.T) {
	diff := magnitude(ToECEF(0, 0, 100)) - magnitude(ToECEF(0, 0, 0))
	if math.Abs(diff-100.0) > 0.01 {
		t.Errorf("altitude difference = %.3f m, want 100 m", diff)
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name       string
		a, b       [3]float64
		want, tolM float64
	}{
		{"same point", [3]float64{42, 41, 1000}, [3]float64{42, 41, 1000}, 0, 1e-6},
		{"vertical", [3]float64{42, 41, 1000}, [3]float64{42, 41, 1100}, 100, 0.01},
		// One degree of longitude on the equator is about 111.32 km.
		{"equator degree", [3]float64{0, 0, 0}, [3]float64{0, 1, 0}, 111319.5, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(ToECEF(tt.a[0], tt.a[1], tt.a[2]), ToECEF(tt.b[0], tt.b[1], tt.b[2]))
			if math.Abs(got-tt.want) > tt.tolM {
				t.Errorf("distance = %.3f m, want %.3f m", got, tt.want)
			}
		})
	}
}

func TestKnots(t *testing.T) {
	got, ok := Knots(100, 1)
	if !ok || math.Abs(got-194.3844) > 1e-9 {
		t.Errorf("Knots(100, 1) = %v, %v", got, ok)
	}

	if _, ok := Knots(100, 0); ok {
		t.Error("zero dt must not produce a velocity")
	}
	if _, ok := Knots(100, -1); ok {
		t.Error("negative dt must not produce a velocity")
	}
}
