package attribution

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/acmistream/config"
	"github.com/c360/acmistream/metric"
	"github.com/c360/acmistream/model"
	"github.com/c360/acmistream/tracker"
)

type sliceView []*model.ObjectRecord

func (v sliceView) IterAll(fn func(*model.ObjectRecord) bool) {
	for _, r := range v {
		if !fn(r) {
			return
		}
	}
}

// metersNorth offsets lat by roughly m meters.
func metersNorth(lat, m float64) float64 {
	return lat + m/111_320.0
}

func object(id int64, typ, color string, lat, lon, alt float64) *model.ObjectRecord {
	return &model.ObjectRecord{
		ID:    id,
		Type:  typ,
		Color: color,
		Lat:   lat,
		Lon:   lon,
		Alt:   alt,
		Alive: true,
	}
}

func newEngine(t *testing.T, view View, mutate ...func(*config.AttributionConfig)) *Engine {
	t.Helper()
	cfg := config.Default().Attribution
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := NewEngine(cfg, view, Deps{})
	require.NoError(t, err)
	return e
}

func TestFindParent_ClosestSameColor(t *testing.T) {
	missile := object(10, "Weapon+Missile", "Blue", 42, 41, 5000)
	near := object(1, "Air+FixedWing", "Blue", metersNorth(42, 20), 41, 5000)
	far := object(2, "Air+FixedWing", "Blue", metersNorth(42, 60), 41, 5000)
	enemy := object(3, "Air+FixedWing", "Red", metersNorth(42, 5), 41, 5000)

	e := newEngine(t, sliceView{far, missile, enemy, near})

	match, ok := e.FindParent(missile, 0)
	require.True(t, ok)
	assert.Equal(t, int64(1), match.ID)
	assert.InDelta(t, 20, match.Dist, 0.5)
}

func TestFindParent_NeverSelf(t *testing.T) {
	missile := object(10, "Weapon+Missile", "Blue", 42, 41, 5000)
	e := newEngine(t, sliceView{missile})

	_, ok := e.FindParent(missile, 0)
	assert.False(t, ok)

	_, ok = e.FindImpactor(missile, 0)
	assert.False(t, ok)
}

func TestFindParent_EmptyPool(t *testing.T) {
	missile := object(10, "Weapon+Missile", "Blue", 42, 41, 5000)
	e := newEngine(t, sliceView{})

	_, ok := e.FindParent(missile, 0)
	assert.False(t, ok)
}

func TestFindParent_Exclusions(t *testing.T) {
	tests := []struct {
		name      string
		candidate *model.ObjectRecord
	}{
		{"another munition", object(1, "Weapon+Missile", "Blue", 42, 41, 5000)},
		{"a flare", object(1, "Misc+Decoy+Flare", "Blue", 42, 41, 5000)},
		{"a parachutist", object(1, "Ground+Light+Human+Air+Parachutist", "Blue", 42, 41, 5000)},
		{"opposing color", object(1, "Air+FixedWing", "Red", 42, 41, 5000)},
		{"outside the lat box", object(1, "Air+FixedWing", "Blue", 42.02, 41, 5000)},
		{"outside the alt box", object(1, "Air+FixedWing", "Blue", 42, 41, 7500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			missile := object(10, "Weapon+Missile", "Blue", 42, 41, 5000)
			e := newEngine(t, sliceView{tt.candidate, missile})

			_, ok := e.FindParent(missile, 0)
			assert.False(t, ok)
		})
	}
}

func TestFindParent_Threshold(t *testing.T) {
	missile := object(10, "Weapon+Missile", "Blue", 42, 41, 5000)
	launcher := object(1, "Air+FixedWing", "Blue", metersNorth(42, 150), 41, 5000)

	e := newEngine(t, sliceView{launcher, missile})
	_, ok := e.FindParent(missile, 0)
	assert.False(t, ok, "150m exceeds the default 100m threshold")

	e = newEngine(t, sliceView{launcher, missile}, func(c *config.AttributionConfig) {
		c.ParentMaxDist = 200
	})
	match, ok := e.FindParent(missile, 0)
	require.True(t, ok)
	assert.Equal(t, int64(1), match.ID)
}

func TestFindParent_VioletAcceptsBothSides(t *testing.T) {
	missile := object(10, "Weapon+Missile", "Violet", 42, 41, 5000)
	red := object(1, "Ground+Static", "Red", metersNorth(42, 30), 41, 5000)

	e := newEngine(t, sliceView{red, missile})
	match, ok := e.FindParent(missile, 0)
	require.True(t, ok)
	assert.Equal(t, int64(1), match.ID)
}

func TestFindParent_NoColor(t *testing.T) {
	missile := object(10, "Weapon+Missile", "", 42, 41, 5000)
	launcher := object(1, "Air+FixedWing", "", 42, 41, 5000)

	e := newEngine(t, sliceView{launcher, missile})
	_, ok := e.FindParent(missile, 0)
	assert.False(t, ok)
}

func TestFindParent_Lookback(t *testing.T) {
	missile := object(10, "Weapon+Missile", "Blue", 42, 41, 5000)
	launcher := object(1, "Air+FixedWing", "Blue", metersNorth(42, 10), 41, 5000)
	launcher.Alive = false
	launcher.LastSeen = 10

	e := newEngine(t, sliceView{launcher, missile}, func(c *config.AttributionConfig) {
		c.Lookback = 2 * time.Second
	})

	_, ok := e.FindParent(missile, 11.5)
	assert.True(t, ok, "died within the lookback")

	_, ok = e.FindParent(missile, 12.5)
	assert.False(t, ok, "died before the lookback")
}

func TestFindImpactor(t *testing.T) {
	missile := object(10, "Weapon+Missile", "Blue", 42, 41, 5000)
	target := object(2, "Air+Rotorcraft", "Red", metersNorth(42, 8), 41, 5000)
	friendly := object(3, "Air+FixedWing", "Blue", metersNorth(42, 2), 41, 5000)
	ground := object(4, "Ground+Vehicle", "Red", metersNorth(42, 1), 41, 5000)

	e := newEngine(t, sliceView{friendly, ground, target, missile})

	match, ok := e.FindImpactor(missile, 0)
	require.True(t, ok)
	assert.Equal(t, int64(2), match.ID)
	assert.Equal(t, "Air+Rotorcraft", match.Type)
}

func TestFindImpactor_Threshold(t *testing.T) {
	missile := object(10, "Weapon+Missile", "Red", 42, 41, 5000)
	target := object(2, "Air+FixedWing", "Blue", metersNorth(42, 300), 41, 5000)

	e := newEngine(t, sliceView{target, missile})
	_, ok := e.FindImpactor(missile, 0)
	assert.False(t, ok)
}

func TestOnCreateAndOnDeath(t *testing.T) {
	store, err := tracker.NewStore(tracker.Deps{})
	require.NoError(t, err)

	lat := 42.0
	shooter, _ := store.Upsert(1, model.ObjectFields{
		Lat: model.Float(lat), Lon: model.Float(41), Alt: model.Float(5000),
		Type: model.String("Air+FixedWing"), Color: model.String("Blue"),
	}, 0)
	target, _ := store.Upsert(2, model.ObjectFields{
		Lat: model.Float(metersNorth(lat, 5000)), Lon: model.Float(41), Alt: model.Float(5000),
		Type: model.String("Air+FixedWing"), Color: model.String("Red"),
	}, 0)
	missile, created := store.Upsert(3, model.ObjectFields{
		Lat: model.Float(metersNorth(lat, 15)), Lon: model.Float(41), Alt: model.Float(5000),
		Type: model.String("Weapon+Missile"), Color: model.String("Blue"),
	}, 0)
	require.True(t, created)
	store.SetSession(7)

	registry := metric.NewMetricsRegistry()
	e, err := NewEngine(config.Default().Attribution, store, Deps{MetricsRegistry: registry})
	require.NoError(t, err)

	require.True(t, e.OnCreate(missile, 0))
	require.NotNil(t, missile.Parent)
	assert.Equal(t, shooter.ID, *missile.Parent)
	assert.Nil(t, shooter.Parent, "candidates are never modified")

	store.Upsert(3, model.ObjectFields{Lat: model.Float(metersNorth(lat, 4990))}, 1)
	store.MarkDead(3, 1)

	impact, ok := e.OnDeath(missile, 1)
	require.True(t, ok)
	assert.Equal(t, model.Impact{
		SessionID:  7,
		Killer:     model.Int(shooter.ID),
		Target:     target.ID,
		Weapon:     missile.ID,
		TimeOffset: 1,
		ImpactDist: impact.ImpactDist,
	}, impact)
	assert.InDelta(t, 10, impact.ImpactDist, 0.5)
	assert.Equal(t, target.ID, *missile.Impacted)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.lookups.WithLabelValues(kindParent, outcomeHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.lookups.WithLabelValues(kindImpactor, outcomeHit)))
}

func TestOnCreate_SkipsIneligible(t *testing.T) {
	jet := object(1, "Air+FixedWing", "Blue", 42, 41, 5000)
	missile := object(2, "Weapon+Missile", "Blue", 42, 41, 5000)

	e := newEngine(t, sliceView{jet, missile})
	assert.False(t, e.OnCreate(jet, 0), "aircraft have no parent")

	disabled := newEngine(t, sliceView{jet, missile}, func(c *config.AttributionConfig) {
		c.Enabled = false
	})
	assert.False(t, disabled.OnCreate(missile, 0))
	_, ok := disabled.OnDeath(missile, 0)
	assert.False(t, ok)

	_, ok = e.OnDeath(object(3, "Misc+Decoy+Flare", "Blue", 42, 41, 5000), 0)
	assert.False(t, ok, "flares are not impact types")
}

func TestOnDeath_NoKiller(t *testing.T) {
	missile := object(10, "Projectile+Shell", "Red", 42, 41, 100)
	target := object(2, "Air+Rotorcraft", "Blue", 42, 41, 110)

	e := newEngine(t, sliceView{target, missile})
	impact, ok := e.OnDeath(missile, 3)
	require.True(t, ok)
	assert.Nil(t, impact.Killer)
	assert.Equal(t, int64(2), impact.Target)
	assert.Equal(t, int64(10), impact.Weapon)
}
