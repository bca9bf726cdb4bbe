package proximity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/geo"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/state"
)

const (
	homeLat = 12.9716
	homeLng = 77.5946

	// Degrees of latitude per meter on the sphere the distance math uses.
	latPerMeter = 1.0 / 111194.9
)

var evalNow = time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

func testEvaluator() *Evaluator {
	return NewEvaluator(DefaultThresholds(), geo.TrafficProfile{
		AvgSpeedKmh: 12, PeakMultiplier: 1.5, NormalMultiplier: 1.2,
	})
}

func testSubscriber() domain.Subscriber {
	return domain.Subscriber{
		ID:            "sub1",
		HomeLat:       homeLat,
		HomeLng:       homeLng,
		HasHome:       true,
		AlertsEnabled: true,
	}
}

// snapshotAt builds an on-duty snapshot with the truck the given number of
// meters due north of the home.
func snapshotAt(meters, speedKmh float64) state.Snapshot {
	return state.Snapshot{
		Vehicle: domain.Vehicle{ID: "t1"},
		OnDuty:  true,
		Latest: &domain.LocationPoint{
			VehicleID:  "t1",
			Latitude:   homeLat + meters*latPerMeter,
			Longitude:  homeLng,
			SpeedKmh:   speedKmh,
			CapturedAt: evalNow,
		},
	}
}

func TestEvaluateTiers(t *testing.T) {
	e := testEvaluator()
	sub := testSubscriber()

	cases := []struct {
		name   string
		meters float64
		tier   Tier
	}{
		{"well outside", 2500, TierFar},
		{"just outside approaching", 1050, TierFar},
		{"approaching", 950, TierApproaching},
		{"arriving", 450, TierArriving},
		{"here", 80, TierHere},
		{"at home", 0, TierHere},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := e.Evaluate(sub, snapshotAt(tc.meters, 15), -1, evalNow)
			assert.Equal(t, tc.tier, res.Tier)
			assert.Equal(t, string(tc.tier), res.Status)
			assert.InDelta(t, tc.meters, res.DistanceM, 1)
		})
	}
}

func TestEvaluateBoundaryResolvesToNearerTier(t *testing.T) {
	sub := testSubscriber()
	snap := snapshotAt(600, 15)
	dist := geo.DistanceMeters(snap.Latest.Latitude, snap.Latest.Longitude, homeLat, homeLng)

	traffic := geo.TrafficProfile{AvgSpeedKmh: 12, PeakMultiplier: 1.5, NormalMultiplier: 1.2}

	t.Run("exactly at approaching threshold", func(t *testing.T) {
		e := NewEvaluator(Thresholds{ApproachingM: dist, ArrivingM: 500, HereM: 100}, traffic)
		res := e.Evaluate(sub, snap, -1, evalNow)
		assert.Equal(t, TierApproaching, res.Tier)
	})

	t.Run("exactly at arriving threshold", func(t *testing.T) {
		e := NewEvaluator(Thresholds{ApproachingM: 1000, ArrivingM: dist, HereM: 100}, traffic)
		res := e.Evaluate(sub, snap, -1, evalNow)
		assert.Equal(t, TierArriving, res.Tier)
	})

	t.Run("exactly at here threshold", func(t *testing.T) {
		e := NewEvaluator(Thresholds{ApproachingM: 1000, ArrivingM: 700, HereM: dist}, traffic)
		res := e.Evaluate(sub, snap, -1, evalNow)
		assert.Equal(t, TierHere, res.Tier)
	})
}

func TestEvaluateUnavailable(t *testing.T) {
	e := testEvaluator()
	sub := testSubscriber()

	t.Run("off duty truck", func(t *testing.T) {
		snap := snapshotAt(100, 15)
		snap.OnDuty = false
		res := e.Evaluate(sub, snap, -1, evalNow)
		assert.Equal(t, TierUnavailable, res.Tier)
		assert.Equal(t, StatusOffline, res.Status)
	})

	t.Run("no fix yet", func(t *testing.T) {
		snap := state.Snapshot{Vehicle: domain.Vehicle{ID: "t1"}, OnDuty: true}
		res := e.Evaluate(sub, snap, -1, evalNow)
		assert.Equal(t, TierUnavailable, res.Tier)
		assert.Equal(t, StatusNotStarted, res.Status)
	})

	t.Run("subscriber without home", func(t *testing.T) {
		noHome := sub
		noHome.HasHome = false
		res := e.Evaluate(noHome, snapshotAt(100, 15), -1, evalNow)
		assert.Equal(t, TierUnavailable, res.Tier)
	})
}

func TestEvaluatePassed(t *testing.T) {
	e := testEvaluator()
	sub := testSubscriber()

	t.Run("drift beyond 50m flips status", func(t *testing.T) {
		res := e.Evaluate(sub, snapshotAt(300, 15), 200, evalNow)
		assert.Equal(t, StatusPassed, res.Status)
		// The tier still reflects raw distance so dedup state is intact.
		assert.Equal(t, TierArriving, res.Tier)
	})

	t.Run("small drift does not", func(t *testing.T) {
		res := e.Evaluate(sub, snapshotAt(230, 15), 200, evalNow)
		assert.Equal(t, string(TierArriving), res.Status)
	})

	t.Run("unknown previous distance never passes", func(t *testing.T) {
		res := e.Evaluate(sub, snapshotAt(5000, 15), -1, evalNow)
		assert.Equal(t, string(TierFar), res.Status)
	})
}

func TestEvaluateETA(t *testing.T) {
	e := testEvaluator()
	sub := testSubscriber()

	t.Run("moving truck has strict eta", func(t *testing.T) {
		res := e.Evaluate(sub, snapshotAt(880, 18), -1, evalNow)
		require.True(t, res.ETAKnown)
		// 18 km/h is 300 m/min; 880 m rounds up to 3 minutes.
		assert.Equal(t, 3, res.ETAMins)
		assert.NotEmpty(t, res.Arrival.Text)
		assert.NotEmpty(t, res.Arrival.Clock)
	})

	t.Run("stopped truck still gets a display estimate", func(t *testing.T) {
		res := e.Evaluate(sub, snapshotAt(900, 0), -1, evalNow)
		assert.False(t, res.ETAKnown)
		assert.GreaterOrEqual(t, res.Arrival.Minutes, 1)
	})

	t.Run("distance text matches tier distance", func(t *testing.T) {
		res := e.Evaluate(sub, snapshotAt(1500, 15), -1, evalNow)
		assert.Equal(t, "1.5 km", res.DistanceText)
	})
}

func TestTierAlertKind(t *testing.T) {
	kind, ok := TierApproaching.AlertKind()
	require.True(t, ok)
	assert.Equal(t, domain.AlertApproaching, kind)

	kind, ok = TierHere.AlertKind()
	require.True(t, ok)
	assert.Equal(t, domain.AlertHere, kind)

	_, ok = TierFar.AlertKind()
	assert.False(t, ok)
	_, ok = TierUnavailable.AlertKind()
	assert.False(t, ok)
}
