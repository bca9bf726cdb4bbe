// Package proximity classifies how close a truck is to a subscriber's home
// and produces the distance/ETA snapshot pushed to listeners.
package proximity

import (
	"time"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/geo"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/state"
)

// Tier is the proximity classification driving the alert state machine.
type Tier string

const (
	TierUnavailable Tier = "unavailable"
	TierFar         Tier = "far"
	TierApproaching Tier = "approaching"
	TierArriving    Tier = "arriving"
	TierHere        Tier = "here"
)

// AlertKind maps an alertable tier onto its alert kind. The second return is
// false for far/unavailable.
func (t Tier) AlertKind() (domain.AlertKind, bool) {
	switch t {
	case TierApproaching:
		return domain.AlertApproaching, true
	case TierArriving:
		return domain.AlertArriving, true
	case TierHere:
		return domain.AlertHere, true
	default:
		return "", false
	}
}

// Display statuses beyond the alert tiers, mirroring what the resident app
// shows on the tracking screen.
const (
	StatusOffline    = "offline"     // truck off duty
	StatusNotStarted = "not_started" // on duty but no GPS fix yet
	StatusPassed     = "passed"      // truck moving away after coming close
)

// passedDriftMeters is how much the distance must grow over the previous
// evaluation before the truck counts as having passed the home.
const passedDriftMeters = 50

// Thresholds are the tier boundaries in meters. A distance exactly on a
// boundary resolves to the nearer tier: 500 m is arriving, not approaching.
type Thresholds struct {
	ApproachingM float64
	ArrivingM    float64
	HereM        float64
}

// DefaultThresholds matches the documented 1000/500/100 m defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{ApproachingM: 1000, ArrivingM: 500, HereM: 100}
}

// Result is one proximity evaluation for a (subscriber, vehicle) pair.
type Result struct {
	Tier   Tier
	Status string // display status; equals string(Tier) unless passed/offline/not_started

	DistanceM    float64
	DistanceText string
	BearingDeg   float64

	// ETAMins is the strict event ETA; ETAKnown is false for a stationary
	// truck. Arrival is the friendlier display estimate.
	ETAMins  int
	ETAKnown bool
	Arrival  geo.Arrival
}

// Evaluator computes proximity results. It is pure: all state (previous
// distance for passed detection) is passed in by the caller.
type Evaluator struct {
	thresholds Thresholds
	traffic    geo.TrafficProfile
}

func NewEvaluator(t Thresholds, traffic geo.TrafficProfile) *Evaluator {
	return &Evaluator{thresholds: t, traffic: traffic}
}

// Evaluate classifies the vehicle snapshot against the subscriber's home.
// prevDistance carries the distance from the previous evaluation of the same
// pair, or a negative value when unknown. Off-duty trucks, trucks without a
// fix and subscribers without a home all yield TierUnavailable, for which the
// alert machine must never fire.
func (e *Evaluator) Evaluate(sub domain.Subscriber, snap state.Snapshot, prevDistance float64, now time.Time) Result {
	if !snap.OnDuty {
		return Result{Tier: TierUnavailable, Status: StatusOffline}
	}
	if snap.Latest == nil {
		return Result{Tier: TierUnavailable, Status: StatusNotStarted}
	}
	if !sub.HasHome {
		return Result{Tier: TierUnavailable, Status: string(TierUnavailable)}
	}

	p := snap.Latest
	dist := geo.DistanceMeters(p.Latitude, p.Longitude, sub.HomeLat, sub.HomeLng)

	r := Result{
		Tier:         e.classify(dist),
		DistanceM:    dist,
		DistanceText: geo.FormatDistance(dist),
		BearingDeg:   geo.Bearing(p.Latitude, p.Longitude, sub.HomeLat, sub.HomeLng),
		Arrival:      geo.EstimateArrival(dist, p.SpeedKmh, now, e.traffic),
	}
	r.ETAMins, r.ETAKnown = geo.ETAMinutes(dist, p.SpeedKmh)
	r.Status = string(r.Tier)

	if prevDistance >= 0 && dist > prevDistance+passedDriftMeters {
		r.Status = StatusPassed
	}
	return r
}

func (e *Evaluator) classify(dist float64) Tier {
	switch {
	case dist <= e.thresholds.HereM:
		return TierHere
	case dist <= e.thresholds.ArrivingM:
		return TierArriving
	case dist <= e.thresholds.ApproachingM:
		return TierApproaching
	default:
		return TierFar
	}
}
