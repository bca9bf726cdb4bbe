// Package engine wires the tracking core together: every accepted location
// report flows state store -> subscription lookup -> proximity evaluation ->
// alert state machine -> live broadcast -> notification handoff.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/alerting"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/broadcast"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/metrics"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/pipeline"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/proximity"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/state"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/subscription"
)

// Notifier is the out-of-band delivery collaborator. Deliver is
// fire-and-forget from the engine's perspective: the alert record is already
// committed when it is called, and failures must not propagate back.
type Notifier interface {
	Deliver(ctx context.Context, payload *domain.AlertPayload) error
}

// Engine is the live tracking and proximity alert core.
type Engine struct {
	store    *state.Store
	index    *subscription.Index
	eval     *proximity.Evaluator
	machine  *alerting.Machine
	hub      *broadcast.Hub
	notifier Notifier
	dispatch *pipeline.Dispatcher

	// prevDistance remembers the last computed distance per
	// (subscriber, vehicle) pair for passed-detection.
	prevDistance sync.Map // map[string]float64

	now func() time.Time
}

func New(
	store *state.Store,
	index *subscription.Index,
	eval *proximity.Evaluator,
	machine *alerting.Machine,
	hub *broadcast.Hub,
	notifier Notifier,
	dispatch *pipeline.Dispatcher,
) *Engine {
	return &Engine{
		store:    store,
		index:    index,
		eval:     eval,
		machine:  machine,
		hub:      hub,
		notifier: notifier,
		dispatch: dispatch,
		now:      time.Now,
	}
}

// Store exposes the vehicle state store for query handlers.
func (e *Engine) Store() *state.Store { return e.store }

// Index exposes the subscription index for registry sync and WS handlers.
func (e *Engine) Index() *subscription.Index { return e.index }

// Hub exposes the live broadcaster registry.
func (e *Engine) Hub() *broadcast.Hub { return e.hub }

// ProcessReport handles one live location report end to end. The state
// mutation commits first; evaluation, broadcast and notification all happen
// outside the vehicle's critical section.
func (e *Engine) ProcessReport(ctx context.Context, p domain.LocationPoint) error {
	metrics.ReportsReceived.Add(1)
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = e.now()
	}

	snap, err := e.store.RecordLocation(p)
	if err != nil {
		metrics.ReportsRejected.Add(1)
		return err
	}

	e.dispatch.DispatchPoint(p)
	e.dispatch.DispatchSnapshot(snap)
	e.fanOut(ctx, snap)
	return nil
}

// ProcessBacklog merges an offline batch and re-evaluates subscribers against
// the post-merge state. All-or-nothing: a rejected batch mutates nothing and
// triggers no fan-out.
func (e *Engine) ProcessBacklog(ctx context.Context, vehicleID string, points []domain.LocationPoint) (int, error) {
	receivedAt := e.now()
	snap, err := e.store.MergeBacklog(vehicleID, points, receivedAt)
	if err != nil {
		metrics.ReportsRejected.Add(1)
		return 0, err
	}
	metrics.BatchesMerged.Add(1)

	// Stamp the same merge receipt time the state store recorded, so the
	// durable ledger keeps the event-time vs receipt-time distinction.
	for _, p := range points {
		p.VehicleID = vehicleID
		p.ReceivedAt = receivedAt
		p.OfflineSync = true
		e.dispatch.DispatchPoint(p)
	}
	e.dispatch.DispatchSnapshot(snap)
	e.fanOut(ctx, snap)
	return len(points), nil
}

// StartDuty begins a duty session and announces it to the truck's
// subscribers.
func (e *Engine) StartDuty(ctx context.Context, vehicleID string) (state.Snapshot, error) {
	snap, err := e.store.StartDuty(vehicleID, e.now())
	if err != nil {
		return state.Snapshot{}, err
	}
	e.dispatch.DispatchSnapshot(snap)
	e.announceDuty(vehicleID, true)
	return snap, nil
}

// StopDuty ends the duty session. The cached latest position survives.
func (e *Engine) StopDuty(ctx context.Context, vehicleID string) (state.Snapshot, error) {
	snap, err := e.store.StopDuty(vehicleID)
	if err != nil {
		return state.Snapshot{}, err
	}
	e.dispatch.DispatchSnapshot(snap)
	e.announceDuty(vehicleID, false)
	return snap, nil
}

// EvaluateFor computes the current proximity result for one subscriber
// against their tracked vehicle, for initial WS state and pull-style reads.
func (e *Engine) EvaluateFor(subscriberID string) (domain.Subscriber, state.Snapshot, proximity.Result, error) {
	sub, ok := e.index.Subscriber(subscriberID)
	if !ok {
		return domain.Subscriber{}, state.Snapshot{}, proximity.Result{}, domain.ErrNotFound
	}
	vehicleID, ok := e.index.VehicleFor(subscriberID)
	if !ok {
		return sub, state.Snapshot{}, proximity.Result{}, domain.ErrNotFound
	}
	snap, err := e.store.SnapshotFor(vehicleID)
	if err != nil {
		// Vehicle assigned but not yet registered; still evaluable.
		snap = state.Snapshot{Vehicle: domain.Vehicle{ID: vehicleID}}
	}
	res := e.eval.Evaluate(sub, snap, e.loadPrevDistance(sub.ID, vehicleID), e.now())
	return sub, snap, res, nil
}

func (e *Engine) fanOut(ctx context.Context, snap state.Snapshot) {
	vehicleID := snap.Vehicle.ID
	now := e.now()

	for _, sub := range e.index.SubscribersFor(vehicleID) {
		res := e.eval.Evaluate(sub, snap, e.loadPrevDistance(sub.ID, vehicleID), now)
		if res.Tier != proximity.TierUnavailable {
			e.storePrevDistance(sub.ID, vehicleID, res.DistanceM)
		}

		e.hub.SendToSubscriber(sub.ID, broadcast.Message{
			Type:      broadcast.TypeLocationUpdate,
			Data:      locationUpdate(snap, res),
			Timestamp: now,
		})

		if res.Tier == proximity.TierUnavailable {
			continue
		}
		payload, err := e.machine.Decide(ctx, sub, vehicleID, res, snap.Latest.Latitude, snap.Latest.Longitude, now)
		if err != nil {
			log.Printf("alert decision failed subscriber=%s vehicle=%s: %v", sub.ID, vehicleID, err)
			continue
		}
		if payload == nil {
			continue
		}

		metrics.AlertsFired.Add(1)
		e.hub.SendAlert(payload)
		go e.deliver(payload)
	}
}

func (e *Engine) deliver(payload *domain.AlertPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.notifier.Deliver(ctx, payload); err != nil {
		// The record is durable; delivery is at-least-once by the
		// collaborator's own retry policy.
		metrics.DeliveryFailures.Add(1)
		log.Printf("alert delivery failed subscriber=%s kind=%s: %v", payload.SubscriberID, payload.Kind, err)
	}
}

func (e *Engine) announceDuty(vehicleID string, onDuty bool) {
	msg := broadcast.Message{
		Type:      broadcast.TypeStatusChange,
		Data:      broadcast.StatusChange{VehicleID: vehicleID, OnDuty: onDuty},
		Timestamp: e.now(),
	}
	for _, sub := range e.index.SubscribersFor(vehicleID) {
		e.hub.SendToSubscriber(sub.ID, msg)
	}
}

func (e *Engine) loadPrevDistance(subscriberID, vehicleID string) float64 {
	if v, ok := e.prevDistance.Load(subscriberID + "\x00" + vehicleID); ok {
		return v.(float64)
	}
	return -1
}

func (e *Engine) storePrevDistance(subscriberID, vehicleID string, d float64) {
	e.prevDistance.Store(subscriberID+"\x00"+vehicleID, d)
}

func locationUpdate(snap state.Snapshot, res proximity.Result) broadcast.LocationUpdate {
	u := broadcast.LocationUpdate{
		VehicleID:    snap.Vehicle.ID,
		Status:       res.Status,
		DistanceM:    res.DistanceM,
		DistanceText: res.DistanceText,
		ETAText:      res.Arrival.Text,
		ArrivalTime:  res.Arrival.Clock,
	}
	if res.ETAKnown {
		u.ETAMins = res.ETAMins
	}
	if snap.Latest != nil {
		u.Latitude = snap.Latest.Latitude
		u.Longitude = snap.Latest.Longitude
		u.SpeedKmh = snap.Latest.SpeedKmh
		u.Heading = snap.Latest.Heading
	}
	return u
}
