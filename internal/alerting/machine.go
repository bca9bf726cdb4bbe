// Package alerting implements the per-(subscriber, vehicle, day) alert state
// machine: monotonic tier escalation with daily deduplication backed by an
// atomic compare-and-insert record store.
package alerting

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/geo"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/proximity"
)

// RecordStore is the persistence collaborator for alert records. Implementors
// must provide atomic insert-if-absent semantics on the alert key; when two
// evaluations race, exactly one insert reports true.
type RecordStore interface {
	InsertIfAbsent(ctx context.Context, rec domain.AlertRecord) (bool, error)
	// HighestKindToday returns the most urgent kind already recorded for the
	// pair on the given day, or "" when none was.
	HighestKindToday(ctx context.Context, subscriberID, vehicleID, day string) (domain.AlertKind, error)
}

const lockStripes = 64

// Machine decides whether a proximity result warrants a new alert. Decisions
// for the same (subscriber, vehicle) pair are serialized through striped
// locks; different pairs proceed concurrently.
type Machine struct {
	records        RecordStore
	defaultTrigger float64

	locks [lockStripes]sync.Mutex
}

func NewMachine(records RecordStore, defaultTriggerM float64) *Machine {
	return &Machine{records: records, defaultTrigger: defaultTriggerM}
}

// Decide runs one transition of the state machine. It returns a payload only
// when a new alert fired; nil with a nil error means no alert was due (wrong
// tier, disabled, regression, or already sent today). The record is committed
// before the payload is returned, so delivery failures downstream can never
// undo deduplication.
func (m *Machine) Decide(ctx context.Context, sub domain.Subscriber, vehicleID string, res proximity.Result, vehicleLat, vehicleLng float64, now time.Time) (*domain.AlertPayload, error) {
	if !sub.AlertsEnabled {
		return nil, nil
	}
	kind, ok := res.Tier.AlertKind()
	if !ok {
		return nil, nil
	}
	// Approaching is additionally gated by the subscriber's own trigger
	// distance, so residents who only want close-range alerts are not paged
	// a kilometer out.
	if kind == domain.AlertApproaching && res.DistanceM > m.triggerDistance(sub) {
		return nil, nil
	}

	day := sub.LocalDay(now)

	stripe := &m.locks[stripeFor(sub.ID, vehicleID)]
	stripe.Lock()
	defer stripe.Unlock()

	highest, err := m.records.HighestKindToday(ctx, sub.ID, vehicleID, day)
	if err != nil {
		return nil, fmt.Errorf("alert dedup read %s/%s: %w", sub.ID, vehicleID, err)
	}
	if kind.Priority() <= highest.Priority() {
		// Same tier already sent, or the truck regressed to a lower tier.
		// Only forward progress fires.
		return nil, nil
	}

	rec := domain.AlertRecord{
		Key: domain.AlertKey{
			SubscriberID: sub.ID,
			VehicleID:    vehicleID,
			Day:          day,
			Kind:         kind,
		},
		SentAt:     now,
		VehicleLat: vehicleLat,
		VehicleLng: vehicleLng,
		DistanceM:  res.DistanceM,
	}
	inserted, err := m.records.InsertIfAbsent(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("alert record insert %s/%s: %w", sub.ID, vehicleID, err)
	}
	if !inserted {
		// Lost a race with a concurrent evaluation; the winner already sent.
		return nil, nil
	}

	return &domain.AlertPayload{
		SubscriberID: sub.ID,
		VehicleID:    vehicleID,
		Kind:         kind,
		DistanceM:    int(res.DistanceM),
		Message:      domain.AlertMessage(kind, geo.FormatDistance(res.DistanceM)),
		PlaySound:    kind == domain.AlertArriving || kind == domain.AlertHere,
		VehicleLat:   vehicleLat,
		VehicleLng:   vehicleLng,
		Channel:      sub.Channel,
		SentAt:       now,
	}, nil
}

func (m *Machine) triggerDistance(sub domain.Subscriber) float64 {
	if sub.TriggerDistM > 0 {
		return sub.TriggerDistM
	}
	return m.defaultTrigger
}

func stripeFor(subscriberID, vehicleID string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(subscriberID))
	h.Write([]byte{0})
	h.Write([]byte(vehicleID))
	return h.Sum32() % lockStripes
}
