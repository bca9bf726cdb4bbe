// Package notify contains the notification delivery collaborators. Delivery
// is fire-and-forget from the engine: the alert record is durable before any
// of these run, and a failed delivery never rolls it back.
package notify

import (
	"context"
	"log"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
)

// Notifier hands an alert to an out-of-band delivery channel.
type Notifier interface {
	Deliver(ctx context.Context, payload *domain.AlertPayload) error
}

// LogNotifier just logs alerts. The default when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Deliver(_ context.Context, payload *domain.AlertPayload) error {
	log.Printf("alert subscriber=%s vehicle=%s kind=%s distance=%dm channel=%s",
		payload.SubscriberID, payload.VehicleID, payload.Kind, payload.DistanceM, payload.Channel)
	return nil
}

// Multi fans a delivery out to several notifiers. Each notifier fails
// independently; the first error is returned after all have run.
type Multi []Notifier

func (m Multi) Deliver(ctx context.Context, payload *domain.AlertPayload) error {
	var first error
	for _, n := range m {
		if err := n.Deliver(ctx, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
