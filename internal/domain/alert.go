package domain

import (
	"fmt"
	"time"
)

// AlertKind is an escalation tier. Within one subscriber/vehicle/day, kinds
// only move forward: approaching -> arriving -> here.
type AlertKind string

const (
	AlertApproaching AlertKind = "approaching"
	AlertArriving    AlertKind = "arriving"
	AlertHere        AlertKind = "here"
)

var alertPriority = map[AlertKind]int{
	AlertApproaching: 1,
	AlertArriving:    2,
	AlertHere:        3,
}

// Priority orders kinds by urgency; unknown kinds rank below all real ones.
func (k AlertKind) Priority() int {
	return alertPriority[k]
}

// AlertKey uniquely identifies one alert decision. Day is the subscriber's
// local calendar day ("2006-01-02"); its presence in the key is what makes
// dedup roll over at midnight without a reset job.
type AlertKey struct {
	SubscriberID string    `json:"subscriber_id"`
	VehicleID    string    `json:"vehicle_id"`
	Day          string    `json:"day"`
	Kind         AlertKind `json:"kind"`
}

// AlertRecord is the durable proof that an alert fired. At most one record
// exists per key; inserts race and exactly one wins.
type AlertRecord struct {
	Key        AlertKey  `json:"key"`
	SentAt     time.Time `json:"sent_at"`
	VehicleLat float64   `json:"vehicle_lat"`
	VehicleLng float64   `json:"vehicle_lng"`
	DistanceM  float64   `json:"distance_m"`
}

// AlertPayload is what gets pushed to listeners and handed to the
// notification collaborator when an alert fires.
type AlertPayload struct {
	SubscriberID string       `json:"subscriber_id"`
	VehicleID    string       `json:"vehicle_id"`
	Kind         AlertKind    `json:"kind"`
	DistanceM    int          `json:"distance_m"`
	Message      string       `json:"message"`
	PlaySound    bool         `json:"play_sound"`
	VehicleLat   float64      `json:"vehicle_lat"`
	VehicleLng   float64      `json:"vehicle_lng"`
	Channel      AlertChannel `json:"channel"`
	SentAt       time.Time    `json:"sent_at"`
}

// AlertMessage renders the resident-facing text for a tier.
func AlertMessage(kind AlertKind, distance string) string {
	switch kind {
	case AlertApproaching:
		return fmt.Sprintf("Garbage truck is %s away!", distance)
	case AlertArriving:
		return fmt.Sprintf("Truck almost here! Only %s away!", distance)
	case AlertHere:
		return "Garbage truck has arrived at your area!"
	default:
		return "Garbage truck update"
	}
}
