package domain

import "time"

// AlertChannel selects how out-of-band alerts reach a subscriber.
type AlertChannel string

const (
	ChannelPush  AlertChannel = "push"
	ChannelVoice AlertChannel = "voice_call"
	ChannelBoth  AlertChannel = "both"
)

// Subscriber is a resident tracking a truck. The tracked vehicle is either
// chosen explicitly (VehicleID set) or derived from zone assignment.
type Subscriber struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`

	HomeLat float64 `json:"home_lat"`
	HomeLng float64 `json:"home_lng"`
	HasHome bool    `json:"has_home"`

	ZoneID    string `json:"zone_id,omitempty"`
	VehicleID string `json:"vehicle_id,omitempty"`

	AlertsEnabled bool         `json:"alert_enabled"`
	TriggerDistM  float64      `json:"alert_distance_m"`
	Channel       AlertChannel `json:"alert_channel"`

	// Timezone determines the subscriber's calendar day for alert dedup.
	// Empty means the server's local zone.
	Timezone string `json:"timezone,omitempty"`
}

// Location resolves the subscriber's timezone, falling back to server local.
func (s Subscriber) Location() *time.Location {
	if s.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// LocalDay formats t as the subscriber's calendar day, the day component of
// every alert dedup key.
func (s Subscriber) LocalDay(t time.Time) string {
	return t.In(s.Location()).Format("2006-01-02")
}
