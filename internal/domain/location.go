package domain

import "time"

// LocationPoint is a single GPS report from a truck's driver app. Points are
// append-only: once recorded they are never mutated or deleted, so route
// replay and audits can rely on the full ledger.
type LocationPoint struct {
	VehicleID string `json:"vehicle_id"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	SpeedKmh  float64 `json:"speed_kmh"`
	Heading   float64 `json:"heading"`

	// CapturedAt is the event time assigned by the device. ReceivedAt is the
	// server receipt time. Offline backlogs make ReceivedAt >> CapturedAt.
	CapturedAt time.Time `json:"captured_at"`
	ReceivedAt time.Time `json:"received_at"`

	OfflineSync bool `json:"is_offline_sync"`
}

// Vehicle is the registry view of a garbage truck. Live position and duty
// state are owned by the state store, not by this struct.
type Vehicle struct {
	ID         string `json:"id"`
	Plate      string `json:"plate"`
	Name       string `json:"name,omitempty"`
	ZoneID     string `json:"zone_id,omitempty"`
	DriverName string `json:"driver_name,omitempty"`
}

// Zone is a service ward bounded by a lat/lng rectangle. One truck serves a
// zone; residents inside it are auto-assigned to that truck.
type Zone struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// Contains reports whether the point lies inside the zone rectangle.
func (z Zone) Contains(lat, lng float64) bool {
	return z.MinLat <= lat && lat <= z.MaxLat &&
		z.MinLng <= lng && lng <= z.MaxLng
}

// ValidCoordinates reports whether lat/lng are in WGS-84 range.
func ValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
