// Package geo holds the pure distance/bearing/ETA math used by the proximity
// evaluator. Nothing in here touches state or the clock unless the caller
// passes a time in.
package geo

import (
	"fmt"
	"math"
	"time"
)

const earthRadiusMeters = 6371000

// SpeedFloorKmh is the speed below which a truck counts as stationary and an
// ETA cannot be computed.
const SpeedFloorKmh = 1.0

// DistanceMeters returns the great-circle distance between two coordinates
// using the haversine formula on a spherical Earth.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Bearing returns the initial bearing in degrees [0, 360) from point 1 toward
// point 2.
func Bearing(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := toRad(lat1)
	p2 := toRad(lat2)
	dLng := toRad(lng2 - lng1)
	y := math.Sin(dLng) * math.Cos(p2)
	x := math.Cos(p1)*math.Sin(p2) - math.Sin(p1)*math.Cos(p2)*math.Cos(dLng)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// ETAMinutes estimates arrival in whole minutes at the given speed. The
// second return is false when the speed is under SpeedFloorKmh, meaning the
// truck is effectively stationary and no ETA exists. Any positive distance
// yields at least one minute.
func ETAMinutes(distanceM, speedKmh float64) (int, bool) {
	if speedKmh < SpeedFloorKmh {
		return 0, false
	}
	if distanceM <= 0 {
		return 0, true
	}
	metersPerMin := speedKmh * 1000 / 60
	mins := int(math.Ceil(distanceM / metersPerMin))
	if mins < 1 {
		mins = 1
	}
	return mins, true
}

// FormatDistance renders meters for display: "500 m", "1.5 km", "12 km".
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%d m", int(meters))
	}
	km := meters / 1000
	if km < 10 {
		return fmt.Sprintf("%.1f km", km)
	}
	return fmt.Sprintf("%d km", int(km))
}

// TrafficProfile tunes the display ETA for garbage-truck driving patterns:
// slow residential speeds plus rush-hour drag.
type TrafficProfile struct {
	AvgSpeedKmh      float64 // fallback when the truck is crawling or stopped
	PeakMultiplier   float64 // 7-10 and 17-20 local hours
	NormalMultiplier float64
}

// Arrival is a display-friendly ETA estimate.
type Arrival struct {
	Minutes int
	Text    string // "~8 mins"
	Clock   string // "06:53 AM"
}

// EstimateArrival produces the ETA shown in the app. Unlike ETAMinutes it
// always returns an estimate: a stopped truck falls back to the profile's
// average speed, and a moving truck's speed is dampened to account for
// house-to-house stops.
func EstimateArrival(distanceM, speedKmh float64, now time.Time, p TrafficProfile) Arrival {
	avg := p.AvgSpeedKmh
	if speedKmh > 3 {
		avg = math.Min(speedKmh*0.7, 20)
	}

	mult := p.NormalMultiplier
	hour := now.Hour()
	if (hour >= 7 && hour < 10) || (hour >= 17 && hour < 20) {
		mult = p.PeakMultiplier
	}
	effective := avg / mult

	metersPerMin := effective * 1000 / 60
	var mins float64
	if metersPerMin > 0 {
		mins = distanceM / metersPerMin
	} else {
		mins = distanceM / 200
	}
	m := int(math.Round(mins))
	if m < 1 {
		m = 1
	}

	return Arrival{
		Minutes: m,
		Text:    etaText(m),
		Clock:   now.Add(time.Duration(m) * time.Minute).Format("03:04 PM"),
	}
}

func etaText(mins int) string {
	switch {
	case mins == 1:
		return "~1 min"
	case mins < 60:
		return fmt.Sprintf("~%d mins", mins)
	default:
		h := mins / 60
		m := mins % 60
		if m > 0 {
			return fmt.Sprintf("~%dh %dm", h, m)
		}
		return fmt.Sprintf("~%dh", h)
	}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
