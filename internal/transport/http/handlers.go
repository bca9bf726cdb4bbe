// Package http is the gin transport in front of the tracking engine: driver
// report ingest, duty toggles, resident tracking queries and the WebSocket
// upgrade route.
package http

import (
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/engine"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/geo"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/state"
)

type Handler struct {
	engine *engine.Engine
}

func NewHandler(e *engine.Engine) *Handler {
	return &Handler{engine: e}
}

type locationRequest struct {
	VehicleID  string  `json:"vehicle_id" binding:"required"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	SpeedKmh   float64 `json:"speed_kmh"`
	Heading    float64 `json:"heading"`
	CapturedAt string  `json:"captured_at" binding:"required"`
}

type batchPoint struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	SpeedKmh   float64 `json:"speed_kmh"`
	Heading    float64 `json:"heading"`
	CapturedAt string  `json:"captured_at" binding:"required"`
}

type batchRequest struct {
	VehicleID string       `json:"vehicle_id" binding:"required"`
	Locations []batchPoint `json:"locations" binding:"required"`
}

// ReportLocation ingests one live GPS report from the driver app.
func (h *Handler) ReportLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	capturedAt, err := time.Parse(time.RFC3339, req.CapturedAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "captured_at must be RFC3339"})
		return
	}

	p := domain.LocationPoint{
		VehicleID:  req.VehicleID,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		SpeedKmh:   req.SpeedKmh,
		Heading:    req.Heading,
		CapturedAt: capturedAt,
		ReceivedAt: time.Now(),
	}
	if err := h.engine.ProcessReport(c.Request.Context(), p); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "location updated"})
}

// ReportBatch ingests an offline backlog. All-or-nothing: one bad point
// rejects the whole batch.
func (h *Handler) ReportBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	points := make([]domain.LocationPoint, 0, len(req.Locations))
	for _, bp := range req.Locations {
		capturedAt, err := time.Parse(time.RFC3339, bp.CapturedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "captured_at must be RFC3339"})
			return
		}
		points = append(points, domain.LocationPoint{
			VehicleID:  req.VehicleID,
			Latitude:   bp.Latitude,
			Longitude:  bp.Longitude,
			SpeedKmh:   bp.SpeedKmh,
			Heading:    bp.Heading,
			CapturedAt: capturedAt,
		})
	}

	count, err := h.engine.ProcessBacklog(c.Request.Context(), req.VehicleID, points)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": count})
}

// StartDuty begins a duty session for a truck.
func (h *Handler) StartDuty(c *gin.Context) {
	snap, err := h.engine.StartDuty(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"vehicle_id":      snap.Vehicle.ID,
		"on_duty":         snap.OnDuty,
		"duty_started_at": snap.DutyStartedAt.Format(time.RFC3339),
	})
}

// StopDuty ends a duty session.
func (h *Handler) StopDuty(c *gin.Context) {
	snap, err := h.engine.StopDuty(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "vehicle_id": snap.Vehicle.ID, "on_duty": snap.OnDuty})
}

// Live returns a truck's latest state.
func (h *Handler) Live(c *gin.Context) {
	snap, err := h.engine.Store().Latest(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, liveView(snap))
}

// AllLive returns every truck currently on duty with a known position.
func (h *Handler) AllLive(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, snap := range h.engine.Store().Snapshots() {
		if snap.OnDuty && snap.Latest != nil {
			out = append(out, liveView(snap))
		}
	}
	c.JSON(http.StatusOK, out)
}

// History returns a truck's route for the last N minutes (default 30, max a
// day), ordered by captured-at.
func (h *Handler) History(c *gin.Context) {
	minutes := 30
	if v, ok := c.GetQuery("minutes"); ok {
		if n, err := parsePositiveInt(v); err == nil {
			minutes = n
		}
	}
	if minutes > 1440 {
		minutes = 1440
	}
	since := time.Now().Add(-time.Duration(minutes) * time.Minute)

	points, err := h.engine.Store().HistorySince(c.Param("id"), since)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

type nearbyQuery struct {
	Latitude  float64 `form:"latitude" binding:"required,min=-90,max=90"`
	Longitude float64 `form:"longitude" binding:"required,min=-180,max=180"`
	RadiusKm  float64 `form:"radius_km,default=5"`
}

// Nearby returns on-duty trucks within a radius, closest first.
func (h *Handler) Nearby(c *gin.Context) {
	var q nearbyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query: " + err.Error()})
		return
	}
	if q.RadiusKm <= 0 || q.RadiusKm > 50 {
		q.RadiusKm = 5
	}

	type hit struct {
		view gin.H
		dist float64
	}
	var hits []hit
	for _, snap := range h.engine.Store().Snapshots() {
		if !snap.OnDuty || snap.Latest == nil {
			continue
		}
		dist := geo.DistanceMeters(q.Latitude, q.Longitude, snap.Latest.Latitude, snap.Latest.Longitude)
		if dist <= q.RadiusKm*1000 {
			v := liveView(snap)
			v["distance_m"] = dist
			v["distance_text"] = geo.FormatDistance(dist)
			hits = append(hits, hit{view: v, dist: dist})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	out := make([]gin.H, len(hits))
	for i, ht := range hits {
		out[i] = ht.view
	}
	c.JSON(http.StatusOK, out)
}

// Track is the pull-style tracking endpoint for residents without a live
// connection: current truck state, distance, ETA and status for the
// subscriber's tracked vehicle.
func (h *Handler) Track(c *gin.Context) {
	sub, snap, res, err := h.engine.EvaluateFor(c.Param("subscriber_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{
		"subscriber_id": sub.ID,
		"vehicle_id":    snap.Vehicle.ID,
		"status":        res.Status,
	}
	if snap.Latest != nil {
		resp["latitude"] = snap.Latest.Latitude
		resp["longitude"] = snap.Latest.Longitude
		resp["speed_kmh"] = snap.Latest.SpeedKmh
		resp["heading"] = snap.Latest.Heading
	}
	if res.Status != "offline" && res.Status != "not_started" {
		resp["distance_m"] = res.DistanceM
		resp["distance_text"] = res.DistanceText
		resp["eta_text"] = res.Arrival.Text
		resp["arrival_time"] = res.Arrival.Clock
		if res.ETAKnown {
			resp["eta_mins"] = res.ETAMins
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func liveView(snap state.Snapshot) gin.H {
	v := gin.H{
		"vehicle_id": snap.Vehicle.ID,
		"plate":      snap.Vehicle.Plate,
		"zone_id":    snap.Vehicle.ZoneID,
		"on_duty":    snap.OnDuty,
	}
	if snap.OnDuty {
		v["duty_started_at"] = snap.DutyStartedAt.Format(time.RFC3339)
	}
	if p := snap.Latest; p != nil {
		v["latitude"] = p.Latitude
		v["longitude"] = p.Longitude
		v["speed_kmh"] = p.SpeedKmh
		v["heading"] = p.Heading
		v["captured_at"] = p.CapturedAt.Format(time.RFC3339)
	}
	return v
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.New("not a number")
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, errors.New("not positive")
	}
	return n, nil
}
