package http

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/broadcast"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/engine"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// WSHandler upgrades resident connections and bridges them to the broadcast
// hub. A subscriber can hold several connections at once (multi-device).
type WSHandler struct {
	engine *engine.Engine
}

func NewWSHandler(e *engine.Engine) *WSHandler {
	return &WSHandler{engine: e}
}

// Track handles GET /ws/track/:subscriber_id.
func (h *WSHandler) Track(c *gin.Context) {
	subscriberID := c.Param("subscriber_id")
	if _, ok := h.engine.Index().Subscriber(subscriberID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscriber not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	listener := h.engine.Hub().Register(subscriberID)

	// Initial state so the app renders before the first live report.
	h.sendCurrentState(subscriberID)

	go h.writePump(conn, listener)
	go h.readPump(conn, listener, subscriberID)
}

func (h *WSHandler) sendCurrentState(subscriberID string) {
	_, snap, res, err := h.engine.EvaluateFor(subscriberID)
	if err != nil {
		return
	}
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
	h.engine.Hub().SendToSubscriber(subscriberID, broadcast.Message{
		Type:      broadcast.TypeLocationUpdate,
		Data:      u,
		Timestamp: time.Now(),
	})
}

// readPump consumes client messages: "ping" gets "pong", "refresh" re-sends
// the current state. Disconnects unregister the listener; the alert state
// machine is unaffected.
func (h *WSHandler) readPump(conn *websocket.Conn, listener *broadcast.Listener, subscriberID string) {
	defer func() {
		h.engine.Hub().Unregister(listener)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}

		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue // ignore malformed client messages
		}
		switch msg.Type {
		case "ping":
			// Route through the listener channel; writePump is the only
			// goroutine allowed to write to the socket.
			h.engine.Hub().Send(listener, broadcast.Message{Type: "pong", Timestamp: time.Now()})
		case "refresh":
			h.sendCurrentState(subscriberID)
		}
	}
}

// writePump drains the listener channel onto the socket and keeps the
// connection alive with pings.
func (h *WSHandler) writePump(conn *websocket.Conn, listener *broadcast.Listener) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-listener.Messages():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
