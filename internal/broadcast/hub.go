// Package broadcast fans computed tracking results out to connected
// real-time listeners. The hub is transport-agnostic: the WebSocket layer
// registers listeners and drains their channels, but anything that can read a
// channel can listen.
package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/metrics"
)

// Message is the envelope pushed to listeners.
type Message struct {
	Type      string      `json:"type"` // location_update | alert | status_change
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

const (
	TypeLocationUpdate = "location_update"
	TypeAlert          = "alert"
	TypeStatusChange   = "status_change"
)

// LocationUpdate is the per-subscriber tracking frame sent on every accepted
// report, whether or not an alert fired.
type LocationUpdate struct {
	VehicleID    string  `json:"vehicle_id"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	SpeedKmh     float64 `json:"speed_kmh"`
	Heading      float64 `json:"heading"`
	Status       string  `json:"status"`
	DistanceM    float64 `json:"distance_m"`
	DistanceText string  `json:"distance_text"`
	ETAMins      int     `json:"eta_mins,omitempty"`
	ETAText      string  `json:"eta_text"`
	ArrivalTime  string  `json:"arrival_time"`
}

// StatusChange announces duty transitions.
type StatusChange struct {
	VehicleID string `json:"vehicle_id"`
	OnDuty    bool   `json:"on_duty"`
}

// Listener is one connected real-time consumer. Multiple listeners may exist
// per subscriber (multi-device, multi-tab).
type Listener struct {
	ID           uuid.UUID
	SubscriberID string

	ch chan Message
}

// Messages is the listener's receive channel. It is closed on Unregister.
func (l *Listener) Messages() <-chan Message {
	return l.ch
}

// Hub is the listener registry. Delivery is non-blocking: a listener whose
// buffer is full loses the message rather than stalling ingestion or its
// peers.
type Hub struct {
	mu           sync.RWMutex
	bySubscriber map[string]map[uuid.UUID]*Listener
	bufferSize   int
	closed       bool
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Hub{
		bySubscriber: make(map[string]map[uuid.UUID]*Listener),
		bufferSize:   bufferSize,
	}
}

// Register adds a listener for the subscriber and returns its handle.
func (h *Hub) Register(subscriberID string) *Listener {
	l := &Listener{
		ID:           uuid.New(),
		SubscriberID: subscriberID,
		ch:           make(chan Message, h.bufferSize),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(l.ch)
		return l
	}
	set, ok := h.bySubscriber[subscriberID]
	if !ok {
		set = make(map[uuid.UUID]*Listener)
		h.bySubscriber[subscriberID] = set
	}
	set[l.ID] = l
	return l
}

// Unregister removes the listener and closes its channel. Safe to call more
// than once; in-flight alert logic is never affected by a disconnect.
func (h *Hub) Unregister(l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.bySubscriber[l.SubscriberID]
	if !ok {
		return
	}
	if _, ok := set[l.ID]; !ok {
		return
	}
	delete(set, l.ID)
	if len(set) == 0 {
		delete(h.bySubscriber, l.SubscriberID)
	}
	close(l.ch)
}

// Send pushes a message to a single listener. Non-blocking like
// SendToSubscriber; a no-op once the listener has been unregistered, so a
// racing disconnect never panics the sender.
func (h *Hub) Send(l *Listener, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set, ok := h.bySubscriber[l.SubscriberID]
	if !ok {
		return
	}
	if _, ok := set[l.ID]; !ok {
		return
	}
	select {
	case l.ch <- msg:
	default:
		metrics.ListenerDrops.Add(1)
	}
}

// SendToSubscriber pushes a message to every listener of the subscriber.
// Listeners with full buffers drop the message; the drop is counted.
func (h *Hub) SendToSubscriber(subscriberID string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, l := range h.bySubscriber[subscriberID] {
		select {
		case l.ch <- msg:
		default:
			metrics.ListenerDrops.Add(1)
		}
	}
}

// SendAlert pushes an alert payload to the subscriber's listeners.
func (h *Hub) SendAlert(payload *domain.AlertPayload) {
	h.SendToSubscriber(payload.SubscriberID, Message{
		Type:      TypeAlert,
		Data:      payload,
		Timestamp: payload.SentAt,
	})
}

// ListenerCount reports the number of active listeners for a subscriber.
func (h *Hub) ListenerCount(subscriberID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.bySubscriber[subscriberID])
}

// Close unregisters every listener. Register after Close returns a listener
// whose channel is already closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.bySubscriber {
		for _, l := range set {
			close(l.ch)
		}
	}
	h.bySubscriber = make(map[string]map[uuid.UUID]*Listener)
}
