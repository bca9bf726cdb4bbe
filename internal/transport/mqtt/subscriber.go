// Package mqtt ingests driver location reports over MQTT for fleets whose
// tracker hardware speaks it instead of HTTP. One topic per truck.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
)

const topicPattern = "trucks/+/location"

// Reporter is the slice of the engine the subscriber needs.
type Reporter interface {
	ProcessReport(ctx context.Context, p domain.LocationPoint) error
}

type locationMessage struct {
	VehicleID string  `json:"vehicle_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	SpeedKmh  float64 `json:"speed_kmh"`
	Heading   float64 `json:"heading"`
	Timestamp int64   `json:"timestamp"`
}

type Subscriber struct {
	client   paho.Client
	reporter Reporter
}

func NewSubscriber(client paho.Client, reporter Reporter) *Subscriber {
	return &Subscriber{client: client, reporter: reporter}
}

func (s *Subscriber) Start() error {
	token := s.client.Subscribe(topicPattern, 1, s.handleMessage)
	token.Wait()
	return token.Error()
}

func (s *Subscriber) handleMessage(_ paho.Client, msg paho.Message) {
	var raw locationMessage
	if err := json.Unmarshal(msg.Payload(), &raw); err != nil {
		log.Printf("invalid location message: %v", err)
		return
	}
	if err := validate(&raw); err != nil {
		log.Printf("location message validation: %v", err)
		return
	}

	p := domain.LocationPoint{
		VehicleID:  raw.VehicleID,
		Latitude:   raw.Latitude,
		Longitude:  raw.Longitude,
		SpeedKmh:   raw.SpeedKmh,
		Heading:    raw.Heading,
		CapturedAt: time.Unix(raw.Timestamp, 0),
		ReceivedAt: time.Now(),
	}
	if err := s.reporter.ProcessReport(context.Background(), p); err != nil {
		log.Printf("process mqtt report %s: %v", raw.VehicleID, err)
	}
}

func validate(msg *locationMessage) error {
	if msg.VehicleID == "" {
		return errors.New("vehicle_id: required")
	}
	if !domain.ValidCoordinates(msg.Latitude, msg.Longitude) {
		return errors.New("coordinates out of range")
	}
	if msg.Timestamp <= 0 {
		return errors.New("timestamp: must be positive")
	}
	return nil
}
