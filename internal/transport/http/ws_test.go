package http

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/broadcast"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
)

func wsSubscriber(s *testServer) {
	s.engine.Index().Upsert(domain.Subscriber{
		ID:            "sub1",
		Name:          "Resident",
		HomeLat:       12.9760,
		HomeLng:       77.5946,
		HasHome:       true,
		VehicleID:     "t1",
		AlertsEnabled: true,
		TriggerDistM:  1000,
		Channel:       domain.ChannelPush,
	})
}

func dialWS(t *testing.T, srv *httptest.Server, subscriberID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/track/" + subscriberID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	return conn
}

func TestWebSocketTrack(t *testing.T) {
	s := newTestServer(t)
	wsSubscriber(s)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	t.Run("unknown subscriber rejected at handshake", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/track/ghost"
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, 404, resp.StatusCode)
	})

	t.Run("initial state frame on connect", func(t *testing.T) {
		conn := dialWS(t, srv, "sub1")
		defer conn.Close()

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var first struct {
			Type string `json:"type"`
		}
		require.NoError(t, conn.ReadJSON(&first))
		assert.Equal(t, broadcast.TypeLocationUpdate, first.Type)
	})
}

func TestWebSocketPongsInterleaveWithBroadcasts(t *testing.T) {
	s := newTestServer(t)
	wsSubscriber(s)
	s.startDuty(t, "t1")
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	conn := dialWS(t, srv, "sub1")
	defer conn.Close()

	// Broadcast live frames while the client keeps pinging. Pongs ride the
	// listener channel, so both message kinds leave through the one socket
	// writer and every frame must parse cleanly.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			_ = s.engine.ProcessReport(context.Background(), domain.LocationPoint{
				VehicleID:  "t1",
				Latitude:   12.9716,
				Longitude:  77.5946,
				SpeedKmh:   15,
				CapturedAt: time.Now(),
			})
			time.Sleep(time.Millisecond)
		}
	}()
	for i := 0; i < 20; i++ {
		require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	}
	<-done

	var pongs, updates int
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for (pongs == 0 || updates == 0) && pongs+updates < 200 {
		var msg struct {
			Type string `json:"type"`
		}
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Type {
		case "pong":
			pongs++
		case broadcast.TypeLocationUpdate:
			updates++
		}
	}
	assert.Positive(t, pongs)
	assert.Positive(t, updates)
}
