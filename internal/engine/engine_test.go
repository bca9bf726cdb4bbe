package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/alerting"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/broadcast"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/geo"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/pipeline"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/proximity"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/state"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/store"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/subscription"
)

const (
	truckLat = 12.9716
	truckLng = 77.5946
	// Roughly 490 m due north of the truck.
	homeLat = 12.9760
	homeLng = 77.5946
)

var engineNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

// captureNotifier records deliveries and signals each one, so tests can wait
// for the asynchronous delivery goroutine.
type captureNotifier struct {
	mu        sync.Mutex
	delivered []*domain.AlertPayload
	signal    chan *domain.AlertPayload
	err       error
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{signal: make(chan *domain.AlertPayload, 32)}
}

func (n *captureNotifier) Deliver(_ context.Context, payload *domain.AlertPayload) error {
	n.mu.Lock()
	n.delivered = append(n.delivered, payload)
	n.mu.Unlock()
	n.signal <- payload
	return n.err
}

func (n *captureNotifier) wait(t *testing.T) *domain.AlertPayload {
	t.Helper()
	select {
	case p := <-n.signal:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for alert delivery")
		return nil
	}
}

type fixture struct {
	engine   *Engine
	records  *store.MemoryStore
	notifier *captureNotifier
	hub      *broadcast.Hub
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	records := store.NewMemoryStore()
	notifier := newCaptureNotifier()
	hub := broadcast.NewHub(32)
	t.Cleanup(hub.Close)

	vehicles := state.NewStore(2 * time.Minute)
	vehicles.Register(domain.Vehicle{ID: "t1", Plate: "KA-01-HG-1234"})

	index := subscription.NewIndex()
	eval := proximity.NewEvaluator(proximity.DefaultThresholds(), geo.TrafficProfile{
		AvgSpeedKmh: 12, PeakMultiplier: 1.5, NormalMultiplier: 1.2,
	})
	machine := alerting.NewMachine(records, 500)
	dispatch := pipeline.NewDispatcher(64, 64)

	f := &fixture{
		engine:   New(vehicles, index, eval, machine, hub, notifier, dispatch),
		records:  records,
		notifier: notifier,
		hub:      hub,
		clock:    engineNow,
	}
	f.engine.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) addSubscriber(id string, enabled bool) domain.Subscriber {
	sub := domain.Subscriber{
		ID:            id,
		Name:          "Resident " + id,
		HomeLat:       homeLat,
		HomeLng:       homeLng,
		HasHome:       true,
		VehicleID:     "t1",
		AlertsEnabled: enabled,
		TriggerDistM:  1000,
		Channel:       domain.ChannelPush,
		Timezone:      "UTC",
	}
	f.engine.Index().Upsert(sub)
	return sub
}

func (f *fixture) report(t *testing.T, lat, lng, speed float64) {
	t.Helper()
	err := f.engine.ProcessReport(context.Background(), domain.LocationPoint{
		VehicleID:  "t1",
		Latitude:   lat,
		Longitude:  lng,
		SpeedKmh:   speed,
		CapturedAt: f.clock,
	})
	require.NoError(t, err)
}

func drainUntil(t *testing.T, l *broadcast.Listener, typ string) broadcast.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-l.Messages():
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s message arrived", typ)
		}
	}
}

func TestReportInArrivingRangeFiresOneAlert(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber("sub1", true)
	listener := f.hub.Register("sub1")
	defer f.hub.Unregister(listener)

	_, err := f.engine.StartDuty(context.Background(), "t1")
	require.NoError(t, err)

	f.report(t, truckLat, truckLng, 0)

	// The live frame arrives regardless of the alert.
	msg := drainUntil(t, listener, broadcast.TypeLocationUpdate)
	update, ok := msg.Data.(broadcast.LocationUpdate)
	require.True(t, ok)
	assert.Equal(t, "t1", update.VehicleID)
	assert.Equal(t, string(proximity.TierArriving), update.Status)
	assert.InDelta(t, 489, update.DistanceM, 5)
	assert.NotEmpty(t, update.ETAText)

	alertMsg := drainUntil(t, listener, broadcast.TypeAlert)
	payload, ok := alertMsg.Data.(*domain.AlertPayload)
	require.True(t, ok)
	assert.Equal(t, domain.AlertArriving, payload.Kind)
	assert.True(t, payload.PlaySound)
	assert.Equal(t, "sub1", payload.SubscriberID)

	delivered := f.notifier.wait(t)
	assert.Equal(t, domain.AlertArriving, delivered.Kind)

	// A second report at the same spot updates the screen but stays silent.
	f.clock = f.clock.Add(time.Minute)
	f.report(t, truckLat, truckLng, 0)
	drainUntil(t, listener, broadcast.TypeLocationUpdate)
	assert.Len(t, f.records.RecordsFor("sub1", "t1", engineNow), 1)
}

func TestEscalationLadder(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber("sub1", true)

	_, err := f.engine.StartDuty(context.Background(), "t1")
	require.NoError(t, err)

	// 900 m out: approaching.
	f.report(t, homeLat-900/111194.9, homeLng, 20)
	assert.Equal(t, domain.AlertApproaching, f.notifier.wait(t).Kind)

	// 489 m out: arriving.
	f.clock = f.clock.Add(time.Minute)
	f.report(t, truckLat, truckLng, 20)
	assert.Equal(t, domain.AlertArriving, f.notifier.wait(t).Kind)

	// 50 m out: here.
	f.clock = f.clock.Add(time.Minute)
	f.report(t, homeLat-50/111194.9, homeLng, 10)
	assert.Equal(t, domain.AlertHere, f.notifier.wait(t).Kind)

	// Back out to approaching range: no regression alert.
	f.clock = f.clock.Add(time.Minute)
	f.report(t, homeLat-900/111194.9, homeLng, 20)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, f.records.RecordsFor("sub1", "t1", engineNow), 3)
}

func TestDisabledSubscriberGetsUpdatesButNoAlert(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber("sub1", false)
	listener := f.hub.Register("sub1")
	defer f.hub.Unregister(listener)

	_, err := f.engine.StartDuty(context.Background(), "t1")
	require.NoError(t, err)
	f.report(t, truckLat, truckLng, 0)

	drainUntil(t, listener, broadcast.TypeLocationUpdate)
	assert.Empty(t, f.records.Records())
	assert.Empty(t, f.notifier.signal)
}

func TestOffDutyReportRejected(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber("sub1", true)

	err := f.engine.ProcessReport(context.Background(), domain.LocationPoint{
		VehicleID:  "t1",
		Latitude:   truckLat,
		Longitude:  truckLng,
		CapturedAt: engineNow,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Empty(t, f.records.Records())
}

func TestBacklogMergeEvaluatesOnce(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber("sub1", true)
	listener := f.hub.Register("sub1")
	defer f.hub.Unregister(listener)

	_, err := f.engine.StartDuty(context.Background(), "t1")
	require.NoError(t, err)

	// Offline batch out of order; the newest point is in arriving range.
	points := []domain.LocationPoint{
		{Latitude: homeLat - 2000/111194.9, Longitude: homeLng, CapturedAt: engineNow.Add(-20 * time.Minute)},
		{Latitude: truckLat, Longitude: truckLng, CapturedAt: engineNow.Add(-5 * time.Minute)},
		{Latitude: homeLat - 1500/111194.9, Longitude: homeLng, CapturedAt: engineNow.Add(-10 * time.Minute)},
	}
	n, err := f.engine.ProcessBacklog(context.Background(), "t1", points)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// One fan-out against the merged state: a single arriving alert.
	assert.Equal(t, domain.AlertArriving, f.notifier.wait(t).Kind)
	msg := drainUntil(t, listener, broadcast.TypeLocationUpdate)
	update := msg.Data.(broadcast.LocationUpdate)
	assert.InDelta(t, 489, update.DistanceM, 5)

	assert.Len(t, f.records.RecordsFor("sub1", "t1", engineNow), 1)

	// Every merged point reaches the ledger stamped with the merge receipt
	// time, same as the state store's copy.
	for i := 0; i < 3; i++ {
		select {
		case p := <-f.engine.dispatch.LedgerChan:
			assert.Equal(t, "t1", p.VehicleID)
			assert.True(t, p.OfflineSync)
			assert.True(t, p.ReceivedAt.Equal(engineNow), "ledger point received_at: %v", p.ReceivedAt)
		default:
			t.Fatalf("merged point %d was not dispatched to the ledger", i)
		}
	}
}

func TestBacklogRejectionMutatesNothing(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber("sub1", true)

	_, err := f.engine.StartDuty(context.Background(), "t1")
	require.NoError(t, err)

	_, err = f.engine.ProcessBacklog(context.Background(), "t1", []domain.LocationPoint{
		{Latitude: truckLat, Longitude: truckLng, CapturedAt: engineNow.Add(-5 * time.Minute)},
		{Latitude: truckLat, Longitude: truckLng, CapturedAt: engineNow.Add(time.Hour)},
	})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.Store().Latest("t1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, f.records.Records())
}

func TestPassedStatus(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber("sub1", true)
	listener := f.hub.Register("sub1")
	defer f.hub.Unregister(listener)

	_, err := f.engine.StartDuty(context.Background(), "t1")
	require.NoError(t, err)

	// Truck close to home, then clearly moving away.
	f.report(t, homeLat-200/111194.9, homeLng, 20)
	drainUntil(t, listener, broadcast.TypeLocationUpdate)

	f.clock = f.clock.Add(time.Minute)
	f.report(t, homeLat-400/111194.9, homeLng, 20)
	msg := drainUntil(t, listener, broadcast.TypeLocationUpdate)
	update := msg.Data.(broadcast.LocationUpdate)
	assert.Equal(t, proximity.StatusPassed, update.Status)
}

func TestDutyAnnouncements(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber("sub1", true)
	listener := f.hub.Register("sub1")
	defer f.hub.Unregister(listener)

	_, err := f.engine.StartDuty(context.Background(), "t1")
	require.NoError(t, err)
	msg := drainUntil(t, listener, broadcast.TypeStatusChange)
	change := msg.Data.(broadcast.StatusChange)
	assert.True(t, change.OnDuty)

	_, err = f.engine.StopDuty(context.Background(), "t1")
	require.NoError(t, err)
	msg = drainUntil(t, listener, broadcast.TypeStatusChange)
	change = msg.Data.(broadcast.StatusChange)
	assert.False(t, change.OnDuty)
}

func TestListenerDisconnectDoesNotAffectAlerts(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber("sub1", true)

	listener := f.hub.Register("sub1")
	f.hub.Unregister(listener)

	_, err := f.engine.StartDuty(context.Background(), "t1")
	require.NoError(t, err)
	f.report(t, truckLat, truckLng, 0)

	// No listener, but the record and the delivery still happen.
	assert.Equal(t, domain.AlertArriving, f.notifier.wait(t).Kind)
	assert.Len(t, f.records.RecordsFor("sub1", "t1", engineNow), 1)
}

func TestEvaluateFor(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber("sub1", true)

	t.Run("unknown subscriber", func(t *testing.T) {
		_, _, _, err := f.engine.EvaluateFor("ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("truck without a fix reads as not started", func(t *testing.T) {
		_, err := f.engine.StartDuty(context.Background(), "t1")
		require.NoError(t, err)
		_, _, res, err := f.engine.EvaluateFor("sub1")
		require.NoError(t, err)
		assert.Equal(t, proximity.TierUnavailable, res.Tier)
		assert.Equal(t, proximity.StatusNotStarted, res.Status)
	})

	t.Run("with a fix", func(t *testing.T) {
		f.report(t, truckLat, truckLng, 0)
		_, snap, res, err := f.engine.EvaluateFor("sub1")
		require.NoError(t, err)
		require.NotNil(t, snap.Latest)
		assert.Equal(t, proximity.TierArriving, res.Tier)
		f.notifier.wait(t)
	})
}

func TestLedgerDispatch(t *testing.T) {
	f := newFixture(t)
	f.addSubscriber("sub1", true)

	_, err := f.engine.StartDuty(context.Background(), "t1")
	require.NoError(t, err)
	f.report(t, truckLat, truckLng, 0)
	f.notifier.wait(t)

	// The accepted point was queued for the durable ledger.
	select {
	case p := <-f.engine.dispatch.LedgerChan:
		assert.Equal(t, "t1", p.VehicleID)
	default:
		t.Fatal("accepted report was not dispatched to the ledger")
	}
}
