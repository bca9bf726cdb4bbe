package alerting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/domain"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/proximity"
	"github.com/Where-is-my-garbage-Truck/truck-tracker/internal/store"
)

var decideAt = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func testMachine() (*Machine, *store.MemoryStore) {
	records := store.NewMemoryStore()
	return NewMachine(records, 500), records
}

func alertingSub() domain.Subscriber {
	return domain.Subscriber{
		ID:            "sub1",
		HasHome:       true,
		AlertsEnabled: true,
		TriggerDistM:  1000,
		Channel:       domain.ChannelPush,
		Timezone:      "UTC",
	}
}

func result(tier proximity.Tier, distanceM float64) proximity.Result {
	return proximity.Result{Tier: tier, Status: string(tier), DistanceM: distanceM}
}

func TestDecideFiresOncePerTierPerDay(t *testing.T) {
	m, records := testMachine()
	sub := alertingSub()
	ctx := context.Background()

	payload, err := m.Decide(ctx, sub, "t1", result(proximity.TierArriving, 450), 12.97, 77.59, decideAt)
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, domain.AlertArriving, payload.Kind)
	assert.Equal(t, 450, payload.DistanceM)
	assert.True(t, payload.PlaySound)
	assert.Equal(t, domain.ChannelPush, payload.Channel)
	assert.Equal(t, "Truck almost here! Only 450 m away!", payload.Message)

	// Same tier minutes later, same day: silence.
	payload, err = m.Decide(ctx, sub, "t1", result(proximity.TierArriving, 430), 12.97, 77.59, decideAt.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, payload)

	assert.Len(t, records.RecordsFor("sub1", "t1", decideAt), 1)
}

func TestDecideEscalatesButNeverRegresses(t *testing.T) {
	m, records := testMachine()
	sub := alertingSub()
	ctx := context.Background()

	payload, err := m.Decide(ctx, sub, "t1", result(proximity.TierApproaching, 900), 0, 0, decideAt)
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, domain.AlertApproaching, payload.Kind)
	assert.False(t, payload.PlaySound)

	// Truck backs out to approaching range after an arriving alert: no
	// re-fire at the lower tier.
	payload, err = m.Decide(ctx, sub, "t1", result(proximity.TierArriving, 480), 0, 0, decideAt.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, payload)

	payload, err = m.Decide(ctx, sub, "t1", result(proximity.TierApproaching, 800), 0, 0, decideAt.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Nil(t, payload)

	// Forward progress to here still fires.
	payload, err = m.Decide(ctx, sub, "t1", result(proximity.TierHere, 60), 0, 0, decideAt.Add(3*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.True(t, payload.PlaySound)
	assert.Equal(t, "Garbage truck has arrived at your area!", payload.Message)

	assert.Len(t, records.RecordsFor("sub1", "t1", decideAt), 3)
}

func TestDecideDailyRollover(t *testing.T) {
	m, _ := testMachine()
	sub := alertingSub()
	ctx := context.Background()

	payload, err := m.Decide(ctx, sub, "t1", result(proximity.TierHere, 50), 0, 0, decideAt)
	require.NoError(t, err)
	require.NotNil(t, payload)

	// Next day the whole ladder is available again.
	nextDay := decideAt.Add(24 * time.Hour)
	payload, err = m.Decide(ctx, sub, "t1", result(proximity.TierApproaching, 900), 0, 0, nextDay)
	require.NoError(t, err)
	assert.NotNil(t, payload)
}

func TestDecideLocalDayBoundary(t *testing.T) {
	m, _ := testMachine()
	sub := alertingSub()
	sub.Timezone = "Asia/Kolkata" // UTC+5:30
	ctx := context.Background()

	// 17:00 UTC is 22:30 local; 19:00 UTC is 00:30 the next local day.
	evening := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)
	payload, err := m.Decide(ctx, sub, "t1", result(proximity.TierHere, 50), 0, 0, evening)
	require.NoError(t, err)
	require.NotNil(t, payload)

	afterMidnight := time.Date(2026, 3, 10, 19, 0, 0, 0, time.UTC)
	payload, err = m.Decide(ctx, sub, "t1", result(proximity.TierHere, 50), 0, 0, afterMidnight)
	require.NoError(t, err)
	assert.NotNil(t, payload)
}

func TestDecideGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled subscriber never records", func(t *testing.T) {
		m, records := testMachine()
		sub := alertingSub()
		sub.AlertsEnabled = false

		payload, err := m.Decide(ctx, sub, "t1", result(proximity.TierHere, 50), 0, 0, decideAt)
		require.NoError(t, err)
		assert.Nil(t, payload)
		assert.Empty(t, records.Records())
	})

	t.Run("far and unavailable tiers never fire", func(t *testing.T) {
		m, records := testMachine()
		sub := alertingSub()

		payload, err := m.Decide(ctx, sub, "t1", result(proximity.TierFar, 3000), 0, 0, decideAt)
		require.NoError(t, err)
		assert.Nil(t, payload)

		payload, err = m.Decide(ctx, sub, "t1", result(proximity.TierUnavailable, 0), 0, 0, decideAt)
		require.NoError(t, err)
		assert.Nil(t, payload)
		assert.Empty(t, records.Records())
	})

	t.Run("approaching gated by trigger distance", func(t *testing.T) {
		m, _ := testMachine()
		sub := alertingSub()
		sub.TriggerDistM = 600

		payload, err := m.Decide(ctx, sub, "t1", result(proximity.TierApproaching, 900), 0, 0, decideAt)
		require.NoError(t, err)
		assert.Nil(t, payload)

		payload, err = m.Decide(ctx, sub, "t1", result(proximity.TierApproaching, 550), 0, 0, decideAt)
		require.NoError(t, err)
		assert.NotNil(t, payload)
	})

	t.Run("zero trigger falls back to default", func(t *testing.T) {
		m, _ := testMachine()
		sub := alertingSub()
		sub.TriggerDistM = 0

		// Default is 500, so a 900 m approaching stays silent.
		payload, err := m.Decide(ctx, sub, "t1", result(proximity.TierApproaching, 900), 0, 0, decideAt)
		require.NoError(t, err)
		assert.Nil(t, payload)
	})

	t.Run("arriving ignores trigger distance", func(t *testing.T) {
		m, _ := testMachine()
		sub := alertingSub()
		sub.TriggerDistM = 100

		payload, err := m.Decide(ctx, sub, "t1", result(proximity.TierArriving, 450), 0, 0, decideAt)
		require.NoError(t, err)
		assert.NotNil(t, payload)
	})
}

func TestDecideConcurrentSameTierFiresExactlyOnce(t *testing.T) {
	m, records := testMachine()
	sub := alertingSub()
	ctx := context.Background()

	const goroutines = 16
	var wg sync.WaitGroup
	fired := make(chan *domain.AlertPayload, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, err := m.Decide(ctx, sub, "t1", result(proximity.TierArriving, 450), 0, 0, decideAt)
			assert.NoError(t, err)
			if payload != nil {
				fired <- payload
			}
		}()
	}
	wg.Wait()
	close(fired)

	count := 0
	for range fired {
		count++
	}
	assert.Equal(t, 1, count)
	assert.Len(t, records.RecordsFor("sub1", "t1", decideAt), 1)
}

func TestDecideIndependentPairs(t *testing.T) {
	m, _ := testMachine()
	ctx := context.Background()

	subA := alertingSub()
	subB := alertingSub()
	subB.ID = "sub2"

	payload, err := m.Decide(ctx, subA, "t1", result(proximity.TierHere, 50), 0, 0, decideAt)
	require.NoError(t, err)
	require.NotNil(t, payload)

	// A different subscriber and a different truck each have their own
	// ladder.
	payload, err = m.Decide(ctx, subB, "t1", result(proximity.TierHere, 50), 0, 0, decideAt)
	require.NoError(t, err)
	assert.NotNil(t, payload)

	payload, err = m.Decide(ctx, subA, "t2", result(proximity.TierHere, 50), 0, 0, decideAt)
	require.NoError(t, err)
	assert.NotNil(t, payload)
}
