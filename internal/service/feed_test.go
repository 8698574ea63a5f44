package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking_barrier/internal/models"
	"parking_barrier/internal/remote"
)

const testFeedPath = "estacionamiento"

type feedFixture struct {
	feed  *SyncFeed
	store *remote.MemoryStore
	ticks chan time.Time

	mu  sync.Mutex
	now time.Time

	events chan models.FeedEvent
}

func newFeedFixture(t *testing.T, startMillis int64) *feedFixture {
	t.Helper()
	fx := &feedFixture{
		store:  remote.NewMemoryStore(),
		ticks:  make(chan time.Time),
		now:    time.UnixMilli(startMillis),
		events: make(chan models.FeedEvent, 64),
	}
	fx.feed = NewSyncFeed(fx.store, FeedOptions{
		Path:           testFeedPath,
		StaleThreshold: 5 * time.Second,
		Tick:           time.Second,
	}, nil)
	fx.feed.now = fx.clock
	fx.feed.newTicker = func(time.Duration) (<-chan time.Time, func()) {
		return fx.ticks, func() {}
	}
	t.Cleanup(fx.feed.Subscribe(func(e models.FeedEvent) { fx.events <- e }))
	return fx
}

func (fx *feedFixture) clock() time.Time {
	fx.mu.Lock()
	defer fx.mu.Unlock()
	return fx.now
}

func (fx *feedFixture) setNow(ms int64) {
	fx.mu.Lock()
	fx.now = time.UnixMilli(ms)
	fx.mu.Unlock()
}

// tick blocks until the loop has taken the tick.
func (fx *feedFixture) tick(ms int64) {
	fx.setNow(ms)
	fx.ticks <- time.UnixMilli(ms)
}

func (fx *feedFixture) push(t *testing.T, snap models.ParkingSnapshot) {
	t.Helper()
	raw, err := remote.EncodeSnapshot(snap)
	require.NoError(t, err)
	require.NoError(t, fx.store.Set(context.Background(), testFeedPath, raw))
}

func (fx *feedFixture) next(t *testing.T) models.FeedEvent {
	t.Helper()
	select {
	case e := <-fx.events:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no feed event")
		return models.FeedEvent{}
	}
}

func (fx *feedFixture) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-fx.events:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFeed_SilentRemoteGoesDisconnectedOnTick(t *testing.T) {
	fx := newFeedFixture(t, 1000)
	h, err := fx.feed.Start(context.Background())
	require.NoError(t, err)
	defer fx.feed.Stop(h)

	fx.push(t, models.ParkingSnapshot{
		SourceTimestampMillis: 1000,
		Spots:                 []models.ParkingSpot{{Name: "A"}, {Name: "B", Occupied: true}},
	})
	e := fx.next(t)
	require.Equal(t, models.FeedStatusChanged, e.Type)
	assert.Equal(t, models.StatusOpen, e.View.Status)
	assert.Equal(t, models.Connected, e.View.Verdict)

	// unchanged ticks publish nothing
	fx.tick(2000)
	fx.tick(6000)
	fx.expectNone(t)
	assert.Equal(t, models.StatusOpen, fx.feed.Latest().Status)

	fx.tick(6001)
	e = fx.next(t)
	require.Equal(t, models.FeedStatusChanged, e.Type)
	assert.Equal(t, models.StatusDisconnected, e.View.Status)
	assert.Equal(t, models.Disconnected, e.View.Verdict)
	assert.Len(t, e.View.Snapshot.Spots, 2, "spot data is kept")
	assert.Equal(t, models.StatusDisconnected, fx.feed.Latest().Status)

	// stays disconnected without a new snapshot
	fx.tick(7001)
	fx.expectNone(t)
}

func TestFeed_EveryPushPublishes(t *testing.T) {
	fx := newFeedFixture(t, 1000)
	h, err := fx.feed.Start(context.Background())
	require.NoError(t, err)
	defer fx.feed.Stop(h)

	snap := models.ParkingSnapshot{SourceTimestampMillis: 1000, Spots: []models.ParkingSpot{{Name: "A", Occupied: true}}}
	fx.push(t, snap)
	fx.push(t, snap)
	assert.Equal(t, models.StatusFull, fx.next(t).View.Status)
	assert.Equal(t, models.StatusFull, fx.next(t).View.Status)
}

func TestFeed_LoadingThenDisconnectedWithoutData(t *testing.T) {
	fx := newFeedFixture(t, 0)
	h, err := fx.feed.Start(context.Background())
	require.NoError(t, err)
	defer fx.feed.Stop(h)

	assert.Equal(t, models.StatusLoading, fx.feed.Latest().Status)

	fx.tick(5000)
	fx.expectNone(t)

	fx.tick(5001)
	e := fx.next(t)
	assert.Equal(t, models.StatusDisconnected, e.View.Status)
}

func TestFeed_ReconnectsOnFreshPush(t *testing.T) {
	fx := newFeedFixture(t, 10_000)
	h, err := fx.feed.Start(context.Background())
	require.NoError(t, err)
	defer fx.feed.Stop(h)

	fx.tick(16_000)
	assert.Equal(t, models.StatusDisconnected, fx.next(t).View.Status)

	fx.push(t, models.ParkingSnapshot{SourceTimestampMillis: 16_000, Spots: []models.ParkingSpot{{Name: "A"}}})
	e := fx.next(t)
	assert.Equal(t, models.StatusOpen, e.View.Status)
	assert.Equal(t, models.Connected, e.View.Verdict)
}

func TestFeed_TransportAndDecodeErrorsKeepSubscription(t *testing.T) {
	fx := newFeedFixture(t, 1000)
	h, err := fx.feed.Start(context.Background())
	require.NoError(t, err)
	defer fx.feed.Stop(h)

	fx.store.Fail(testFeedPath, errors.New("socket reset"))
	e := fx.next(t)
	assert.Equal(t, models.FeedError, e.Type)
	assert.Contains(t, e.Message, "socket reset")

	require.NoError(t, fx.store.Set(context.Background(), testFeedPath, map[string]any{"estacionamientos": "bogus"}))
	assert.Equal(t, models.FeedError, fx.next(t).Type)

	fx.push(t, models.ParkingSnapshot{SourceTimestampMillis: 1000, Spots: []models.ParkingSpot{{Name: "A"}}})
	e = fx.next(t)
	assert.Equal(t, models.FeedStatusChanged, e.Type)
	assert.Equal(t, models.StatusOpen, e.View.Status)
}

func TestFeed_StopIsIdempotentAndReleasesSubscription(t *testing.T) {
	fx := newFeedFixture(t, 1000)
	h, err := fx.feed.Start(context.Background())
	require.NoError(t, err)

	_, err = fx.feed.Start(context.Background())
	assert.ErrorIs(t, err, ErrFeedRunning)

	fx.feed.Stop(h)
	fx.feed.Stop(h)
	fx.feed.Stop(nil)

	fx.push(t, models.ParkingSnapshot{SourceTimestampMillis: 1000, Spots: []models.ParkingSpot{{Name: "A"}}})
	fx.expectNone(t)

	// can be started again
	h2, err := fx.feed.Start(context.Background())
	require.NoError(t, err)
	fx.feed.Stop(h2)
}

func TestFeed_InitialValueDeliveredOnStart(t *testing.T) {
	fx := newFeedFixture(t, 1000)
	fx.push(t, models.ParkingSnapshot{SourceTimestampMillis: 900, Spots: []models.ParkingSpot{{Name: "A", Occupied: true}}})

	h, err := fx.feed.Start(context.Background())
	require.NoError(t, err)
	defer fx.feed.Stop(h)

	assert.Equal(t, models.StatusFull, fx.next(t).View.Status)
}

func TestFeed_SubscribersGetCopies(t *testing.T) {
	fx := newFeedFixture(t, 1000)
	h, err := fx.feed.Start(context.Background())
	require.NoError(t, err)
	defer fx.feed.Stop(h)

	fx.push(t, models.ParkingSnapshot{SourceTimestampMillis: 1000, Spots: []models.ParkingSpot{{Name: "A"}}})
	e := fx.next(t)
	e.View.Snapshot.Spots[0].Occupied = true

	latest := fx.feed.Latest()
	assert.False(t, latest.Snapshot.Spots[0].Occupied)
	latest.Snapshot.Spots[0].Name = "mutated"
	assert.Equal(t, "A", fx.feed.Latest().Snapshot.Spots[0].Name)
}
