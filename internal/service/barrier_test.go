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
)

type recordedWrite struct {
	path  string
	value any
}

type fakeWriter struct {
	mu     sync.Mutex
	writes []recordedWrite
	err    error
}

func (w *fakeWriter) Set(_ context.Context, path string, value any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, recordedWrite{path: path, value: value})
	return w.err
}

func (w *fakeWriter) values() []any {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]any, 0, len(w.writes))
	for _, wr := range w.writes {
		out = append(out, wr.value)
	}
	return out
}

type fakeAudit struct {
	mu      sync.Mutex
	records []models.AuditRecord
	fail    error
}

func (a *fakeAudit) Submit(_ context.Context, rec models.AuditRecord, onFailure func(error)) {
	a.mu.Lock()
	a.records = append(a.records, rec)
	a.mu.Unlock()
	if a.fail != nil {
		onFailure(a.fail)
	}
}

func (a *fakeAudit) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

// manualScheduler keeps timers until the test fires them.
type manualScheduler struct {
	mu     sync.Mutex
	timers []scheduledTimer
}

type scheduledTimer struct {
	d  time.Duration
	fn func()
}

func (s *manualScheduler) schedule(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers = append(s.timers, scheduledTimer{d: d, fn: fn})
}

// fireNext runs the oldest pending timer and returns its duration.
func (s *manualScheduler) fireNext(t *testing.T) time.Duration {
	t.Helper()
	s.mu.Lock()
	if len(s.timers) == 0 {
		s.mu.Unlock()
		t.Fatal("no pending timer")
	}
	next := s.timers[0]
	s.timers = s.timers[1:]
	s.mu.Unlock()
	next.fn()
	return next.d
}

func (s *manualScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

type barrierFixture struct {
	ctrl   *BarrierController
	writer *fakeWriter
	audit  *fakeAudit
	sched  *manualScheduler
	clock  *time.Time
}

func newBarrierFixture(opts BarrierOptions) *barrierFixture {
	f := &barrierFixture{
		writer: &fakeWriter{},
		audit:  &fakeAudit{},
		sched:  &manualScheduler{},
	}
	now := time.UnixMilli(0)
	f.clock = &now
	if opts.CommandPath == "" {
		opts.CommandPath = "comandos/abrir_puerta"
	}
	if opts.Pulse == 0 {
		opts.Pulse = 2 * time.Second
	}
	f.ctrl = NewBarrierController(f.writer, f.audit, opts, nil)
	f.ctrl.schedule = f.sched.schedule
	f.ctrl.now = func() time.Time { return *f.clock }
	return f
}

func (f *barrierFixture) at(ms int64) { *f.clock = time.UnixMilli(ms) }

var testUser = &models.SessionUser{ID: "u1", Email: "u1@x.com"}

func TestBarrier_TriggerSequencing(t *testing.T) {
	f := newBarrierFixture(BarrierOptions{})
	ctx := context.Background()

	f.at(0)
	_, err := f.ctrl.Trigger(ctx, models.StatusOpen, testUser)
	require.NoError(t, err)
	assert.Equal(t, models.BarrierPulsing, f.ctrl.State())

	f.at(500)
	_, err = f.ctrl.Trigger(ctx, models.StatusOpen, testUser)
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)

	f.at(2000)
	assert.Equal(t, 2*time.Second, f.sched.fireNext(t))
	assert.Equal(t, models.BarrierIdle, f.ctrl.State())
	assert.Equal(t, []any{true, false}, f.writer.values())

	f.at(2001)
	_, err = f.ctrl.Trigger(ctx, models.StatusOpen, testUser)
	require.NoError(t, err)
}

func TestBarrier_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		status models.AggregateStatus
		want   error
	}{
		{"full", models.StatusFull, ErrLotFull},
		{"disconnected", models.StatusDisconnected, ErrNotConnected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newBarrierFixture(BarrierOptions{})
			_, err := f.ctrl.Trigger(context.Background(), tc.status, testUser)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, models.BarrierIdle, f.ctrl.State())
			assert.Empty(t, f.writer.values(), "no command write on rejection")
			assert.Zero(t, f.audit.count(), "no audit on rejection")
			assert.Zero(t, f.sched.pending())
		})
	}
}

func TestBarrier_FullLotFromSnapshot(t *testing.T) {
	spots := []models.ParkingSpot{{Name: "A", Occupied: true}, {Name: "B", Occupied: true}}
	f := newBarrierFixture(BarrierOptions{})

	_, err := f.ctrl.Trigger(context.Background(), Aggregate(spots, models.Connected), testUser)
	assert.ErrorIs(t, err, ErrLotFull)
	assert.Equal(t, models.BarrierIdle, f.ctrl.State())
	assert.Empty(t, f.writer.values())
}

func TestBarrier_LoadingDoesNotBlock(t *testing.T) {
	f := newBarrierFixture(BarrierOptions{})
	_, err := f.ctrl.Trigger(context.Background(), models.StatusLoading, nil)
	require.NoError(t, err)
}

func TestBarrier_AuditOnSuccessOnly(t *testing.T) {
	f := newBarrierFixture(BarrierOptions{})
	f.at(1_700_000_000_000)

	_, err := f.ctrl.Trigger(context.Background(), models.StatusOpen, testUser)
	require.NoError(t, err)
	_, err = f.ctrl.Trigger(context.Background(), models.StatusOpen, testUser)
	require.Error(t, err)

	require.Equal(t, 1, f.audit.count())
	rec := f.audit.records[0]
	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "u1@x.com", rec.UserEmail)
	assert.Equal(t, models.ActionOpenBarrier, rec.Action)
	assert.Equal(t, int64(1_700_000_000_000), rec.TimestampMillis)
}

func TestBarrier_NoUserNoAudit(t *testing.T) {
	f := newBarrierFixture(BarrierOptions{})
	_, err := f.ctrl.Trigger(context.Background(), models.StatusOpen, nil)
	require.NoError(t, err)
	assert.Zero(t, f.audit.count())
}

func TestBarrier_CommandWriteFailureStillCompletes(t *testing.T) {
	f := newBarrierFixture(BarrierOptions{})
	f.writer.err = errors.New("offline")

	events := make(chan models.BarrierEvent, 16)
	unsubscribe := f.ctrl.OnEvent(func(e models.BarrierEvent) { events <- e })
	defer unsubscribe()

	_, err := f.ctrl.Trigger(context.Background(), models.StatusOpen, testUser)
	require.NoError(t, err, "write failures are not rejections")

	f.sched.fireNext(t)
	assert.Equal(t, models.BarrierIdle, f.ctrl.State())
	assert.Equal(t, []any{true, false}, f.writer.values())

	var types []string
	timeout := time.After(2 * time.Second)
	for len(types) < 4 {
		select {
		case e := <-events:
			types = append(types, e.Type)
		case <-timeout:
			t.Fatalf("events so far: %v", types)
		}
	}
	assert.Equal(t, []string{
		models.BarrierEventAccepted,
		models.BarrierEventCommandWriteFailed,
		models.BarrierEventCommandWriteFailed,
		models.BarrierEventCompleted,
	}, types)
}

func TestBarrier_EventsCarryTheirOwnState(t *testing.T) {
	f := newBarrierFixture(BarrierOptions{})
	ctx := context.Background()

	events := make(chan models.BarrierEvent, 16)
	defer f.ctrl.OnEvent(func(e models.BarrierEvent) { events <- e })()

	first, err := f.ctrl.Trigger(ctx, models.StatusOpen, nil)
	require.NoError(t, err)

	// a second request lands while the first is still announcing completion
	var (
		armed  = true
		second string
	)
	f.ctrl.now = func() time.Time {
		if armed {
			armed = false
			second, err = f.ctrl.Trigger(ctx, models.StatusOpen, nil)
			require.NoError(t, err)
		}
		return *f.clock
	}
	f.sched.fireNext(t)
	require.NotEmpty(t, second)
	assert.Equal(t, models.BarrierPulsing, f.ctrl.State())

	got := map[string]models.BarrierCommandState{}
	timeout := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case e := <-events:
			got[e.Type+"/"+e.RequestID] = e.State
		case <-timeout:
			t.Fatalf("events so far: %v", got)
		}
	}
	assert.Equal(t, models.BarrierPulsing, got[models.BarrierEventAccepted+"/"+first])
	assert.Equal(t, models.BarrierIdle, got[models.BarrierEventCompleted+"/"+first])
	assert.Equal(t, models.BarrierPulsing, got[models.BarrierEventAccepted+"/"+second])
}

func TestBarrier_AuditFailureDoesNotAffectPulse(t *testing.T) {
	f := newBarrierFixture(BarrierOptions{})
	f.audit.fail = errors.New("disk full")

	got := make(chan models.BarrierEvent, 16)
	defer f.ctrl.OnEvent(func(e models.BarrierEvent) {
		if e.Type == models.BarrierEventAuditWriteFailed {
			got <- e
		}
	})()

	_, err := f.ctrl.Trigger(context.Background(), models.StatusOpen, testUser)
	require.NoError(t, err)
	assert.Equal(t, models.BarrierPulsing, f.ctrl.State())

	select {
	case e := <-got:
		assert.Contains(t, e.Message, "disk full")
	case <-time.After(2 * time.Second):
		t.Fatal("no audit failure event")
	}

	f.sched.fireNext(t)
	assert.Equal(t, models.BarrierIdle, f.ctrl.State())
}

func TestBarrier_Cooldown(t *testing.T) {
	f := newBarrierFixture(BarrierOptions{Cooldown: 3 * time.Second})

	_, err := f.ctrl.Trigger(context.Background(), models.StatusOpen, nil)
	require.NoError(t, err)

	f.sched.fireNext(t)
	assert.Equal(t, models.BarrierCoolingDown, f.ctrl.State())
	_, err = f.ctrl.Trigger(context.Background(), models.StatusOpen, nil)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)

	assert.Equal(t, 3*time.Second, f.sched.fireNext(t))
	assert.Equal(t, models.BarrierIdle, f.ctrl.State())
}

func TestBarrier_ConcurrentTriggersAtMostOneAccepted(t *testing.T) {
	f := newBarrierFixture(BarrierOptions{})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ctrl.Trigger(context.Background(), models.StatusOpen, nil); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, f.sched.pending())
}

func TestBarrier_RealTimerPulse(t *testing.T) {
	w := &fakeWriter{}
	ctrl := NewBarrierController(w, &fakeAudit{}, BarrierOptions{
		CommandPath:  "comandos/abrir_puerta",
		Pulse:        30 * time.Millisecond,
		WriteTimeout: 10 * time.Millisecond,
	}, nil)

	_, err := ctrl.Trigger(context.Background(), models.StatusOpen, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ctrl.State() == models.BarrierIdle }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []any{true, false}, w.values())
}
