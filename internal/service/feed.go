package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"parking_barrier/internal/logger"
	"parking_barrier/internal/models"
	"parking_barrier/internal/remote"
)

// ErrFeedRunning is returned by Start when the feed already holds a subscription.
var ErrFeedRunning = errors.New("feed already started")

const feedInputBuffer = 64

type FeedOptions struct {
	Path           string
	StaleThreshold time.Duration
	Tick           time.Duration
}

// SyncFeed keeps one subscription to the occupancy subtree and re-evaluates
// freshness on a fixed tick. Pushes and ticks are merged into one loop, so
// all state below loopState is touched by a single goroutine.
type SyncFeed struct {
	source    remote.Subscriber
	path      string
	threshold time.Duration
	tick      time.Duration
	log       *logger.Logger

	now       func() time.Time
	newTicker func(time.Duration) (<-chan time.Time, func())

	bus     *broadcaster[models.FeedEvent]
	latest  atomic.Pointer[models.StatusView]
	running atomic.Bool
}

// FeedHandle is returned by Start and consumed by Stop.
type FeedHandle struct {
	cancel context.CancelFunc
	sub    remote.Subscription
	done   chan struct{}
	once   sync.Once
}

type feedInput struct {
	data json.RawMessage
	err  error
}

type loopState struct {
	snapshot    models.ParkingSnapshot
	hasSnapshot bool
	startedAt   time.Time
	published   *models.StatusView
}

func NewSyncFeed(source remote.Subscriber, opts FeedOptions, log *logger.Logger) *SyncFeed {
	f := &SyncFeed{
		source:    source,
		path:      opts.Path,
		threshold: opts.StaleThreshold,
		tick:      opts.Tick,
		log:       logger.OrNop(log).Named("feed"),
		now:       time.Now,
		newTicker: realTicker,
	}
	f.bus = newBroadcaster[models.FeedEvent]("feed", 0, f.log)
	f.latest.Store(newStatusView(models.ParkingSnapshot{}, models.Connected, f.now()))
	return f
}

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Latest returns the most recent evaluation. Never nil.
func (f *SyncFeed) Latest() models.StatusView {
	v := *f.latest.Load()
	v.Snapshot = v.Snapshot.Clone()
	return v
}

// Subscribe registers fn for feed events until the returned func is called.
func (f *SyncFeed) Subscribe(fn func(models.FeedEvent)) func() {
	return f.bus.Subscribe(fn)
}

// Start opens the remote subscription and the freshness ticker.
func (f *SyncFeed) Start(ctx context.Context) (*FeedHandle, error) {
	if !f.running.CompareAndSwap(false, true) {
		return nil, ErrFeedRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	inputs := make(chan feedInput, feedInputBuffer)
	enqueue := func(in feedInput) {
		select {
		case inputs <- in:
		case <-loopCtx.Done():
		}
	}

	st := &loopState{startedAt: f.now()}
	st.published = newStatusView(models.ParkingSnapshot{}, f.verdictFor(st, st.startedAt), st.startedAt)
	f.latest.Store(st.published)

	ticks, stopTicker := f.newTicker(f.tick)
	h := &FeedHandle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer stopTicker()
		f.loop(loopCtx, st, inputs, ticks)
	}()

	sub, err := f.source.Subscribe(f.path,
		func(data json.RawMessage) { enqueue(feedInput{data: data}) },
		func(err error) { enqueue(feedInput{err: err}) },
	)
	if err != nil {
		cancel()
		<-h.done
		f.running.Store(false)
		return nil, fmt.Errorf("subscribe %q: %w", f.path, err)
	}
	h.sub = sub

	f.log.Infow("feed_started", "path", f.path, "tick", f.tick, "stale_threshold", f.threshold)
	return h, nil
}

// Stop cancels the ticker and releases the subscription. Safe to call more
// than once and with a nil handle.
func (f *SyncFeed) Stop(h *FeedHandle) {
	if h == nil {
		return
	}
	h.once.Do(func() {
		if h.sub != nil {
			h.sub.Remove()
		}
		h.cancel()
		<-h.done
		f.running.Store(false)
		f.log.Infow("feed_stopped", "path", f.path)
	})
}

func (f *SyncFeed) loop(ctx context.Context, st *loopState, inputs <-chan feedInput, ticks <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-inputs:
			if in.err != nil {
				f.log.Warnw("feed_transport_error", "path", f.path, "err", in.err)
				f.publishError(in.err.Error())
				continue
			}
			snap, err := remote.DecodeSnapshot(in.data)
			if err != nil {
				f.log.Warnw("feed_decode_error", "path", f.path, "err", err)
				f.publishError(err.Error())
				continue
			}
			f.handlePush(st, snap)
		case now := <-ticks:
			f.handleTick(st, now)
		}
	}
}

func (f *SyncFeed) handlePush(st *loopState, snap models.ParkingSnapshot) {
	st.snapshot = snap
	st.hasSnapshot = true
	now := f.now()
	view := newStatusView(snap, f.verdictFor(st, now), now)
	f.publish(st, view)
}

// handleTick publishes only when verdict or status moved.
func (f *SyncFeed) handleTick(st *loopState, now time.Time) {
	view := newStatusView(st.snapshot, f.verdictFor(st, now), now)
	prev := st.published
	if view.Verdict == prev.Verdict && view.Status == prev.Status {
		f.latest.Store(view)
		return
	}
	f.publish(st, view)
}

// verdictFor measures from the snapshot timestamp, or from feed start while
// no snapshot has been received.
func (f *SyncFeed) verdictFor(st *loopState, now time.Time) models.ConnectivityVerdict {
	last := st.startedAt.UnixMilli()
	if st.hasSnapshot {
		last = st.snapshot.SourceTimestampMillis
	}
	return Evaluate(last, now.UnixMilli(), f.threshold.Milliseconds())
}

func (f *SyncFeed) publish(st *loopState, view *models.StatusView) {
	if st.published != nil && st.published.Status != view.Status {
		f.log.Infow("parking_status_changed", "from", st.published.Status, "to", view.Status, "verdict", view.Verdict)
	}
	st.published = view
	f.latest.Store(view)

	// subscribers get their own copy of the snapshot
	out := *view
	out.Snapshot = view.Snapshot.Clone()
	f.bus.Publish(models.FeedEvent{
		Type:       models.FeedStatusChanged,
		View:       &out,
		OccurredAt: view.EvaluatedAt,
	})
}

func (f *SyncFeed) publishError(msg string) {
	f.bus.Publish(models.FeedEvent{
		Type:       models.FeedError,
		Message:    msg,
		OccurredAt: f.now(),
	})
}
