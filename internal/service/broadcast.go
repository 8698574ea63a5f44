package service

import (
	"sync"

	"parking_barrier/internal/logger"
)

const defaultSubscriberBuffer = 32

// broadcaster fans values out to subscribers. Each subscriber has its own
// buffered channel and delivery goroutine, so order is kept per subscriber
// and a slow one never blocks the publisher; when its buffer is full the
// value is dropped for that subscriber only.
type broadcaster[T any] struct {
	name string
	log  *logger.Logger
	buf  int

	mu     sync.RWMutex
	subs   map[int]chan T
	nextID int
}

func newBroadcaster[T any](name string, buf int, log *logger.Logger) *broadcaster[T] {
	if buf <= 0 {
		buf = defaultSubscriberBuffer
	}
	return &broadcaster[T]{
		name: name,
		log:  logger.OrNop(log),
		buf:  buf,
		subs: make(map[int]chan T),
	}
}

// Subscribe calls fn for every published value until the returned func is
// called.
func (b *broadcaster[T]) Subscribe(fn func(T)) func() {
	ch := make(chan T, b.buf)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		for v := range ch {
			b.deliver(fn, v)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *broadcaster[T]) deliver(fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("subscriber_panic", "bus", b.name, "panic", r)
		}
	}()
	fn(v)
}

func (b *broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.log.Warnw("subscriber_lagging_event_dropped", "bus", b.name, "subscriber", id)
		}
	}
}
