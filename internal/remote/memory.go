package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process key-path store. Paths match exactly; there is
// no parent/child fan-out. Callbacks run synchronously, in write order, and
// must not write back into the store.
type MemoryStore struct {
	notifyMu sync.Mutex // serializes deliveries

	mu        sync.Mutex
	data      map[string]json.RawMessage
	listeners map[string]map[int]*memoryListener
	nextID    int
}

type memoryListener struct {
	onValue ValueFunc
	onError ErrorFunc
}

type memorySubscription struct {
	store *MemoryStore
	path  string
	id    int
	once  sync.Once
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:      make(map[string]json.RawMessage),
		listeners: make(map[string]map[int]*memoryListener),
	}
}

var _ Store = (*MemoryStore)(nil)

// Subscribe registers callbacks for path and immediately delivers the current
// value if one exists.
func (s *MemoryStore) Subscribe(path string, onValue ValueFunc, onError ErrorFunc) (Subscription, error) {
	if onValue == nil {
		return nil, fmt.Errorf("subscribe %q: nil value callback", path)
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.listeners[path] == nil {
		s.listeners[path] = make(map[int]*memoryListener)
	}
	s.listeners[path][id] = &memoryListener{onValue: onValue, onError: onError}
	current, ok := s.data[path]
	s.mu.Unlock()

	if ok {
		onValue(cloneRaw(current))
	}
	return &memorySubscription{store: s, path: path, id: id}, nil
}

func (m *memorySubscription) Remove() {
	m.once.Do(func() {
		m.store.mu.Lock()
		defer m.store.mu.Unlock()
		delete(m.store.listeners[m.path], m.id)
		if len(m.store.listeners[m.path]) == 0 {
			delete(m.store.listeners, m.path)
		}
	})
}

// Set stores value (JSON-encoded) at path and notifies subscribers.
func (s *MemoryStore) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := toRaw(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", path, err)
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	s.data[path] = raw
	targets := s.snapshotListeners(path)
	s.mu.Unlock()

	for _, l := range targets {
		l.onValue(cloneRaw(raw))
	}
	return nil
}

// Get returns the raw value at path.
func (s *MemoryStore) Get(path string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[path]
	return cloneRaw(v), ok
}

// Fail delivers a transport error to every subscriber of path.
func (s *MemoryStore) Fail(path string, err error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	targets := s.snapshotListeners(path)
	s.mu.Unlock()

	for _, l := range targets {
		if l.onError != nil {
			l.onError(err)
		}
	}
}

// snapshotListeners must be called with mu held.
func (s *MemoryStore) snapshotListeners(path string) []*memoryListener {
	ls := s.listeners[path]
	if len(ls) == 0 {
		return nil
	}
	ids := make([]int, 0, len(ls))
	for id := range ls {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]*memoryListener, 0, len(ids))
	for _, id := range ids {
		out = append(out, ls[id])
	}
	return out
}

func toRaw(value any) (json.RawMessage, error) {
	switch v := value.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("invalid raw JSON")
		}
		return cloneRaw(v), nil
	default:
		return json.Marshal(v)
	}
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	out := make(json.RawMessage, len(r))
	copy(out, r)
	return out
}
