// Package remote holds the adapters for the push-based key-path store that
// publishes occupancy snapshots and receives barrier commands.
package remote

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotConnected is returned by writes while the transport is down.
var ErrNotConnected = errors.New("remote store not connected")

// ValueFunc receives the whole subtree stored at a path.
type ValueFunc func(data json.RawMessage)

// ErrorFunc receives transport failures for a subscription.
type ErrorFunc func(err error)

// Subscription is a handle returned by Subscribe.
type Subscription interface {
	// Remove releases the subscription. Safe to call more than once.
	Remove()
}

// Subscriber delivers snapshots of a path until the subscription is removed.
type Subscriber interface {
	Subscribe(path string, onValue ValueFunc, onError ErrorFunc) (Subscription, error)
}

// Writer is a best-effort write sink; a nil error means the write left this
// process, not that anyone received it.
type Writer interface {
	Set(ctx context.Context, path string, value any) error
}

// Store is both sides of the key-path store.
type Store interface {
	Subscriber
	Writer
}
