package models

import "time"

// Feed event types.
const (
	FeedStatusChanged = "STATUS_CHANGED"
	FeedError         = "FEED_ERROR"
)

// FeedEvent is what the synchronization feed publishes to subscribers.
// View is set for STATUS_CHANGED, Message for FEED_ERROR.
type FeedEvent struct {
	Type       string      `json:"type"`
	View       *StatusView `json:"view,omitempty"`
	Message    string      `json:"message,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}
