package remote

import (
	"encoding/json"
	"time"
)

// Frame types exchanged with the remote store.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameSet         = "set"
	frameValue       = "value"
	frameError       = "error"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 16
)

// frame is the single JSON text message shape in both directions.
type frame struct {
	Type  string          `json:"type"`
	Path  string          `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}
