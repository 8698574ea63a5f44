package handlers

import (
	"net/http"
	"time"

	"parking_barrier/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 12 // 4 KB
	outBuffer  = 32
)

// Envelope types pushed to websocket clients.
const (
	envStatus    = "status"
	envFeedError = "feed_error"
	envBarrier   = "barrier"
)

// Envelope used for WebSocket messages.
type wsEnvelope struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // TODO: restrict to the mobile app origins once they are fixed
}

func (h *Handler) wsConnect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Errorw("ws_upgrade_failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go h.startReader(conn, done)

	// Subscribe before the initial write so nothing published after it is missed.
	out := make(chan wsEnvelope, outBuffer)
	unsubFeed := h.services.Feed.Subscribe(func(e models.FeedEvent) {
		h.offer(out, feedEnvelope(e))
	})
	defer unsubFeed()
	unsubBarrier := h.services.Barrier.OnEvent(func(e models.BarrierEvent) {
		h.offer(out, wsEnvelope{Type: envBarrier, Data: e})
	})
	defer unsubBarrier()

	if err := writeEnvelope(conn, wsEnvelope{Type: envStatus, Data: h.services.Feed.Latest()}); err != nil {
		h.log.Infow("ws_write_failed_initial", "err", err)
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.Infow("ws_ping_failed", "err", err)
				return
			}
		case env := <-out:
			if err := writeEnvelope(conn, env); err != nil {
				h.log.Infow("ws_write_failed", "type", env.Type, "err", err)
				return
			}
		}
	}
}

// offer never blocks the publisher; a client that cannot keep up loses envelopes.
func (h *Handler) offer(out chan<- wsEnvelope, env wsEnvelope) {
	select {
	case out <- env:
	default:
		h.log.Warnw("ws_client_lagging_envelope_dropped", "type", env.Type)
	}
}

func feedEnvelope(e models.FeedEvent) wsEnvelope {
	if e.Type == models.FeedError {
		return wsEnvelope{Type: envFeedError, Error: e.Message}
	}
	return wsEnvelope{Type: envStatus, Data: e.View}
}

// startReader drains incoming messages to handle control frames and detect closure.
func (h *Handler) startReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.log.Debugw("ws_read_closed", "err", err)
			return
		}
	}
}

func writeEnvelope(conn *websocket.Conn, env wsEnvelope) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}
