package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"parking_barrier/internal/logger"
)

const connSendBuffer = 64

// Server exposes a MemoryStore over the websocket frame protocol. It backs
// the local simulator so that WSClient can be exercised end to end.
type Server struct {
	store    *MemoryStore
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*serverConn]struct{}
}

func NewServer(store *MemoryStore, log *logger.Logger) *Server {
	return &Server{
		store: store,
		log:   logger.OrNop(log),
		conns: make(map[*serverConn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorw("rtdb_upgrade_failed", "err", err)
		return
	}

	sc := &serverConn{
		srv:  s,
		conn: conn,
		send: make(chan frame, connSendBuffer),
		subs: make(map[string]Subscription),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.conns[sc] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, sc)
		s.mu.Unlock()
	}()

	go sc.writeLoop()
	sc.readLoop(r.Context())
}

// CloseAll drops every open connection. Clients see a transport error.
func (s *Server) CloseAll() {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
		_ = c.conn.Close()
	}
}

type serverConn struct {
	srv  *Server
	conn *websocket.Conn
	send chan frame

	mu   sync.Mutex
	subs map[string]Subscription

	closeOnce sync.Once
	done      chan struct{}
}

func (c *serverConn) readLoop(ctx context.Context) {
	defer c.close()

	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.srv.log.Infow("rtdb_read_closed", "err", err)
			}
			return
		}
		c.handle(ctx, f)
	}
}

func (c *serverConn) handle(ctx context.Context, f frame) {
	switch f.Type {
	case frameSubscribe:
		c.subscribe(f.Path)
	case frameUnsubscribe:
		c.mu.Lock()
		sub, ok := c.subs[f.Path]
		delete(c.subs, f.Path)
		c.mu.Unlock()
		if ok {
			sub.Remove()
		}
	case frameSet:
		value := f.Value
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		if err := c.srv.store.Set(ctx, f.Path, value); err != nil {
			c.enqueue(frame{Type: frameError, Path: f.Path, Error: err.Error()})
		}
	default:
		c.enqueue(frame{Type: frameError, Path: f.Path, Error: "unknown frame type " + f.Type})
	}
}

func (c *serverConn) subscribe(path string) {
	c.mu.Lock()
	_, exists := c.subs[path]
	c.mu.Unlock()
	if exists {
		// resubscribe after a client reconnect race; resend current value
		if v, ok := c.srv.store.Get(path); ok {
			c.enqueue(frame{Type: frameValue, Path: path, Data: v})
		}
		return
	}

	sub, err := c.srv.store.Subscribe(path,
		func(data json.RawMessage) {
			c.enqueue(frame{Type: frameValue, Path: path, Data: data})
		},
		func(err error) {
			c.enqueue(frame{Type: frameError, Path: path, Error: err.Error()})
		},
	)
	if err != nil {
		c.enqueue(frame{Type: frameError, Path: path, Error: err.Error()})
		return
	}

	c.mu.Lock()
	c.subs[path] = sub
	c.mu.Unlock()
}

// enqueue never blocks; store callbacks run under the store's delivery lock.
func (c *serverConn) enqueue(f frame) {
	select {
	case <-c.done:
	case c.send <- f:
	default:
		c.srv.log.Warnw("rtdb_send_dropped", "path", f.Path, "type", f.Type)
	}
}

func (c *serverConn) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				c.srv.log.Infow("rtdb_write_failed", "err", err)
				c.close()
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *serverConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		subs := c.subs
		c.subs = make(map[string]Subscription)
		c.mu.Unlock()
		for _, sub := range subs {
			sub.Remove()
		}
	})
}
