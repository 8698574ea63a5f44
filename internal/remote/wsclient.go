package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"parking_barrier/internal/logger"
)

const defaultReconnectDelay = 2 * time.Second

// WSClient is a Store backed by a websocket connection to a remote key-path
// store. Run owns the connection: it redials after failures and re-sends
// every active subscription, so subscribers never resubscribe themselves.
type WSClient struct {
	url            string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	log            *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	listeners map[string]map[int]*clientListener
	nextID    int

	writeMu sync.Mutex
}

type clientListener struct {
	onValue ValueFunc
	onError ErrorFunc
}

type clientSubscription struct {
	client *WSClient
	path   string
	id     int
	once   sync.Once
}

func NewWSClient(url string, reconnectDelay time.Duration, log *logger.Logger) *WSClient {
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}
	return &WSClient{
		url:            url,
		reconnectDelay: reconnectDelay,
		dialer:         websocket.DefaultDialer,
		log:            logger.OrNop(log),
		listeners:      make(map[string]map[int]*clientListener),
	}
}

var _ Store = (*WSClient)(nil)

// Connected reports whether a connection is currently established.
func (c *WSClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Run dials and serves the connection until ctx is cancelled.
func (c *WSClient) Run(ctx context.Context) error {
	for {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.log.Warnw("remote_connection_lost", "url", c.url, "err", err, "retry_in", c.reconnectDelay)
		c.broadcastError(fmt.Errorf("remote transport: %w", err))

		t := time.NewTimer(c.reconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

func (c *WSClient) session(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	c.mu.Lock()
	c.conn = conn
	paths := make([]string, 0, len(c.listeners))
	for p := range c.listeners {
		paths = append(paths, p)
	}
	c.mu.Unlock()
	c.log.Infow("remote_connected", "url", c.url, "subscriptions", len(paths))

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	for _, p := range paths {
		if err := c.writeFrame(conn, frame{Type: frameSubscribe, Path: p}, time.Now().Add(writeWait)); err != nil {
			return err
		}
	}

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		c.dispatch(f)
	}
}

func (c *WSClient) dispatch(f frame) {
	targets := c.listenersFor(f.Path)
	switch f.Type {
	case frameValue:
		data := f.Data
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		for _, l := range targets {
			l.onValue(cloneRaw(data))
		}
	case frameError:
		err := fmt.Errorf("remote %q: %s", f.Path, f.Error)
		for _, l := range targets {
			if l.onError != nil {
				l.onError(err)
			}
		}
	default:
		c.log.Debugw("remote_unknown_frame", "type", f.Type, "path", f.Path)
	}
}

func (c *WSClient) listenersFor(path string) []*clientListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	ls := c.listeners[path]
	out := make([]*clientListener, 0, len(ls))
	for _, l := range ls {
		out = append(out, l)
	}
	return out
}

func (c *WSClient) broadcastError(err error) {
	c.mu.Lock()
	var targets []*clientListener
	for _, ls := range c.listeners {
		for _, l := range ls {
			targets = append(targets, l)
		}
	}
	c.mu.Unlock()
	for _, l := range targets {
		if l.onError != nil {
			l.onError(err)
		}
	}
}

// Subscribe registers the callbacks and asks the server for path. While
// disconnected the request is queued and sent on the next connection.
func (c *WSClient) Subscribe(path string, onValue ValueFunc, onError ErrorFunc) (Subscription, error) {
	if onValue == nil {
		return nil, fmt.Errorf("subscribe %q: nil value callback", path)
	}
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if c.listeners[path] == nil {
		c.listeners[path] = make(map[int]*clientListener)
	}
	c.listeners[path][id] = &clientListener{onValue: onValue, onError: onError}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		if err := c.writeFrame(conn, frame{Type: frameSubscribe, Path: path}, time.Now().Add(writeWait)); err != nil {
			c.log.Warnw("remote_subscribe_deferred", "path", path, "err", err)
		}
	}
	return &clientSubscription{client: c, path: path, id: id}, nil
}

func (s *clientSubscription) Remove() {
	s.once.Do(func() {
		c := s.client
		c.mu.Lock()
		delete(c.listeners[s.path], s.id)
		last := len(c.listeners[s.path]) == 0
		if last {
			delete(c.listeners, s.path)
		}
		conn := c.conn
		c.mu.Unlock()

		if last && conn != nil {
			_ = c.writeFrame(conn, frame{Type: frameUnsubscribe, Path: s.path}, time.Now().Add(writeWait))
		}
	})
}

// Set sends a write. It fails with ErrNotConnected while the connection is
// down; nothing is queued.
func (c *WSClient) Set(ctx context.Context, path string, value any) error {
	raw, err := toRaw(value)
	if err != nil {
		return fmt.Errorf("set %q: %w", path, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("set %q: %w", path, ErrNotConnected)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.writeFrame(conn, frame{Type: frameSet, Path: path, Value: raw}, deadline); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return fmt.Errorf("set %q: %w", path, ErrNotConnected)
		}
		return fmt.Errorf("set %q: %w", path, err)
	}
	return nil
}

func (c *WSClient) writeFrame(conn *websocket.Conn, f frame, deadline time.Time) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	return conn.WriteJSON(f)
}
