package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ucinar/exepad-runtime/internal/cachemanager"
	"github.com/ucinar/exepad-runtime/internal/log"
	"github.com/ucinar/exepad-runtime/internal/notice"
	"github.com/ucinar/exepad-runtime/internal/protocol"
	"github.com/ucinar/exepad-runtime/internal/pubsub"
)

type queuedEnvelope struct {
	data     []byte
	enqueued time.Time
}

type subscription struct {
	id      int64
	handler Handler
}

// WebsocketChannel is the production Channel over gorilla/websocket.
// One read goroutine and one heartbeat goroutine run per connection;
// writes are serialized by writeMu.
type WebsocketChannel struct {
	cfg     Config
	notices *notice.Broker
	states  *pubsub.Broker[State]
	seen    cachemanager.CacheManager[struct{}]

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	queue    []queuedEnvelope
	subs     map[string][]subscription
	subSeq   int64
	closed   bool
	terminal bool
	cancel   context.CancelFunc

	writeMu sync.Mutex

	terminalOnce sync.Once
}

// NewWebsocketChannel creates a channel; Connect starts it.
func NewWebsocketChannel(cfg Config, notices *notice.Broker) *WebsocketChannel {
	return &WebsocketChannel{
		cfg:     cfg,
		notices: notices,
		states:  pubsub.NewBroker[State](),
		seen:    cachemanager.NewInMemoryCacheManager[struct{}]("transport-dedupe", cfg.DedupeWindow, cfg.DedupeWindow),
		state:   StateDisconnected,
		subs:    make(map[string][]subscription),
	}
}

// Connect dials the editor endpoint and keeps the connection alive,
// reconnecting with exponential backoff until Disconnect is called or
// the retry budget runs out.
func (c *WebsocketChannel) Connect(appID, sessionID, token string) error {
	endpoint, err := c.buildURL(appID, sessionID, token)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed || c.terminal {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	log.Info(log.CatTransport, "connecting",
		"appId", appID, "session", sessionID, "hasToken", token != "")

	log.SafeGo("transport-run", func() {
		c.run(ctx, endpoint)
	})
	return nil
}

// buildURL appends the connection identity to the configured endpoint.
// The token travels as a query parameter and is never logged.
func (c *WebsocketChannel) buildURL(appID, sessionID, token string) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("transport: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("appId", appID)
	q.Set("session", sessionID)
	q.Set("type", "runtime")
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *WebsocketChannel) run(ctx context.Context, endpoint string) {
	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}
		c.setState(StateConnecting)

		dialer := websocket.Dialer{HandshakeTimeout: c.cfg.WriteTimeout}
		conn, _, err := dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempts++
			log.Warn(log.CatTransport, "dial failed",
				"attempt", attempts, "error", err.Error())
			if c.giveUp(attempts) {
				return
			}
			if !c.sleep(ctx, c.backoff(attempts)) {
				return
			}
			continue
		}

		connectedAt := time.Now()
		c.attach(conn)
		c.setState(StateConnected)
		log.Info(log.CatTransport, "connected", "attempt", attempts)
		c.flushQueue(conn)

		stop := make(chan struct{})
		log.SafeGo("transport-heartbeat", func() {
			c.heartbeat(conn, stop)
		})
		c.readLoop(conn)
		close(stop)
		c.detach(conn)

		if c.isClosed() || ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		c.setState(StateDisconnected)

		// A connection that held for a while counts as a fresh outage,
		// not a continuation of the previous retry streak.
		if time.Since(connectedAt) > c.cfg.ReconnectMax {
			attempts = 1
		} else {
			attempts++
		}
		if c.giveUp(attempts) {
			return
		}
		if !c.sleep(ctx, c.backoff(attempts)) {
			return
		}
	}
}

func (c *WebsocketChannel) giveUp(attempts int) bool {
	if c.cfg.MaxReconnectAttempts <= 0 || attempts < c.cfg.MaxReconnectAttempts {
		return false
	}
	c.terminalOnce.Do(func() {
		c.mu.Lock()
		c.terminal = true
		c.state = StateError
		c.mu.Unlock()
		log.Error(log.CatTransport, "reconnect budget exhausted", "attempts", attempts)
		notice.Publish(c.notices, notice.LevelError,
			"live connection lost; editing is unavailable until reload")
		c.states.Publish(pubsub.StateEvent, StateError)
	})
	return true
}

func (c *WebsocketChannel) backoff(attempts int) time.Duration {
	d := c.cfg.ReconnectBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= c.cfg.ReconnectMax {
			return c.cfg.ReconnectMax
		}
	}
	if d > c.cfg.ReconnectMax {
		d = c.cfg.ReconnectMax
	}
	return d
}

func (c *WebsocketChannel) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *WebsocketChannel) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *WebsocketChannel) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// readLoop pumps inbound messages until the connection fails. Any
// traffic (messages or pong frames) resets the read deadline; silence
// past PongTimeout tears the connection down.
func (c *WebsocketChannel) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
		return nil
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				log.Warn(log.CatTransport, "read failed", "error", err.Error())
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			log.Warn(log.CatTransport, "unparseable message", "error", err.Error())
			continue
		}
		if env.Type == protocol.TypePong {
			continue
		}
		if env.MessageID != "" &&
			!c.seen.Add(context.Background(), env.MessageID, struct{}{}, c.cfg.DedupeWindow) {
			log.Debug(log.CatTransport, "duplicate suppressed",
				"messageId", env.MessageID, "msgType", env.Type)
			continue
		}
		c.dispatch(env)
	}
}

func (c *WebsocketChannel) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			env, err := protocol.NewEnvelope(protocol.TypePing, nil)
			if err != nil {
				continue
			}
			data, _ := json.Marshal(env)
			if err := c.write(conn, data); err != nil {
				return
			}
		}
	}
}

func (c *WebsocketChannel) write(conn *websocket.Conn, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Send transmits an envelope. While offline the envelope joins a
// bounded FIFO queue; overflow evicts the oldest entry with a notice.
func (c *WebsocketChannel) Send(env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", env.Type, err)
	}
	if c.cfg.MaxMessageBytes > 0 && len(data) > c.cfg.MaxMessageBytes {
		log.Warn(log.CatTransport, "message too large",
			"msgType", env.Type, "size", len(data), "limit", c.cfg.MaxMessageBytes)
		notice.Publish(c.notices, notice.LevelWarning,
			fmt.Sprintf("change to %s is too large to sync", env.Type))
		return ErrTooLarge
	}

	c.mu.Lock()
	if c.closed || c.terminal {
		c.mu.Unlock()
		return ErrClosed
	}
	conn := c.conn
	connected := c.state == StateConnected && conn != nil
	if !connected {
		c.enqueueLocked(data)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.write(conn, data); err != nil {
		// The connection is breaking; park the message for the flush
		// after reconnect.
		c.mu.Lock()
		c.enqueueLocked(data)
		c.mu.Unlock()
		conn.Close()
	}
	return nil
}

func (c *WebsocketChannel) enqueueLocked(data []byte) {
	if c.cfg.QueueCapacity > 0 && len(c.queue) >= c.cfg.QueueCapacity {
		evicted := c.queue[0]
		c.queue = c.queue[1:]
		log.Warn(log.CatTransport, "queue full, evicting oldest",
			"age", time.Since(evicted.enqueued).String())
		notice.Publish(c.notices, notice.LevelWarning,
			"offline queue full; oldest pending change was dropped")
	}
	c.queue = append(c.queue, queuedEnvelope{data: data, enqueued: time.Now()})
}

// flushQueue replays queued messages in FIFO order after a reconnect,
// dropping entries older than QueueTTL with a notice each.
func (c *WebsocketChannel) flushQueue(conn *websocket.Conn) {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	for i, qe := range pending {
		if c.cfg.QueueTTL > 0 && time.Since(qe.enqueued) > c.cfg.QueueTTL {
			log.Warn(log.CatTransport, "dropping stale queued message",
				"age", time.Since(qe.enqueued).String())
			notice.Publish(c.notices, notice.LevelWarning,
				"a pending change expired while offline and was dropped")
			continue
		}
		if err := c.write(conn, qe.data); err != nil {
			// Put the rest back, same order, ahead of anything queued
			// meanwhile.
			c.mu.Lock()
			c.queue = append(append([]queuedEnvelope{}, pending[i:]...), c.queue...)
			c.mu.Unlock()
			conn.Close()
			return
		}
	}
}

// Subscribe registers a handler for one message type, or Wildcard for
// all. Handlers run in registration order on the read goroutine.
func (c *WebsocketChannel) Subscribe(msgType string, h Handler) func() {
	c.mu.Lock()
	c.subSeq++
	id := c.subSeq
	c.subs[msgType] = append(c.subs[msgType], subscription{id: id, handler: h})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		entries := c.subs[msgType]
		for i, e := range entries {
			if e.id == id {
				c.subs[msgType] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

func (c *WebsocketChannel) dispatch(env protocol.Envelope) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs[env.Type])+len(c.subs[Wildcard]))
	for _, e := range c.subs[env.Type] {
		handlers = append(handlers, e.handler)
	}
	for _, e := range c.subs[Wildcard] {
		handlers = append(handlers, e.handler)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
}

// Disconnect closes the channel for good. No reconnect follows.
func (c *WebsocketChannel) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		conn.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()
		conn.Close()
	}
	c.setState(StateDisconnected)
	log.Info(log.CatTransport, "disconnected")
	return nil
}

func (c *WebsocketChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *WebsocketChannel) setState(s State) {
	c.mu.Lock()
	if c.closed && s != StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.terminal {
		c.mu.Unlock()
		return
	}
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.states.Publish(pubsub.StateEvent, s)
	}
}

// State returns the current connection state.
func (c *WebsocketChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// States exposes connection state transitions for UI consumption.
func (c *WebsocketChannel) States() *pubsub.Broker[State] {
	return c.states
}
