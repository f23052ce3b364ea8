// Package transport maintains the live-edit channel to the hosting
// editor: a websocket with reconnect, heartbeat, an offline send queue
// and at-most-once inbound delivery.
package transport

import (
	"errors"
	"time"

	"github.com/ucinar/exepad-runtime/internal/protocol"
	"github.com/ucinar/exepad-runtime/internal/pubsub"
)

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	// StateError is terminal: the reconnect budget is exhausted and the
	// channel will not try again.
	StateError State = "error"
)

var (
	// ErrTooLarge rejects a message over the configured size ceiling.
	ErrTooLarge = errors.New("transport: message exceeds size limit")
	// ErrClosed rejects operations on a disconnected channel that has
	// been shut down or has reached StateError.
	ErrClosed = errors.New("transport: channel closed")
)

// Handler receives one inbound envelope. Handlers run on the read
// goroutine and must not block.
type Handler func(env protocol.Envelope)

// Wildcard subscribes a handler to every inbound message type.
const Wildcard = "*"

// Channel is the live-edit transport. Implementations deliver each
// inbound message at most once and queue outbound messages while
// offline within the configured bounds.
type Channel interface {
	// Connect starts the channel. It returns once the connection
	// attempt is underway; state transitions are published on States.
	Connect(appID, sessionID, token string) error
	// Disconnect closes the channel cleanly. No reconnect follows.
	Disconnect() error
	// Send transmits an envelope, or queues it while offline.
	Send(env protocol.Envelope) error
	// Subscribe registers a handler for a message type (or Wildcard).
	// Handlers fire in registration order. The returned function
	// removes the subscription.
	Subscribe(msgType string, h Handler) func()
	State() State
	States() *pubsub.Broker[State]
}

// Config tunes the websocket channel.
type Config struct {
	// URL is the editor websocket endpoint, e.g. wss://host/live.
	URL string `mapstructure:"url"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// PongTimeout tears the connection down when no pong (frame or
	// message) arrives within it, forcing a reconnect.
	PongTimeout  time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	ReconnectBase        time.Duration `mapstructure:"reconnect_base"`
	ReconnectMax         time.Duration `mapstructure:"reconnect_max"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`

	MaxMessageBytes int `mapstructure:"max_message_bytes"`

	// QueueCapacity bounds the offline send queue; the oldest entry is
	// evicted when full. QueueTTL drops entries that sat queued too
	// long before a reconnect. Both losses surface as notices.
	QueueCapacity int           `mapstructure:"queue_capacity"`
	QueueTTL      time.Duration `mapstructure:"queue_ttl"`

	// DedupeWindow is how long inbound message ids are remembered for
	// duplicate suppression.
	DedupeWindow time.Duration `mapstructure:"dedupe_window"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:    25 * time.Second,
		PongTimeout:          60 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReconnectBase:        time.Second,
		ReconnectMax:         30 * time.Second,
		MaxReconnectAttempts: 8,
		MaxMessageBytes:      256 * 1024,
		QueueCapacity:        64,
		QueueTTL:             2 * time.Minute,
		DedupeWindow:         5 * time.Minute,
	}
}
