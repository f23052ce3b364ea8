// Package notice carries user-visible notices. Anything that silently
// drops data elsewhere (queue overflow, stale eviction, oversized
// sends) must publish here so the loss is never truly silent.
package notice

import (
	"github.com/ucinar/exepad-runtime/internal/pubsub"
)

// Level classifies a notice for display.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is one user-visible message.
type Notice struct {
	Level   Level
	Message string
}

// Broker is the pubsub broker notices fan out on.
type Broker = pubsub.Broker[Notice]

// NewBroker creates a notice broker.
func NewBroker() *Broker {
	return pubsub.NewBroker[Notice]()
}

// Publish is a convenience helper that tolerates a nil broker.
func Publish(b *Broker, level Level, message string) {
	if b == nil {
		return
	}
	b.Publish(pubsub.NoticeEvent, Notice{Level: level, Message: message})
}
