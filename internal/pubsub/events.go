// Package pubsub provides a generic publish/subscribe event system.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	CreatedEvent EventType = "created"
	UpdatedEvent EventType = "updated"
	DeletedEvent EventType = "deleted"

	// AppliedEvent marks a patch that has been applied to the live tree.
	AppliedEvent EventType = "applied"
	// DiscardedEvent marks a patch rejected by the revision gate.
	DiscardedEvent EventType = "discarded"
	// NoticeEvent carries a user-visible notice (queue drops, oversized
	// sends, stale eviction).
	NoticeEvent EventType = "notice"
	// StateEvent carries a connection or session state change.
	StateEvent EventType = "state"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}
