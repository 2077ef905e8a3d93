// Package comms carries dispatch events between the supervisor, the sweeps,
// and any attached frontends, and keeps the bounded interaction history the
// dispatcher uses as conversational context.
package comms

import (
	"context"
	"time"
)

// EventType identifies the kind of event on the bus.
type EventType string

const (
	// TypeExchange records a completed query/response round trip.
	TypeExchange EventType = "exchange"
	// TypeTaskUpdate signals a task status change.
	TypeTaskUpdate EventType = "task_update"
	// TypeNotification mirrors a notification appended to a task.
	TypeNotification EventType = "notification"
)

// Event is a single unit on the bus.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	Handler   string    `json:"handler,omitempty"`
	Query     string    `json:"query,omitempty"`
	Response  string    `json:"response,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber receives published events.
type Subscriber func(ctx context.Context, ev *Event) error

// Bus distributes events and retains recent history.
type Bus interface {
	// Publish delivers an event to all subscribers and appends it to history.
	Publish(ctx context.Context, ev *Event) error

	// Subscribe registers a subscriber for every published event.
	// The returned function unsubscribes it.
	Subscribe(sub Subscriber) (unsubscribe func())

	// Recent returns up to limit events of the given type, most recent first.
	// An empty type matches every event.
	Recent(et EventType, limit int) []*Event
}
