// Package bus provides the event bus used to publish sync progress and fleet
// lifecycle events. A NATS backend is used when configured; the in-memory bus
// is the default.
package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Subjects published by the toolkit.
const (
	SubjectSyncProgress  = "jules.sync.progress"
	SubjectFleetDispatch = "fleet.dispatch.event"
	SubjectFleetMerge    = "fleet.merge.event"
)

// Event is a message on the event bus.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"` // component that produced the event
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates an event with a UUID and current timestamp.
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// EventHandler handles an event.
type EventHandler func(ctx context.Context, event *Event) error

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// EventBus is the publish/subscribe surface.
type EventBus interface {
	Publish(ctx context.Context, subject string, event *Event) error
	Subscribe(subject string, handler EventHandler) (Subscription, error)
	Close()
	IsConnected() bool
}
