// Package eventbus publishes process change events to the outside world.
package eventbus

import (
	"context"

	"github.com/fieldserv/onboarding/pkg/events"
)

// Event is any process event; the type selects the topic.
type Event interface {
	GetType() events.EventType
}

// EventPublisher sends events keyed by process id. Events sharing a key are
// delivered in publish order.
type EventPublisher interface {
	Publish(ctx context.Context, processID string, event Event) error
}

// EventSubscriber dispatches received events to the handler registered for
// their type. Handlers are registered before Subscribe.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event struct.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
