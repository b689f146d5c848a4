package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fieldserv/onboarding/pkg/eventbus"
	"github.com/fieldserv/onboarding/pkg/events"
)

// DefaultRelayBuffer is the number of changes a Relay queues before dropping.
const DefaultRelayBuffer = 256

// Relay forwards accepted changes to the event bus. Enqueueing never blocks the
// process lock: when the queue is full the change is dropped and logged.
type Relay struct {
	bus    eventbus.EventPublisher
	logger *slog.Logger
	queue  chan Change

	mu      sync.Mutex // Orders enqueues against Stop
	stopped bool
	wg      sync.WaitGroup
	done    chan struct{}
}

func NewRelay(bus eventbus.EventPublisher, logger *slog.Logger, size int) *Relay {
	if size <= 0 {
		size = DefaultRelayBuffer
	}

	return &Relay{
		bus:    bus,
		logger: logger.With("module", "event_relay"),
		queue:  make(chan Change, size),
		done:   make(chan struct{}),
	}
}

// Observe is an Observer; register it with Processes.Observe. Changes
// observed after Stop are logged and dropped.
func (r *Relay) Observe(ctx context.Context, change Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		r.logger.WarnContext(ctx, "Relay stopped, dropping change",
			"process_id", change.Snapshot.ProcessID,
			"kind", change.Kind,
			"version", change.Snapshot.Version,
		)

		return
	}

	select {
	case r.queue <- change:
	default:
		r.logger.WarnContext(ctx, "Event queue full, dropping change",
			"process_id", change.Snapshot.ProcessID,
			"kind", change.Kind,
			"version", change.Snapshot.Version,
		)
	}
}

// Start publishes queued changes until Stop is called.
func (r *Relay) Start(ctx context.Context) {
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()

		for {
			select {
			case change := <-r.queue:
				r.publish(ctx, change)
			case <-r.done:
				r.drain(ctx)

				return
			}
		}
	}()
}

// Stop publishes whatever is still queued and waits for the worker to exit.
func (r *Relay) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.done)
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Relay) drain(ctx context.Context) {
	for {
		select {
		case change := <-r.queue:
			r.publish(ctx, change)
		default:
			return
		}
	}
}

func (r *Relay) publish(ctx context.Context, change Change) {
	event, ok := r.event(change)
	if !ok {
		r.logger.WarnContext(ctx, "No event for change", "kind", change.Kind)

		return
	}

	err := r.bus.Publish(ctx, change.Snapshot.ProcessID, event)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish event",
			"process_id", change.Snapshot.ProcessID,
			"event_type", event.GetType(),
			"error", err,
		)

		return
	}

	r.logger.DebugContext(ctx, "Event published",
		"process_id", change.Snapshot.ProcessID,
		"event_type", event.GetType(),
		"version", change.Snapshot.Version,
	)
}

func (r *Relay) event(change Change) (eventbus.Event, bool) {
	id := ""
	if generator, ok := r.bus.(interface{ GenerateID() string }); ok {
		id = generator.GenerateID()
	}

	return ChangeEvent(id, change)
}

// ChangeEvent converts a change into the event published for it.
func ChangeEvent(id string, change Change) (eventbus.Event, bool) {
	snapshot := change.Snapshot

	switch change.Kind {
	case ChangeCreated:
		stepIDs := make([]string, len(snapshot.Steps))
		for i, step := range snapshot.Steps {
			stepIDs[i] = step.ID
		}

		return events.ProcessCreated{
			BaseEvent:  events.NewBaseEvent(id, events.ProcessCreatedEvent, snapshot),
			Name:       snapshot.Name,
			TemplateID: snapshot.TemplateID,
			StepIDs:    stepIDs,
		}, true
	case ChangeTransitioned:
		if change.Transition == nil {
			return nil, false
		}

		return events.StepTransitioned{
			BaseEvent: events.NewBaseEvent(id, events.StepTransitionedEvent, snapshot),
			StepID:    change.Transition.StepID,
			Action:    change.Transition.Action,
			From:      change.Transition.From,
			To:        change.Transition.To,
			Cascade:   change.Transition.Cascade,
		}, true
	case ChangeStopped:
		return events.ProcessStopped{
			BaseEvent: events.NewBaseEvent(id, events.ProcessStoppedEvent, snapshot),
			Reason:    change.Reason,
		}, true
	case ChangeAttachmentAdded:
		if change.Attachment == nil {
			return nil, false
		}

		return events.AttachmentAdded{
			BaseEvent:  events.NewBaseEvent(id, events.AttachmentAddedEvent, snapshot),
			StepID:     change.StepID,
			Attachment: *change.Attachment,
		}, true
	case ChangeAttachmentRemoved:
		if change.Attachment == nil {
			return nil, false
		}

		return events.AttachmentRemoved{
			BaseEvent:    events.NewBaseEvent(id, events.AttachmentRemovedEvent, snapshot),
			StepID:       change.StepID,
			AttachmentID: change.Attachment.ID,
		}, true
	default:
		return nil, false
	}
}
