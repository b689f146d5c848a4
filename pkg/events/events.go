// Package events defines the notifications published for accepted process changes.
package events

import (
	"time"

	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/workflow"
)

type EventType string

// Topic is the Kafka topic all process events are published to.
const Topic = "onboarding.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ProcessCreatedEvent    EventType = "process.created"
	StepTransitionedEvent  EventType = "step.transitioned"
	ProcessStoppedEvent    EventType = "process.stopped"
	AttachmentAddedEvent   EventType = "attachment.added"
	AttachmentRemovedEvent EventType = "attachment.removed"
)

// BaseEvent carries the process version and aggregate status right after the change.
type BaseEvent struct {
	ID        string               `json:"id"`
	Type      EventType            `json:"type"`
	Timestamp time.Time            `json:"timestamp"`
	ProcessID string               `json:"process_id"`
	Version   int64                `json:"version"`
	Status    models.ProcessStatus `json:"status"`
	Metadata  map[string]any       `json:"metadata,omitempty"`
}

// NewBaseEvent fills the common fields from a snapshot.
func NewBaseEvent(id string, eventType EventType, snapshot models.Snapshot) BaseEvent {
	return BaseEvent{
		ID:        id,
		Type:      eventType,
		Timestamp: snapshot.UpdatedAt,
		ProcessID: snapshot.ProcessID,
		Version:   snapshot.Version,
		Status:    snapshot.Status,
	}
}

type ProcessCreated struct {
	BaseEvent

	Name       string   `json:"name"`
	TemplateID string   `json:"template_id,omitempty"`
	StepIDs    []string `json:"step_ids"`
}

func (e ProcessCreated) GetType() EventType {
	return ProcessCreatedEvent
}

// StepTransitioned reports one accepted action and the dependent steps it moved.
type StepTransitioned struct {
	BaseEvent

	StepID  string                `json:"step_id"`
	Action  models.Action         `json:"action"`
	From    models.StepState      `json:"from"`
	To      models.StepState      `json:"to"`
	Cascade []workflow.StepChange `json:"cascade,omitempty"`
}

func (e StepTransitioned) GetType() EventType {
	return StepTransitionedEvent
}

type ProcessStopped struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e ProcessStopped) GetType() EventType {
	return ProcessStoppedEvent
}

type AttachmentAdded struct {
	BaseEvent

	StepID     string            `json:"step_id"`
	Attachment models.Attachment `json:"attachment"`
}

func (e AttachmentAdded) GetType() EventType {
	return AttachmentAddedEvent
}

type AttachmentRemoved struct {
	BaseEvent

	StepID       string `json:"step_id"`
	AttachmentID string `json:"attachment_id"`
}

func (e AttachmentRemoved) GetType() EventType {
	return AttachmentRemovedEvent
}

// New returns an empty event value for decoding a payload of the given type.
func New(eventType EventType) (any, bool) {
	switch eventType {
	case ProcessCreatedEvent:
		return &ProcessCreated{}, true
	case StepTransitionedEvent:
		return &StepTransitioned{}, true
	case ProcessStoppedEvent:
		return &ProcessStopped{}, true
	case AttachmentAddedEvent:
		return &AttachmentAdded{}, true
	case AttachmentRemovedEvent:
		return &AttachmentRemoved{}, true
	default:
		return nil, false
	}
}
