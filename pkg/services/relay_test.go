package services_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/fieldserv/onboarding/pkg/channels/gochannel"
	"github.com/fieldserv/onboarding/pkg/eventbus"
	"github.com/fieldserv/onboarding/pkg/events"
	"github.com/fieldserv/onboarding/pkg/log"
	"github.com/fieldserv/onboarding/pkg/mocks"
	"github.com/fieldserv/onboarding/pkg/models"
	"github.com/fieldserv/onboarding/pkg/services"
	"github.com/fieldserv/onboarding/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRelay_PublishesChangesToBus(t *testing.T) {
	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, log.Discard())
	t.Cleanup(func() { _ = bus.Close() })

	transitions := make(chan *events.StepTransitioned, 4)
	created := make(chan *events.ProcessCreated, 1)

	require.NoError(t, bus.Handle(events.StepTransitionedEvent, func(_ context.Context, event any) error {
		transitions <- event.(*events.StepTransitioned)

		return nil
	}))
	require.NoError(t, bus.Handle(events.ProcessCreatedEvent, func(_ context.Context, event any) error {
		created <- event.(*events.ProcessCreated)

		return nil
	}))
	require.NoError(t, bus.Subscribe(t.Context()))

	relay := services.NewRelay(bus, log.Discard(), 16)
	relay.Start(t.Context())

	s := newService(t, services.Options{})
	s.Observe(relay.Observe)

	create(t, s, "p1", step("A"), step("B", "A"))
	transition(t, s, "p1", "A", models.ActionStart)
	transition(t, s, "p1", "A", models.ActionComplete)

	relay.Stop()

	select {
	case got := <-created:
		assert.Equal(t, "p1", got.ProcessID)
		assert.Equal(t, []string{"A", "B"}, got.StepIDs)
		assert.NotEmpty(t, got.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("created event was not delivered")
	}

	var got []*events.StepTransitioned

	for len(got) < 2 {
		select {
		case e := <-transitions:
			got = append(got, e)
		case <-time.After(5 * time.Second):
			t.Fatal("transition events were not delivered")
		}
	}

	assert.Equal(t, models.ActionStart, got[0].Action)
	assert.Equal(t, int64(2), got[0].Version)
	assert.Equal(t, models.ActionComplete, got[1].Action)
	assert.Equal(t, []workflow.StepChange{{StepID: "B", From: models.StepStateBlocked, To: models.StepStatePending}}, got[1].Cascade)
}

func TestRelay_PublishErrorsAreLogged(t *testing.T) {
	t.Parallel()

	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("evt-1")
	bus.On("Publish", mock.Anything, "p1", mock.Anything).Return(errors.New("broker down"))

	relay := services.NewRelay(bus, log.Discard(), 0)
	relay.Start(t.Context())

	relay.Observe(t.Context(), services.Change{
		Kind:     services.ChangeStopped,
		Snapshot: models.Snapshot{ProcessID: "p1", Version: 3, Status: models.ProcessStatusStopped},
		Reason:   "duplicate",
	})

	relay.Stop()
	relay.Stop()

	bus.AssertNumberOfCalls(t, "Publish", 1)

	// Changes arriving after Stop are ignored.
	relay.Observe(t.Context(), services.Change{Kind: services.ChangeStopped, Snapshot: models.Snapshot{ProcessID: "p1"}})
	bus.AssertNumberOfCalls(t, "Publish", 1)
}

func TestChangeEvent(t *testing.T) {
	t.Parallel()

	snapshot := models.Snapshot{ProcessID: "p1", Version: 4, Status: models.ProcessStatusInProgress}
	attachment := &models.Attachment{ID: "att-1", Name: "contract.pdf"}

	tests := []struct {
		name   string
		change services.Change
		want   events.EventType
		ok     bool
	}{
		{"created", services.Change{Kind: services.ChangeCreated, Snapshot: snapshot}, events.ProcessCreatedEvent, true},
		{"transitioned", services.Change{Kind: services.ChangeTransitioned, Snapshot: snapshot, Transition: &workflow.Transition{Action: models.ActionStart}}, events.StepTransitionedEvent, true},
		{"transitioned without transition", services.Change{Kind: services.ChangeTransitioned, Snapshot: snapshot}, "", false},
		{"stopped", services.Change{Kind: services.ChangeStopped, Snapshot: snapshot}, events.ProcessStoppedEvent, true},
		{"attachment added", services.Change{Kind: services.ChangeAttachmentAdded, Snapshot: snapshot, StepID: "A", Attachment: attachment}, events.AttachmentAddedEvent, true},
		{"attachment removed", services.Change{Kind: services.ChangeAttachmentRemoved, Snapshot: snapshot, StepID: "A", Attachment: attachment}, events.AttachmentRemovedEvent, true},
		{"unknown", services.Change{Kind: "renamed", Snapshot: snapshot}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			event, ok := services.ChangeEvent("evt-1", tt.change)
			assert.Equal(t, tt.ok, ok)

			if !tt.ok {
				assert.Nil(t, event)

				return
			}

			assert.Equal(t, tt.want, event.GetType())
		})
	}
}

func TestRelay_ChangesRacingStopArePublishedOrLogged(t *testing.T) {
	t.Parallel()

	const observers = 50

	var logs bytes.Buffer

	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))

	bus := &mocks.MockEventBus{}
	bus.On("GenerateID").Return("evt-1")
	bus.On("Publish", mock.Anything, "p1", mock.Anything).Return(nil)

	relay := services.NewRelay(bus, logger, observers)
	relay.Start(t.Context())

	var wg sync.WaitGroup

	for i := range observers {
		wg.Add(1)

		go func(version int64) {
			defer wg.Done()

			relay.Observe(t.Context(), services.Change{
				Kind:     services.ChangeStopped,
				Snapshot: models.Snapshot{ProcessID: "p1", Version: version},
			})
		}(int64(i + 1))
	}

	relay.Stop()
	wg.Wait()

	published := 0

	for _, call := range bus.Calls {
		if call.Method == "Publish" {
			published++
		}
	}

	dropped := strings.Count(logs.String(), "Relay stopped, dropping change")
	assert.Equal(t, observers, published+dropped)
}
