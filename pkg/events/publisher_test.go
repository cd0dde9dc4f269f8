package events

import (
	"context"
	"errors"
	"testing"
)

func TestNoOp(t *testing.T) {
	err := NoOp.PublishCallCompleted(context.Background(), &CallCompletedEvent{
		Service: "inventory",
		Method:  "addItem",
		Outcome: OutcomeSucceeded,
	})
	if err != nil {
		t.Errorf("events:publisher_test - expected no error, got %v", err)
	}
}

func TestPublisherFunc(t *testing.T) {
	var captured *CallCompletedEvent
	boom := errors.New("broker down")

	var pub EventPublisher = PublisherFunc(func(_ context.Context, event *CallCompletedEvent) error {
		captured = event
		if event.Outcome == OutcomeIndeterminate {
			return boom
		}
		return nil
	})

	event := &CallCompletedEvent{
		ID:         "c-1",
		Service:    "inventory",
		Method:     "editItem",
		Mode:       "update",
		Outcome:    OutcomeFailed,
		Code:       "REMOTE_REJECTED",
		RemoteCode: "NOT_FOUND",
		Attempts:   1,
		Timestamp:  "2025-01-01T00:00:00Z",
	}
	if err := pub.PublishCallCompleted(context.Background(), event); err != nil {
		t.Errorf("events:publisher_test - expected no error, got %v", err)
	}
	if captured != event {
		t.Fatal("events:publisher_test - expected the function to receive the event")
	}

	event.Outcome = OutcomeIndeterminate
	if err := pub.PublishCallCompleted(context.Background(), event); !errors.Is(err, boom) {
		t.Errorf("events:publisher_test - err = %v, want the function's error", err)
	}
}
