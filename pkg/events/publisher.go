package events

import "context"

// EventPublisher publishes call audit events.
type EventPublisher interface {
	PublishCallCompleted(ctx context.Context, event *CallCompletedEvent) error
}

// PublisherFunc adapts a function to EventPublisher.
type PublisherFunc func(ctx context.Context, event *CallCompletedEvent) error

// PublishCallCompleted calls f.
func (f PublisherFunc) PublishCallCompleted(ctx context.Context, event *CallCompletedEvent) error {
	return f(ctx, event)
}

// NoOp discards every event. The dispatcher uses it when auditing is off.
var NoOp EventPublisher = PublisherFunc(func(context.Context, *CallCompletedEvent) error { return nil })
