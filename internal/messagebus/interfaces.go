package messagebus

import (
	"context"

	"github.com/jordanhubbard/contentloom/pkg/messages"
)

// EventPublisher abstracts run event publishing for testability.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *messages.EventMessage) error
}

// EventSubscriber abstracts run event subscription for testability.
type EventSubscriber interface {
	SubscribeEvents(projectID string, handler func(*messages.EventMessage)) error
}

// RequestPublisher abstracts generation request publishing for testability.
type RequestPublisher interface {
	PublishRequest(ctx context.Context, req *messages.GenerationRequestMessage) error
}

// RequestSubscriber delivers generation requests to a worker. A handler
// error asks for redelivery.
type RequestSubscriber interface {
	SubscribeRequests(handler func(context.Context, *messages.GenerationRequestMessage) error) error
}

// Bus is the full message bus surface.
type Bus interface {
	EventPublisher
	EventSubscriber
	RequestPublisher
	RequestSubscriber
	Close() error
}

// Verify implementations at compile time.
var (
	_ Bus = (*NatsMessageBus)(nil)
	_ Bus = (*LocalBus)(nil)
)
