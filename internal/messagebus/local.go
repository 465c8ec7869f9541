package messagebus

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/internal/logging"
	"github.com/jordanhubbard/contentloom/pkg/messages"
)

// localMaxDeliver matches the JetStream consumer setting.
const localMaxDeliver = 3

// ErrBusClosed is returned by a closed LocalBus.
var ErrBusClosed = errors.New("message bus closed")

type eventSub struct {
	projectID string
	handler   func(*messages.EventMessage)
}

// LocalBus is an in-process Bus for single-node runs and tests. Events are
// delivered synchronously; requests run on a goroutine per message and are
// round-robined across request handlers.
type LocalBus struct {
	mu       sync.Mutex
	events   []eventSub
	handlers []func(context.Context, *messages.GenerationRequestMessage) error
	next     int
	closed   bool
	wg       sync.WaitGroup
	observer Observer
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewLocalBus creates an in-process bus.
func NewLocalBus(observer Observer, logger *zap.Logger) *LocalBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalBus{
		observer: observer,
		logger:   logging.Component(logger, "MessageBus"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// PublishEvent delivers an event to every matching subscriber.
func (b *LocalBus) PublishEvent(_ context.Context, event *messages.EventMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	subs := make([]eventSub, len(b.events))
	copy(subs, b.events)
	b.mu.Unlock()

	for _, s := range subs {
		if s.projectID == "" || s.projectID == event.ProjectID {
			s.handler(event)
		}
	}
	if b.observer != nil {
		b.observer.RecordEvent(event.Type)
	}
	return nil
}

// SubscribeEvents registers an event handler.
func (b *LocalBus) SubscribeEvents(projectID string, handler func(*messages.EventMessage)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.events = append(b.events, eventSub{projectID: projectID, handler: handler})
	return nil
}

// PublishRequest hands the request to the next handler. Requests with no
// handler registered are dropped with a warning.
func (b *LocalBus) PublishRequest(_ context.Context, req *messages.GenerationRequestMessage) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	if len(b.handlers) == 0 {
		b.mu.Unlock()
		b.logger.Warn("no request handler registered; dropping request",
			zap.String("project_id", req.ProjectID), zap.String("platform", req.Platform))
		return nil
	}
	handler := b.handlers[b.next%len(b.handlers)]
	b.next++
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		for attempt := 1; attempt <= localMaxDeliver; attempt++ {
			err := handler(b.ctx, req)
			if err == nil {
				return
			}
			b.logger.Warn("generation request failed",
				zap.String("project_id", req.ProjectID),
				zap.String("platform", req.Platform),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if b.ctx.Err() != nil {
				return
			}
		}
	}()
	return nil
}

// SubscribeRequests registers a request handler.
func (b *LocalBus) SubscribeRequests(handler func(context.Context, *messages.GenerationRequestMessage) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.handlers = append(b.handlers, handler)
	return nil
}

// Close cancels in-flight requests and waits for them.
func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cancel()
	b.wg.Wait()
	return nil
}
