package messagebus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/internal/logging"
	"github.com/jordanhubbard/contentloom/pkg/messages"
)

const relayedKey = "relayed_by"

// Relay forwards events from an in-process bus to a remote publisher so
// other workers and dashboards see them. Events that already carry a relay
// mark are not forwarded again.
type Relay struct {
	source     EventSubscriber
	target     EventPublisher
	instanceID string
	timeout    time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	started bool
}

// NewRelay creates a relay from source to target.
func NewRelay(source EventSubscriber, target EventPublisher, instanceID string, logger *zap.Logger) *Relay {
	return &Relay{
		source:     source,
		target:     target,
		instanceID: instanceID,
		timeout:    5 * time.Second,
		logger:     logging.Component(logger, "Relay"),
	}
}

// Start subscribes to every project's events on the source.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if err := r.source.SubscribeEvents("", r.forward); err != nil {
		return err
	}
	r.started = true
	r.logger.Info("started event relay", zap.String("instance", r.instanceID))
	return nil
}

func (r *Relay) forward(event *messages.EventMessage) {
	if _, seen := event.Metadata[relayedKey]; seen {
		return
	}

	out := *event
	out.Metadata = make(map[string]interface{}, len(event.Metadata)+1)
	for k, v := range event.Metadata {
		out.Metadata[k] = v
	}
	out.Metadata[relayedKey] = r.instanceID

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.target.PublishEvent(ctx, &out); err != nil {
		r.logger.Warn("failed to relay event",
			zap.String("type", event.Type),
			zap.String("run_id", event.RunID),
			zap.Error(err))
	}
}
