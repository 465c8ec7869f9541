package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/internal/logging"
	"github.com/jordanhubbard/contentloom/pkg/messages"
)

const subjectRoot = "contentloom"

// Observer receives a count per published event type.
type Observer interface {
	RecordEvent(eventType string)
}

// NatsMessageBus implements the message bus using NATS with JetStream.
type NatsMessageBus struct {
	conn           *nats.Conn
	js             nats.JetStreamContext
	mu             sync.Mutex
	subscriptions  map[string]*nats.Subscription
	streamName     string
	url            string
	consumerPrefix string
	ackWait        time.Duration
	observer       Observer
	logger         *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds NATS configuration.
type Config struct {
	URL            string        `yaml:"url"`             // e.g. "nats://nats:4222"
	StreamName     string        `yaml:"stream_name"`     // default "CONTENTLOOM"
	Timeout        time.Duration `yaml:"timeout"`         // connection timeout
	ConsumerPrefix string        `yaml:"consumer_prefix"` // prefix for durable consumer names (for test isolation)
	AckWait        time.Duration `yaml:"ack_wait"`        // redelivery window for a request, default 10m
	Observer       Observer      `yaml:"-"`
	Logger         *zap.Logger   `yaml:"-"`
}

// NewNatsMessageBus connects to NATS and ensures the JetStream stream exists.
func NewNatsMessageBus(cfg Config) (*NatsMessageBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "CONTENTLOOM"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.AckWait == 0 {
		cfg.AckWait = 10 * time.Minute
	}
	logger := logging.Component(cfg.Logger, "MessageBus")

	nc, err := nats.Connect(cfg.URL,
		nats.Name("contentloom"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	mb := &NatsMessageBus{
		conn:           nc,
		js:             js,
		subscriptions:  make(map[string]*nats.Subscription),
		streamName:     cfg.StreamName,
		url:            cfg.URL,
		consumerPrefix: cfg.ConsumerPrefix,
		ackWait:        cfg.AckWait,
		observer:       cfg.Observer,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
	}

	if err := mb.ensureStream(); err != nil {
		cancel()
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	logger.Info("connected to NATS", zap.String("url", cfg.URL), zap.String("stream", cfg.StreamName))
	return mb, nil
}

func (mb *NatsMessageBus) streamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      mb.streamName,
		Subjects:  []string{subjectRoot + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}
}

// ensureStream creates or updates the JetStream stream. LimitsPolicy lets
// several consumers read the same event subjects.
func (mb *NatsMessageBus) ensureStream() error {
	cfg := mb.streamConfig()
	if _, err := mb.js.StreamInfo(mb.streamName); err != nil {
		if _, err := mb.js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		mb.logger.Info("created JetStream stream", zap.String("stream", mb.streamName))
		return nil
	}
	if _, err := mb.js.UpdateStream(cfg); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// token makes an identifier safe to use as one subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}

// EventSubject is contentloom.events.<project>.<event type>.
func EventSubject(projectID, eventType string) string {
	return fmt.Sprintf("%s.events.%s.%s", subjectRoot, token(projectID), eventType)
}

// RequestSubject is contentloom.requests.<project>.<platform>.
func RequestSubject(projectID, platform string) string {
	return fmt.Sprintf("%s.requests.%s.%s", subjectRoot, token(projectID), token(platform))
}

// PublishEvent publishes a run event.
func (mb *NatsMessageBus) PublishEvent(ctx context.Context, event *messages.EventMessage) error {
	if err := mb.publish(ctx, EventSubject(event.ProjectID, event.Type), event); err != nil {
		return err
	}
	if mb.observer != nil {
		mb.observer.RecordEvent(event.Type)
	}
	return nil
}

// PublishRequest enqueues a generation request. The correlation id doubles
// as the JetStream message id, so a retried publish is deduplicated.
func (mb *NatsMessageBus) PublishRequest(ctx context.Context, req *messages.GenerationRequestMessage) error {
	var opts []nats.PubOpt
	if req.CorrelationID != "" {
		opts = append(opts, nats.MsgId(req.CorrelationID))
	}
	return mb.publish(ctx, RequestSubject(req.ProjectID, req.Platform), req, opts...)
}

func (mb *NatsMessageBus) publish(ctx context.Context, subject string, msg interface{}, opts ...nats.PubOpt) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	opts = append(opts, nats.Context(ctx))
	if _, err := mb.js.Publish(subject, data, opts...); err != nil {
		return fmt.Errorf("failed to publish message to %s: %w", subject, err)
	}
	return nil
}

// SubscribeEvents subscribes to one project's run events, or every
// project's when projectID is empty.
func (mb *NatsMessageBus) SubscribeEvents(projectID string, handler func(*messages.EventMessage)) error {
	subject := fmt.Sprintf("%s.events.*.>", subjectRoot)
	consumerName := "events-all"
	if projectID != "" {
		subject = fmt.Sprintf("%s.events.%s.>", subjectRoot, token(projectID))
		consumerName = "events-" + token(projectID)
	}

	return mb.subscribe(subject, consumerName, "", 30*time.Second, func(msg *nats.Msg) {
		var event messages.EventMessage
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			mb.logger.Warn("failed to unmarshal event message", zap.String("subject", msg.Subject), zap.Error(err))
			_ = msg.Term()
			return
		}
		handler(&event)
		_ = msg.Ack()
	})
}

// SubscribeRequests joins the worker queue group. Each request reaches one
// worker; a handler error triggers redelivery up to MaxDeliver.
func (mb *NatsMessageBus) SubscribeRequests(handler func(context.Context, *messages.GenerationRequestMessage) error) error {
	subject := fmt.Sprintf("%s.requests.>", subjectRoot)

	return mb.subscribe(subject, "requests-workers", "workers", mb.ackWait, func(msg *nats.Msg) {
		var req messages.GenerationRequestMessage
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			mb.logger.Warn("failed to unmarshal generation request", zap.String("subject", msg.Subject), zap.Error(err))
			_ = msg.Term()
			return
		}
		if err := handler(mb.ctx, &req); err != nil {
			mb.logger.Warn("generation request failed; requesting redelivery",
				zap.String("project_id", req.ProjectID),
				zap.String("platform", req.Platform),
				zap.Error(err))
			_ = msg.NakWithDelay(5 * time.Second)
			return
		}
		_ = msg.Ack()
	})
}

// prefixConsumer adds the optional consumer prefix for namespace isolation.
func (mb *NatsMessageBus) prefixConsumer(name string) string {
	if mb.consumerPrefix != "" {
		return mb.consumerPrefix + "-" + name
	}
	return name
}

func (mb *NatsMessageBus) subscribe(subject, consumerName, queue string, ackWait time.Duration, handler nats.MsgHandler) error {
	prefixed := mb.prefixConsumer(consumerName)
	opts := []nats.SubOpt{
		nats.Durable(prefixed),
		nats.AckExplicit(),
		nats.MaxDeliver(3),
		nats.AckWait(ackWait),
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue != "" {
		sub, err = mb.js.QueueSubscribe(subject, queue, handler, opts...)
	} else {
		sub, err = mb.js.Subscribe(subject, handler, opts...)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	mb.mu.Lock()
	mb.subscriptions[subject] = sub
	mb.mu.Unlock()
	mb.logger.Info("subscribed", zap.String("subject", subject), zap.String("consumer", prefixed))
	return nil
}

// Unsubscribe removes a subscription.
func (mb *NatsMessageBus) Unsubscribe(subject string) error {
	mb.mu.Lock()
	sub, ok := mb.subscriptions[subject]
	delete(mb.subscriptions, subject)
	mb.mu.Unlock()
	if !ok {
		return fmt.Errorf("no subscription found for %s", subject)
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", subject, err)
	}
	return nil
}

// Close drains subscriptions and closes the NATS connection.
func (mb *NatsMessageBus) Close() error {
	mb.cancel()
	mb.mu.Lock()
	subjects := make([]string, 0, len(mb.subscriptions))
	for subject := range mb.subscriptions {
		subjects = append(subjects, subject)
	}
	mb.mu.Unlock()
	for _, subject := range subjects {
		_ = mb.Unsubscribe(subject)
	}
	mb.conn.Close()
	mb.logger.Info("closed NATS connection")
	return nil
}

// Health returns the health status of the NATS connection.
func (mb *NatsMessageBus) Health() error {
	if mb.conn.IsClosed() {
		return fmt.Errorf("NATS connection is closed")
	}
	if !mb.conn.IsConnected() {
		return fmt.Errorf("NATS is not connected")
	}
	if _, err := mb.js.StreamInfo(mb.streamName); err != nil {
		return fmt.Errorf("JetStream stream %s is unhealthy: %w", mb.streamName, err)
	}
	return nil
}

// Stats returns statistics about the message bus.
func (mb *NatsMessageBus) Stats() map[string]interface{} {
	mb.mu.Lock()
	subs := len(mb.subscriptions)
	mb.mu.Unlock()

	stats := map[string]interface{}{
		"url":           mb.url,
		"stream":        mb.streamName,
		"connected":     mb.conn.IsConnected(),
		"subscriptions": subs,
	}
	if info, err := mb.js.StreamInfo(mb.streamName); err == nil {
		stats["stream_messages"] = info.State.Msgs
		stats["stream_bytes"] = info.State.Bytes
		stats["stream_consumers"] = info.State.Consumers
	}
	return stats
}
