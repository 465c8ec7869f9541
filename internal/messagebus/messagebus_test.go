package messagebus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/contentloom/pkg/messages"
)

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) RecordEvent(t string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[t]++
}

func (o *countingObserver) count(t string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[t]
}

type capturePublisher struct {
	mu     sync.Mutex
	events []*messages.EventMessage
	err    error
}

func (c *capturePublisher) PublishEvent(_ context.Context, e *messages.EventMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return c.err
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "contentloom.events.acme.content.generated", EventSubject("acme", messages.TypeContentGenerated))
	assert.Equal(t, "contentloom.requests.acme_co.x", RequestSubject("acme.co", "x"))
	assert.Equal(t, "contentloom.requests._.my_feed", RequestSubject("", "my feed"))
	assert.Equal(t, "a_b_c", token("a*b>c"))
}

func TestConfig_Fields(t *testing.T) {
	cfg := Config{
		URL:        "nats://custom:4222",
		StreamName: "CUSTOM",
		Timeout:    30 * time.Second,
	}
	assert.Equal(t, "nats://custom:4222", cfg.URL)
	assert.Equal(t, "CUSTOM", cfg.StreamName)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestNewNatsMessageBus_BadURL(t *testing.T) {
	_, err := NewNatsMessageBus(Config{
		URL:     "nats://nonexistent-host:99999",
		Timeout: 500 * time.Millisecond,
	})
	assert.Error(t, err)
}

func TestLocalBus_EventsFilterByProject(t *testing.T) {
	obs := &countingObserver{}
	bus := NewLocalBus(obs, nil)
	defer bus.Close()

	var all, acme []string
	require.NoError(t, bus.SubscribeEvents("", func(e *messages.EventMessage) { all = append(all, e.ProjectID) }))
	require.NoError(t, bus.SubscribeEvents("acme", func(e *messages.EventMessage) { acme = append(acme, e.ProjectID) }))

	ctx := context.Background()
	require.NoError(t, bus.PublishEvent(ctx, messages.ContentGenerated("w", "r1", "acme", "x", "c1", messages.EventData{})))
	require.NoError(t, bus.PublishEvent(ctx, messages.RunFailed("w", "r2", "other", "x", errors.New("boom"))))

	assert.Equal(t, []string{"acme", "other"}, all)
	assert.Equal(t, []string{"acme"}, acme)
	assert.Equal(t, 1, obs.count(messages.TypeContentGenerated))
	assert.Equal(t, 1, obs.count(messages.TypeRunFailed))
}

func TestLocalBus_RequestRedelivery(t *testing.T) {
	bus := NewLocalBus(nil, nil)

	var (
		mu       sync.Mutex
		attempts int
		done     = make(chan struct{})
	)
	require.NoError(t, bus.SubscribeRequests(func(_ context.Context, req *messages.GenerationRequestMessage) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		close(done)
		return nil
	}))

	require.NoError(t, bus.PublishRequest(context.Background(), messages.GenerationRequested("acme", "x", "", "test", "c1")))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("request was not redelivered")
	}
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestLocalBus_GivesUpAfterMaxDeliver(t *testing.T) {
	bus := NewLocalBus(nil, nil)

	var (
		mu       sync.Mutex
		attempts int
	)
	require.NoError(t, bus.SubscribeRequests(func(context.Context, *messages.GenerationRequestMessage) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		return errors.New("permanent")
	}))
	require.NoError(t, bus.PublishRequest(context.Background(), messages.GenerationRequested("acme", "x", "", "test", "c1")))
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, attempts, localMaxDeliver)
	assert.GreaterOrEqual(t, attempts, 1)
}

func TestLocalBus_Closed(t *testing.T) {
	bus := NewLocalBus(nil, nil)
	require.NoError(t, bus.Close())

	ctx := context.Background()
	assert.ErrorIs(t, bus.PublishEvent(ctx, &messages.EventMessage{}), ErrBusClosed)
	assert.ErrorIs(t, bus.PublishRequest(ctx, &messages.GenerationRequestMessage{}), ErrBusClosed)
	assert.ErrorIs(t, bus.SubscribeEvents("", func(*messages.EventMessage) {}), ErrBusClosed)
}

func TestLocalBus_NoHandlerDrops(t *testing.T) {
	bus := NewLocalBus(nil, nil)
	defer bus.Close()
	assert.NoError(t, bus.PublishRequest(context.Background(), messages.GenerationRequested("a", "x", "", "t", "c")))
}

func TestRelay_ForwardsAndMarks(t *testing.T) {
	local := NewLocalBus(nil, nil)
	defer local.Close()
	remote := &capturePublisher{}

	relay := NewRelay(local, remote, "worker-1", nil)
	require.NoError(t, relay.Start())
	require.NoError(t, relay.Start())

	ctx := context.Background()
	original := messages.ContentGenerated("w", "r1", "acme", "x", "c1", messages.EventData{})
	require.NoError(t, local.PublishEvent(ctx, original))

	echoed := messages.ContentGenerated("w", "r2", "acme", "x", "c2", messages.EventData{})
	echoed.Metadata = map[string]interface{}{relayedKey: "worker-2"}
	require.NoError(t, local.PublishEvent(ctx, echoed))

	remote.mu.Lock()
	defer remote.mu.Unlock()
	require.Len(t, remote.events, 1)
	assert.Equal(t, "r1", remote.events[0].RunID)
	assert.Equal(t, "worker-1", remote.events[0].Metadata[relayedKey])
	assert.Nil(t, original.Metadata, "source event must not be mutated")
}

func TestRelay_PublishErrorIsSwallowed(t *testing.T) {
	local := NewLocalBus(nil, nil)
	defer local.Close()
	remote := &capturePublisher{err: errors.New("nats down")}

	require.NoError(t, NewRelay(local, remote, "w", nil).Start())
	assert.NoError(t, local.PublishEvent(context.Background(), messages.RunFailed("w", "r", "p", "x", nil)))
}
