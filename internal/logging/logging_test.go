package logging

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jordanhubbard/contentloom/pkg/models"
)

type memorySink struct {
	mu      sync.Mutex
	entries []models.AgentLogEntry
	err     error
}

func (s *memorySink) AppendAgentLog(_ context.Context, e models.AgentLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, e)
	return nil
}

func TestNew(t *testing.T) {
	logger, err := New(Options{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = New(Options{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = New(Options{Level: "chatty"})
	assert.Error(t, err)
}

func TestAgentLog_AppendPersistsAndFansOut(t *testing.T) {
	sink := &memorySink{}
	al := NewAgentLog(sink, zap.NewNop())

	var seen []string
	al.Subscribe(func(e models.AgentLogEntry) { seen = append(seen, e.Stage) })

	e := al.Record(context.Background(), "run-1", "p1", "x", StageGeneration, StatusSuccess, "draft scored %d", 8)
	al.Record(context.Background(), "run-1", "p1", "x", StageEditor, StatusRejected, "editor scored lower")

	assert.NotEmpty(t, e.ID)
	assert.False(t, e.CreatedAt.IsZero())
	assert.Equal(t, "draft scored 8", e.Message)
	assert.Equal(t, []string{StageGeneration, StageEditor}, seen)
	require.Len(t, sink.entries, 2)

	recent := al.Recent(10, Filter{RunID: "run-1"})
	require.Len(t, recent, 2)
	assert.Equal(t, StageEditor, recent[0].Stage, "newest first")

	assert.Len(t, al.Recent(10, Filter{Stage: StageGeneration}), 1)
	assert.Empty(t, al.Recent(10, Filter{ProjectID: "other"}))
}

func TestAgentLog_SinkFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	al := NewAgentLog(&memorySink{err: errors.New("db down")}, zap.New(core))

	al.Record(context.Background(), "run-2", "p1", "x", StageGeneration, StatusSuccess, "ok")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "AgentLog", logs.All()[0].ContextMap()["component"])
	assert.Len(t, al.Recent(0, Filter{}), 1)
}

func TestAgentLog_RingWraps(t *testing.T) {
	al := NewAgentLog(nil, nil)
	for i := 0; i < MaxBufferSize+5; i++ {
		al.Append(context.Background(), models.AgentLogEntry{RunID: "r", Stage: StageGeneration})
	}
	assert.Len(t, al.Recent(MaxBufferSize, Filter{}), MaxBufferSize)
}
