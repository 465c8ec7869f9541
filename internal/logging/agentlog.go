package logging

import (
	"container/ring"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/pkg/models"
)

// MaxBufferSize is the number of agent log entries kept in memory.
const MaxBufferSize = 2000

// Agent log stages and statuses.
const (
	StageGeneration = "generation"
	StageEditor     = "editor"

	StatusSuccess  = "success"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Sink persists agent log entries.
type Sink interface {
	AppendAgentLog(ctx context.Context, entry models.AgentLogEntry) error
}

// AgentLog buffers agent log entries, fans them out to subscribers and
// writes them through to a sink.
type AgentLog struct {
	mu       sync.RWMutex
	buffer   *ring.Ring
	sink     Sink
	handlers []func(models.AgentLogEntry)
	logger   *zap.Logger
	now      func() time.Time
}

// NewAgentLog creates an agent log. A nil sink keeps entries in memory only.
func NewAgentLog(sink Sink, logger *zap.Logger) *AgentLog {
	return &AgentLog{
		buffer: ring.New(MaxBufferSize),
		sink:   sink,
		logger: Component(logger, "AgentLog"),
		now:    time.Now,
	}
}

// Append records one entry. Persistence failures are logged, never returned.
func (a *AgentLog) Append(ctx context.Context, entry models.AgentLogEntry) models.AgentLogEntry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = a.now().UTC()
	}

	a.mu.Lock()
	a.buffer.Value = entry
	a.buffer = a.buffer.Next()
	handlers := append([]func(models.AgentLogEntry){}, a.handlers...)
	a.mu.Unlock()

	for _, h := range handlers {
		h(entry)
	}

	if a.sink != nil {
		if err := a.sink.AppendAgentLog(ctx, entry); err != nil {
			a.logger.Warn("failed to persist agent log entry",
				zap.String("run_id", entry.RunID), zap.String("stage", entry.Stage), zap.Error(err))
		}
	}
	return entry
}

// Record is a convenience wrapper around Append.
func (a *AgentLog) Record(ctx context.Context, runID, projectID, platform, stage, status, format string, args ...any) models.AgentLogEntry {
	return a.Append(ctx, models.AgentLogEntry{
		RunID:     runID,
		ProjectID: projectID,
		Platform:  platform,
		Stage:     stage,
		Status:    status,
		Message:   fmt.Sprintf(format, args...),
	})
}

// Subscribe registers a handler called synchronously for each new entry.
func (a *AgentLog) Subscribe(handler func(models.AgentLogEntry)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, handler)
}

// Filter narrows Recent results. Empty fields match everything.
type Filter struct {
	RunID     string
	ProjectID string
	Stage     string
	Since     time.Time
}

func (f Filter) match(e models.AgentLogEntry) bool {
	switch {
	case f.RunID != "" && e.RunID != f.RunID:
		return false
	case f.ProjectID != "" && e.ProjectID != f.ProjectID:
		return false
	case f.Stage != "" && e.Stage != f.Stage:
		return false
	case !f.Since.IsZero() && e.CreatedAt.Before(f.Since):
		return false
	}
	return true
}

// Recent returns up to limit buffered entries, newest first.
func (a *AgentLog) Recent(limit int, f Filter) []models.AgentLogEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 || limit > MaxBufferSize {
		limit = 100
	}

	// The ring cursor points at the oldest slot; walking forward yields oldest first.
	var all []models.AgentLogEntry
	a.buffer.Do(func(v any) {
		if e, ok := v.(models.AgentLogEntry); ok && f.match(e) {
			all = append(all, e)
		}
	})

	out := make([]models.AgentLogEntry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out
}
