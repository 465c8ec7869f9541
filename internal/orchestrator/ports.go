package orchestrator

import (
	"context"
	"time"

	"github.com/jordanhubbard/contentloom/internal/editor"
	"github.com/jordanhubbard/contentloom/internal/generation"
	"github.com/jordanhubbard/contentloom/internal/visual"
	"github.com/jordanhubbard/contentloom/pkg/messages"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

// ContextStore is the read side of persistence.
type ContextStore interface {
	GetProject(ctx context.Context, id string) (*models.ProjectConfig, error)
	ListKnowledge(ctx context.Context, projectID string) ([]models.KnowledgeBaseEntry, error)
	ListPromptTemplates(ctx context.Context, projectID string) ([]models.PromptTemplate, error)
	MixCounts(ctx context.Context, projectID, platform string, weekStart time.Time) (map[string]int, int, error)
	RecentPosts(ctx context.Context, projectID, platform string, limit int) ([]string, error)
	RecentFeedback(ctx context.Context, projectID string, limit int) ([]models.FeedbackRecord, error)
	ClaimNews(ctx context.Context, projectID, runID string) (*models.NewsItem, error)
	ReleaseNews(ctx context.Context, newsID, runID string) error
}

// ContentSink is the write side of persistence.
type ContentSink interface {
	SaveContent(ctx context.Context, rec *models.ContentRecord) error
}

// AgentLogger appends per-pass log entries.
type AgentLogger interface {
	Append(ctx context.Context, entry models.AgentLogEntry) models.AgentLogEntry
}

// EventPublisher announces finished and failed runs.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *messages.EventMessage) error
}

// Drafter produces the primary draft.
type Drafter interface {
	Generate(ctx context.Context, prompt string) (*generation.Draft, error)
}

// Reviewer runs the editor pass.
type Reviewer interface {
	Review(ctx context.Context, in editor.Input) editor.Result
}

// VisualEngine attaches a visual.
type VisualEngine interface {
	Execute(ctx context.Context, in visual.Input) visual.Outcome
}

// Metrics receives run-level observations.
type Metrics interface {
	RecordRun(platform, result string, d time.Duration)
	ObserveStage(stage string, d time.Duration)
	RecordDegradation(stage string)
	RecordContentType(platform, contentType string, coldStart bool)
	ObserveDraftScore(overall int)
	RecordEditor(status string)
	RecordProviderRequest(purpose string, success bool, latency time.Duration, promptTokens, completionTokens int)
	RecordLockContention()
}

type nopMetrics struct{}

func (nopMetrics) RecordRun(string, string, time.Duration) {}
func (nopMetrics) ObserveStage(string, time.Duration) {}
func (nopMetrics) RecordDegradation(string) {}
func (nopMetrics) RecordContentType(string, string, bool) {}
func (nopMetrics) ObserveDraftScore(int) {}
func (nopMetrics) RecordEditor(string) {}
func (nopMetrics) RecordProviderRequest(string, bool, time.Duration, int, int) {}
func (nopMetrics) RecordLockContention() {}
