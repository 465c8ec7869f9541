package activities

import (
	"context"
	"errors"
	"fmt"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/internal/orchestrator"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

// GenerateContentName is the registered name of Activities.GenerateContent.
const GenerateContentName = "GenerateContent"

// Error types carried by non-retryable application errors.
const (
	ErrTypeConfiguration = "ConfigurationError"
	ErrTypeGeneration    = "GenerationError"
	ErrTypeRunInProgress = "RunInProgress"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req models.GenerationRequest) (*orchestrator.RunResult, error)
}

// ContentResult is the serializable summary of a run.
type ContentResult struct {
	RunID        string
	ContentID    string
	ContentType  string
	Visual       string
	Overall      int
	EditorStatus string
	Degradations []string
}

// Activities provides Temporal activities for content generation
type Activities struct {
	runner Runner
	logger *zap.Logger
}

// NewActivities creates a new activities instance
func NewActivities(runner Runner, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{runner: runner, logger: logger.With(zap.String("component", "Activities"))}
}

// GenerateContent runs the pipeline. Errors that retrying cannot fix are
// returned non-retryable.
func (a *Activities) GenerateContent(ctx context.Context, req models.GenerationRequest) (ContentResult, error) {
	info := activity.GetInfo(ctx)
	logger := a.logger.With(
		zap.String("workflow_id", info.WorkflowExecution.ID),
		zap.Int32("attempt", info.Attempt),
		zap.String("project_id", req.ProjectID),
		zap.String("platform", req.Platform))

	res, err := a.runner.Run(ctx, req)
	if err != nil {
		if orchestrator.IsFatal(err) {
			logger.Warn("pipeline run failed permanently", zap.Error(err))
			return ContentResult{}, temporal.NewNonRetryableApplicationError(err.Error(), errorType(err), err)
		}
		logger.Warn("pipeline run failed; will retry", zap.Error(err))
		return ContentResult{}, fmt.Errorf("failed to run pipeline: %w", err)
	}

	out := ContentResult{RunID: res.RunID}
	if res.Record != nil {
		out.ContentID = res.Record.ID
	}
	if res.Content != nil {
		out.ContentType = res.Content.ContentType
		out.Overall = res.Content.Scores.Overall
	}
	if t := res.Trace; t != nil {
		out.Visual = t.Visual.Final
		out.EditorStatus = t.Editor.Status
		for _, d := range t.Degradations {
			out.Degradations = append(out.Degradations, d.Stage)
		}
	}
	logger.Info("pipeline run complete", zap.String("content_id", out.ContentID), zap.Strings("degradations", out.Degradations))
	return out, nil
}

func errorType(err error) string {
	var (
		cfg *orchestrator.ConfigurationError
		gen *orchestrator.GenerationError
	)
	switch {
	case errors.As(err, &cfg):
		return ErrTypeConfiguration
	case errors.As(err, &gen):
		return ErrTypeGeneration
	default:
		return ErrTypeRunInProgress
	}
}
