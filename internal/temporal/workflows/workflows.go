package workflows

import (
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/jordanhubbard/contentloom/internal/temporal/activities"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

const (
	// DefaultActivityTimeout bounds one pipeline run.
	DefaultActivityTimeout = 15 * time.Minute
	// DefaultScheduleInterval is the gap between schedule rounds.
	DefaultScheduleInterval = 6 * time.Hour
	// roundsPerHistory keeps a schedule's event history bounded.
	roundsPerHistory = 50
)

// WorkflowID names the content workflow for one project and platform. Two
// triggers for the same pair collide on this ID instead of running twice.
func WorkflowID(projectID, platform string) string {
	return fmt.Sprintf("content-%s-%s", projectID, platform)
}

// ContentWorkflowInput contains input for the content workflow
type ContentWorkflowInput struct {
	Request         models.GenerationRequest
	ActivityTimeout time.Duration
	MaxAttempts     int32
}

// ContentWorkflow runs the generation pipeline once as an activity.
// Fatal pipeline errors come back non-retryable and end the workflow;
// transient ones are retried by the activity retry policy.
func ContentWorkflow(ctx workflow.Context, input ContentWorkflowInput) (activities.ContentResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Content workflow started",
		"projectID", input.Request.ProjectID, "platform", input.Request.Platform)

	if input.ActivityTimeout <= 0 {
		input.ActivityTimeout = DefaultActivityTimeout
	}
	if input.MaxAttempts <= 0 {
		input.MaxAttempts = 3
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: input.ActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    input.MaxAttempts,
		},
	})

	var result activities.ContentResult
	err := workflow.ExecuteActivity(ctx, activities.GenerateContentName, input.Request).Get(ctx, &result)
	if err != nil {
		logger.Error("Content workflow failed", "projectID", input.Request.ProjectID, "error", err)
		return result, err
	}

	logger.Info("Content workflow completed",
		"contentID", result.ContentID, "contentType", result.ContentType, "degraded", len(result.Degradations) > 0)
	return result, nil
}

// ScheduleTarget is one project and platform pair to generate for.
type ScheduleTarget struct {
	ProjectID string
	Platform  string
}

// ScheduleWorkflowInput controls a generation schedule.
type ScheduleWorkflowInput struct {
	Targets  []ScheduleTarget
	Interval time.Duration
	// Rounds stops the schedule after that many rounds. Zero runs forever.
	Rounds int
	// Completed counts rounds carried over a continue-as-new.
	Completed int
}

// ScheduleRound is what one round produced, exposed by the "lastRound" query.
type ScheduleRound struct {
	Succeeded []string
	Skipped   []string
	Failed    []string
}

// ScheduleWorkflow starts one content workflow per target every interval.
// A target whose workflow is still running from an earlier trigger is
// skipped for the round.
func ScheduleWorkflow(ctx workflow.Context, input ScheduleWorkflowInput) error {
	logger := workflow.GetLogger(ctx)
	if input.Interval <= 0 {
		input.Interval = DefaultScheduleInterval
	}
	logger.Info("Schedule workflow started", "targets", len(input.Targets), "interval", input.Interval)

	var last ScheduleRound
	if err := workflow.SetQueryHandler(ctx, "lastRound", func() (ScheduleRound, error) {
		return last, nil
	}); err != nil {
		return err
	}

	for i := 0; ; i++ {
		last = runRound(ctx, input.Targets)
		input.Completed++
		logger.Info("Schedule round finished",
			"round", input.Completed, "succeeded", len(last.Succeeded), "skipped", len(last.Skipped), "failed", len(last.Failed))

		if input.Rounds > 0 && input.Completed >= input.Rounds {
			return nil
		}
		if err := workflow.Sleep(ctx, input.Interval); err != nil {
			return err
		}
		if i+1 >= roundsPerHistory {
			return workflow.NewContinueAsNewError(ctx, ScheduleWorkflow, input)
		}
	}
}

func runRound(ctx workflow.Context, targets []ScheduleTarget) ScheduleRound {
	logger := workflow.GetLogger(ctx)
	var round ScheduleRound

	futures := make([]workflow.ChildWorkflowFuture, len(targets))
	for i, t := range targets {
		cctx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID: WorkflowID(t.ProjectID, t.Platform),
		})
		futures[i] = workflow.ExecuteChildWorkflow(cctx, ContentWorkflow, ContentWorkflowInput{
			Request: models.GenerationRequest{ProjectID: t.ProjectID, Platform: t.Platform},
		})
	}

	for i, f := range futures {
		id := WorkflowID(targets[i].ProjectID, targets[i].Platform)
		if err := f.GetChildWorkflowExecution().Get(ctx, nil); err != nil {
			if temporal.IsWorkflowExecutionAlreadyStartedError(err) {
				logger.Info("Content workflow already running; skipping", "workflowID", id)
				round.Skipped = append(round.Skipped, id)
				continue
			}
			round.Failed = append(round.Failed, id)
			continue
		}
		var result activities.ContentResult
		if err := f.Get(ctx, &result); err != nil {
			var appErr *temporal.ApplicationError
			if errors.As(err, &appErr) && appErr.NonRetryable() {
				logger.Warn("Content workflow failed permanently", "workflowID", id, "type", appErr.Type(), "error", err)
			} else {
				logger.Warn("Content workflow failed", "workflowID", id, "error", err)
			}
			round.Failed = append(round.Failed, id)
			continue
		}
		round.Succeeded = append(round.Succeeded, id)
	}
	return round
}
