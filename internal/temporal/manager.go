// Package temporal triggers pipeline runs as Temporal workflows, one
// workflow ID per project and platform.
package temporal

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/internal/orchestrator"
	"github.com/jordanhubbard/contentloom/internal/temporal/activities"
	temporalclient "github.com/jordanhubbard/contentloom/internal/temporal/client"
	"github.com/jordanhubbard/contentloom/internal/temporal/workflows"
	"github.com/jordanhubbard/contentloom/pkg/config"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

// ScheduleWorkflowID is the single schedule workflow per task queue.
const ScheduleWorkflowID = "contentloom-schedule"

// Starter is the subset of the Temporal client the manager starts workflows with.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Manager manages Temporal integration for contentloom
type Manager struct {
	client  *temporalclient.Client
	starter Starter
	worker  worker.Worker
	config  *config.TemporalConfig
	logger  *zap.Logger
}

// NewManager dials Temporal and registers the content workflows. runner may
// be nil for a manager that only starts workflows.
func NewManager(ctx context.Context, cfg *config.TemporalConfig, runner activities.Runner, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("temporal config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c, err := temporalclient.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client: %w", err)
	}

	m := &Manager{
		client:  c,
		starter: c,
		config:  cfg,
		logger:  logger.With(zap.String("component", "TemporalManager")),
	}
	if runner != nil {
		w := worker.New(c.GetClient(), cfg.TaskQueue, worker.Options{})
		Register(w, runner, logger)
		m.worker = w
		m.logger.Info("temporal worker registered", zap.String("task_queue", cfg.TaskQueue))
	}
	return m, nil
}

// NewStarterManager builds a manager over an existing starter, without a worker.
func NewStarterManager(starter Starter, cfg *config.TemporalConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{starter: starter, config: cfg, logger: logger.With(zap.String("component", "TemporalManager"))}
}

// Registry is where workflows and activities are registered; both a
// worker and the test environment satisfy it.
type Registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivity(a interface{})
}

// Register adds the content workflows and the pipeline activity to r.
func Register(r Registry, runner activities.Runner, logger *zap.Logger) {
	r.RegisterWorkflow(workflows.ContentWorkflow)
	r.RegisterWorkflow(workflows.ScheduleWorkflow)
	r.RegisterActivity(activities.NewActivities(runner, logger))
}

// Start starts the Temporal worker
func (m *Manager) Start() error {
	if m.worker == nil {
		return fmt.Errorf("manager has no worker")
	}
	if err := m.worker.Start(); err != nil {
		return fmt.Errorf("failed to start temporal worker: %w", err)
	}
	m.logger.Info("temporal worker started")
	return nil
}

// Stop stops the Temporal manager
func (m *Manager) Stop() {
	if m.worker != nil {
		m.worker.Stop()
	}
	if m.client != nil {
		m.client.Close()
	}
	m.logger.Info("temporal manager stopped")
}

// StartContentWorkflow starts one content workflow. A workflow already
// running for the same project and platform yields ErrRunInProgress.
func (m *Manager) StartContentWorkflow(ctx context.Context, req models.GenerationRequest) (string, error) {
	id := workflows.WorkflowID(req.ProjectID, req.Platform)
	opts := client.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                m.config.TaskQueue,
		WorkflowTaskTimeout:                      m.config.WorkflowTaskTimeout,
		WorkflowExecutionTimeout:                 m.config.WorkflowExecutionTimeout,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
	input := workflows.ContentWorkflowInput{Request: req, ActivityTimeout: m.config.ActivityTimeout}

	run, err := m.starter.ExecuteWorkflow(ctx, opts, workflows.ContentWorkflow, input)
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return "", fmt.Errorf("workflow %s: %w", id, orchestrator.ErrRunInProgress)
		}
		return "", fmt.Errorf("failed to start content workflow: %w", err)
	}

	m.logger.Info("started content workflow", zap.String("workflow_id", id), zap.String("run_id", run.GetRunID()))
	return run.GetRunID(), nil
}

// StartSchedule starts the recurring schedule over targets. An existing
// schedule is left running.
func (m *Manager) StartSchedule(ctx context.Context, targets []workflows.ScheduleTarget) error {
	opts := client.StartWorkflowOptions{
		ID:                  ScheduleWorkflowID,
		TaskQueue:           m.config.TaskQueue,
		WorkflowTaskTimeout: m.config.WorkflowTaskTimeout,
	}
	input := workflows.ScheduleWorkflowInput{Targets: targets, Interval: m.config.ScheduleInterval}

	run, err := m.starter.ExecuteWorkflow(ctx, opts, workflows.ScheduleWorkflow, input)
	if err != nil {
		return fmt.Errorf("failed to start schedule workflow: %w", err)
	}
	m.logger.Info("schedule workflow running",
		zap.String("run_id", run.GetRunID()), zap.Int("targets", len(targets)), zap.Duration("interval", input.Interval))
	return nil
}
