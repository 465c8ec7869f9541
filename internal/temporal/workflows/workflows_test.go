package workflows_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/jordanhubbard/contentloom/internal/orchestrator"
	"github.com/jordanhubbard/contentloom/internal/temporal/activities"
	"github.com/jordanhubbard/contentloom/internal/temporal/workflows"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

type scriptedRunner struct {
	mu    sync.Mutex
	errs  []error
	calls []models.GenerationRequest
}

func (r *scriptedRunner) Run(_ context.Context, req models.GenerationRequest) (*orchestrator.RunResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, req)
	if len(r.errs) > 0 {
		err := r.errs[0]
		if len(r.errs) > 1 {
			r.errs = r.errs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	return &orchestrator.RunResult{
		RunID:   "run-1",
		Content: &models.GeneratedContent{ContentType: "educational", Scores: models.Scores{Overall: 8}},
		Record:  &models.ContentRecord{ID: "c-" + req.Platform},
		Trace: &models.GenerationTrace{
			Visual:       models.VisualTrace{Final: "card"},
			Editor:       models.EditorTrace{Status: "accepted"},
			Degradations: []models.Degradation{{Stage: "news", Reason: "down"}},
		},
	}, nil
}

func (r *scriptedRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type ContentWorkflowSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env    *testsuite.TestWorkflowEnvironment
	runner *scriptedRunner
}

func (s *ContentWorkflowSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	s.runner = &scriptedRunner{}
	s.env.RegisterWorkflow(workflows.ContentWorkflow)
	s.env.RegisterWorkflow(workflows.ScheduleWorkflow)
	s.env.RegisterActivity(activities.NewActivities(s.runner, nil))
}

func (s *ContentWorkflowSuite) AfterTest(_, _ string) {
	s.env.AssertExpectations(s.T())
}

func (s *ContentWorkflowSuite) execute(req models.GenerationRequest) (activities.ContentResult, error) {
	s.env.ExecuteWorkflow(workflows.ContentWorkflow, workflows.ContentWorkflowInput{Request: req})
	s.Require().True(s.env.IsWorkflowCompleted())
	var result activities.ContentResult
	if err := s.env.GetWorkflowError(); err != nil {
		return result, err
	}
	s.Require().NoError(s.env.GetWorkflowResult(&result))
	return result, nil
}

func (s *ContentWorkflowSuite) TestSuccess() {
	result, err := s.execute(models.GenerationRequest{ProjectID: "acme", Platform: "x"})
	s.Require().NoError(err)
	s.Equal("c-x", result.ContentID)
	s.Equal("educational", result.ContentType)
	s.Equal("card", result.Visual)
	s.Equal("accepted", result.EditorStatus)
	s.Equal([]string{"news"}, result.Degradations)
	s.Equal(1, s.runner.count())
}

func (s *ContentWorkflowSuite) TestFatalErrorIsNotRetried() {
	s.runner.errs = []error{&orchestrator.ConfigurationError{ProjectID: "acme", Err: errors.New("not found")}}

	_, err := s.execute(models.GenerationRequest{ProjectID: "acme", Platform: "x"})
	s.Require().Error(err)

	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(err, &appErr))
	s.True(appErr.NonRetryable())
	s.Equal(activities.ErrTypeConfiguration, appErr.Type())
	s.Equal(1, s.runner.count())
}

func (s *ContentWorkflowSuite) TestRunInProgressIsNotRetried() {
	s.runner.errs = []error{orchestrator.ErrRunInProgress}

	_, err := s.execute(models.GenerationRequest{ProjectID: "acme", Platform: "x"})
	var appErr *temporal.ApplicationError
	s.Require().True(errors.As(err, &appErr))
	s.Equal(activities.ErrTypeRunInProgress, appErr.Type())
	s.Equal(1, s.runner.count())
}

func (s *ContentWorkflowSuite) TestTransientErrorIsRetried() {
	transient := &orchestrator.ExternalServiceError{Service: "persistence", Err: errors.New("connection reset")}
	s.runner.errs = []error{transient, transient, nil}

	result, err := s.execute(models.GenerationRequest{ProjectID: "acme", Platform: "x"})
	s.Require().NoError(err)
	s.Equal("c-x", result.ContentID)
	s.Equal(3, s.runner.count())
}

func (s *ContentWorkflowSuite) TestRetriesExhausted() {
	s.runner.errs = []error{&orchestrator.ExternalServiceError{Service: "persistence", Err: errors.New("down")}}

	_, err := s.execute(models.GenerationRequest{ProjectID: "acme", Platform: "x"})
	s.Require().Error(err)
	s.Equal(3, s.runner.count())
}

func (s *ContentWorkflowSuite) TestScheduleRunsEveryTarget() {
	s.env.ExecuteWorkflow(workflows.ScheduleWorkflow, workflows.ScheduleWorkflowInput{
		Targets: []workflows.ScheduleTarget{
			{ProjectID: "acme", Platform: "x"},
			{ProjectID: "acme", Platform: "linkedin"},
		},
		Interval: time.Hour,
		Rounds:   2,
	})
	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())
	s.Equal(4, s.runner.count())
}

func (s *ContentWorkflowSuite) TestScheduleToleratesFailedTarget() {
	s.runner.errs = []error{&orchestrator.GenerationError{RunID: "r", Err: errors.New("provider down")}, nil}

	s.env.ExecuteWorkflow(workflows.ScheduleWorkflow, workflows.ScheduleWorkflowInput{
		Targets: []workflows.ScheduleTarget{{ProjectID: "acme", Platform: "x"}},
		Rounds:  2,
	})
	s.Require().True(s.env.IsWorkflowCompleted())
	s.Require().NoError(s.env.GetWorkflowError())
	s.Equal(2, s.runner.count())
}

func TestContentWorkflowSuite(t *testing.T) {
	suite.Run(t, new(ContentWorkflowSuite))
}

func TestWorkflowID(t *testing.T) {
	assert.Equal(t, "content-acme-instagram", workflows.WorkflowID("acme", "instagram"))
	require.NotEqual(t, workflows.WorkflowID("a", "b-c"), workflows.WorkflowID("a", "b"))
}
