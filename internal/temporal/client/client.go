package client

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/jordanhubbard/contentloom/pkg/config"
)

const userAgent = "contentloom-worker"

// Client wraps the Temporal client with the configured namespace and queue
type Client struct {
	temporal client.Client
	config   *config.TemporalConfig
	logger   *zap.Logger
}

// New dials Temporal, retrying with exponential backoff.
func New(ctx context.Context, cfg *config.TemporalConfig, logger *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("temporal config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "Temporal"))

	b := retry.WithMaxRetries(4, retry.NewExponential(2*time.Second))
	var c client.Client
	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		dctx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()

		var err error
		c, err = client.DialContext(dctx, client.Options{
			HostPort:  cfg.Host,
			Namespace: cfg.Namespace,
			Logger:    NewLogger(logger),
			ConnectionOptions: client.ConnectionOptions{
				DialOptions: []grpc.DialOption{grpc.WithUserAgent(userAgent)},
			},
		})
		if err != nil {
			logger.Warn("temporal connection attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create temporal client after %d attempts: %w", attempt, err)
	}

	logger.Info("connected to temporal", zap.String("host", cfg.Host), zap.String("namespace", cfg.Namespace))
	return &Client{temporal: c, config: cfg, logger: logger}, nil
}

// Close closes the Temporal client connection
func (c *Client) Close() {
	if c.temporal != nil {
		c.temporal.Close()
	}
}

// GetClient returns the underlying Temporal client
func (c *Client) GetClient() client.Client {
	return c.temporal
}

// GetTaskQueue returns the configured task queue
func (c *Client) GetTaskQueue() string {
	return c.config.TaskQueue
}

// GetConfig returns the temporal configuration
func (c *Client) GetConfig() *config.TemporalConfig {
	return c.config
}

// ExecuteWorkflow starts a new workflow execution
func (c *Client) ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	return c.temporal.ExecuteWorkflow(ctx, options, workflow, args...)
}

// CancelWorkflow requests cancellation of a workflow execution
func (c *Client) CancelWorkflow(ctx context.Context, workflowID, runID string) error {
	return c.temporal.CancelWorkflow(ctx, workflowID, runID)
}

// GetWorkflow returns a handle to an existing workflow
func (c *Client) GetWorkflow(ctx context.Context, workflowID, runID string) client.WorkflowRun {
	return c.temporal.GetWorkflow(ctx, workflowID, runID)
}

// Logger adapts zap to Temporal's key-value logger.
type Logger struct {
	s *zap.SugaredLogger
}

// NewLogger wraps logger.
func NewLogger(logger *zap.Logger) *Logger {
	return &Logger{s: logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l *Logger) Info(msg string, keyvals ...interface{}) { l.s.Infow(msg, keyvals...) }
func (l *Logger) Warn(msg string, keyvals ...interface{}) { l.s.Warnw(msg, keyvals...) }
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }
