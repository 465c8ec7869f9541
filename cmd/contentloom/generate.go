package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/internal/orchestrator"
	"github.com/jordanhubbard/contentloom/internal/temporal"
	"github.com/jordanhubbard/contentloom/pkg/messages"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

// generateResult is the command's JSON output.
type generateResult struct {
	RunID       string                   `json:"run_id,omitempty"`
	ContentID   string                   `json:"content_id,omitempty"`
	Content     *models.GeneratedContent `json:"content,omitempty"`
	Degraded    bool                     `json:"degraded"`
	Enqueued    string                   `json:"enqueued,omitempty"`
	WorkflowRun string                   `json:"workflow_run_id,omitempty"`
	SaveError   string                   `json:"save_error,omitempty"`
}

func newGenerateCommand() *cobra.Command {
	var (
		req      models.GenerationRequest
		dryRun   bool
		enqueue  bool
		workflow bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate one post for a project and platform",
		Long: `Runs the pipeline once and prints the generated post with its reasoning
trace. --enqueue hands the request to a worker over the message bus instead;
--workflow starts it as a Temporal workflow.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if enqueue && workflow {
				return fmt.Errorf("--enqueue and --workflow are mutually exclusive")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appOptions{configPath: configPath, logLevel: logLevel, dryRun: dryRun})
			if err != nil {
				return err
			}
			defer a.Close()

			var out generateResult
			switch {
			case enqueue:
				out, err = enqueueRequest(ctx, a, req)
			case workflow:
				out, err = startWorkflow(ctx, a, req)
			default:
				out, err = runOnce(ctx, a, req)
			}
			if err != nil && out.RunID == "" {
				return err
			}
			if perr := writeResult(cmd.OutOrStdout(), out); perr != nil {
				return perr
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&req.ProjectID, "project", "p", "", "Project ID (required)")
	cmd.Flags().StringVar(&req.Platform, "platform", "", "Target platform: x, threads, linkedin, facebook, instagram, tiktok (required)")
	cmd.Flags().StringVarP(&req.ContentType, "type", "t", "", "Content type; empty lets the balancer decide")
	cmd.Flags().StringVar(&req.PatternTemplate, "pattern", "", "Pattern template to follow")
	cmd.Flags().BoolVar(&req.ForcePhoto, "force-photo", false, "Always attach a photo")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use mock providers and in-memory storage")
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Publish the request for a worker instead of running it")
	cmd.Flags().BoolVar(&workflow, "workflow", false, "Start the run as a Temporal workflow")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("platform")
	return cmd
}

func runOnce(ctx context.Context, a *app, req models.GenerationRequest) (generateResult, error) {
	res, err := a.pipeline.Run(ctx, req)
	if res == nil {
		return generateResult{}, err
	}
	out := generateResult{RunID: res.RunID, Content: res.Content, Degraded: res.Degraded()}
	if res.Record != nil {
		out.ContentID = res.Record.ID
	}
	var svcErr *orchestrator.ExternalServiceError
	if errors.As(err, &svcErr) {
		// The post was produced; only persisting it failed.
		out.SaveError = err.Error()
	}
	return out, err
}

func enqueueRequest(ctx context.Context, a *app, req models.GenerationRequest) (generateResult, error) {
	if a.nats == nil {
		return generateResult{}, fmt.Errorf("--enqueue needs nats.enabled; an in-process request has no worker")
	}
	msg := messages.GenerationRequested(req.ProjectID, req.Platform, req.ContentType, "cli", uuid.NewString())
	msg.ForcePhoto = req.ForcePhoto
	if err := a.nats.PublishRequest(ctx, msg); err != nil {
		return generateResult{}, fmt.Errorf("failed to enqueue request: %w", err)
	}
	a.logger.Info("request enqueued", zap.String("correlation_id", msg.CorrelationID))
	return generateResult{Enqueued: msg.CorrelationID}, nil
}

func startWorkflow(ctx context.Context, a *app, req models.GenerationRequest) (generateResult, error) {
	if !a.cfg.Temporal.Enabled {
		return generateResult{}, fmt.Errorf("temporal is not enabled in %s", a.cfgPath)
	}
	mgr, err := temporal.NewManager(ctx, &a.cfg.Temporal, nil, a.logger)
	if err != nil {
		return generateResult{}, err
	}
	defer mgr.Stop()

	runID, err := mgr.StartContentWorkflow(ctx, req)
	if err != nil {
		return generateResult{}, err
	}
	return generateResult{WorkflowRun: runID}, nil
}

func writeResult(w io.Writer, out generateResult) error {
	if outputFormat != "text" {
		return printJSON(w, out)
	}
	switch {
	case out.Enqueued != "":
		_, err := fmt.Fprintf(w, "enqueued %s\n", out.Enqueued)
		return err
	case out.WorkflowRun != "":
		_, err := fmt.Fprintf(w, "workflow started: %s\n", out.WorkflowRun)
		return err
	case out.Content == nil:
		return nil
	}
	c := out.Content
	if _, err := fmt.Fprintf(w, "%s\n\n[%s on %s, overall %d]\n", c.Text, c.ContentType, c.Platform, c.Scores.Overall); err != nil {
		return err
	}
	if c.Visual != nil {
		if u := c.Visual.PrimaryURL(); u != "" {
			if _, err := fmt.Fprintf(w, "visual: %s %s\n", c.Visual.VisualType, u); err != nil {
				return err
			}
		}
	}
	return nil
}
