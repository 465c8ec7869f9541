package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/internal/orchestrator"
	"github.com/jordanhubbard/contentloom/internal/provider"
	"github.com/jordanhubbard/contentloom/internal/temporal"
	"github.com/jordanhubbard/contentloom/internal/temporal/workflows"
	"github.com/jordanhubbard/contentloom/pkg/config"
	"github.com/jordanhubbard/contentloom/pkg/messages"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

func newWorkerCommand() *cobra.Command {
	var (
		schedule       []string
		healthInterval time.Duration
		dryRun         bool
	)
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve generation requests from the message bus and Temporal",
		Long: `Runs until interrupted. Requests arrive over NATS when enabled; with
Temporal enabled the worker also executes content workflows, and --schedule
starts the recurring schedule for the given project:platform targets.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := parseTargets(schedule)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, appOptions{configPath: configPath, logLevel: logLevel, dryRun: dryRun})
			if err != nil {
				return err
			}
			defer a.Close()
			return runWorker(ctx, a, targets, healthInterval, dryRun)
		},
	}
	cmd.Flags().StringSliceVar(&schedule, "schedule", nil, "project:platform targets for the recurring schedule (requires temporal)")
	cmd.Flags().DurationVar(&healthInterval, "health-interval", time.Minute, "Provider health check interval")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Use mock providers and in-memory storage")
	return cmd
}

func parseTargets(specs []string) ([]workflows.ScheduleTarget, error) {
	targets := make([]workflows.ScheduleTarget, 0, len(specs))
	for _, spec := range specs {
		project, platform, ok := strings.Cut(spec, ":")
		if !ok || project == "" || platform == "" {
			return nil, fmt.Errorf("invalid schedule target %q (want project:platform)", spec)
		}
		targets = append(targets, workflows.ScheduleTarget{ProjectID: project, Platform: strings.ToLower(platform)})
	}
	return targets, nil
}

func runWorker(ctx context.Context, a *app, targets []workflows.ScheduleTarget, healthInterval time.Duration, dryRun bool) error {
	logger := a.logger.With(zap.String("component", "Worker"))

	if err := a.requests().SubscribeRequests(a.handleRequest); err != nil {
		return fmt.Errorf("failed to subscribe to requests: %w", err)
	}

	watchdog := provider.NewHealthWatchdog(a.registry, healthInterval, a.logger)
	watchdog.Start()
	defer watchdog.Stop()

	srv := newMetricsServer(a)
	go func() {
		logger.Info("metrics listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	switch {
	case a.cfg.Temporal.Enabled && !dryRun:
		mgr, err := temporal.NewManager(ctx, &a.cfg.Temporal, a.pipeline, a.logger)
		if err != nil {
			return err
		}
		defer mgr.Stop()
		if err := mgr.Start(); err != nil {
			return err
		}
		if len(targets) > 0 {
			if err := mgr.StartSchedule(ctx, targets); err != nil {
				return err
			}
		}
	case len(targets) > 0:
		return fmt.Errorf("--schedule needs temporal.enabled")
	}

	if a.cfg.HotReload.Enabled {
		go func() {
			if err := config.Watch(ctx, a.cfgPath, a.cfg.HotReload.Debounce, a.logger, func(next *config.Config) {
				a.reload(ctx, next)
			}); err != nil {
				logger.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("worker started", zap.Bool("nats", a.nats != nil), zap.Bool("temporal", a.cfg.Temporal.Enabled && !dryRun))
	<-ctx.Done()
	logger.Info("worker shutting down")
	return nil
}

// handleRequest runs one bus request. Returning an error asks the bus for
// redelivery, so only a busy lock and transient failures return one.
func (a *app) handleRequest(ctx context.Context, msg *messages.GenerationRequestMessage) error {
	req := models.GenerationRequest{
		ProjectID:   msg.ProjectID,
		Platform:    msg.Platform,
		ContentType: msg.ContentType,
		ForcePhoto:  msg.ForcePhoto,
	}
	_, err := a.pipeline.Run(ctx, req)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, orchestrator.ErrRunInProgress):
		return err
	case orchestrator.IsFatal(err):
		a.logger.Warn("dropping request that cannot succeed",
			zap.String("correlation_id", msg.CorrelationID), zap.Error(err))
		return nil
	default:
		return err
	}
}

// reload applies a changed config file. Projects are reseeded; provider,
// storage and bus settings take effect on restart.
func (a *app) reload(ctx context.Context, next *config.Config) {
	if err := a.seedProjects(ctx, next.ProjectsFile); err != nil {
		a.logger.Warn("failed to reseed projects", zap.Error(err))
		return
	}
	a.logger.Info("config reloaded; restart to apply provider and backend changes")
}
