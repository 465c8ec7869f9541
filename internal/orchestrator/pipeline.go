// Package orchestrator runs one generation for a project and platform: it
// loads context, picks a content type, drafts, edits, attaches a visual and
// hands the result to persistence.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/internal/balancer"
	"github.com/jordanhubbard/contentloom/internal/editor"
	"github.com/jordanhubbard/contentloom/internal/lock"
	"github.com/jordanhubbard/contentloom/internal/logging"
	"github.com/jordanhubbard/contentloom/internal/prompt"
	"github.com/jordanhubbard/contentloom/internal/telemetry"
	"github.com/jordanhubbard/contentloom/internal/visual"
	"github.com/jordanhubbard/contentloom/pkg/messages"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

// Degradation stages.
const (
	StageContext = "context"
	StageLock    = "lock"
	StageMix     = "mix"
	StageNews    = "news"
	StageEditor  = "editor"
	StageVisual  = "visual"
	StageEvents  = "events"
)

// Defaults for Options.
const (
	DefaultCallTimeout = 90 * time.Second
	DefaultLockTTL     = 10 * time.Minute
	DefaultLockWait    = 2 * time.Minute
)

// Deps are the pipeline's collaborators. Locker, Events, AgentLog and
// Metrics are optional.
type Deps struct {
	Store    ContextStore
	Sink     ContentSink
	Drafter  Drafter
	Reviewer Reviewer
	Visual   VisualEngine
	Balancer *balancer.Balancer
	Locker   lock.Locker
	Events   EventPublisher
	AgentLog AgentLogger
	Metrics  Metrics
}

// Options tune a pipeline.
type Options struct {
	CallTimeout time.Duration // per persistence call
	LockTTL     time.Duration
	LockWait    time.Duration
	Source      string // instance name stamped on events
	Logger      *zap.Logger
}

// RunResult is what one run produced.
type RunResult struct {
	RunID   string
	Content *models.GeneratedContent
	Record  *models.ContentRecord
	Trace   *models.GenerationTrace
}

// Degraded reports whether any stage fell back to a default.
func (r *RunResult) Degraded() bool {
	return r != nil && r.Trace != nil && len(r.Trace.Degradations) > 0
}

// Pipeline chains the generation stages. It holds no per-run state and is
// safe for concurrent use.
type Pipeline struct {
	deps    Deps
	opts    Options
	metrics Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewPipeline creates a pipeline.
func NewPipeline(deps Deps, opts Options) *Pipeline {
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = DefaultLockTTL
	}
	if opts.LockWait <= 0 {
		opts.LockWait = DefaultLockWait
	}
	if opts.Source == "" {
		opts.Source = "contentloom"
	}
	if deps.Balancer == nil {
		deps.Balancer = balancer.New(nil)
	}
	m := deps.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	return &Pipeline{
		deps:    deps,
		opts:    opts,
		metrics: m,
		logger:  logging.Component(opts.Logger, "Pipeline"),
		now:     time.Now,
	}
}

// run is the state of one Run call.
type run struct {
	p        *Pipeline
	req      models.GenerationRequest
	id       string
	start    time.Time
	project  *models.ProjectConfig
	platform models.PlatformSpec
	trace    *models.GenerationTrace
	logger   *zap.Logger
	preview  bool
}

func (r *run) degrade(stage string, err error) {
	r.trace.Degrade(stage, err.Error())
	if !r.preview {
		r.p.metrics.RecordDegradation(stage)
	}
	r.logger.Warn("stage degraded", zap.String("stage", stage), zap.Error(err))
}

func (r *run) observe(stage string, d time.Duration) {
	r.trace.Metrics.Observe(stage, d.Milliseconds())
	r.p.metrics.ObserveStage(stage, d)
}

func (r *run) agentLog(ctx context.Context, stage, status, msg string, meta map[string]any) {
	if r.p.deps.AgentLog == nil {
		return
	}
	r.p.deps.AgentLog.Append(ctx, models.AgentLogEntry{
		RunID:     r.id,
		ProjectID: r.req.ProjectID,
		Platform:  r.req.Platform,
		Stage:     stage,
		Status:    status,
		Message:   msg,
		Metadata:  meta,
	})
}

func (p *Pipeline) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.opts.CallTimeout)
}

// Run executes one generation. ConfigurationError, GenerationError and
// ErrRunInProgress abort the run; a persistence failure is returned with
// the result so the caller still sees what was produced. Every other
// failure is recorded as a degradation in the trace.
func (p *Pipeline) Run(ctx context.Context, req models.GenerationRequest) (res *RunResult, err error) {
	r := &run{
		p:     p,
		req:   req,
		id:    uuid.NewString(),
		start: p.now(),
	}
	r.req.Platform = strings.ToLower(strings.TrimSpace(req.Platform))
	r.platform = models.LookupPlatform(r.req.Platform)
	r.trace = &models.GenerationTrace{RunID: r.id}
	r.logger = p.logger.With(
		zap.String("run_id", r.id),
		zap.String("project_id", req.ProjectID),
		zap.String("platform", r.req.Platform))

	ctx, end := telemetry.StartStage(ctx, "run",
		attribute.String("run_id", r.id),
		attribute.String("project_id", req.ProjectID),
		attribute.String("platform", r.req.Platform))
	defer func() {
		end(err)
		result := "ok"
		switch {
		case err != nil:
			result = "failed"
		case res.Degraded():
			result = "degraded"
		}
		p.metrics.RecordRun(r.req.Platform, result, p.now().Sub(r.start))
		if err != nil {
			r.logger.Error("run failed", zap.Error(err))
			p.publish(ctx, r, messages.RunFailed(p.opts.Source, r.id, req.ProjectID, r.req.Platform, err))
		}
	}()

	if strings.TrimSpace(req.ProjectID) == "" || r.req.Platform == "" {
		return nil, &ConfigurationError{ProjectID: req.ProjectID, Err: errors.New("project id and platform are required")}
	}

	if err := r.loadProject(ctx); err != nil {
		return nil, err
	}

	release, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	in, err := r.gatherContext(ctx)
	if err != nil {
		return nil, err
	}

	content, err := r.draft(ctx, in)
	if err != nil {
		r.releaseNews(ctx, in.News)
		return nil, err
	}
	r.edit(ctx, content, in)
	r.attachVisual(ctx, content)

	r.trace.Metrics.TotalLatencyMs = p.now().Sub(r.start).Milliseconds()
	content.Trace = r.trace
	rec := r.record(content)
	res = &RunResult{RunID: r.id, Content: content, Record: rec, Trace: r.trace}

	sctx, cancel := p.callContext(ctx)
	saveErr := p.deps.Sink.SaveContent(sctx, rec)
	cancel()
	if saveErr != nil {
		return res, &ExternalServiceError{Service: "persistence", Err: fmt.Errorf("failed to save content: %w", saveErr)}
	}

	r.logger.Info("run complete",
		zap.String("content_id", rec.ID),
		zap.String("content_type", content.ContentType),
		zap.Int("overall", content.Scores.Overall),
		zap.String("editor", r.trace.Editor.Status),
		zap.String("visual", r.trace.Visual.Final),
		zap.Int("degradations", len(r.trace.Degradations)))

	p.publish(ctx, r, messages.ContentGenerated(p.opts.Source, r.id, req.ProjectID, r.req.Platform, rec.ID, messages.EventData{
		ContentType:  content.ContentType,
		Visual:       r.trace.Visual.Final,
		Overall:      content.Scores.Overall,
		EditorStatus: r.trace.Editor.Status,
		Degradations: degradedStages(r.trace),
	}))
	return res, nil
}

func (p *Pipeline) publish(ctx context.Context, r *run, event *messages.EventMessage) {
	if p.deps.Events == nil {
		return
	}
	event.CorrelationID = r.id
	pctx, cancel := p.callContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := p.deps.Events.PublishEvent(pctx, event); err != nil {
		r.logger.Warn("failed to publish run event", zap.String("type", event.Type), zap.Error(err))
	}
}

func degradedStages(t *models.GenerationTrace) []string {
	if len(t.Degradations) == 0 {
		return nil
	}
	out := make([]string, 0, len(t.Degradations))
	for _, d := range t.Degradations {
		out = append(out, d.Stage)
	}
	return out
}

func (r *run) loadProject(ctx context.Context) error {
	cctx, cancel := r.p.callContext(ctx)
	defer cancel()
	project, err := r.p.deps.Store.GetProject(cctx, r.req.ProjectID)
	if err != nil {
		return &ConfigurationError{ProjectID: r.req.ProjectID, Err: err}
	}
	if project == nil {
		return &ConfigurationError{ProjectID: r.req.ProjectID, Err: errors.New("project not found")}
	}
	r.project = project
	return nil
}

// acquire serializes runs for the same project and platform. A locker
// outage degrades to an unlocked run; a held lock aborts it.
func (r *run) acquire(ctx context.Context) (func(), error) {
	noop := func() {}
	if r.p.deps.Locker == nil {
		return noop, nil
	}
	start := r.p.now()
	lease, err := lock.AcquireWait(ctx, r.p.deps.Locker, lock.RunKey(r.req.ProjectID, r.req.Platform), lock.WaitOptions{
		TTL:      r.p.opts.LockTTL,
		MaxWait:  r.p.opts.LockWait,
		Observer: r.p.metrics,
	})
	r.observe(StageLock, r.p.now().Sub(start))
	if errors.Is(err, lock.ErrLocked) {
		return nil, fmt.Errorf("%w: %w", ErrRunInProgress, err)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.degrade(StageLock, &ExternalServiceError{Service: "lock", Err: err})
		return noop, nil
	}
	return func() {
		rctx, cancel := r.p.callContext(context.WithoutCancel(ctx))
		defer cancel()
		if err := lease.Release(rctx); err != nil {
			r.logger.Warn("failed to release run lock", zap.Error(err))
		}
	}, nil
}

// gatherContext loads everything the prompt needs. Missing optional context
// degrades to empty lists.
func (r *run) gatherContext(ctx context.Context) (prompt.Input, error) {
	ctx, end := telemetry.StartStage(ctx, "context")
	defer end(nil)
	start := r.p.now()
	defer func() { r.observe(StageContext, r.p.now().Sub(start)) }()

	store := r.p.deps.Store
	pid, platform := r.req.ProjectID, r.req.Platform
	in := prompt.Input{
		Project:         r.project,
		Platform:        r.platform,
		PatternTemplate: r.req.PatternTemplate,
	}

	with := func(fn func(context.Context) error) error {
		cctx, cancel := r.p.callContext(ctx)
		defer cancel()
		return fn(cctx)
	}

	if err := with(func(c context.Context) error {
		templates, err := store.ListPromptTemplates(c, pid)
		if err != nil {
			return err
		}
		for _, t := range templates {
			if t.IsGlobal() {
				in.GlobalTemplates = append(in.GlobalTemplates, t)
			} else {
				in.Templates = append(in.Templates, t)
			}
		}
		return nil
	}); err != nil {
		r.degrade(StageContext, fmt.Errorf("failed to load prompt templates: %w", err))
	}
	if err := with(func(c context.Context) error {
		v, err := store.ListKnowledge(c, pid)
		if err == nil {
			in.Knowledge = v
		}
		return err
	}); err != nil {
		r.degrade(StageContext, fmt.Errorf("failed to load knowledge base: %w", err))
	}
	if err := with(func(c context.Context) error {
		v, err := store.RecentPosts(c, pid, platform, prompt.MaxRecentPosts)
		if err == nil {
			in.RecentPosts = v
		}
		return err
	}); err != nil {
		r.degrade(StageContext, fmt.Errorf("failed to load recent posts: %w", err))
	}
	if err := with(func(c context.Context) error {
		v, err := store.RecentFeedback(c, pid, prompt.MaxFeedback)
		if err == nil {
			in.Feedback = v
		}
		return err
	}); err != nil {
		r.degrade(StageContext, fmt.Errorf("failed to load feedback: %w", err))
	}

	status := r.chooseType(with)
	in.Mix = &status
	in.ContentType = status.ChosenType

	if r.preview {
		return in, ctx.Err()
	}
	if err := with(func(c context.Context) error {
		n, err := store.ClaimNews(c, pid, r.id)
		if err == nil {
			in.News = n
		}
		return err
	}); err != nil {
		r.degrade(StageNews, fmt.Errorf("failed to claim news: %w", err))
	}
	if in.News != nil {
		r.trace.NewsInjected = in.News.Title
		r.trace.NewsID = in.News.ID
	}

	if err := ctx.Err(); err != nil {
		return in, err
	}
	return in, nil
}

// releaseNews hands a claimed item back when the run produced nothing.
func (r *run) releaseNews(ctx context.Context, n *models.NewsItem) {
	if n == nil {
		return
	}
	cctx, cancel := r.p.callContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := r.p.deps.Store.ReleaseNews(cctx, n.ID, r.id); err != nil {
		r.logger.Warn("failed to release news", zap.String("news_id", n.ID), zap.Error(err))
	}
}

func (r *run) chooseType(with func(func(context.Context) error) error) models.MixStatus {
	var (
		counts map[string]int
		total  int
	)
	weekStart := balancer.WeekStart(r.p.now(), r.location())
	if err := with(func(c context.Context) (err error) {
		counts, total, err = r.p.deps.Store.MixCounts(c, r.req.ProjectID, r.req.Platform, weekStart)
		return err
	}); err != nil {
		// Without counts every type looks unmet; avoid the cold-start draw.
		r.degrade(StageMix, fmt.Errorf("failed to count weekly mix: %w", err))
		counts, total = nil, 1
	}

	status := r.p.deps.Balancer.Balance(balancer.Input{
		Mix:          balancer.ResolveMix(r.project, r.req.Platform),
		WeekCounts:   counts,
		TotalHistory: total,
	})
	if explicit := strings.TrimSpace(r.req.ContentType); explicit != "" {
		status.ChosenType = explicit
		status.ColdStart = false
		status.Reason = "explicitly requested"
		r.trace.ExplicitType = true
	}

	r.trace.ContentType = status.ChosenType
	r.trace.ContentTypeReason = status.Reason
	r.trace.Deficits = status.Deficits
	r.trace.ColdStart = status.ColdStart
	if !r.preview {
		r.p.metrics.RecordContentType(r.req.Platform, status.ChosenType, status.ColdStart)
	}
	r.logger.Debug("content type chosen",
		zap.String("content_type", status.ChosenType), zap.String("reason", status.Reason))
	return status
}

func (r *run) location() *time.Location {
	if r.project.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.project.Timezone)
	if err != nil {
		r.logger.Warn("invalid project timezone; using UTC", zap.String("timezone", r.project.Timezone), zap.Error(err))
		return time.UTC
	}
	return loc
}

func (r *run) draft(ctx context.Context, in prompt.Input) (*models.GeneratedContent, error) {
	asm := prompt.Assemble(in)
	r.trace.KnowledgeUsed = asm.KnowledgeUsed
	r.trace.TemplatesUsed = asm.TemplatesUsed
	r.trace.RecentPosts = asm.RecentPosts
	r.trace.FeedbackUsed = asm.FeedbackUsed
	r.trace.PromptChars = len(asm.Prompt)

	ctx, end := telemetry.StartStage(ctx, "generation", attribute.String("content_type", in.ContentType))
	start := r.p.now()
	d, err := r.p.deps.Drafter.Generate(ctx, asm.Prompt)
	latency := r.p.now().Sub(start)
	end(err)
	r.observe(logging.StageGeneration, latency)

	if err != nil {
		r.p.metrics.RecordProviderRequest("draft", false, latency, 0, 0)
		r.agentLog(ctx, logging.StageGeneration, logging.StatusFailed, err.Error(), map[string]any{
			"content_type": in.ContentType,
			"prompt_chars": len(asm.Prompt),
		})
		return nil, &GenerationError{RunID: r.id, Err: err}
	}

	r.p.metrics.RecordProviderRequest("draft", true, latency, d.Usage.PromptTokens, d.Usage.CompletionTokens)
	r.p.metrics.ObserveDraftScore(d.Scores.Overall)
	r.trace.Metrics.AddUsage(d.Usage.PromptTokens, d.Usage.CompletionTokens)
	r.trace.ParseTier = d.Tier
	r.trace.DraftScores = d.Scores

	r.agentLog(ctx, logging.StageGeneration, logging.StatusSuccess,
		fmt.Sprintf("draft scored %d/10 (%s parse)", d.Scores.Overall, d.Tier),
		map[string]any{
			"content_type":      in.ContentType,
			"parse_tier":        d.Tier,
			"overall":           d.Scores.Overall,
			"prompt_tokens":     d.Usage.PromptTokens,
			"completion_tokens": d.Usage.CompletionTokens,
			"latency_ms":        latency.Milliseconds(),
		})
	return d.Content(in.ContentType, r.req.Platform), nil
}

func (r *run) edit(ctx context.Context, content *models.GeneratedContent, in prompt.Input) {
	if r.p.deps.Reviewer == nil {
		r.trace.Editor = models.EditorTrace{Status: string(editor.StatusSkipped), Reason: "no editor configured"}
		return
	}
	ctx, end := telemetry.StartStage(ctx, "editor")
	res := r.p.deps.Reviewer.Review(ctx, editor.Input{
		Content:   content,
		Project:   r.project,
		Platform:  r.platform,
		Templates: in.Templates,
		Knowledge: in.Knowledge,
		Feedback:  in.Feedback,
	})
	end(res.Err)

	r.trace.Editor = models.EditorTrace{Status: string(res.Status), Reason: res.Reason}
	r.p.metrics.RecordEditor(string(res.Status))
	if res.Status != editor.StatusSkipped {
		r.observe(logging.StageEditor, res.Latency)
		r.trace.Metrics.AddUsage(res.Usage.PromptTokens, res.Usage.CompletionTokens)
		r.p.metrics.RecordProviderRequest("editor", res.Err == nil, res.Latency, res.Usage.PromptTokens, res.Usage.CompletionTokens)
	}
	if res.Status == editor.StatusFailed {
		r.degrade(StageEditor, &ExternalServiceError{Service: "editor", Err: res.Err})
	}

	meta := map[string]any{"draft_overall": r.trace.DraftScores.Overall}
	if res.Review != nil {
		meta["editor_overall"] = res.Review.EditorScore
		meta["changes"] = res.Review.Changes
		if len(res.Review.GuardrailViolations) > 0 {
			meta["guardrail_violations"] = res.Review.GuardrailViolations
		}
	}
	r.agentLog(ctx, logging.StageEditor, string(res.Status), res.Reason, meta)
}

func (r *run) attachVisual(ctx context.Context, content *models.GeneratedContent) {
	if r.p.deps.Visual == nil {
		content.Visual = models.NoVisual()
		r.trace.Visual = models.VisualTrace{Decision: string(models.VisualNone), Final: string(models.VisualNone), Reason: "no visual engine configured"}
		return
	}
	ctx, end := telemetry.StartStage(ctx, "visual")
	start := r.p.now()
	out := r.p.deps.Visual.Execute(ctx, visual.Input{
		Project:     r.project,
		Platform:    r.platform,
		Text:        content.Text,
		ImagePrompt: content.ImagePrompt,
		AltText:     content.AltText,
		ForcePhoto:  r.req.ForcePhoto,
	})
	end(out.Err)
	r.observe(StageVisual, r.p.now().Sub(start))

	content.Visual = out.Assets
	if content.Visual == nil {
		content.Visual = models.NoVisual()
	}
	r.trace.Visual = out.Trace
	r.trace.Metrics.AddUsage(out.Usage.PromptTokens, out.Usage.CompletionTokens)
	if out.Trace.Degraded {
		err := out.Err
		if err == nil {
			err = errors.New(out.Trace.Reason)
		}
		r.degrade(StageVisual, &ExternalServiceError{Service: "visual", Err: err})
	}
}

func (r *run) record(content *models.GeneratedContent) *models.ContentRecord {
	rec := &models.ContentRecord{
		ProjectID:         r.req.ProjectID,
		Platform:          r.req.Platform,
		ContentType:       content.ContentType,
		Text:              content.Text,
		Status:            models.ContentStatusReview,
		Scores:            content.Scores,
		GenerationContext: r.trace,
		ImagePrompt:       content.ImagePrompt,
		AltText:           content.AltText,
		CreatedAt:         r.p.now().UTC(),
	}
	if v := content.Visual; v != nil {
		rec.ChartURL = v.ChartURL
		rec.CardURL = v.CardURL
		rec.MediaURL = v.GeneratedImageURL
		rec.MediaAssetID = v.MediaAssetID
		rec.TemplateURL = v.Template
		if v.ImagePrompt != "" {
			rec.ImagePrompt = v.ImagePrompt
		}
	}
	return rec
}
