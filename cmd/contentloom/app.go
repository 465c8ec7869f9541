package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/internal/balancer"
	"github.com/jordanhubbard/contentloom/internal/database"
	"github.com/jordanhubbard/contentloom/internal/editor"
	"github.com/jordanhubbard/contentloom/internal/generation"
	"github.com/jordanhubbard/contentloom/internal/lock"
	"github.com/jordanhubbard/contentloom/internal/logging"
	"github.com/jordanhubbard/contentloom/internal/messagebus"
	"github.com/jordanhubbard/contentloom/internal/metrics"
	"github.com/jordanhubbard/contentloom/internal/orchestrator"
	"github.com/jordanhubbard/contentloom/internal/provider"
	"github.com/jordanhubbard/contentloom/internal/renderer"
	"github.com/jordanhubbard/contentloom/internal/storage"
	"github.com/jordanhubbard/contentloom/internal/telemetry"
	"github.com/jordanhubbard/contentloom/internal/userdir"
	"github.com/jordanhubbard/contentloom/internal/visual"
	"github.com/jordanhubbard/contentloom/pkg/config"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

// appOptions select how much of the stack is real.
type appOptions struct {
	configPath string
	logLevel   string
	// dryRun swaps every provider for the mock, uses an in-memory
	// database and storage, and keeps events in process.
	dryRun bool
}

// app is the wired process: config, persistence, providers and pipeline.
type app struct {
	cfg      *config.Config
	cfgPath  string
	logger   *zap.Logger
	db       *database.Database
	registry *provider.Registry
	metrics  *metrics.Metrics
	agentLog *logging.AgentLog
	local    *messagebus.LocalBus
	nats     *messagebus.NatsMessageBus
	pipeline *orchestrator.Pipeline

	closers []func() error
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything in reverse order of construction.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

// requests is where generation requests go: NATS when enabled, otherwise
// the in-process bus.
func (a *app) requests() interface {
	messagebus.RequestPublisher
	messagebus.RequestSubscriber
} {
	if a.nats != nil {
		return a.nats
	}
	return a.local
}

// loadConfig reads path. A missing file is only an error when fileRequired.
func loadConfig(path string, fileRequired bool) (*config.Config, bool, error) {
	cfg, err := config.LoadConfigFromFile(path)
	if errors.Is(err, fs.ErrNotExist) && !fileRequired {
		return config.DefaultConfig(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return cfg, true, nil
}

func newApp(ctx context.Context, opts appOptions) (_ *app, err error) {
	cfg, fromFile, err := loadConfig(opts.configPath, false)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Encoding:    cfg.Logging.Encoding,
	})
	if err != nil {
		return nil, err
	}
	for _, fix := range cfg.Normalize() {
		logger.Warn("config value replaced", zap.String("fix", fix))
	}

	a := &app{cfg: cfg, cfgPath: opts.configPath, logger: logger, metrics: metrics.NewMetrics()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry.ServiceName, version, cfg.Telemetry.OTLPEndpoint, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		a.onClose(func() error { return shutdown(context.Background()) })
	}

	if err := a.openDatabase(ctx, fromFile, opts.dryRun); err != nil {
		return nil, err
	}
	if err := a.seedProjects(ctx, cfg.ProjectsFile); err != nil {
		return nil, err
	}
	if err := a.registerProviders(ctx, opts.dryRun); err != nil {
		return nil, err
	}
	if err := a.connectBus(opts.dryRun); err != nil {
		return nil, err
	}
	a.agentLog = logging.NewAgentLog(a.db, logger)

	deps, err := a.pipelineDeps(ctx, opts.dryRun)
	if err != nil {
		return nil, err
	}
	a.pipeline = orchestrator.NewPipeline(deps, orchestrator.Options{
		CallTimeout: cfg.Generation.CallTimeout,
		LockTTL:     cfg.Lock.TTL,
		LockWait:    cfg.Lock.Wait,
		Source:      instanceName(),
		Logger:      logger,
	})
	return a, nil
}

func (a *app) openDatabase(ctx context.Context, fromFile, dryRun bool) error {
	cfg := a.cfg.Database
	var (
		db  *database.Database
		err error
	)
	switch {
	case dryRun:
		db, err = database.New(":memory:")
	case cfg.Type == "postgres":
		db, err = database.NewPostgres(ctx, cfg.DSN)
	default:
		path := cfg.Path
		if !fromFile {
			// Without a config file the database lives in the user data dir.
			dirs, derr := userdir.Default()
			if derr != nil {
				return derr
			}
			path = dirs.DatabasePath
		}
		db, err = database.New(path)
	}
	if err != nil {
		return err
	}
	a.db = db
	a.onClose(db.Close)
	return nil
}

// seedProjects upserts the projects file into the database. Seeding is
// idempotent: templates upsert by ID, knowledge is replaced, news keeps
// its consumed state.
func (a *app) seedProjects(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(a.cfgPath), path)
	}
	f, err := config.LoadProjects(path)
	if err != nil {
		return err
	}

	for _, seed := range f.GlobalTemplates {
		t := seed.Template("")
		if err := a.db.UpsertTemplate(ctx, &t); err != nil {
			return err
		}
	}
	for _, p := range f.Projects {
		project := p.ProjectConfig
		if mix, fixed := project.ContentMix.Normalized(); fixed {
			a.logger.Warn("content mix corrected", zap.String("project_id", project.ID))
			project.ContentMix = mix
		}
		if err := a.db.UpsertProject(ctx, &project); err != nil {
			return err
		}
		entries := make([]models.KnowledgeBaseEntry, 0, len(p.Knowledge))
		for _, k := range p.Knowledge {
			entries = append(entries, k.Entry())
		}
		if err := a.db.ReplaceKnowledge(ctx, project.ID, entries); err != nil {
			return err
		}
		for _, seed := range p.Templates {
			t := seed.Template(project.ID)
			if err := a.db.UpsertTemplate(ctx, &t); err != nil {
				return err
			}
		}
		for _, seed := range p.News {
			n := seed.Item(project.ID)
			if err := a.db.AddNews(ctx, &n); err != nil {
				return err
			}
		}
	}
	a.logger.Info("projects seeded", zap.String("path", path), zap.Int("projects", len(f.Projects)))
	return nil
}

// providerIDs are the provider entries the pipeline looks up.
func (a *app) providerIDs() []string {
	v := a.cfg.Visual
	seen := map[string]bool{}
	var ids []string
	for _, id := range []string{a.cfg.Generation.Provider, v.DecisionProvider, v.ScoreProvider, v.ImageProvider, v.VisionProvider, v.EmbedProvider} {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func (a *app) registerProviders(ctx context.Context, dryRun bool) error {
	a.registry = provider.NewRegistry()
	if dryRun {
		for _, id := range a.providerIDs() {
			cfg := &provider.ProviderConfig{ID: id, Type: "mock", Model: "mock"}
			if err := a.registry.RegisterImpl(cfg, provider.NewMockProvider()); err != nil {
				return err
			}
		}
		return nil
	}

	for i := range a.cfg.Providers {
		p := a.cfg.Providers[i]
		if p.APIKey == "" && needsKey(p.Type) {
			key, err := userdir.APIKey(p.ID, os.Stderr)
			if err != nil {
				return err
			}
			p.APIKey = key
		}
		if err := a.registry.Register(ctx, &p); err != nil {
			return fmt.Errorf("failed to register provider %s: %w", p.ID, err)
		}
	}
	return nil
}

func needsKey(providerType string) bool {
	switch providerType {
	case "openai", "gemini", "google":
		return true
	}
	return false
}

func (a *app) connectBus(dryRun bool) error {
	a.local = messagebus.NewLocalBus(a.metrics, a.logger)
	a.onClose(a.local.Close)
	if dryRun || !a.cfg.NATS.Enabled {
		return nil
	}

	natsCfg := a.cfg.NATS.Config
	natsCfg.Observer = a.metrics
	natsCfg.Logger = a.logger
	nb, err := messagebus.NewNatsMessageBus(natsCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}
	a.nats = nb
	a.onClose(nb.Close)

	// The pipeline publishes in process; the relay fans events out to NATS.
	if err := messagebus.NewRelay(a.local, nb, instanceName(), a.logger).Start(); err != nil {
		return fmt.Errorf("failed to start event relay: %w", err)
	}
	return nil
}

func (a *app) locker(ctx context.Context, dryRun bool) (lock.Locker, error) {
	if dryRun {
		return lock.NewLocalLocker(), nil
	}
	switch a.cfg.Lock.Backend {
	case "redis":
		l, err := lock.NewRedisLocker(ctx, a.cfg.Redis)
		if err != nil {
			// The pipeline runs unlocked rather than not at all.
			a.logger.Warn("redis lock unavailable; runs will not be serialized across processes", zap.Error(err))
			return lock.NewLocalLocker(), nil
		}
		a.onClose(l.Close)
		return l, nil
	case "database":
		return lock.NewDatabaseLocker(a.db), nil
	default:
		return lock.NewLocalLocker(), nil
	}
}

func (a *app) store(dryRun bool) (storage.Store, error) {
	sc := a.cfg.Storage
	if dryRun || sc.Backend != "s3" {
		return storage.NewMemoryStore(sc.PublicBaseURL), nil
	}
	if sc.S3.PublicBaseURL == "" {
		sc.S3.PublicBaseURL = sc.PublicBaseURL
	}
	s, err := storage.NewS3Store(sc.S3, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 store: %w", err)
	}
	return s, nil
}

func (a *app) pipelineDeps(ctx context.Context, dryRun bool) (orchestrator.Deps, error) {
	cfg := a.cfg
	text, err := a.registry.Generator(cfg.Generation.Provider)
	if err != nil {
		return orchestrator.Deps{}, fmt.Errorf("generation provider %q: %w", cfg.Generation.Provider, err)
	}

	locker, err := a.locker(ctx, dryRun)
	if err != nil {
		return orchestrator.Deps{}, err
	}
	uploads, err := a.store(dryRun)
	if err != nil {
		return orchestrator.Deps{}, err
	}

	deps := orchestrator.Deps{
		Store: a.db,
		Sink:  a.db,
		Drafter: generation.NewGenerator(text, generation.Options{
			Model:       cfg.Generation.Model,
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
			Timeout:     cfg.Generation.CallTimeout,
			Observer:    a.metrics,
			Logger:      a.logger,
		}),
		Visual:   a.visualEngine(storage.Observed(uploads, a.metrics)),
		Balancer: balancer.New(nil),
		Locker:   locker,
		Events:   a.local,
		AgentLog: a.agentLog,
		Metrics:  a.metrics,
	}
	if cfg.Generation.EditorEnabled {
		model := cfg.Generation.EditorModel
		if model == "" {
			model = cfg.Generation.Model
		}
		deps.Reviewer = editor.New(text, editor.Options{
			Model:       model,
			Temperature: cfg.Generation.EditorTemperature,
			Timeout:     cfg.Generation.CallTimeout,
			Logger:      a.logger,
		})
	}
	return deps, nil
}

func (a *app) visualEngine(uploads storage.Store) *visual.Engine {
	v := a.cfg.Visual
	deps := visual.Deps{
		Library:  a.db,
		Uploader: uploads,
		Assets:   storage.NewFetcher(nil),
	}
	lookup := func(capability, id string, fn func(string) error) {
		if id == "" {
			return
		}
		if err := fn(id); err != nil {
			a.logger.Warn("visual capability unavailable", zap.String("capability", capability), zap.Error(err))
		}
	}
	lookup("decision", v.DecisionProvider, func(id string) (err error) {
		deps.Decider, err = a.registry.Generator(id)
		return err
	})
	lookup("score", v.ScoreProvider, func(id string) (err error) {
		deps.Scorer, err = a.registry.Generator(id)
		return err
	})
	lookup("image", v.ImageProvider, func(id string) (err error) {
		deps.Images, err = a.registry.ImageGenerator(id)
		return err
	})
	lookup("vision", v.VisionProvider, func(id string) (err error) {
		deps.Vision, err = a.registry.Vision(id)
		return err
	})
	lookup("embed", v.EmbedProvider, func(id string) (err error) {
		deps.Embedder, err = a.registry.Embedder(id)
		return err
	})

	if a.cfg.Renderer.BaseURL != "" {
		r, err := renderer.New(a.cfg.Renderer, a.logger)
		if err != nil {
			a.logger.Warn("renderer unavailable; charts and cards disabled", zap.Error(err))
		} else {
			deps.Charts, deps.Cards = r, r
		}
	}

	return visual.NewEngine(deps, visual.Options{
		DecisionModel:    v.DecisionModel,
		ScoreModel:       v.ScoreModel,
		SampleCount:      v.SampleCount,
		MatchThreshold:   v.MatchThreshold,
		QualityThreshold: v.QualityThreshold,
		Timeout:          a.cfg.Generation.CallTimeout,
		Observer:         a.metrics,
		Logger:           a.logger,
	})
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "contentloom"
	}
	return "contentloom@" + host
}
