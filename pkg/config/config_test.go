package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap/zaptest"

	"github.com/jordanhubbard/contentloom/internal/provider"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.MetricsAddr != ":9464" {
		t.Errorf("expected metrics addr :9464, got %q", cfg.Server.MetricsAddr)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("expected sqlite, got %q", cfg.Database.Type)
	}
	if cfg.Generation.CallTimeout != 90*time.Second {
		t.Errorf("expected 90s call timeout, got %v", cfg.Generation.CallTimeout)
	}
	if cfg.Generation.Temperature != 0.8 || cfg.Generation.EditorTemperature != 0.3 {
		t.Errorf("unexpected temperatures %v/%v", cfg.Generation.Temperature, cfg.Generation.EditorTemperature)
	}
	if !cfg.Generation.EditorEnabled {
		t.Error("editor should be enabled by default")
	}
}

func TestDefaultConfig_Visual(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Visual.SampleCount != 2 {
		t.Errorf("expected 2 samples, got %d", cfg.Visual.SampleCount)
	}
	if cfg.Visual.MatchThreshold != 0.82 {
		t.Errorf("expected match threshold 0.82, got %v", cfg.Visual.MatchThreshold)
	}
	if cfg.Visual.QualityThreshold != 7 {
		t.Errorf("expected quality threshold 7, got %v", cfg.Visual.QualityThreshold)
	}
}

func TestDefaultConfig_Temporal(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Temporal.Enabled {
		t.Error("temporal should be disabled by default")
	}
	if cfg.Temporal.Host != "localhost:7233" {
		t.Errorf("got temporal host %q", cfg.Temporal.Host)
	}
	if cfg.Temporal.TaskQueue != "contentloom" {
		t.Errorf("got task queue %q", cfg.Temporal.TaskQueue)
	}
}

func TestDefaultConfig_Bus(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.NATS.Enabled {
		t.Error("nats should be disabled by default")
	}
	if cfg.NATS.StreamName != "CONTENTLOOM" {
		t.Errorf("got stream %q", cfg.NATS.StreamName)
	}
	if cfg.Lock.Backend != "local" {
		t.Errorf("got lock backend %q", cfg.Lock.Backend)
	}
}

func TestDefaultConfig_NeedsNoFixes(t *testing.T) {
	if fixes := DefaultConfig().Normalize(); len(fixes) != 0 {
		t.Errorf("default config needed fixes: %v", fixes)
	}
}

const sampleYAML = `
database:
  type: postgres
  dsn: ${CONTENTLOOM_TEST_DSN}
providers:
  - id: default
    type: openai
    endpoint: https://api.openai.com/v1
    api_key: ${CONTENTLOOM_TEST_KEY}
    model: gpt-4o-mini
  - id: gemini
    type: gemini
    api_key: g-key
    image_model: imagen-3.0-generate-002
generation:
  model: gpt-4o-mini
  call_timeout: 45s
visual:
  decision_provider: default
  image_provider: gemini
  sample_count: 3
storage:
  backend: s3
  s3:
    bucket: media
    endpoint: http://127.0.0.1:9000
nats:
  enabled: true
  url: nats://bus:4222
  ack_wait: 5m
lock:
  backend: redis
redis:
  address: redis:6379
temporal:
  enabled: true
  task_queue: content
projects_file: projects.yaml
`

func TestLoadConfigFromFile_YAML(t *testing.T) {
	t.Setenv("CONTENTLOOM_TEST_DSN", "postgres://u:p@db/contentloom")
	t.Setenv("CONTENTLOOM_TEST_KEY", "sk-test")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fixes := cfg.Normalize(); len(fixes) != 0 {
		t.Errorf("unexpected fixes: %v", fixes)
	}

	if cfg.Database.DSN != "postgres://u:p@db/contentloom" {
		t.Errorf("dsn not expanded: %q", cfg.Database.DSN)
	}
	p, ok := cfg.Provider("default")
	if !ok || p.APIKey != "sk-test" {
		t.Errorf("provider default = %+v, %v", p, ok)
	}
	if cfg.Generation.CallTimeout != 45*time.Second {
		t.Errorf("call timeout = %v", cfg.Generation.CallTimeout)
	}
	// Unset keys keep their defaults.
	if cfg.Generation.Temperature != 0.8 {
		t.Errorf("temperature = %v", cfg.Generation.Temperature)
	}
	if cfg.Visual.SampleCount != 3 || cfg.Visual.MatchThreshold != 0.82 {
		t.Errorf("visual = %+v", cfg.Visual)
	}
	if !cfg.NATS.Enabled || cfg.NATS.URL != "nats://bus:4222" || cfg.NATS.AckWait != 5*time.Minute {
		t.Errorf("nats = %+v", cfg.NATS)
	}
	if cfg.NATS.StreamName != "CONTENTLOOM" {
		t.Errorf("stream name default lost: %q", cfg.NATS.StreamName)
	}
	if cfg.Storage.S3.Bucket != "media" || cfg.Storage.S3.Region != "us-east-1" {
		t.Errorf("s3 = %+v", cfg.Storage.S3)
	}
	if cfg.Redis.Address != "redis:6379" || cfg.Lock.Backend != "redis" {
		t.Errorf("lock = %+v redis = %+v", cfg.Lock, cfg.Redis)
	}
	if cfg.ProjectsFile != "projects.yaml" {
		t.Errorf("projects file = %q", cfg.ProjectsFile)
	}
}

func TestLoadConfigFromFile_NotFound(t *testing.T) {
	if _, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadConfigFromFile_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("generation: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfigFromFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestNormalize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database = DatabaseConfig{Type: "postgres"}
	cfg.Generation.Temperature = 3
	cfg.Generation.CallTimeout = 0
	cfg.Visual.SampleCount = 0
	cfg.Visual.MatchThreshold = 1.5
	cfg.Storage.Backend = "s3"
	cfg.Lock.Backend = "zookeeper"
	cfg.Providers = []provider.ProviderConfig{{ID: "a"}, {ID: ""}, {ID: "a"}, {ID: "b"}}

	fixes := cfg.Normalize()
	if len(fixes) != 9 {
		t.Errorf("expected 9 fixes, got %d: %v", len(fixes), fixes)
	}

	want := DefaultConfig()
	if cfg.Database.Type != "sqlite" || cfg.Database.Path != want.Database.Path {
		t.Errorf("database = %+v", cfg.Database)
	}
	if diff := cmp.Diff(want.Generation, cfg.Generation); diff != "" {
		t.Errorf("generation mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Visual, cfg.Visual); diff != "" {
		t.Errorf("visual mismatch (-want +got):\n%s", diff)
	}
	if cfg.Storage.Backend != "memory" || cfg.Lock.Backend != "local" {
		t.Errorf("storage %q lock %q", cfg.Storage.Backend, cfg.Lock.Backend)
	}
	var ids []string
	for _, p := range cfg.Providers {
		ids = append(ids, p.ID)
	}
	if diff := cmp.Diff([]string{"a", "b"}, ids); diff != "" {
		t.Errorf("providers mismatch (-want +got):\n%s", diff)
	}
}

const projectsYAML = `
global_templates:
  - name: house style
    category: identity
    content: Write like a person, not a brochure.
projects:
  - id: acme
    name: Acme
    tone: direct
    content_mix:
      educational: 3
      soft_sell: 1
    knowledge:
      - category: product
        title: Cycle time
        content: Median cycle time is 3 days.
    templates:
      - name: voice
        category: brand_voice
        content: Short sentences.
        priority: 10
      - id: old
        name: retired
        content: unused
        active: false
    news:
      - id: n1
        title: Release 2.0 ships
`

func TestLoadProjects(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.yaml")
	if err := os.WriteFile(path, []byte(projectsYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadProjects(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(f.Projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(f.Projects))
	}
	p := f.Projects[0]
	if p.ID != "acme" || p.Tone != "direct" {
		t.Errorf("project = %+v", p.ProjectConfig)
	}
	if target, ok := p.ContentMix.Get("educational"); !ok || target != 3 {
		t.Errorf("mix educational = %v, %v", target, ok)
	}

	voice := p.Templates[0].Template(p.ID)
	if voice.ID != "acme:voice" || !voice.Active || voice.Priority != 10 {
		t.Errorf("voice template = %+v", voice)
	}
	if retired := p.Templates[1].Template(p.ID); retired.Active || retired.ID != "old" {
		t.Errorf("retired template = %+v", retired)
	}
	global := f.GlobalTemplates[0].Template("")
	if !global.IsGlobal() || global.ID != "global:house_style" {
		t.Errorf("global template = %+v", global)
	}
	if item := p.News[0].Item(p.ID); item.ProjectID != "acme" || item.Title != "Release 2.0 ships" {
		t.Errorf("news = %+v", item)
	}
}

func TestLoadProjects_MissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "projects.yaml")
	if err := os.WriteFile(path, []byte("projects:\n  - name: nameless\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadProjects(path); err == nil {
		t.Error("expected error for project without id")
	}
}

func TestWatch_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("generation:\n  model: first\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 20*time.Millisecond, zaptest.NewLogger(t), func(c *Config) { reloaded <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("generation:\n  model: second\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-reloaded:
		if c.Generation.Model != "second" {
			t.Errorf("model = %q", c.Generation.Model)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("watch returned %v", err)
	}
}
