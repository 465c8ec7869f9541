package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jordanhubbard/contentloom/internal/lock"
	"github.com/jordanhubbard/contentloom/internal/messagebus"
	"github.com/jordanhubbard/contentloom/internal/provider"
	"github.com/jordanhubbard/contentloom/internal/renderer"
	"github.com/jordanhubbard/contentloom/internal/storage"
)

// Config represents the main configuration for contentloom. It is loaded
// from YAML with ${ENV} references expanded before parsing.
type Config struct {
	Server     ServerConfig              `yaml:"server"`
	Database   DatabaseConfig            `yaml:"database"`
	Providers  []provider.ProviderConfig `yaml:"providers"`
	Generation GenerationConfig          `yaml:"generation"`
	Visual     VisualConfig              `yaml:"visual"`
	Storage    StorageConfig             `yaml:"storage"`
	Renderer   renderer.Config           `yaml:"renderer"`
	Lock       LockConfig                `yaml:"lock"`
	Redis      lock.RedisOptions         `yaml:"redis"`
	NATS       NATSConfig                `yaml:"nats"`
	Temporal   TemporalConfig            `yaml:"temporal"`
	Telemetry  TelemetryConfig           `yaml:"telemetry"`
	Logging    LoggingConfig             `yaml:"logging"`
	HotReload  HotReloadConfig           `yaml:"hot_reload"`

	// ProjectsFile seeds projects, knowledge, templates and news at startup.
	ProjectsFile string `yaml:"projects_file"`
}

// ServerConfig configures the metrics HTTP server
type ServerConfig struct {
	MetricsAddr  string        `yaml:"metrics_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig configures persistence
type DatabaseConfig struct {
	Type string `yaml:"type"` // "sqlite", "postgres"
	Path string `yaml:"path"` // For SQLite
	DSN  string `yaml:"dsn"`  // For Postgres
}

// GenerationConfig configures the draft and editor calls.
type GenerationConfig struct {
	Provider          string        `yaml:"provider"` // provider id for drafting and editing
	Model             string        `yaml:"model"`
	EditorModel       string        `yaml:"editor_model"`
	Temperature       float64       `yaml:"temperature"`
	EditorTemperature float64       `yaml:"editor_temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
	EditorEnabled     bool          `yaml:"editor_enabled"`
}

// VisualConfig configures the visual engine. Provider fields name entries
// in Providers; an empty one disables the paths that need it.
type VisualConfig struct {
	DecisionProvider string  `yaml:"decision_provider"`
	ScoreProvider    string  `yaml:"score_provider"`
	ImageProvider    string  `yaml:"image_provider"`
	VisionProvider   string  `yaml:"vision_provider"`
	EmbedProvider    string  `yaml:"embed_provider"`
	DecisionModel    string  `yaml:"decision_model"`
	ScoreModel       string  `yaml:"score_model"`
	SampleCount      int     `yaml:"sample_count"`
	MatchThreshold   float64 `yaml:"match_threshold"`
	QualityThreshold float64 `yaml:"quality_threshold"`
}

// StorageConfig selects the upload backend.
type StorageConfig struct {
	Backend       string           `yaml:"backend"` // "memory" or "s3"
	PublicBaseURL string           `yaml:"public_base_url"`
	S3            storage.S3Config `yaml:"s3"`
}

// LockConfig selects the run lock backend.
type LockConfig struct {
	Backend string        `yaml:"backend"` // "local", "redis" or "database"
	TTL     time.Duration `yaml:"ttl"`
	Wait    time.Duration `yaml:"wait"`
}

// NATSConfig configures the event and request bus. Disabled uses the
// in-process bus.
type NATSConfig struct {
	Enabled           bool `yaml:"enabled"`
	messagebus.Config `yaml:",inline"`
}

// TemporalConfig configures Temporal workflow engine
type TemporalConfig struct {
	Enabled                  bool          `yaml:"enabled"`
	Host                     string        `yaml:"host"`
	Namespace                string        `yaml:"namespace"`
	TaskQueue                string        `yaml:"task_queue"`
	WorkflowExecutionTimeout time.Duration `yaml:"workflow_execution_timeout"`
	WorkflowTaskTimeout      time.Duration `yaml:"workflow_task_timeout"`
	ActivityTimeout          time.Duration `yaml:"activity_timeout"`
	ScheduleInterval         time.Duration `yaml:"schedule_interval"`
}

// TelemetryConfig configures tracing. An empty endpoint disables export.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	Encoding    string `yaml:"encoding"`
}

// HotReloadConfig configures config file watching
type HotReloadConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// LoadConfigFromFile loads configuration from a YAML file at the specified
// path. Values not present in the file keep their defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults after expanding ${ENV} references.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			MetricsAddr:  ":9464",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "./contentloom.db",
		},
		Generation: GenerationConfig{
			Provider:          "default",
			Temperature:       0.8,
			EditorTemperature: 0.3,
			MaxTokens:         1024,
			CallTimeout:       90 * time.Second,
			EditorEnabled:     true,
		},
		Visual: VisualConfig{
			SampleCount:      2,
			MatchThreshold:   0.82,
			QualityThreshold: 7,
		},
		Storage: StorageConfig{
			Backend:       "memory",
			PublicBaseURL: "http://localhost:9000/contentloom",
			S3:            storage.S3Config{Region: "us-east-1", MaxRetries: 3},
		},
		Renderer: renderer.Config{Timeout: 30 * time.Second, MaxRetries: 3},
		Lock: LockConfig{
			Backend: "local",
			TTL:     10 * time.Minute,
			Wait:    2 * time.Minute,
		},
		Redis: lock.RedisOptions{Address: "localhost:6379", Prefix: "contentloom:lock:"},
		NATS: NATSConfig{
			Config: messagebus.Config{
				URL:        "nats://localhost:4222",
				StreamName: "CONTENTLOOM",
				Timeout:    10 * time.Second,
				AckWait:    10 * time.Minute,
			},
		},
		Temporal: TemporalConfig{
			Host:                     "localhost:7233",
			Namespace:                "default",
			TaskQueue:                "contentloom",
			WorkflowExecutionTimeout: time.Hour,
			WorkflowTaskTimeout:      10 * time.Second,
			ActivityTimeout:          15 * time.Minute,
			ScheduleInterval:         6 * time.Hour,
		},
		Telemetry: TelemetryConfig{ServiceName: "contentloom"},
		Logging:   LoggingConfig{Level: "info"},
		HotReload: HotReloadConfig{Debounce: 250 * time.Millisecond},
	}
}

// Normalize replaces invalid values with defaults and reports each fix so
// the caller can log them. It never fails.
func (c *Config) Normalize() []string {
	def := DefaultConfig()
	var fixes []string
	fix := func(format string, args ...any) {
		fixes = append(fixes, fmt.Sprintf(format, args...))
	}

	switch strings.ToLower(c.Database.Type) {
	case "sqlite", "postgres":
		c.Database.Type = strings.ToLower(c.Database.Type)
	default:
		fix("unknown database type %q; using sqlite", c.Database.Type)
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "postgres" && c.Database.DSN == "" {
		fix("postgres selected without dsn; using sqlite")
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "sqlite" && c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}

	g := &c.Generation
	if g.Temperature < 0 || g.Temperature > 2 {
		fix("generation.temperature %.2f out of range; using %.1f", g.Temperature, def.Generation.Temperature)
		g.Temperature = def.Generation.Temperature
	}
	if g.EditorTemperature < 0 || g.EditorTemperature > 2 {
		fix("generation.editor_temperature %.2f out of range; using %.1f", g.EditorTemperature, def.Generation.EditorTemperature)
		g.EditorTemperature = def.Generation.EditorTemperature
	}
	if g.CallTimeout <= 0 {
		fix("generation.call_timeout must be positive; using %s", def.Generation.CallTimeout)
		g.CallTimeout = def.Generation.CallTimeout
	}

	v := &c.Visual
	if v.SampleCount < 1 {
		fix("visual.sample_count %d below 1; using %d", v.SampleCount, def.Visual.SampleCount)
		v.SampleCount = def.Visual.SampleCount
	}
	if v.MatchThreshold <= 0 || v.MatchThreshold > 1 {
		fix("visual.match_threshold %.2f out of range; using %.2f", v.MatchThreshold, def.Visual.MatchThreshold)
		v.MatchThreshold = def.Visual.MatchThreshold
	}
	if v.QualityThreshold < 0 || v.QualityThreshold > 10 {
		fix("visual.quality_threshold %.1f out of range; using %.0f", v.QualityThreshold, def.Visual.QualityThreshold)
		v.QualityThreshold = def.Visual.QualityThreshold
	}

	switch c.Storage.Backend {
	case "memory":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			fix("storage.s3.bucket is empty; using memory storage")
			c.Storage.Backend = "memory"
		}
	default:
		fix("unknown storage backend %q; using memory", c.Storage.Backend)
		c.Storage.Backend = "memory"
	}

	switch c.Lock.Backend {
	case "local", "redis", "database":
	default:
		fix("unknown lock backend %q; using local", c.Lock.Backend)
		c.Lock.Backend = "local"
	}
	if c.Lock.TTL <= 0 {
		c.Lock.TTL = def.Lock.TTL
	}
	if c.Lock.Wait <= 0 {
		c.Lock.Wait = def.Lock.Wait
	}

	if c.Temporal.Enabled && c.Temporal.TaskQueue == "" {
		fix("temporal.task_queue is empty; using %q", def.Temporal.TaskQueue)
		c.Temporal.TaskQueue = def.Temporal.TaskQueue
	}

	seen := make(map[string]bool, len(c.Providers))
	kept := c.Providers[:0]
	for _, p := range c.Providers {
		if p.ID == "" || seen[p.ID] {
			fix("dropping provider with empty or duplicate id %q", p.ID)
			continue
		}
		seen[p.ID] = true
		kept = append(kept, p)
	}
	c.Providers = kept
	return fixes
}

// Provider returns the provider entry with id.
func (c *Config) Provider(id string) (provider.ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return provider.ProviderConfig{}, false
}
