// Package generation runs the draft model call, parses the answer through a
// tiered fallback chain and sanitizes the resulting text.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/internal/provider"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

// DefaultTemperature is the draft sampling temperature.
const DefaultTemperature = 0.8

var (
	// ErrGeneration marks a failed primary generation. It is fatal for a run.
	ErrGeneration = errors.New("generation failed")
	// ErrEmptyText is returned when no usable text survives parsing and sanitization.
	ErrEmptyText = errors.New("generated text is empty")
)

// TierObserver is notified of the parse tier used for each draft.
type TierObserver interface {
	ObserveParseTier(tier string)
}

// Options configure a Generator.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Parser      *Parser
	Observer    TierObserver
	Logger      *zap.Logger
}

// Generator produces one scored, sanitized draft per call.
type Generator struct {
	model    provider.Generator
	opts     Options
	parser   *Parser
	logger   *zap.Logger
	observer TierObserver
}

// NewGenerator wraps a text provider.
func NewGenerator(model provider.Generator, opts Options) *Generator {
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	parser := opts.Parser
	if parser == nil {
		parser = NewParser()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		model:    model,
		opts:     opts,
		parser:   parser,
		logger:   logger.With(zap.String("component", "Generator")),
		observer: opts.Observer,
	}
}

// Draft is a parsed, sanitized generation result.
type Draft struct {
	Text        string
	ImagePrompt string
	AltText     string
	Scores      models.Scores
	Tier        string
	Raw         string
	Usage       provider.Completion
	Latency     time.Duration
}

// Content converts the draft into the run's content object.
func (d *Draft) Content(contentType, platform string) *models.GeneratedContent {
	return &models.GeneratedContent{
		Text:        d.Text,
		ContentType: contentType,
		Platform:    platform,
		ImagePrompt: d.ImagePrompt,
		AltText:     d.AltText,
		Scores:      d.Scores,
	}
}

// Generate makes exactly one model call. Its failure is returned wrapped in
// ErrGeneration; parse failures are recovered by the tier chain.
func (g *Generator) Generate(ctx context.Context, prompt string) (*Draft, error) {
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := g.model.Generate(ctx, provider.GenerateRequest{
		Model:       g.opts.Model,
		Prompt:      prompt,
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
	})
	latency := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	parsed, ok := g.parser.Parse(resp.Text)
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, ErrEmptyText)
	}
	if g.observer != nil {
		g.observer.ObserveParseTier(parsed.Tier)
	}
	if parsed.Tier != TierStrict {
		g.logger.Warn("model response needed fallback parsing",
			zap.String("tier", parsed.Tier), zap.Int("raw_len", len(resp.Text)))
	}

	text := Sanitize(parsed.Text)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %w", ErrGeneration, ErrEmptyText)
	}

	g.logger.Debug("draft generated",
		zap.String("tier", parsed.Tier),
		zap.Int("overall", parsed.Scores.Overall),
		zap.Duration("latency", latency))

	return &Draft{
		Text:        text,
		ImagePrompt: strings.TrimSpace(parsed.ImagePrompt),
		AltText:     strings.TrimSpace(parsed.AltText),
		Scores:      parsed.Scores,
		Tier:        parsed.Tier,
		Raw:         resp.Text,
		Usage:       *resp,
		Latency:     latency,
	}, nil
}
