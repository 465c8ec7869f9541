// Package renderer is the HTTP client for the chart and card render service.
package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/internal/visual"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

// Config points at the render service.
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries uint64        `yaml:"max_retries"`
}

// Client renders charts and cards remotely and returns their public URLs.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New creates a render client with a traced transport.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("renderer base_url is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With(zap.String("component", "Renderer")),
	}, nil
}

type brand struct {
	PrimaryColor   string `json:"primary_color,omitempty"`
	SecondaryColor string `json:"secondary_color,omitempty"`
	FontFamily     string `json:"font_family,omitempty"`
	LogoURL        string `json:"logo_url,omitempty"`
	Background     string `json:"background,omitempty"`
}

func brandOf(v models.VisualIdentity) brand {
	return brand{
		PrimaryColor:   v.PrimaryColor,
		SecondaryColor: v.SecondaryColor,
		FontFamily:     v.FontFamily,
		LogoURL:        v.LogoURL,
		Background:     v.CardBackground,
	}
}

type renderRequest struct {
	ProjectID string            `json:"project_id"`
	Platform  string            `json:"platform"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Template  string            `json:"template,omitempty"`
	Brand     brand             `json:"brand"`
	Chart     *models.ChartSpec `json:"chart,omitempty"`
	Card      *models.CardSpec  `json:"card,omitempty"`
}

type renderResponse struct {
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

// RenderChart draws structured data on the brand palette.
func (c *Client) RenderChart(ctx context.Context, req visual.ChartRequest) (string, error) {
	chart := req.Chart
	return c.render(ctx, "/render/chart", renderRequest{
		ProjectID: req.ProjectID,
		Platform:  req.Platform.Name,
		Width:     req.Platform.Width,
		Height:    req.Platform.Height,
		Template:  req.Template,
		Brand:     brandOf(req.Identity),
		Chart:     &chart,
	})
}

// RenderCard lays copy onto the branded card background.
func (c *Client) RenderCard(ctx context.Context, req visual.CardRequest) (string, error) {
	card := req.Card
	return c.render(ctx, "/render/card", renderRequest{
		ProjectID: req.ProjectID,
		Platform:  req.Platform.Name,
		Width:     req.Platform.Width,
		Height:    req.Platform.Height,
		Template:  req.Template,
		Brand:     brandOf(req.Identity),
		Card:      &card,
	})
}

func (c *Client) render(ctx context.Context, path string, body renderRequest) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal render request: %w", err)
	}

	var url string
	b := retry.WithMaxRetries(c.cfg.MaxRetries, retry.NewExponential(300*time.Millisecond))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Warn("render request failed", zap.String("path", path), zap.Error(err))
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return retry.RetryableError(fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, raw))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, raw)
		}

		var out renderResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("failed to decode render response: %w", err)
		}
		if out.Error != "" {
			return fmt.Errorf("render service: %s", out.Error)
		}
		if out.URL == "" {
			return fmt.Errorf("render service returned no url")
		}
		url = out.URL
		return nil
	})
	if err != nil {
		return "", err
	}
	return url, nil
}
