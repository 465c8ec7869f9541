package models

import "strings"

// VisualType is the kind of asset attached to a post.
type VisualType string

const (
	VisualChart          VisualType = "chart"
	VisualCard           VisualType = "card"
	VisualPhoto          VisualType = "photo"
	VisualGeneratedPhoto VisualType = "generated_photo"
	VisualMatchedPhoto   VisualType = "matched_photo"
	VisualNone           VisualType = "none"
)

// ParseVisualType maps a model answer onto a decision value. Anything
// unrecognised yields ok=false.
func ParseVisualType(s string) (VisualType, bool) {
	switch VisualType(strings.ToLower(strings.TrimSpace(s))) {
	case VisualChart:
		return VisualChart, true
	case VisualCard:
		return VisualCard, true
	case VisualPhoto, VisualGeneratedPhoto, VisualMatchedPhoto, "image":
		return VisualPhoto, true
	case VisualNone, "text", "text_only":
		return VisualNone, true
	}
	return "", false
}

// VisualAssets describes the attached visual. Only the URL matching
// VisualType is meaningful.
type VisualAssets struct {
	VisualType        VisualType `json:"visual_type"`
	ChartURL          string     `json:"chart_url,omitempty"`
	CardURL           string     `json:"card_url,omitempty"`
	ImagePrompt       string     `json:"image_prompt,omitempty"`
	GeneratedImageURL string     `json:"generated_image_url,omitempty"`
	MediaAssetID      string     `json:"media_asset_id,omitempty"`
	MatchSimilarity   float64    `json:"match_similarity,omitempty"`
	Template          string     `json:"template,omitempty"`
}

// NoVisual is the empty, text-only visual.
func NoVisual() *VisualAssets {
	return &VisualAssets{VisualType: VisualNone}
}

// PrimaryURL returns the one URL that matters for the visual type.
func (v *VisualAssets) PrimaryURL() string {
	if v == nil {
		return ""
	}
	switch v.VisualType {
	case VisualChart:
		return v.ChartURL
	case VisualCard:
		return v.CardURL
	case VisualGeneratedPhoto, VisualMatchedPhoto, VisualPhoto:
		return v.GeneratedImageURL
	}
	return ""
}

// PlatformSpec is the content specification of a publishing platform.
type PlatformSpec struct {
	Name           string `json:"name"`
	CharLimit      int    `json:"char_limit"`
	AllowsTextOnly bool   `json:"allows_text_only"`
	// AspectRatio is the exact published ratio; GenerateAspect is the
	// closest ratio image models accept and is cropped down afterwards.
	AspectRatio    string `json:"aspect_ratio"`
	GenerateAspect string `json:"generate_aspect"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
}

var platformSpecs = map[string]PlatformSpec{
	"x":         {Name: "x", CharLimit: 280, AllowsTextOnly: true, AspectRatio: "16:9", GenerateAspect: "16:9", Width: 1600, Height: 900},
	"threads":   {Name: "threads", CharLimit: 500, AllowsTextOnly: true, AspectRatio: "4:5", GenerateAspect: "3:4", Width: 1080, Height: 1350},
	"linkedin":  {Name: "linkedin", CharLimit: 3000, AllowsTextOnly: true, AspectRatio: "1.91:1", GenerateAspect: "16:9", Width: 1200, Height: 628},
	"facebook":  {Name: "facebook", CharLimit: 63206, AllowsTextOnly: false, AspectRatio: "1:1", GenerateAspect: "1:1", Width: 1080, Height: 1080},
	"instagram": {Name: "instagram", CharLimit: 2200, AllowsTextOnly: false, AspectRatio: "4:5", GenerateAspect: "3:4", Width: 1080, Height: 1350},
	"tiktok":    {Name: "tiktok", CharLimit: 2200, AllowsTextOnly: false, AspectRatio: "9:16", GenerateAspect: "9:16", Width: 1080, Height: 1920},
}

// LookupPlatform returns the spec for a platform. Unknown platforms are
// treated as media-required square-image platforms.
func LookupPlatform(name string) PlatformSpec {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "twitter" {
		key = "x"
	}
	if spec, ok := platformSpecs[key]; ok {
		return spec
	}
	return PlatformSpec{Name: key, CharLimit: 2000, AspectRatio: "1:1", GenerateAspect: "1:1", Width: 1080, Height: 1080}
}

// ChartSeries is one named line or bar group.
type ChartSeries struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// ChartSpec is the structured data a chart renderer draws.
type ChartSpec struct {
	Title     string        `json:"title"`
	ChartType string        `json:"chart_type"` // bar, line, pie
	Labels    []string      `json:"labels"`
	Series    []ChartSeries `json:"series"`
}

// Empty reports whether the chart has nothing to plot.
func (c *ChartSpec) Empty() bool {
	if c == nil {
		return true
	}
	for _, s := range c.Series {
		if len(s.Values) > 0 {
			return false
		}
	}
	return true
}

// CardSpec is the copy rendered onto a branded card.
type CardSpec struct {
	Hook     string `json:"hook"`
	Body     string `json:"body,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
}
