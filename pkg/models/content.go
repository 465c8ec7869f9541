package models

import "time"

// DefaultContentType is used when a project has no usable content mix.
const DefaultContentType = "educational"

// ContentStatus is the review state of a persisted content row.
type ContentStatus string

const (
	ContentStatusDraft     ContentStatus = "draft"
	ContentStatusReview    ContentStatus = "review"
	ContentStatusApproved  ContentStatus = "approved"
	ContentStatusScheduled ContentStatus = "scheduled"
	ContentStatusPublished ContentStatus = "published"
	ContentStatusRejected  ContentStatus = "rejected"
)

// CountsTowardMix reports whether a row with this status fills a weekly quota slot.
func (s ContentStatus) CountsTowardMix() bool {
	return s != ContentStatusRejected && s != ""
}

// GenerationRequest asks for one piece of content for a project on a platform.
type GenerationRequest struct {
	ProjectID       string `json:"project_id"`
	Platform        string `json:"platform"`
	ContentType     string `json:"content_type,omitempty"` // empty = balancer decides
	PatternTemplate string `json:"pattern_template,omitempty"`
	ForcePhoto      bool   `json:"force_photo,omitempty"`
}

// Scores are the model's self-assessment, each in [1,10].
type Scores struct {
	Creativity        int `json:"creativity"`
	ToneMatch         int `json:"tone_match"`
	HallucinationRisk int `json:"hallucination_risk"`
	ValueScore        int `json:"value_score"`
	Overall           int `json:"overall"`
}

// NeutralScore is used for every dimension the model did not report.
const NeutralScore = 5

// DefaultScores returns a complete neutral score set.
func DefaultScores() Scores {
	return Scores{
		Creativity:        NeutralScore,
		ToneMatch:         NeutralScore,
		HallucinationRisk: NeutralScore,
		ValueScore:        NeutralScore,
		Overall:           NeutralScore,
	}
}

// Clamped returns a copy with every field forced into [1,10]; zero means
// "missing" and becomes the neutral score.
func (s Scores) Clamped() Scores {
	return Scores{
		Creativity:        clampScore(s.Creativity),
		ToneMatch:         clampScore(s.ToneMatch),
		HallucinationRisk: clampScore(s.HallucinationRisk),
		ValueScore:        clampScore(s.ValueScore),
		Overall:           clampScore(s.Overall),
	}
}

func clampScore(v int) int {
	switch {
	case v == 0:
		return NeutralScore
	case v < 1:
		return 1
	case v > 10:
		return 10
	}
	return v
}

// EditorReview records what the self-correction pass did.
type EditorReview struct {
	Changes             []string `json:"changes"`
	GuardrailViolations []string `json:"guardrail_violations,omitempty"`
	OriginalScore       int      `json:"original_score"`
	EditorScore         int      `json:"editor_score"`
	Accepted            bool     `json:"accepted"`
	Reason              string   `json:"reason,omitempty"`
}

// GeneratedContent is the result of one orchestration run.
type GeneratedContent struct {
	Text         string           `json:"text"`
	ContentType  string           `json:"content_type"`
	Platform     string           `json:"platform"`
	ImagePrompt  string           `json:"image_prompt,omitempty"`
	AltText      string           `json:"alt_text,omitempty"`
	Scores       Scores           `json:"scores"`
	EditorReview *EditorReview    `json:"editor_review,omitempty"`
	Visual       *VisualAssets    `json:"visual,omitempty"`
	Trace        *GenerationTrace `json:"reasoning_trace,omitempty"`
}

// ApplyRevision replaces text and scores as one unit.
func (c *GeneratedContent) ApplyRevision(text string, scores Scores) {
	c.Text, c.Scores = text, scores
}

// Deficit is target minus actual for one content type this week.
type Deficit struct {
	Type    string  `json:"type"`
	Target  float64 `json:"target"`
	Actual  int     `json:"actual"`
	Deficit float64 `json:"deficit"`
}

// MixStatus is the balancer's view of the week for one project and platform.
type MixStatus struct {
	TargetMix  Mix            `json:"target_mix"`
	ThisWeek   map[string]int `json:"this_week_counts"`
	Deficits   []Deficit      `json:"deficits"`
	ChosenType string         `json:"chosen_type"`
	Reason     string         `json:"reason"`
	ColdStart  bool           `json:"cold_start,omitempty"`
}

// NewsItem is a time-sensitive item that can be injected into one post.
type NewsItem struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// MediaAsset is an image in a project's media library.
type MediaAsset struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	URL          string    `json:"url"`
	StorageKey   string    `json:"storage_key,omitempty"`
	Description  string    `json:"description,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Mood         string    `json:"mood,omitempty"`
	Scene        string    `json:"scene,omitempty"`
	QualityScore float64   `json:"quality_score,omitempty"`
	Embedding    []float32 `json:"-"`
	Source       string    `json:"source"` // upload, generated
	CreatedAt    time.Time `json:"created_at"`
}

// ContentRecord is the row handed to the persistence layer.
type ContentRecord struct {
	ID                string           `json:"id"`
	ProjectID         string           `json:"project_id"`
	Platform          string           `json:"platform"`
	ContentType       string           `json:"content_type"`
	Text              string           `json:"text"`
	Status            ContentStatus    `json:"status"`
	Scores            Scores           `json:"ai_scores"`
	GenerationContext *GenerationTrace `json:"generation_context"`
	ImagePrompt       string           `json:"image_prompt,omitempty"`
	AltText           string           `json:"alt_text,omitempty"`
	MediaURL          string           `json:"media_url,omitempty"`
	ChartURL          string           `json:"chart_url,omitempty"`
	CardURL           string           `json:"card_url,omitempty"`
	TemplateURL       string           `json:"template_url,omitempty"`
	MediaAssetID      string           `json:"media_asset_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
}

// AgentLogEntry is one append-only log row per generation and per editor pass.
type AgentLogEntry struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	ProjectID string         `json:"project_id"`
	Platform  string         `json:"platform"`
	Stage     string         `json:"stage"`
	Status    string         `json:"status"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
