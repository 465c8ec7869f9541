package models

// GenerationTrace is the generation_context stored with every content row:
// each decision the run made, and why.
type GenerationTrace struct {
	RunID string `json:"run_id"`

	ContentType       string    `json:"content_type"`
	ContentTypeReason string    `json:"content_type_reason"`
	ExplicitType      bool      `json:"explicit_type,omitempty"`
	Deficits          []Deficit `json:"deficits,omitempty"`
	ColdStart         bool      `json:"cold_start,omitempty"`

	KnowledgeUsed []string `json:"kb_facts_used,omitempty"`
	NewsInjected  string   `json:"news_injected,omitempty"`
	NewsID        string   `json:"news_id,omitempty"`
	RecentPosts   int      `json:"recent_posts_considered"`
	FeedbackUsed  int      `json:"feedback_records_used"`
	TemplatesUsed []string `json:"templates_used,omitempty"`
	PromptChars   int      `json:"prompt_chars"`

	ParseTier   string `json:"parse_tier"`
	DraftScores Scores `json:"draft_scores"`

	Editor EditorTrace `json:"editor"`
	Visual VisualTrace `json:"visual"`

	Degradations []Degradation `json:"degradations,omitempty"`
	Metrics      RunMetrics    `json:"metrics"`
}

// EditorTrace records the editor pass outcome.
type EditorTrace struct {
	Status string `json:"status"` // skipped, accepted, rejected, failed
	Reason string `json:"reason,omitempty"`
}

// VisualTrace records the visual decision and what was actually produced.
type VisualTrace struct {
	Decision string   `json:"decision"`
	Final    string   `json:"final"`
	Reason   string   `json:"reason,omitempty"`
	Degraded bool     `json:"degraded,omitempty"`
	Path     []string `json:"path,omitempty"`
}

// Degradation marks a stage that recovered with a default instead of failing the run.
type Degradation struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// RunMetrics captures token usage and latency per stage.
type RunMetrics struct {
	PromptTokens     int              `json:"prompt_tokens"`
	CompletionTokens int              `json:"completion_tokens"`
	StageLatencyMs   map[string]int64 `json:"stage_latency_ms,omitempty"`
	TotalLatencyMs   int64            `json:"total_latency_ms"`
}

// AddUsage accumulates token counts.
func (m *RunMetrics) AddUsage(prompt, completion int) {
	m.PromptTokens += prompt
	m.CompletionTokens += completion
}

// Observe records a stage latency in milliseconds.
func (m *RunMetrics) Observe(stage string, ms int64) {
	if m.StageLatencyMs == nil {
		m.StageLatencyMs = make(map[string]int64)
	}
	m.StageLatencyMs[stage] += ms
}

// Degrade appends a degradation marker.
func (t *GenerationTrace) Degrade(stage, reason string) {
	t.Degradations = append(t.Degradations, Degradation{Stage: stage, Reason: reason})
}
