package editor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jordanhubbard/contentloom/internal/prompt"
	"github.com/jordanhubbard/contentloom/internal/provider"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

type stubModel struct {
	mu      sync.Mutex
	text    string
	err     error
	prompts []string
	temps   []float64
}

func (s *stubModel) Generate(_ context.Context, req provider.GenerateRequest) (*provider.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, req.Prompt)
	s.temps = append(s.temps, req.Temperature)
	if s.err != nil {
		return nil, s.err
	}
	return &provider.Completion{Text: s.text, PromptTokens: 10, CompletionTokens: 5}, nil
}

func (s *stubModel) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func draft(overall int) *models.GeneratedContent {
	return &models.GeneratedContent{
		Text:     "Original draft text.",
		Platform: "x",
		Scores:   models.Scores{Creativity: 7, ToneMatch: 7, HallucinationRisk: 8, ValueScore: 7, Overall: overall},
	}
}

func TestReview_SkippedBelowGate(t *testing.T) {
	m := &stubModel{}
	e := New(m, Options{})
	c := draft(6)

	r := e.Review(context.Background(), Input{Content: c})
	assert.Equal(t, StatusSkipped, r.Status)
	assert.Equal(t, 0, m.callCount())
	assert.Nil(t, c.EditorReview)
	assert.Equal(t, "Original draft text.", c.Text)
}

func TestReview_AcceptsEqualOrBetter(t *testing.T) {
	for _, overall := range []int{7, 9} {
		m := &stubModel{text: `{"improved_text": "Sharper text.", "editor_scores": {"creativity": 8, "tone_match": 8, "hallucination_risk": 9, "value_score": 8, "overall": ` +
			map[int]string{7: "7", 9: "9"}[overall] + `}, "changes": ["tightened hook"]}`}
		e := New(m, Options{})
		c := draft(7)

		r := e.Review(context.Background(), Input{Content: c, Platform: models.LookupPlatform("x")})
		require.Equal(t, StatusAccepted, r.Status)
		assert.Equal(t, "Sharper text.", c.Text)
		assert.Equal(t, overall, c.Scores.Overall)
		require.NotNil(t, c.EditorReview)
		assert.True(t, c.EditorReview.Accepted)
		assert.Equal(t, 7, c.EditorReview.OriginalScore)
		assert.Equal(t, []string{"tightened hook"}, c.EditorReview.Changes)
		assert.Equal(t, []float64{DefaultTemperature}, m.temps)
	}
}

func TestReview_RejectsLowerScore(t *testing.T) {
	m := &stubModel{text: `{"improved_text": "Worse text.", "editor_scores": {"overall": 6}, "changes": ["rewrote"]}`}
	e := New(m, Options{})
	c := draft(8)

	r := e.Review(context.Background(), Input{Content: c})
	require.Equal(t, StatusRejected, r.Status)
	assert.Equal(t, "Original draft text.", c.Text)
	assert.Equal(t, 8, c.Scores.Overall)
	require.NotNil(t, c.EditorReview)
	assert.False(t, c.EditorReview.Accepted)
	assert.Equal(t, 6, c.EditorReview.EditorScore)
}

func TestReview_RejectsEmptyAfterSanitize(t *testing.T) {
	m := &stubModel{text: `{"improved_text": "https://example.com #tag", "editor_scores": {"overall": 10}}`}
	c := draft(7)

	r := New(m, Options{}).Review(context.Background(), Input{Content: c})
	assert.Equal(t, StatusRejected, r.Status)
	assert.Equal(t, "Original draft text.", c.Text)
}

func TestReview_SanitizesAcceptedText(t *testing.T) {
	m := &stubModel{text: `{"improved_text": "Better 🚀 text  see https://x.io", "editor_scores": {"overall": 8}}`}
	c := draft(7)

	r := New(m, Options{}).Review(context.Background(), Input{Content: c})
	require.Equal(t, StatusAccepted, r.Status)
	assert.Equal(t, "Better text see", c.Text)
}

func TestReview_NeverLowersOverall(t *testing.T) {
	for orig := GateThreshold; orig <= 10; orig++ {
		for got := 1; got <= 10; got++ {
			m := &stubModel{text: `{"improved_text": "Edited.", "editor_scores": {"overall": ` + itoa(got) + `}}`}
			c := draft(orig)
			New(m, Options{}).Review(context.Background(), Input{Content: c})
			assert.GreaterOrEqual(t, c.Scores.Overall, orig, "orig=%d editor=%d", orig, got)
		}
	}
}

func itoa(n int) string {
	if n == 10 {
		return "10"
	}
	return string(rune('0' + n))
}

func TestReview_FailuresAreSwallowed(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)

	cases := map[string]*stubModel{
		"call error":  {err: errors.New("provider down")},
		"unparseable": {text: "I think it is great as is."},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			c := draft(9)
			r := New(m, Options{Logger: zap.New(core)}).Review(context.Background(), Input{Content: c})
			assert.Equal(t, StatusFailed, r.Status)
			assert.Error(t, r.Err)
			assert.Equal(t, "Original draft text.", c.Text)
			assert.Equal(t, 9, c.Scores.Overall)
			assert.Nil(t, c.EditorReview)
		})
	}
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "Editor", logs.All()[0].ContextMap()["component"])
}

func TestBuildPrompt_Rules(t *testing.T) {
	c := draft(8)
	generic := BuildPrompt(Input{Content: c, Platform: models.LookupPlatform("x")})
	assert.Contains(t, generic, GenericChecklist)
	assert.Contains(t, generic, "x: at most 280 characters")
	assert.Contains(t, generic, "Original draft text.")

	withRules := BuildPrompt(Input{
		Content: c,
		Templates: []models.PromptTemplate{
			{Name: "g", Category: prompt.CategoryGuardrail, Content: "Never promise returns.", Active: true},
			{Name: "i", Category: prompt.CategoryIdentity, Content: "You are a bot.", Active: true},
		},
		Knowledge: []models.KnowledgeBaseEntry{{Title: "Founded", Content: "Founded in 2019."}},
		Feedback:  []models.FeedbackRecord{{OriginalText: "too long", EditedText: "short"}},
	})
	assert.NotContains(t, withRules, GenericChecklist)
	assert.Contains(t, withRules, "Never promise returns.")
	assert.NotContains(t, withRules, "You are a bot.")
	assert.Contains(t, withRules, "Founded in 2019.")
	assert.True(t, strings.Contains(withRules, "short"))
}

func TestParseResponse(t *testing.T) {
	r, err := ParseResponse("```json\n{\"improved_text\": \"A\\nB\", \"editor_scores\": {\"overall\": 12}}\n```")
	require.NoError(t, err)
	assert.Equal(t, "A\nB", r.ImprovedText)
	assert.Equal(t, 10, r.Scores.Overall)
	assert.Equal(t, models.NeutralScore, r.Scores.Creativity)

	r, err = ParseResponse(`{"improved_text": "Fixed \"quote\"", "editor_scores": {"overall": 8},`)
	require.NoError(t, err)
	assert.Equal(t, `Fixed "quote"`, r.ImprovedText)
	assert.Equal(t, 8, r.Scores.Overall)

	_, err = ParseResponse(`{"editor_scores": {"overall": 8}}`)
	assert.Error(t, err)
}

func TestParseResponse_LenientScores(t *testing.T) {
	r, err := ParseResponse(`{"improved_text": "Better.", "editor_scores": {"creativity": "7", "tone_match": 6.4, "hallucination_risk": 9, "value_score": 8, "overall": 8.5}, "changes": ["cut filler"], "guardrail_violations": ["hype"]}`)
	require.NoError(t, err)
	assert.Equal(t, models.Scores{Creativity: 7, ToneMatch: 6, HallucinationRisk: 9, ValueScore: 8, Overall: 9}, r.Scores)
	assert.Equal(t, []string{"cut filler"}, r.Changes)
	assert.Equal(t, []string{"hype"}, r.GuardrailViolations)
}

func TestParseResponse_FallbackOverall(t *testing.T) {
	r, err := ParseResponse(`{"improved_text": "Better.", "editor_scores": {"overall": "9"`)
	require.NoError(t, err)
	assert.Equal(t, 9, r.Scores.Overall)

	// An overall too large for an int is ignored rather than misread.
	r, err = ParseResponse(`{"improved_text": "Better.", "editor_scores": {"overall": 99999999999999999999`)
	require.NoError(t, err)
	assert.Equal(t, models.NeutralScore, r.Scores.Overall)
}
