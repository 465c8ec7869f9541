// Package editor runs the self-correction pass: a stricter second model call
// that critiques a draft and may replace it.
package editor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/internal/generation"
	"github.com/jordanhubbard/contentloom/internal/prompt"
	"github.com/jordanhubbard/contentloom/internal/provider"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

const (
	// GateThreshold is the minimum draft overall score that earns an editor pass.
	GateThreshold = 7
	// DefaultTemperature is lower than the draft temperature.
	DefaultTemperature = 0.3
)

// Status is the outcome of a Review.
type Status string

const (
	StatusSkipped  Status = "skipped"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// GenericChecklist is used when a project defines no editor-relevant templates.
const GenericChecklist = `1. Every claim is supported by the provided facts; remove anything that is not.
2. The hook in the first line is specific and earns attention.
3. The tone matches the brand voice exactly.
4. The post stays within the platform character limit.
5. There is one clear takeaway or call to action, and no filler.`

// Input is what the editor reviews.
type Input struct {
	Content   *models.GeneratedContent
	Project   *models.ProjectConfig
	Platform  models.PlatformSpec
	Templates []models.PromptTemplate
	Knowledge []models.KnowledgeBaseEntry
	Feedback  []models.FeedbackRecord
}

// Result distinguishes skipped, adopted, kept-original and failed passes.
type Result struct {
	Status  Status
	Reason  string
	Review  *models.EditorReview
	Err     error
	Usage   provider.Completion
	Latency time.Duration
}

// Options configure an Editor.
type Options struct {
	Model       string
	Temperature float64
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Editor runs the self-correction pass.
type Editor struct {
	model  provider.Generator
	opts   Options
	logger *zap.Logger
}

// New creates an editor over a text provider.
func New(model provider.Generator, opts Options) *Editor {
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Editor{model: model, opts: opts, logger: logger.With(zap.String("component", "Editor"))}
}

// ShouldReview reports whether a draft clears the quality gate.
func ShouldReview(s models.Scores) bool {
	return s.Overall >= GateThreshold
}

// Review critiques in.Content and replaces its text and scores only when the
// editor's overall score is at least the draft's. It never returns an error:
// failures come back as StatusFailed with the content untouched.
func (e *Editor) Review(ctx context.Context, in Input) Result {
	if in.Content == nil {
		return Result{Status: StatusSkipped, Reason: "no content"}
	}
	original := in.Content.Scores.Overall
	if !ShouldReview(in.Content.Scores) {
		return Result{
			Status: StatusSkipped,
			Reason: fmt.Sprintf("draft overall %d below gate %d", original, GateThreshold),
		}
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := e.model.Generate(ctx, provider.GenerateRequest{
		Model:       e.opts.Model,
		Prompt:      BuildPrompt(in),
		Temperature: e.opts.Temperature,
	})
	latency := time.Since(start)
	if err != nil {
		return e.fail(fmt.Errorf("editor call failed: %w", err), latency, nil)
	}

	parsed, err := ParseResponse(resp.Text)
	if err != nil {
		return e.fail(err, latency, resp)
	}

	improved := generation.Sanitize(parsed.ImprovedText)
	review := &models.EditorReview{
		Changes:             parsed.Changes,
		GuardrailViolations: parsed.GuardrailViolations,
		OriginalScore:       original,
		EditorScore:         parsed.Scores.Overall,
	}
	result := Result{Review: review, Usage: *resp, Latency: latency}

	switch {
	case improved == "":
		review.Reason = "editor returned empty text"
		result.Status = StatusRejected
	case parsed.Scores.Overall < original:
		review.Reason = fmt.Sprintf("editor score %d below original %d", parsed.Scores.Overall, original)
		result.Status = StatusRejected
	default:
		review.Accepted = true
		review.Reason = fmt.Sprintf("editor score %d >= original %d", parsed.Scores.Overall, original)
		result.Status = StatusAccepted
		in.Content.ApplyRevision(improved, parsed.Scores)
	}
	result.Reason = review.Reason
	in.Content.EditorReview = review

	e.logger.Info("editor pass finished",
		zap.String("status", string(result.Status)),
		zap.Int("original", original),
		zap.Int("editor", parsed.Scores.Overall),
		zap.Int("changes", len(parsed.Changes)))
	return result
}

func (e *Editor) fail(err error, latency time.Duration, resp *provider.Completion) Result {
	e.logger.Warn("editor pass failed; keeping original draft", zap.Error(err))
	r := Result{Status: StatusFailed, Reason: err.Error(), Err: err, Latency: latency}
	if resp != nil {
		r.Usage = *resp
	}
	return r
}

// BuildPrompt assembles the critique prompt.
func BuildPrompt(in Input) string {
	var sb strings.Builder
	sb.WriteString("You are a strict senior editor. Critique the draft below against the rules, then rewrite it so it scores higher.\n\n")

	rules := prompt.Filter(in.Templates,
		prompt.CategoryGuardrail, prompt.CategoryQualityCriteria, prompt.CategoryEditorRules, prompt.CategoryExamples)
	sb.WriteString("# RULES\n")
	if len(rules) == 0 {
		sb.WriteString(GenericChecklist + "\n")
	} else {
		for _, t := range rules {
			fmt.Fprintf(&sb, "[%s] %s\n", t.Category, strings.TrimSpace(t.Content))
		}
	}

	if in.Project != nil {
		c := in.Project.Constraints
		if len(c.ForbiddenTopics) > 0 {
			sb.WriteString("Forbidden topics: " + strings.Join(c.ForbiddenTopics, ", ") + "\n")
		}
		if len(c.MandatoryTerms) > 0 {
			sb.WriteString("Mandatory terms: " + strings.Join(c.MandatoryTerms, ", ") + "\n")
		}
		if in.Project.Tone != "" {
			sb.WriteString("Brand tone: " + in.Project.Tone + "\n")
		}
	}

	if in.Platform.Name != "" {
		fmt.Fprintf(&sb, "\n# PLATFORM\n%s: at most %d characters. The draft is %d characters.\n",
			in.Platform.Name, in.Platform.CharLimit, len([]rune(in.Content.Text)))
	}

	if kb, _ := prompt.KnowledgeBlock(in.Knowledge); kb != "" {
		sb.WriteString("\n" + kb + "Flag and remove any claim in the draft that these facts do not support.\n")
	}
	if fb, _ := prompt.FeedbackBlock(in.Feedback); fb != "" {
		sb.WriteString("\n" + fb)
	}

	s := in.Content.Scores
	fmt.Fprintf(&sb, "\n# DRAFT (self-scored overall %d)\n%s\n", s.Overall, in.Content.Text)

	sb.WriteString(`
Respond with a single JSON object and nothing else:
{
  "improved_text": "the rewritten post",
  "editor_scores": {"creativity": 1-10, "tone_match": 1-10, "hallucination_risk": 1-10, "value_score": 1-10, "overall": 1-10},
  "changes": ["each change you made"],
  "guardrail_violations": ["any rule the draft broke"]
}
Score the improved text honestly. If the draft cannot be improved, return it unchanged with its score.`)
	return sb.String()
}

// Response is the parsed editor answer.
type Response struct {
	ImprovedText        string
	Scores              models.Scores
	Changes             []string
	GuardrailViolations []string
}

var (
	improvedRe = regexp.MustCompile(`(?s)"improved_text"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	overallRe  = regexp.MustCompile(`"overall"\s*:\s*"?(\d+)`)
)

// ParseResponse decodes the editor JSON, falling back to field extraction
// when the object is malformed. A missing improved_text is an error.
func ParseResponse(raw string) (*Response, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		var wire struct {
			ImprovedText        string         `json:"improved_text"`
			EditorScores        map[string]any `json:"editor_scores"`
			Changes             []string       `json:"changes"`
			GuardrailViolations []string       `json:"guardrail_violations"`
		}
		if err := json.Unmarshal([]byte(s[start:end+1]), &wire); err == nil && strings.TrimSpace(wire.ImprovedText) != "" {
			return &Response{
				ImprovedText:        wire.ImprovedText,
				Scores:              generation.ScoresFromMap(wire.EditorScores).Clamped(),
				Changes:             wire.Changes,
				GuardrailViolations: wire.GuardrailViolations,
			}, nil
		}
	}

	m := improvedRe.FindStringSubmatch(s)
	if m == nil {
		return nil, errors.New("editor response has no improved_text")
	}
	var text string
	if err := json.Unmarshal([]byte(`"`+m[1]+`"`), &text); err != nil {
		text = m[1]
	}
	out := &Response{ImprovedText: text, Scores: models.DefaultScores()}
	if om := overallRe.FindStringSubmatch(s); om != nil {
		if n, err := strconv.Atoi(om[1]); err == nil {
			out.Scores.Overall = n
			out.Scores = out.Scores.Clamped()
		}
	}
	return out, nil
}
