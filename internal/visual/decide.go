package visual

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jordanhubbard/contentloom/internal/provider"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

// DecisionTemperature keeps the visual choice close to deterministic.
const DecisionTemperature = 0.2

// Decision is the single path chosen for a post.
type Decision struct {
	VisualType  models.VisualType `json:"visual_type"`
	Template    string            `json:"template,omitempty"`
	AspectRatio string            `json:"aspect_ratio,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Chart       *models.ChartSpec `json:"chart,omitempty"`
	Card        *models.CardSpec  `json:"card,omitempty"`
	// Requested is what the model asked for before platform rules applied.
	Requested models.VisualType `json:"requested,omitempty"`
	// Fallback is set when the model call or its answer was unusable.
	Fallback bool `json:"fallback,omitempty"`
}

// Input is one post to illustrate.
type Input struct {
	Project     *models.ProjectConfig
	Platform    models.PlatformSpec
	Text        string
	ImagePrompt string
	AltText     string
	ForcePhoto  bool
}

func (in Input) projectID() string {
	if in.Project == nil {
		return ""
	}
	return in.Project.ID
}

// decide asks the model for a visual type, then applies the platform rules.
func (x *execution) decide(ctx context.Context) Decision {
	in := x.in
	if in.ForcePhoto {
		return ApplyPlatformRules(Decision{VisualType: models.VisualPhoto, Reason: "photo forced by request"}, in)
	}

	d, err := x.askModel(ctx)
	if err != nil {
		x.e.logger.Warn("visual decision failed; using platform default",
			zap.String("platform", in.Platform.Name), zap.Error(err))
		d = Decision{Fallback: true, Reason: "decision unavailable: " + err.Error()}
		if in.Platform.AllowsTextOnly {
			d.VisualType = models.VisualNone
		} else {
			d.VisualType = models.VisualPhoto
		}
	}
	return ApplyPlatformRules(d, in)
}

// ApplyPlatformRules enforces what a platform accepts. none survives only
// on text-only platforms, and a chart needs data to plot.
func ApplyPlatformRules(d Decision, in Input) Decision {
	if d.Requested == "" {
		d.Requested = d.VisualType
	}
	if d.VisualType == models.VisualNone && !in.Platform.AllowsTextOnly {
		d.VisualType = models.VisualPhoto
		d.Reason = fmt.Sprintf("%s requires media; none overridden to photo", in.Platform.Name)
	}
	if d.VisualType == models.VisualChart && d.Chart.Empty() {
		d.VisualType = models.VisualCard
		d.Reason = "chart requested without data; using card"
	}
	if d.VisualType == models.VisualCard && (d.Card == nil || strings.TrimSpace(d.Card.Hook) == "") {
		d.Card = CardFromText(in.Text)
	}
	if d.AspectRatio == "" {
		d.AspectRatio = in.Platform.AspectRatio
	}
	return d
}

func (x *execution) askModel(ctx context.Context) (Decision, error) {
	if x.e.deps.Decider == nil {
		return Decision{}, fmt.Errorf("no decision model configured")
	}
	ctx, cancel := x.e.callContext(ctx)
	defer cancel()

	resp, err := x.e.deps.Decider.Generate(ctx, provider.GenerateRequest{
		Model:       x.e.opts.DecisionModel,
		Prompt:      DecisionPrompt(x.in),
		Temperature: DecisionTemperature,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("decision call failed: %w", err)
	}
	x.addUsage(resp)
	return ParseDecision(resp.Text)
}

// ParseDecision reads the model's JSON answer.
func ParseDecision(raw string) (Decision, error) {
	start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Decision{}, fmt.Errorf("decision response has no JSON object")
	}
	var wire struct {
		VisualType  string            `json:"visual_type"`
		Template    string            `json:"template"`
		AspectRatio string            `json:"aspect_ratio"`
		Reason      string            `json:"reason"`
		Chart       *models.ChartSpec `json:"chart"`
		Card        *models.CardSpec  `json:"card"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &wire); err != nil {
		return Decision{}, fmt.Errorf("failed to decode decision: %w", err)
	}
	vt, ok := models.ParseVisualType(wire.VisualType)
	if !ok {
		return Decision{}, fmt.Errorf("unknown visual type %q", wire.VisualType)
	}
	return Decision{
		VisualType:  vt,
		Requested:   vt,
		Template:    wire.Template,
		AspectRatio: wire.AspectRatio,
		Reason:      wire.Reason,
		Chart:       wire.Chart,
		Card:        wire.Card,
	}, nil
}

// DecisionPrompt asks for one of chart, card, photo or none.
func DecisionPrompt(in Input) string {
	var sb strings.Builder
	sb.WriteString("You are the art director for a brand's social feed. Pick the single best visual for this post.\n\n")
	if p := in.Project; p != nil {
		fmt.Fprintf(&sb, "Brand: %s\n", p.Name)
		if p.Tone != "" {
			fmt.Fprintf(&sb, "Tone: %s\n", p.Tone)
		}
		v := p.Visual
		if v.PrimaryColor != "" {
			fmt.Fprintf(&sb, "Brand colors: %s %s\n", v.PrimaryColor, v.SecondaryColor)
		}
		if v.Photography.Style != "" {
			fmt.Fprintf(&sb, "Photography style: %s\n", v.Photography.Style)
		}
	}
	fmt.Fprintf(&sb, "Platform: %s (aspect %s)\n", in.Platform.Name, in.Platform.AspectRatio)
	if in.Platform.AllowsTextOnly {
		sb.WriteString("Text-only posts are allowed on this platform.\n")
	} else {
		sb.WriteString("This platform requires an image; do not answer none.\n")
	}

	sb.WriteString("\n# POST\n" + in.Text + "\n")
	if in.ImagePrompt != "" {
		sb.WriteString("\nSuggested image: " + in.ImagePrompt + "\n")
	}

	sb.WriteString(`
Options:
- chart: the post is built around numbers; supply the data.
- card: a short quote, tip or hook that reads well as text on a branded background.
- photo: an evocative image carries the message.
- none: the text stands alone.

Respond with a single JSON object:
{"visual_type": "chart|card|photo|none", "template": "", "aspect_ratio": "", "reason": "one sentence",
 "chart": {"title": "", "chart_type": "bar|line|pie", "labels": [], "series": [{"name": "", "values": []}]},
 "card": {"hook": "", "body": "", "subtitle": ""}}
Only include chart or card when you choose them.`)
	return sb.String()
}

// CardFromText derives card copy from the post: first sentence as hook,
// the next one as body.
func CardFromText(text string) *models.CardSpec {
	sentences := splitSentences(text)
	card := &models.CardSpec{}
	if len(sentences) > 0 {
		card.Hook = truncate(sentences[0], 90)
	}
	if len(sentences) > 1 {
		card.Body = truncate(sentences[1], 160)
	}
	return card
}

func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range strings.TrimSpace(text) {
		if r == '\n' {
			r = ' '
		}
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-1])) + "…"
}
