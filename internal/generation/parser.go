package generation

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/jordanhubbard/contentloom/pkg/models"
)

// Parse tiers, recorded in the trace.
const (
	TierStrict = "strict"
	TierRegex  = "regex"
	TierRaw    = "raw"
)

// ParseError is returned by a single strategy. The parser chain never
// surfaces it: the next strategy is tried instead.
type ParseError struct {
	Tier   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s parse failed: %s", e.Tier, e.Reason)
}

// Parsed is a structured model answer.
type Parsed struct {
	Text        string
	ImagePrompt string
	AltText     string
	Scores      models.Scores
	Tier        string
}

// Strategy turns a raw model response into a Parsed result.
type Strategy interface {
	Name() string
	Parse(raw string) (*Parsed, error)
}

// Parser tries strategies in order; the first success wins.
type Parser struct {
	strategies []Strategy
}

// NewParser builds a parser. With no strategies the default three-tier chain is used.
func NewParser(strategies ...Strategy) *Parser {
	if len(strategies) == 0 {
		strategies = []Strategy{StrictJSON{}, RegexExtract{}, RawFallback{}}
	}
	return &Parser{strategies: strategies}
}

// Parse returns the first successful strategy result, or ok=false when
// every strategy failed (only possible for empty input with the default chain).
func (p *Parser) Parse(raw string) (*Parsed, bool) {
	for _, s := range p.strategies {
		out, err := s.Parse(raw)
		if err == nil && out != nil {
			out.Tier = s.Name()
			out.Scores = out.Scores.Clamped()
			return out, true
		}
	}
	return nil, false
}

var fenceRe = regexp.MustCompile("(?s)^```[a-zA-Z0-9_-]*\\s*\\n?(.*?)\\n?```\\s*$")

// stripFences removes a leading/trailing markdown code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// StrictJSON parses the outermost brace-delimited object.
type StrictJSON struct{}

func (StrictJSON) Name() string { return TierStrict }

func (StrictJSON) Parse(raw string) (*Parsed, error) {
	s := stripFences(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, &ParseError{Tier: TierStrict, Reason: "no JSON object"}
	}

	var wire struct {
		Text        json.RawMessage `json:"text"`
		ImagePrompt string          `json:"image_prompt"`
		AltText     string          `json:"alt_text"`
		Scores      map[string]any  `json:"scores"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &wire); err != nil {
		return nil, &ParseError{Tier: TierStrict, Reason: err.Error()}
	}

	var text string
	if len(wire.Text) == 0 || wire.Text[0] != '"' {
		return nil, &ParseError{Tier: TierStrict, Reason: "text is not a string"}
	}
	if err := json.Unmarshal(wire.Text, &text); err != nil {
		return nil, &ParseError{Tier: TierStrict, Reason: err.Error()}
	}
	if leaked(text) {
		return nil, &ParseError{Tier: TierStrict, Reason: "nested JSON in text"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Tier: TierStrict, Reason: "empty text"}
	}

	return &Parsed{
		Text:        text,
		ImagePrompt: wire.ImagePrompt,
		AltText:     wire.AltText,
		Scores:      ScoresFromMap(wire.Scores),
	}, nil
}

// leaked reports whether the text field itself holds a JSON document.
func leaked(text string) bool {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "{") && !strings.HasPrefix(t, "[") {
		return false
	}
	return json.Valid([]byte(t))
}

// ScoresFromMap reads the five score fields from a decoded JSON object.
// Numbers may arrive as floats or numeric strings; missing fields are zero.
func ScoresFromMap(m map[string]any) models.Scores {
	return models.Scores{
		Creativity:        scoreValue(m["creativity"]),
		ToneMatch:         scoreValue(m["tone_match"]),
		HallucinationRisk: scoreValue(m["hallucination_risk"]),
		ValueScore:        scoreValue(m["value_score"]),
		Overall:           scoreValue(m["overall"]),
	}
}

func scoreValue(v any) int {
	switch n := v.(type) {
	case float64:
		return int(math.Round(n))
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return int(math.Round(f))
		}
	}
	return 0
}

// RegexExtract pulls string fields and score numbers out of broken JSON.
type RegexExtract struct{}

func (RegexExtract) Name() string { return TierRegex }

var (
	scoreFields = []string{"creativity", "tone_match", "hallucination_risk", "value_score", "overall"}
	scoreRes    = func() map[string]*regexp.Regexp {
		m := make(map[string]*regexp.Regexp, len(scoreFields))
		for _, f := range scoreFields {
			m[f] = regexp.MustCompile(`"` + f + `"\s*:\s*"?(-?\d+(?:\.\d+)?)`)
		}
		return m
	}()
	unescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\"`, `"`, `\t`, "\t", `\r`, "", `\/`, "/")
)

func stringField(name string) (closed, open *regexp.Regexp) {
	closed = regexp.MustCompile(`"` + name + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	open = regexp.MustCompile(`(?s)"` + name + `"\s*:\s*"((?:[^"\\]|\\.)*)\\?$`)
	return closed, open
}

var (
	textClosed, textOpen     = stringField("text")
	promptClosed, promptOpen = stringField("image_prompt")
	altClosed, altOpen       = stringField("alt_text")
)

func extract(s string, closed, open *regexp.Regexp) (string, bool) {
	if m := closed.FindStringSubmatch(s); m != nil {
		return unescaper.Replace(m[1]), true
	}
	if m := open.FindStringSubmatch(s); m != nil {
		return unescaper.Replace(m[1]), true
	}
	return "", false
}

func (RegexExtract) Parse(raw string) (*Parsed, error) {
	s := stripFences(raw)
	text, ok := extract(s, textClosed, textOpen)
	if !ok || strings.TrimSpace(text) == "" {
		return nil, &ParseError{Tier: TierRegex, Reason: "text field not found"}
	}
	out := &Parsed{Text: strings.TrimSpace(text)}
	out.ImagePrompt, _ = extract(s, promptClosed, promptOpen)
	out.AltText, _ = extract(s, altClosed, altOpen)

	vals := map[string]any{}
	for _, f := range scoreFields {
		if m := scoreRes[f].FindStringSubmatch(s); m != nil {
			vals[f] = m[1]
		}
	}
	out.Scores = ScoresFromMap(vals)
	return out, nil
}

// RawFallback uses the whole response as text with JSON residue removed.
type RawFallback struct{}

func (RawFallback) Name() string { return TierRaw }

var (
	jsonKeyRe   = regexp.MustCompile(`"?\b(?:text|image_prompt|alt_text|scores|creativity|tone_match|hallucination_risk|value_score|overall)"?\s*:\s*(?:-?\d+(?:\.\d+)?\s*,?)?`)
	jsonPunctRe = regexp.MustCompile(`[{}\[\]"]`)
	danglingRe  = regexp.MustCompile(`(?m)^[ \t,:]+|[ \t,:]+$`)
)

func (RawFallback) Parse(raw string) (*Parsed, error) {
	s := stripFences(raw)
	s = jsonKeyRe.ReplaceAllString(s, "")
	s = jsonPunctRe.ReplaceAllString(s, "")
	s = unescaper.Replace(s)
	s = danglingRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &ParseError{Tier: TierRaw, Reason: "empty response"}
	}
	return &Parsed{Text: s, Scores: models.DefaultScores()}, nil
}
