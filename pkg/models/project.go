package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ProjectConfig is the per-project brand configuration that drives generation.
type ProjectConfig struct {
	ID              string         `json:"id" yaml:"id"`
	Name            string         `json:"name" yaml:"name"`
	Tone            string         `json:"tone" yaml:"tone"`
	Energy          string         `json:"energy" yaml:"energy"`
	Style           string         `json:"style" yaml:"style"`
	Language        string         `json:"language,omitempty" yaml:"language,omitempty"`
	Constraints     Constraints    `json:"constraints" yaml:"constraints"`
	SemanticAnchors []string       `json:"semantic_anchors" yaml:"semantic_anchors"`
	StyleRules      StyleRules     `json:"style_rules" yaml:"style_rules"`
	ContentMix      Mix            `json:"content_mix" yaml:"content_mix"`
	PlatformMix     map[string]Mix `json:"platform_mix,omitempty" yaml:"platform_mix,omitempty"`
	Visual          VisualIdentity `json:"visual_identity" yaml:"visual_identity"`
	Timezone        string         `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Constraints are hard content rules. MaxHashtags of 0 means hashtags are stripped entirely.
type Constraints struct {
	ForbiddenTopics []string `json:"forbidden_topics" yaml:"forbidden_topics"`
	MandatoryTerms  []string `json:"mandatory_terms" yaml:"mandatory_terms"`
	MaxHashtags     int      `json:"max_hashtags" yaml:"max_hashtags"`
}

// StyleRules holds the known style knobs. Unknown keys land in Extra so
// newer configuration survives a round trip through older binaries.
type StyleRules struct {
	MaxSentences int            `json:"max_sentences,omitempty" yaml:"max_sentences,omitempty"`
	EmojiAllowed *bool          `json:"emoji_allowed,omitempty" yaml:"emoji_allowed,omitempty"`
	UseQuestions *bool          `json:"use_questions,omitempty" yaml:"use_questions,omitempty"`
	ReadingLevel string         `json:"reading_level,omitempty" yaml:"reading_level,omitempty"`
	ParagraphMax int            `json:"paragraph_max,omitempty" yaml:"paragraph_max,omitempty"`
	Extra        map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// VisualIdentity is the brand look used by the visual engine.
type VisualIdentity struct {
	PrimaryColor   string            `json:"primary_color,omitempty" yaml:"primary_color,omitempty"`
	SecondaryColor string            `json:"secondary_color,omitempty" yaml:"secondary_color,omitempty"`
	FontFamily     string            `json:"font_family,omitempty" yaml:"font_family,omitempty"`
	LogoURL        string            `json:"logo_url,omitempty" yaml:"logo_url,omitempty"`
	CardBackground string            `json:"card_background,omitempty" yaml:"card_background,omitempty"`
	CardTemplate   string            `json:"card_template,omitempty" yaml:"card_template,omitempty"`
	Photography    PhotographyPreset `json:"photography" yaml:"photography"`
}

// PhotographyPreset brands AI-generated photos.
type PhotographyPreset struct {
	Style          string   `json:"style,omitempty" yaml:"style,omitempty"`
	Mood           string   `json:"mood,omitempty" yaml:"mood,omitempty"`
	Lighting       string   `json:"lighting,omitempty" yaml:"lighting,omitempty"`
	ColorGrade     string   `json:"color_grade,omitempty" yaml:"color_grade,omitempty"` // warm, cool, neutral, muted, vivid
	Subjects       []string `json:"subjects,omitempty" yaml:"subjects,omitempty"`
	NegativePrompt []string `json:"negative_prompt,omitempty" yaml:"negative_prompt,omitempty"`
	Sharpen        float64  `json:"sharpen,omitempty" yaml:"sharpen,omitempty"` // 0..1
	Grain          float64  `json:"grain,omitempty" yaml:"grain,omitempty"`     // 0..1
	Denoise        bool     `json:"denoise,omitempty" yaml:"denoise,omitempty"`
	LogoOverlay    bool     `json:"logo_overlay,omitempty" yaml:"logo_overlay,omitempty"`
	TextOverlay    bool     `json:"text_overlay,omitempty" yaml:"text_overlay,omitempty"`
}

// MixEntry is one content type and its weekly target frequency.
type MixEntry struct {
	Type   string  `json:"type" yaml:"type"`
	Target float64 `json:"target" yaml:"target"`
}

// Mix is an ordered content mix. Order is the definition order from the
// configuration source and is used to break deficit ties.
type Mix []MixEntry

// Get returns the target for a type.
func (m Mix) Get(contentType string) (float64, bool) {
	for _, e := range m {
		if e.Type == contentType {
			return e.Target, true
		}
	}
	return 0, false
}

// Normalized clamps negative or non-finite targets to zero and drops
// duplicate or empty types (first definition wins). The second return
// value reports whether anything had to be fixed.
func (m Mix) Normalized() (Mix, bool) {
	out := make(Mix, 0, len(m))
	seen := make(map[string]bool, len(m))
	fixed := false
	for _, e := range m {
		if e.Type == "" || seen[e.Type] {
			fixed = true
			continue
		}
		seen[e.Type] = true
		if e.Target < 0 || math.IsNaN(e.Target) || math.IsInf(e.Target, 0) {
			e.Target = 0
			fixed = true
		}
		out = append(out, e)
	}
	return out, fixed
}

// UnmarshalJSON accepts either {"educational": 4, "soft_sell": 1} (order
// preserved) or [{"type": "educational", "target": 4}].
func (m *Mix) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*m = nil
		return nil
	}
	if trimmed[0] == '[' {
		var entries []MixEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return err
		}
		*m = entries
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("content mix must be an object or array")
	}
	var out Mix
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("content mix key must be a string")
		}
		var num json.Number
		if err := dec.Decode(&num); err != nil {
			return fmt.Errorf("content mix %q: %w", key, err)
		}
		f, err := num.Float64()
		if err != nil {
			return fmt.Errorf("content mix %q: %w", key, err)
		}
		out = append(out, MixEntry{Type: key, Target: f})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*m = out
	return nil
}

// MarshalJSON writes the mix as an object in definition order.
func (m Mix) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Type)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(e.Target, 'f', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML keeps mapping order, and also accepts a sequence of entries.
func (m *Mix) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var entries []MixEntry
		if err := value.Decode(&entries); err != nil {
			return err
		}
		*m = entries
		return nil
	case yaml.MappingNode:
		out := make(Mix, 0, len(value.Content)/2)
		for i := 0; i+1 < len(value.Content); i += 2 {
			var target float64
			if err := value.Content[i+1].Decode(&target); err != nil {
				return fmt.Errorf("content mix %q: %w", value.Content[i].Value, err)
			}
			out = append(out, MixEntry{Type: value.Content[i].Value, Target: target})
		}
		*m = out
		return nil
	default:
		return fmt.Errorf("content mix must be a mapping or sequence")
	}
}

// KnowledgeBaseEntry is a curated fact used to ground generation.
type KnowledgeBaseEntry struct {
	Category string `json:"category"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

// PromptTemplate is a project-scoped or global (ProjectID == "") instruction block.
type PromptTemplate struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	Category  string `json:"category"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	Priority  int    `json:"priority"`
	Active    bool   `json:"active"`
}

// IsGlobal reports whether the template applies to every project.
func (t PromptTemplate) IsGlobal() bool {
	return t.ProjectID == ""
}

// FeedbackRecord is a human correction of a previously generated post.
type FeedbackRecord struct {
	OriginalText string `json:"original_text"`
	EditedText   string `json:"edited_text"`
	FeedbackNote string `json:"feedback_note,omitempty"`
}
