// Package prompt compiles project configuration and knowledge into a single
// generation instruction.
package prompt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jordanhubbard/contentloom/internal/balancer"
	"github.com/jordanhubbard/contentloom/pkg/models"
)

const (
	// MaxRecentPosts bounds the dedup block.
	MaxRecentPosts = 10
	// RecentPostRunes is the per-post truncation in the dedup block.
	RecentPostRunes = 200
	// MaxFeedback bounds the feedback-learning block.
	MaxFeedback = 5
)

// OutputContract is appended to every generation prompt.
const OutputContract = `Respond with a single JSON object and nothing else:
{
  "text": "the post text",
  "image_prompt": "optional description of an accompanying image",
  "alt_text": "optional alt text for that image",
  "scores": {
    "creativity": 1-10,
    "tone_match": 1-10,
    "hallucination_risk": 1-10,
    "value_score": 1-10,
    "overall": 1-10
  }
}
All five scores are integers from 1 to 10. Do not wrap the JSON in markdown.`

// Input is everything the assembler reads. All fields except Project are optional.
type Input struct {
	Project         *models.ProjectConfig
	Platform        models.PlatformSpec
	ContentType     string
	Mix             *models.MixStatus
	Templates       []models.PromptTemplate // project scoped
	GlobalTemplates []models.PromptTemplate
	Knowledge       []models.KnowledgeBaseEntry
	PatternTemplate string
	News            *models.NewsItem
	RecentPosts     []string
	Feedback        []models.FeedbackRecord
}

// Assembly is the compiled prompt plus what went into it, for the trace.
type Assembly struct {
	Prompt        string
	TemplatesUsed []string
	KnowledgeUsed []string
	RecentPosts   int
	FeedbackUsed  int
}

// Assemble builds the generation prompt. It is pure and deterministic.
func Assemble(in Input) Assembly {
	project := in.Project
	if project == nil {
		project = &models.ProjectConfig{}
	}

	var a Assembly
	var sections []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			sections = append(sections, s)
		}
	}

	role, names := roleTemplates(in.Templates, in.GlobalTemplates)
	a.TemplatesUsed = names
	add(strings.Join(role, "\n\n"))

	add(contentTypeBlock(in))
	add(voiceBlock(project))
	add(styleRulesBlock(project.StyleRules))
	add(constraintsBlock(project.Constraints, in.Platform))
	add(anchorsBlock(project.SemanticAnchors))

	kb, used := KnowledgeBlock(in.Knowledge)
	a.KnowledgeUsed = used
	add(kb)

	if p := strings.TrimSpace(in.PatternTemplate); p != "" {
		add("# STRUCTURE\nFollow this structural pattern for the post:\n" + p)
	}
	add(newsBlock(in.News))

	dedup, n := dedupBlock(in.RecentPosts)
	a.RecentPosts = n
	add(dedup)

	fb, m := FeedbackBlock(in.Feedback)
	a.FeedbackUsed = m
	add(fb)

	add(OutputContract)
	a.Prompt = strings.Join(sections, "\n\n")
	return a
}

func contentTypeBlock(in Input) string {
	var sb strings.Builder
	if in.Mix != nil && in.Mix.ChosenType != "" {
		sb.WriteString("# CONTENT TYPE\n")
		sb.WriteString(balancer.Annotation(*in.Mix))
	} else if in.ContentType != "" {
		fmt.Fprintf(&sb, "# CONTENT TYPE\nContent type for this post: %s\n", in.ContentType)
	}
	if in.Platform.Name != "" {
		if sb.Len() == 0 {
			sb.WriteString("# PLATFORM\n")
		}
		fmt.Fprintf(&sb, "Platform: %s. Hard limit: %d characters.\n", in.Platform.Name, in.Platform.CharLimit)
	}
	return sb.String()
}

func voiceBlock(p *models.ProjectConfig) string {
	var lines []string
	if p.Tone != "" {
		lines = append(lines, "Tone: "+p.Tone)
	}
	if p.Energy != "" {
		lines = append(lines, "Energy: "+p.Energy)
	}
	if p.Style != "" {
		lines = append(lines, "Style: "+p.Style)
	}
	if p.Language != "" {
		lines = append(lines, "Language: "+p.Language)
	}
	if len(lines) == 0 {
		return ""
	}
	return "# VOICE\n" + strings.Join(lines, "\n")
}

func styleRulesBlock(r models.StyleRules) string {
	kv := map[string]string{}
	if r.MaxSentences > 0 {
		kv["max_sentences"] = strconv.Itoa(r.MaxSentences)
	}
	if r.EmojiAllowed != nil {
		kv["emoji_allowed"] = strconv.FormatBool(*r.EmojiAllowed)
	}
	if r.UseQuestions != nil {
		kv["use_questions"] = strconv.FormatBool(*r.UseQuestions)
	}
	if r.ReadingLevel != "" {
		kv["reading_level"] = r.ReadingLevel
	}
	if r.ParagraphMax > 0 {
		kv["paragraph_max"] = strconv.Itoa(r.ParagraphMax)
	}
	for k, v := range r.Extra {
		if _, known := kv[k]; !known {
			kv[k] = fmt.Sprint(v)
		}
	}
	if len(kv) == 0 {
		return ""
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("# STYLE RULES\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "- %s: %s\n", k, kv[k])
	}
	return sb.String()
}

func constraintsBlock(c models.Constraints, platform models.PlatformSpec) string {
	var sb strings.Builder
	if len(c.ForbiddenTopics) > 0 {
		sb.WriteString("Never mention or allude to: " + strings.Join(c.ForbiddenTopics, ", ") + "\n")
	}
	if len(c.MandatoryTerms) > 0 {
		sb.WriteString("Always use these exact terms where relevant: " + strings.Join(c.MandatoryTerms, ", ") + "\n")
	}
	if c.MaxHashtags > 0 {
		fmt.Fprintf(&sb, "Use at most %d hashtags.\n", c.MaxHashtags)
	} else {
		sb.WriteString("Do not use hashtags.\n")
	}
	sb.WriteString("Do not include links or URLs.\n")
	return "# CONSTRAINTS\n" + sb.String()
}

func anchorsBlock(anchors []string) string {
	if len(anchors) == 0 {
		return ""
	}
	return "# SEMANTIC ANCHORS\nWeave in these brand ideas naturally:\n- " + strings.Join(anchors, "\n- ")
}

// KnowledgeBlock renders KB facts with a grounding instruction and returns
// the titles used. Markdown in entry content is flattened.
func KnowledgeBlock(entries []models.KnowledgeBaseEntry) (string, []string) {
	if len(entries) == 0 {
		return "", nil
	}
	var sb strings.Builder
	sb.WriteString("# FACTS\nUse ONLY these facts. Do not invent numbers, names or claims beyond them.\n")
	titles := make([]string, 0, len(entries))
	for _, e := range entries {
		body := PlainText(e.Content)
		if body == "" {
			continue
		}
		title := e.Title
		if title == "" {
			title = e.Category
		}
		fmt.Fprintf(&sb, "\n[%s] %s\n%s\n", e.Category, title, body)
		titles = append(titles, title)
	}
	if len(titles) == 0 {
		return "", nil
	}
	return sb.String(), titles
}

func newsBlock(n *models.NewsItem) string {
	if n == nil || (n.Title == "" && n.Summary == "") {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("# TIMELY CONTEXT\nTie the post to this recent development if it fits naturally:\n")
	if n.Title != "" {
		sb.WriteString(n.Title + "\n")
	}
	if n.Summary != "" {
		sb.WriteString(PlainText(n.Summary) + "\n")
	}
	return sb.String()
}

func dedupBlock(posts []string) (string, int) {
	var items []string
	for _, p := range posts {
		if len(items) == MaxRecentPosts {
			break
		}
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		items = append(items, truncateRunes(p, RecentPostRunes))
	}
	if len(items) == 0 {
		return "", 0
	}
	var sb strings.Builder
	sb.WriteString("# RECENT POSTS\nThese were already published. Do not repeat their hooks, angles or phrasing:\n")
	for i, p := range items {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.ReplaceAll(p, "\n", " "))
	}
	return sb.String(), len(items)
}

// FeedbackBlock renders human corrections as original→edited pairs.
func FeedbackBlock(records []models.FeedbackRecord) (string, int) {
	var sb strings.Builder
	n := 0
	for _, r := range records {
		if n == MaxFeedback {
			break
		}
		if strings.TrimSpace(r.EditedText) == "" && strings.TrimSpace(r.FeedbackNote) == "" {
			continue
		}
		n++
		fmt.Fprintf(&sb, "\nExample %d\nOriginal: %s\nEdited: %s\n", n,
			truncateRunes(strings.TrimSpace(r.OriginalText), RecentPostRunes*2),
			truncateRunes(strings.TrimSpace(r.EditedText), RecentPostRunes*2))
		if note := strings.TrimSpace(r.FeedbackNote); note != "" {
			fmt.Fprintf(&sb, "Note: %s\n", note)
		}
	}
	if n == 0 {
		return "", 0
	}
	return "# LEARN FROM EDITS\nAn admin corrected earlier posts. Internalize their preferred style and apply it here:\n" + sb.String(), n
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
