package visual

import (
	"sort"
	"strings"
	"unicode"

	"github.com/jordanhubbard/contentloom/pkg/models"
)

// ImagePrompt brands a base prompt with the photography preset and returns
// the positive and negative prompts.
func ImagePrompt(preset models.PhotographyPreset, base string, platform models.PlatformSpec) (string, string) {
	parts := []string{strings.TrimSpace(base)}
	if preset.Style != "" {
		parts = append(parts, preset.Style+" style")
	}
	if preset.Mood != "" {
		parts = append(parts, preset.Mood+" mood")
	}
	if preset.Lighting != "" {
		parts = append(parts, preset.Lighting+" lighting")
	}
	if preset.ColorGrade != "" {
		parts = append(parts, preset.ColorGrade+" color grade")
	}
	if len(preset.Subjects) > 0 {
		parts = append(parts, "featuring "+strings.Join(preset.Subjects, ", "))
	}
	parts = append(parts, "composed for "+platform.AspectRatio+" framing", "photorealistic, high detail")

	negative := append([]string{"text", "watermark", "logo", "distorted hands"}, preset.NegativePrompt...)
	return strings.Join(nonEmpty(parts), ", "), strings.Join(dedupe(negative), ", ")
}

var stopwords = map[string]bool{
	"with": true, "from": true, "that": true, "this": true, "into": true, "over": true,
	"style": true, "mood": true, "lighting": true, "color": true, "grade": true,
	"featuring": true, "composed": true, "framing": true, "photorealistic": true,
	"high": true, "detail": true, "their": true, "about": true, "while": true,
}

// TagsFromPrompt extracts up to eight tags when vision analysis is unavailable.
func TagsFromPrompt(prompt string) []string {
	words := strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	seen := make(map[string]bool)
	var tags []string
	for _, w := range words {
		w = strings.Trim(w, "-")
		if len([]rune(w)) < 4 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		tags = append(tags, w)
		if len(tags) == 8 {
			break
		}
	}
	return tags
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		k := strings.ToLower(strings.TrimSpace(s))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

// sortedTags normalizes tags for storage.
func sortedTags(tags []string) []string {
	out := dedupe(tags)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	sort.Strings(out)
	return out
}
