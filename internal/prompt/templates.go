package prompt

import (
	"sort"
	"strings"

	"github.com/jordanhubbard/contentloom/pkg/models"
)

// Template categories in the order they appear in the system role block.
const (
	CategoryIdentity        = "identity"
	CategoryCommunication   = "communication"
	CategoryGuardrail       = "guardrail"
	CategoryBusinessRules   = "business_rules"
	CategoryContentStrategy = "content_strategy"
	CategoryTopicBoundaries = "topic_boundaries"
	CategoryCTARules        = "cta_rules"
	CategoryQualityCriteria = "quality_criteria"
	CategoryPersonalization = "personalization"
	CategoryExamples        = "examples"
	CategorySeasonal        = "seasonal"
	CategoryCompetitor      = "competitor"
	CategoryLegal           = "legal"
	CategoryPlatformRules   = "platform_rules"
	CategoryEditorRules     = "editor_rules"
)

// CategoryOrder is the fixed grouping order for template categories.
var CategoryOrder = []string{
	CategoryIdentity,
	CategoryCommunication,
	CategoryGuardrail,
	CategoryBusinessRules,
	CategoryContentStrategy,
	CategoryTopicBoundaries,
	CategoryCTARules,
	CategoryQualityCriteria,
	CategoryPersonalization,
	CategoryExamples,
	CategorySeasonal,
	CategoryCompetitor,
	CategoryLegal,
	CategoryPlatformRules,
	CategoryEditorRules,
}

var categoryRank = func() map[string]int {
	m := make(map[string]int, len(CategoryOrder))
	for i, c := range CategoryOrder {
		m[c] = i
	}
	return m
}()

// DefaultRole is used when neither the project nor the global template set
// provides an identity block.
const DefaultRole = `You are an experienced social media copywriter working for a single brand.
You write concise, specific posts grounded in the facts you are given.
You never invent statistics, quotes, prices or product claims.`

func rank(category string) int {
	if r, ok := categoryRank[strings.ToLower(category)]; ok {
		return r
	}
	return len(CategoryOrder)
}

// SortTemplates returns active templates ordered by category, then higher
// priority first, then name. Unknown categories sort after known ones,
// alphabetically.
func SortTemplates(templates []models.PromptTemplate) []models.PromptTemplate {
	out := make([]models.PromptTemplate, 0, len(templates))
	for _, t := range templates {
		if t.Active && strings.TrimSpace(t.Content) != "" {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := rank(a.Category), rank(b.Category); ra != rb {
			return ra < rb
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Name < b.Name
	})
	return out
}

// Filter returns active templates whose category is one of categories, sorted.
func Filter(templates []models.PromptTemplate, categories ...string) []models.PromptTemplate {
	want := make(map[string]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}
	var out []models.PromptTemplate
	for _, t := range SortTemplates(templates) {
		if want[strings.ToLower(t.Category)] {
			out = append(out, t)
		}
	}
	return out
}

// roleTemplates picks the templates for the system role block. Project
// templates win outright; global ones are consulted only when the project
// has none.
func roleTemplates(project, global []models.PromptTemplate) (blocks []string, names []string) {
	if sorted := SortTemplates(project); len(sorted) > 0 {
		var lastCategory string
		var sb strings.Builder
		for _, t := range sorted {
			if t.Category != lastCategory {
				if sb.Len() > 0 {
					blocks = append(blocks, strings.TrimSpace(sb.String()))
					sb.Reset()
				}
				sb.WriteString("## " + strings.ToUpper(strings.ReplaceAll(t.Category, "_", " ")) + "\n")
				lastCategory = t.Category
			}
			sb.WriteString(strings.TrimSpace(t.Content) + "\n")
			names = append(names, t.Name)
		}
		if sb.Len() > 0 {
			blocks = append(blocks, strings.TrimSpace(sb.String()))
		}
		return blocks, names
	}

	if identity := Filter(global, CategoryIdentity); len(identity) > 0 {
		return []string{strings.TrimSpace(identity[0].Content)}, []string{identity[0].Name}
	}
	return []string{DefaultRole}, []string{"default_role"}
}
