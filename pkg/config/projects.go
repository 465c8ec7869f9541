package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jordanhubbard/contentloom/pkg/models"
)

// ProjectsFile is the seed file listed by projects_file.
type ProjectsFile struct {
	Projects []ProjectSeed `yaml:"projects"`
	// Templates without a project apply to every project.
	GlobalTemplates []TemplateSeed `yaml:"global_templates"`
}

// ProjectSeed is one project and the context it starts with.
type ProjectSeed struct {
	models.ProjectConfig `yaml:",inline"`
	Knowledge            []KnowledgeSeed `yaml:"knowledge"`
	Templates            []TemplateSeed  `yaml:"templates"`
	News                 []NewsSeed      `yaml:"news"`
}

// KnowledgeSeed is a knowledge base entry.
type KnowledgeSeed struct {
	Category string `yaml:"category"`
	Title    string `yaml:"title"`
	Content  string `yaml:"content"`
}

// TemplateSeed is a prompt template.
type TemplateSeed struct {
	ID       string `yaml:"id"`
	Category string `yaml:"category"`
	Name     string `yaml:"name"`
	Content  string `yaml:"content"`
	Priority int    `yaml:"priority"`
	Active   *bool  `yaml:"active"`
}

// NewsSeed is a news item awaiting injection.
type NewsSeed struct {
	ID      string `yaml:"id"`
	Title   string `yaml:"title"`
	Summary string `yaml:"summary"`
	URL     string `yaml:"url"`
}

// LoadProjects reads a projects file, expanding ${ENV} references.
func LoadProjects(path string) (*ProjectsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f ProjectsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &f); err != nil {
		return nil, fmt.Errorf("failed to parse projects file %s: %w", path, err)
	}
	for i, p := range f.Projects {
		if strings.TrimSpace(p.ID) == "" {
			return nil, fmt.Errorf("project %d in %s has no id", i, path)
		}
	}
	return &f, nil
}

// Entry converts the seed to a knowledge base entry.
func (k KnowledgeSeed) Entry() models.KnowledgeBaseEntry {
	return models.KnowledgeBaseEntry{Category: k.Category, Title: k.Title, Content: k.Content}
}

// Template converts the seed for projectID; an empty projectID makes it global.
// Missing IDs are derived from the name so reseeding updates in place.
func (t TemplateSeed) Template(projectID string) models.PromptTemplate {
	id := t.ID
	if id == "" {
		scope := projectID
		if scope == "" {
			scope = "global"
		}
		id = scope + ":" + strings.ToLower(strings.ReplaceAll(strings.TrimSpace(t.Name), " ", "_"))
	}
	active := true
	if t.Active != nil {
		active = *t.Active
	}
	return models.PromptTemplate{
		ID:        id,
		ProjectID: projectID,
		Category:  t.Category,
		Name:      t.Name,
		Content:   t.Content,
		Priority:  t.Priority,
		Active:    active,
	}
}

// Item converts the seed to a news item for projectID.
func (n NewsSeed) Item(projectID string) models.NewsItem {
	return models.NewsItem{ID: n.ID, ProjectID: projectID, Title: n.Title, Summary: n.Summary, URL: n.URL}
}
