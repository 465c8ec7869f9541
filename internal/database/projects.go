package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/contentloom/pkg/models"
)

// UpsertProject stores a project's brand configuration.
func (d *Database) UpsertProject(ctx context.Context, project *models.ProjectConfig) error {
	if project == nil || project.ID == "" {
		return fmt.Errorf("project id is required")
	}
	cfg, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("failed to marshal project config: %w", err)
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO projects (id, name, config_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config_json = excluded.config_json,
			updated_at = excluded.updated_at
	`
	if _, err := d.db.ExecContext(ctx, d.q(query), project.ID, project.Name, string(cfg), now, now); err != nil {
		return fmt.Errorf("failed to upsert project: %w", err)
	}
	return nil
}

// GetProject loads a project. Missing projects return ErrNotFound.
func (d *Database) GetProject(ctx context.Context, id string) (*models.ProjectConfig, error) {
	var raw string
	err := d.db.QueryRowContext(ctx, d.q(`SELECT config_json FROM projects WHERE id = ?`), id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	var p models.ProjectConfig
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode project %s: %w", id, err)
	}
	p.ID = id
	return &p, nil
}

// ListProjectIDs returns every project id, sorted.
func (d *Database) ListProjectIDs(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddKnowledge stores an active knowledge-base entry.
func (d *Database) AddKnowledge(ctx context.Context, projectID string, e models.KnowledgeBaseEntry) error {
	query := `
		INSERT INTO knowledge_base (id, project_id, category, title, content, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := d.db.ExecContext(ctx, d.q(query), uuid.NewString(), projectID, e.Category, e.Title, e.Content, true, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add knowledge entry: %w", err)
	}
	return nil
}

// ReplaceKnowledge swaps a project's knowledge base for entries in one
// transaction, keeping their order.
func (d *Database) ReplaceKnowledge(ctx context.Context, projectID string, entries []models.KnowledgeBaseEntry) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, d.q(`DELETE FROM knowledge_base WHERE project_id = ?`), projectID); err != nil {
		return fmt.Errorf("failed to clear knowledge: %w", err)
	}
	insert := d.q(`
		INSERT INTO knowledge_base (id, project_id, category, title, content, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	base := time.Now().UTC()
	for i, e := range entries {
		// Distinct timestamps keep ListKnowledge in file order.
		at := base.Add(time.Duration(i) * time.Microsecond)
		if _, err := tx.ExecContext(ctx, insert, uuid.NewString(), projectID, e.Category, e.Title, e.Content, true, at); err != nil {
			return fmt.Errorf("failed to add knowledge entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit knowledge: %w", err)
	}
	return nil
}

// ListKnowledge returns a project's active knowledge-base entries in insertion order.
func (d *Database) ListKnowledge(ctx context.Context, projectID string) ([]models.KnowledgeBaseEntry, error) {
	query := `
		SELECT category, title, content FROM knowledge_base
		WHERE project_id = ? AND active = ?
		ORDER BY created_at, id
	`
	rows, err := d.db.QueryContext(ctx, d.q(query), projectID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge: %w", err)
	}
	defer rows.Close()

	var out []models.KnowledgeBaseEntry
	for rows.Next() {
		var e models.KnowledgeBaseEntry
		if err := rows.Scan(&e.Category, &e.Title, &e.Content); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertTemplate stores a prompt template. An empty ProjectID makes it global.
func (d *Database) UpsertTemplate(ctx context.Context, t *models.PromptTemplate) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	query := `
		INSERT INTO prompt_templates (id, project_id, category, name, content, priority, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			category = excluded.category,
			name = excluded.name,
			content = excluded.content,
			priority = excluded.priority,
			active = excluded.active
	`
	_, err := d.db.ExecContext(ctx, d.q(query), t.ID, t.ProjectID, t.Category, t.Name, t.Content, t.Priority, t.Active)
	if err != nil {
		return fmt.Errorf("failed to upsert template: %w", err)
	}
	return nil
}

// ListPromptTemplates returns the project's active templates followed by
// the active global ones.
func (d *Database) ListPromptTemplates(ctx context.Context, projectID string) ([]models.PromptTemplate, error) {
	query := `
		SELECT id, project_id, category, name, content, priority, active FROM prompt_templates
		WHERE (project_id = ? OR project_id = '') AND active = ?
		ORDER BY CASE WHEN project_id = '' THEN 1 ELSE 0 END, priority DESC, name
	`
	rows, err := d.db.QueryContext(ctx, d.q(query), projectID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []models.PromptTemplate
	for rows.Next() {
		var t models.PromptTemplate
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Category, &t.Name, &t.Content, &t.Priority, &t.Active); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
