package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/contentloom/pkg/models"
)

// SaveMediaAsset inserts or replaces a library asset.
func (d *Database) SaveMediaAsset(ctx context.Context, a *models.MediaAsset) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.Source == "" {
		a.Source = "upload"
	}
	tags, err := json.Marshal(nonNil(a.Tags))
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	emb, err := json.Marshal(a.Embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	query := `
		INSERT INTO media_assets (id, project_id, url, storage_key, description, tags, mood, scene, quality_score, embedding, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			storage_key = excluded.storage_key,
			description = excluded.description,
			tags = excluded.tags,
			mood = excluded.mood,
			scene = excluded.scene,
			quality_score = excluded.quality_score,
			embedding = excluded.embedding
	`
	_, err = d.db.ExecContext(ctx, d.q(query),
		a.ID, a.ProjectID, a.URL, a.StorageKey, a.Description, string(tags), a.Mood, a.Scene,
		a.QualityScore, string(emb), a.Source, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save media asset: %w", err)
	}
	return nil
}

// ListMediaAssets returns a project's library, newest first.
func (d *Database) ListMediaAssets(ctx context.Context, projectID string) ([]models.MediaAsset, error) {
	query := `
		SELECT id, project_id, url, storage_key, description, tags, mood, scene, quality_score, embedding, source, created_at
		FROM media_assets WHERE project_id = ? ORDER BY created_at DESC
	`
	rows, err := d.db.QueryContext(ctx, d.q(query), projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list media assets: %w", err)
	}
	defer rows.Close()

	var out []models.MediaAsset
	for rows.Next() {
		var (
			a         models.MediaAsset
			tags, emb string
		)
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.URL, &a.StorageKey, &a.Description, &tags, &a.Mood, &a.Scene,
			&a.QualityScore, &emb, &a.Source, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan media asset: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &a.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags of %s: %w", a.ID, err)
		}
		if err := json.Unmarshal([]byte(emb), &a.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding of %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AppendAgentLog persists one agent log entry.
func (d *Database) AppendAgentLog(ctx context.Context, e models.AgentLogEntry) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal agent log metadata: %w", err)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO agent_logs (id, run_id, project_id, platform, stage, status, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = d.db.ExecContext(ctx, d.q(query), e.ID, e.RunID, e.ProjectID, e.Platform, e.Stage, e.Status, e.Message, string(meta), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append agent log: %w", err)
	}
	return nil
}

// ListAgentLogs returns a run's entries in order.
func (d *Database) ListAgentLogs(ctx context.Context, runID string) ([]models.AgentLogEntry, error) {
	query := `
		SELECT id, run_id, project_id, platform, stage, status, message, metadata, created_at
		FROM agent_logs WHERE run_id = ? ORDER BY created_at, id
	`
	rows, err := d.db.QueryContext(ctx, d.q(query), runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent logs: %w", err)
	}
	defer rows.Close()

	var out []models.AgentLogEntry
	for rows.Next() {
		var (
			e    models.AgentLogEntry
			meta string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.ProjectID, &e.Platform, &e.Stage, &e.Status, &e.Message, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent log: %w", err)
		}
		if meta != "" && meta != "null" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode agent log metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
