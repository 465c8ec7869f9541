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

// SaveContent inserts a generated content row.
func (d *Database) SaveContent(ctx context.Context, rec *models.ContentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = models.ContentStatusReview
	}
	scores, err := json.Marshal(rec.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal scores: %w", err)
	}
	trace, err := json.Marshal(rec.GenerationContext)
	if err != nil {
		return fmt.Errorf("failed to marshal generation context: %w", err)
	}

	query := `
		INSERT INTO content_queue (
			id, project_id, platform, content_type, text, status, ai_scores, generation_context,
			image_prompt, alt_text, media_url, chart_url, card_url, template_url, media_asset_id,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = d.db.ExecContext(ctx, d.q(query),
		rec.ID, rec.ProjectID, rec.Platform, rec.ContentType, rec.Text, string(rec.Status),
		string(scores), string(trace),
		rec.ImagePrompt, rec.AltText, rec.MediaURL, rec.ChartURL, rec.CardURL, rec.TemplateURL, rec.MediaAssetID,
		rec.CreatedAt, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save content: %w", err)
	}
	return nil
}

// GetContent loads one content row.
func (d *Database) GetContent(ctx context.Context, id string) (*models.ContentRecord, error) {
	query := `
		SELECT id, project_id, platform, content_type, text, status, ai_scores, generation_context,
			image_prompt, alt_text, media_url, chart_url, card_url, template_url, media_asset_id, created_at
		FROM content_queue WHERE id = ?
	`
	var (
		rec           models.ContentRecord
		status        string
		scores, trace string
	)
	err := d.db.QueryRowContext(ctx, d.q(query), id).Scan(
		&rec.ID, &rec.ProjectID, &rec.Platform, &rec.ContentType, &rec.Text, &status, &scores, &trace,
		&rec.ImagePrompt, &rec.AltText, &rec.MediaURL, &rec.ChartURL, &rec.CardURL, &rec.TemplateURL, &rec.MediaAssetID,
		&rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("content %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content: %w", err)
	}
	rec.Status = models.ContentStatus(status)
	if err := json.Unmarshal([]byte(scores), &rec.Scores); err != nil {
		return nil, fmt.Errorf("failed to decode scores: %w", err)
	}
	if trace != "" && trace != "null" {
		rec.GenerationContext = &models.GenerationTrace{}
		if err := json.Unmarshal([]byte(trace), rec.GenerationContext); err != nil {
			return nil, fmt.Errorf("failed to decode generation context: %w", err)
		}
	}
	return &rec, nil
}

// UpdateContentStatus moves a row through review.
func (d *Database) UpdateContentStatus(ctx context.Context, id string, status models.ContentStatus) error {
	res, err := d.db.ExecContext(ctx, d.q(`UPDATE content_queue SET status = ?, updated_at = ? WHERE id = ?`),
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update content status: %w", err)
	}
	return expectOne(res, "content", id)
}

// RecordEdit stores a human correction; it feeds later prompts.
func (d *Database) RecordEdit(ctx context.Context, id, editedText, note string) error {
	res, err := d.db.ExecContext(ctx, d.q(`UPDATE content_queue SET edited_text = ?, feedback_note = ?, updated_at = ? WHERE id = ?`),
		editedText, note, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record edit: %w", err)
	}
	return expectOne(res, "content", id)
}

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// MixCounts returns per-type counts since weekStart (rejected rows excluded)
// and the total number of rows ever created for the project and platform.
func (d *Database) MixCounts(ctx context.Context, projectID, platform string, weekStart time.Time) (map[string]int, int, error) {
	query := `
		SELECT content_type, COUNT(*) FROM content_queue
		WHERE project_id = ? AND platform = ? AND created_at >= ? AND status <> ?
		GROUP BY content_type
	`
	rows, err := d.db.QueryContext(ctx, d.q(query), projectID, platform, weekStart.UTC(), string(models.ContentStatusRejected))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count content mix: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, 0, fmt.Errorf("failed to scan mix count: %w", err)
		}
		counts[t] = n
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	err = d.db.QueryRowContext(ctx, d.q(`SELECT COUNT(*) FROM content_queue WHERE project_id = ? AND platform = ?`),
		projectID, platform).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count content history: %w", err)
	}
	return counts, total, nil
}

// RecentPosts returns the newest post texts for dedup, newest first.
func (d *Database) RecentPosts(ctx context.Context, projectID, platform string, limit int) ([]string, error) {
	query := `
		SELECT text FROM content_queue
		WHERE project_id = ? AND platform = ? AND status <> ?
		ORDER BY created_at DESC LIMIT ?
	`
	rows, err := d.db.QueryContext(ctx, d.q(query), projectID, platform, string(models.ContentStatusRejected), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent posts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecentFeedback returns the newest human-edited rows across platforms.
func (d *Database) RecentFeedback(ctx context.Context, projectID string, limit int) ([]models.FeedbackRecord, error) {
	query := `
		SELECT text, edited_text, feedback_note FROM content_queue
		WHERE project_id = ? AND (edited_text <> '' OR feedback_note <> '')
		ORDER BY updated_at DESC LIMIT ?
	`
	rows, err := d.db.QueryContext(ctx, d.q(query), projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var out []models.FeedbackRecord
	for rows.Next() {
		var f models.FeedbackRecord
		if err := rows.Scan(&f.OriginalText, &f.EditedText, &f.FeedbackNote); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// AddNews stores an unconsumed news item. An item whose ID already exists
// is left untouched, consumed or not.
func (d *Database) AddNews(ctx context.Context, n *models.NewsItem) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.PublishedAt.IsZero() {
		n.PublishedAt = time.Now().UTC()
	}
	query := `INSERT INTO news_items (id, project_id, title, summary, url, published_at) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`
	if _, err := d.db.ExecContext(ctx, d.q(query), n.ID, n.ProjectID, n.Title, n.Summary, n.URL, n.PublishedAt.UTC()); err != nil {
		return fmt.Errorf("failed to add news: %w", err)
	}
	return nil
}

// ClaimNews marks the newest unconsumed news item as used by runID and
// returns it, in one statement. Two concurrent runs never receive the same
// item. Returns nil when nothing is left.
func (d *Database) ClaimNews(ctx context.Context, projectID, runID string) (*models.NewsItem, error) {
	pick := `SELECT id FROM news_items WHERE project_id = ? AND used_at IS NULL ORDER BY published_at DESC LIMIT 1`
	if d.dialect == dialectPostgres {
		pick += ` FOR UPDATE SKIP LOCKED`
	}
	query := `
		UPDATE news_items SET used_at = ?, used_by_run = ?
		WHERE id = (` + pick + `) AND used_at IS NULL
		RETURNING id, project_id, title, summary, url, published_at
	`
	var n models.NewsItem
	err := d.db.QueryRowContext(ctx, d.q(query), time.Now().UTC(), runID, projectID).Scan(
		&n.ID, &n.ProjectID, &n.Title, &n.Summary, &n.URL, &n.PublishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim news: %w", err)
	}
	return &n, nil
}

// ReleaseNews returns a claimed item to the pool. Only the run that claimed
// it can release it.
func (d *Database) ReleaseNews(ctx context.Context, newsID, runID string) error {
	query := `UPDATE news_items SET used_at = NULL, used_by_run = '' WHERE id = ? AND used_by_run = ?`
	if _, err := d.db.ExecContext(ctx, d.q(query), newsID, runID); err != nil {
		return fmt.Errorf("failed to release news: %w", err)
	}
	return nil
}
