package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// NewPostgres creates a PostgreSQL database connection.
func NewPostgres(ctx context.Context, dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	d := &Database{db: db, dialect: dialectPostgres}
	if err := d.initSchema(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	config_json TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS knowledge_base (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS prompt_templates (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	name TEXT NOT NULL,
	content TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS content_queue (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	platform TEXT NOT NULL,
	content_type TEXT NOT NULL,
	text TEXT NOT NULL,
	status TEXT NOT NULL,
	ai_scores TEXT NOT NULL DEFAULT '{}',
	generation_context TEXT NOT NULL DEFAULT '{}',
	image_prompt TEXT NOT NULL DEFAULT '',
	alt_text TEXT NOT NULL DEFAULT '',
	media_url TEXT NOT NULL DEFAULT '',
	chart_url TEXT NOT NULL DEFAULT '',
	card_url TEXT NOT NULL DEFAULT '',
	template_url TEXT NOT NULL DEFAULT '',
	media_asset_id TEXT NOT NULL DEFAULT '',
	edited_text TEXT NOT NULL DEFAULT '',
	feedback_note TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS news_items (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ NOT NULL,
	used_at TIMESTAMPTZ,
	used_by_run TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS media_assets (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	url TEXT NOT NULL,
	storage_key TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]',
	mood TEXT NOT NULL DEFAULT '',
	scene TEXT NOT NULL DEFAULT '',
	quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	embedding TEXT NOT NULL DEFAULT '[]',
	source TEXT NOT NULL DEFAULT 'upload',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_logs (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	platform TEXT NOT NULL DEFAULT '',
	stage TEXT NOT NULL,
	status TEXT NOT NULL,
	message TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL
);

-- Distributed locks serialize runs across instances
CREATE TABLE IF NOT EXISTS distributed_locks (
	lock_name TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at TIMESTAMPTZ NOT NULL,
	heartbeat_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_kb_project ON knowledge_base(project_id, active);
CREATE INDEX IF NOT EXISTS idx_templates_project ON prompt_templates(project_id, active);
CREATE INDEX IF NOT EXISTS idx_content_project_platform ON content_queue(project_id, platform, created_at);
CREATE INDEX IF NOT EXISTS idx_news_unused ON news_items(project_id, used_at);
CREATE INDEX IF NOT EXISTS idx_media_project ON media_assets(project_id);
CREATE INDEX IF NOT EXISTS idx_agent_logs_run ON agent_logs(run_id);
`
