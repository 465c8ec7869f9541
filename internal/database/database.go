// Package database persists projects, their grounding context, generated
// content, the media library and the agent log. SQLite serves single-node
// deployments and tests; PostgreSQL serves clustered ones.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Database is the contentloom persistence layer.
type Database struct {
	db      *sql.DB
	dialect dialect
}

// New opens (creating if needed) a SQLite database and initializes the schema.
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	d := &Database{db: db, dialect: dialectSQLite}
	if err := d.initSchema(context.Background(), sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB exposes the underlying handle for health checks.
func (d *Database) DB() *sql.DB {
	return d.db
}

// q adapts ? placeholders to the active dialect.
func (d *Database) q(query string) string {
	if d.dialect == dialectPostgres {
		return rebind(query)
	}
	return query
}

func (d *Database) initSchema(ctx context.Context, schema string) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	config_json TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS knowledge_base (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	active BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS prompt_templates (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL,
	name TEXT NOT NULL,
	content TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	active BOOLEAN NOT NULL DEFAULT 1
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
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS news_items (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	published_at DATETIME NOT NULL,
	used_at DATETIME,
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
	quality_score REAL NOT NULL DEFAULT 0,
	embedding TEXT NOT NULL DEFAULT '[]',
	source TEXT NOT NULL DEFAULT 'upload',
	created_at DATETIME NOT NULL
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
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS distributed_locks (
	lock_name TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL,
	acquired_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	expires_at DATETIME NOT NULL,
	heartbeat_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_kb_project ON knowledge_base(project_id, active);
CREATE INDEX IF NOT EXISTS idx_templates_project ON prompt_templates(project_id, active);
CREATE INDEX IF NOT EXISTS idx_content_project_platform ON content_queue(project_id, platform, created_at);
CREATE INDEX IF NOT EXISTS idx_news_unused ON news_items(project_id, used_at);
CREATE INDEX IF NOT EXISTS idx_media_project ON media_assets(project_id);
CREATE INDEX IF NOT EXISTS idx_agent_logs_run ON agent_logs(run_id);
`
