package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Register driver
)

// DB wraps the sql.DB connection.
type DB struct {
	*sql.DB
}

// Init opens the database and runs migrations.
func Init(path string) (*DB, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	// Enable WAL mode for better concurrency and set busy timeout
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=30000;"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	d := &DB{db}
	// Enforce single connection to avoid SQLITE_BUSY errors during concurrent writes
	db.SetMaxOpenConns(1)

	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

func (d *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS viewpoint_entity (
			viewpoint_id INTEGER PRIMARY KEY,
			name_primary TEXT NOT NULL,
			name_variants TEXT,
			category_norm TEXT,
			category_osm TEXT,
			lat REAL,
			lon REAL,
			h3_cell TEXT,
			admin_regions TEXT,
			popularity REAL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS viewpoint_wiki (
			viewpoint_id INTEGER PRIMARY KEY
				REFERENCES viewpoint_entity(viewpoint_id) ON DELETE CASCADE,
			wikipedia_title TEXT,
			wikipedia_lang TEXT,
			extract_text TEXT,
			sections TEXT,
			citations TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS viewpoint_wikidata (
			viewpoint_id INTEGER PRIMARY KEY
				REFERENCES viewpoint_entity(viewpoint_id) ON DELETE CASCADE,
			wikidata_qid TEXT,
			claims TEXT,
			sitelinks_count INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS viewpoint_assets (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			viewpoint_id INTEGER NOT NULL
				REFERENCES viewpoint_entity(viewpoint_id) ON DELETE CASCADE,
			commons_file_id TEXT,
			caption TEXT,
			categories TEXT,
			depicts_wikidata TEXT,
			license TEXT,
			image_blob BLOB,
			lat REAL,
			lon REAL,
			image_width INTEGER,
			image_height INTEGER,
			image_format TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS viewpoint_visual_tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			viewpoint_id INTEGER NOT NULL
				REFERENCES viewpoint_entity(viewpoint_id) ON DELETE CASCADE,
			season TEXT,
			tag_source TEXT,
			tags TEXT,
			confidence REAL,
			evidence TEXT,
			UNIQUE(viewpoint_id, season, tag_source)
		);`,
		`CREATE TABLE IF NOT EXISTS viewpoint_ai_summaries (
			viewpoint_id INTEGER PRIMARY KEY
				REFERENCES viewpoint_entity(viewpoint_id) ON DELETE CASCADE,
			history_summary TEXT,
			source TEXT,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS query_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT,
			user_text TEXT,
			user_images TEXT,
			query_intent TEXT,
			sql_queries TEXT,
			tool_calls TEXT,
			results TEXT,
			execution_time_ms INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS tag_schema_version (
			version TEXT PRIMARY KEY,
			schema_definition TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_entity_category ON viewpoint_entity(category_norm);`,
		`CREATE INDEX IF NOT EXISTS idx_entity_popularity ON viewpoint_entity(popularity);`,
		`CREATE INDEX IF NOT EXISTS idx_entity_h3 ON viewpoint_entity(h3_cell);`,
		`CREATE INDEX IF NOT EXISTS idx_assets_viewpoint ON viewpoint_assets(viewpoint_id);`,
		`CREATE INDEX IF NOT EXISTS idx_visual_tags_viewpoint ON viewpoint_visual_tags(viewpoint_id, season);`,
	}

	for _, q := range queries {
		if _, err := d.Exec(q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}

	// Migration: add h3_cell if missing (pre-spatial-index databases)
	var colCount int
	err := d.QueryRow("SELECT count(*) FROM pragma_table_info('viewpoint_entity') WHERE name='h3_cell'").Scan(&colCount)
	if err == nil && colCount == 0 {
		if _, err := d.Exec("ALTER TABLE viewpoint_entity ADD COLUMN h3_cell TEXT"); err != nil {
			return fmt.Errorf("failed to add h3_cell column: %w", err)
		}
	}

	return nil
}
