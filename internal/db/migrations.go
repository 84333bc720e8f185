package db

import (
	"fmt"
)

// Migrate runs all database migrations
func (db *DB) Migrate() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration001},
		{2, migration002},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to run migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}

	return nil
}

const migration001 = `
-- Conversion runs (history)
CREATE TABLE conversion_runs (
    id INTEGER PRIMARY KEY,
    run_uuid TEXT NOT NULL UNIQUE,
    scheduled_job_id INTEGER,
    source_root TEXT NOT NULL,
    output_root TEXT NOT NULL,
    source_exts TEXT NOT NULL DEFAULT '[]',
    target_ext TEXT NOT NULL,
    workers INTEGER NOT NULL DEFAULT 1,
    status TEXT NOT NULL DEFAULT 'running',
    total INTEGER DEFAULT 0,
    succeeded INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    skipped INTEGER DEFAULT 0,
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    error_message TEXT
);

CREATE INDEX idx_conversion_runs_status ON conversion_runs(status);
CREATE INDEX idx_conversion_runs_started_at ON conversion_runs(started_at);

-- Files that failed to convert within a run
CREATE TABLE conversion_failures (
    id INTEGER PRIMARY KEY,
    run_id INTEGER NOT NULL REFERENCES conversion_runs(id) ON DELETE CASCADE,
    source_path TEXT NOT NULL,
    message TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX idx_conversion_failures_run_id ON conversion_failures(run_id);

-- Scheduled conversions
CREATE TABLE scheduled_jobs (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    source_root TEXT NOT NULL,
    output_root TEXT NOT NULL,
    source_exts TEXT NOT NULL DEFAULT '[]',
    target_ext TEXT NOT NULL,
    workers INTEGER NOT NULL DEFAULT 1,
    cron_expression TEXT NOT NULL,
    enabled BOOLEAN DEFAULT 1,
    last_run_at DATETIME,
    next_run_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- App settings (key-value store)
CREATE TABLE settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

INSERT INTO settings (key, value) VALUES ('retention_days', '30');
`

const migration002 = `
-- Optional directory a scheduled job exports the output tree to after each run
ALTER TABLE scheduled_jobs ADD COLUMN tree_export_dir TEXT;
`
