package history

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all database migrations
var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema with runs",
		SQL: `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    started_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    host TEXT NOT NULL,
    fixture_dir TEXT NOT NULL,
    work_dir TEXT NOT NULL,
    plugin_dir TEXT NOT NULL,
    action TEXT NOT NULL,
    text_patterns TEXT NOT NULL DEFAULT '[]',
    binary_patterns TEXT NOT NULL DEFAULT '[]',
    passed BOOLEAN NOT NULL,
    dry_run BOOLEAN NOT NULL DEFAULT 0,
    failed_phase TEXT,
    error_kind TEXT,
    error_message TEXT,
    exit_code INTEGER
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_action ON runs(action);
CREATE INDEX IF NOT EXISTS idx_runs_passed ON runs(passed);
`,
	},
	{
		Version:     2,
		Description: "Add per-file verification results",
		SQL: `
CREATE TABLE IF NOT EXISTS run_files (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    mode TEXT NOT NULL,
    passed BOOLEAN NOT NULL,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_run_files_run ON run_files(run_id);
`,
	},
	{
		Version:     3,
		Description: "Index runs by fixture directory",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_runs_fixture_dir ON runs(fixture_dir);
`,
	},
}

// ApplyMigrations applies all pending migrations in a single transaction.
func (s *Store) ApplyMigrations(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin exclusive transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	if _, err := tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := tx.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return fmt.Errorf("query schema versions: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan version: %w", err)
		}
		applied[v] = true
	}
	iterErr := rows.Err()
	rows.Close()
	if iterErr != nil {
		return fmt.Errorf("iterate versions: %w", iterErr)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", migration.Version, migration.Description, err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, migration.Version); err != nil {
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}

	return nil
}
