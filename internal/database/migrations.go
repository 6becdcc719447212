package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "run history",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    input TEXT NOT NULL,
    output_dir TEXT NOT NULL,
    granularity TEXT NOT NULL,
    state TEXT NOT NULL,
    started_at TEXT DEFAULT (datetime('now')),
    finished_at TEXT,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "chunk checkpoints and run counters",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS checkpoints (
    granularity TEXT NOT NULL,
    output_path TEXT NOT NULL,
    artifact_key TEXT NOT NULL,
    next_offset INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 0,
    run_id TEXT REFERENCES runs(id),
    updated_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (granularity, output_path)
);
`)
			if err != nil {
				return err
			}
			for _, col := range []string{"records_scored", "records_skipped", "entities"} {
				if err := addColumnIfMissing(tx, "runs", col, "INTEGER DEFAULT 0"); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "rows committed per checkpoint",
		Up: func(tx *sql.Tx) error {
			// -1 marks checkpoints saved before row counts were kept.
			return addColumnIfMissing(tx, "checkpoints", "rows_written", "INTEGER NOT NULL DEFAULT -1")
		},
	},
}

// addColumnIfMissing keeps ALTER TABLE idempotent, since a crash between
// commit and the user_version update re-runs the migration.
func addColumnIfMissing(tx *sql.Tx, table, column, decl string) error {
	rows, err := tx.Query("SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	_, err = tx.Exec("ALTER TABLE " + table + " ADD COLUMN " + column + " " + decl)
	return err
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
