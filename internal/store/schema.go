package store

import (
	"database/sql"
	"fmt"
	"os"
)

const runsTableDDL = `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY,
    uuid TEXT UNIQUE NOT NULL,
    kind TEXT NOT NULL,
    start_time INTEGER NOT NULL,
    end_time INTEGER,
    notes TEXT NOT NULL DEFAULT ''
);
`

const schedEventsTableDDL = `
CREATE TABLE IF NOT EXISTS sched_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    tick INTEGER NOT NULL,
    thread_id INTEGER NOT NULL,
    transition TEXT NOT NULL,
    queue TEXT NOT NULL
);
`

const fsOpsTableDDL = `
CREATE TABLE IF NOT EXISTS fs_ops (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    tick INTEGER NOT NULL,
    op TEXT NOT NULL,
    path TEXT NOT NULL,
    result TEXT NOT NULL
);
`

const pipelineSamplesTableDDL = `
CREATE TABLE IF NOT EXISTS pipeline_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL,
    tick INTEGER NOT NULL,
    queue_name TEXT NOT NULL,
    size INTEGER NOT NULL,
    capacity INTEGER NOT NULL,
    worker_count INTEGER NOT NULL
);
`

const runsUUIDIndexDDL = `CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_uuid ON runs(uuid);`
const schedEventsRunTickIndexDDL = `CREATE INDEX IF NOT EXISTS idx_sched_events_run_tick ON sched_events(run_id, tick);`
const fsOpsRunTickIndexDDL = `CREATE INDEX IF NOT EXISTS idx_fs_ops_run_tick ON fs_ops(run_id, tick);`
const pipelineSamplesRunTickIndexDDL = `CREATE INDEX IF NOT EXISTS idx_pipeline_samples_run_tick ON pipeline_samples(run_id, tick);`

// InitSchema creates all tables in the database.
func InitSchema(db *sql.DB) error {
	ddls := []string{
		runsTableDDL,
		schedEventsTableDDL,
		fsOpsTableDDL,
		pipelineSamplesTableDDL,
	}

	for _, ddl := range ddls {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to execute DDL: %w", err)
		}
	}

	return nil
}

// ApplyWritePragmas configures SQLite for optimal write performance during ingestion.
func ApplyWritePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 268435456", // 256MB mmap
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply pragma %q: %w", pragma, err)
		}
	}

	return nil
}

// ApplyReadPragmas configures SQLite for optimal read performance.
func ApplyReadPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 268435456",
		"PRAGMA query_only = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply pragma %q: %w", pragma, err)
		}
	}

	// journal_mode requires write access; best-effort for read-only sessions
	if _, err := db.Exec("PRAGMA journal_mode = DELETE"); err != nil {
		return nil
	}

	return nil
}

// ApplyIndexPragmas configures SQLite for index builds. When diskTemp
// is true, temp files are stored on disk instead of RAM.
func ApplyIndexPragmas(db *sql.DB, diskTemp bool, tmpDir string) error {
	if tmpDir != "" {
		if err := os.MkdirAll(tmpDir, 0755); err != nil {
			return fmt.Errorf("failed to create sqlite temp dir: %w", err)
		}
		if err := os.Setenv("SQLITE_TMPDIR", tmpDir); err != nil {
			return fmt.Errorf("failed to set SQLITE_TMPDIR: %w", err)
		}
	}

	pragma := "PRAGMA temp_store = MEMORY"
	if diskTemp {
		pragma = "PRAGMA temp_store = FILE"
	}
	if _, err := db.Exec(pragma); err != nil {
		return fmt.Errorf("failed to set temp_store: %w", err)
	}

	return nil
}

// BuildIndexes creates indexes after the initial data load for better performance.
func BuildIndexes(db *sql.DB) error {
	indexes := []string{
		runsUUIDIndexDDL,
		schedEventsRunTickIndexDDL,
		fsOpsRunTickIndexDDL,
		pipelineSamplesRunTickIndexDDL,
	}

	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Finalize prepares the database for read-only access.
func Finalize(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to optimize: %w", err)
	}

	// Switch from WAL to DELETE for better portability
	if _, err := db.Exec("PRAGMA journal_mode = DELETE"); err != nil {
		return fmt.Errorf("failed to set journal mode: %w", err)
	}

	return nil
}
