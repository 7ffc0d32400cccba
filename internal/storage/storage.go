package storage

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Storage is the single durable store shared by the collector, the
// scheduler, and the sync engine. It holds three record kinds: network
// metrics, task definitions, and task results. All three actors read and
// write concurrently; each individual statement is atomic and the single
// pooled connection serializes writers within the process.
type Storage struct {
	db *sql.DB
}

// Open opens (creating if necessary) the agent database at path.
func Open(path string) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY churn between the three periodic actors.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA foreign_keys=ON", // task_results cascade with their task
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Storage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS network_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp_ms INTEGER NOT NULL,
		network_type TEXT NOT NULL,
		signal_strength INTEGER NOT NULL,
		latitude REAL,
		longitude REAL,
		plmn_id TEXT,
		cell_id TEXT,
		lac INTEGER,
		tac INTEGER,
		rac INTEGER,
		arfcn INTEGER,
		frequency_band TEXT,
		actual_frequency_mhz REAL,
		rsrp INTEGER,
		rsrq INTEGER,
		rscp INTEGER,
		rxlev INTEGER,
		ecno REAL,
		uploaded INTEGER NOT NULL DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_metrics_sample
		ON network_metrics(timestamp_ms, network_type);
	CREATE INDEX IF NOT EXISTS idx_metrics_uploaded
		ON network_metrics(uploaded, timestamp_ms);

	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		server_id TEXT UNIQUE,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		parameters_json TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		scheduled_at_ms INTEGER,
		interval_seconds INTEGER,
		completed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS task_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		server_task_id TEXT,
		timestamp_ms INTEGER NOT NULL,
		task_type TEXT NOT NULL,
		target_host TEXT,
		result_value TEXT NOT NULL,
		success INTEGER NOT NULL,
		details TEXT,
		uploaded INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_results_task ON task_results(task_id);
	CREATE INDEX IF NOT EXISTS idx_results_uploaded
		ON task_results(uploaded, timestamp_ms);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for collaborators that share the same
// database file (the settings store).
func (s *Storage) DB() *sql.DB {
	return s.db
}

// Close checkpoints the WAL and closes the database.
func (s *Storage) Close() error {
	if s.db != nil {
		s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

func nullString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
