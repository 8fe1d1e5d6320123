// Package sqlite implements every repository contract of internal/repo
// against a single SQLite database file: a mutex-guarded *sql.DB wrapper,
// an additive
// numbered-migration runner recording applied versions in a
// schema_version table, and WAL + foreign-key pragmas enabled at Open.
//
// Each entity table carries the columns the repository contracts filter or
// join on (id, status, goal_id, parent_id, idempotency_key, ...) plus a
// `doc` column holding the entity's full JSON encoding, so a round-tripped
// Get always returns every field the Go struct carries
// without hand-mapping dozens of nested struct fields to columns.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DB wraps a SQLite connection shared by every repository implementation
// in this package.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// GlobalDBPath returns the path to the global orchestrator database,
// honoring XDG_DATA_HOME.
func GlobalDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "swarm", "swarm.db")
}

// ProjectDBPath returns the path to a project-local database rooted
// under projectRoot.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".swarm", "swarm.db")
}

// Open opens (creating parent directories as needed) a SQLite database at
// path, enables WAL mode and foreign keys, and returns the wrapped handle.
// Callers must call Migrate before using any repository.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc.org/sqlite connections are not safe for concurrent writers;
	// a single shared connection plus our own RWMutex below serializes
	// access.
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// OpenGlobal opens the global database at GlobalDBPath.
func OpenGlobal() (*DB, error) { return Open(GlobalDBPath()) }

// OpenProject opens the project-local database under projectRoot.
func OpenProject(projectRoot string) (*DB, error) { return Open(ProjectDBPath(projectRoot)) }

// OpenMemory opens a private in-memory database, used by tests.
func OpenMemory() (*DB, error) {
	return Open(":memory:")
}

// Close closes the underlying connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the filesystem path (or ":memory:"-ish DSN) this DB opened.
func (db *DB) Path() string { return db.path }

type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{1, schemaV1},
}

// Migrate applies every pending migration in order, recording each
// applied version in schema_version so repeated calls are idempotent.
// One table per entity plus the events log.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}
	return nil
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	goal_id TEXT,
	parent_id TEXT,
	idempotency_key TEXT UNIQUE,
	doc TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_goal_id ON tasks(goal_id);
CREATE INDEX IF NOT EXISTS idx_tasks_parent_id ON tasks(parent_id);

CREATE TABLE IF NOT EXISTS goals (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	parent_id TEXT,
	doc TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_goals_status ON goals(status);

CREATE TABLE IF NOT EXISTS worktrees (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL UNIQUE,
	doc TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_templates (
	name TEXT NOT NULL,
	version INTEGER NOT NULL,
	status TEXT NOT NULL,
	doc TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (name, version)
);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	namespace TEXT NOT NULL,
	key TEXT NOT NULL,
	version INTEGER NOT NULL,
	deleted INTEGER NOT NULL DEFAULT 0,
	doc TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_ns_key ON memories(namespace, key, version);

CREATE TABLE IF NOT EXISTS trajectories (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL UNIQUE,
	doc TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trigger_rules (
	name TEXT PRIMARY KEY,
	doc TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	sequence INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	severity TEXT NOT NULL,
	category TEXT NOT NULL,
	goal_id TEXT,
	task_id TEXT,
	correlation_id TEXT,
	source_process_id TEXT,
	doc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_task_id ON events(task_id);
CREATE INDEX IF NOT EXISTS idx_events_goal_id ON events(goal_id);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
`

// formatTime renders t for storage as an RFC3339 string column rather
// than SQLite's native (and driver-varying) time affinity.
func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }
