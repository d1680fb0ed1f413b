// Package store owns the embedded SQLite database shared by the task, messaging,
// update batching and analytics components. A single *DB is opened by the daemon and
// handed to each component; every read-modify-write runs inside one transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	description     TEXT NOT NULL,
	status          TEXT NOT NULL,
	priority        INTEGER NOT NULL DEFAULT 3,
	deadline        TEXT,
	task_type       TEXT NOT NULL DEFAULT 'general',
	metadata        TEXT NOT NULL DEFAULT '{}',
	status_history  TEXT NOT NULL DEFAULT '[]',
	created_at      TEXT NOT NULL,
	last_updated    TEXT NOT NULL,
	completed_at    TEXT,
	actual_duration REAL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS task_field_changes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id    TEXT NOT NULL,
	field      TEXT NOT NULL,
	old_value  TEXT NOT NULL DEFAULT '',
	new_value  TEXT NOT NULL DEFAULT '',
	changed_at TEXT NOT NULL,
	changed_by TEXT NOT NULL DEFAULT 'system'
);
CREATE INDEX IF NOT EXISTS idx_task_field_changes_task ON task_field_changes(task_id);

CREATE TABLE IF NOT EXISTS task_assignments (
	task_id     TEXT NOT NULL,
	agent_id    TEXT NOT NULL,
	assigned_at TEXT NOT NULL,
	PRIMARY KEY (task_id, agent_id)
);
CREATE INDEX IF NOT EXISTS idx_task_assignments_agent ON task_assignments(agent_id);

CREATE TABLE IF NOT EXISTS task_dependencies (
	task_id    TEXT NOT NULL,
	depends_on TEXT NOT NULL,
	position   INTEGER NOT NULL,
	PRIMARY KEY (task_id, depends_on)
);

CREATE TABLE IF NOT EXISTS messages (
	id                TEXT PRIMARY KEY,
	thread_id         TEXT NOT NULL,
	from_agent        TEXT NOT NULL,
	to_agent          TEXT NOT NULL,
	content           TEXT NOT NULL,
	priority          INTEGER NOT NULL DEFAULT 3,
	status            TEXT NOT NULL,
	context           TEXT NOT NULL DEFAULT '{}',
	metadata          TEXT NOT NULL DEFAULT '{}',
	action_required   INTEGER NOT NULL DEFAULT 0,
	expected_response TEXT NOT NULL DEFAULT '',
	deadline          TEXT,
	read_at           TEXT,
	responded_at      TEXT,
	status_history    TEXT NOT NULL DEFAULT '[]',
	created_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id);
CREATE INDEX IF NOT EXISTS idx_messages_to ON messages(to_agent, status);
CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_agent);

CREATE TABLE IF NOT EXISTS threads (
	thread_id     TEXT PRIMARY KEY,
	participants  TEXT NOT NULL DEFAULT '[]',
	message_count INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'active',
	summary       TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	last_updated  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_state (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	last_send    TEXT NOT NULL,
	batch_number INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS batch_updates (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	content    TEXT NOT NULL,
	priority   INTEGER NOT NULL DEFAULT 3,
	category   TEXT NOT NULL DEFAULT 'General',
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_history (
	batch_number INTEGER PRIMARY KEY,
	reason       TEXT NOT NULL,
	last_send    TEXT NOT NULL,
	sent_at      TEXT NOT NULL,
	updates      TEXT NOT NULL DEFAULT '[]'
);
`

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps the SQLite handle.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the SQLite database at path and applies the schema.
// The caller is responsible for calling Close.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer connection serializes transactions and prevents SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

// Close releases the underlying database connection.
func (d *DB) Close() error { return d.db.Close() }

// Path returns the database file path.
func (d *DB) Path() string { return d.path }

// SQL exposes the raw handle for read-only queries.
func (d *DB) SQL() *sql.DB { return d.db }

// Tx runs fn inside a transaction. The transaction is committed when fn returns nil
// and rolled back otherwise, so an operation either persists completely or not at all.
func (d *DB) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// BackupTo writes a consistent snapshot of the database to dest.
func (d *DB) BackupTo(ctx context.Context, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}
