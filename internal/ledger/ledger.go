// Package ledger provides the durable migration state machine backed by
// SQLite: per-message status rows and per-folder scan checkpoints.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Status is the closed set of message lifecycle states.
type Status string

const (
	StatusDiscovered       Status = "discovered"
	StatusDownloaded       Status = "downloaded"
	StatusImported         Status = "imported"
	StatusSkippedDuplicate Status = "skipped_duplicate"
	StatusSkippedFiltered  Status = "skipped_filtered"
	StatusFailed           Status = "failed"
)

// Statuses lists every status in a stable order, for reporting.
var Statuses = []Status{
	StatusDiscovered,
	StatusDownloaded,
	StatusFailed,
	StatusImported,
	StatusSkippedDuplicate,
	StatusSkippedFiltered,
}

const defaultSQLiteParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON"

// schemaVersion is recorded in PRAGMA user_version.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS folders (
  name TEXT PRIMARY KEY,
  uidvalidity INTEGER NOT NULL DEFAULT 0,
  last_uid_seen INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  folder TEXT NOT NULL,
  uid INTEGER NOT NULL,
  uidvalidity INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  message_id_norm TEXT,
  fingerprint TEXT NOT NULL,
  eml_path TEXT,
  eml_sha256 TEXT,
  size_bytes INTEGER,
  sink_message_id TEXT,
  sink_thread_id TEXT,
  labels_json TEXT,
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  last_error_at TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL,
  UNIQUE(folder, uid, uidvalidity)
);

CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);
CREATE INDEX IF NOT EXISTS idx_messages_msgid ON messages(message_id_norm);
CREATE INDEX IF NOT EXISTS idx_messages_fingerprint ON messages(fingerprint);
`

// Ledger wraps the SQLite state database. Readers may run concurrently with
// a writer (WAL mode); write transactions serialize and retry on busy.
type Ledger struct {
	db   *sql.DB
	path string
}

// Open opens or creates the ledger database at path and ensures the schema.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+defaultSQLiteParams)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}

	l := &Ledger{db: db, path: path}
	if err := l.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

func (l *Ledger) initSchema() error {
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("init ledger schema: %w", err)
	}
	if _, err := l.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return nil
}

// isBusy reports whether err is a SQLite busy/locked error. Uses errors.As
// on the driver error type rather than string-matching err.Error().
func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// withTx executes fn within a transaction, retrying a handful of times when
// another writer holds the database.
func (l *Ledger) withTx(fn func(tx *sql.Tx) error) error {
	const maxAttempts = 5

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = l.runTx(fn)
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}

func (l *Ledger) runTx(fn func(tx *sql.Tx) error) error {
	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// nowISO returns the current UTC time in the stored timestamp format.
func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseISO(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func nullStr(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
