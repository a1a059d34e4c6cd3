package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Folder is a row in the folders table. UIDValidity and LastUIDSeen of 0
// mean unknown / never scanned.
type Folder struct {
	Name        string
	UIDValidity int64
	LastUIDSeen int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UpsertFolder inserts or updates a folder row, refreshing updated_at.
func (l *Ledger) UpsertFolder(name string, uidvalidity, lastUIDSeen int64) (*Folder, error) {
	now := nowISO()
	err := l.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO folders(name, uidvalidity, last_uid_seen, created_at, updated_at)
			VALUES(?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
			  uidvalidity=excluded.uidvalidity,
			  last_uid_seen=excluded.last_uid_seen,
			  updated_at=excluded.updated_at
		`, name, uidvalidity, lastUIDSeen, now, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert folder %q: %w", name, err)
	}
	return l.GetFolder(name)
}

// UpdateFolderCheckpoint persists scan progress for a folder. It is the
// checkpoint-flavored alias of UpsertFolder.
func (l *Ledger) UpdateFolderCheckpoint(name string, uidvalidity, lastUIDSeen int64) error {
	_, err := l.UpsertFolder(name, uidvalidity, lastUIDSeen)
	return err
}

// GetFolder returns the folder row, or nil when absent.
func (l *Ledger) GetFolder(name string) (*Folder, error) {
	row := l.db.QueryRow(`
		SELECT name, uidvalidity, last_uid_seen, created_at, updated_at
		FROM folders WHERE name=?
	`, name)

	var f Folder
	var createdAt, updatedAt string
	err := row.Scan(&f.Name, &f.UIDValidity, &f.LastUIDSeen, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get folder %q: %w", name, err)
	}
	f.CreatedAt = parseISO(createdAt)
	f.UpdatedAt = parseISO(updatedAt)
	return &f, nil
}
