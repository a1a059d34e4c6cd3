package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message is a row in the messages table. A message is identified by the
// composite key (folder, uid, uidvalidity); id is a surrogate.
type Message struct {
	ID          int64
	Folder      string
	UID         int64
	UIDValidity int64

	Status        Status
	MessageIDNorm string // "" when the message has no usable Message-ID
	Fingerprint   string

	EMLPath   string
	EMLSHA256 string
	SizeBytes int64

	SinkMessageID string
	SinkThreadID  string
	Labels        []string

	Attempts    int64
	LastError   string
	LastErrorAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

const messageColumns = `
	id, folder, uid, uidvalidity, status, message_id_norm, fingerprint,
	eml_path, eml_sha256, size_bytes, sink_message_id, sink_thread_id,
	labels_json, attempts, last_error, last_error_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var msgID, emlPath, emlSHA, sinkMsgID, sinkThreadID, labelsJSON, lastError, lastErrorAt sql.NullString
	var sizeBytes sql.NullInt64
	var createdAt, updatedAt string

	err := row.Scan(
		&m.ID, &m.Folder, &m.UID, &m.UIDValidity, &m.Status, &msgID, &m.Fingerprint,
		&emlPath, &emlSHA, &sizeBytes, &sinkMsgID, &sinkThreadID,
		&labelsJSON, &m.Attempts, &lastError, &lastErrorAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.MessageIDNorm = msgID.String
	m.EMLPath = emlPath.String
	m.EMLSHA256 = emlSHA.String
	m.SizeBytes = sizeBytes.Int64
	m.SinkMessageID = sinkMsgID.String
	m.SinkThreadID = sinkThreadID.String
	m.LastError = lastError.String
	if lastErrorAt.Valid {
		m.LastErrorAt = parseISO(lastErrorAt.String)
	}
	if labelsJSON.Valid && labelsJSON.String != "" {
		if err := json.Unmarshal([]byte(labelsJSON.String), &m.Labels); err != nil {
			return nil, fmt.Errorf("decode labels for message %d: %w", m.ID, err)
		}
	}
	m.CreatedAt = parseISO(createdAt)
	m.UpdatedAt = parseISO(updatedAt)
	return &m, nil
}

// UpsertMessageDiscovered records a freshly fetched message. On conflict the
// fingerprint, normalized Message-ID and size are refreshed; the status is
// reset to discovered only when it is currently skipped_filtered or failed,
// so imported/downloaded/skipped_duplicate outcomes survive re-scans. The
// resulting row is returned.
func (l *Ledger) UpsertMessageDiscovered(folder string, uid uint32, uidvalidity int64, messageIDNorm, fingerprint string, sizeBytes int64) (*Message, error) {
	now := nowISO()
	err := l.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO messages(
			  folder, uid, uidvalidity, status, message_id_norm, fingerprint,
			  size_bytes, created_at, updated_at
			)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(folder, uid, uidvalidity) DO UPDATE SET
			  message_id_norm=excluded.message_id_norm,
			  fingerprint=excluded.fingerprint,
			  size_bytes=excluded.size_bytes,
			  updated_at=excluded.updated_at,
			  status=CASE
			    WHEN status IN ('skipped_filtered', 'failed') THEN 'discovered'
			    ELSE status
			  END
		`, folder, uid, uidvalidity, StatusDiscovered, nullStr(messageIDNorm), fingerprint, sizeBytes, now, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert message %s/%d: %w", folder, uid, err)
	}

	return l.getMessageByKey(folder, uid, uidvalidity)
}

func (l *Ledger) getMessageByKey(folder string, uid uint32, uidvalidity int64) (*Message, error) {
	row := l.db.QueryRow(`SELECT`+messageColumns+`
		FROM messages WHERE folder=? AND uid=? AND uidvalidity=?`,
		folder, uid, uidvalidity)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("get message %s/%d: %w", folder, uid, err)
	}
	return m, nil
}

// GetMessage returns the row with the given surrogate id, or nil.
func (l *Ledger) GetMessage(id int64) (*Message, error) {
	row := l.db.QueryRow(`SELECT`+messageColumns+` FROM messages WHERE id=?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return m, nil
}

// MarkDownloaded transitions a row to downloaded and records the evidence
// location.
func (l *Ledger) MarkDownloaded(id int64, emlPath, emlSHA256 string) error {
	return l.mark(id, `UPDATE messages SET status=?, eml_path=?, eml_sha256=?, updated_at=? WHERE id=?`,
		StatusDownloaded, emlPath, emlSHA256, nowISO(), id)
}

// MarkImported transitions a row to imported with the sink's identifiers.
// Labels are serialized as a JSON array.
func (l *Ledger) MarkImported(id int64, sinkMessageID, sinkThreadID string, labels []string) error {
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	return l.mark(id, `UPDATE messages SET status=?, sink_message_id=?, sink_thread_id=?, labels_json=?, updated_at=? WHERE id=?`,
		StatusImported, sinkMessageID, nullStr(sinkThreadID), string(labelsJSON), nowISO(), id)
}

// MarkFailed transitions a row to failed, incrementing attempts and
// recording the error.
func (l *Ledger) MarkFailed(id int64, errMsg string) error {
	now := nowISO()
	return l.mark(id, `UPDATE messages SET status=?, attempts=attempts+1, last_error=?, last_error_at=?, updated_at=? WHERE id=?`,
		StatusFailed, errMsg, now, now, id)
}

// MarkSkippedDuplicate records that the message matches an already-imported
// row.
func (l *Ledger) MarkSkippedDuplicate(id int64, reason string) error {
	now := nowISO()
	return l.mark(id, `UPDATE messages SET status=?, last_error=?, last_error_at=?, updated_at=? WHERE id=?`,
		StatusSkippedDuplicate, reason, now, now, id)
}

// MarkSkippedFiltered records that the message was excluded by the address
// filter.
func (l *Ledger) MarkSkippedFiltered(id int64, reason string) error {
	now := nowISO()
	return l.mark(id, `UPDATE messages SET status=?, last_error=?, last_error_at=?, updated_at=? WHERE id=?`,
		StatusSkippedFiltered, reason, now, now, id)
}

func (l *Ledger) mark(id int64, query string, args ...any) error {
	err := l.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("message %d not found", id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark message %d: %w", id, err)
	}
	return nil
}

// FindExistingImported returns the id of any row that already reached the
// sink (non-null sink_message_id) and matches by normalized Message-ID
// (tried first when non-empty) or by fingerprint. The second return value
// reports whether a match was found.
func (l *Ledger) FindExistingImported(messageIDNorm, fingerprint string) (int64, bool, error) {
	if messageIDNorm != "" {
		var id int64
		err := l.db.QueryRow(`
			SELECT id FROM messages
			WHERE sink_message_id IS NOT NULL AND message_id_norm=?
			LIMIT 1
		`, messageIDNorm).Scan(&id)
		if err == nil {
			return id, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, false, fmt.Errorf("find imported by message id: %w", err)
		}
	}

	var id int64
	err := l.db.QueryRow(`
		SELECT id FROM messages
		WHERE sink_message_id IS NOT NULL AND fingerprint=?
		LIMIT 1
	`, fingerprint).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("find imported by fingerprint: %w", err)
	}
	return id, true, nil
}

// CountFolderMessages returns the number of imported rows in a folder,
// used to seed the progress display on restart.
func (l *Ledger) CountFolderMessages(folder string) (int64, error) {
	var n int64
	err := l.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE status=? AND folder=?`,
		StatusImported, folder).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count folder messages: %w", err)
	}
	return n, nil
}

// CountsByStatus returns the status histogram.
func (l *Ledger) CountsByStatus() (map[Status]int64, error) {
	rows, err := l.db.Query(`SELECT status, COUNT(*) FROM messages GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int64)
	for rows.Next() {
		var status Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// ResetSkippedAndFailed rewinds every folder checkpoint to 0 and transitions
// every skipped_filtered, failed, and skipped_duplicate message back to
// discovered. Imported and downloaded rows are untouched. Returns the number
// of message rows affected.
func (l *Ledger) ResetSkippedAndFailed() (int64, error) {
	var affected int64
	err := l.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE folders SET last_uid_seen = 0, updated_at = ?`, nowISO()); err != nil {
			return err
		}
		res, err := tx.Exec(`
			UPDATE messages SET status=?, updated_at=?
			WHERE status IN (?, ?, ?)
		`, StatusDiscovered, nowISO(), StatusSkippedFiltered, StatusFailed, StatusSkippedDuplicate)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reset skipped/failed: %w", err)
	}
	return affected, nil
}

// MessageIter iterates message rows ordered by id ascending.
type MessageIter struct {
	rows *sql.Rows
	err  error
	cur  *Message
}

// IterMessages returns an iterator over messages, optionally filtered by
// status (nil means all). The caller must Close the iterator.
func (l *Ledger) IterMessages(status *Status) (*MessageIter, error) {
	var rows *sql.Rows
	var err error
	if status == nil {
		rows, err = l.db.Query(`SELECT` + messageColumns + ` FROM messages ORDER BY id`)
	} else {
		rows, err = l.db.Query(`SELECT`+messageColumns+` FROM messages WHERE status=? ORDER BY id`, *status)
	}
	if err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return &MessageIter{rows: rows}, nil
}

// Next advances to the next row, returning false at the end or on error.
func (it *MessageIter) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	m, err := scanMessage(it.rows)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = m
	return true
}

// Message returns the current row.
func (it *MessageIter) Message() *Message {
	return it.cur
}

// Err returns the first error encountered during iteration.
func (it *MessageIter) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

// Close releases the underlying cursor.
func (it *MessageIter) Close() error {
	return it.rows.Close()
}
