// Package gmail provides the Gmail ingestion surface of the migration: a
// REST client for profile, label, and message-upload endpoints, label
// mapping from IMAP folder names, and OAuth2 credential management.
package gmail

import (
	"context"
	"fmt"
)

// Mode selects which upload endpoint receives a message.
type Mode string

const (
	// ModeImport uses messages/import: scanning and classification apply,
	// as if the message arrived via SMTP.
	ModeImport Mode = "import"
	// ModeInsert uses messages/insert: the message is placed directly in
	// the mailbox without classification.
	ModeInsert Mode = "insert"
)

// DateSource selects how Gmail assigns the internal date of an uploaded
// message.
type DateSource string

const (
	DateSourceHeader   DateSource = "dateHeader"
	DateSourceReceived DateSource = "receivedTime"
)

// Label is a Gmail label as returned by the labels endpoint.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Profile describes the authenticated account.
type Profile struct {
	EmailAddress  string `json:"emailAddress"`
	MessagesTotal int64  `json:"messagesTotal"`
	ThreadsTotal  int64  `json:"threadsTotal"`
}

// IngestResult is the identity Gmail assigned to an uploaded message.
type IngestResult struct {
	MessageID string
	ThreadID  string
	LabelIDs  []string
}

// IngestError indicates the upload completed without a usable message ID.
type IngestError struct {
	Status int
	Body   string
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("gmail ingest failed (status %d): %s", e.Status, e.Body)
}

// API is the Gmail surface the pipeline depends on. Client implements it
// against the real service; tests substitute a fake.
type API interface {
	GetProfile(ctx context.Context) (*Profile, error)
	ListLabels(ctx context.Context) ([]*Label, error)
	CreateLabel(ctx context.Context, name string) (*Label, error)
	Ingest(ctx context.Context, raw []byte, labelIDs []string, mode Mode, dateSource DateSource) (*IngestResult, error)
}
