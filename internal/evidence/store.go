// Package evidence persists fetched messages as immutable .eml files.
package evidence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/vectorfy/migratemail/internal/message"
)

// ErrMismatch is returned when an evidence file already exists with
// different content than the bytes being written. The existing file is
// never altered.
var ErrMismatch = errors.New("evidence file exists with different content")

var folderSafeRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SafeFolderName normalizes a mailbox name into a filesystem-safe directory
// name: path separators and anything outside [A-Za-z0-9._-] become "_",
// leading/trailing "._-" are trimmed, and an empty result becomes "folder".
func SafeFolderName(folder string) string {
	s := strings.TrimSpace(folder)
	s = strings.ReplaceAll(s, string(os.PathSeparator), "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = folderSafeRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "._-")
	if s == "" {
		return "folder"
	}
	return s
}

// WriteResult describes a written or verified evidence file.
type WriteResult struct {
	Path      string
	SHA256    string
	SizeBytes int64
}

// Store writes .eml files under a root directory. Files are committed
// atomically and made read-only; an existing file is only accepted when its
// content hash matches the new bytes.
type Store struct {
	root string
}

// New creates a Store rooted at dir.
func New(dir string) *Store {
	return &Store{root: dir}
}

// Root returns the evidence root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the evidence path for a message without touching the
// filesystem. uidvalidity 0 means unknown.
func (s *Store) Path(folder string, uidvalidity int64, uid uint32) string {
	return filepath.Join(s.root, SafeFolderName(folder), fmt.Sprintf("%d-%d.eml", uidvalidity, uid))
}

// WriteImmutable persists raw RFC822 bytes for (folder, uidvalidity, uid).
// The write is idempotent: if the target already exists with identical
// content, its metadata is returned; if it differs, ErrMismatch. New files
// are written to a temp file in the same directory, fsynced, renamed onto
// the target, the directory fsynced, and the file chmodded read-only.
func (s *Store) WriteImmutable(folder string, uidvalidity int64, uid uint32, raw []byte) (WriteResult, error) {
	folderDir := filepath.Join(s.root, SafeFolderName(folder))
	if err := os.MkdirAll(folderDir, 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("create evidence directory: %w", err)
	}

	target := filepath.Join(folderDir, fmt.Sprintf("%d-%d.eml", uidvalidity, uid))
	expectedSHA := message.SHA256Hex(raw)

	if info, err := os.Stat(target); err == nil {
		actualSHA, err := message.SHA256File(target)
		if err != nil {
			return WriteResult{}, fmt.Errorf("hash existing evidence %s: %w", target, err)
		}
		if actualSHA != expectedSHA {
			return WriteResult{}, fmt.Errorf("%w: %s", ErrMismatch, target)
		}
		return WriteResult{Path: target, SHA256: actualSHA, SizeBytes: info.Size()}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return WriteResult{}, fmt.Errorf("stat evidence %s: %w", target, err)
	}

	tmp, err := os.CreateTemp(folderDir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return WriteResult{}, fmt.Errorf("create temp evidence file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return WriteResult{}, fmt.Errorf("write evidence: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return WriteResult{}, fmt.Errorf("sync evidence: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return WriteResult{}, fmt.Errorf("close evidence: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		return WriteResult{}, fmt.Errorf("commit evidence: %w", err)
	}
	if err := syncDir(folderDir); err != nil {
		return WriteResult{}, fmt.Errorf("sync evidence directory: %w", err)
	}
	if err := os.Chmod(target, 0o444); err != nil {
		return WriteResult{}, fmt.Errorf("chmod evidence: %w", err)
	}

	return WriteResult{Path: target, SHA256: expectedSHA, SizeBytes: int64(len(raw))}, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
