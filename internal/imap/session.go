// Package imap implements the subset of IMAP4rev1 the migration needs:
// LOGIN, LIST, SELECT, UID SEARCH, and UID FETCH over TLS, with response
// parsing tolerant of real-world servers, plus a fixed-size session pool.
package imap

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// ErrNotConnected is returned when a command is issued on a session that
// has no live connection.
var ErrNotConnected = errors.New("imap: session not connected")

// DefaultTimeout bounds each IMAP command, including its full response.
const DefaultTimeout = 120 * time.Second

// SessionConfig holds connection parameters for one IMAP session.
type SessionConfig struct {
	Host     string
	Port     int
	SSL      bool
	Username string
	Password string
	Timeout  time.Duration // zero means DefaultTimeout
}

// Addr returns the host:port dial address.
func (c SessionConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Session is a single IMAP connection. It is a single-flight facility: an
// internal mutex admits at most one in-flight command, and every command is
// deadline-bounded.
type Session struct {
	cfg    SessionConfig
	logger *slog.Logger

	mu       sync.Mutex
	conn     net.Conn
	r        *bufio.Reader
	tagSeq   int
	selected string // currently selected mailbox, "" if none
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// NewSession creates an unconnected session.
func NewSession(cfg SessionConfig, opts ...SessionOption) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	s := &Session{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials the server and consumes the greeting.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked(ctx)
}

func (s *Session) connectLocked(ctx context.Context) error {
	if s.conn != nil {
		return nil
	}

	addr := s.cfg.Addr()
	s.logger.Debug("connecting to IMAP server", "addr", addr, "ssl", s.cfg.SSL)

	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	var conn net.Conn
	var err error
	if s.cfg.SSL {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: s.cfg.Host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	s.conn = conn
	s.r = bufio.NewReader(conn)
	s.selected = ""

	// Greeting: "* OK ..." (or "* PREAUTH ...").
	if err := conn.SetDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		s.closeLocked()
		return fmt.Errorf("set deadline: %w", err)
	}
	greeting, err := s.readLine()
	if err != nil {
		s.closeLocked()
		return fmt.Errorf("read IMAP greeting: %w", err)
	}
	if !bytes.HasPrefix(greeting, []byte("* ")) {
		s.closeLocked()
		return fmt.Errorf("unexpected IMAP greeting: %q", greeting)
	}
	return nil
}

// Login authenticates with username and app password.
func (s *Session) Login(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(ctx); err != nil {
		return err
	}
	cmd := fmt.Sprintf("LOGIN %s %s", QuoteMailbox(s.cfg.Username), QuoteMailbox(s.cfg.Password))
	if _, err := s.execLocked(ctx, "LOGIN", cmd); err != nil {
		return err
	}
	s.logger.Debug("imap authenticated", "user", s.cfg.Username)
	return nil
}

// Logout sends LOGOUT and closes the connection. Safe to call on a
// disconnected session.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	_, err := s.execLocked(ctx, "LOGOUT", "LOGOUT")
	s.closeLocked()
	if err != nil {
		return fmt.Errorf("imap logout: %w", err)
	}
	return nil
}

func (s *Session) closeLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
		s.r = nil
		s.selected = ""
	}
}

// ListMailboxes returns the names of all mailboxes on the server.
func (s *Session) ListMailboxes(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lines, err := s.execLocked(ctx, "LIST", `LIST "" "*"`)
	if err != nil {
		return nil, err
	}
	names := ParseListResponse(lines)
	if len(names) == 0 {
		s.logger.Debug("imap LIST returned no mailboxes", "lines", len(lines))
	}
	return names, nil
}

// Select opens a mailbox and returns its metadata.
func (s *Session) Select(ctx context.Context, mailbox string) (SelectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(ctx, mailbox)
}

func (s *Session) selectLocked(ctx context.Context, mailbox string) (SelectInfo, error) {
	lines, err := s.execLocked(ctx, "SELECT", "SELECT "+QuoteMailbox(mailbox))
	if err != nil {
		return SelectInfo{}, err
	}
	s.selected = mailbox
	return ParseSelectInfo(mailbox, lines), nil
}

// UIDSearch runs UID SEARCH with the given criteria and returns matching
// UIDs. An empty result is not an error.
func (s *Session) UIDSearch(ctx context.Context, criteria []string) ([]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(criteria) == 0 {
		criteria = []string{"ALL"}
	}
	lines, err := s.execLocked(ctx, "UID SEARCH", "UID SEARCH "+strings.Join(criteria, " "))
	if err != nil {
		return nil, err
	}
	uids := ParseSearchUIDs(lines)
	if len(uids) == 0 {
		s.logger.Debug("imap UID SEARCH returned no matches", "criteria", criteria)
	}
	return uids, nil
}

// FetchRFC822 fetches the raw message bytes for a UID in the given mailbox,
// selecting it first if needed. BODY.PEEK[] is used so the server's seen
// flag is not altered.
func (s *Session) FetchRFC822(ctx context.Context, mailbox string, uid uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selected != mailbox {
		if _, err := s.selectLocked(ctx, mailbox); err != nil {
			return nil, err
		}
	}

	lines, err := s.execLocked(ctx, "UID FETCH", fmt.Sprintf("UID FETCH %d (BODY.PEEK[])", uid))
	if err != nil {
		return nil, err
	}
	raw, err := ExtractFetchLiteral(lines)
	if err != nil {
		return nil, fmt.Errorf("uid %d: %w", uid, err)
	}
	return raw, nil
}

// execLocked sends one command and collects response lines until the tagged
// completion. Literal payloads ({N} continuations) are returned as their own
// entries, mirroring how the parser functions expect them. Caller holds mu.
func (s *Session) execLocked(ctx context.Context, name, command string) ([][]byte, error) {
	if s.conn == nil {
		return nil, ErrNotConnected
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	s.tagSeq++
	tag := fmt.Sprintf("M%04d", s.tagSeq)
	if _, err := s.conn.Write([]byte(tag + " " + command + "\r\n")); err != nil {
		s.closeLocked()
		return nil, fmt.Errorf("imap %s write: %w", name, err)
	}

	var lines [][]byte
	taggedPrefix := []byte(tag + " ")
	for {
		line, err := s.readLine()
		if err != nil {
			s.closeLocked()
			return nil, fmt.Errorf("imap %s read: %w", name, err)
		}

		if bytes.HasPrefix(line, taggedPrefix) {
			status := bytes.TrimSpace(line[len(taggedPrefix):])
			if bytes.HasPrefix(status, []byte("OK")) {
				return lines, nil
			}
			return nil, fmt.Errorf("imap %s failed: %s", name, status)
		}

		lines = append(lines, line)
		// Consume literal continuations: a line ending in {N} is followed
		// by exactly N raw bytes, then the remainder of the logical line.
		for {
			m := fetchLiteralRe.FindSubmatch(line)
			if m == nil {
				break
			}
			var size int
			if _, err := fmt.Sscanf(string(m[1]), "%d", &size); err != nil {
				break
			}
			payload := make([]byte, size)
			if _, err := io.ReadFull(s.r, payload); err != nil {
				s.closeLocked()
				return nil, fmt.Errorf("imap %s literal read: %w", name, err)
			}
			lines = append(lines, payload)

			line, err = s.readLine()
			if err != nil {
				s.closeLocked()
				return nil, fmt.Errorf("imap %s read: %w", name, err)
			}
			lines = append(lines, line)
		}
	}
}

// readLine reads one CRLF-terminated line without the terminator.
func (s *Session) readLine() ([]byte, error) {
	line, err := s.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	line = bytes.TrimRight(line, "\r\n")
	return line, nil
}
