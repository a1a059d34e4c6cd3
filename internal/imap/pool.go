package imap

import (
	"context"
	"fmt"
	"log/slog"
)

// Pool is a fixed-size pool of authenticated sessions with a
// checkout/return discipline. Acquirers block while the pool is empty.
type Pool struct {
	cfg    SessionConfig
	size   int
	logger *slog.Logger

	sessions []*Session
	idle     chan *Session
}

// NewPool creates a pool of size authenticated sessions. Connect must be
// called before Acquire.
func NewPool(cfg SessionConfig, size int, opts ...SessionOption) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		cfg:    cfg,
		size:   size,
		logger: slog.Default(),
		idle:   make(chan *Session, size),
	}
	for i := 0; i < size; i++ {
		p.sessions = append(p.sessions, NewSession(cfg, opts...))
	}
	return p
}

// Connect dials and authenticates every session. On failure the sessions
// connected so far are logged out.
func (p *Pool) Connect(ctx context.Context) error {
	for i, s := range p.sessions {
		if err := s.Login(ctx); err != nil {
			p.Logout(ctx)
			return fmt.Errorf("connect pool session %d/%d: %w", i+1, p.size, err)
		}
		p.idle <- s
	}
	p.logger.Debug("imap pool connected", "size", p.size)
	return nil
}

// Acquire checks out a session, blocking until one is available or the
// context is done.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	select {
	case s := <-p.idle:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a session to the pool.
func (p *Pool) Release(s *Session) {
	p.idle <- s
}

// Logout logs out every session. All sessions are attempted even when some
// fail.
func (p *Pool) Logout(ctx context.Context) {
	for _, s := range p.sessions {
		if err := s.Logout(ctx); err != nil {
			p.logger.Warn("imap logout failed", "error", err)
		}
	}
	// Drain any idle entries so a late Acquire cannot hand out a dead session.
	for {
		select {
		case <-p.idle:
		default:
			return
		}
	}
}
