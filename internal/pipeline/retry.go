// Package pipeline orchestrates the migration: mailbox discovery, batched
// UID fetching over a session pool, fingerprinting and dedup against the
// ledger, evidence archival, and concurrent Gmail ingestion.
package pipeline

import (
	"context"
	"math/rand"
	"time"
)

// retryPolicy retries a transient operation with exponential backoff and
// uniform jitter. The final attempt's error is returned without sleeping.
type retryPolicy struct {
	attempts int
	base     time.Duration
	cap      time.Duration
	jitter   time.Duration
}

var defaultRetry = retryPolicy{
	attempts: 5,
	base:     500 * time.Millisecond,
	cap:      20 * time.Second,
	jitter:   250 * time.Millisecond,
}

// do runs fn until it succeeds, the attempts are exhausted, or the context
// is done.
func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == p.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff(attempt)):
		}
	}
	return lastErr
}

// backoff computes the sleep before the next attempt: capped exponential
// growth from base, plus uniform jitter.
func (p retryPolicy) backoff(attempt int) time.Duration {
	d := p.base << uint(attempt-1)
	if d > p.cap || d <= 0 {
		d = p.cap
	}
	if p.jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.jitter)))
	}
	return d
}
