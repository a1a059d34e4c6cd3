package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts int) retryPolicy {
	return retryPolicy{
		attempts: attempts,
		base:     time.Millisecond,
		cap:      5 * time.Millisecond,
		jitter:   time.Millisecond,
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	var calls int
	err := fastRetry(5).do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	last := errors.New("still broken")
	var calls int
	err := fastRetry(3).do(context.Background(), func() error {
		calls++
		return last
	})
	if !errors.Is(err, last) {
		t.Errorf("err = %v, want %v", err, last)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := retryPolicy{attempts: 10, base: time.Hour, cap: time.Hour}.do(ctx, func() error {
		calls++
		cancel()
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := retryPolicy{attempts: 5, base: 100 * time.Millisecond, cap: 300 * time.Millisecond}

	if d := p.backoff(1); d != 100*time.Millisecond {
		t.Errorf("backoff(1) = %v", d)
	}
	if d := p.backoff(2); d != 200*time.Millisecond {
		t.Errorf("backoff(2) = %v", d)
	}
	if d := p.backoff(3); d != 300*time.Millisecond {
		t.Errorf("backoff(3) = %v, want capped", d)
	}
	if d := p.backoff(10); d != 300*time.Millisecond {
		t.Errorf("backoff(10) = %v, want capped", d)
	}
}
