package pipeline

import (
	"log/slog"
	"sync"
)

// Progress receives advisory completion counts. Totals are set once after
// pre-scan; Advance may be called from any goroutine.
type Progress interface {
	SetTotal(n int64)
	Advance(n int64)
}

// NullProgress discards all updates.
type NullProgress struct{}

func (NullProgress) SetTotal(int64) {}
func (NullProgress) Advance(int64)  {}

// LogProgress logs completion counts at a fixed interval of processed
// messages, and always at the boundaries.
type LogProgress struct {
	logger *slog.Logger
	every  int64

	mu    sync.Mutex
	total int64
	done  int64
}

// NewLogProgress creates a LogProgress that reports every `every` messages.
func NewLogProgress(logger *slog.Logger, every int64) *LogProgress {
	if every < 1 {
		every = 100
	}
	return &LogProgress{logger: logger, every: every}
}

func (p *LogProgress) SetTotal(n int64) {
	p.mu.Lock()
	p.total = n
	p.mu.Unlock()
	p.logger.Info("migration scope", "messages", n)
}

func (p *LogProgress) Advance(n int64) {
	p.mu.Lock()
	before := p.done
	p.done += n
	done, total := p.done, p.total
	p.mu.Unlock()

	if done/p.every != before/p.every || (total > 0 && done >= total) {
		p.logger.Info("progress", "done", done, "total", total)
	}
}
