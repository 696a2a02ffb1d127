package retry

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// BudgetManager caps retries at a ratio of first attempts within a
// rolling window, so a failing dependency cannot multiply traffic.
type BudgetManager struct {
	ratio  float64
	window time.Duration
	clock  clockwork.Clock

	mu          sync.Mutex
	requests    int64
	retries     int64
	windowStart time.Time
}

// NewBudgetManager clamps ratio into [0,1]; window <= 0 means one minute.
// A nil clock means the real clock.
func NewBudgetManager(ratio float64, window time.Duration, clock clockwork.Clock) *BudgetManager {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BudgetManager{ratio: ratio, window: window, clock: clock, windowStart: clock.Now()}
}

// RecordRequest counts a first attempt.
func (b *BudgetManager) RecordRequest() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeResetWindow()
	b.requests++
}

// AllowRetry consumes one retry if the budget permits it.
func (b *BudgetManager) AllowRetry() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeResetWindow()
	if float64(b.retries+1) > float64(b.requests)*b.ratio {
		return false
	}
	b.retries++
	return true
}

// BudgetStats is a point-in-time view.
type BudgetStats struct {
	Requests    int64
	Retries     int64
	MaxRetries  int64
	WindowStart time.Time
}

func (b *BudgetManager) Stats() BudgetStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeResetWindow()
	return BudgetStats{
		Requests:    b.requests,
		Retries:     b.retries,
		MaxRetries:  int64(float64(b.requests) * b.ratio),
		WindowStart: b.windowStart,
	}
}

// caller holds mu
func (b *BudgetManager) maybeResetWindow() {
	now := b.clock.Now()
	if now.Sub(b.windowStart) >= b.window {
		b.requests = 0
		b.retries = 0
		b.windowStart = now
	}
}
