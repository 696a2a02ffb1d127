package health

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Aggregator runs registered checkers concurrently under one timeout.
type Aggregator struct {
	checkers []Checker
	timeout  time.Duration
	clock    clockwork.Clock
	mu       sync.RWMutex
	metadata map[string]interface{}
}

// NewAggregator uses a 5s timeout when timeout is not positive.
func NewAggregator(timeout time.Duration) *Aggregator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Aggregator{
		checkers: make([]Checker, 0),
		timeout:  timeout,
		clock:    clockwork.NewRealClock(),
		metadata: make(map[string]interface{}),
	}
}

// WithClock sets the clock used for timestamps and durations.
func (a *Aggregator) WithClock(c clockwork.Clock) *Aggregator {
	a.clock = c
	return a
}

func (a *Aggregator) Register(checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.checkers = append(a.checkers, checker)
}

func (a *Aggregator) SetMetadata(key string, value interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metadata[key] = value
}

// Check runs every checker and folds the results: any unhealthy result
// makes the aggregate unhealthy, otherwise any degraded one degrades it.
func (a *Aggregator) Check(ctx context.Context) *Response {
	start := a.clock.Now()

	checkCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	a.mu.RLock()
	checkers := make([]Checker, len(a.checkers))
	copy(checkers, a.checkers)
	metadata := make(map[string]interface{}, len(a.metadata))
	for k, v := range a.metadata {
		metadata[k] = v
	}
	a.mu.RUnlock()

	results := make(chan CheckResult, len(checkers))
	for _, checker := range checkers {
		go func(c Checker) {
			results <- a.checkOne(checkCtx, c)
		}(checker)
	}

	checks := make(map[string]CheckResult, len(checkers))
	for i := 0; i < len(checkers); i++ {
		result := <-results
		checks[result.Name] = result
	}

	return &Response{
		Status:    overallStatus(checks),
		Timestamp: a.clock.Now(),
		Duration:  a.clock.Since(start),
		Checks:    checks,
		Metadata:  metadata,
	}
}

func (a *Aggregator) checkOne(ctx context.Context, checker Checker) CheckResult {
	start := a.clock.Now()
	result := CheckResult{
		Name:      checker.Name(),
		Timestamp: start,
	}

	err := checker.Check(ctx)
	result.Duration = a.clock.Since(start)

	switch {
	case err == nil:
		result.Status = StatusHealthy
		result.Message = "OK"
	case IsDegraded(err):
		result.Status = StatusDegraded
		result.Message = err.Error()
	default:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Health check failed"
	}
	return result
}

func overallStatus(checks map[string]CheckResult) Status {
	status := StatusHealthy
	for _, result := range checks {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			status = StatusDegraded
		}
	}
	return status
}
