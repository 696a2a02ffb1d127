// Package breaker guards operation classes ("fetch", "rpc", ...) with
// consecutive-failure circuit breakers.
//
// A breaker is the one piece of state shared by every caller of its class;
// all transitions happen under its mutex.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/KOMKZ/go-yogan-accountsync/errdef"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
)

// ErrCircuitOpen is returned when a call is rejected without being invoked.
var ErrCircuitOpen = errdef.ErrCircuitOpen

// State of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Snapshot is a consistent copy of a breaker's counters.
type Snapshot struct {
	Class              string
	State              State
	FailureCount       int
	LastFailureAt      time.Time
	HalfOpenProbesUsed int
	LastStateChange    time.Time
}

// CircuitBreaker trips after FailureThreshold consecutive failures, stays
// open for RecoveryTimeout after the last failure, then admits at most
// HalfOpenMaxCalls trial calls. One successful trial closes it; a failed
// one reopens it.
type CircuitBreaker struct {
	class     string
	cfg       ClassConfig
	clock     clockwork.Clock
	isFailure func(error) bool
	logger    *logger.CtxZapLogger
	bus       *EventBus
	metrics   *OTelMetrics

	mu                 sync.Mutex
	state              State
	failureCount       int
	lastFailureAt      time.Time
	halfOpenProbesUsed int
	lastStateChange    time.Time
}

// New creates a standalone breaker. Registry is the usual entry point.
func New(class string, cfg ClassConfig, opts ...Option) *CircuitBreaker {
	o := newOptions(opts)
	return newBreaker(class, cfg, o, nil)
}

func newBreaker(class string, cfg ClassConfig, o *options, bus *EventBus) *CircuitBreaker {
	cfg.ApplyDefaults()
	return &CircuitBreaker{
		class:           class,
		cfg:             cfg,
		clock:           o.clock,
		isFailure:       o.isFailure,
		logger:          o.logger,
		bus:             bus,
		metrics:         o.metrics,
		state:           StateClosed,
		lastStateChange: o.clock.Now(),
	}
}

// Class returns the operation class this breaker guards.
func (b *CircuitBreaker) Class() string { return b.class }

// State returns the current state without side effects. An Open breaker
// whose recovery timeout has elapsed still reports Open until the next
// Allow moves it to HalfOpen.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *CircuitBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Class:              b.class,
		State:              b.state,
		FailureCount:       b.failureCount,
		LastFailureAt:      b.lastFailureAt,
		HalfOpenProbesUsed: b.halfOpenProbesUsed,
		LastStateChange:    b.lastStateChange,
	}
}

// Allow admits or rejects one call. Every admitted call must be followed
// by exactly one Done.
func (b *CircuitBreaker) Allow(ctx context.Context) error {
	b.mu.Lock()
	var changed *StateChangedEvent
	if b.state == StateOpen {
		if wait := b.cfg.RecoveryTimeout - b.clock.Since(b.lastFailureAt); wait > 0 {
			b.mu.Unlock()
			b.reject(ctx, wait)
			return ErrCircuitOpen.WithData("class", b.class).WithData("retry_after", wait)
		}
		changed = b.transitionLocked(StateHalfOpen)
		b.halfOpenProbesUsed = 0
	}

	if b.state == StateHalfOpen {
		if b.halfOpenProbesUsed >= b.cfg.HalfOpenMaxCalls {
			b.mu.Unlock()
			b.publish(ctx, changed)
			b.reject(ctx, 0)
			return ErrCircuitOpen.WithData("class", b.class).WithMsg("circuit breaker is half-open and its trial calls are in use")
		}
		b.halfOpenProbesUsed++
	}
	b.mu.Unlock()
	b.publish(ctx, changed)
	return nil
}

// Done records the outcome of an admitted call. Errors the failure
// predicate rejects count as successes because the dependency answered.
// Caller cancellation only releases a half-open trial slot.
func (b *CircuitBreaker) Done(ctx context.Context, err error, elapsed time.Duration) {
	switch {
	case err != nil && errors.Is(err, context.Canceled):
		b.mu.Lock()
		if b.state == StateHalfOpen && b.halfOpenProbesUsed > 0 {
			b.halfOpenProbesUsed--
		}
		b.mu.Unlock()
		b.metrics.recordCall(ctx, b.class, "canceled", elapsed)
	case err == nil || !b.isFailure(err):
		b.recordSuccess(ctx)
		b.metrics.recordCall(ctx, b.class, "success", elapsed)
	default:
		b.recordFailure(ctx, err)
		b.metrics.recordCall(ctx, b.class, "failure", elapsed)
	}
}

func (b *CircuitBreaker) recordSuccess(ctx context.Context) {
	b.mu.Lock()
	var changed *StateChangedEvent
	b.failureCount = 0
	if b.state == StateHalfOpen {
		changed = b.transitionLocked(StateClosed)
		b.halfOpenProbesUsed = 0
	}
	b.mu.Unlock()

	if changed != nil {
		b.logger.InfoCtx(ctx, "circuit closed", zap.String("class", b.class))
	}
	b.publish(ctx, changed)
}

func (b *CircuitBreaker) recordFailure(ctx context.Context, err error) {
	b.mu.Lock()
	var changed *StateChangedEvent
	b.lastFailureAt = b.clock.Now()
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			changed = b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		b.failureCount++
		changed = b.transitionLocked(StateOpen)
		b.halfOpenProbesUsed = 0
	}
	failures := b.failureCount
	b.mu.Unlock()

	if changed != nil {
		b.logger.WarnCtx(ctx, "circuit opened",
			zap.String("class", b.class),
			zap.String("from", changed.From.String()),
			zap.Int("failures", failures),
			zap.Error(err))
	}
	b.publish(ctx, changed)
}

// Reset forces the breaker closed.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	var changed *StateChangedEvent
	if b.state != StateClosed {
		changed = b.transitionLocked(StateClosed)
	}
	b.failureCount = 0
	b.halfOpenProbesUsed = 0
	b.mu.Unlock()
	b.publish(context.Background(), changed)
}

// caller holds mu
func (b *CircuitBreaker) transitionLocked(to State) *StateChangedEvent {
	from := b.state
	b.state = to
	b.lastStateChange = b.clock.Now()
	return &StateChangedEvent{Class: b.class, From: from, To: to, At: b.lastStateChange}
}

func (b *CircuitBreaker) publish(ctx context.Context, ev *StateChangedEvent) {
	if ev == nil {
		return
	}
	b.logger.DebugCtx(ctx, "circuit state changed",
		zap.String("class", b.class),
		zap.String("from", ev.From.String()),
		zap.String("to", ev.To.String()))
	b.bus.Publish(*ev)
}

func (b *CircuitBreaker) reject(ctx context.Context, wait time.Duration) {
	b.metrics.recordRejection(ctx, b.class)
	b.bus.Publish(RejectedEvent{Class: b.class, RetryAfter: wait, At: b.clock.Now()})
}

// Execute runs fn under b.
func Execute[T any](ctx context.Context, b *CircuitBreaker, fn func(context.Context) (T, error)) (T, error) {
	if err := b.Allow(ctx); err != nil {
		var zero T
		return zero, err
	}
	start := b.clock.Now()
	v, err := fn(ctx)
	b.Done(ctx, err, b.clock.Since(start))
	return v, err
}
