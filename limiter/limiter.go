// Package limiter provides the token bucket that keeps remote fetches under
// the node's request quota.
//
// The limiter is optional: when Enabled is false every call is let through
// without touching the bucket.
package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/KOMKZ/go-yogan-accountsync/errdef"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

var (
	// ErrWaitTimeout means the wait for a token would exceed MaxWait. It is
	// a timeout, so the recovery executor may retry it.
	ErrWaitTimeout = errdef.ErrTimeout.WithMsg("rate limiter wait exceeds max wait")

	// ErrBurstExceeded means more tokens were requested than the bucket holds.
	ErrBurstExceeded = errdef.ErrInvalidArgument.WithMsg("requested tokens exceed burst")
)

// TokenBucket refills at Rate tokens per second up to Burst. Waiters
// reserve tokens up front, so the bucket may go negative and later callers
// queue behind earlier ones.
type TokenBucket struct {
	cfg     Config
	clock   clockwork.Clock
	logger  *logger.CtxZapLogger
	metrics *OTelMetrics

	mu       sync.Mutex
	tokens   float64
	last     time.Time
	allowed  uint64
	rejected uint64
	waited   uint64
}

// Stats is a snapshot of the bucket.
type Stats struct {
	Enabled  bool
	Tokens   float64
	Allowed  uint64
	Rejected uint64
	Waited   uint64
}

func New(cfg Config, opts ...Option) (*TokenBucket, error) {
	cfg.ApplyDefaults()
	if err := validator.Check("limiter", cfg); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	b := &TokenBucket{
		cfg:     cfg,
		clock:   o.clock,
		logger:  o.logger,
		metrics: o.metrics,
		tokens:  float64(cfg.Burst),
		last:    o.clock.Now(),
	}
	if b.metrics != nil {
		b.metrics.observeTokens(b.available)
	}
	return b, nil
}

func (b *TokenBucket) IsEnabled() bool { return b.cfg.Enabled }

func (b *TokenBucket) Allow() bool { return b.AllowN(1) }

// AllowN takes n tokens if they are available now.
func (b *TokenBucket) AllowN(n int64) bool {
	if !b.cfg.Enabled {
		return true
	}
	b.mu.Lock()
	b.refillLocked()
	ok := b.tokens >= float64(n)
	if ok {
		b.tokens -= float64(n)
		b.allowed++
	} else {
		b.rejected++
	}
	b.mu.Unlock()

	b.metrics.record(ok, false)
	return ok
}

func (b *TokenBucket) Wait(ctx context.Context) error { return b.WaitN(ctx, 1) }

// WaitN blocks until n tokens are reserved, ctx ends or the wait would
// exceed MaxWait.
func (b *TokenBucket) WaitN(ctx context.Context, n int64) error {
	if !b.cfg.Enabled {
		return nil
	}
	if n > b.cfg.Burst {
		return ErrBurstExceeded.WithData("requested", n).WithData("burst", b.cfg.Burst)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	b.refillLocked()
	b.tokens -= float64(n)
	var wait time.Duration
	if b.tokens < 0 {
		wait = time.Duration(-b.tokens / b.cfg.Rate * float64(time.Second))
	}
	if b.cfg.MaxWait > 0 && wait > b.cfg.MaxWait {
		b.tokens += float64(n)
		b.rejected++
		b.mu.Unlock()
		b.metrics.record(false, false)
		return ErrWaitTimeout.WithData("wait", wait.String())
	}
	b.allowed++
	if wait > 0 {
		b.waited++
	}
	b.mu.Unlock()
	b.metrics.record(true, wait > 0)

	if wait == 0 {
		return nil
	}
	b.logger.Debug("waiting for rate limit token", zap.Duration("wait", wait))

	timer := b.clock.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		b.refillLocked()
		b.tokens += float64(n)
		if b.tokens > float64(b.cfg.Burst) {
			b.tokens = float64(b.cfg.Burst)
		}
		b.mu.Unlock()
		return ctx.Err()
	}
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if elapsed := now.Sub(b.last); elapsed > 0 {
		b.tokens += elapsed.Seconds() * b.cfg.Rate
		if b.tokens > float64(b.cfg.Burst) {
			b.tokens = float64(b.cfg.Burst)
		}
	}
	b.last = now
}

func (b *TokenBucket) available() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}

func (b *TokenBucket) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return Stats{
		Enabled:  b.cfg.Enabled,
		Tokens:   b.tokens,
		Allowed:  b.allowed,
		Rejected: b.rejected,
		Waited:   b.waited,
	}
}
