// Package recovery wraps fallible operations with a retry policy, a
// per-class circuit breaker, a per-attempt timeout and an optional fallback.
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/KOMKZ/go-yogan-accountsync/breaker"
	"github.com/KOMKZ/go-yogan-accountsync/classify"
	"github.com/KOMKZ/go-yogan-accountsync/errdef"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/retry"
	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

// Executor is the single place where a failure becomes a retry, a
// fallback substitution or a returned error. It is safe for concurrent use.
type Executor struct {
	cfg        Config
	policy     retry.Policy
	breakers   *breaker.Registry
	budget     *retry.BudgetManager
	classifier classify.Classifier
	clock      clockwork.Clock
	logger     *logger.CtxZapLogger
}

// New validates cfg and builds the policy, breaker registry and budget.
func New(cfg Config, opts ...Option) (*Executor, error) {
	cfg.ApplyDefaults()
	if err := validator.Check("recovery", cfg); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	e := &Executor{
		cfg:        cfg,
		policy:     o.policy,
		classifier: o.classifier,
		clock:      o.clock,
		logger:     o.logger,
	}
	if e.policy == nil {
		p, err := cfg.Retry.Build(o.classifier)
		if err != nil {
			return nil, err
		}
		e.policy = p
	}
	if !cfg.DisableBreaker {
		reg, err := breaker.NewRegistry(cfg.Breaker,
			breaker.WithClock(o.clock),
			breaker.WithLogger(o.logger),
			breaker.WithMetrics(o.metrics),
			breaker.WithFailurePredicate(e.countsAgainstBreaker))
		if err != nil {
			return nil, err
		}
		e.breakers = reg
	}
	if cfg.BudgetRatio > 0 {
		e.budget = retry.NewBudgetManager(cfg.BudgetRatio, cfg.BudgetWindow, o.clock)
	}
	return e, nil
}

// countsAgainstBreaker: only errors that say something about the
// dependency's health trip a breaker. A decode failure or a bad address
// means the dependency answered.
func (e *Executor) countsAgainstBreaker(err error) bool {
	if errors.Is(err, errdef.ErrCircuitOpen) {
		return false
	}
	return e.classifier.Classify(err).Retryable
}

// Breakers exposes the registry, nil when breakers are disabled.
func (e *Executor) Breakers() *breaker.Registry { return e.breakers }

// Budget exposes the retry budget, nil when disabled.
func (e *Executor) Budget() *retry.BudgetManager { return e.budget }

// Close stops the breaker event bus.
func (e *Executor) Close() {
	if e.breakers != nil {
		e.breakers.Close()
	}
}

// Options tunes a single Execute call.
type Options[T any] struct {
	// Fallback receives the terminal error once retries are exhausted or
	// the circuit is open. Its error supersedes the original one.
	Fallback func(ctx context.Context, err error) (T, error)

	// Timeout overrides the executor's per-attempt timeout.
	Timeout time.Duration

	// Policy overrides the executor's retry policy.
	Policy retry.Policy
}

func mergeOptions[T any](opts []Options[T]) Options[T] {
	var out Options[T]
	for _, o := range opts {
		if o.Fallback != nil {
			out.Fallback = o.Fallback
		}
		if o.Timeout > 0 {
			out.Timeout = o.Timeout
		}
		if o.Policy != nil {
			out.Policy = o.Policy
		}
	}
	return out
}

// Execute runs op as operation class name. Every attempt passes the
// class breaker first; a rejection ends the sequence at once. On failure
// the error is a *retry.MultiError whose cause is the most specific
// attempt error.
func Execute[T any](ctx context.Context, e *Executor, name string, op func(context.Context) (T, error), opts ...Options[T]) (T, error) {
	o := mergeOptions(opts)
	policy := e.policy
	if o.Policy != nil {
		policy = o.Policy
	}
	timeout := e.cfg.Timeout
	if o.Timeout > 0 {
		timeout = o.Timeout
	}

	var cb *breaker.CircuitBreaker
	if e.breakers != nil {
		cb = e.breakers.Get(name)
	}

	attempt := func(ctx context.Context) (T, error) {
		if cb != nil {
			if err := cb.Allow(ctx); err != nil {
				var zero T
				return zero, err
			}
		}
		start := e.clock.Now()
		v, err := retry.RunWithTimeout(ctx, e.clock, timeout, op)
		if cb != nil {
			cb.Done(ctx, err, e.clock.Since(start))
		}
		return v, err
	}

	v, err := retry.DoWithData(ctx, policy, attempt,
		retry.Clock(e.clock),
		retry.Classifier(e.classifier),
		retry.Budget(e.budget),
		retry.StopOn(func(err error) bool { return errors.Is(err, errdef.ErrCircuitOpen) }),
		retry.OnRetry(func(a retry.Attempt) {
			e.logger.DebugCtx(ctx, "retrying operation",
				zap.String("operation", name),
				zap.Int("attempt", a.Number),
				zap.Duration("delay", a.Delay),
				zap.Error(a.Err))
		}),
	)
	if err == nil {
		return v, nil
	}

	if o.Fallback == nil || ctx.Err() != nil {
		return v, err
	}

	e.logger.InfoCtx(ctx, "operation failed, using fallback",
		zap.String("operation", name),
		zap.Int("attempts", len(retry.GetAttempts(err))),
		zap.Error(err))

	fv, ferr := o.Fallback(ctx, err)
	if ferr != nil {
		original := err
		if me, ok := err.(*retry.MultiError); ok {
			original = me.Cause
		}
		return fv, &retry.MultiError{
			Attempts: retry.GetAttempts(err),
			Cause:    ferr,
			Reason:   original,
		}
	}
	return fv, nil
}
