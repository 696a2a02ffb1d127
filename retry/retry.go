// Package retry runs fallible operations under a retry Policy.
package retry

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KOMKZ/go-yogan-accountsync/classify"
	"github.com/KOMKZ/go-yogan-accountsync/errdef"
)

// Do runs op until it succeeds or policy gives up.
func Do(ctx context.Context, policy Policy, op func(context.Context) error, opts ...Option) error {
	_, err := DoWithData(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts...)
	return err
}

// DoWithData runs op until it succeeds or policy gives up. On failure the
// returned error is a *MultiError holding every attempt.
func DoWithData[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error), opts ...Option) (T, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.budget != nil {
		cfg.budget.RecordRequest()
	}

	var zero T
	var history []Attempt
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, cfg.fail(history, err)
		}

		start := cfg.clock.Now()
		result, err := runAttempt(ctx, cfg, op)
		if err == nil {
			return result, nil
		}
		rec := Attempt{Number: attempt, Err: err, Duration: cfg.clock.Since(start)}

		if cfg.stop(err) || !policy.ShouldRetry(attempt, err) {
			return zero, cfg.fail(append(history, rec), nil)
		}

		delay := policy.CalculateDelay(attempt)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			return zero, cfg.fail(append(history, rec), context.DeadlineExceeded)
		}
		if cfg.budget != nil && !cfg.budget.AllowRetry() {
			me := cfg.fail(append(history, rec), nil)
			me.Reason = ErrBudgetExhausted
			return zero, me
		}

		rec.Delay = delay
		history = append(history, rec)
		if cfg.onRetry != nil {
			cfg.onRetry(rec)
		}

		if delay > 0 {
			select {
			case <-cfg.clock.After(delay):
			case <-ctx.Done():
				return zero, cfg.fail(history, ctx.Err())
			}
		}
	}
}

type attemptResult[T any] struct {
	value T
	err   error
}

func runAttempt[T any](ctx context.Context, cfg *config, op func(context.Context) (T, error)) (T, error) {
	return RunWithTimeout(ctx, cfg.clock, cfg.timeout, op)
}

// RunWithTimeout invokes op, abandoning it when d elapses on clock. A late
// result lands in a buffered channel and is dropped. d <= 0 runs op inline.
func RunWithTimeout[T any](ctx context.Context, clock clockwork.Clock, d time.Duration, op func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return op(ctx)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := make(chan attemptResult[T], 1)
	go func() {
		v, err := op(attemptCtx)
		ch <- attemptResult[T]{v, err}
	}()

	timer := clock.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-ch:
		return r.value, r.err
	case <-timer.Chan():
		return zero, errdef.ErrTimeout.WithMsgf("operation timed out after %s", d)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// fail builds the terminal error. When the caller's context ended, its
// error is the cause; otherwise the most specific attempt error is.
func (c *config) fail(history []Attempt, ctxErr error) *MultiError {
	me := &MultiError{Attempts: history}
	if ctxErr != nil {
		me.Cause = ctxErr
		me.Reason = ctxErr
		return me
	}
	errs := make([]error, 0, len(history))
	for _, a := range history {
		errs = append(errs, a.Err)
	}
	me.Cause = classify.MostSpecific(c.classifier, errs)
	return me
}
