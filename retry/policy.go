package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/KOMKZ/go-yogan-accountsync/classify"
)

// JitterRatio is the maximum relative perturbation applied to exponential
// delays when jitter is enabled.
const JitterRatio = 0.25

// Policy decides whether attempt n may be followed by another one and how
// long to wait before it. attempt starts at 1.
type Policy interface {
	CalculateDelay(attempt int) time.Duration
	ShouldRetry(attempt int, err error) bool
}

// base carries what every policy shares: the attempt bound and the
// condition that decides retry eligibility.
type base struct {
	maxAttempts int
	condition   RetryCondition
}

func newBase(maxAttempts int, opts []PolicyOption) base {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	b := base{maxAttempts: maxAttempts, condition: Retryable(classify.Default())}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// ShouldRetry is false once maxAttempts is reached or when the condition
// rejects err.
func (b base) ShouldRetry(attempt int, err error) bool {
	if err == nil || attempt >= b.maxAttempts {
		return false
	}
	return b.condition.ShouldRetry(err, attempt)
}

// MaxAttempts returns the attempt bound.
func (b base) MaxAttempts() int { return b.maxAttempts }

// PolicyOption customises the shared part of a policy.
type PolicyOption func(*base)

// WithCondition replaces the retry condition. The default retries whatever
// classify.Default() reports as retryable.
func WithCondition(c RetryCondition) PolicyOption {
	return func(b *base) {
		if c != nil {
			b.condition = c
		}
	}
}

// WithClassifier is shorthand for WithCondition(Retryable(c)).
func WithClassifier(c classify.Classifier) PolicyOption {
	return func(b *base) {
		if c != nil {
			b.condition = Retryable(c)
		}
	}
}

// ExponentialPolicy waits base*multiplier^(attempt-1), optionally jittered
// by up to ±25%, then clamped to maxDelay.
type ExponentialPolicy struct {
	base
	baseDelay  time.Duration
	multiplier float64
	maxDelay   time.Duration
	jitter     bool
}

// Exponential builds an ExponentialPolicy. multiplier <= 0 means 2.
func Exponential(maxAttempts int, baseDelay time.Duration, multiplier float64, maxDelay time.Duration, jitter bool, opts ...PolicyOption) *ExponentialPolicy {
	if multiplier <= 0 {
		multiplier = 2
	}
	return &ExponentialPolicy{
		base:       newBase(maxAttempts, opts),
		baseDelay:  baseDelay,
		multiplier: multiplier,
		maxDelay:   maxDelay,
		jitter:     jitter,
	}
}

func (p *ExponentialPolicy) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := float64(p.baseDelay) * math.Pow(p.multiplier, float64(attempt-1))
	if p.jitter {
		delay = applyJitter(delay, JitterRatio)
	}
	return clamp(delay, p.maxDelay)
}

// LinearPolicy waits baseDelay*attempt, clamped to maxDelay.
type LinearPolicy struct {
	base
	baseDelay time.Duration
	maxDelay  time.Duration
}

func Linear(maxAttempts int, baseDelay, maxDelay time.Duration, opts ...PolicyOption) *LinearPolicy {
	return &LinearPolicy{base: newBase(maxAttempts, opts), baseDelay: baseDelay, maxDelay: maxDelay}
}

func (p *LinearPolicy) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return clamp(float64(p.baseDelay)*float64(attempt), p.maxDelay)
}

// FixedPolicy always waits the same delay.
type FixedPolicy struct {
	base
	delay time.Duration
}

func Fixed(maxAttempts int, delay time.Duration, opts ...PolicyOption) *FixedPolicy {
	return &FixedPolicy{base: newBase(maxAttempts, opts), delay: delay}
}

func (p *FixedPolicy) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return p.delay
}

// ImmediatePolicy retries without waiting.
type ImmediatePolicy struct {
	base
}

func Immediate(maxAttempts int, opts ...PolicyOption) *ImmediatePolicy {
	return &ImmediatePolicy{base: newBase(maxAttempts, opts)}
}

func (p *ImmediatePolicy) CalculateDelay(int) time.Duration { return 0 }

// applyJitter returns a value uniformly drawn from
// [delay*(1-ratio), delay*(1+ratio)].
func applyJitter(delay, ratio float64) float64 {
	offset := (rand.Float64()*2 - 1) * delay * ratio
	if result := delay + offset; result > 0 {
		return result
	}
	return 0
}

// clamp caps delay at max when max is positive.
func clamp(delay float64, max time.Duration) time.Duration {
	if max > 0 && delay > float64(max) {
		return max
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
