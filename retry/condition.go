package retry

import (
	"errors"

	"github.com/KOMKZ/go-yogan-accountsync/classify"
)

// RetryCondition decides retry eligibility for one failed attempt.
// attempt starts at 1.
type RetryCondition interface {
	ShouldRetry(err error, attempt int) bool
}

// ConditionFunc adapts a function to RetryCondition.
type ConditionFunc func(err error, attempt int) bool

func (f ConditionFunc) ShouldRetry(err error, attempt int) bool { return f(err, attempt) }

// Retryable retries whatever the classifier marks as retryable.
func Retryable(c classify.Classifier) RetryCondition {
	return ConditionFunc(func(err error, _ int) bool {
		return err != nil && c.Classify(err).Retryable
	})
}

// AlwaysRetry retries every non-nil error.
func AlwaysRetry() RetryCondition {
	return ConditionFunc(func(err error, _ int) bool { return err != nil })
}

// NeverRetry disables retries.
func NeverRetry() RetryCondition {
	return ConditionFunc(func(error, int) bool { return false })
}

// RetryOnErrors retries when err matches any target via errors.Is.
func RetryOnErrors(targets ...error) RetryCondition {
	return ConditionFunc(func(err error, _ int) bool {
		if err == nil {
			return false
		}
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	})
}

// RetryOnCondition retries when fn returns true.
func RetryOnCondition(fn func(error) bool) RetryCondition {
	return ConditionFunc(func(err error, _ int) bool { return err != nil && fn(err) })
}

// And requires every condition.
func And(conditions ...RetryCondition) RetryCondition {
	return ConditionFunc(func(err error, attempt int) bool {
		for _, c := range conditions {
			if !c.ShouldRetry(err, attempt) {
				return false
			}
		}
		return true
	})
}

// Or requires any condition.
func Or(conditions ...RetryCondition) RetryCondition {
	return ConditionFunc(func(err error, attempt int) bool {
		for _, c := range conditions {
			if c.ShouldRetry(err, attempt) {
				return true
			}
		}
		return false
	})
}

// Not negates a condition.
func Not(c RetryCondition) RetryCondition {
	return ConditionFunc(func(err error, attempt int) bool { return !c.ShouldRetry(err, attempt) })
}
