package retry

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrBudgetExhausted stops a retry loop when the retry budget is spent.
var ErrBudgetExhausted = errors.New("retry: budget exhausted")

// Attempt records one invocation.
type Attempt struct {
	Number   int
	Err      error
	Duration time.Duration
	// Delay is the wait that followed this attempt, zero for the last one.
	Delay time.Duration
}

// MultiError is returned when a retry loop gives up. It unwraps to Cause,
// the error chosen to represent the whole sequence.
type MultiError struct {
	Attempts []Attempt
	Cause    error
	// Reason is set when the loop stopped for a reason other than the
	// policy: budget exhaustion or the caller's context ending.
	Reason error
}

func (e *MultiError) Error() string {
	if e.Cause == nil {
		return "retry failed: no errors"
	}
	if e.Reason != nil && e.Reason != e.Cause {
		return fmt.Sprintf("%v (after %d attempts, %v)", e.Cause, len(e.Attempts), e.Reason)
	}
	return fmt.Sprintf("%v (after %d attempts)", e.Cause, len(e.Attempts))
}

func (e *MultiError) Unwrap() error { return e.Cause }

// Errors returns every attempt error in order.
func (e *MultiError) Errors() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// LastError returns the error of the final attempt.
func (e *MultiError) LastError() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

// AllErrors renders the attempt history.
func (e *MultiError) AllErrors() string {
	var b strings.Builder
	fmt.Fprintf(&b, "retry failed after %d attempts:", len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "\n  attempt %d (%s): %v", a.Number, a.Duration, a.Err)
	}
	return b.String()
}

// GetAttempts returns the attempt history carried by err, if any.
func GetAttempts(err error) []Attempt {
	var me *MultiError
	if errors.As(err, &me) {
		return me.Attempts
	}
	return nil
}
