// Package health aggregates component checks into one verdict.
package health

import (
	"context"
	"errors"
	"time"
)

// Status of a check or of the aggregate.
type Status string

const (
	StatusHealthy Status = "healthy"
	// StatusDegraded means the component still answers but with reduced
	// guarantees, e.g. a breaker probing in half-open.
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Checker is one health check item.
type Checker interface {
	Name() string
	// Check returns nil when healthy, a DegradedError when degraded and any
	// other error when unhealthy.
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                    { return c.CheckName }
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

// DegradedError marks a check result as degraded rather than unhealthy.
type DegradedError struct {
	Reason string
}

func (e *DegradedError) Error() string { return e.Reason }

// Degraded builds a DegradedError.
func Degraded(reason string) error {
	return &DegradedError{Reason: reason}
}

// IsDegraded reports whether err carries a DegradedError.
func IsDegraded(err error) bool {
	var de *DegradedError
	return errors.As(err, &de)
}

// CheckResult is the outcome of one Checker.
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Response is the aggregate of every registered check.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
	Checks    map[string]CheckResult `json:"checks"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

func (r *Response) IsDegraded() bool {
	return r.Status == StatusDegraded
}
