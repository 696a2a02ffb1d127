package breaker

import (
	"errors"

	"github.com/jonboulle/clockwork"

	"github.com/KOMKZ/go-yogan-accountsync/logger"
)

type options struct {
	clock     clockwork.Clock
	logger    *logger.CtxZapLogger
	isFailure func(error) bool
	metrics   *OTelMetrics
}

// Option configures breakers and registries.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		clock:     clockwork.NewRealClock(),
		logger:    logger.NewNop(),
		isFailure: func(err error) bool { return err != nil },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithClock injects the clock used for recovery timeouts.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func WithLogger(l *logger.CtxZapLogger) Option {
	return func(o *options) { o.logger = logger.OrNop(l) }
}

// WithFailurePredicate decides which errors count against the breaker.
// By default every error does.
func WithFailurePredicate(fn func(error) bool) Option {
	return func(o *options) {
		if fn != nil {
			o.isFailure = func(err error) bool { return err != nil && fn(err) }
		}
	}
}

// WithMetrics records calls, rejections and state on m.
func WithMetrics(m *OTelMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// IgnoreErrors builds a failure predicate that excludes the given errors.
func IgnoreErrors(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return false
			}
		}
		return true
	}
}
