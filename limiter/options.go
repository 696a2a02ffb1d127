package limiter

import (
	"github.com/jonboulle/clockwork"

	"github.com/KOMKZ/go-yogan-accountsync/logger"
)

type options struct {
	clock   clockwork.Clock
	logger  *logger.CtxZapLogger
	metrics *OTelMetrics
}

// Option configures a TokenBucket.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{clock: clockwork.NewRealClock(), logger: logger.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

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

// WithMetrics records decisions and the token level on m.
func WithMetrics(m *OTelMetrics) Option {
	return func(o *options) { o.metrics = m }
}
