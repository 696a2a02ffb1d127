package cache

import (
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/metric"

	"github.com/KOMKZ/go-yogan-accountsync/logger"
)

type options struct {
	clock  clockwork.Clock
	logger *logger.CtxZapLogger
	meter  metric.Meter
	name   string
}

// Option configures a Manager.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		clock:  clockwork.NewRealClock(),
		logger: logger.NewNop(),
		name:   "accounts",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithClock injects the clock used for TTLs and the cleanup ticker.
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

// WithMeter records cache metrics on meter, labelled with name.
func WithMeter(meter metric.Meter, name string) Option {
	return func(o *options) {
		o.meter = meter
		if name != "" {
			o.name = name
		}
	}
}
