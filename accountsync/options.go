package accountsync

import (
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/KOMKZ/go-yogan-accountsync/limiter"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/snapshot"
)

const tracerName = "github.com/KOMKZ/go-yogan-accountsync/accountsync"

type options struct {
	clock     clockwork.Clock
	logger    *logger.CtxZapLogger
	loggers   *logger.Manager
	limiter   *limiter.TokenBucket
	snapshots *snapshot.Repo
	meter     metric.Meter
	tracer    trace.Tracer
}

// Option configures a Facade.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{clock: clockwork.NewRealClock(), tracer: otel.Tracer(tracerName)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithClock drives the reconcile scheduler. NewDefault hands it to every
// component it builds.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

func WithLogger(l *logger.CtxZapLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithLoggerManager names one logger per component built by NewDefault.
// The caller keeps ownership of m.
func WithLoggerManager(m *logger.Manager) Option {
	return func(o *options) { o.loggers = m }
}

// WithLimiter gates every remote read on the bucket.
func WithLimiter(b *limiter.TokenBucket) Option {
	return func(o *options) { o.limiter = b }
}

// WithSnapshots consults repo on a cache miss before going remote and
// writes every remote read back to it.
func WithSnapshots(repo *snapshot.Repo) Option {
	return func(o *options) { o.snapshots = repo }
}

// WithMeter is used by NewDefault to register component metrics.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}
