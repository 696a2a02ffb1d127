package recovery

import (
	"github.com/jonboulle/clockwork"

	"github.com/KOMKZ/go-yogan-accountsync/breaker"
	"github.com/KOMKZ/go-yogan-accountsync/classify"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/retry"
)

type options struct {
	clock      clockwork.Clock
	logger     *logger.CtxZapLogger
	classifier classify.Classifier
	policy     retry.Policy
	metrics    *breaker.OTelMetrics
}

// Option configures an Executor.
type Option func(*options)

func newOptions(opts []Option) *options {
	o := &options{
		clock:      clockwork.NewRealClock(),
		logger:     logger.NewNop(),
		classifier: classify.Default(),
	}
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

// WithClassifier replaces the default error classifier. It decides both
// retry eligibility and which errors count against a breaker.
func WithClassifier(c classify.Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classifier = c
		}
	}
}

// WithPolicy uses p instead of the policy described by Config.Retry.
func WithPolicy(p retry.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithMetrics records breaker activity.
func WithMetrics(m *breaker.OTelMetrics) Option {
	return func(o *options) { o.metrics = m }
}
