package subscription

import (
	"github.com/jonboulle/clockwork"

	"github.com/KOMKZ/go-yogan-accountsync/classify"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
)

type options struct {
	clock       clockwork.Clock
	logger      *logger.CtxZapLogger
	classifier  classify.Classifier
	onReconnect func(address string)
}

// Option configures a Manager.
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

// WithClock injects the clock used for idle detection and reconnect delays.
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

// WithClassifier decides which feed errors are worth a reconnect.
func WithClassifier(c classify.Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classifier = c
		}
	}
}

// WithReconnectHook is called, on the subscription's goroutine, each time
// a subscription is connected again after a failure. Notifications sent
// while it was down are not replayed; the hook is where callers reconcile.
func WithReconnectHook(fn func(address string)) Option {
	return func(o *options) { o.onReconnect = fn }
}
