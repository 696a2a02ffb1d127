package retry

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/KOMKZ/go-yogan-accountsync/classify"
)

type config struct {
	timeout    time.Duration
	budget     *BudgetManager
	onRetry    func(Attempt)
	clock      clockwork.Clock
	classifier classify.Classifier
	stop       func(error) bool
}

func defaultConfig() *config {
	return &config{
		clock:      clockwork.NewRealClock(),
		classifier: classify.Default(),
		stop:       func(error) bool { return false },
	}
}

// Option configures a retry loop.
type Option func(*config)

// Timeout bounds each attempt. A timed out attempt is abandoned and fails
// with errdef.ErrTimeout.
func Timeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Budget enables a shared retry budget.
func Budget(b *BudgetManager) Option {
	return func(c *config) { c.budget = b }
}

// OnRetry is called after a failed attempt that will be retried.
func OnRetry(f func(Attempt)) Option {
	return func(c *config) { c.onRetry = f }
}

// Clock injects the clock used for timeouts and backoff waits.
func Clock(clock clockwork.Clock) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// Classifier is used to choose the error that represents the sequence.
func Classifier(cl classify.Classifier) Option {
	return func(c *config) {
		if cl != nil {
			c.classifier = cl
		}
	}
}

// StopOn ends the loop immediately for errors matching fn, whatever the
// policy says.
func StopOn(fn func(error) bool) Option {
	return func(c *config) {
		if fn != nil {
			c.stop = fn
		}
	}
}
