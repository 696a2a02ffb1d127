package breaker

import (
	"sync"

	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

// Registry owns one CircuitBreaker per operation class and the event bus
// they publish to.
type Registry struct {
	cfg  Config
	opts *options
	bus  *EventBus

	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry validates cfg and starts the event bus.
func NewRegistry(cfg Config, opts ...Option) (*Registry, error) {
	cfg.ApplyDefaults()
	if err := validator.Check("breaker", cfg); err != nil {
		return nil, err
	}
	return &Registry{
		cfg:      cfg,
		opts:     newOptions(opts),
		bus:      NewEventBus(cfg.EventBusBuffer),
		breakers: make(map[string]*CircuitBreaker),
	}, nil
}

// Get returns the breaker for class, creating it on first use.
func (r *Registry) Get(class string) *CircuitBreaker {
	r.mu.RLock()
	b, ok := r.breakers[class]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[class]; ok {
		return b
	}
	b = newBreaker(class, r.cfg.For(class), r.opts, r.bus)
	r.breakers[class] = b
	r.opts.metrics.observeState(class, func() int64 { return int64(b.State()) })
	return b
}

// Snapshots returns every known breaker keyed by class.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Snapshot, len(r.breakers))
	for class, b := range r.breakers {
		out[class] = b.Snapshot()
	}
	return out
}

// Events exposes the bus for subscriptions.
func (r *Registry) Events() *EventBus {
	return r.bus
}

// Close stops the event bus. Breakers keep working without events.
func (r *Registry) Close() {
	r.bus.Close()
}
