package subscription

import (
	"context"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/KOMKZ/go-yogan-accountsync/classify"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/retry"
	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

// Manager owns at most one live Subscription per address and enforces the
// subscription cap. It never retries by itself; reconnects belong to each
// Subscription. One scheduler goroutine drives idle detection for all of
// them.
type Manager struct {
	cfg        Config
	transport  Transport
	clock      clockwork.Clock
	logger     *logger.CtxZapLogger
	classifier classify.Classifier
	backoff    retry.Policy

	hookMu sync.Mutex
	hooks  []func(address string)

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewManager validates cfg and starts the idle scheduler.
func NewManager(transport Transport, cfg Config, opts ...Option) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := validator.Check("subscription", cfg); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	m := &Manager{
		cfg:        cfg,
		transport:  transport,
		clock:      o.clock,
		logger:     o.logger,
		classifier: o.classifier,
		backoff: retry.Exponential(cfg.MaxReconnectAttempts, cfg.ReconnectDelay,
			cfg.ReconnectBackoff, cfg.MaxReconnectDelay, false),
		subs: make(map[string]*Subscription),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if o.onReconnect != nil {
		m.hooks = append(m.hooks, o.onReconnect)
	}
	go m.schedule()
	return m, nil
}

// AddReconnectHook registers fn next to the one given by WithReconnectHook.
// Hooks run in registration order on the reconnected subscription's
// goroutine.
func (m *Manager) AddReconnectHook(fn func(address string)) {
	if fn == nil {
		return
	}
	m.hookMu.Lock()
	m.hooks = append(m.hooks, fn)
	m.hookMu.Unlock()
}

func (m *Manager) reconnected(address string) {
	m.hookMu.Lock()
	hooks := make([]func(string), len(m.hooks))
	copy(hooks, m.hooks)
	m.hookMu.Unlock()
	for _, fn := range hooks {
		fn(address)
	}
}

// Subscribe returns a handle on the stream of address. A live subscription
// is shared; otherwise a new one is opened and Subscribe waits for the
// transport to acknowledge it. An empty commitment means the configured
// one. A shared subscription keeps the commitment it was opened with.
func (m *Manager) Subscribe(ctx context.Context, address string, commitment Commitment) (*Handle, error) {
	if commitment == "" {
		commitment = m.cfg.Commitment
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if s, ok := m.subs[address]; ok {
		if !s.isEnded() {
			m.mu.Unlock()
			return m.join(ctx, s)
		}
		delete(m.subs, address)
	}
	if len(m.subs) >= m.cfg.MaxSubscriptions {
		m.mu.Unlock()
		return nil, ErrCapacityExceeded.
			WithData("address", address).
			WithData("max_subscriptions", m.cfg.MaxSubscriptions)
	}
	s := m.newSubscription(address, commitment)
	m.subs[address] = s
	m.mu.Unlock()

	s.start(ctx)
	if s.startErr != nil {
		m.remove(s)
		return nil, s.startErr
	}
	return m.join(ctx, s)
}

func (m *Manager) join(ctx context.Context, s *Subscription) (*Handle, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s.startErr != nil {
		return nil, s.startErr
	}
	h := s.attach()
	if h == nil {
		return nil, ErrClosed.WithData("address", s.address)
	}
	return h, nil
}

func (m *Manager) newSubscription(address string, commitment Commitment) *Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscription{
		address:     address,
		commitment:  commitment,
		cfg:         m.cfg,
		transport:   m.transport,
		clock:       m.clock,
		logger:      m.logger,
		classifier:  m.classifier,
		backoff:     m.backoff,
		onReconnect: m.reconnected,
		onEnd:       m.remove,
		ctx:         ctx,
		cancel:      cancel,
		ready:       make(chan struct{}),
		finished:    make(chan struct{}),
		idle:        make(chan struct{}, 1),
		state:       StateDisconnected,
		handles:     make(map[string]*Handle),
		buffer:      newRing(m.cfg.BufferSize),
	}
}

func (m *Manager) remove(s *Subscription) {
	m.mu.Lock()
	if m.subs[s.address] == s {
		delete(m.subs, s.address)
	}
	m.mu.Unlock()
}

// Unsubscribe stops the subscription of address, closes the transport feed
// best-effort and closes every handle. It is safe in any state and
// reports whether a subscription existed.
func (m *Manager) Unsubscribe(address string) bool {
	m.mu.Lock()
	s, ok := m.subs[address]
	if ok {
		delete(m.subs, address)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.shutdown()
	return true
}

// Addresses lists live subscriptions in lexical order.
func (m *Manager) Addresses() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for addr := range m.subs {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Buffered returns the recently delivered notifications of address.
func (m *Manager) Buffered(address string) []Notification {
	m.mu.Lock()
	s, ok := m.subs[address]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return s.buffered()
}

// Stats summarises every live subscription.
type Stats struct {
	Active        int
	Capacity      int
	Subscribers   int
	Notifications uint64
	Reconnects    uint64
	ByState       map[State]int
}

func (m *Manager) Stats() Stats {
	subs := m.snapshot()
	st := Stats{Active: len(subs), Capacity: m.cfg.MaxSubscriptions, ByState: map[State]int{}}
	for _, s := range subs {
		a := s.stats()
		st.Subscribers += a.Subscribers
		st.Notifications += a.Notifications
		st.Reconnects += a.Reconnects
		st.ByState[a.State]++
	}
	return st
}

func (m *Manager) PerAddressStats(address string) (AddressStats, bool) {
	m.mu.Lock()
	s, ok := m.subs[address]
	m.mu.Unlock()
	if !ok {
		return AddressStats{}, false
	}
	return s.stats(), true
}

// AllAddressStats returns PerAddressStats for every live subscription.
func (m *Manager) AllAddressStats() map[string]AddressStats {
	subs := m.snapshot()
	out := make(map[string]AddressStats, len(subs))
	for _, s := range subs {
		out[s.address] = s.stats()
	}
	return out
}

// Close unsubscribes everything and stops the scheduler. Later Subscribe
// calls fail with ErrClosed. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	subs := m.subs
	m.subs = make(map[string]*Subscription)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range subs {
		wg.Add(1)
		go func(s *Subscription) {
			defer wg.Done()
			s.shutdown()
		}(s)
	}
	wg.Wait()

	m.closeOnce.Do(func() {
		close(m.stop)
		<-m.done
		m.logger.Debug("subscription manager closed", zap.Int("unsubscribed", len(subs)))
	})
}

func (m *Manager) snapshot() []*Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		out = append(out, s)
	}
	return out
}

func (m *Manager) schedule() {
	defer close(m.done)
	ticker := m.clock.NewTicker(m.cfg.IdleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			now := m.clock.Now()
			for _, s := range m.snapshot() {
				s.checkIdle(now)
			}
		case <-m.stop:
			return
		}
	}
}
