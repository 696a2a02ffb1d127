package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KOMKZ/go-yogan-accountsync/errdef"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

const addr = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReconnectDelay = 0
	cfg.IdleTimeout = time.Hour
	cfg.IdleCheckInterval = time.Hour
	return cfg
}

func newTestManager(t *testing.T, tr *fakeTransport, cfg Config, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(tr, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func waitState(t *testing.T, m *Manager, address string, want State) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, ok := m.PerAddressStats(address)
		return ok && st.State == want
	}, 2*time.Second, time.Millisecond)
}

func TestManager_SubscribeDeliversInOrder(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr, testConfig())

	h, err := m.Subscribe(context.Background(), addr, "")
	require.NoError(t, err)
	assert.Equal(t, addr, h.Address())

	st, ok := m.PerAddressStats(addr)
	require.True(t, ok)
	assert.Equal(t, StateConnected, st.State)
	assert.Equal(t, CommitmentConfirmed, st.Commitment)

	feed := tr.feed(t, 0)
	go func() {
		for slot := uint64(1); slot <= 50; slot++ {
			feed.push(Notification{Address: addr, Slot: slot})
		}
	}()
	for slot := uint64(1); slot <= 50; slot++ {
		assert.Equal(t, slot, receive(t, h).Slot)
	}

	require.Eventually(t, func() bool {
		st, _ := m.PerAddressStats(addr)
		return st.Notifications == 50
	}, time.Second, time.Millisecond)
	st, _ = m.PerAddressStats(addr)
	assert.Equal(t, uint64(50), st.LastSlot)
}

func TestManager_SingleLiveSubscription(t *testing.T) {
	tr := &fakeTransport{gate: make(chan struct{})}
	m := newTestManager(t, tr, testConfig())

	var wg sync.WaitGroup
	handles := make([]*Handle, 2)
	errs := make([]error, 2)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = m.Subscribe(context.Background(), addr, CommitmentFinalized)
		}(i)
	}
	// both callers are waiting on the same pending open
	require.Eventually(t, func() bool {
		st, ok := m.PerAddressStats(addr)
		return ok && st.State == StateConnecting
	}, time.Second, time.Millisecond)
	close(tr.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, handles[0].ID(), handles[1].ID())
	assert.Equal(t, 1, tr.opened(), "one transport feed for one address")

	tr.feed(t, 0).push(Notification{Address: addr, Slot: 7})
	assert.Equal(t, uint64(7), receive(t, handles[0]).Slot)
	assert.Equal(t, uint64(7), receive(t, handles[1]).Slot)

	assert.Equal(t, 2, m.Stats().Subscribers)
}

func TestManager_Capacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSubscriptions = 1
	m := newTestManager(t, &fakeTransport{}, cfg)

	_, err := m.Subscribe(context.Background(), "a", "")
	require.NoError(t, err)
	_, err = m.Subscribe(context.Background(), "a", "")
	require.NoError(t, err, "sharing does not count against the cap")

	_, err = m.Subscribe(context.Background(), "b", "")
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	m.Unsubscribe("a")
	_, err = m.Subscribe(context.Background(), "b", "")
	assert.NoError(t, err)
}

func TestManager_Unsubscribe(t *testing.T) {
	tl := logger.NewTestCtxLogger()
	tr := &fakeTransport{closeErr: errors.New("socket already gone")}
	m := newTestManager(t, tr, testConfig(), WithLogger(tl.Logger()))

	h, err := m.Subscribe(context.Background(), addr, "")
	require.NoError(t, err)

	assert.True(t, m.Unsubscribe(addr))
	waitClosed(t, h)
	assert.NoError(t, h.Err())
	assert.Equal(t, []uint64{1}, tr.closedIDs())
	assert.True(t, tl.HasLog("WARN", "closing account feed failed"), "close failures are logged, not returned")

	_, ok := m.PerAddressStats(addr)
	assert.False(t, ok)
	assert.False(t, m.Unsubscribe(addr))
}

func TestManager_ReconnectAfterTransportError(t *testing.T) {
	tr := &fakeTransport{}
	reconnected := make(chan string, 1)
	m := newTestManager(t, tr, testConfig(), WithReconnectHook(func(a string) { reconnected <- a }))

	h, err := m.Subscribe(context.Background(), addr, "")
	require.NoError(t, err)

	tr.feed(t, 0).push(Notification{Address: addr, Slot: 1})
	receive(t, h)
	tr.feed(t, 0).fail(errdef.ErrTransport.WithMsg("connection reset"))

	second := tr.feed(t, 1)
	assert.Equal(t, addr, <-reconnected)
	waitState(t, m, addr, StateConnected)

	second.push(Notification{Address: addr, Slot: 2})
	assert.Equal(t, uint64(2), receive(t, h).Slot)

	st, _ := m.PerAddressStats(addr)
	assert.Equal(t, uint64(1), st.Reconnects)
	assert.Equal(t, 0, st.ReconnectAttempts)
	assert.Equal(t, uint64(2), st.FeedID)
	assert.Contains(t, tr.closedIDs(), uint64(1), "the old feed is discarded")
}

func TestManager_ReconnectsExhausted(t *testing.T) {
	dial := errdef.ErrTransport.WithMsg("dial failed")
	tr := &fakeTransport{openErr: func(n int) error {
		if n > 1 {
			return dial
		}
		return nil
	}}
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 3
	m := newTestManager(t, tr, cfg)

	h, err := m.Subscribe(context.Background(), addr, "")
	require.NoError(t, err)
	tr.feed(t, 0).fail(nil)

	waitClosed(t, h)
	assert.ErrorIs(t, h.Err(), errdef.ErrTransport)
	require.Eventually(t, func() bool { return len(m.Addresses()) == 0 }, time.Second, time.Millisecond)

	tr.mu.Lock()
	assert.Equal(t, uint64(4), tr.nextID, "one open plus three reconnect attempts")
	tr.mu.Unlock()
}

func TestManager_NoReconnect(t *testing.T) {
	t.Run("auto reconnect disabled", func(t *testing.T) {
		tr := &fakeTransport{}
		cfg := testConfig()
		cfg.AutoReconnect = false
		m := newTestManager(t, tr, cfg)

		h, err := m.Subscribe(context.Background(), addr, "")
		require.NoError(t, err)
		tr.feed(t, 0).fail(errdef.ErrTransport)

		waitClosed(t, h)
		assert.ErrorIs(t, h.Err(), errdef.ErrTransport)
		assert.Equal(t, 1, tr.opened())
	})

	t.Run("non-retryable error", func(t *testing.T) {
		tr := &fakeTransport{}
		m := newTestManager(t, tr, testConfig())

		h, err := m.Subscribe(context.Background(), addr, "")
		require.NoError(t, err)
		tr.feed(t, 0).fail(errdef.ErrInvalidArgument.WithMsg("invalid param: WrongSize"))

		waitClosed(t, h)
		assert.ErrorIs(t, h.Err(), errdef.ErrInvalidArgument)
		assert.Equal(t, 1, tr.opened())
	})
}

func TestManager_InitialOpenFailure(t *testing.T) {
	tr := &fakeTransport{openErr: func(int) error { return errdef.ErrTransport }}
	cfg := testConfig()
	cfg.MaxSubscriptions = 1
	m := newTestManager(t, tr, cfg)

	_, err := m.Subscribe(context.Background(), addr, "")
	assert.ErrorIs(t, err, errdef.ErrTransport)
	assert.Empty(t, m.Addresses())

	tr.mu.Lock()
	tr.openErr = nil
	tr.mu.Unlock()
	_, err = m.Subscribe(context.Background(), "other", "")
	assert.NoError(t, err, "the failed subscription released its slot")
}

func TestManager_IdleTimeoutReconnects(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.IdleTimeout = 30 * time.Second
	cfg.IdleCheckInterval = 10 * time.Second
	m := newTestManager(t, tr, cfg, WithClock(clock))

	_, err := m.Subscribe(context.Background(), addr, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(30 * time.Second)

	tr.feed(t, 1)
	waitState(t, m, addr, StateConnected)
	st, _ := m.PerAddressStats(addr)
	assert.ErrorIs(t, st.LastError, errdef.ErrTimeout)
}

func TestManager_UnsubscribeWhileReconnecting(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.ReconnectDelay = time.Minute
	m := newTestManager(t, tr, cfg, WithClock(clock))

	h, err := m.Subscribe(context.Background(), addr, "")
	require.NoError(t, err)
	tr.feed(t, 0).fail(errdef.ErrTransport)
	waitState(t, m, addr, StateReconnecting)

	done := make(chan struct{})
	go func() {
		m.Unsubscribe(addr)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unsubscribe blocked on the reconnect delay")
	}
	waitClosed(t, h)
	assert.NoError(t, h.Err())
	assert.Equal(t, 1, tr.opened())
}

func TestManager_HandleClose(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr, testConfig())

	a, err := m.Subscribe(context.Background(), addr, "")
	require.NoError(t, err)
	b, err := m.Subscribe(context.Background(), addr, "")
	require.NoError(t, err)

	a.Close()
	waitClosed(t, a)

	tr.feed(t, 0).push(Notification{Address: addr, Slot: 3})
	assert.Equal(t, uint64(3), receive(t, b).Slot)
	st, _ := m.PerAddressStats(addr)
	assert.Equal(t, 1, st.Subscribers)
}

func TestManager_BufferKeepsLastNotifications(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.BufferSize = 2
	m := newTestManager(t, tr, cfg)

	h, err := m.Subscribe(context.Background(), addr, "")
	require.NoError(t, err)
	for slot := uint64(1); slot <= 3; slot++ {
		tr.feed(t, 0).push(Notification{Address: addr, Slot: slot})
		receive(t, h)
	}

	require.Eventually(t, func() bool { return len(h.Buffered()) == 2 && h.Buffered()[1].Slot == 3 }, time.Second, time.Millisecond)
	buf := m.Buffered(addr)
	assert.Equal(t, uint64(2), buf[0].Slot)
	assert.Equal(t, uint64(3), buf[1].Slot)
}

func TestManager_Close(t *testing.T) {
	tr := &fakeTransport{}
	m, err := NewManager(tr, testConfig())
	require.NoError(t, err)

	a, err := m.Subscribe(context.Background(), "a", "")
	require.NoError(t, err)
	b, err := m.Subscribe(context.Background(), "b", "")
	require.NoError(t, err)

	m.Close()
	m.Close()
	waitClosed(t, a)
	waitClosed(t, b)
	assert.Len(t, tr.closedIDs(), 2)

	_, err = m.Subscribe(context.Background(), "c", "")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Commitment = "recent"
	_, err := NewManager(&fakeTransport{}, cfg)
	assert.ErrorIs(t, err, validator.ErrInvalidConfig)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", State(42).String())
}

func liveSubscription(t *testing.T, m *Manager, address string) *Subscription {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[address]
	require.True(t, ok)
	return s
}

// waitDeliveryBlocked returns once the feed is drained and h is full, so
// the subscription is parked sending the next notification to h.
func waitDeliveryBlocked(t *testing.T, feed *fakeFeed, h *Handle) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(feed.ch) == 0 && len(h.Notifications()) == cap(h.Notifications())
	}, 2*time.Second, time.Millisecond)
}

func TestHandle_ErrDuringPendingDelivery(t *testing.T) {
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.HandleBuffer = 1
	m := newTestManager(t, tr, cfg)

	h, err := m.Subscribe(context.Background(), addr, "")
	require.NoError(t, err)
	feed := tr.feed(t, 0)
	feed.push(Notification{Address: addr, Slot: 1})
	feed.push(Notification{Address: addr, Slot: 2})
	waitDeliveryBlocked(t, feed, h)

	done := make(chan error, 1)
	go func() { done <- h.Err() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Err waited for the consumer to drain the stream")
	}

	assert.Equal(t, uint64(1), receive(t, h).Slot)
	assert.Equal(t, uint64(2), receive(t, h).Slot)
}

func TestManager_SlowConsumerIsNotIdle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := &fakeTransport{}
	cfg := testConfig()
	cfg.HandleBuffer = 1
	cfg.IdleTimeout = 10 * time.Second
	cfg.IdleCheckInterval = 12 * time.Second
	m := newTestManager(t, tr, cfg, WithClock(clock))

	h, err := m.Subscribe(context.Background(), addr, "")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	feed := tr.feed(t, 0)
	feed.push(Notification{Address: addr, Slot: 1})
	feed.push(Notification{Address: addr, Slot: 2})
	waitDeliveryBlocked(t, feed, h)

	// the consumer stalls past the idle timeout while the feed is healthy
	s := liveSubscription(t, m, addr)
	time.Sleep(20 * time.Millisecond)
	clock.Advance(12 * time.Second)
	require.Eventually(t, func() bool { return len(s.idle) == 1 }, 2*time.Second, time.Millisecond)

	assert.Equal(t, uint64(1), receive(t, h).Slot)
	assert.Equal(t, uint64(2), receive(t, h).Slot)

	assert.Never(t, func() bool { return tr.opened() > 1 }, 200*time.Millisecond, 5*time.Millisecond)
	st, _ := m.PerAddressStats(addr)
	assert.Equal(t, StateConnected, st.State)
	assert.NoError(t, st.LastError)
	assert.Zero(t, st.Reconnects)
}

func TestSubscription_NoTransitionsAfterShutdown(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr, testConfig())

	_, err := m.Subscribe(context.Background(), addr, "")
	require.NoError(t, err)
	s := liveSubscription(t, m, addr)

	require.True(t, m.Unsubscribe(addr))
	assert.Equal(t, StateDisconnected, s.State())

	for _, to := range []State{StateReconnecting, StateConnecting, StateConnected, StateError} {
		s.setState(to, errdef.ErrTransport)
		assert.Equal(t, StateDisconnected, s.State(), "moved to %s after shutdown", to)
	}
	assert.Nil(t, s.stats().LastError)
}
