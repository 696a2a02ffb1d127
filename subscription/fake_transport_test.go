package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeFeed struct {
	id uint64
	ch chan Notification

	mu  sync.Mutex
	err error
}

func (f *fakeFeed) ID() uint64                         { return f.id }
func (f *fakeFeed) Notifications() <-chan Notification { return f.ch }

func (f *fakeFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeFeed) push(n Notification) { f.ch <- n }

func (f *fakeFeed) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	close(f.ch)
}

type fakeTransport struct {
	mu       sync.Mutex
	nextID   uint64
	feeds    []*fakeFeed
	closed   []uint64
	openErr  func(n int) error
	closeErr error
	gate     chan struct{}
}

func (t *fakeTransport) OpenAccountSubscription(ctx context.Context, address string, _ Commitment) (Feed, error) {
	if t.gate != nil {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	if t.openErr != nil {
		if err := t.openErr(int(t.nextID)); err != nil {
			return nil, err
		}
	}
	f := &fakeFeed{id: t.nextID, ch: make(chan Notification, 16)}
	t.feeds = append(t.feeds, f)
	return f, nil
}

func (t *fakeTransport) CloseAccountSubscription(_ context.Context, id uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = append(t.closed, id)
	return t.closeErr
}

func (t *fakeTransport) opened() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.feeds)
}

func (t *fakeTransport) closedIDs() []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uint64(nil), t.closed...)
}

// feed waits for the i-th opened feed, counting from 0.
func (t *fakeTransport) feed(tb testing.TB, i int) *fakeFeed {
	tb.Helper()
	require.Eventually(tb, func() bool { return t.opened() > i }, 2*time.Second, time.Millisecond)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.feeds[i]
}

func receive(tb testing.TB, h *Handle) Notification {
	tb.Helper()
	select {
	case n, ok := <-h.Notifications():
		require.True(tb, ok, "stream closed")
		return n
	case <-time.After(2 * time.Second):
		tb.Fatal("no notification")
	}
	return Notification{}
}

func waitClosed(tb testing.TB, h *Handle) {
	tb.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-h.Notifications():
			if !ok {
				return
			}
		case <-deadline:
			tb.Fatal("stream not closed")
		}
	}
}
