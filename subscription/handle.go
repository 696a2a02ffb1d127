package subscription

import (
	"sync"

	"github.com/google/uuid"
)

// Handle is one consumer's view of a subscription's stream. Several
// handles share one transport feed.
type Handle struct {
	id      string
	address string
	sub     *Subscription
	ch      chan Notification

	done     chan struct{}
	doneOnce sync.Once

	// mu orders sends against closing ch.
	mu     sync.Mutex
	closed bool

	errMu sync.Mutex
	err   error
}

func newHandle(sub *Subscription, buffer int) *Handle {
	return &Handle{
		id:      uuid.NewString(),
		address: sub.address,
		sub:     sub,
		ch:      make(chan Notification, buffer),
		done:    make(chan struct{}),
	}
}

func (h *Handle) ID() string      { return h.id }
func (h *Handle) Address() string { return h.address }

// Notifications delivers in transport order. It is closed when the
// subscription ends or the handle is closed.
func (h *Handle) Notifications() <-chan Notification { return h.ch }

// Err is the terminal error once Notifications is closed: nil after
// Unsubscribe or Close, the last transport error when reconnects ran out.
func (h *Handle) Err() error {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return h.err
}

// Buffered returns the subscription's recently delivered notifications,
// oldest first. They are not replayed into the stream.
func (h *Handle) Buffered() []Notification {
	return h.sub.buffered()
}

// Close detaches this consumer. The subscription keeps running for the
// others until it is unsubscribed.
func (h *Handle) Close() {
	h.sub.detach(h)
	h.finish(nil)
}

// send blocks until the consumer takes n, the handle closes or stop fires.
func (h *Handle) send(n Notification, stop <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.ch <- n:
	case <-h.done:
	case <-stop:
	}
}

func (h *Handle) finish(err error) {
	h.doneOnce.Do(func() { close(h.done) })
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.errMu.Lock()
	h.err = err
	h.errMu.Unlock()
	close(h.ch)
}

// ring keeps the last n notifications.
type ring struct {
	buf  []Notification
	next int
	full bool
}

func newRing(n int) *ring {
	return &ring{buf: make([]Notification, n)}
}

func (r *ring) add(n Notification) {
	r.buf[r.next] = n
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *ring) items() []Notification {
	if !r.full {
		return append([]Notification(nil), r.buf[:r.next]...)
	}
	out := make([]Notification, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
