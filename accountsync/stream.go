package accountsync

import (
	"sync"

	"github.com/KOMKZ/go-yogan-accountsync/subscription"
)

// Stream is one consumer's decoded view of an address. Updates arrive in
// transport order and are closed when the subscription ends or the stream
// is closed.
type Stream[T any] struct {
	facade  *Facade[T]
	handle  *subscription.Handle
	updates chan Update[T]

	done      chan struct{}
	closeOnce sync.Once
	finished  chan struct{}
}

func newStream[T any](f *Facade[T], h *subscription.Handle, buffer int) *Stream[T] {
	return &Stream[T]{
		facade:   f,
		handle:   h,
		updates:  make(chan Update[T], buffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (s *Stream[T]) Address() string { return s.handle.Address() }

func (s *Stream[T]) Updates() <-chan Update[T] { return s.updates }

// Err is the terminal error of the underlying subscription once Updates
// is closed: nil after Close or Unsubscribe.
func (s *Stream[T]) Err() error { return s.handle.Err() }

// Close detaches this stream. The subscription stays up for other streams
// until it is unsubscribed.
func (s *Stream[T]) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.handle.Close()
	<-s.finished
}

func (s *Stream[T]) run() {
	defer close(s.finished)
	defer close(s.updates)
	for n := range s.handle.Notifications() {
		u, ok := s.facade.apply(n)
		if !ok {
			continue
		}
		select {
		case s.updates <- u:
		case <-s.done:
			return
		}
	}
}
