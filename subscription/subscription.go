package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/KOMKZ/go-yogan-accountsync/classify"
	"github.com/KOMKZ/go-yogan-accountsync/errdef"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/retry"
)

// Subscription is the live feed of one address. It is created by a
// Manager, owns its transport feed, reconnect counter and buffer, and is
// discarded on Unsubscribe.
//
//	Disconnected -> Connecting -> Connected
//	Connected -> Error (transport error, close or idle timeout)
//	Error -> Reconnecting -> Connecting   while attempts remain
//	Error -> terminal                     otherwise; handles get the error
//	any -> Disconnecting -> Disconnected  on Unsubscribe
type Subscription struct {
	address    string
	commitment Commitment
	cfg        Config
	transport  Transport
	clock      clockwork.Clock
	logger     *logger.CtxZapLogger
	classifier classify.Classifier
	backoff    retry.Policy

	onReconnect func(address string)
	onEnd       func(*Subscription)

	// ctx is canceled by Unsubscribe; it stops every wait in run.
	ctx    context.Context
	cancel context.CancelFunc

	ready    chan struct{} // closed when the first open resolves
	startErr error
	finished chan struct{} // closed when run has returned
	idle     chan struct{}

	mu                 sync.Mutex
	state              State
	stopping           bool
	ended              bool
	handles            map[string]*Handle
	buffer             *ring
	attempts           int
	lastActivity       time.Time
	notifications      uint64
	reconnects         uint64
	lastSlot           uint64
	lastNotificationAt time.Time
	connectedAt        time.Time
	lastErr            error
	feedID             uint64
}

func (s *Subscription) Address() string { return s.address }

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// start opens the first feed on the caller's goroutine.
func (s *Subscription) start(ctx context.Context) {
	defer close(s.ready)
	s.setState(StateConnecting, nil)

	feed, err := s.transport.OpenAccountSubscription(ctx, s.address, s.commitment)
	if err != nil {
		s.startErr = err
		s.setState(StateError, err)
		s.end(err)
		close(s.finished)
		return
	}
	s.connected(feed)
	go s.run(feed)
}

func (s *Subscription) run(feed Feed) {
	defer close(s.finished)
	for {
		err := s.pump(feed)
		s.closeFeed(feed)
		if err == nil {
			return
		}
		s.setState(StateError, err)
		if feed = s.reconnect(err); feed == nil {
			return
		}
	}
}

// pump delivers notifications until the feed fails or the subscription
// stops, in which case it returns nil.
func (s *Subscription) pump(feed Feed) error {
	for {
		select {
		case n, ok := <-feed.Notifications():
			if !ok {
				if err := feed.Err(); err != nil {
					return err
				}
				return ErrTransport.WithMsg("account feed closed by transport")
			}
			s.touch()
			s.deliver(n)
			// a slow consumer is not a silent feed
			s.touch()
			select {
			case <-s.idle:
			default:
			}
		case <-s.idle:
			if silent := s.clock.Since(s.lastActive()); silent >= s.cfg.IdleTimeout {
				return errdef.ErrTimeout.WithMsgf("no notification for %s", silent)
			}
		case <-s.ctx.Done():
			return nil
		}
	}
}

// reconnect returns a new feed, or nil when the subscription stopped or
// gave up.
func (s *Subscription) reconnect(err error) Feed {
	for {
		if s.ctx.Err() != nil {
			return nil
		}
		attempt, ok := s.nextAttempt(err)
		if !ok {
			s.logger.Warn("subscription failed",
				zap.String("address", s.address),
				zap.Int("attempts", attempt),
				zap.Error(err))
			s.end(err)
			s.onEnd(s)
			return nil
		}

		s.setState(StateReconnecting, err)
		if delay := s.backoff.CalculateDelay(attempt); delay > 0 {
			select {
			case <-s.clock.After(delay):
			case <-s.ctx.Done():
				return nil
			}
		}

		s.setState(StateConnecting, nil)
		feed, oerr := s.transport.OpenAccountSubscription(s.ctx, s.address, s.commitment)
		if s.ctx.Err() != nil {
			if oerr == nil {
				s.closeFeed(feed)
			}
			return nil
		}
		if oerr == nil {
			s.mu.Lock()
			s.reconnects++
			s.mu.Unlock()
			s.connected(feed)
			if s.onReconnect != nil {
				s.onReconnect(s.address)
			}
			return feed
		}
		err = oerr
		s.setState(StateError, err)
	}
}

func (s *Subscription) nextAttempt(err error) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.AutoReconnect || s.attempts >= s.cfg.MaxReconnectAttempts || !s.classifier.Classify(err).Retryable {
		return s.attempts, false
	}
	s.attempts++
	return s.attempts, true
}

func (s *Subscription) connected(feed Feed) {
	s.mu.Lock()
	s.attempts = 0
	s.feedID = feed.ID()
	s.connectedAt = s.clock.Now()
	s.lastActivity = s.connectedAt
	s.mu.Unlock()
	s.setState(StateConnected, nil)
}

func (s *Subscription) closeFeed(feed Feed) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CloseTimeout)
	defer cancel()
	if err := s.transport.CloseAccountSubscription(ctx, feed.ID()); err != nil {
		s.logger.Warn("closing account feed failed",
			zap.String("address", s.address),
			zap.Uint64("feed_id", feed.ID()),
			zap.Error(err))
	}
}

func (s *Subscription) deliver(n Notification) {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.send(n, s.ctx.Done())
	}

	s.mu.Lock()
	s.buffer.add(n)
	s.notifications++
	s.lastSlot = n.Slot
	s.lastNotificationAt = s.clock.Now()
	s.mu.Unlock()
}

// shutdown runs Unsubscribe: it stops run, waits for it and closes every
// handle without an error.
func (s *Subscription) shutdown() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.setState(StateDisconnecting, nil)
	s.cancel()
	<-s.ready
	<-s.finished
	s.end(nil)
	s.setState(StateDisconnected, nil)
}

func (s *Subscription) attach() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	h := newHandle(s, s.cfg.HandleBuffer)
	s.handles[h.id] = h
	return h
}

func (s *Subscription) detach(h *Handle) {
	s.mu.Lock()
	delete(s.handles, h.id)
	s.mu.Unlock()
}

func (s *Subscription) end(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	handles := s.handles
	s.handles = map[string]*Handle{}
	s.mu.Unlock()

	for _, h := range handles {
		h.finish(err)
	}
}

func (s *Subscription) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Subscription) buffered() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.items()
}

func (s *Subscription) touch() {
	s.mu.Lock()
	s.lastActivity = s.clock.Now()
	s.mu.Unlock()
}

func (s *Subscription) lastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// checkIdle signals pump when a connected feed has been silent too long.
func (s *Subscription) checkIdle(now time.Time) {
	s.mu.Lock()
	stale := s.state == StateConnected && now.Sub(s.lastActivity) >= s.cfg.IdleTimeout
	s.mu.Unlock()
	if stale {
		select {
		case s.idle <- struct{}{}:
		default:
		}
	}
}

// setState ignores every transition but Disconnecting and Disconnected
// once shutdown has begun.
func (s *Subscription) setState(to State, err error) {
	s.mu.Lock()
	if s.stopping && to != StateDisconnecting && to != StateDisconnected {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = to
	if err != nil {
		s.lastErr = err
	}
	s.mu.Unlock()

	if from == to {
		return
	}
	fields := []zap.Field{
		zap.String("address", s.address),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	}
	switch to {
	case StateConnected:
		s.logger.Info("subscription connected", fields...)
	case StateError:
		s.logger.Warn("subscription error", append(fields, zap.Error(err))...)
	default:
		s.logger.Debug("subscription state changed", fields...)
	}
}

// AddressStats describes one subscription.
type AddressStats struct {
	Address            string
	State              State
	Commitment         Commitment
	Subscribers        int
	Notifications      uint64
	Reconnects         uint64
	ReconnectAttempts  int
	LastSlot           uint64
	LastNotificationAt time.Time
	ConnectedAt        time.Time
	LastError          error
	Buffered           int
	FeedID             uint64
}

func (s *Subscription) stats() AddressStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return AddressStats{
		Address:            s.address,
		State:              s.state,
		Commitment:         s.commitment,
		Subscribers:        len(s.handles),
		Notifications:      s.notifications,
		Reconnects:         s.reconnects,
		ReconnectAttempts:  s.attempts,
		LastSlot:           s.lastSlot,
		LastNotificationAt: s.lastNotificationAt,
		ConnectedAt:        s.connectedAt,
		LastError:          s.lastErr,
		Buffered:           s.buffer.len(),
		FeedID:             s.feedID,
	}
}
