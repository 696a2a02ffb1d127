// Package subscription keeps one live account feed per address, drives
// its reconnect state machine and fans notifications out to consumers.
package subscription

import (
	"context"

	"github.com/KOMKZ/go-yogan-accountsync/errdef"
)

var (
	ErrCapacityExceeded = errdef.ErrCapacityExceeded
	ErrTransport        = errdef.ErrTransport
	ErrClosed           = errdef.ErrClosed
)

// Commitment is the confirmation level notifications are requested at.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// State of a Subscription.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Notification is one account change pushed by the transport. Data is nil
// when the account was closed.
type Notification struct {
	Address    string
	Data       []byte
	Lamports   uint64
	Owner      string
	Slot       uint64
	Executable bool
	RentEpoch  uint64
}

// Feed is one transport-level subscription. It is never reused: every
// reconnect opens a new Feed.
type Feed interface {
	ID() uint64
	// Notifications is closed when the feed ends.
	Notifications() <-chan Notification
	// Err explains why Notifications was closed; nil for a clean close.
	Err() error
}

// Transport opens and closes account feeds.
type Transport interface {
	// OpenAccountSubscription returns once the subscription is acknowledged.
	// ctx bounds the open only, not the life of the feed.
	OpenAccountSubscription(ctx context.Context, address string, commitment Commitment) (Feed, error)
	CloseAccountSubscription(ctx context.Context, id uint64) error
}
