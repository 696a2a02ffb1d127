// Package accountsync is the facade over the account cache, the
// subscription manager and the recovery executor: cached reads, batched
// reads and decoded live streams of typed account state.
package accountsync

import (
	"context"

	"github.com/KOMKZ/go-yogan-accountsync/errdef"
	"github.com/KOMKZ/go-yogan-accountsync/rpcclient"
	"github.com/KOMKZ/go-yogan-accountsync/subscription"
)

var (
	ErrNotFound          = errdef.ErrNotFound
	ErrOwnershipMismatch = errdef.ErrOwnershipMismatch
	ErrDecodeFailure     = errdef.ErrDecodeFailure
	ErrClosed            = errdef.ErrClosed
	ErrInvalidArgument   = errdef.ErrInvalidArgument
	ErrTransport         = errdef.ErrTransport
)

// Operation classes, one circuit breaker each.
const (
	ClassFetch     = "fetch"
	ClassBatch     = "fetch_batch"
	ClassSubscribe = "subscribe"
)

// Source reads raw accounts. *rpcclient.Client implements it. A missing
// account is a nil *Account, not an error.
type Source interface {
	GetAccountInfo(ctx context.Context, address string, commitment subscription.Commitment) (*rpcclient.Account, uint64, error)
	GetMultipleAccounts(ctx context.Context, addresses []string, commitment subscription.Commitment) ([]*rpcclient.Account, uint64, error)
}

var _ Source = (*rpcclient.Client)(nil)

// Decoder turns raw account data into T. Any error it returns is reported
// as ErrDecodeFailure and never retried.
type Decoder[T any] interface {
	Decode(accountType string, data []byte) (T, error)
}

type DecoderFunc[T any] func(accountType string, data []byte) (T, error)

func (f DecoderFunc[T]) Decode(accountType string, data []byte) (T, error) {
	return f(accountType, data)
}

// FetchOptions tune one read. The zero value of a FetchOption list reads
// through the cache at the configured commitment.
type FetchOptions struct {
	UseCache   bool
	Commitment subscription.Commitment
}

type FetchOption func(*FetchOptions)

// NoCache skips the cache and the snapshot layer on the way in. The
// fetched value is still written back.
func NoCache() FetchOption {
	return func(o *FetchOptions) { o.UseCache = false }
}

func WithCommitment(c subscription.Commitment) FetchOption {
	return func(o *FetchOptions) {
		if c != "" {
			o.Commitment = c
		}
	}
}

// Result is one entry of FetchBatch, in input order.
type Result[T any] struct {
	Address string
	Value   T
	Found   bool
	Slot    uint64
	Err     error
}

// Update is one decoded notification of a Stream.
type Update[T any] struct {
	Address string
	Value   T
	Slot    uint64

	// Deleted is set when the account was closed; Value is zero.
	Deleted bool
}

// fetched is what one remote read resolves to.
type fetched[T any] struct {
	value T
	found bool
	slot  uint64
	size  int
}
