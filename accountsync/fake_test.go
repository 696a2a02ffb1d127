package accountsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/KOMKZ/go-yogan-accountsync/rpcclient"
	"github.com/KOMKZ/go-yogan-accountsync/subscription"
)

const (
	addrA   = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	addrB   = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	addrC   = "SysvarRent111111111111111111111111111111111"
	addrD   = "SysvarC1ock11111111111111111111111111111111"
	addrE   = "Vote111111111111111111111111111111111111111"
	program = "11111111111111111111111111111111"
	other   = "Stake11111111111111111111111111111111111111"
)

// fakeNode is an in-memory Source and subscription.Transport.
type fakeNode struct {
	mu       sync.Mutex
	accounts map[string]*rpcclient.Account
	slot     uint64
	batches  [][]string
	feeds    []*fakeFeed
	nextFeed uint64

	infoCalls  atomic.Int32
	batchCalls atomic.Int32

	// infoErr fails the n-th GetAccountInfo call (1-based) when it
	// returns an error.
	infoErr  func(n int32) error
	batchErr func(addrs []string) error
	gate     chan struct{}
}

func newFakeNode() *fakeNode {
	return &fakeNode{accounts: make(map[string]*rpcclient.Account), slot: 1}
}

func (n *fakeNode) set(address, data, owner string, slot uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.accounts[address] = &rpcclient.Account{Data: []byte(data), Owner: owner, Lamports: 1}
	if slot > n.slot {
		n.slot = slot
	}
}

func (n *fakeNode) GetAccountInfo(ctx context.Context, address string, _ subscription.Commitment) (*rpcclient.Account, uint64, error) {
	call := n.infoCalls.Add(1)
	if n.gate != nil {
		select {
		case <-n.gate:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	if n.infoErr != nil {
		if err := n.infoErr(call); err != nil {
			return nil, 0, err
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	acc, ok := n.accounts[address]
	if !ok {
		return nil, n.slot, nil
	}
	cp := *acc
	return &cp, n.slot, nil
}

func (n *fakeNode) GetMultipleAccounts(_ context.Context, addresses []string, _ subscription.Commitment) ([]*rpcclient.Account, uint64, error) {
	n.batchCalls.Add(1)
	n.mu.Lock()
	n.batches = append(n.batches, append([]string(nil), addresses...))
	n.mu.Unlock()
	if n.batchErr != nil {
		if err := n.batchErr(addresses); err != nil {
			return nil, 0, err
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*rpcclient.Account, len(addresses))
	for i, a := range addresses {
		if acc, ok := n.accounts[a]; ok {
			cp := *acc
			out[i] = &cp
		}
	}
	return out, n.slot, nil
}

func (n *fakeNode) OpenAccountSubscription(_ context.Context, address string, _ subscription.Commitment) (subscription.Feed, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextFeed++
	f := &fakeFeed{id: n.nextFeed, address: address, ch: make(chan subscription.Notification, 16)}
	n.feeds = append(n.feeds, f)
	return f, nil
}

func (n *fakeNode) CloseAccountSubscription(_ context.Context, id uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, f := range n.feeds {
		if f.id == id {
			f.close(nil)
		}
	}
	return nil
}

func (n *fakeNode) feed(tb testing.TB, i int) *fakeFeed {
	tb.Helper()
	var f *fakeFeed
	require.Eventually(tb, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		if len(n.feeds) <= i {
			return false
		}
		f = n.feeds[i]
		return true
	}, 2*time.Second, time.Millisecond)
	return f
}

type fakeFeed struct {
	id      uint64
	address string
	ch      chan subscription.Notification

	mu     sync.Mutex
	closed bool
	err    error
}

func (f *fakeFeed) ID() uint64 { return f.id }

func (f *fakeFeed) Notifications() <-chan subscription.Notification { return f.ch }

func (f *fakeFeed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeFeed) push(slot uint64, data, owner string) {
	n := subscription.Notification{Address: f.address, Slot: slot, Owner: owner, Lamports: 1}
	if data != "" {
		n.Data = []byte(data)
	}
	f.ch <- n
}

func (f *fakeFeed) close(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.err = err
	close(f.ch)
}

var errCorrupt = errors.New("corrupt account data")

// labelDecoder decodes an account to its data as a string.
var labelDecoder = DecoderFunc[string](func(_ string, data []byte) (string, error) {
	if string(data) == "corrupt" {
		return "", errCorrupt
	}
	return string(data), nil
})
