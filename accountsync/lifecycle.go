package accountsync

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/KOMKZ/go-yogan-accountsync/breaker"
	"github.com/KOMKZ/go-yogan-accountsync/cache"
	"github.com/KOMKZ/go-yogan-accountsync/errdef"
	"github.com/KOMKZ/go-yogan-accountsync/health"
	"github.com/KOMKZ/go-yogan-accountsync/limiter"
	"github.com/KOMKZ/go-yogan-accountsync/subscription"
)

// Stats is a point-in-time view of every component.
type Stats struct {
	Cache              cache.Stats
	Subscriptions      map[string]subscription.AddressStats
	SubscriptionTotals subscription.Stats
	Breakers           map[string]breaker.Snapshot
	Limiter            limiter.Stats

	RemoteReads     uint64
	SharedReads     uint64
	SnapshotHits    uint64
	StaleUpdates    uint64
	RejectedUpdates uint64
	Reconciles      uint64
}

func (f *Facade[T]) Stats() Stats {
	st := Stats{
		Cache:              f.cache.Stats(),
		Subscriptions:      f.subs.AllAddressStats(),
		SubscriptionTotals: f.subs.Stats(),
		Breakers:           map[string]breaker.Snapshot{},
		RemoteReads:        f.remoteReads.Load(),
		SharedReads:        f.sharedReads.Load(),
		SnapshotHits:       f.snapshotHits.Load(),
		StaleUpdates:       f.staleUpdates.Load(),
		RejectedUpdates:    f.rejectedUpdates.Load(),
		Reconciles:         f.reconciles.Load(),
	}
	if reg := f.exec.Breakers(); reg != nil {
		st.Breakers = reg.Snapshots()
	}
	if f.limiter != nil {
		st.Limiter = f.limiter.Stats()
	}
	return st
}

var _ health.Checker = (*Facade[struct{}])(nil)

func (f *Facade[T]) Name() string { return "accountsync" }

// Check is unhealthy once shut down or while a read breaker is open. An
// open subscribe breaker, a failing subscription or a cache over its
// budget only degrade it.
func (f *Facade[T]) Check(ctx context.Context) error {
	if f.closed.Load() {
		return ErrClosed.WithMsg("account sync is shut down")
	}

	var degraded []string
	if reg := f.exec.Breakers(); reg != nil {
		snaps := reg.Snapshots()
		classes := make([]string, 0, len(snaps))
		for class := range snaps {
			classes = append(classes, class)
		}
		sort.Strings(classes)
		for _, class := range classes {
			s := snaps[class]
			switch {
			case s.State == breaker.StateOpen && class != ClassSubscribe:
				return errdef.ErrCircuitOpen.WithMsgf("%s circuit is open", class).WithData("class", class)
			case s.State != breaker.StateClosed:
				degraded = append(degraded, fmt.Sprintf("%s circuit %s", class, s.State))
			}
		}
	}

	for addr, s := range f.subs.AllAddressStats() {
		if s.State == subscription.StateReconnecting || s.State == subscription.StateError {
			degraded = append(degraded, fmt.Sprintf("subscription %s %s", addr, s.State))
		}
	}
	if f.cache.Stats().OverBudget {
		degraded = append(degraded, "cache over budget")
	}

	if len(degraded) > 0 {
		sort.Strings(degraded)
		return health.Degraded(strings.Join(degraded, "; "))
	}
	return nil
}

// Shutdown stops the reconcile job, cancels every subscription, waits for
// background reconciles, closes the executor and clears the cache. Later
// calls are no-ops and every other method returns ErrClosed.
func (f *Facade[T]) Shutdown() {
	f.shutdownOnce.Do(func() {
		f.closed.Store(true)
		if f.scheduler != nil {
			if err := f.scheduler.Shutdown(); err != nil {
				f.logger.Warn("reconcile scheduler shutdown failed", zap.Error(err))
			}
		}
		f.subs.Close()
		f.tasks.Wait()
		f.pool.Release()
		f.exec.Close()
		f.cache.Clear()
		f.cache.Close()
		for i := len(f.closers) - 1; i >= 0; i-- {
			if err := f.closers[i](); err != nil {
				f.logger.Warn("closing component failed", zap.Error(err))
			}
		}
		f.logger.Info("account sync shut down")
	})
}
