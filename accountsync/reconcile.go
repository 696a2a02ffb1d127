package accountsync

import (
	"context"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const reconcileJobName = "accountsync-reconcile"

// Reconcile re-reads every subscribed address past the cache and applies
// the result through the slot-aware cache write. Notifications missed while
// a subscription was down are recovered this way; the subscription buffer
// is never replayed. It returns how many accounts were refreshed.
func (f *Facade[T]) Reconcile(ctx context.Context) (int, error) {
	addrs := f.subs.Addresses()
	if len(addrs) == 0 {
		return 0, nil
	}
	results, err := f.FetchBatch(ctx, addrs, NoCache())
	refreshed := 0
	for _, r := range results {
		if r.Found {
			refreshed++
		}
	}
	f.reconciles.Add(1)
	if err != nil {
		f.logger.WarnCtx(ctx, "reconcile incomplete",
			zap.Int("addresses", len(addrs)),
			zap.Int("refreshed", refreshed),
			zap.Error(err))
		return refreshed, err
	}
	f.logger.DebugCtx(ctx, "reconciled subscribed accounts",
		zap.Int("addresses", len(addrs)),
		zap.Int("refreshed", refreshed))
	return refreshed, nil
}

func (f *Facade[T]) startReconcileJob() error {
	s, err := gocron.NewScheduler(gocron.WithClock(f.clock))
	if err != nil {
		return err
	}
	_, err = s.NewJob(
		gocron.DurationJob(f.cfg.ReconcileInterval),
		gocron.NewTask(f.reconcileTick),
		gocron.WithName(reconcileJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return err
	}
	s.Start()
	f.scheduler = s
	f.logger.Info("reconcile job scheduled", zap.Duration("interval", f.cfg.ReconcileInterval))
	return nil
}

func (f *Facade[T]) reconcileTick() {
	if f.closed.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), f.cfg.ReconcileTimeout)
	defer cancel()
	_, _ = f.Reconcile(ctx)
}

// reconcileAfterReconnect runs on the subscription's goroutine, so the
// read itself goes to the worker pool.
func (f *Facade[T]) reconcileAfterReconnect(address string) {
	if f.closed.Load() {
		return
	}
	f.tasks.Add(1)
	err := f.pool.Submit(func() {
		defer f.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), f.cfg.ReconcileTimeout)
		defer cancel()
		if _, _, err := f.FetchCached(ctx, address, NoCache()); err != nil {
			f.logger.Warn("reconcile after reconnect failed", zap.String("address", address), zap.Error(err))
			return
		}
		f.reconciles.Add(1)
		f.logger.Debug("reconciled after reconnect", zap.String("address", address))
	})
	if err != nil {
		f.tasks.Done()
	}
}
