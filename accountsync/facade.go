package accountsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/KOMKZ/go-yogan-accountsync/cache"
	"github.com/KOMKZ/go-yogan-accountsync/limiter"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/recovery"
	"github.com/KOMKZ/go-yogan-accountsync/rpcclient"
	"github.com/KOMKZ/go-yogan-accountsync/snapshot"
	"github.com/KOMKZ/go-yogan-accountsync/subscription"
	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

// Facade serves typed account state from the cache, falling back to the
// source through the recovery executor, and keeps the cache fresh from
// subscriptions. Every method is safe for concurrent use.
type Facade[T any] struct {
	cfg       Config
	cache     *cache.Manager[T]
	subs      *subscription.Manager
	exec      *recovery.Executor
	source    Source
	decoder   Decoder[T]
	limiter   *limiter.TokenBucket
	snapshots *snapshot.Repo
	clock     clockwork.Clock
	logger    *logger.CtxZapLogger
	tracer    trace.Tracer

	pool      *ants.Pool
	scheduler gocron.Scheduler
	group     singleflight.Group
	tasks     sync.WaitGroup

	// closers release what NewDefault built on the caller's behalf.
	closers []func() error

	closed       atomic.Bool
	shutdownOnce sync.Once

	remoteReads     atomic.Uint64
	sharedReads     atomic.Uint64
	snapshotHits    atomic.Uint64
	staleUpdates    atomic.Uint64
	rejectedUpdates atomic.Uint64
	reconciles      atomic.Uint64
}

// New assembles a Facade from components the caller built. The facade
// takes ownership of them: Shutdown closes the subscription manager, the
// executor and the cache.
func New[T any](
	c *cache.Manager[T],
	subs *subscription.Manager,
	exec *recovery.Executor,
	source Source,
	decoder Decoder[T],
	cfg Config,
	opts ...Option,
) (*Facade[T], error) {
	if c == nil || subs == nil || exec == nil || source == nil || decoder == nil {
		return nil, ErrInvalidArgument.WithMsg("cache, subscription manager, executor, source and decoder are required")
	}
	cfg.ApplyDefaults()
	if err := validator.Check(ConfigKey, cfg); err != nil {
		return nil, err
	}
	o := newOptions(opts)

	pool, err := ants.NewPool(cfg.BatchWorkers)
	if err != nil {
		return nil, err
	}

	f := &Facade[T]{
		cfg:       cfg,
		cache:     c,
		subs:      subs,
		exec:      exec,
		source:    source,
		decoder:   decoder,
		limiter:   o.limiter,
		snapshots: o.snapshots,
		clock:     o.clock,
		logger:    logger.OrNop(o.logger),
		tracer:    o.tracer,
		pool:      pool,
	}
	subs.AddReconnectHook(f.reconcileAfterReconnect)

	if cfg.ReconcileInterval > 0 {
		if err := f.startReconcileJob(); err != nil {
			pool.Release()
			return nil, err
		}
	}
	return f, nil
}

// Cache exposes the L1 cache for pinning and inspection.
func (f *Facade[T]) Cache() *cache.Manager[T] { return f.cache }

// Subscriptions exposes the subscription manager.
func (f *Facade[T]) Subscriptions() *subscription.Manager { return f.subs }

func (f *Facade[T]) Executor() *recovery.Executor { return f.exec }

func (f *Facade[T]) options(opts []FetchOption) FetchOptions {
	o := FetchOptions{UseCache: true, Commitment: f.cfg.Commitment}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (f *Facade[T]) check(address string) error {
	if f.closed.Load() {
		return ErrClosed.WithMsg("account sync is shut down")
	}
	return rpcclient.ValidateAddress(address)
}

// FetchCached returns the cached value of address, or reads it through
// the executor on a miss. found is false when the account does not exist.
// Concurrent misses for one address share a single read.
func (f *Facade[T]) FetchCached(ctx context.Context, address string, opts ...FetchOption) (T, bool, error) {
	var zero T
	if err := f.check(address); err != nil {
		return zero, false, err
	}
	o := f.options(opts)
	if o.UseCache {
		if v, ok := f.cache.Get(address); ok {
			return v, true, nil
		}
	}

	r, err := f.fetch(ctx, address, o)
	if err != nil {
		return zero, false, err
	}
	return r.value, r.found, nil
}

// FetchOrThrow is FetchCached with a missing account reported as
// ErrNotFound. A failed read returns the executor's *retry.MultiError,
// whose cause is the most specific attempt error.
func (f *Facade[T]) FetchOrThrow(ctx context.Context, address string, opts ...FetchOption) (T, error) {
	v, found, err := f.FetchCached(ctx, address, opts...)
	if err != nil {
		return v, err
	}
	if !found {
		return v, ErrNotFound.WithData("address", address)
	}
	return v, nil
}

func (f *Facade[T]) fetch(ctx context.Context, address string, o FetchOptions) (_ fetched[T], err error) {
	ctx, span := f.tracer.Start(ctx, "accountsync.fetch", trace.WithAttributes(
		attribute.String("account.address", address),
		attribute.String("account.commitment", string(o.Commitment)),
		attribute.Bool("account.use_cache", o.UseCache),
	))
	defer func() { endSpan(span, err) }()

	key := string(o.Commitment) + "/" + address
	if !o.UseCache {
		key += "/fresh"
	}
	// The shared read outlives a caller that gives up so the others still
	// get its result. Each attempt stays bounded by the executor timeout.
	readCtx := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key, func() (interface{}, error) {
		r, err := recovery.Execute(readCtx, f.exec, ClassFetch, func(ctx context.Context) (fetched[T], error) {
			return f.read(ctx, address, o)
		})
		if err != nil {
			return r, err
		}
		if !r.found {
			return f.forget(address, r.slot), nil
		}
		r.value = f.store(address, r)
		return r, nil
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return fetched[T]{}, ctx.Err()
	}
	if res.Shared {
		f.sharedReads.Add(1)
		span.SetAttributes(attribute.Bool("account.shared_read", true))
	}
	if res.Err != nil {
		return fetched[T]{}, res.Err
	}
	return res.Val.(fetched[T]), nil
}

// read runs inside the executor: snapshot layer first, then the source.
func (f *Facade[T]) read(ctx context.Context, address string, o FetchOptions) (fetched[T], error) {
	if f.snapshots != nil && o.UseCache {
		rec, ok, err := f.snapshots.Load(ctx, address)
		switch {
		case err != nil:
			f.logger.WarnCtx(ctx, "snapshot load failed", zap.String("address", address), zap.Error(err))
		case ok:
			f.snapshotHits.Add(1)
			return f.accept(address, fromRecord(rec), rec.Slot)
		}
	}

	if err := f.wait(ctx); err != nil {
		return fetched[T]{}, err
	}
	f.remoteReads.Add(1)
	acc, slot, err := f.source.GetAccountInfo(ctx, address, o.Commitment)
	if err != nil {
		return fetched[T]{}, err
	}
	if acc == nil {
		return fetched[T]{slot: slot}, nil
	}
	r, err := f.accept(address, acc, slot)
	if err != nil {
		return r, err
	}
	f.saveSnapshot(ctx, address, acc, slot)
	return r, nil
}

// accept applies the ownership check and decodes.
func (f *Facade[T]) accept(address string, acc *rpcclient.Account, slot uint64) (fetched[T], error) {
	if f.cfg.ExpectedOwner != "" && acc.Owner != f.cfg.ExpectedOwner {
		return fetched[T]{}, ErrOwnershipMismatch.
			WithData("address", address).
			WithData("owner", acc.Owner).
			WithData("expected_owner", f.cfg.ExpectedOwner)
	}
	v, err := f.decoder.Decode(f.cfg.AccountType, acc.Data)
	if err != nil {
		return fetched[T]{}, ErrDecodeFailure.
			WithData("address", address).
			WithData("slot", slot).
			Wrap(err)
	}
	return fetched[T]{value: v, found: true, slot: slot, size: len(acc.Data)}, nil
}

// store writes r to the cache and returns what the cache holds afterwards:
// a fresher entry already there wins over r.
func (f *Facade[T]) store(address string, r fetched[T]) T {
	if f.cache.Put(address, r.value, cache.WithSlot(r.slot), cache.WithSize(int64(r.size))) {
		return r.value
	}
	if cur, ok := f.cache.Get(address); ok {
		return cur
	}
	return r.value
}

// forget handles a read that found address absent at slot. The cache entry
// is dropped unless it is pinned or newer; a newer entry is served instead.
func (f *Facade[T]) forget(address string, slot uint64) fetched[T] {
	if f.cache.RemoveAt(address, slot) {
		return fetched[T]{slot: slot}
	}
	if info, ok := f.cache.Peek(address); ok && info.HasSlot && info.Slot > slot {
		if v, hit := f.cache.Get(address); hit {
			return fetched[T]{value: v, found: true, slot: info.Slot}
		}
	}
	return fetched[T]{slot: slot}
}

func (f *Facade[T]) wait(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	return f.limiter.Wait(ctx)
}

func (f *Facade[T]) saveSnapshot(ctx context.Context, address string, acc *rpcclient.Account, slot uint64) {
	if f.snapshots == nil {
		return
	}
	if err := f.snapshots.Save(ctx, toRecord(address, acc, slot, f.clock.Now())); err != nil {
		f.logger.WarnCtx(ctx, "snapshot save failed", zap.String("address", address), zap.Error(err))
	}
}

// FetchBatch reads addresses in input order. Cache hits are served
// locally; the rest are read in chunks of BatchSize on the worker pool,
// each chunk through the executor. A failed chunk sets Err on its entries
// and is joined into the returned error; the other entries stay valid.
func (f *Facade[T]) FetchBatch(ctx context.Context, addresses []string, opts ...FetchOption) (_ []Result[T], err error) {
	if f.closed.Load() {
		return nil, ErrClosed.WithMsg("account sync is shut down")
	}
	o := f.options(opts)
	ctx, span := f.tracer.Start(ctx, "accountsync.fetch_batch", trace.WithAttributes(
		attribute.Int("account.count", len(addresses)),
		attribute.String("account.commitment", string(o.Commitment)),
	))
	defer func() { endSpan(span, err) }()

	results := make([]Result[T], len(addresses))
	positions := make(map[string][]int)
	var pending []string
	for i, addr := range addresses {
		results[i].Address = addr
		if err := rpcclient.ValidateAddress(addr); err != nil {
			results[i].Err = err
			continue
		}
		if o.UseCache {
			if v, ok := f.cache.Get(addr); ok {
				results[i].Value = v
				results[i].Found = true
				continue
			}
		}
		if _, seen := positions[addr]; !seen {
			pending = append(pending, addr)
		}
		positions[addr] = append(positions[addr], i)
	}
	if len(pending) == 0 {
		return results, nil
	}

	chunks := chunk(pending, f.cfg.BatchSize)
	span.SetAttributes(attribute.Int("account.pending", len(pending)), attribute.Int("account.chunks", len(chunks)))
	errs := make([]error, len(chunks))
	var wg sync.WaitGroup
	for i, c := range chunks {
		i, c := i, c
		fill := func(addr string, r Result[T]) {
			for _, pos := range positions[addr] {
				results[pos] = r
			}
		}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			errs[i] = f.readChunk(ctx, c, o, fill)
		}
		if err := f.pool.Submit(task); err != nil {
			wg.Done()
			errs[i] = f.submitErr(err)
			for _, addr := range c {
				fill(addr, Result[T]{Address: addr, Err: errs[i]})
			}
		}
	}
	wg.Wait()
	return results, errors.Join(errs...)
}

func (f *Facade[T]) submitErr(err error) error {
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrClosed.WithMsg("account sync is shut down")
	}
	return ErrInvalidArgument.WithMsg("batch worker pool rejected the chunk").Wrap(err)
}

type chunkRead struct {
	accounts []*rpcclient.Account
	slot     uint64
}

func (f *Facade[T]) readChunk(ctx context.Context, addrs []string, o FetchOptions, fill func(string, Result[T])) error {
	res, err := recovery.Execute(ctx, f.exec, ClassBatch, func(ctx context.Context) (chunkRead, error) {
		if err := f.wait(ctx); err != nil {
			return chunkRead{}, err
		}
		f.remoteReads.Add(1)
		accs, slot, err := f.source.GetMultipleAccounts(ctx, addrs, o.Commitment)
		if err == nil && len(accs) != len(addrs) {
			err = ErrTransport.
				WithMsgf("source returned %d accounts for %d addresses", len(accs), len(addrs)).
				WithData("slot", slot)
		}
		return chunkRead{accounts: accs, slot: slot}, err
	})
	if err != nil {
		for _, addr := range addrs {
			fill(addr, Result[T]{Address: addr, Err: err})
		}
		return err
	}

	for i, addr := range addrs {
		acc := res.accounts[i]
		if acc == nil {
			r := f.forget(addr, res.slot)
			fill(addr, Result[T]{Address: addr, Value: r.value, Found: r.found, Slot: r.slot})
			continue
		}
		r, err := f.accept(addr, acc, res.slot)
		if err != nil {
			f.logger.DebugCtx(ctx, "batch entry rejected", zap.String("address", addr), zap.Error(err))
			fill(addr, Result[T]{Address: addr, Slot: res.slot, Err: err})
			continue
		}
		f.saveSnapshot(ctx, addr, acc, res.slot)
		fill(addr, Result[T]{Address: addr, Value: f.store(addr, r), Found: true, Slot: res.slot})
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func chunk(addrs []string, size int) [][]string {
	out := make([][]string, 0, (len(addrs)+size-1)/size)
	for len(addrs) > size {
		out = append(out, addrs[:size:size])
		addrs = addrs[size:]
	}
	return append(out, addrs)
}

// Subscribe opens, or joins, the live subscription of address and returns
// a stream of decoded updates. Each update has already been applied to the
// cache; notifications older than the cached slot are dropped.
func (f *Facade[T]) Subscribe(ctx context.Context, address string, opts ...FetchOption) (_ *Stream[T], err error) {
	if err := f.check(address); err != nil {
		return nil, err
	}
	o := f.options(opts)
	ctx, span := f.tracer.Start(ctx, "accountsync.subscribe", trace.WithAttributes(
		attribute.String("account.address", address),
		attribute.String("account.commitment", string(o.Commitment)),
	))
	defer func() { endSpan(span, err) }()
	h, err := recovery.Execute(ctx, f.exec, ClassSubscribe, func(ctx context.Context) (*subscription.Handle, error) {
		return f.subs.Subscribe(ctx, address, o.Commitment)
	})
	if err != nil {
		return nil, err
	}
	s := newStream(f, h, f.cfg.StreamBuffer)
	go s.run()
	return s, nil
}

// Unsubscribe stops the subscription of address for every stream.
func (f *Facade[T]) Unsubscribe(address string) bool {
	return f.subs.Unsubscribe(address)
}

// apply runs one notification through the ownership check, the decoder
// and the slot-aware cache write. ok is false when the notification was
// dropped.
func (f *Facade[T]) apply(n subscription.Notification) (Update[T], bool) {
	if n.Data == nil && n.Owner == "" {
		if info, cached := f.cache.Peek(n.Address); cached && info.HasSlot && info.Slot > n.Slot {
			f.staleUpdates.Add(1)
			return Update[T]{}, false
		}
		f.cache.Remove(n.Address)
		if f.snapshots != nil {
			if err := f.snapshots.Drop(context.Background(), n.Address); err != nil {
				f.logger.Warn("snapshot drop failed", zap.String("address", n.Address), zap.Error(err))
			}
		}
		return Update[T]{Address: n.Address, Slot: n.Slot, Deleted: true}, true
	}

	acc := &rpcclient.Account{
		Data:       n.Data,
		Lamports:   n.Lamports,
		Owner:      n.Owner,
		Executable: n.Executable,
		RentEpoch:  n.RentEpoch,
	}
	r, err := f.accept(n.Address, acc, n.Slot)
	if err != nil {
		f.rejectedUpdates.Add(1)
		f.logger.Warn("account notification rejected",
			zap.String("address", n.Address),
			zap.Uint64("slot", n.Slot),
			zap.Error(err))
		return Update[T]{}, false
	}
	if !f.cache.Put(n.Address, r.value, cache.WithSlot(n.Slot), cache.WithSize(int64(r.size))) {
		f.staleUpdates.Add(1)
		return Update[T]{}, false
	}
	f.saveSnapshot(context.Background(), n.Address, acc, n.Slot)
	return Update[T]{Address: n.Address, Value: r.value, Slot: n.Slot}, true
}
