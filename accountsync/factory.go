package accountsync

import (
	"github.com/samber/do/v2"

	"github.com/KOMKZ/go-yogan-accountsync/breaker"
	"github.com/KOMKZ/go-yogan-accountsync/cache"
	"github.com/KOMKZ/go-yogan-accountsync/config"
	"github.com/KOMKZ/go-yogan-accountsync/limiter"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/recovery"
	"github.com/KOMKZ/go-yogan-accountsync/rpcclient"
	"github.com/KOMKZ/go-yogan-accountsync/snapshot"
	"github.com/KOMKZ/go-yogan-accountsync/subscription"
)

// NewDefault builds every component from cfg around an rpcclient.Client
// and hands them to New. Components passed through opts (limiter,
// snapshots) are used instead of building them.
func NewDefault[T any](cfg Config, decoder Decoder[T], opts ...Option) (f *Facade[T], err error) {
	cfg.ApplyDefaults()
	o := newOptions(opts)

	// owned outlive New and are closed by Shutdown; built are only
	// unwound when construction fails.
	var owned, built []func() error
	defer func() {
		if err != nil {
			for i := len(built) - 1; i >= 0; i-- {
				_ = built[i]()
			}
			for i := len(owned) - 1; i >= 0; i-- {
				_ = owned[i]()
			}
		}
	}()

	loggerFor := func(string) *logger.CtxZapLogger { return o.logger }
	switch {
	case o.logger != nil:
	case o.loggers != nil:
		loggerFor = o.loggers.GetLogger
	default:
		lm := logger.NewManager(cfg.Logger)
		owned = append(owned, func() error { lm.CloseAll(); return nil })
		loggerFor = lm.GetLogger
	}
	log := loggerFor("accountsync")

	client, err := rpcclient.New(cfg.RPC, rpcclient.WithLogger(loggerFor("rpcclient")))
	if err != nil {
		return nil, err
	}
	owned = append(owned, client.Close)

	cacheOpts := []cache.Option{cache.WithClock(o.clock), cache.WithLogger(loggerFor("cache"))}
	execOpts := []recovery.Option{recovery.WithClock(o.clock), recovery.WithLogger(loggerFor("recovery"))}
	limiterOpts := []limiter.Option{limiter.WithClock(o.clock), limiter.WithLogger(loggerFor("limiter"))}
	if o.meter != nil {
		cacheOpts = append(cacheOpts, cache.WithMeter(o.meter, "accounts"))
		bm, err := breaker.NewOTelMetrics(o.meter)
		if err != nil {
			return nil, err
		}
		execOpts = append(execOpts, recovery.WithMetrics(bm))
		lm, err := limiter.NewOTelMetrics(o.meter, "rpc")
		if err != nil {
			return nil, err
		}
		limiterOpts = append(limiterOpts, limiter.WithMetrics(lm))
	}

	c, err := cache.New[T](cfg.Cache, cacheOpts...)
	if err != nil {
		return nil, err
	}
	built = append(built, func() error { c.Close(); return nil })

	exec, err := recovery.New(cfg.Recovery, execOpts...)
	if err != nil {
		return nil, err
	}
	built = append(built, func() error { exec.Close(); return nil })

	subs, err := subscription.NewManager(client, cfg.Subscription,
		subscription.WithClock(o.clock),
		subscription.WithLogger(loggerFor("subscription")))
	if err != nil {
		return nil, err
	}
	built = append(built, func() error { subs.Close(); return nil })

	if o.limiter == nil && cfg.Limiter.Enabled {
		if o.limiter, err = limiter.New(cfg.Limiter, limiterOpts...); err != nil {
			return nil, err
		}
	}
	if o.snapshots == nil {
		repo, err := snapshot.Open(cfg.Snapshot, snapshot.WithClock(o.clock), snapshot.WithLogger(loggerFor("snapshot")))
		if err != nil {
			return nil, err
		}
		if repo != nil {
			owned = append(owned, repo.Close)
			o.snapshots = repo
		}
	}

	f, err = New(c, subs, exec, client, decoder, cfg,
		WithClock(o.clock),
		WithLogger(log),
		WithLimiter(o.limiter),
		WithSnapshots(o.snapshots),
		WithTracer(o.tracer))
	if err != nil {
		return nil, err
	}
	f.closers = owned
	return f, nil
}

// Provide registers a Facade built by NewDefault from the injector's
// *config.Loader.
//
//	do.Provide(injector, config.ProvideLoader(config.ProvideLoaderOptions{ConfigPath: "./configs"}))
//	do.Provide(injector, accountsync.Provide[Vault](vaultDecoder))
//	facade := do.MustInvoke[*accountsync.Facade[Vault]](injector)
func Provide[T any](decoder Decoder[T], opts ...Option) func(do.Injector) (*Facade[T], error) {
	return func(i do.Injector) (*Facade[T], error) {
		loader, err := do.Invoke[*config.Loader](i)
		if err != nil {
			return nil, err
		}
		cfg, err := LoadConfig(loader)
		if err != nil {
			return nil, err
		}
		return NewDefault(cfg, decoder, opts...)
	}
}

var _ do.Shutdowner = (*Facade[struct{}])(nil)
