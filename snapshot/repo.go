package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

// Repo stores Records in a Store using a Serializer.
type Repo struct {
	store      Store
	serializer Serializer
	ttl        time.Duration
	logger     *logger.CtxZapLogger
}

func NewRepo(store Store, serializer Serializer, ttl time.Duration, log *logger.CtxZapLogger) *Repo {
	return &Repo{store: store, serializer: serializer, ttl: ttl, logger: logger.OrNop(log)}
}

// Load returns the snapshot of address. A miss is (Record{}, false, nil).
// A record that no longer deserializes is deleted and reported as a miss.
func (r *Repo) Load(ctx context.Context, address string) (Record, bool, error) {
	b, err := r.store.Get(ctx, address)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	rec, err := r.serializer.Deserialize(b)
	if err != nil {
		r.logger.WarnCtx(ctx, "dropping undecodable snapshot",
			zap.String("address", address),
			zap.String("store", r.store.Name()),
			zap.Error(err))
		_ = r.store.Delete(ctx, address)
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (r *Repo) Save(ctx context.Context, rec Record) error {
	b, err := r.serializer.Serialize(rec)
	if err != nil {
		return ErrSerialize.Wrap(err)
	}
	return r.store.Set(ctx, rec.Address, b, r.ttl)
}

func (r *Repo) Drop(ctx context.Context, address string) error {
	return r.store.Delete(ctx, address)
}

func (r *Repo) Store() Store { return r.store }

func (r *Repo) Close() error { return r.store.Close() }

// OpenOption customises Open.
type OpenOption func(*openOptions)

type openOptions struct {
	clock  clockwork.Clock
	logger *logger.CtxZapLogger
	redis  redis.UniversalClient
}

func WithClock(c clockwork.Clock) OpenOption {
	return func(o *openOptions) { o.clock = c }
}

func WithLogger(l *logger.CtxZapLogger) OpenOption {
	return func(o *openOptions) { o.logger = l }
}

// WithRedisClient reuses an existing client instead of dialing cfg.Redis.
func WithRedisClient(c redis.UniversalClient) OpenOption {
	return func(o *openOptions) { o.redis = c }
}

// Open builds the Repo described by cfg. It returns nil, nil when the
// layer is disabled.
func Open(cfg Config, opts ...OpenOption) (*Repo, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cfg.ApplyDefaults()
	if err := validator.Check("snapshot", cfg); err != nil {
		return nil, err
	}
	o := &openOptions{}
	for _, opt := range opts {
		opt(o)
	}

	serializer, err := NewSerializer(cfg.Serializer)
	if err != nil {
		return nil, err
	}

	var store Store
	if cfg.Backend == BackendChain {
		layers := make([]Store, 0, len(cfg.Layers))
		for _, name := range cfg.Layers {
			s, err := openBackend(name, cfg, o)
			if err != nil {
				for _, l := range layers {
					_ = l.Close()
				}
				return nil, err
			}
			layers = append(layers, s)
		}
		store = NewChainStore(BackendChain, layers...)
	} else if store, err = openBackend(cfg.Backend, cfg, o); err != nil {
		return nil, err
	}

	logger.OrNop(o.logger).Info("snapshot layer opened",
		zap.String("backend", cfg.Backend),
		zap.String("serializer", serializer.Name()),
		zap.Duration("ttl", cfg.TTL))
	return NewRepo(store, serializer, cfg.TTL, o.logger), nil
}

func openBackend(name string, cfg Config, o *openOptions) (Store, error) {
	switch name {
	case BackendMemory:
		return NewMemoryStore(name, cfg.Memory.MaxSize, o.clock), nil
	case BackendRedis:
		if o.redis != nil {
			return NewRedisStore(name, o.redis, cfg.KeyPrefix), nil
		}
		s := NewRedisStore(name, redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}), cfg.KeyPrefix)
		s.ownsClient = true
		return s, nil
	case BackendRistretto:
		return NewRistrettoStore(name, cfg.Ristretto)
	case BackendBigCache:
		return NewBigCacheStore(name, cfg.BigCache)
	}
	return nil, ErrUnknownBackend.WithData("backend", name)
}
