package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/allegro/bigcache/v3"
)

// BigCacheConfig sizes a BigCacheStore. LifeWindow replaces per-item TTLs.
type BigCacheConfig struct {
	LifeWindow         time.Duration `mapstructure:"life_window"`
	CleanWindow        time.Duration `mapstructure:"clean_window"`
	HardMaxCacheSizeMB int           `mapstructure:"hard_max_cache_size_mb"`
}

func DefaultBigCacheConfig() BigCacheConfig {
	return BigCacheConfig{LifeWindow: 10 * time.Minute, CleanWindow: time.Minute, HardMaxCacheSizeMB: 64}
}

// BigCacheStore holds snapshots off the GC-scanned heap. The ttl passed to
// Set is ignored in favour of the global LifeWindow.
type BigCacheStore struct {
	name string
	c    *bigcache.BigCache
}

func NewBigCacheStore(name string, cfg BigCacheConfig) (*BigCacheStore, error) {
	conf := bigcache.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	conf.Verbose = false
	c, err := bigcache.New(context.Background(), conf)
	if err != nil {
		return nil, err
	}
	return &BigCacheStore{name: name, c: c}, nil
}

func (s *BigCacheStore) Name() string { return s.name }

func (s *BigCacheStore) Get(_ context.Context, key string) ([]byte, error) {
	b, err := s.c.Get(key)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return nil, ErrCacheMiss
		}
		return nil, ErrStoreGet.Wrap(err)
	}
	return b, nil
}

func (s *BigCacheStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if err := s.c.Set(key, value); err != nil {
		return ErrStoreSet.Wrap(err)
	}
	return nil
}

func (s *BigCacheStore) Delete(_ context.Context, key string) error {
	err := s.c.Delete(key)
	if err != nil && !errors.Is(err, bigcache.ErrEntryNotFound) {
		return ErrStoreDelete.Wrap(err)
	}
	return nil
}

func (s *BigCacheStore) Close() error {
	return s.c.Close()
}
