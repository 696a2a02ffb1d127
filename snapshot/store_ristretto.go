package snapshot

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoConfig sizes a RistrettoStore. Cost is the value length in bytes.
type RistrettoConfig struct {
	NumCounters int64 `mapstructure:"num_counters"`
	MaxCost     int64 `mapstructure:"max_cost"`
	BufferItems int64 `mapstructure:"buffer_items"`
}

func DefaultRistrettoConfig() RistrettoConfig {
	return RistrettoConfig{NumCounters: 1e5, MaxCost: 32 << 20, BufferItems: 64}
}

// RistrettoStore is a cost-bounded in-process store with admission
// control. A rejected write is not an error.
type RistrettoStore struct {
	name string
	c    *ristretto.Cache
}

func NewRistrettoStore(name string, cfg RistrettoConfig) (*RistrettoStore, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoStore{name: name, c: c}, nil
}

func (s *RistrettoStore) Name() string { return s.name }

func (s *RistrettoStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	b, ok := v.([]byte)
	if !ok {
		s.c.Del(key)
		return nil, ErrCacheMiss
	}
	return b, nil
}

// Set waits for the write buffer so that a following Get sees the value.
func (s *RistrettoStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.c.SetWithTTL(key, append([]byte(nil), value...), int64(len(value)), ttl)
	s.c.Wait()
	return nil
}

func (s *RistrettoStore) Delete(_ context.Context, key string) error {
	s.c.Del(key)
	return nil
}

func (s *RistrettoStore) Close() error {
	s.c.Close()
	return nil
}
