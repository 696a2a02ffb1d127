package snapshot

import (
	"context"
	"errors"
	"time"
)

// ChainStore layers stores, fastest first. A hit in a lower layer is
// copied into the layers above it with BackfillTTL.
type ChainStore struct {
	name        string
	stores      []Store
	BackfillTTL time.Duration
}

func NewChainStore(name string, stores ...Store) *ChainStore {
	return &ChainStore{name: name, stores: stores, BackfillTTL: time.Minute}
}

func (s *ChainStore) Name() string { return s.name }

func (s *ChainStore) Get(ctx context.Context, key string) ([]byte, error) {
	var lastErr error
	for i, store := range s.stores {
		v, err := store.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrCacheMiss) {
				lastErr = err
			}
			continue
		}
		for j := 0; j < i; j++ {
			_ = s.stores[j].Set(ctx, key, v, s.BackfillTTL)
		}
		return v, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrCacheMiss
}

func (s *ChainStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var errs []error
	for _, store := range s.stores {
		if err := store.Set(ctx, key, value, ttl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *ChainStore) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, store := range s.stores {
		if err := store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *ChainStore) Close() error {
	var errs []error
	for _, store := range s.stores {
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
