package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares snapshots between processes. The client is owned by
// the caller unless the store was built by Open.
type RedisStore struct {
	name       string
	client     redis.UniversalClient
	keyPrefix  string
	ownsClient bool
}

func NewRedisStore(name string, client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{name: name, client: client, keyPrefix: keyPrefix}
}

func (s *RedisStore) Name() string { return s.name }

func (s *RedisStore) buildKey(key string) string {
	return s.keyPrefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, s.buildKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, ErrStoreGet.Wrap(err)
	}
	return b, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.buildKey(key), value, ttl).Err(); err != nil {
		return ErrStoreSet.Wrap(err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.buildKey(key)).Err(); err != nil {
		return ErrStoreDelete.Wrap(err)
	}
	return nil
}

// Ping checks connectivity, for health checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	if s.ownsClient {
		return s.client.Close()
	}
	return nil
}
