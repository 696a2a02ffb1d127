package snapshot

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Backend names accepted in configuration.
const (
	BackendMemory    = "memory"
	BackendRedis     = "redis"
	BackendRistretto = "ristretto"
	BackendBigCache  = "bigcache"
	BackendChain     = "chain"
)

// Config describes the snapshot layer. Disabled by default.
type Config struct {
	Enabled    bool          `mapstructure:"enabled"`
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	Serializer string        `mapstructure:"serializer"`

	// Layers lists the backends of a chain, fastest first.
	Layers []string `mapstructure:"layers"`

	Memory    MemoryConfig    `mapstructure:"memory"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ristretto RistrettoConfig `mapstructure:"ristretto"`
	BigCache  BigCacheConfig  `mapstructure:"bigcache"`
}

type MemoryConfig struct {
	MaxSize int `mapstructure:"max_size"`
}

type RedisConfig struct {
	Addrs    []string `mapstructure:"addrs"`
	Password string   `mapstructure:"password"`
	DB       int      `mapstructure:"db"`
	PoolSize int      `mapstructure:"pool_size"`
}

func DefaultConfig() Config {
	return Config{
		Backend:    BackendMemory,
		TTL:        10 * time.Minute,
		KeyPrefix:  "accountsync:snapshot:",
		Serializer: SerializerMsgpack,
		Memory:     MemoryConfig{MaxSize: 10000},
		Redis:      RedisConfig{Addrs: []string{"localhost:6379"}, PoolSize: 10},
		Ristretto:  DefaultRistrettoConfig(),
		BigCache:   DefaultBigCacheConfig(),
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.TTL == 0 {
		c.TTL = d.TTL
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	if c.Serializer == "" {
		c.Serializer = d.Serializer
	}
	if c.Memory.MaxSize == 0 {
		c.Memory = d.Memory
	}
	if len(c.Redis.Addrs) == 0 {
		c.Redis.Addrs = d.Redis.Addrs
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = d.Redis.PoolSize
	}
	if c.Ristretto.NumCounters == 0 {
		c.Ristretto.NumCounters = d.Ristretto.NumCounters
	}
	if c.Ristretto.MaxCost == 0 {
		c.Ristretto.MaxCost = d.Ristretto.MaxCost
	}
	if c.Ristretto.BufferItems == 0 {
		c.Ristretto.BufferItems = d.Ristretto.BufferItems
	}
	if c.BigCache.LifeWindow == 0 {
		c.BigCache.LifeWindow = d.BigCache.LifeWindow
	}
}

var backends = []interface{}{BackendMemory, BackendRedis, BackendRistretto, BackendBigCache, BackendChain}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In(backends...)),
		validation.Field(&c.TTL, validation.Min(time.Duration(0))),
		validation.Field(&c.Serializer, validation.In(SerializerMsgpack, SerializerCBOR, SerializerJSON)),
		validation.Field(&c.Layers,
			validation.When(c.Backend == BackendChain, validation.Required),
			validation.Each(validation.In(BackendMemory, BackendRedis, BackendRistretto, BackendBigCache))),
	)
}
