package cache

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Strategy decides when a cached entry stops being valid.
type Strategy string

const (
	// StrategyTTL expires entries ttl after they were written.
	StrategyTTL Strategy = "ttl"
	// StrategySlot keeps an entry while its slot is not behind the current slot.
	StrategySlot Strategy = "slot"
	// StrategyManual keeps entries until they are removed.
	StrategyManual Strategy = "manual"
	// StrategyHybrid requires both the TTL and slot rules.
	StrategyHybrid Strategy = "hybrid"
	// StrategyWriteThrough stores writes but never serves reads.
	StrategyWriteThrough Strategy = "write_through"
)

// Config is fixed for the lifetime of a Manager.
type Config struct {
	MaxEntries     int           `mapstructure:"max_entries"`
	TTL            time.Duration `mapstructure:"ttl"`
	Strategy       Strategy      `mapstructure:"strategy"`
	MaxMemoryBytes int64         `mapstructure:"max_memory_bytes"`

	// CleanupInterval drives the background sweep. Zero disables it.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`

	// MemoryPressureThreshold is the fraction of MaxMemoryBytes above which
	// a Put evicts one batch ahead of the hard limit.
	MemoryPressureThreshold float64 `mapstructure:"memory_pressure_threshold"`
	EvictionBatchSize       int     `mapstructure:"eviction_batch_size"`

	// StrictPreconditions panics on programmer errors such as a negative
	// size estimate instead of clamping them.
	StrictPreconditions bool `mapstructure:"strict_preconditions"`
}

func DefaultConfig() Config {
	return Config{
		MaxEntries:              1000,
		TTL:                     30 * time.Second,
		Strategy:                StrategyHybrid,
		MaxMemoryBytes:          64 << 20,
		CleanupInterval:         time.Minute,
		MemoryPressureThreshold: 0.8,
		EvictionBatchSize:       10,
	}
}

// ApplyDefaults fills zero values. CleanupInterval is left alone so that
// zero can disable the sweep.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MaxEntries == 0 {
		c.MaxEntries = d.MaxEntries
	}
	if c.TTL == 0 {
		c.TTL = d.TTL
	}
	if c.Strategy == "" {
		c.Strategy = d.Strategy
	}
	if c.MaxMemoryBytes == 0 {
		c.MaxMemoryBytes = d.MaxMemoryBytes
	}
	if c.MemoryPressureThreshold == 0 {
		c.MemoryPressureThreshold = d.MemoryPressureThreshold
	}
	if c.EvictionBatchSize == 0 {
		c.EvictionBatchSize = d.EvictionBatchSize
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MaxEntries, validation.Min(1)),
		validation.Field(&c.TTL, validation.Min(time.Duration(0))),
		validation.Field(&c.Strategy, validation.Required,
			validation.In(StrategyTTL, StrategySlot, StrategyManual, StrategyHybrid, StrategyWriteThrough)),
		validation.Field(&c.MaxMemoryBytes, validation.Min(int64(1))),
		validation.Field(&c.CleanupInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.MemoryPressureThreshold, validation.Min(0.000001), validation.Max(1.0)),
		validation.Field(&c.EvictionBatchSize, validation.Min(1)),
	)
}
