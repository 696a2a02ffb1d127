package accountsync

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/KOMKZ/go-yogan-accountsync/cache"
	"github.com/KOMKZ/go-yogan-accountsync/config"
	"github.com/KOMKZ/go-yogan-accountsync/limiter"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/recovery"
	"github.com/KOMKZ/go-yogan-accountsync/rpcclient"
	"github.com/KOMKZ/go-yogan-accountsync/snapshot"
	"github.com/KOMKZ/go-yogan-accountsync/subscription"
	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

// ConfigKey is the section LoadConfig reads.
const ConfigKey = "accountsync"

// MaxBatchSize is the getMultipleAccounts limit of the node.
const MaxBatchSize = 100

// Config aggregates every component section plus the facade's own knobs.
type Config struct {
	Cache        cache.Config            `mapstructure:"cache"`
	Subscription subscription.Config     `mapstructure:"subscription"`
	Recovery     recovery.Config         `mapstructure:"recovery"`
	Limiter      limiter.Config          `mapstructure:"limiter"`
	Snapshot     snapshot.Config         `mapstructure:"snapshot"`
	RPC          rpcclient.Config        `mapstructure:"rpc"`
	Logger       logger.ManagerConfig    `mapstructure:"logger"`
	Commitment   subscription.Commitment `mapstructure:"commitment"`

	// AccountType is handed to the decoder with every payload.
	AccountType string `mapstructure:"account_type"`

	// ExpectedOwner rejects records owned by another program. Empty
	// disables the check.
	ExpectedOwner string `mapstructure:"expected_owner"`

	BatchSize    int `mapstructure:"batch_size"`
	BatchWorkers int `mapstructure:"batch_workers"`

	// StreamBuffer is the capacity of each Stream's update channel.
	StreamBuffer int `mapstructure:"stream_buffer"`

	// ReconcileInterval re-fetches every subscribed address on a schedule.
	// Zero disables the job; reconnects still trigger a one-shot reconcile.
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	ReconcileTimeout  time.Duration `mapstructure:"reconcile_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Cache:            cache.DefaultConfig(),
		Subscription:     subscription.DefaultConfig(),
		Recovery:         recovery.DefaultConfig(),
		Limiter:          limiter.DefaultConfig(),
		Snapshot:         snapshot.DefaultConfig(),
		RPC:              rpcclient.DefaultConfig(),
		Logger:           logger.DefaultManagerConfig(),
		Commitment:       subscription.CommitmentConfirmed,
		BatchSize:        MaxBatchSize,
		BatchWorkers:     8,
		StreamBuffer:     64,
		ReconcileTimeout: 30 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	c.Cache.ApplyDefaults()
	c.Subscription.ApplyDefaults()
	c.Recovery.ApplyDefaults()
	c.Limiter.ApplyDefaults()
	c.RPC.ApplyDefaults()
	c.Logger.ApplyDefaults()
	if c.Commitment == "" {
		c.Commitment = d.Commitment
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchWorkers == 0 {
		c.BatchWorkers = d.BatchWorkers
	}
	if c.StreamBuffer == 0 {
		c.StreamBuffer = d.StreamBuffer
	}
	if c.ReconcileTimeout == 0 {
		c.ReconcileTimeout = d.ReconcileTimeout
	}
}

// Validate covers the facade's own fields. Component sections are checked
// by the constructors that consume them.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Commitment, validation.In(
			subscription.CommitmentProcessed,
			subscription.CommitmentConfirmed,
			subscription.CommitmentFinalized)),
		validation.Field(&c.ExpectedOwner, validation.By(optionalAddress)),
		validation.Field(&c.BatchSize, validation.Min(1), validation.Max(MaxBatchSize)),
		validation.Field(&c.BatchWorkers, validation.Min(1)),
		validation.Field(&c.StreamBuffer, validation.Min(1)),
		validation.Field(&c.ReconcileInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.ReconcileTimeout, validation.Min(time.Millisecond)),
	)
}

func optionalAddress(v interface{}) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	return rpcclient.ValidateAddress(s)
}

// LoadConfig reads the accountsync section over the defaults.
func LoadConfig(loader *config.Loader) (Config, error) {
	cfg := DefaultConfig()
	if err := loader.UnmarshalKey(ConfigKey, &cfg); err != nil {
		return Config{}, validator.ErrInvalidConfig.WithMsgf("read %s config", ConfigKey).Wrap(err)
	}
	cfg.ApplyDefaults()
	if err := validator.Check(ConfigKey, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
