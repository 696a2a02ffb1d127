package subscription

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config configures a Manager and the subscriptions it creates.
type Config struct {
	MaxSubscriptions int        `mapstructure:"max_subscriptions"`
	Commitment       Commitment `mapstructure:"commitment"`

	AutoReconnect        bool          `mapstructure:"auto_reconnect"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	ReconnectBackoff     float64       `mapstructure:"reconnect_backoff"`
	MaxReconnectDelay    time.Duration `mapstructure:"max_reconnect_delay"`

	// IdleTimeout treats a connected feed that stays silent this long as dead.
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	IdleCheckInterval time.Duration `mapstructure:"idle_check_interval"`

	// BufferSize is how many delivered notifications each subscription keeps.
	BufferSize int `mapstructure:"buffer_size"`
	// HandleBuffer is the channel capacity of each consumer handle.
	HandleBuffer int `mapstructure:"handle_buffer"`

	CloseTimeout time.Duration `mapstructure:"close_timeout"`
}

func DefaultConfig() Config {
	return Config{
		MaxSubscriptions:     100,
		Commitment:           CommitmentConfirmed,
		AutoReconnect:        true,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       time.Second,
		ReconnectBackoff:     2,
		MaxReconnectDelay:    30 * time.Second,
		IdleTimeout:          time.Minute,
		IdleCheckInterval:    5 * time.Second,
		BufferSize:           32,
		HandleBuffer:         64,
		CloseTimeout:         5 * time.Second,
	}
}

// ApplyDefaults fills zero values. AutoReconnect is taken as given.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.MaxSubscriptions == 0 {
		c.MaxSubscriptions = d.MaxSubscriptions
	}
	if c.Commitment == "" {
		c.Commitment = d.Commitment
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = d.MaxReconnectAttempts
	}
	if c.ReconnectBackoff == 0 {
		c.ReconnectBackoff = d.ReconnectBackoff
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = d.MaxReconnectDelay
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.IdleCheckInterval == 0 {
		c.IdleCheckInterval = d.IdleCheckInterval
	}
	if c.BufferSize == 0 {
		c.BufferSize = d.BufferSize
	}
	if c.HandleBuffer == 0 {
		c.HandleBuffer = d.HandleBuffer
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = d.CloseTimeout
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.MaxSubscriptions, validation.Min(1)),
		validation.Field(&c.Commitment, validation.In(CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized)),
		validation.Field(&c.MaxReconnectAttempts, validation.Min(1)),
		validation.Field(&c.ReconnectDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.ReconnectBackoff, validation.Min(1.0)),
		validation.Field(&c.IdleTimeout, validation.Min(time.Millisecond)),
		validation.Field(&c.IdleCheckInterval, validation.Min(time.Millisecond)),
		validation.Field(&c.BufferSize, validation.Min(1)),
		validation.Field(&c.HandleBuffer, validation.Min(0)),
	)
}
