package limiter

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config of a token bucket. A disabled limiter passes everything through.
type Config struct {
	Enabled bool `mapstructure:"enabled"`

	// Rate is the refill rate in tokens per second.
	Rate float64 `mapstructure:"rate"`
	// Burst is the bucket capacity; the bucket starts full.
	Burst int64 `mapstructure:"burst"`
	// MaxWait rejects a Wait that would block longer. Zero leaves it to ctx.
	MaxWait time.Duration `mapstructure:"max_wait"`
}

func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Rate:    40,
		Burst:   40,
		MaxWait: 5 * time.Second,
	}
}

func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Rate == 0 {
		c.Rate = d.Rate
	}
	if c.Burst == 0 {
		c.Burst = d.Burst
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Rate, validation.Min(0.001)),
		validation.Field(&c.Burst, validation.Min(int64(1))),
		validation.Field(&c.MaxWait, validation.Min(time.Duration(0))),
	)
}
