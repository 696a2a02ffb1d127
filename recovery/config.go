package recovery

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/KOMKZ/go-yogan-accountsync/breaker"
	"github.com/KOMKZ/go-yogan-accountsync/retry"
)

// Config configures an Executor.
type Config struct {
	Retry   retry.Config   `mapstructure:"retry"`
	Breaker breaker.Config `mapstructure:"breaker"`

	// DisableBreaker runs operations under retry only.
	DisableBreaker bool `mapstructure:"disable_breaker"`

	// Timeout bounds each attempt; zero means unbounded.
	Timeout time.Duration `mapstructure:"timeout"`

	// BudgetRatio caps retries at a fraction of first attempts within
	// BudgetWindow. Zero disables the budget.
	BudgetRatio  float64       `mapstructure:"budget_ratio"`
	BudgetWindow time.Duration `mapstructure:"budget_window"`
}

func DefaultConfig() Config {
	return Config{
		Retry:        retry.DefaultConfig(),
		Breaker:      breaker.DefaultConfig(),
		Timeout:      10 * time.Second,
		BudgetWindow: time.Minute,
	}
}

func (c *Config) ApplyDefaults() {
	c.Retry.ApplyDefaults()
	c.Breaker.ApplyDefaults()
	if c.BudgetWindow == 0 {
		c.BudgetWindow = time.Minute
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Retry),
		validation.Field(&c.Breaker),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.BudgetRatio, validation.Min(0.0), validation.Max(1.0)),
	)
}
