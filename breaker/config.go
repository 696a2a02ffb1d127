package breaker

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ClassConfig configures one operation class.
type ClassConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `mapstructure:"recovery_timeout"`
	HalfOpenMaxCalls int           `mapstructure:"half_open_max_calls"`
}

// DefaultClassConfig trips after 5 failures and probes once after 30s.
func DefaultClassConfig() ClassConfig {
	return ClassConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c *ClassConfig) ApplyDefaults() {
	d := DefaultClassConfig()
	if c.FailureThreshold == 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
}

func (c ClassConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.FailureThreshold, validation.Required, validation.Min(1)),
		validation.Field(&c.RecoveryTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.HalfOpenMaxCalls, validation.Required, validation.Min(1)),
	)
}

// Merge overlays the non-zero fields of override.
func (c ClassConfig) Merge(override ClassConfig) ClassConfig {
	out := c
	if override.FailureThreshold != 0 {
		out.FailureThreshold = override.FailureThreshold
	}
	if override.RecoveryTimeout != 0 {
		out.RecoveryTimeout = override.RecoveryTimeout
	}
	if override.HalfOpenMaxCalls != 0 {
		out.HalfOpenMaxCalls = override.HalfOpenMaxCalls
	}
	return out
}

// Config configures a Registry.
type Config struct {
	EventBusBuffer int                    `mapstructure:"event_bus_buffer"`
	Default        ClassConfig            `mapstructure:"default"`
	Classes        map[string]ClassConfig `mapstructure:"classes"`
}

func DefaultConfig() Config {
	return Config{
		EventBusBuffer: 256,
		Default:        DefaultClassConfig(),
		Classes:        map[string]ClassConfig{},
	}
}

func (c *Config) ApplyDefaults() {
	if c.EventBusBuffer == 0 {
		c.EventBusBuffer = DefaultConfig().EventBusBuffer
	}
	c.Default.ApplyDefaults()
}

// Validate checks the default and every merged class override.
func (c Config) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.EventBusBuffer, validation.Min(1)),
		validation.Field(&c.Default),
	); err != nil {
		return err
	}
	for name, cc := range c.Classes {
		if err := c.Default.Merge(cc).Validate(); err != nil {
			return validation.Errors{fmt.Sprintf("classes.%s", name): err}
		}
	}
	return nil
}

// For returns the effective config of class.
func (c Config) For(class string) ClassConfig {
	if cc, ok := c.Classes[class]; ok {
		return c.Default.Merge(cc)
	}
	return c.Default
}
