package retry

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/KOMKZ/go-yogan-accountsync/classify"
)

// Policy kinds accepted in configuration.
const (
	KindExponential = "exponential"
	KindLinear      = "linear"
	KindFixed       = "fixed"
	KindImmediate   = "immediate"
)

// Config describes a policy in configuration files.
type Config struct {
	Kind        string        `mapstructure:"kind"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      bool          `mapstructure:"jitter"`
}

// DefaultConfig is 3 attempts of jittered exponential backoff from 200ms up to 5s.
func DefaultConfig() Config {
	return Config{
		Kind:        KindExponential,
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Second,
		Jitter:      true,
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Kind == "" {
		c.Kind = d.Kind
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay == 0 && c.Kind != KindImmediate {
		c.BaseDelay = d.BaseDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = d.MaxDelay
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Kind, validation.Required, validation.In(KindExponential, KindLinear, KindFixed, KindImmediate)),
		validation.Field(&c.MaxAttempts, validation.Min(1)),
		validation.Field(&c.BaseDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.Multiplier, validation.Min(0.0)),
		validation.Field(&c.MaxDelay, validation.Min(time.Duration(0))),
	)
}

// Build creates the policy described by c using classifier for retry
// eligibility.
func (c Config) Build(classifier classify.Classifier) (Policy, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	opt := WithClassifier(classifier)
	switch c.Kind {
	case KindExponential:
		return Exponential(c.MaxAttempts, c.BaseDelay, c.Multiplier, c.MaxDelay, c.Jitter, opt), nil
	case KindLinear:
		return Linear(c.MaxAttempts, c.BaseDelay, c.MaxDelay, opt), nil
	case KindFixed:
		return Fixed(c.MaxAttempts, c.BaseDelay, opt), nil
	case KindImmediate:
		return Immediate(c.MaxAttempts, opt), nil
	}
	return nil, fmt.Errorf("unknown retry policy kind %q", c.Kind)
}
