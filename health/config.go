package health

import "time"

// ConfigKey is the configuration section read by the CLI.
const ConfigKey = "health"

// DefaultProbe is an account every cluster serves.
const DefaultProbe = "11111111111111111111111111111111"

// Config of an Aggregator and its remote probe.
type Config struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// Probe is read uncached through the engine to prove the node answers.
	// Empty skips the probe.
	Probe string `mapstructure:"probe"`
}

func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
		Probe:   DefaultProbe,
	}
}

// NewAggregatorFromConfig builds an Aggregator with cfg.Timeout and
// records the probe address in the response metadata.
func NewAggregatorFromConfig(cfg Config) *Aggregator {
	a := NewAggregator(cfg.Timeout)
	if cfg.Probe != "" {
		a.SetMetadata("probe", cfg.Probe)
	}
	return a
}
