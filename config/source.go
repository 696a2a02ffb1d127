package config

// ConfigSource is one layer of configuration. Load returns dot-separated
// keys, e.g. "cache.max_entries".
//
// Conventional priorities: defaults 1, config.yaml 10, <env>.yaml 20,
// environment variables 50.
type ConfigSource interface {
	Name() string
	Priority() int
	Load() (map[string]interface{}, error)
}
