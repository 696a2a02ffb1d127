package config

import (
	"fmt"

	"github.com/samber/do/v2"
)

// ProvideLoaderOptions configures ProvideLoader.
type ProvideLoaderOptions struct {
	ConfigPath string
	EnvPrefix  string
	Defaults   map[string]interface{}
}

// ProvideLoader registers a Loader built from opts.
//
//	do.Provide(injector, config.ProvideLoader(config.ProvideLoaderOptions{
//	    ConfigPath: "./configs",
//	    EnvPrefix:  "ACCOUNTSYNC",
//	}))
func ProvideLoader(opts ProvideLoaderOptions) func(do.Injector) (*Loader, error) {
	return func(do.Injector) (*Loader, error) {
		loader, err := NewLoaderBuilder().
			WithConfigPath(opts.ConfigPath).
			WithEnvPrefix(opts.EnvPrefix).
			WithDefaults(opts.Defaults).
			Build()
		if err != nil {
			return nil, fmt.Errorf("config loader build failed: %w", err)
		}
		return loader, nil
	}
}

// ProvideLoaderValue registers an already built loader.
func ProvideLoaderValue(loader *Loader) func(do.Injector) (*Loader, error) {
	return func(do.Injector) (*Loader, error) {
		return loader, nil
	}
}
