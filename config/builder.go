package config

import (
	"os"
	"path/filepath"
)

// LoaderBuilder assembles the conventional source stack.
type LoaderBuilder struct {
	configPath string
	envPrefix  string
	defaults   map[string]interface{}
}

func NewLoaderBuilder() *LoaderBuilder {
	return &LoaderBuilder{}
}

// WithConfigPath sets the directory holding config.yaml and <env>.yaml.
func (b *LoaderBuilder) WithConfigPath(path string) *LoaderBuilder {
	b.configPath = path
	return b
}

func (b *LoaderBuilder) WithEnvPrefix(prefix string) *LoaderBuilder {
	b.envPrefix = prefix
	return b
}

// WithDefaults installs the lowest priority layer.
func (b *LoaderBuilder) WithDefaults(defaults map[string]interface{}) *LoaderBuilder {
	b.defaults = defaults
	return b
}

// Build adds the sources and loads them.
func (b *LoaderBuilder) Build() (*Loader, error) {
	loader := NewLoader()
	if b.defaults != nil {
		loader.AddSource(NewMapSource("defaults", 1, b.defaults))
	}
	if b.configPath != "" {
		loader.AddSource(NewFileSource(filepath.Join(b.configPath, "config.yaml"), 10))
		if env := GetEnv(); env != "" {
			loader.AddSource(NewFileSource(filepath.Join(b.configPath, env+".yaml"), 20))
		}
	}
	if b.envPrefix != "" {
		loader.AddSource(NewEnvSource(b.envPrefix, 50))
	}
	if err := loader.Load(); err != nil {
		return nil, err
	}
	return loader, nil
}

// GetEnv returns APP_ENV, then ENV, defaulting to "dev".
func GetEnv() string {
	if env := os.Getenv("APP_ENV"); env != "" {
		return env
	}
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "dev"
}
