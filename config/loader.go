package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Loader merges several ConfigSources by priority and exposes the result
// through viper.
type Loader struct {
	sources     []ConfigSource
	merged      map[string]interface{}
	v           *viper.Viper
	loadedFiles []string
}

// NewLoader creates an empty loader.
func NewLoader() *Loader {
	return &Loader{
		merged: make(map[string]interface{}),
		v:      viper.New(),
	}
}

// AddSource registers a source. Sources are applied on Load.
func (l *Loader) AddSource(source ConfigSource) {
	l.sources = append(l.sources, source)
}

// Load reads every source, lowest priority first, so higher priorities win
// key by key.
func (l *Loader) Load() error {
	sort.SliceStable(l.sources, func(i, j int) bool {
		return l.sources[i].Priority() < l.sources[j].Priority()
	})

	l.merged = make(map[string]interface{})
	l.loadedFiles = l.loadedFiles[:0]
	for _, source := range l.sources {
		data, err := source.Load()
		if err != nil {
			return fmt.Errorf("load source %s: %w", source.Name(), err)
		}
		if fs, ok := source.(*FileSource); ok && len(data) > 0 {
			l.loadedFiles = append(l.loadedFiles, fs.path)
		}
		for k, v := range data {
			l.merged[strings.ToLower(k)] = v
		}
	}

	l.v = viper.New()
	for k, v := range unflatten(l.merged) {
		l.v.Set(k, v)
	}
	return nil
}

// unflatten turns {"cache.ttl": "5s"} into {"cache": {"ttl": "5s"}}.
func unflatten(flat map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range flat {
		parts := strings.Split(key, ".")
		cur := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := cur[p].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				cur[p] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = value
	}
	return out
}

// Unmarshal decodes the whole tree into v using mapstructure tags.
func (l *Loader) Unmarshal(v interface{}) error {
	return l.v.Unmarshal(v)
}

// UnmarshalKey decodes the subtree at key into v.
func (l *Loader) UnmarshalKey(key string, v interface{}) error {
	return l.v.UnmarshalKey(key, v)
}

func (l *Loader) Get(key string) interface{} { return l.v.Get(key) }

func (l *Loader) GetString(key string) string { return l.v.GetString(key) }

func (l *Loader) GetInt(key string) int { return l.v.GetInt(key) }

func (l *Loader) GetBool(key string) bool { return l.v.GetBool(key) }

func (l *Loader) IsSet(key string) bool { return l.v.IsSet(key) }

// GetLoadedFiles lists config files that contributed at least one key.
func (l *Loader) GetLoadedFiles() []string {
	return append([]string(nil), l.loadedFiles...)
}

// GetViper exposes the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}
