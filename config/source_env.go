package config

import (
	"os"
	"strings"
)

// EnvSource maps PREFIX_SECTION__FIELD_NAME to "section.field_name".
// A double underscore separates nesting levels so field names may keep
// single underscores.
type EnvSource struct {
	prefix   string
	priority int
	bindings map[string]string
}

func NewEnvSource(prefix string, priority int) *EnvSource {
	return &EnvSource{prefix: prefix, priority: priority, bindings: make(map[string]string)}
}

// AddBinding maps an explicit variable to a config key. Once any binding
// exists the prefix scan is skipped.
func (s *EnvSource) AddBinding(key, envKey string) {
	s.bindings[key] = envKey
}

func (s *EnvSource) Name() string { return "env:" + s.prefix }

func (s *EnvSource) Priority() int { return s.priority }

func (s *EnvSource) Load() (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if len(s.bindings) > 0 {
		for key, envKey := range s.bindings {
			if v, ok := os.LookupEnv(envKey); ok {
				out[key] = v
			}
		}
		return out, nil
	}
	if s.prefix == "" {
		return out, nil
	}

	prefix := s.prefix + "_"
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, prefix))
		out[strings.ReplaceAll(key, "__", ".")] = value
	}
	return out, nil
}
