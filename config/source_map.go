package config

// MapSource serves a fixed in-memory layer, typically compiled-in defaults.
type MapSource struct {
	name     string
	priority int
	data     map[string]interface{}
}

// NewMapSource accepts nested or dot-flattened maps.
func NewMapSource(name string, priority int, data map[string]interface{}) *MapSource {
	return &MapSource{name: name, priority: priority, data: data}
}

func (s *MapSource) Name() string { return "map:" + s.name }

func (s *MapSource) Priority() int { return s.priority }

func (s *MapSource) Load() (map[string]interface{}, error) {
	return flattenMap("", s.data), nil
}
