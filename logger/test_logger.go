package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestCtxLogger records entries in memory so tests can assert on them.
//
//	tl := logger.NewTestCtxLogger()
//	mgr := cache.NewManager[int](cfg, cache.WithLogger(tl.Logger()))
//	assert.True(t, tl.HasLog("WARN", "memory budget exceeded by pinned entries"))
type TestCtxLogger struct {
	logger *CtxZapLogger
	logs   *observer.ObservedLogs
}

// LogEntry is a flattened observed entry.
type LogEntry struct {
	Level   string
	Message string
	TraceID string
	Fields  map[string]interface{}
}

// NewTestCtxLogger captures everything from debug level up.
func NewTestCtxLogger() *TestCtxLogger {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &CtxZapLogger{
		base:   zap.New(core).With(zap.String("module", "test")),
		module: "test",
		config: &ManagerConfig{EnableTraceID: true, TraceIDFieldName: "trace_id"},
	}
	return &TestCtxLogger{logger: l, logs: logs}
}

// Logger returns the CtxZapLogger feeding this recorder.
func (t *TestCtxLogger) Logger() *CtxZapLogger {
	return t.logger
}

// Logs returns a snapshot of every recorded entry.
func (t *TestCtxLogger) Logs() []LogEntry {
	all := t.logs.All()
	out := make([]LogEntry, 0, len(all))
	for _, e := range all {
		fields := e.ContextMap()
		traceID, _ := fields["trace_id"].(string)
		out = append(out, LogEntry{
			Level:   strings.ToUpper(e.Level.String()),
			Message: e.Message,
			TraceID: traceID,
			Fields:  fields,
		})
	}
	return out
}

// HasLog reports whether an entry with level and message exists. Level is
// case-insensitive.
func (t *TestCtxLogger) HasLog(level, message string) bool {
	for _, e := range t.Logs() {
		if strings.EqualFold(e.Level, level) && e.Message == message {
			return true
		}
	}
	return false
}

// HasLogWithField also matches a single field value.
func (t *TestCtxLogger) HasLogWithField(level, message, key string, value interface{}) bool {
	for _, e := range t.Logs() {
		if strings.EqualFold(e.Level, level) && e.Message == message {
			if v, ok := e.Fields[key]; ok && v == value {
				return true
			}
		}
	}
	return false
}

// CountLogs counts entries at level.
func (t *TestCtxLogger) CountLogs(level string) int {
	n := 0
	for _, e := range t.Logs() {
		if strings.EqualFold(e.Level, level) {
			n++
		}
	}
	return n
}

// Clear drops recorded entries.
func (t *TestCtxLogger) Clear() {
	_ = t.logs.TakeAll()
}
