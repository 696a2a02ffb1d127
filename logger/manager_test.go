package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManager_GetLoggerCachesPerModule(t *testing.T) {
	m := NewManager(ManagerConfig{EnableConsole: false})

	a := m.GetLogger("cache")
	b := m.GetLogger("cache")
	c := m.GetLogger("subscription")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, "cache", a.Module())
}

func TestManager_FileOutputSplitsByLevel(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(ManagerConfig{
		BaseLogDir:            dir,
		Level:                 "info",
		EnableFile:            true,
		EnableLevelInFilename: true,
		MaxSize:               10,
	})

	l := m.GetLogger("breaker")
	l.Info("circuit closed", zap.String("class", "fetch"))
	l.Error("circuit opened", zap.String("class", "fetch"))
	m.CloseAll()

	info, err := os.ReadFile(filepath.Join(dir, "breaker", "breaker-info.log"))
	require.NoError(t, err)
	assert.Contains(t, string(info), "circuit closed")
	assert.NotContains(t, string(info), "circuit opened")

	errLog, err := os.ReadFile(filepath.Join(dir, "breaker", "breaker-error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errLog), "circuit opened")
	assert.Contains(t, string(errLog), `"module":"breaker"`)
}

func TestManager_TraceIDFromContext(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(ManagerConfig{BaseLogDir: dir, EnableFile: true, EnableTraceID: true})

	ctx := WithTraceID(context.Background(), "trace-abc")
	m.GetLogger("accountsync").InfoCtx(ctx, "fetch")
	m.CloseAll()

	data, err := os.ReadFile(filepath.Join(dir, "accountsync", "accountsync-info.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"trace_id":"trace-abc"`)
}

func TestManagerConfig_Validate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, DefaultManagerConfig().Validate())
	})
	t.Run("bad level", func(t *testing.T) {
		cfg := DefaultManagerConfig()
		cfg.Level = "verbose"
		assert.Error(t, cfg.Validate())
	})
	t.Run("bad encoding", func(t *testing.T) {
		cfg := DefaultManagerConfig()
		cfg.Encoding = "xml"
		assert.Error(t, cfg.Validate())
	})
	t.Run("file output needs size", func(t *testing.T) {
		cfg := DefaultManagerConfig()
		cfg.EnableFile = true
		cfg.MaxSize = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "debug", ParseLevel("DEBUG").String())
	assert.Equal(t, "info", ParseLevel("unknown").String())
	assert.Equal(t, "error", ParseLevel("error").String())
}
