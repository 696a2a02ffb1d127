package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cacheSection struct {
	MaxEntries int           `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
	Strategy   string        `mapstructure:"strategy"`
}

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoader_PriorityMerge(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "cache:\n  max_entries: 100\n  ttl: 30s\n  strategy: ttl\n")
	writeFile(t, dir, "test.yaml", "cache:\n  strategy: hybrid\n")
	t.Setenv("APP_ENV", "test")
	t.Setenv("ACCSYNCTEST_CACHE__MAX_ENTRIES", "250")

	loader, err := NewLoaderBuilder().
		WithConfigPath(dir).
		WithEnvPrefix("ACCSYNCTEST").
		WithDefaults(map[string]interface{}{"cache": map[string]interface{}{"ttl": "5s"}}).
		Build()
	require.NoError(t, err)

	var c cacheSection
	require.NoError(t, loader.UnmarshalKey("cache", &c))
	assert.Equal(t, 250, c.MaxEntries)
	assert.Equal(t, 30*time.Second, c.TTL)
	assert.Equal(t, "hybrid", c.Strategy)
	assert.Len(t, loader.GetLoadedFiles(), 2)
}

func TestLoader_MissingFileIsEmptyLayer(t *testing.T) {
	loader, err := NewLoaderBuilder().WithConfigPath(t.TempDir()).Build()
	require.NoError(t, err)
	assert.False(t, loader.IsSet("cache.max_entries"))
	assert.Empty(t, loader.GetLoadedFiles())
}

func TestLoader_BadFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "cache: [unclosed\n")

	_, err := NewLoaderBuilder().WithConfigPath(dir).Build()
	assert.Error(t, err)
}

func TestEnvSource(t *testing.T) {
	t.Run("prefix scan", func(t *testing.T) {
		t.Setenv("ENVSRC_SUBSCRIPTION__MAX_SUBSCRIPTIONS", "8")
		t.Setenv("ENVSRC_LIMITER__RATE", "50")
		data, err := NewEnvSource("ENVSRC", 50).Load()
		require.NoError(t, err)
		assert.Equal(t, "8", data["subscription.max_subscriptions"])
		assert.Equal(t, "50", data["limiter.rate"])
	})

	t.Run("explicit bindings", func(t *testing.T) {
		t.Setenv("RPC_ENDPOINT", "http://localhost:8899")
		s := NewEnvSource("IGNORED", 50)
		s.AddBinding("rpc.http_endpoint", "RPC_ENDPOINT")
		data, err := s.Load()
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"rpc.http_endpoint": "http://localhost:8899"}, data)
	})
}

func TestLoader_GetHelpers(t *testing.T) {
	loader := NewLoader()
	loader.AddSource(NewMapSource("inline", 1, map[string]interface{}{
		"rpc.commitment":      "confirmed",
		"rpc.batch_size":      100,
		"snapshot.enabled":    true,
		"snapshot.key_prefix": "acct:",
	}))
	require.NoError(t, loader.Load())

	assert.Equal(t, "confirmed", loader.GetString("rpc.commitment"))
	assert.Equal(t, 100, loader.GetInt("rpc.batch_size"))
	assert.True(t, loader.GetBool("snapshot.enabled"))
	assert.Equal(t, "acct:", loader.Get("snapshot.key_prefix"))
	assert.NotNil(t, loader.GetViper())
}

type okValidator struct{}

func (okValidator) Validate() error { return nil }

type badValidator struct{}

func (badValidator) Validate() error { return os.ErrInvalid }

func TestValidateAll(t *testing.T) {
	assert.NoError(t, ValidateAll(okValidator{}, okValidator{}))
	assert.ErrorIs(t, ValidateAll(okValidator{}, badValidator{}), os.ErrInvalid)
}

func TestProvideLoader(t *testing.T) {
	injector := do.New()
	do.Provide(injector, ProvideLoader(ProvideLoaderOptions{
		Defaults: map[string]interface{}{"rpc": map[string]interface{}{"commitment": "finalized"}},
	}))

	loader, err := do.Invoke[*Loader](injector)
	require.NoError(t, err)
	assert.Equal(t, "finalized", loader.GetString("rpc.commitment"))
}
