package accountsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/do/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KOMKZ/go-yogan-accountsync/cache"
	"github.com/KOMKZ/go-yogan-accountsync/config"
	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/subscription"
	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

func loaderWith(t *testing.T, yaml string) *config.Loader {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	loader, err := config.NewLoaderBuilder().WithConfigPath(dir).Build()
	require.NoError(t, err)
	return loader
}

func TestLoadConfig(t *testing.T) {
	loader := loaderWith(t, `
accountsync:
  commitment: finalized
  expected_owner: "11111111111111111111111111111111"
  batch_size: 50
  reconcile_interval: 30s
  cache:
    strategy: slot
    max_entries: 500
  subscription:
    max_subscriptions: 10
`)
	cfg, err := LoadConfig(loader)
	require.NoError(t, err)

	assert.Equal(t, subscription.CommitmentFinalized, cfg.Commitment)
	assert.Equal(t, program, cfg.ExpectedOwner)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, cache.StrategySlot, cfg.Cache.Strategy)
	assert.Equal(t, 500, cfg.Cache.MaxEntries)
	assert.Equal(t, 10, cfg.Subscription.MaxSubscriptions)

	// untouched sections keep their defaults
	assert.Equal(t, DefaultConfig().BatchWorkers, cfg.BatchWorkers)
	assert.Equal(t, 3, cfg.Recovery.Retry.MaxAttempts)
	assert.Equal(t, "http://127.0.0.1:8899", cfg.RPC.Endpoint)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"batch above node limit", "accountsync:\n  batch_size: 500\n"},
		{"unknown commitment", "accountsync:\n  commitment: recent\n"},
		{"bad owner", "accountsync:\n  expected_owner: not-base58-0OIl\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(loaderWith(t, tt.yaml))
			assert.ErrorIs(t, err, validator.ErrInvalidConfig)
		})
	}
}

func TestProvide(t *testing.T) {
	injector := do.New()
	do.Provide(injector, config.ProvideLoader(config.ProvideLoaderOptions{
		Defaults: map[string]interface{}{
			"accountsync": map[string]interface{}{"batch_size": 25},
		},
	}))
	do.Provide(injector, Provide[string](labelDecoder, WithLogger(logger.NewNop())))

	f, err := do.Invoke[*Facade[string]](injector)
	require.NoError(t, err)
	assert.Equal(t, 25, f.cfg.BatchSize)
	assert.NotNil(t, f.closers)

	injector.Shutdown()
	_, _, err = f.FetchCached(context.Background(), addrA)
	assert.ErrorIs(t, err, ErrClosed)
}
