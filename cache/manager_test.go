package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

func newTestManager(t *testing.T, mutate func(*Config), opts ...Option) (*Manager[string], *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.CleanupInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New[string](cfg, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, clock
}

func TestManager_TTLRoundTrip(t *testing.T) {
	m, clock := newTestManager(t, func(c *Config) {
		c.Strategy = StrategyTTL
		c.TTL = 10 * time.Second
	})

	m.Put("a", "record")
	v, ok := m.Get("a")
	require.True(t, ok)
	assert.Equal(t, "record", v)

	clock.Advance(10 * time.Second)
	_, ok = m.Get("a")
	assert.True(t, ok, "ttl boundary is inclusive")

	clock.Advance(time.Millisecond)
	_, ok = m.Get("a")
	assert.False(t, ok)
	_, ok = m.Get("a")
	assert.False(t, ok)

	s := m.Stats()
	assert.Equal(t, uint64(1), s.Invalidations)
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(2), s.Misses)
	assert.Equal(t, 0, s.Size)
}

func TestManager_SlotMonotonicity(t *testing.T) {
	for _, strategy := range []Strategy{StrategySlot, StrategyHybrid, StrategyTTL, StrategyManual} {
		t.Run(string(strategy), func(t *testing.T) {
			m, _ := newTestManager(t, func(c *Config) { c.Strategy = strategy })

			require.True(t, m.Put("k", "v1", WithSlot(5)))
			assert.False(t, m.Put("k", "v2", WithSlot(3)))
			v, _ := m.Get("k")
			assert.Equal(t, "v1", v)

			assert.True(t, m.Put("k", "v3", WithSlot(7)))
			v, _ = m.Get("k")
			assert.Equal(t, "v3", v)

			assert.True(t, m.Put("k", "v4"), "unknown slot is accepted")
		})
	}
}

func TestManager_CapacityInvariant(t *testing.T) {
	m, _ := newTestManager(t, func(c *Config) {
		c.Strategy = StrategyManual
		c.MaxEntries = 3
	})

	for i := 0; i < 10; i++ {
		m.Put(fmt.Sprintf("k%d", i), "v", WithSize(1))
		assert.LessOrEqual(t, m.Len(), 3)
	}
	s := m.Stats()
	assert.Equal(t, uint64(7), s.Evictions)
	assert.False(t, s.OverBudget)
}

func TestManager_LRUOrder(t *testing.T) {
	m, _ := newTestManager(t, func(c *Config) {
		c.Strategy = StrategyManual
		c.MaxEntries = 3
	})

	m.Put("a", "1")
	m.Put("b", "2")
	m.Put("c", "3")
	m.Get("a")
	m.Put("d", "4")

	assert.True(t, m.Contains("a"))
	assert.False(t, m.Contains("b"), "least recently used goes first")
	assert.True(t, m.Contains("c"))
	assert.True(t, m.Contains("d"))
}

func TestManager_PinnedEntries(t *testing.T) {
	t.Run("never evicted", func(t *testing.T) {
		m, _ := newTestManager(t, func(c *Config) {
			c.Strategy = StrategyManual
			c.MaxEntries = 2
		})
		m.Put("pinned", "p", Pinned())
		m.Put("b", "b")
		m.Put("c", "c")

		assert.True(t, m.Contains("pinned"))
		assert.False(t, m.Contains("b"))
		assert.True(t, m.Contains("c"))
	})

	t.Run("survive cleanup", func(t *testing.T) {
		m, clock := newTestManager(t, func(c *Config) {
			c.Strategy = StrategyTTL
			c.TTL = time.Second
		})
		m.Put("pinned", "p", Pinned())
		m.Put("plain", "x")
		clock.Advance(2 * time.Second)

		assert.Equal(t, 1, m.Cleanup())
		_, ok := m.Peek("pinned")
		assert.True(t, ok)

		_, hit := m.Get("pinned")
		assert.False(t, hit, "an expired pinned entry is a miss")
		_, ok = m.Peek("pinned")
		assert.True(t, ok, "but stays cached")

		assert.True(t, m.Remove("pinned"))
		assert.Equal(t, 0, m.Len())
	})

	t.Run("soft budget when all pinned", func(t *testing.T) {
		tl := logger.NewTestCtxLogger()
		m, _ := newTestManager(t, func(c *Config) {
			c.Strategy = StrategyManual
			c.MaxEntries = 2
		}, WithLogger(tl.Logger()))

		m.Put("a", "a", Pinned())
		m.Put("b", "b", Pinned())
		assert.True(t, m.Put("c", "c", Pinned()))

		s := m.Stats()
		assert.Equal(t, 3, s.Size)
		assert.Equal(t, 3, s.Pinned)
		assert.True(t, s.OverBudget)
		assert.True(t, tl.HasLog("WARN", "cache over budget, remaining entries are pinned"))

		m.Clear()
		assert.Equal(t, 0, m.Stats().Pinned)
	})
}

func TestManager_RemoveAt(t *testing.T) {
	m, _ := newTestManager(t, func(c *Config) { c.Strategy = StrategySlot })
	m.Put("newer", "n", WithSlot(20))
	m.Put("same", "s", WithSlot(7))
	m.Put("older", "o", WithSlot(3))
	m.Put("unslotted", "u")
	m.Put("pinned", "p", WithSlot(1), Pinned())

	assert.False(t, m.RemoveAt("newer", 7))
	assert.True(t, m.RemoveAt("same", 7))
	assert.True(t, m.RemoveAt("older", 7))
	assert.True(t, m.RemoveAt("unslotted", 7))
	assert.False(t, m.RemoveAt("pinned", 7))
	assert.False(t, m.RemoveAt("absent", 7))

	_, ok := m.Peek("newer")
	assert.True(t, ok)
	_, ok = m.Peek("pinned")
	assert.True(t, ok)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 1, m.Stats().Pinned)
}

func TestManager_MemoryPressure(t *testing.T) {
	m, _ := newTestManager(t, func(c *Config) {
		c.Strategy = StrategyManual
		c.MaxEntries = 100
		c.MaxMemoryBytes = 100
		c.MemoryPressureThreshold = 0.5
		c.EvictionBatchSize = 2
	})

	for i := 0; i < 5; i++ {
		m.Put(fmt.Sprintf("k%d", i), "v", WithSize(10))
	}
	assert.Equal(t, uint64(0), m.Stats().Evictions)

	m.Put("k5", "v", WithSize(10))
	s := m.Stats()
	assert.Equal(t, uint64(2), s.Evictions, "one batch per put over the threshold")
	assert.Equal(t, int64(40), s.MemoryUsage)
	assert.False(t, m.Contains("k0"))
	assert.False(t, m.Contains("k1"))

	m.Put("k6", "v", WithSize(10))
	assert.Equal(t, uint64(2), m.Stats().Evictions)
}

func TestManager_MemoryHardLimit(t *testing.T) {
	m, _ := newTestManager(t, func(c *Config) {
		c.Strategy = StrategyManual
		c.MaxMemoryBytes = 100
		c.MemoryPressureThreshold = 1
		c.EvictionBatchSize = 1
	})

	m.Put("a", "a", WithSize(40))
	m.Put("b", "b", WithSize(40))
	m.Put("c", "c", WithSize(90))

	s := m.Stats()
	assert.LessOrEqual(t, s.MemoryUsage, int64(100))
	assert.Equal(t, 1, s.Size)
	assert.True(t, m.Contains("c"))

	m.Put("c", "c2", WithSize(10))
	assert.Equal(t, int64(10), m.Stats().MemoryUsage, "replacing frees the old credit")
}

func TestManager_Invalidate(t *testing.T) {
	t.Run("slot", func(t *testing.T) {
		m, _ := newTestManager(t, func(c *Config) { c.Strategy = StrategySlot })
		m.Put("a", "a", WithSlot(5))
		m.Put("b", "b", WithSlot(9))
		m.Put("c", "c")
		m.Put("p", "p", WithSlot(1), Pinned())

		assert.Equal(t, 1, m.Invalidate(InvalidateOptions{Slot: 7}))
		assert.Equal(t, uint64(7), m.CurrentSlot())
		assert.False(t, m.Contains("a"))
		assert.True(t, m.Contains("b"))
		assert.True(t, m.Contains("c"), "unknown slot is never stale")
		_, ok := m.Peek("p")
		assert.True(t, ok)

		m.AdvanceSlot(10)
		m.AdvanceSlot(8)
		assert.Equal(t, uint64(10), m.CurrentSlot())
		_, ok = m.Get("b")
		assert.False(t, ok)
	})

	t.Run("keys remove pinned entries", func(t *testing.T) {
		m, _ := newTestManager(t, func(c *Config) { c.Strategy = StrategyManual })
		m.Put("a", "a", Pinned())
		m.Put("b", "b")
		assert.Equal(t, 1, m.Invalidate(InvalidateOptions{Keys: []string{"a", "missing"}}))
		assert.Equal(t, 1, m.Len())
	})

	t.Run("manual ignores sweeps", func(t *testing.T) {
		m, clock := newTestManager(t, func(c *Config) { c.Strategy = StrategyManual })
		m.Put("a", "a", WithSlot(1))
		clock.Advance(time.Hour)
		assert.Equal(t, 0, m.Invalidate(InvalidateOptions{Slot: 100}))
		_, ok := m.Get("a")
		assert.True(t, ok)
	})

	t.Run("ttl drops expired", func(t *testing.T) {
		m, clock := newTestManager(t, func(c *Config) {
			c.Strategy = StrategyTTL
			c.TTL = time.Minute
		})
		m.Put("old", "o")
		clock.Advance(2 * time.Minute)
		m.Put("new", "n")
		assert.Equal(t, 1, m.Invalidate(InvalidateOptions{}))
		assert.True(t, m.Contains("new"))
	})

	t.Run("write through clears", func(t *testing.T) {
		m, _ := newTestManager(t, func(c *Config) { c.Strategy = StrategyWriteThrough })
		assert.True(t, m.Put("a", "a"))
		assert.True(t, m.Put("b", "b", Pinned()))
		assert.Equal(t, 2, m.Invalidate(InvalidateOptions{}))
		assert.Equal(t, 0, m.Len())
	})
}

func TestManager_WriteThroughAlwaysMisses(t *testing.T) {
	m, _ := newTestManager(t, func(c *Config) { c.Strategy = StrategyWriteThrough })
	m.Put("a", "a")
	assert.Equal(t, 1, m.Len())
	assert.False(t, m.Contains("a"))
	_, ok := m.Get("a")
	assert.False(t, ok)
}

func TestManager_Hybrid(t *testing.T) {
	m, clock := newTestManager(t, func(c *Config) {
		c.Strategy = StrategyHybrid
		c.TTL = time.Minute
	})
	m.Put("a", "a", WithSlot(10))
	m.Put("b", "b", WithSlot(20))

	m.AdvanceSlot(15)
	assert.False(t, m.Contains("a"))
	assert.True(t, m.Contains("b"))

	clock.Advance(2 * time.Minute)
	assert.False(t, m.Contains("b"))
}

func TestManager_NegativeSize(t *testing.T) {
	t.Run("clamped", func(t *testing.T) {
		tl := logger.NewTestCtxLogger()
		m, _ := newTestManager(t, nil, WithLogger(tl.Logger()))
		m.Put("a", "a", WithSize(-5))
		info, ok := m.Peek("a")
		require.True(t, ok)
		assert.Equal(t, int64(0), info.SizeBytes)
		assert.True(t, tl.HasLogWithField("WARN", "negative size estimate clamped to zero", "key", "a"))
	})

	t.Run("strict", func(t *testing.T) {
		m, _ := newTestManager(t, func(c *Config) { c.StrictPreconditions = true })
		assert.Panics(t, func() { m.Put("a", "a", WithSize(-1)) })
		assert.Equal(t, 0, m.Len())
	})
}

func TestManager_CustomSizer(t *testing.T) {
	m, _ := newTestManager(t, nil)
	m.SetSizer(func(s string) int64 { return int64(len(s)) * 2 })
	m.Put("a", "abcd")
	info, _ := m.Peek("a")
	assert.Equal(t, int64(8), info.SizeBytes)
}

func TestManager_ScheduledCleanup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cfg := DefaultConfig()
	cfg.Strategy = StrategyTTL
	cfg.TTL = 10 * time.Second
	cfg.CleanupInterval = time.Minute
	m, err := New[string](cfg, WithClock(clock))
	require.NoError(t, err)

	m.Put("a", "a")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)

	assert.Eventually(t, func() bool { return m.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, clock.Now(), m.Stats().LastCleanupAt)

	m.Close()
	m.Close()
}

func TestManager_Concurrent(t *testing.T) {
	m, _ := newTestManager(t, func(c *Config) {
		c.Strategy = StrategyManual
		c.MaxEntries = 50
	})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (w*200+i)%120)
				m.Put(key, key, WithSlot(uint64(i)))
				m.Get(key)
				if i%17 == 0 {
					m.Remove(key)
				}
			}
		}(w)
	}
	wg.Wait()

	s := m.Stats()
	assert.LessOrEqual(t, s.Size, 50)
	assert.Equal(t, s.Hits+s.Misses, uint64(8*200))
}

func TestManager_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = "lfu"
	_, err := New[string](cfg)
	assert.ErrorIs(t, err, validator.ErrInvalidConfig)
}

func TestManager_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, _ := newTestManager(t, func(c *Config) {
		c.Strategy = StrategyManual
		c.MaxEntries = 1
	}, WithMeter(provider.Meter("cache-test"), "accounts"))

	m.Put("a", "a", WithSize(3))
	m.Get("a")
	m.Get("missing")
	m.Put("b", "b", WithSize(4))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	values := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					values[md.Name] += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					values[md.Name] = dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(2), values["cache_lookups_total"])
	assert.Equal(t, int64(1), values["cache_evictions_total"])
	assert.Equal(t, int64(1), values["cache_entries"])
	assert.Equal(t, int64(4), values["cache_memory_bytes"])
}
