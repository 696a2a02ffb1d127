package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/KOMKZ/go-yogan-accountsync/errdef"
	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

func newBucket(t *testing.T, rate float64, burst int64, maxWait time.Duration) (*TokenBucket, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	b, err := New(Config{Enabled: true, Rate: rate, Burst: burst, MaxWait: maxWait}, WithClock(clock))
	require.NoError(t, err)
	return b, clock
}

func TestTokenBucket_AllowRefills(t *testing.T) {
	b, clock := newBucket(t, 10, 2, 0)

	assert.True(t, b.Allow())
	assert.True(t, b.Allow())
	assert.False(t, b.Allow(), "bucket is empty")

	clock.Advance(100 * time.Millisecond)
	assert.True(t, b.Allow())

	clock.Advance(time.Hour)
	assert.InDelta(t, 2.0, b.Stats().Tokens, 1e-9, "refill is capped at burst")

	st := b.Stats()
	assert.Equal(t, uint64(3), st.Allowed)
	assert.Equal(t, uint64(1), st.Rejected)
}

func TestTokenBucket_Wait(t *testing.T) {
	t.Run("blocks until a token refills", func(t *testing.T) {
		b, clock := newBucket(t, 10, 1, 0)
		require.NoError(t, b.Wait(context.Background()))

		done := make(chan error, 1)
		go func() { done <- b.Wait(context.Background()) }()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		select {
		case <-done:
			t.Fatal("wait returned before the refill")
		default:
		}

		clock.Advance(100 * time.Millisecond)
		require.NoError(t, <-done)
		assert.Equal(t, uint64(1), b.Stats().Waited)
	})

	t.Run("rejects waits beyond max wait", func(t *testing.T) {
		b, _ := newBucket(t, 1, 1, 500*time.Millisecond)
		require.NoError(t, b.Wait(context.Background()))

		err := b.Wait(context.Background())
		assert.ErrorIs(t, err, ErrWaitTimeout)
		assert.ErrorIs(t, err, errdef.ErrTimeout)
		assert.InDelta(t, 0.0, b.Stats().Tokens, 1e-9, "rejected wait returns its reservation")
	})

	t.Run("canceled wait returns its reservation", func(t *testing.T) {
		b, clock := newBucket(t, 1, 1, 0)
		require.True(t, b.Allow())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- b.Wait(ctx) }()

		bctx, bcancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer bcancel()
		require.NoError(t, clock.BlockUntilContext(bctx, 1))
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
		assert.InDelta(t, 0.0, b.Stats().Tokens, 1e-9)
	})

	t.Run("more than burst", func(t *testing.T) {
		b, _ := newBucket(t, 1, 2, 0)
		assert.ErrorIs(t, b.WaitN(context.Background(), 3), errdef.ErrInvalidArgument)
	})
}

func TestTokenBucket_Disabled(t *testing.T) {
	b, err := New(Config{Rate: 1, Burst: 1})
	require.NoError(t, err)
	assert.False(t, b.IsEnabled())
	for i := 0; i < 10; i++ {
		assert.True(t, b.Allow())
		assert.NoError(t, b.Wait(context.Background()))
	}
}

func TestTokenBucket_InvalidConfig(t *testing.T) {
	_, err := New(Config{Enabled: true, Rate: -1, Burst: 1})
	assert.ErrorIs(t, err, validator.ErrInvalidConfig)
}

func TestTokenBucket_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewOTelMetrics(provider.Meter("test"), "rpc")
	require.NoError(t, err)

	clock := clockwork.NewFakeClock()
	b, err := New(Config{Enabled: true, Rate: 1, Burst: 1}, WithClock(clock), WithMetrics(m))
	require.NoError(t, err)
	b.Allow()
	b.Allow()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var requests int64
	var gaugeSeen bool
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch md.Name {
			case "limiter_requests_total":
				for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
					requests += dp.Value
				}
			case "limiter_tokens":
				gaugeSeen = len(md.Data.(metricdata.Gauge[float64]).DataPoints) == 1
			}
		}
	}
	assert.Equal(t, int64(2), requests)
	assert.True(t, gaugeSeen)
}
