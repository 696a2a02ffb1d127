package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockChecker struct {
	name string
	err  error
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(ctx context.Context) error { return m.err }

func TestAggregator_Check(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{
			name:     "no checkers",
			checkers: []Checker{},
			want:     StatusHealthy,
		},
		{
			name: "all healthy",
			checkers: []Checker{
				&mockChecker{name: "cache"},
				&mockChecker{name: "breaker"},
			},
			want: StatusHealthy,
		},
		{
			name: "one degraded",
			checkers: []Checker{
				&mockChecker{name: "cache"},
				&mockChecker{name: "breaker", err: Degraded("fetch breaker half-open")},
			},
			want: StatusDegraded,
		},
		{
			name: "unhealthy wins over degraded",
			checkers: []Checker{
				&mockChecker{name: "subscriptions", err: Degraded("2 reconnecting")},
				&mockChecker{name: "breaker", err: errors.New("fetch breaker open")},
			},
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(time.Second)
			for _, checker := range tt.checkers {
				agg.Register(checker)
			}

			response := agg.Check(context.Background())
			assert.Equal(t, tt.want, response.Status)
			assert.Len(t, response.Checks, len(tt.checkers))
		})
	}
}

func TestAggregator_CheckResultDetails(t *testing.T) {
	agg := NewAggregator(time.Second)
	agg.Register(CheckerFunc{CheckName: "breaker", Fn: func(context.Context) error {
		return errors.New("fetch breaker open")
	}})
	agg.Register(CheckerFunc{CheckName: "subscriptions", Fn: func(context.Context) error {
		return Degraded("1 reconnecting")
	}})

	response := agg.Check(context.Background())
	assert.Equal(t, "fetch breaker open", response.Checks["breaker"].Error)
	assert.Equal(t, StatusDegraded, response.Checks["subscriptions"].Status)
	assert.Equal(t, "1 reconnecting", response.Checks["subscriptions"].Message)
}

func TestAggregator_Timeout(t *testing.T) {
	agg := NewAggregator(20 * time.Millisecond)
	agg.Register(CheckerFunc{CheckName: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	response := agg.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, response.Status)
}

func TestAggregator_SetMetadata(t *testing.T) {
	agg := NewAggregator(time.Second)
	agg.SetMetadata("service", "accountsync")
	agg.SetMetadata("version", "1.0.0")

	response := agg.Check(context.Background())
	assert.Equal(t, "accountsync", response.Metadata["service"])
	assert.Equal(t, "1.0.0", response.Metadata["version"])
}

func TestNewAggregatorFromConfig(t *testing.T) {
	t.Run("probe recorded", func(t *testing.T) {
		agg := NewAggregatorFromConfig(DefaultConfig())
		response := agg.Check(context.Background())
		assert.Equal(t, DefaultProbe, response.Metadata["probe"])
		assert.Equal(t, 5*time.Second, agg.timeout)
	})

	t.Run("no probe", func(t *testing.T) {
		agg := NewAggregatorFromConfig(Config{})
		response := agg.Check(context.Background())
		assert.NotContains(t, response.Metadata, "probe")
		assert.Equal(t, 5*time.Second, agg.timeout)
	})
}

func TestResponse_Status(t *testing.T) {
	tests := []struct {
		status   Status
		healthy  bool
		degraded bool
	}{
		{StatusHealthy, true, false},
		{StatusDegraded, false, true},
		{StatusUnhealthy, false, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			response := &Response{Status: tt.status}
			assert.Equal(t, tt.healthy, response.IsHealthy())
			assert.Equal(t, tt.degraded, response.IsDegraded())
		})
	}
}
