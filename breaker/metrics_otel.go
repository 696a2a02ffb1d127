package breaker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics records breaker activity. A nil *OTelMetrics records nothing.
type OTelMetrics struct {
	calls      metric.Int64Counter
	rejections metric.Int64Counter
	latency    metric.Float64Histogram

	mu     sync.RWMutex
	states map[string]func() int64
}

// NewOTelMetrics registers instruments on meter.
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{states: make(map[string]func() int64)}
	var err error

	if m.calls, err = meter.Int64Counter("breaker_calls_total",
		metric.WithDescription("Calls admitted by a circuit breaker, by result"),
		metric.WithUnit("{call}")); err != nil {
		return nil, err
	}
	if m.rejections, err = meter.Int64Counter("breaker_rejections_total",
		metric.WithDescription("Calls rejected by an open circuit breaker"),
		metric.WithUnit("{call}")); err != nil {
		return nil, err
	}
	if m.latency, err = meter.Float64Histogram("breaker_call_duration_seconds",
		metric.WithDescription("Duration of admitted calls"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if _, err = meter.Int64ObservableGauge("breaker_state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
		metric.WithInt64Callback(m.collectState)); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *OTelMetrics) collectState(_ context.Context, o metric.Int64Observer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for class, fn := range m.states {
		o.Observe(fn(), metric.WithAttributes(attribute.String("class", class)))
	}
	return nil
}

func (m *OTelMetrics) observeState(class string, fn func() int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.states[class] = fn
	m.mu.Unlock()
}

func (m *OTelMetrics) recordCall(ctx context.Context, class, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("class", class),
		attribute.String("result", result)))
	m.latency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("class", class)))
}

func (m *OTelMetrics) recordRejection(ctx context.Context, class string) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}
