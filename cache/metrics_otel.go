package cache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics records cache activity. A nil *OTelMetrics records nothing.
type OTelMetrics struct {
	lookups       metric.Int64Counter
	evictions     metric.Int64Counter
	invalidations metric.Int64Counter
	attrs         metric.MeasurementOption
	hit, miss     metric.MeasurementOption
}

func newOTelMetrics(meter metric.Meter, name string, usage func() (entries, bytes int64)) (*OTelMetrics, error) {
	m := &OTelMetrics{
		attrs: metric.WithAttributes(attribute.String("cache", name)),
		hit:   metric.WithAttributes(attribute.String("cache", name), attribute.String("result", "hit")),
		miss:  metric.WithAttributes(attribute.String("cache", name), attribute.String("result", "miss")),
	}
	var err error

	if m.lookups, err = meter.Int64Counter("cache_lookups_total",
		metric.WithDescription("Cache lookups by result"),
		metric.WithUnit("{lookup}")); err != nil {
		return nil, err
	}
	if m.evictions, err = meter.Int64Counter("cache_evictions_total",
		metric.WithDescription("Entries evicted to respect capacity"),
		metric.WithUnit("{entry}")); err != nil {
		return nil, err
	}
	if m.invalidations, err = meter.Int64Counter("cache_invalidations_total",
		metric.WithDescription("Entries dropped by the invalidation strategy"),
		metric.WithUnit("{entry}")); err != nil {
		return nil, err
	}

	entries, err := meter.Int64ObservableGauge("cache_entries",
		metric.WithDescription("Entries currently cached"))
	if err != nil {
		return nil, err
	}
	memory, err := meter.Int64ObservableGauge("cache_memory_bytes",
		metric.WithDescription("Estimated bytes held by cached entries"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		n, b := usage()
		o.ObserveInt64(entries, n, m.attrs)
		o.ObserveInt64(memory, b, m.attrs)
		return nil
	}, entries, memory)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *OTelMetrics) recordLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.lookups.Add(context.Background(), 1, m.hit)
	} else {
		m.lookups.Add(context.Background(), 1, m.miss)
	}
}

func (m *OTelMetrics) recordEvictions(n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.Add(context.Background(), int64(n), m.attrs)
}

func (m *OTelMetrics) recordInvalidations(n int) {
	if m == nil || n == 0 {
		return
	}
	m.invalidations.Add(context.Background(), int64(n), m.attrs)
}
