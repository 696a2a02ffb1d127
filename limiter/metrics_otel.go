package limiter

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics records limiter decisions. A nil *OTelMetrics records nothing.
type OTelMetrics struct {
	meter    metric.Meter
	name     string
	requests metric.Int64Counter
	tokens   metric.Float64ObservableGauge
}

// NewOTelMetrics registers the limiter instruments on meter. name labels
// every series so several buckets can share one meter.
func NewOTelMetrics(meter metric.Meter, name string) (*OTelMetrics, error) {
	requests, err := meter.Int64Counter(
		"limiter_requests_total",
		metric.WithDescription("Rate limiter decisions"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	tokens, err := meter.Float64ObservableGauge(
		"limiter_tokens",
		metric.WithDescription("Tokens currently available"),
	)
	if err != nil {
		return nil, err
	}
	return &OTelMetrics{meter: meter, name: name, requests: requests, tokens: tokens}, nil
}

func (m *OTelMetrics) record(allowed, waited bool) {
	if m == nil {
		return
	}
	result := "rejected"
	switch {
	case waited:
		result = "waited"
	case allowed:
		result = "allowed"
	}
	m.requests.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("limiter", m.name),
		attribute.String("result", result),
	))
}

func (m *OTelMetrics) observeTokens(fn func() float64) {
	_, _ = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveFloat64(m.tokens, fn(), metric.WithAttributes(attribute.String("limiter", m.name)))
		return nil
	}, m.tokens)
}
