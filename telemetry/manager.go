// Package telemetry installs the OpenTelemetry trace and meter providers
// that the account sync components report to.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/KOMKZ/go-yogan-accountsync/logger"
	"github.com/KOMKZ/go-yogan-accountsync/validator"
)

// ConfigKey is the configuration section read by the CLI.
const ConfigKey = "telemetry"

// Manager owns the trace and meter providers.
type Manager struct {
	config Config
	logger *logger.CtxZapLogger
	writer io.Writer

	mu             sync.Mutex
	started        bool
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

type Option func(*Manager)

func WithLogger(l *logger.CtxZapLogger) Option {
	return func(m *Manager) { m.logger = logger.OrNop(l) }
}

// WithWriter redirects the stdout exporters.
func WithWriter(w io.Writer) Option {
	return func(m *Manager) {
		if w != nil {
			m.writer = w
		}
	}
}

func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := validator.Check(ConfigKey, cfg); err != nil {
		return nil, err
	}
	m := &Manager{config: cfg, logger: logger.NewNop(), writer: os.Stdout}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start builds the providers and installs them globally. It is a no-op
// when telemetry is disabled or already started.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.config.Enabled || m.started {
		return nil
	}

	res, err := m.createResource(ctx)
	if err != nil {
		return fmt.Errorf("create resource failed: %w", err)
	}

	spans, err := m.createSpanExporter(ctx)
	if err != nil {
		return fmt.Errorf("create span exporter failed: %w", err)
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(m.createSampler()),
	}
	if m.config.Batch.Enabled {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(spans,
			sdktrace.WithMaxQueueSize(m.config.Batch.MaxQueueSize),
			sdktrace.WithMaxExportBatchSize(m.config.Batch.MaxExportBatchSize),
			sdktrace.WithBatchTimeout(m.config.Batch.ScheduleDelay),
			sdktrace.WithExportTimeout(m.config.Batch.ExportTimeout),
		))
	} else {
		tpOpts = append(tpOpts, sdktrace.WithSyncer(spans))
	}
	m.tracerProvider = sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(m.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	if m.config.Metrics.Enabled {
		exp, err := m.createMetricExporter(ctx)
		if err != nil {
			_ = m.tracerProvider.Shutdown(ctx)
			m.tracerProvider = nil
			return fmt.Errorf("create metric exporter failed: %w", err)
		}
		m.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp,
				sdkmetric.WithInterval(m.config.Metrics.ExportInterval),
				sdkmetric.WithTimeout(m.config.Metrics.ExportTimeout),
			)),
		)
		otel.SetMeterProvider(m.meterProvider)
	}

	m.started = true
	m.logger.InfoCtx(ctx, "telemetry started",
		zap.String("service_name", m.config.ServiceName),
		zap.String("exporter", m.config.Exporter.Type),
		zap.Bool("metrics", m.meterProvider != nil),
	)
	return nil
}

// Shutdown flushes and stops both providers.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	if m.tracerProvider != nil {
		if err := m.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer provider failed: %w", err))
		}
		m.tracerProvider = nil
	}
	if m.meterProvider != nil {
		if err := m.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter provider failed: %w", err))
		}
		m.meterProvider = nil
	}
	m.started = false
	return errors.Join(errs...)
}

// Tracer falls back to the global provider before Start.
func (m *Manager) Tracer(name string) trace.Tracer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tracerProvider == nil {
		return otel.Tracer(name)
	}
	return m.tracerProvider.Tracer(name)
}

// Meter returns nil while metrics are not running, so callers can skip
// registering instruments.
func (m *Manager) Meter(name string) metric.Meter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.meterProvider == nil {
		return nil
	}
	return m.meterProvider.Meter(name)
}

func (m *Manager) IsEnabled() bool { return m.config.Enabled }

func (m *Manager) Config() Config { return m.config }
