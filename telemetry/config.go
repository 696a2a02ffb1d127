package telemetry

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Exporter types.
const (
	ExporterOTLP   = "otlp"
	ExporterStdout = "stdout"
	ExporterNoop   = "noop"
)

// Sampler types.
const (
	SamplerAlwaysOn      = "always_on"
	SamplerAlwaysOff     = "always_off"
	SamplerTraceIDRatio  = "trace_id_ratio"
	SamplerParentBasedOn = "parent_based_always_on"
)

// Config selects the exporters behind the global trace and meter
// providers.
type Config struct {
	Enabled        bool                   `mapstructure:"enabled"`
	ServiceName    string                 `mapstructure:"service_name"`
	ServiceVersion string                 `mapstructure:"service_version"`
	Exporter       ExporterConfig         `mapstructure:"exporter"`
	Sampler        SamplerConfig          `mapstructure:"sampler"`
	ResourceAttrs  map[string]interface{} `mapstructure:"resource_attributes"` // nested maps are flattened with dots
	Batch          BatchConfig            `mapstructure:"batch"`
	Metrics        MetricsConfig          `mapstructure:"metrics"`
}

type ExporterConfig struct {
	Type     string            `mapstructure:"type"`
	Endpoint string            `mapstructure:"endpoint"`
	Insecure bool              `mapstructure:"insecure"`
	Timeout  time.Duration     `mapstructure:"timeout"`
	Headers  map[string]string `mapstructure:"headers"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Ratio float64 `mapstructure:"ratio"` // trace_id_ratio only
}

// BatchConfig switches span export between a batcher and a syncer.
type BatchConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	MaxQueueSize       int           `mapstructure:"max_queue_size"`
	MaxExportBatchSize int           `mapstructure:"max_export_batch_size"`
	ScheduleDelay      time.Duration `mapstructure:"schedule_delay"`
	ExportTimeout      time.Duration `mapstructure:"export_timeout"`
}

type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
	ExportTimeout  time.Duration `mapstructure:"export_timeout"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:    "accountsync",
		ServiceVersion: "1.0.0",
		Exporter: ExporterConfig{
			Type:     ExporterOTLP,
			Endpoint: "localhost:4317",
			Insecure: true,
			Timeout:  10 * time.Second,
		},
		Sampler: SamplerConfig{Type: SamplerParentBasedOn, Ratio: 1.0},
		Batch: BatchConfig{
			Enabled:            true,
			MaxQueueSize:       2048,
			MaxExportBatchSize: 512,
			ScheduleDelay:      5 * time.Second,
			ExportTimeout:      30 * time.Second,
		},
		Metrics: MetricsConfig{
			ExportInterval: 10 * time.Second,
			ExportTimeout:  5 * time.Second,
		},
	}
}

// ApplyDefaults fills zero fields from DefaultConfig.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.ServiceName == "" {
		c.ServiceName = d.ServiceName
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = d.ServiceVersion
	}
	if c.Exporter.Type == "" {
		c.Exporter.Type = d.Exporter.Type
	}
	if c.Exporter.Endpoint == "" {
		c.Exporter.Endpoint = d.Exporter.Endpoint
	}
	if c.Exporter.Timeout == 0 {
		c.Exporter.Timeout = d.Exporter.Timeout
	}
	if c.Sampler.Type == "" {
		c.Sampler = d.Sampler
	}
	if c.Batch.MaxQueueSize == 0 {
		c.Batch.MaxQueueSize = d.Batch.MaxQueueSize
	}
	if c.Batch.MaxExportBatchSize == 0 {
		c.Batch.MaxExportBatchSize = d.Batch.MaxExportBatchSize
	}
	if c.Batch.ScheduleDelay == 0 {
		c.Batch.ScheduleDelay = d.Batch.ScheduleDelay
	}
	if c.Batch.ExportTimeout == 0 {
		c.Batch.ExportTimeout = d.Batch.ExportTimeout
	}
	if c.Metrics.ExportInterval == 0 {
		c.Metrics.ExportInterval = d.Metrics.ExportInterval
	}
	if c.Metrics.ExportTimeout == 0 {
		c.Metrics.ExportTimeout = d.Metrics.ExportTimeout
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ServiceName, validation.Required),
		validation.Field(&c.Exporter),
		validation.Field(&c.Sampler),
	)
}

func (c ExporterConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Type, validation.In(ExporterOTLP, ExporterStdout, ExporterNoop)),
		validation.Field(&c.Endpoint, validation.When(c.Type == ExporterOTLP, validation.Required)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

func (c SamplerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Type, validation.In(SamplerAlwaysOn, SamplerAlwaysOff, SamplerTraceIDRatio, SamplerParentBasedOn)),
		validation.Field(&c.Ratio, validation.Min(0.0), validation.Max(1.0)),
	)
}
