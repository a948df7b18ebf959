package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config groups the logging, tracing and metrics settings of a process.
type Config struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	ServiceVersion string `yaml:"service_version" validate:"required"`

	// Environment is attached to spans and passed on as a resource attribute.
	Environment string `yaml:"environment"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `yaml:"format" validate:"oneof=console json"`

	// Output is stdout, stderr or a file path opened for append.
	Output string `yaml:"output"`

	EnableCaller bool `yaml:"enable_caller"`

	// Sampling keeps the first SamplingInitial messages of each level per
	// second and every SamplingThereafter-th message after that.
	EnableSampling     bool `yaml:"enable_sampling"`
	SamplingInitial    int  `yaml:"sampling_initial" validate:"gte=0"`
	SamplingThereafter int  `yaml:"sampling_thereafter" validate:"gte=0"`

	// TimeFormat is unix, unixms, rfc3339 or a Go layout.
	TimeFormat string `yaml:"time_format"`
}

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter is otlp, stdout or none. With none, spans are still created
	// for context propagation but never leave the process.
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP/gRPC collector address, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint,omitempty"`

	SamplingRate       float64           `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	MaxExportBatchSize int               `yaml:"max_export_batch_size" validate:"gte=0"`
	ExportTimeout      time.Duration     `yaml:"export_timeout" validate:"gte=0"`
	Headers            map[string]string `yaml:"headers,omitempty"`
	Insecure           bool              `yaml:"insecure"`
}

// MetricsConfig configures the Prometheus registry and its listener.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// ListenAddress serves Path over HTTP when set; metrics are only
	// collected otherwise.
	ListenAddress string `yaml:"listen_address,omitempty"`
	Path          string `yaml:"path" validate:"required_with=ListenAddress"`

	Namespace string `yaml:"namespace"`

	// DefaultHistogramBuckets are latency buckets in seconds.
	DefaultHistogramBuckets []float64 `yaml:"default_histogram_buckets"`
}

// DefaultConfig returns console logging at info, tracing off and metrics
// collected without a listener.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "deployconf",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "deployconf",
			// Generation runs call out to synthesizers and clusters, so the
			// buckets reach well past the usual request latencies.
			DefaultHistogramBuckets: []float64{
				0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
			},
		},
	}
}

// ProductionConfig returns JSON logs with sampling, OTLP tracing at 10%
// and a metrics listener on :9090. The collector endpoint must be set.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	cfg.Metrics.ListenAddress = ":9090"
	return cfg
}

// DevelopmentConfig returns debug logs with callers and spans printed to
// stdout.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

// fieldMessages names the rule a failing field breaks.
var fieldMessages = map[string]string{
	"ServiceName":        "service name is required",
	"ServiceVersion":     "service version is required",
	"Level":              "invalid log level",
	"Format":             "invalid log format (must be console or json)",
	"SamplingInitial":    "log sampling counts must not be negative",
	"SamplingThereafter": "log sampling counts must not be negative",
	"Exporter":           "invalid trace exporter",
	"SamplingRate":       "trace sampling rate must be between 0 and 1",
	"MaxExportBatchSize": "trace export batch size must not be negative",
	"ExportTimeout":      "trace export timeout must not be negative",
	"Path":               "metrics path is required when the metrics listener is enabled",
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) && len(fields) > 0 {
			fe := fields[0]
			if msg, ok := fieldMessages[fe.StructField()]; ok {
				return fmt.Errorf("%s: %v", msg, fe.Value())
			}
		}
		return fmt.Errorf("invalid telemetry config: %w", err)
	}

	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("trace endpoint is required for the otlp exporter")
	}
	return nil
}
