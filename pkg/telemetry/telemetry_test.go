package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "production", mutate: func(c *Config) { *c = *ProductionConfig(); c.Tracing.Endpoint = "collector:4317" }},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{name: "missing service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: "endpoint",
		},
		{name: "sampling out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMetricsRecord(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordAnswer("required", "accepted")
	m.RecordAnswer("required", "INCOMPLETE_ANSWERS")
	m.RecordAnswer("required", "accepted")
	m.RecordStageTransition("required", "basic")
	m.RecordError("permanent", "INCOMPLETE_ANSWERS")
	m.RecordGenerationStarted()

	if got := testutil.ToFloat64(m.answers.WithLabelValues("required", "accepted")); got != 2 {
		t.Errorf("accepted answers = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.stageTransitions.WithLabelValues("required", "basic")); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.errorsByCode.WithLabelValues("INCOMPLETE_ANSWERS")); got != 1 {
		t.Errorf("errors by code = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeGenerations); got != 1 {
		t.Errorf("active generations = %v, want 1", got)
	}

	m.RecordGenerationCompleted("failed", time.Second)
	if got := testutil.ToFloat64(m.activeGenerations); got != 0 {
		t.Errorf("active generations after completion = %v, want 0", got)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	// Must not panic.
	m.RecordOperation("get_solution", "ok", time.Millisecond)
	m.RecordDeploy("deployed", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("disabled handler status = %d, want 404", rec.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	m.RecordSolutionRegistered()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "deployconf_solutions_registered_total 1") {
		t.Errorf("metrics output missing registered counter:\n%s", rec.Body.String())
	}
}

func TestStartMetricsServer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.ListenAddress = "127.0.0.1:0"
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	if err := tel.StartMetricsServer(); err != nil {
		t.Fatalf("StartMetricsServer() error = %v", err)
	}
	tel.Metrics.RecordSolutionRegistered()

	resp, err := http.Get("http://" + tel.Metrics.Addr() + cfg.Metrics.Path)
	if err != nil {
		t.Fatalf("GET metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "deployconf_solutions_registered_total 1") {
		t.Errorf("metrics output missing registered counter:\n%s", body)
	}
}

func TestNewLogger(t *testing.T) {
	path := t.TempDir() + "/deployconf.log"
	l, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	l.NewComponentLogger("store").WithError(errors.New("disk full")).Error("hello")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	for _, want := range []string{`"component":"store"`, `"error":"disk full"`, `"message":"hello"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log line %s missing %s", data, want)
		}
	}

	if _, err := NewLogger(LoggingConfig{Output: t.TempDir() + "/missing/dir/x.log"}); err == nil {
		t.Fatal("expected error for unwritable log path")
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("warn").String() != "warn" {
		t.Errorf("ParseLevel(warn) = %v", ParseLevel("warn"))
	}
	if ParseLevel("nonsense").String() != "info" {
		t.Errorf("ParseLevel(nonsense) = %v", ParseLevel("nonsense"))
	}
}

func TestTelemetryShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = t.TempDir() + "/out.log"
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error = %v", err)
	}
	if err := tel.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}
