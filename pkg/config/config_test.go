package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Synth.Mode != SynthMapping {
		t.Errorf("Synth.Mode = %s", cfg.Synth.Mode)
	}
	if got := cfg.Generation.Limits().For([]string{"Deployment"}); got != cfg.Generation.MaxAttempts {
		t.Errorf("Limits().For() = %d", got)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	data := `
store:
  path: /tmp/dc.db
generation:
  max_attempts: 4
  max_attempts_by_kind:
    StatefulSet: 7
  deploy_timeout: 90s
synth:
  mode: starlark
  script: ./render.star
validation:
  server: true
  environment: staging
policy:
  paths: [./policies]
  watch: true
  disabled: [container-hygiene]
kube:
  context: staging
telemetry:
  logging:
    level: debug
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Store.Path != "/tmp/dc.db" || cfg.Store.BusyTimeout != 5*time.Second {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Generation.DeployTimeout != 90*time.Second || cfg.Generation.LeaseTimeout != 10*time.Minute {
		t.Errorf("Generation = %+v", cfg.Generation)
	}
	if got := cfg.Generation.Limits().For([]string{"Service", "StatefulSet"}); got != 7 {
		t.Errorf("Limits().For() = %d, want 7", got)
	}
	if cfg.Synth.Mode != SynthStarlark || cfg.Synth.Script != "./render.star" {
		t.Errorf("Synth = %+v", cfg.Synth)
	}
	if !cfg.Validation.Schema || !cfg.Validation.Policy || !cfg.Validation.Server {
		t.Errorf("Validation = %+v", cfg.Validation)
	}
	if len(cfg.Policy.Disabled) != 1 || cfg.Policy.Disabled[0] != "container-hygiene" {
		t.Errorf("Policy = %+v", cfg.Policy)
	}
	if cfg.Kube.Binary != "kubectl" || cfg.Kube.Context != "staging" {
		t.Errorf("Kube = %+v", cfg.Kube)
	}
	if cfg.Telemetry.Logging.Level != "debug" || cfg.Telemetry.ServiceName != "deployconf" {
		t.Errorf("Telemetry = %+v", cfg.Telemetry)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "store:\n  file: x.db\n", "field file not found"},
		{"bad synth mode", "synth:\n  mode: llm\n", "Mode"},
		{"starlark without script", "synth:\n  mode: starlark\n", "Script"},
		{"zero attempts", "generation:\n  max_attempts: 0\n", "MaxAttempts"},
		{"bad kind bound", "generation:\n  max_attempts_by_kind: {Deployment: 0}\n", "MaxAttemptsByKind"},
		{"no validators", "validation:\n  schema: false\n  policy: false\n", "at least one validator"},
		{"bad log level", "telemetry:\n  logging:\n    level: loud\n", "log level"},
		{"empty kubectl", "kube:\n  binary: \"\"\n", "Binary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadAndMarshal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deployconf.yaml")

	out, err := Default().Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v\n%s", err, out)
	}
	if cfg.Generation.LeaseTimeout != 10*time.Minute || cfg.Synth.MaxSteps != Default().Synth.MaxSteps {
		t.Errorf("round-tripped config = %+v", cfg.Generation)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("# nothing\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(empty); err != nil {
		t.Errorf("empty config should load defaults: %v", err)
	}
}
