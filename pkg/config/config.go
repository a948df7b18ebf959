package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/deployconf/pkg/engine"
	"github.com/openfroyo/deployconf/pkg/kube"
	"github.com/openfroyo/deployconf/pkg/stores"
	"github.com/openfroyo/deployconf/pkg/synth"
	"github.com/openfroyo/deployconf/pkg/telemetry"
)

// Synthesizer modes.
const (
	SynthMapping  = "mapping"
	SynthStarlark = "starlark"
)

// Config is the application configuration of deployconf.
type Config struct {
	Store      stores.Config    `yaml:"store"`
	Generation GenerationConfig `yaml:"generation"`
	Questions  QuestionsConfig  `yaml:"questions"`
	Synth      SynthConfig      `yaml:"synth"`
	Validation ValidationConfig `yaml:"validation"`
	Policy     PolicyConfig     `yaml:"policy"`
	Kube       kube.Config      `yaml:"kube"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
}

// GenerationConfig bounds generation runs and deployments.
type GenerationConfig struct {
	// MaxAttempts is the default attempt bound of a generation run.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=1"`

	// MaxAttemptsByKind raises the bound for solutions containing a kind.
	MaxAttemptsByKind map[string]int `yaml:"max_attempts_by_kind,omitempty" validate:"dive,gte=1"`

	// LeaseTimeout is how long a generation run may hold a solution before
	// another run may take it over.
	LeaseTimeout time.Duration `yaml:"lease_timeout" validate:"gt=0"`

	// DeployTimeout bounds a deployment when the caller gives no timeout.
	DeployTimeout time.Duration `yaml:"deploy_timeout" validate:"gt=0"`
}

// Limits returns the engine view of the attempt bounds.
func (g GenerationConfig) Limits() engine.GenerationLimits {
	return engine.GenerationLimits{
		MaxAttempts:       g.MaxAttempts,
		MaxAttemptsByKind: g.MaxAttemptsByKind,
	}
}

// QuestionsConfig selects the question catalog.
type QuestionsConfig struct {
	// CatalogPath is a YAML catalog; empty uses the built-in catalog.
	CatalogPath string `yaml:"catalog_path,omitempty"`

	// PolicyEnrichment adds required questions from policy questions rules.
	PolicyEnrichment bool `yaml:"policy_enrichment"`
}

// SynthConfig selects the manifest synthesizer.
type SynthConfig struct {
	Mode string `yaml:"mode" validate:"oneof=mapping starlark"`

	// Script is the Starlark script used in starlark mode.
	Script string `yaml:"script,omitempty" validate:"required_if=Mode starlark"`

	Timeout  time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxSteps uint64        `yaml:"max_steps" validate:"gt=0"`
}

// ValidationConfig selects the validators of the validation chain.
type ValidationConfig struct {
	Schema bool `yaml:"schema"`
	Policy bool `yaml:"policy"`

	// Server enables the kubectl server-side dry run.
	Server bool `yaml:"server"`

	// SchemaDir holds extra <Kind>.cue schemas.
	SchemaDir string `yaml:"schema_dir,omitempty"`

	// Environment is passed to policies as input.context.environment.
	Environment string `yaml:"environment,omitempty"`
}

// Enabled reports whether at least one validator is configured.
func (v ValidationConfig) Enabled() bool {
	return v.Schema || v.Policy || v.Server
}

// PolicyConfig locates custom policies.
type PolicyConfig struct {
	// Paths are policy files or directories loaded on top of the builtins.
	Paths []string `yaml:"paths,omitempty"`

	// Watch reloads policies when files under Paths change.
	Watch bool `yaml:"watch"`

	// ReloadDelay debounces bursts of file events.
	ReloadDelay time.Duration `yaml:"reload_delay" validate:"gte=0"`

	// Disabled names policies, built-in or loaded, that are never evaluated.
	Disabled []string `yaml:"disabled,omitempty" validate:"dive,required"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Store: stores.Config{
			Path:        "./data/deployconf.db",
			BusyTimeout: 5 * time.Second,
		},
		Generation: GenerationConfig{
			MaxAttempts:   engine.DefaultMaxAttempts,
			LeaseTimeout:  10 * time.Minute,
			DeployTimeout: engine.DefaultDeployTimeout,
		},
		Questions: QuestionsConfig{
			PolicyEnrichment: true,
		},
		Synth: SynthConfig{
			Mode:     SynthMapping,
			Timeout:  synth.DefaultScriptTimeout,
			MaxSteps: synth.DefaultMaxSteps,
		},
		Validation: ValidationConfig{
			Schema: true,
			Policy: true,
			Server: false,
		},
		Policy: PolicyConfig{
			ReloadDelay: 500 * time.Millisecond,
		},
		Kube:      kube.DefaultConfig(),
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads a YAML configuration file over the defaults. Unknown keys are
// rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration over the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field rules and cross-field constraints.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Kube.Validate(); err != nil {
		return fmt.Errorf("invalid kube config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	if !c.Validation.Enabled() {
		return fmt.Errorf("invalid config: at least one validator must be enabled")
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
