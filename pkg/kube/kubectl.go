package kube

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config configures the kubectl wrapper.
type Config struct {
	// Binary is the kubectl executable name or path.
	Binary string `yaml:"binary" validate:"required"`

	// Kubeconfig is passed as --kubeconfig when set.
	Kubeconfig string `yaml:"kubeconfig,omitempty"`

	// Context is passed as --context when set.
	Context string `yaml:"context,omitempty"`

	// Namespace is used for documents that do not set one.
	Namespace string `yaml:"namespace,omitempty"`

	// RequestTimeout bounds a single dry run or apply.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Binary:         "kubectl",
		RequestTimeout: 60 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Binary == "" {
		return fmt.Errorf("kubectl binary is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	return nil
}

// Kubectl drives a cluster through the kubectl command line.
type Kubectl struct {
	cfg    Config
	runner Runner
	logger zerolog.Logger
}

// New creates a wrapper that runs kubectl as a local process.
func New(cfg Config, logger zerolog.Logger) (*Kubectl, error) {
	return NewWithRunner(cfg, ExecRunner{}, logger)
}

// NewWithRunner creates a wrapper with a custom command runner.
func NewWithRunner(cfg Config, runner Runner, logger zerolog.Logger) (*Kubectl, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid kubectl config: %w", err)
	}
	return &Kubectl{
		cfg:    cfg,
		runner: runner,
		logger: logger.With().Str("component", "kubectl").Logger(),
	}, nil
}

// ServerDryRun submits the manifest for server-side validation without
// persisting it. A rejected manifest yields a *CommandError that is not
// temporary; its Stderr holds the server's message.
func (k *Kubectl) ServerDryRun(ctx context.Context, manifest string) (*ExecResult, error) {
	return k.run(ctx, "dry-run", manifest, "apply", "--dry-run=server", "-f", "-", "-o", "name")
}

// Apply applies the manifest and returns the applied object names
// (for example "deployment.apps/web").
func (k *Kubectl) Apply(ctx context.Context, manifest string) ([]string, error) {
	res, err := k.run(ctx, "apply", manifest, "apply", "-f", "-", "-o", "name")
	if err != nil {
		return nil, err
	}
	return splitLines(res.Stdout), nil
}

// RolloutStatus waits until the named workload has rolled out.
func (k *Kubectl) RolloutStatus(ctx context.Context, kind, name, namespace string, timeout time.Duration) error {
	args := []string{"rollout", "status", strings.ToLower(kind) + "/" + name, "--timeout=" + timeout.String()}
	if namespace != "" {
		args = append(args, "--namespace", namespace)
	}

	// rollout status manages its own deadline; give the process a little
	// longer so its message wins over a killed process.
	ctx, cancel := context.WithTimeout(ctx, timeout+5*time.Second)
	defer cancel()

	_, err := k.exec(ctx, "rollout", "", args)
	return err
}

func (k *Kubectl) run(ctx context.Context, op, stdin string, args ...string) (*ExecResult, error) {
	if k.cfg.Namespace != "" {
		args = append(args, "--namespace", k.cfg.Namespace)
	}
	ctx, cancel := context.WithTimeout(ctx, k.cfg.RequestTimeout)
	defer cancel()
	return k.exec(ctx, op, stdin, args)
}

func (k *Kubectl) exec(ctx context.Context, op, stdin string, args []string) (*ExecResult, error) {
	full := make([]string, 0, len(args)+4)
	if k.cfg.Kubeconfig != "" {
		full = append(full, "--kubeconfig", k.cfg.Kubeconfig)
	}
	if k.cfg.Context != "" {
		full = append(full, "--context", k.cfg.Context)
	}
	full = append(full, args...)

	k.logger.Debug().
		Str("op", op).
		Strs("args", full).
		Msg("Running kubectl")

	res, err := k.runner.Run(ctx, k.cfg.Binary, full, stdin)
	if err != nil {
		cerr := classify(ctx, op, res, err)
		k.logger.Debug().
			Str("op", op).
			Err(cerr).
			Msg("kubectl failed")
		return res, cerr
	}

	k.logger.Debug().
		Str("op", op).
		Dur("duration", res.Duration).
		Msg("kubectl completed")
	return res, nil
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
