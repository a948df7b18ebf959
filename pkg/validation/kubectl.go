package validation

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployconf/pkg/engine"
	"github.com/openfroyo/deployconf/pkg/kube"
)

// DryRunner submits a manifest for server-side validation.
type DryRunner interface {
	ServerDryRun(ctx context.Context, manifest string) (*kube.ExecResult, error)
}

// KubectlValidator asks the cluster to validate the manifest with a
// server-side dry run. The server's rejection message becomes the error
// detail fed back to the synthesizer.
type KubectlValidator struct {
	runner DryRunner
	logger zerolog.Logger
}

// NewKubectlValidator creates a new cluster validator.
func NewKubectlValidator(runner DryRunner, logger zerolog.Logger) *KubectlValidator {
	return &KubectlValidator{
		runner: runner,
		logger: logger.With().Str("component", "kubectl-validator").Logger(),
	}
}

// Validate implements engine.Validator.
func (kv *KubectlValidator) Validate(ctx context.Context, text string) (engine.ValidationResult, error) {
	if docs, res := decode(text); docs == nil {
		return res, nil
	}

	_, err := kv.runner.ServerDryRun(ctx, text)
	if err == nil {
		return valid(), nil
	}

	var ce *kube.CommandError
	if errors.As(err, &ce) && ce.Rejected() {
		kv.logger.Debug().Str("stderr", ce.Stderr).Msg("Server rejected the manifest")
		if ce.Stderr != "" {
			return invalid(ce.Stderr), nil
		}
		return invalid(ce.Error()), nil
	}
	kv.logger.Warn().Err(err).Msg("Server dry run could not be performed")
	return engine.ValidationResult{}, engine.NewTransientError("server dry run failed", err).
		WithCode(engine.ErrCodeCollaborator).
		WithOperation("validate")
}
