package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployconf/pkg/engine"
	"github.com/openfroyo/deployconf/pkg/policy"
)

// PolicyValidator rejects manifests with blocking policy violations.
// Warnings are logged and do not reject.
type PolicyValidator struct {
	policies *policy.Engine
	pctx     *policy.Context
	logger   zerolog.Logger
}

// NewPolicyValidator creates a validator. pctx may be nil.
func NewPolicyValidator(policies *policy.Engine, pctx *policy.Context, logger zerolog.Logger) *PolicyValidator {
	return &PolicyValidator{
		policies: policies,
		pctx:     pctx,
		logger:   logger.With().Str("component", "policy-validator").Logger(),
	}
}

// Validate implements engine.Validator. A policy that fails to evaluate
// fails the call rather than letting the manifest through.
func (pv *PolicyValidator) Validate(ctx context.Context, text string) (engine.ValidationResult, error) {
	docs, res := decode(text)
	if docs == nil {
		return res, nil
	}

	result, err := pv.policies.Evaluate(ctx, docs, pv.pctx)
	if err != nil {
		return engine.ValidationResult{}, engine.NewTransientError("policy evaluation failed", err).
			WithCode(engine.ErrCodeCollaborator).
			WithOperation("validate")
	}

	for _, w := range result.Warnings {
		pv.logger.Warn().
			Str("policy", w.Policy).
			Str("kind", w.Kind).
			Str("name", w.Name).
			Str("field", w.Field).
			Msg(w.Message)
	}

	if result.Allowed {
		return valid(), nil
	}

	var lines []string
	for _, v := range result.Violations {
		if !v.Severity.Blocking() {
			continue
		}
		lines = append(lines, formatViolation(v))
	}
	return invalid(strings.Join(lines, "\n")), nil
}

func formatViolation(v policy.Violation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] document %d", v.Policy, v.Index)
	if v.Kind != "" {
		fmt.Fprintf(&b, " (%s/%s)", v.Kind, v.Name)
	}
	if v.Field != "" {
		fmt.Fprintf(&b, " %s", v.Field)
	}
	fmt.Fprintf(&b, ": %s", v.Message)
	return b.String()
}
