package validation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployconf/pkg/engine"
)

// Step is one named validator of a chain.
type Step struct {
	Name      string
	Validator engine.Validator
}

// Chain runs validators in order and stops at the first rejection or
// failure. Cheap local checks go first so the cluster only sees manifests
// that already pass them.
type Chain struct {
	steps  []Step
	logger zerolog.Logger
}

// NewChain creates a chain of validators.
func NewChain(logger zerolog.Logger, steps ...Step) *Chain {
	return &Chain{
		steps:  steps,
		logger: logger.With().Str("component", "validation-chain").Logger(),
	}
}

// Steps returns the step names in order.
func (c *Chain) Steps() []string {
	names := make([]string, len(c.steps))
	for i, s := range c.steps {
		names[i] = s.Name
	}
	return names
}

// Validate implements engine.Validator. A rejection's detail is prefixed
// with the name of the step that rejected it.
func (c *Chain) Validate(ctx context.Context, text string) (engine.ValidationResult, error) {
	for _, step := range c.steps {
		res, err := step.Validator.Validate(ctx, text)
		if err != nil {
			return engine.ValidationResult{}, fmt.Errorf("%s validation: %w", step.Name, err)
		}
		if !res.OK {
			c.logger.Debug().Str("step", step.Name).Msg("Manifest rejected")
			res.ErrorDetail = fmt.Sprintf("%s: %s", step.Name, res.ErrorDetail)
			return res, nil
		}
		c.logger.Debug().Str("step", step.Name).Msg("Manifest accepted")
	}
	return valid(), nil
}
