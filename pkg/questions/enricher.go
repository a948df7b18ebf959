package questions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployconf/pkg/engine"
	"github.com/openfroyo/deployconf/pkg/policy"
)

// Enricher adds questions produced by the policy engine's questions rules
// to the questions of a base source. Policy questions take the stage being
// asked for and are required only in the required stage, the one stage
// whose completion demands answers. Ids the base source already uses are
// ignored.
type Enricher struct {
	base     engine.QuestionSource
	policies *policy.Engine
	logger   zerolog.Logger
}

// NewEnricher creates a new enricher.
func NewEnricher(base engine.QuestionSource, policies *policy.Engine, logger zerolog.Logger) *Enricher {
	return &Enricher{
		base:     base,
		policies: policies,
		logger:   logger.With().Str("component", "question-enricher").Logger(),
	}
}

// QuestionsFor implements engine.QuestionSource.
func (e *Enricher) QuestionsFor(ctx context.Context, resources []engine.ResourceRef, intent string, stage engine.Stage) ([]engine.Question, error) {
	out, err := e.base.QuestionsFor(ctx, resources, intent, stage)
	if err != nil {
		return nil, err
	}
	if stage == engine.StageOpen {
		return out, nil
	}

	input := policy.QuestionInput{
		Resources: make([]policy.ResourceInput, 0, len(resources)),
		Intent:    intent,
		Stage:     string(stage),
	}
	for _, ref := range resources {
		input.Resources = append(input.Resources, policy.ResourceInput{
			Kind:       ref.Kind,
			APIVersion: ref.APIVersion(),
			Namespaced: ref.Namespaced,
		})
	}

	outputs, err := e.policies.Collect(ctx, policy.RuleQuestions, input)
	if err != nil {
		return nil, engine.NewTransientError("question policies failed", err).
			WithCode(engine.ErrCodeCollaborator).
			WithOperation("enrich questions")
	}

	seen := make(map[string]bool, len(out))
	for _, q := range out {
		seen[q.ID] = true
	}

	added := 0
	for _, o := range outputs {
		q, err := decodeQuestion(o.Value)
		if err != nil {
			return nil, engine.NewPermanentError(
				fmt.Sprintf("policy %s produced an invalid question", o.Policy), err).
				WithCode(engine.ErrCodeCollaborator)
		}
		if seen[q.ID] {
			continue
		}
		seen[q.ID] = true

		q.Stage = stage
		q.Required = stage == engine.StageRequired
		if q.Type == "" {
			q.Type = engine.QuestionText
		}
		out = append(out, q)
		added++

		e.logger.Debug().
			Str("policy", o.Policy).
			Str("question", q.ID).
			Str("stage", string(stage)).
			Msg("Policy question added")
	}

	if added > 0 {
		e.logger.Info().
			Str("stage", string(stage)).
			Int("added", added).
			Msg("Questions enriched by policy")
	}
	return out, nil
}

// decodeQuestion converts a Rego object into a question through its JSON
// form.
func decodeQuestion(v interface{}) (engine.Question, error) {
	var q engine.Question
	data, err := json.Marshal(v)
	if err != nil {
		return q, err
	}
	if err := json.Unmarshal(data, &q); err != nil {
		return q, err
	}
	if q.ID == "" {
		return q, fmt.Errorf("question has no id")
	}
	return q, nil
}
