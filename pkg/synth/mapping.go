package synth

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployconf/pkg/engine"
	"github.com/openfroyo/deployconf/pkg/manifest"
)

// MappingSynthesizer builds one document per solution resource from a
// kind skeleton and writes every answer whose question carries a
// resource mapping into the mapped field.
type MappingSynthesizer struct {
	questions engine.QuestionSource
	logger    zerolog.Logger
}

// NewMappingSynthesizer creates a synthesizer reading mappings from questions.
func NewMappingSynthesizer(questions engine.QuestionSource, logger zerolog.Logger) *MappingSynthesizer {
	return &MappingSynthesizer{
		questions: questions,
		logger:    logger.With().Str("component", "mapping-synth").Logger(),
	}
}

// Synthesize implements engine.Synthesizer.
func (s *MappingSynthesizer) Synthesize(ctx context.Context, req engine.SynthesisRequest) (string, error) {
	rec := req.Record
	if rec == nil {
		return "", engine.NewPermanentError("synthesis request has no record", nil)
	}
	if len(rec.Resources) == 0 {
		return "", engine.NewPermanentError("solution has no resources", nil).WithSolution(rec.ID)
	}
	if req.PriorError != "" {
		s.logger.Debug().
			Str("solution_id", rec.ID).
			Int("attempt", req.Attempt).
			Str("prior_error", req.PriorError).
			Msg("Mapping synthesis is deterministic; prior error is not used")
	}

	answers := mergedAnswers(rec)
	name := appName(rec, answers)
	namespace := ""
	if v := answers["namespace"]; v != nil {
		namespace = v.String()
	}

	var questions []engine.Question
	for _, stage := range engine.Stages() {
		qs, err := s.questions.QuestionsFor(ctx, rec.Resources, rec.Intent, stage)
		if err != nil {
			return "", fmt.Errorf("failed to load %s questions: %w", stage, err)
		}
		questions = append(questions, qs...)
	}

	docs := make([]manifest.Document, 0, len(rec.Resources))
	seen := make(map[string]int)
	for _, ref := range rec.Resources {
		docName := name
		if n := seen[ref.Kind]; n > 0 {
			docName = name + "-" + strconv.Itoa(n+1)
		}
		seen[ref.Kind]++

		doc := Skeleton(ref, docName, namespace)
		for _, q := range questions {
			if q.ResourceMapping == nil || q.ResourceMapping.ResourceKind != ref.Kind {
				continue
			}
			v := answers[q.ID]
			if v == nil {
				v = q.Default
			}
			if v == nil {
				continue
			}
			if err := manifest.Set(doc, q.ResourceMapping.FieldPath, answerValue(v)); err != nil {
				return "", engine.NewPermanentError(
					fmt.Sprintf("question %s cannot be mapped to %s", q.ID, ref.Kind), err).
					WithSolution(rec.ID)
			}
		}

		if text := notes(rec); text != "" {
			annotate(doc, NotesAnnotation, text)
		}
		docs = append(docs, doc)
	}

	out, err := manifest.Encode(docs)
	if err != nil {
		return "", engine.NewPermanentError("failed to encode manifest", err).WithSolution(rec.ID)
	}

	s.logger.Debug().
		Str("solution_id", rec.ID).
		Int("attempt", req.Attempt).
		Int("documents", len(docs)).
		Msg("Manifest synthesized")

	return out, nil
}

// annotate sets a metadata annotation. Annotation keys contain dots, so
// they cannot go through manifest.Set.
func annotate(doc manifest.Document, key, value string) {
	metadata, ok := doc["metadata"].(map[string]interface{})
	if !ok {
		metadata = make(map[string]interface{})
		doc["metadata"] = metadata
	}
	annotations, ok := metadata["annotations"].(map[string]interface{})
	if !ok {
		annotations = make(map[string]interface{})
		metadata["annotations"] = annotations
	}
	annotations[key] = value
}
