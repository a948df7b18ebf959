package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/deployconf/pkg/telemetry"
)

// DefaultLeaseTimeout is how long a generation run may go without persisting
// an attempt before another caller may take the record over.
const DefaultLeaseTimeout = 15 * time.Minute

// GenerationOutcome is the tagged result of one generation run.
type GenerationOutcome struct {
	SolutionID string `json:"solution_id"`

	// Generation is the run number the attempts belong to.
	Generation int `json:"generation"`

	Succeeded bool `json:"succeeded"`

	// ManifestText is the accepted manifest; empty unless Succeeded.
	ManifestText string `json:"manifest_text,omitempty"`

	// Attempts are the attempts made by this run, in order.
	Attempts []ValidationAttempt `json:"attempts"`

	// LastError is the error detail of the final failed attempt.
	LastError string `json:"last_error,omitempty"`

	// Transient is true when the run ended because a collaborator was
	// unavailable rather than because the manifest kept failing validation.
	Transient bool `json:"transient"`
}

// Err returns nil for a successful run and a *GenerationFailedError otherwise.
func (o *GenerationOutcome) Err() error {
	if o == nil || o.Succeeded {
		return nil
	}
	return &GenerationFailedError{
		SolutionID:      o.SolutionID,
		LastErrorDetail: o.LastError,
		Attempts:        o.Attempts,
		Transient:       o.Transient,
	}
}

// Generator runs the bounded synthesize/validate/repair loop.
type Generator struct {
	store        RecordStore
	synth        Synthesizer
	validator    Validator
	logger       zerolog.Logger
	tracer       *telemetry.Tracer
	metrics      *telemetry.Metrics
	leaseTimeout time.Duration
	now          Clock
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithLeaseTimeout sets the stale generation lease timeout.
func WithLeaseTimeout(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		if d > 0 {
			g.leaseTimeout = d
		}
	}
}

// WithGeneratorTelemetry attaches a tracer and metrics to the generator.
func WithGeneratorTelemetry(tracer *telemetry.Tracer, metrics *telemetry.Metrics) GeneratorOption {
	return func(g *Generator) {
		g.tracer = tracer
		g.metrics = metrics
	}
}

// WithGeneratorClock overrides the generator's time source.
func WithGeneratorClock(now Clock) GeneratorOption {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGenerator creates a new manifest generator.
func NewGenerator(store RecordStore, synth Synthesizer, validator Validator, logger zerolog.Logger, opts ...GeneratorOption) *Generator {
	g := &Generator{
		store:        store,
		synth:        synth,
		validator:    validator,
		logger:       logger.With().Str("component", "generator").Logger(),
		leaseTimeout: DefaultLeaseTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs one generation run of at most maxAttempts attempts.
//
// Attempts are strictly sequential: attempt n+1 receives attempt n's error
// text as repair feedback. Each attempt is persisted with one store update
// before the next begins. Exhausting the budget is reported through the
// returned outcome, not through the error; the error is reserved for
// precondition, lookup and persistence failures.
func (g *Generator) Generate(ctx context.Context, id string, maxAttempts int) (*GenerationOutcome, error) {
	if maxAttempts < 1 {
		return nil, NewPermanentError(fmt.Sprintf("max attempts must be at least 1, got %d", maxAttempts), nil).
			WithCode(ErrCodeValidation).
			WithSolution(id)
	}

	timer := telemetry.NewTimer()
	started, err := g.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	generation := started.Generation
	g.metrics.RecordGenerationStarted()

	log := g.logger.With().
		Str("solution_id", id).
		Int("generation", generation).
		Logger()
	log.Info().Int("max_attempts", maxAttempts).Msg("Starting manifest generation")

	outcome := &GenerationOutcome{SolutionID: id, Generation: generation}
	snapshot := started
	priorError := ""

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return g.interrupt(ctx, outcome, ctx.Err(), timer)
		}

		record, manifest := g.runAttempt(ctx, snapshot, generation, attempt, priorError)
		outcome.Attempts = append(outcome.Attempts, record)

		final := record.Outcome == OutcomeValid ||
			record.ErrorClass == ErrorClassTransient ||
			attempt == maxAttempts

		// The attempt is recorded even if ctx was cancelled while it ran.
		updated, err := g.store.Update(context.WithoutCancel(ctx), id, func(rec *SolutionRecord) error {
			if rec.Status != StatusGenerating || rec.Generation != generation {
				return NewConflictError("generation run was taken over", nil).
					WithSolution(id).
					WithDetail("generation", generation).
					WithDetail("current_generation", rec.Generation)
			}
			rec.ValidationAttempts = append(rec.ValidationAttempts, record)
			now := g.now()
			rec.UpdatedAt = now
			switch {
			case record.Outcome == OutcomeValid:
				rec.Status = StatusGenerated
				rec.ManifestText = manifest
				rec.GeneratingSince = nil
			case final:
				rec.Status = StatusGenerationFailed
				rec.GeneratingSince = nil
			default:
				rec.GeneratingSince = &now
			}
			return nil
		})
		if err != nil {
			log.Error().Err(err).Int("attempt", attempt).Msg("Failed to persist generation attempt")
			g.metrics.RecordGenerationCompleted("failed", timer.Duration())
			return nil, err
		}
		snapshot = updated

		log.Debug().
			Int("attempt", attempt).
			Str("outcome", string(record.Outcome)).
			Str("error_class", string(record.ErrorClass)).
			Msg("Generation attempt recorded")

		switch {
		case record.Outcome == OutcomeValid:
			outcome.Succeeded = true
			outcome.ManifestText = manifest
			g.metrics.RecordGenerationCompleted("succeeded", timer.Duration())
			log.Info().Int("attempts", attempt).Msg("Manifest generated")
			return outcome, nil

		case final:
			outcome.LastError = record.ErrorDetail
			outcome.Transient = record.ErrorClass == ErrorClassTransient
			g.metrics.RecordGenerationCompleted("failed", timer.Duration())
			log.Warn().
				Int("attempts", attempt).
				Bool("transient", outcome.Transient).
				Str("last_error", record.ErrorDetail).
				Msg("Manifest generation failed")
			return outcome, nil
		}

		priorError = record.ErrorDetail
	}

	// Unreachable: the last attempt is always final.
	return outcome, nil
}

// begin claims the record for a new generation run.
func (g *Generator) begin(ctx context.Context, id string) (*SolutionRecord, error) {
	return g.store.Update(ctx, id, func(rec *SolutionRecord) error {
		now := g.now()
		if !rec.Status.CanGenerate() && !g.leaseExpired(rec, now) {
			return &PreconditionError{SolutionID: id, Operation: "generate manifests", Status: rec.Status}
		}
		if rec.Status == StatusGenerating {
			g.logger.Warn().
				Str("solution_id", id).
				Int("generation", rec.Generation).
				Msg("Taking over stale generation run")
		}
		rec.Status = StatusGenerating
		rec.Generation++
		rec.GeneratingSince = &now
		rec.UpdatedAt = now
		return nil
	})
}

func (g *Generator) leaseExpired(rec *SolutionRecord, now time.Time) bool {
	if rec.Status != StatusGenerating {
		return false
	}
	if rec.GeneratingSince == nil {
		return true
	}
	return now.Sub(*rec.GeneratingSince) > g.leaseTimeout
}

// runAttempt performs one synthesize + validate step. It never fails: every
// failure is captured in the returned attempt.
func (g *Generator) runAttempt(
	ctx context.Context,
	rec *SolutionRecord,
	generation, attempt int,
	priorError string,
) (ValidationAttempt, string) {
	ctx, span := g.tracer.StartSpan(ctx, "generation.attempt",
		telemetry.AttrSolutionID.String(rec.ID),
		attribute.Int("generation", generation),
		attribute.Int("attempt", attempt),
	)
	defer span.End()

	result := ValidationAttempt{
		ID:            uuid.New().String(),
		Generation:    generation,
		AttemptNumber: attempt,
		CreatedAt:     g.now(),
	}

	manifest, err := g.synthesize(ctx, SynthesisRequest{
		Record:     rec.Clone(),
		Attempt:    attempt,
		PriorError: priorError,
	})
	if err != nil {
		result.Outcome = OutcomeSynthesisError
		result.ErrorDetail = fmt.Sprintf("synthesis failed: %v", err)
		result.ErrorClass = collaboratorClass(err)
		telemetry.RecordError(span, err)
		g.metrics.RecordGenerationAttempt(string(result.Outcome))
		return result, ""
	}
	result.ManifestText = manifest

	verdict, err := g.validate(ctx, manifest)
	switch {
	case err != nil:
		result.Outcome = OutcomeValidatorError
		result.ErrorDetail = fmt.Sprintf("validator unavailable: %v", err)
		result.ErrorClass = collaboratorClass(err)
		telemetry.RecordError(span, err)
	case verdict.OK:
		result.Outcome = OutcomeValid
		telemetry.RecordSuccess(span)
	default:
		result.Outcome = OutcomeInvalid
		result.ErrorDetail = verdict.ErrorDetail
		if result.ErrorDetail == "" {
			result.ErrorDetail = "manifest rejected by validator"
		}
		result.ErrorClass = ErrorClassPermanent
		span.SetAttributes(telemetry.AttrErrorMessage.String(result.ErrorDetail))
	}

	g.metrics.RecordGenerationAttempt(string(result.Outcome))
	return result, manifest
}

func (g *Generator) synthesize(ctx context.Context, req SynthesisRequest) (string, error) {
	ctx, span := g.tracer.StartCollaboratorSpan(ctx, "synthesizer", "synthesize")
	defer span.End()

	manifest, err := g.synth.Synthesize(ctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
		return "", err
	}
	telemetry.RecordSuccess(span)
	return manifest, nil
}

func (g *Generator) validate(ctx context.Context, manifest string) (ValidationResult, error) {
	ctx, span := g.tracer.StartCollaboratorSpan(ctx, "validator", "validate")
	defer span.End()

	verdict, err := g.validator.Validate(ctx, manifest)
	if err != nil {
		telemetry.RecordError(span, err)
		return verdict, err
	}
	span.SetAttributes(attribute.Bool("valid", verdict.OK))
	telemetry.RecordSuccess(span)
	return verdict, nil
}

// interrupt ends a run whose context was cancelled between attempts.
func (g *Generator) interrupt(ctx context.Context, outcome *GenerationOutcome, cause error, timer *telemetry.Timer) (*GenerationOutcome, error) {
	outcome.LastError = fmt.Sprintf("generation interrupted: %v", cause)
	outcome.Transient = true

	persistCtx := context.WithoutCancel(ctx)
	_, err := g.store.Update(persistCtx, outcome.SolutionID, func(rec *SolutionRecord) error {
		if rec.Status != StatusGenerating || rec.Generation != outcome.Generation {
			return nil
		}
		rec.Status = StatusGenerationFailed
		rec.GeneratingSince = nil
		rec.UpdatedAt = g.now()
		return nil
	})
	if err != nil {
		g.metrics.RecordGenerationCompleted("failed", timer.Duration())
		return nil, err
	}
	g.metrics.RecordGenerationCompleted("interrupted", timer.Duration())
	return outcome, nil
}

// collaboratorClass classifies an error returned by a synthesizer or validator.
// Unclassified errors are treated as transient outages.
func collaboratorClass(err error) ErrorClass {
	var c classified
	if errors.As(err, &c) {
		if c.ErrorClass() == ErrorClassPermanent {
			return ErrorClassPermanent
		}
		return ErrorClassTransient
	}
	return ErrorClassTransient
}
