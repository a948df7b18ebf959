package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/openfroyo/deployconf/pkg/telemetry"
)

// Result statuses reported by the façade.
const (
	ResultStageQuestions     = "stage_questions"
	ResultReadyForGeneration = "ready_for_manifest_generation"
	ResultManifestsGenerated = "manifests_generated"
	ResultGenerationFailed   = "generation_failed"
)

// DefaultMaxAttempts is the generation bound used when no per-kind bound matches.
const DefaultMaxAttempts = 10

// DefaultDeployTimeout bounds a deploy call when the caller gives no timeout.
const DefaultDeployTimeout = 5 * time.Minute

// SolutionIDPrefix prefixes generated solution ids.
const SolutionIDPrefix = "sol_"

// NewSolutionID returns a new time-ordered solution id.
func NewSolutionID() string {
	return SolutionIDPrefix + strings.ToLower(ulid.Make().String())
}

// GenerationLimits bounds generation runs.
type GenerationLimits struct {
	// MaxAttempts is the default bound.
	MaxAttempts int `json:"max_attempts" validate:"gte=0"`

	// MaxAttemptsByKind overrides the bound for solutions containing a kind.
	// The largest matching bound wins.
	MaxAttemptsByKind map[string]int `json:"max_attempts_by_kind,omitempty" validate:"dive,gte=1"`
}

// For returns the attempt bound for a solution made of kinds.
func (l GenerationLimits) For(kinds []string) int {
	best := 0
	for _, k := range kinds {
		if n, ok := l.MaxAttemptsByKind[k]; ok && n > best {
			best = n
		}
	}
	if best > 0 {
		return best
	}
	if l.MaxAttempts > 0 {
		return l.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Options wires an Orchestrator.
type Options struct {
	Store       RecordStore    `validate:"required"`
	Questions   QuestionSource `validate:"required"`
	Synthesizer Synthesizer    `validate:"required"`
	Validator   Validator      `validate:"required"`

	// Deployer is optional; DeployManifests fails without one.
	Deployer Deployer

	Limits        GenerationLimits
	LeaseTimeout  time.Duration `validate:"gte=0"`
	DeployTimeout time.Duration `validate:"gte=0"`

	Logger  zerolog.Logger
	Tracer  *telemetry.Tracer
	Metrics *telemetry.Metrics
	Clock   Clock
}

// Orchestrator is the entry point for callers. It validates argument shape
// and delegates to the store, the intake and the generator.
type Orchestrator struct {
	store         RecordStore
	intake        *Intake
	generator     *Generator
	deployer      Deployer
	limits        GenerationLimits
	deployTimeout time.Duration
	logger        zerolog.Logger
	tracer        *telemetry.Tracer
	metrics       *telemetry.Metrics
	now           Clock
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if err := structValidator().Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid orchestrator options: %w", err)
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	deployTimeout := opts.DeployTimeout
	if deployTimeout == 0 {
		deployTimeout = DefaultDeployTimeout
	}

	intake := NewIntake(opts.Store, opts.Questions, opts.Logger)
	intake.now = now

	generator := NewGenerator(opts.Store, opts.Synthesizer, opts.Validator, opts.Logger,
		WithLeaseTimeout(opts.LeaseTimeout),
		WithGeneratorTelemetry(opts.Tracer, opts.Metrics),
		WithGeneratorClock(now),
	)

	return &Orchestrator{
		store:         opts.Store,
		intake:        intake,
		generator:     generator,
		deployer:      opts.Deployer,
		limits:        opts.Limits,
		deployTimeout: deployTimeout,
		logger:        opts.Logger.With().Str("component", "orchestrator").Logger(),
		tracer:        opts.Tracer,
		metrics:       opts.Metrics,
		now:           now,
	}, nil
}

// RegisterRequest hands a recommended solution over to the orchestrator.
type RegisterRequest struct {
	// SolutionID is optional; a sol_ prefixed ULID is generated when empty.
	SolutionID string        `json:"solution_id,omitempty" validate:"omitempty,max=128,printascii,excludesall= /"`
	Intent     string        `json:"intent,omitempty" validate:"max=4096"`
	Resources  []ResourceRef `json:"resources" validate:"required,min=1,dive"`
}

// ChooseResult is returned by ChooseSolution.
type ChooseResult struct {
	SolutionID string     `json:"solution_id"`
	Stage      Stage      `json:"stage"`
	Status     Status     `json:"status"`
	Questions  []Question `json:"questions"`
}

// AnswerResult is returned by AnswerQuestion.
type AnswerResult struct {
	Status       string     `json:"status"`
	SolutionID   string     `json:"solution_id"`
	CurrentStage Stage      `json:"current_stage,omitempty"`
	Questions    []Question `json:"questions,omitempty"`
}

// GenerateResult is returned by GenerateManifests.
type GenerateResult struct {
	Status       string              `json:"status"`
	SolutionID   string              `json:"solution_id"`
	ManifestText string              `json:"manifest_text,omitempty"`
	ErrorDetail  string              `json:"error_detail,omitempty"`
	Retryable    bool                `json:"retryable,omitempty"`
	Attempts     []ValidationAttempt `json:"attempts"`

	outcome *GenerationOutcome
}

// Err returns the *GenerationFailedError of a failed run, or nil.
func (r *GenerateResult) Err() error {
	if r == nil {
		return nil
	}
	return r.outcome.Err()
}

// RegisterSolution creates the record for a newly selected solution.
func (o *Orchestrator) RegisterSolution(ctx context.Context, req RegisterRequest) (rec *SolutionRecord, err error) {
	ctx, done := o.observe(ctx, "register_solution", req.SolutionID)
	defer func() { done(err) }()

	if err := checkRequest(req); err != nil {
		return nil, err
	}
	id := req.SolutionID
	if id == "" {
		id = NewSolutionID()
	}

	rec, err = o.store.Create(ctx, id, req.Intent, req.Resources)
	if err != nil {
		return nil, err
	}
	o.metrics.RecordSolutionRegistered()
	o.logger.Info().
		Str("solution_id", id).
		Strs("kinds", rec.ResourceKinds()).
		Msg("Solution registered")
	return rec, nil
}

// ChooseSolution returns the questions of the solution's current stage,
// which is the required stage for a freshly registered solution.
func (o *Orchestrator) ChooseSolution(ctx context.Context, id string) (res *ChooseResult, err error) {
	ctx, done := o.observe(ctx, "choose_solution", id)
	defer func() { done(err) }()

	if err := checkID(id); err != nil {
		return nil, err
	}
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	res = &ChooseResult{SolutionID: id, Stage: rec.CurrentStage, Status: rec.Status}
	if !rec.Status.AcceptsAnswers() {
		return res, nil
	}
	res.Questions, err = o.intake.Questions(ctx, rec, rec.CurrentStage)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AnswerQuestion submits the answers of one stage.
func (o *Orchestrator) AnswerQuestion(ctx context.Context, id string, stage Stage, answers Answers) (res *AnswerResult, err error) {
	ctx, done := o.observe(ctx, "answer_question", id)
	defer func() {
		result := "accepted"
		if err != nil {
			result = CodeOf(err)
		}
		o.metrics.RecordAnswer(string(stage), result)
		done(err)
	}()

	if err := checkID(id); err != nil {
		return nil, err
	}

	out, err := o.intake.SubmitAnswers(ctx, id, stage, answers)
	if err != nil {
		return nil, err
	}
	switch {
	case out.Transition.Ready:
		o.metrics.RecordStageTransition(string(out.Transition.Stage), string(StatusReadyForGeneration))
	case !out.Transition.Resubmission:
		o.metrics.RecordStageTransition(string(out.Transition.Stage), string(out.Transition.Next))
	}

	if out.Transition.Ready {
		return &AnswerResult{Status: ResultReadyForGeneration, SolutionID: id}, nil
	}
	return &AnswerResult{
		Status:       ResultStageQuestions,
		SolutionID:   id,
		CurrentStage: out.Record.CurrentStage,
		Questions:    out.Questions,
	}, nil
}

// GenerateManifests runs a fresh bounded generation run. A run that ends
// without a valid manifest is reported with status generation_failed and a
// nil error.
func (o *Orchestrator) GenerateManifests(ctx context.Context, id string) (res *GenerateResult, err error) {
	ctx, done := o.observe(ctx, "generate_manifests", id)
	defer func() { done(err) }()

	if err := checkID(id); err != nil {
		return nil, err
	}
	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	maxAttempts := o.limits.For(rec.ResourceKinds())
	outcome, err := o.generator.Generate(ctx, id, maxAttempts)
	if err != nil {
		return nil, err
	}

	res = &GenerateResult{SolutionID: id, Attempts: outcome.Attempts, outcome: outcome}
	if outcome.Succeeded {
		res.Status = ResultManifestsGenerated
		res.ManifestText = outcome.ManifestText
		return res, nil
	}
	res.Status = ResultGenerationFailed
	res.ErrorDetail = outcome.LastError
	res.Retryable = outcome.Transient
	return res, nil
}

// DeployManifests hands the validated manifest to the deployer and stores
// the result. A timeout of zero uses the configured default.
func (o *Orchestrator) DeployManifests(ctx context.Context, id string, timeout time.Duration) (res *DeployResult, err error) {
	ctx, done := o.observe(ctx, "deploy_manifests", id)
	timer := telemetry.NewTimer()
	defer func() {
		result := "deployed"
		if err != nil {
			result = "failed"
		}
		o.metrics.RecordDeploy(result, timer.Duration())
		done(err)
	}()

	if err := checkID(id); err != nil {
		return nil, err
	}
	if timeout < 0 {
		return nil, NewPermanentError("timeout must not be negative", nil).WithCode(ErrCodeValidation).WithSolution(id)
	}
	if timeout == 0 {
		timeout = o.deployTimeout
	}
	if o.deployer == nil {
		return nil, NewPermanentError("no deployer configured", nil).WithCode(ErrCodeDeployFailed).WithSolution(id)
	}

	rec, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.CanDeploy() {
		return nil, &PreconditionError{SolutionID: id, Operation: "deploy manifests", Status: rec.Status}
	}
	manifest := rec.ManifestText

	result, deployErr := o.deployer.Deploy(ctx, manifest, timeout)
	if result == nil {
		result = &DeployResult{}
	}
	if deployErr != nil {
		result.Deployed = false
		if result.ErrorDetail == "" {
			result.ErrorDetail = deployErr.Error()
		}
	}
	if result.DeployedAt.IsZero() {
		result.DeployedAt = o.now()
	}

	_, err = o.store.Update(ctx, id, func(r *SolutionRecord) error {
		if !r.Status.CanDeploy() || r.ManifestText != manifest {
			return NewConflictError("solution changed while deploying", nil).WithSolution(id)
		}
		stored := *result
		r.Deployment = &stored
		if result.Deployed {
			r.Status = StatusDeployed
		} else {
			r.Status = StatusDeployFailed
		}
		r.UpdatedAt = o.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if deployErr != nil {
		class := ClassOf(deployErr)
		return result, &EngineError{
			Class:      class,
			Code:       ErrCodeDeployFailed,
			Message:    "deployment failed",
			SolutionID: id,
			Operation:  "deploy",
			Err:        deployErr,
		}
	}
	if !result.Deployed {
		return result, NewPermanentError("deployment reported failure: "+result.ErrorDetail, nil).
			WithCode(ErrCodeDeployFailed).
			WithSolution(id)
	}
	return result, nil
}

// GetSolution returns the stored record.
func (o *Orchestrator) GetSolution(ctx context.Context, id string) (rec *SolutionRecord, err error) {
	ctx, done := o.observe(ctx, "get_solution", id)
	defer func() { done(err) }()

	if err := checkID(id); err != nil {
		return nil, err
	}
	return o.store.Get(ctx, id)
}

// ListSolutions returns stored records matching filter.
func (o *Orchestrator) ListSolutions(ctx context.Context, filter SolutionFilter) (recs []*SolutionRecord, err error) {
	ctx, done := o.observe(ctx, "list_solutions", "")
	defer func() { done(err) }()

	if filter.Status != "" {
		if err := filter.Status.Validate(); err != nil {
			return nil, NewPermanentError("invalid status filter", err).WithCode(ErrCodeValidation)
		}
	}
	return o.store.List(ctx, filter)
}

// observe starts the span, timer and log context of one façade operation.
func (o *Orchestrator) observe(ctx context.Context, operation, id string) (context.Context, func(error)) {
	timer := telemetry.NewTimer()
	ctx, span := o.tracer.StartSolutionSpan(ctx, operation, id)

	return ctx, func(err error) {
		defer span.End()

		status := "ok"
		if err != nil {
			status = "error"
			class, code := ClassOf(err), CodeOf(err)
			o.metrics.RecordError(string(class), code)
			span.SetAttributes(
				telemetry.AttrErrorClass.String(string(class)),
				telemetry.AttrErrorCode.String(code),
			)
			telemetry.RecordError(span, err)
			o.logger.Debug().
				Err(err).
				Str("operation", operation).
				Str("solution_id", id).
				Str("class", string(class)).
				Str("code", code).
				Msg("Operation failed")
		} else {
			telemetry.RecordSuccess(span)
		}
		o.metrics.RecordOperation(operation, status, timer.Duration())
	}
}

func checkID(id string) error {
	if err := structValidator().Var(id, "required,max=128,printascii,excludesall= /"); err != nil {
		return NewPermanentError("invalid solution id", err).WithCode(ErrCodeValidation)
	}
	return nil
}

func checkRequest(req RegisterRequest) error {
	if err := structValidator().Struct(req); err != nil {
		var verrs validator.ValidationErrors
		msg := "invalid register request"
		if errors.As(err, &verrs) && len(verrs) > 0 {
			msg = fmt.Sprintf("invalid register request: field %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return NewPermanentError(msg, err).WithCode(ErrCodeValidation)
	}
	return nil
}
