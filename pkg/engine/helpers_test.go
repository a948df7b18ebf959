package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployconf/pkg/engine"
	"github.com/openfroyo/deployconf/pkg/stores"
)

var webResources = []engine.ResourceRef{
	{Kind: "Deployment", Group: "apps", Version: "v1", Namespaced: true},
	{Kind: "Service", Version: "v1", Namespaced: true},
}

// fixedQuestions serves a static question set per stage.
type fixedQuestions struct {
	mu     sync.Mutex
	stages map[engine.Stage][]engine.Question
	err    error
	calls  int
}

func (f *fixedQuestions) QuestionsFor(_ context.Context, _ []engine.ResourceRef, _ string, stage engine.Stage) ([]engine.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]engine.Question(nil), f.stages[stage]...), nil
}

func defaultQuestions() *fixedQuestions {
	return &fixedQuestions{stages: map[engine.Stage][]engine.Question{
		engine.StageRequired: {
			{ID: "name", Prompt: "Application name", Type: engine.QuestionText, Stage: engine.StageRequired, Required: true},
			{ID: "image", Prompt: "Container image", Type: engine.QuestionText, Stage: engine.StageRequired, Required: true},
			{ID: "namespace", Prompt: "Namespace", Type: engine.QuestionText, Stage: engine.StageRequired},
		},
		engine.StageBasic: {
			{ID: "replicas", Prompt: "Replicas", Type: engine.QuestionNumber, Stage: engine.StageBasic},
			{ID: "expose", Prompt: "Expose publicly", Type: engine.QuestionBoolean, Stage: engine.StageBasic},
		},
		engine.StageAdvanced: {
			{ID: "tier", Prompt: "Resource tier", Type: engine.QuestionSelect, Stage: engine.StageAdvanced, Options: []string{"small", "large"}},
		},
		engine.StageOpen: {
			{ID: engine.OpenAnswerKey, Prompt: "Anything else?", Type: engine.QuestionText, Stage: engine.StageOpen},
		},
	}}
}

// scriptedSynth returns manifests in order and records each request.
type scriptedSynth struct {
	mu        sync.Mutex
	manifests []string
	errs      []error
	requests  []engine.SynthesisRequest
	block     chan struct{}
	started   chan struct{}
}

func (s *scriptedSynth) Synthesize(ctx context.Context, req engine.SynthesisRequest) (string, error) {
	s.mu.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, req)
	block, started := s.block, s.started
	s.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if n < len(s.errs) && s.errs[n] != nil {
		return "", s.errs[n]
	}
	if len(s.manifests) == 0 {
		return "kind: Deployment", nil
	}
	if n >= len(s.manifests) {
		return s.manifests[len(s.manifests)-1], nil
	}
	return s.manifests[n], nil
}

func (s *scriptedSynth) priorErrors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.requests))
	for _, r := range s.requests {
		out = append(out, r.PriorError)
	}
	return out
}

// scriptedValidator returns verdicts in order; the last one repeats.
type scriptedValidator struct {
	mu       sync.Mutex
	verdicts []engine.ValidationResult
	errs     []error
	calls    int
}

func (v *scriptedValidator) Validate(_ context.Context, _ string) (engine.ValidationResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := v.calls
	v.calls++
	if n < len(v.errs) && v.errs[n] != nil {
		return engine.ValidationResult{}, v.errs[n]
	}
	if len(v.verdicts) == 0 {
		return engine.ValidationResult{OK: true}, nil
	}
	if n >= len(v.verdicts) {
		return v.verdicts[len(v.verdicts)-1], nil
	}
	return v.verdicts[n], nil
}

func invalid(detail string) engine.ValidationResult {
	return engine.ValidationResult{OK: false, ErrorDetail: detail}
}

func valid() engine.ValidationResult {
	return engine.ValidationResult{OK: true}
}

type stubDeployer struct {
	result    *engine.DeployResult
	err       error
	manifests []string
}

func (d *stubDeployer) Deploy(_ context.Context, manifest string, _ time.Duration) (*engine.DeployResult, error) {
	d.manifests = append(d.manifests, manifest)
	if d.result == nil {
		return nil, d.err
	}
	r := *d.result
	return &r, d.err
}

// failingStore wraps a store and fails Update while failUpdates is set, or
// from the failFrom-th call on when failFrom is positive.
type failingStore struct {
	engine.RecordStore
	failUpdates bool
	failFrom    int
	updates     int
}

func (f *failingStore) Update(ctx context.Context, id string, fn func(*engine.SolutionRecord) error) (*engine.SolutionRecord, error) {
	f.updates++
	if f.failUpdates || (f.failFrom > 0 && f.updates >= f.failFrom) {
		return nil, engine.NewPersistenceError("disk full", errors.New("SQLITE_FULL")).WithSolution(id)
	}
	return f.RecordStore.Update(ctx, id, fn)
}

type fixture struct {
	store     *stores.MemoryStore
	questions *fixedQuestions
	synth     *scriptedSynth
	validator *scriptedValidator
	deployer  *stubDeployer
	orch      *engine.Orchestrator
}

func newFixture(t *testing.T, mutate ...func(*engine.Options)) *fixture {
	t.Helper()
	f := &fixture{
		store:     stores.NewMemoryStore(),
		questions: defaultQuestions(),
		synth:     &scriptedSynth{},
		validator: &scriptedValidator{},
		deployer:  &stubDeployer{result: &engine.DeployResult{Deployed: true}},
	}
	opts := engine.Options{
		Store:       f.store,
		Questions:   f.questions,
		Synthesizer: f.synth,
		Validator:   f.validator,
		Deployer:    f.deployer,
		Limits:      engine.GenerationLimits{MaxAttempts: 3},
		Logger:      zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	orch, err := engine.NewOrchestrator(opts)
	require.NoError(t, err)
	f.orch = orch
	return f
}

func (f *fixture) register(t *testing.T, id string) {
	t.Helper()
	_, err := f.orch.RegisterSolution(context.Background(), engine.RegisterRequest{
		SolutionID: id,
		Intent:     "deploy a web app",
		Resources:  webResources,
	})
	require.NoError(t, err)
}

func requiredAnswers() engine.Answers {
	return engine.Answers{
		"name":  engine.TextAnswer("web"),
		"image": engine.TextAnswer("nginx:1.27"),
	}
}

func openAnswer(text string) engine.Answers {
	return engine.Answers{engine.OpenAnswerKey: engine.TextAnswer(text)}
}

// makeReady registers id and answers every stage.
func (f *fixture) makeReady(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	f.register(t, id)
	_, err := f.orch.AnswerQuestion(ctx, id, engine.StageRequired, requiredAnswers())
	require.NoError(t, err)
	_, err = f.orch.AnswerQuestion(ctx, id, engine.StageBasic, engine.Answers{"replicas": engine.NumberAnswer(2)})
	require.NoError(t, err)
	_, err = f.orch.AnswerQuestion(ctx, id, engine.StageAdvanced, engine.Answers{})
	require.NoError(t, err)
	res, err := f.orch.AnswerQuestion(ctx, id, engine.StageOpen, openAnswer("none"))
	require.NoError(t, err)
	require.Equal(t, engine.ResultReadyForGeneration, res.Status)
}

func questionIDs(qs []engine.Question) []string {
	ids := make([]string, 0, len(qs))
	for _, q := range qs {
		ids = append(ids, q.ID)
	}
	return ids
}
