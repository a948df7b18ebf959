package engine

import (
	"context"
	"time"
)

// RecordStore is the durable, keyed persistence for solution records.
// It is the only shared mutable resource of the orchestrator.
type RecordStore interface {
	// Create stores a new record in its initial state.
	// Returns *AlreadyExistsError if the id is taken.
	Create(ctx context.Context, id, intent string, resources []ResourceRef) (*SolutionRecord, error)

	// Get returns a copy of the record. Returns *NotFoundError if absent.
	Get(ctx context.Context, id string) (*SolutionRecord, error)

	// Update applies fn to a copy of the record atomically with respect to
	// every other Update for the same id. If fn returns an error nothing is
	// written and that error is returned unchanged.
	Update(ctx context.Context, id string, fn func(*SolutionRecord) error) (*SolutionRecord, error)

	// List returns records matching the filter, newest first.
	List(ctx context.Context, filter SolutionFilter) ([]*SolutionRecord, error)
}

// QuestionSource supplies the questions of one stage for a solution.
type QuestionSource interface {
	QuestionsFor(ctx context.Context, resources []ResourceRef, intent string, stage Stage) ([]Question, error)
}

// SynthesisRequest is the input of one synthesis call.
type SynthesisRequest struct {
	// Record is a snapshot of the solution with all stage answers.
	Record *SolutionRecord

	// Attempt is the 1-based attempt number within the current generation run.
	Attempt int

	// PriorError is the previous attempt's validator error text; empty on attempt 1.
	PriorError string
}

// Synthesizer turns a fully configured solution into manifest text.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (string, error)
}

// ValidationResult is the verdict of a dry-run validation.
type ValidationResult struct {
	OK          bool   `json:"ok"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Validator checks manifest acceptability without applying it.
//
// A rejected manifest is reported through ValidationResult. A returned error
// means the validator itself failed; it is treated as transient unless it is
// classified permanent.
type Validator interface {
	Validate(ctx context.Context, manifest string) (ValidationResult, error)
}

// Deployer applies a validated manifest to the target cluster.
type Deployer interface {
	Deploy(ctx context.Context, manifest string, timeout time.Duration) (*DeployResult, error)
}

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time
