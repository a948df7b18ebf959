package engine

import (
	"fmt"
	"time"
)

// ResourceRef describes one cluster resource kind that is part of a solution.
type ResourceRef struct {
	// Kind is the resource kind (e.g., "Deployment", "Service").
	Kind string `json:"kind" yaml:"kind" validate:"required"`

	// Group is the API group; empty for the core group.
	Group string `json:"group,omitempty" yaml:"group,omitempty"`

	// Version is the API version within the group (e.g., "v1").
	Version string `json:"version" yaml:"version" validate:"required"`

	// Namespaced reports whether the kind lives in a namespace.
	Namespaced bool `json:"namespaced" yaml:"namespaced"`
}

// APIVersion returns the apiVersion string used in manifests.
func (r ResourceRef) APIVersion() string {
	if r.Group == "" {
		return r.Version
	}
	return r.Group + "/" + r.Version
}

// QuestionType is the kind of value a question accepts.
type QuestionType string

const (
	QuestionText    QuestionType = "text"
	QuestionBoolean QuestionType = "boolean"
	QuestionNumber  QuestionType = "number"
	QuestionSelect  QuestionType = "select"
)

// Validate checks if the question type is valid.
func (t QuestionType) Validate() error {
	switch t {
	case QuestionText, QuestionBoolean, QuestionNumber, QuestionSelect:
		return nil
	default:
		return fmt.Errorf("invalid question type: %q", string(t))
	}
}

// ResourceMapping associates an answer with the manifest field it populates.
type ResourceMapping struct {
	// ResourceKind is the kind of the resource the field belongs to.
	ResourceKind string `json:"resource_kind" yaml:"resourceKind" validate:"required"`

	// FieldPath is a dotted path into the resource document (e.g., "spec.replicas").
	FieldPath string `json:"field_path" yaml:"fieldPath" validate:"required"`
}

// Question is a single configuration prompt belonging to a stage.
type Question struct {
	ID              string           `json:"id" yaml:"id" validate:"required"`
	Prompt          string           `json:"prompt" yaml:"prompt"`
	Type            QuestionType     `json:"type" yaml:"type" validate:"required,oneof=text boolean number select"`
	Stage           Stage            `json:"stage" yaml:"stage" validate:"required,oneof=required basic advanced open"`
	Required        bool             `json:"required" yaml:"required"`
	Options         []string         `json:"options,omitempty" yaml:"options,omitempty" validate:"required_if=Type select"`
	Default         *AnswerValue     `json:"default,omitempty" yaml:"default,omitempty"`
	ResourceMapping *ResourceMapping `json:"resource_mapping,omitempty" yaml:"resourceMapping,omitempty"`
}

// MandatoryIDs returns the ids of questions marked required, in input order.
func MandatoryIDs(questions []Question) []string {
	var ids []string
	for _, q := range questions {
		if q.Required {
			ids = append(ids, q.ID)
		}
	}
	return ids
}

// ValidationAttempt is one entry of the append-only generation trail.
type ValidationAttempt struct {
	// ID uniquely identifies the attempt across runs.
	ID string `json:"id"`

	// Generation is the generation run the attempt belongs to (1-based).
	Generation int `json:"generation"`

	// AttemptNumber restarts at 1 for every generation run.
	AttemptNumber int `json:"attempt_number"`

	// ManifestText is the synthesized manifest; empty on synthesis errors.
	ManifestText string `json:"manifest_text"`

	Outcome     AttemptOutcome `json:"outcome"`
	ErrorDetail string         `json:"error_detail,omitempty"`

	// ErrorClass distinguishes manifest-content failures (permanent) from
	// validator or synthesizer outages (transient).
	ErrorClass ErrorClass `json:"error_class,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ResourceStatus reports the state of one applied resource.
type ResourceStatus struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// DeployResult is the outcome of handing a manifest to a deployer.
type DeployResult struct {
	Deployed         bool             `json:"deployed"`
	ResourceStatuses []ResourceStatus `json:"resource_statuses,omitempty"`
	ErrorDetail      string           `json:"error_detail,omitempty"`
	DeployedAt       time.Time        `json:"deployed_at"`
}

// SolutionRecord is the persisted state of one solution.
type SolutionRecord struct {
	ID string `json:"id" validate:"required"`

	// Intent is the free-text deployment goal the solution was chosen for.
	Intent string `json:"intent,omitempty"`

	// Resources is immutable once the record is created.
	Resources []ResourceRef `json:"resources" validate:"dive"`

	StageAnswers    map[Stage]Answers `json:"stage_answers"`
	CompletedStages []Stage           `json:"completed_stages"`
	CurrentStage    Stage             `json:"current_stage" validate:"required,oneof=required basic advanced open"`
	Status          Status            `json:"status" validate:"required,oneof=selected configuring ready_for_generation generating generated generation_failed deployed deploy_failed"`

	ManifestText       string              `json:"manifest_text,omitempty"`
	ValidationAttempts []ValidationAttempt `json:"validation_attempts"`

	// Generation counts generation runs started for this record.
	Generation int `json:"generation" validate:"gte=0"`

	// GeneratingSince is set while a generation run holds the record.
	GeneratingSince *time.Time `json:"generating_since,omitempty"`

	Deployment *DeployResult `json:"deployment,omitempty"`

	// Version is bumped by the store on every committed update.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSolutionRecord returns a record in its initial state.
func NewSolutionRecord(id, intent string, resources []ResourceRef, now time.Time) *SolutionRecord {
	res := make([]ResourceRef, len(resources))
	copy(res, resources)
	return &SolutionRecord{
		ID:           id,
		Intent:       intent,
		Resources:    res,
		StageAnswers: make(map[Stage]Answers),
		CurrentStage: StageRequired,
		Status:       StatusSelected,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// HasCompleted reports whether the stage has been accepted (answered or skipped).
func (r *SolutionRecord) HasCompleted(stage Stage) bool {
	for _, s := range r.CompletedStages {
		if s == stage {
			return true
		}
	}
	return false
}

// LastCompletedStage returns the most recently accepted stage.
func (r *SolutionRecord) LastCompletedStage() (Stage, bool) {
	if len(r.CompletedStages) == 0 {
		return "", false
	}
	return r.CompletedStages[len(r.CompletedStages)-1], true
}

// AttemptsForGeneration returns the attempts recorded for one generation run.
func (r *SolutionRecord) AttemptsForGeneration(generation int) []ValidationAttempt {
	var out []ValidationAttempt
	for _, a := range r.ValidationAttempts {
		if a.Generation == generation {
			out = append(out, a)
		}
	}
	return out
}

// ResourceKinds returns the kinds of the record's resources in order.
func (r *SolutionRecord) ResourceKinds() []string {
	kinds := make([]string, 0, len(r.Resources))
	for _, res := range r.Resources {
		kinds = append(kinds, res.Kind)
	}
	return kinds
}

// Clone returns a deep copy of the record.
func (r *SolutionRecord) Clone() *SolutionRecord {
	if r == nil {
		return nil
	}
	out := *r

	out.Resources = make([]ResourceRef, len(r.Resources))
	copy(out.Resources, r.Resources)

	out.StageAnswers = make(map[Stage]Answers, len(r.StageAnswers))
	for stage, answers := range r.StageAnswers {
		out.StageAnswers[stage] = answers.Clone()
	}

	if r.CompletedStages != nil {
		out.CompletedStages = make([]Stage, len(r.CompletedStages))
		copy(out.CompletedStages, r.CompletedStages)
	}

	if r.ValidationAttempts != nil {
		out.ValidationAttempts = make([]ValidationAttempt, len(r.ValidationAttempts))
		copy(out.ValidationAttempts, r.ValidationAttempts)
	}

	if r.GeneratingSince != nil {
		t := *r.GeneratingSince
		out.GeneratingSince = &t
	}

	if r.Deployment != nil {
		d := *r.Deployment
		if r.Deployment.ResourceStatuses != nil {
			d.ResourceStatuses = make([]ResourceStatus, len(r.Deployment.ResourceStatuses))
			copy(d.ResourceStatuses, r.Deployment.ResourceStatuses)
		}
		out.Deployment = &d
	}

	return &out
}

// SolutionFilter narrows a List call.
type SolutionFilter struct {
	Status Status `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}
