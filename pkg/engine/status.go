package engine

import (
	"encoding/json"
	"fmt"
)

// Stage is one of the four ordered configuration phases of a solution.
type Stage string

const (
	// StageRequired collects answers the solution cannot be generated without.
	StageRequired Stage = "required"

	// StageBasic collects common, optional settings.
	StageBasic Stage = "basic"

	// StageAdvanced collects rarely changed, optional settings.
	StageAdvanced Stage = "advanced"

	// StageOpen collects a single free-text answer and is the final stage.
	StageOpen Stage = "open"
)

// stageOrder is the fixed progression order.
var stageOrder = []Stage{StageRequired, StageBasic, StageAdvanced, StageOpen}

// Stages returns all stages in progression order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Index returns the position of the stage in the progression order, or -1.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows s in the fixed order.
// The second return value is false for StageOpen and for unknown stages.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i == len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[i+1], true
}

// Validate checks if the stage is valid.
func (s Stage) Validate() error {
	if s.Index() < 0 {
		return fmt.Errorf("invalid stage: %q", string(s))
	}
	return nil
}

// ParseStage converts a string into a Stage.
func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if err := s.Validate(); err != nil {
		return "", err
	}
	return s, nil
}

// Status represents the lifecycle status of a solution record.
type Status string

const (
	// StatusSelected indicates the solution was chosen but no answers were accepted yet.
	StatusSelected Status = "selected"

	// StatusConfiguring indicates at least one stage has been answered.
	StatusConfiguring Status = "configuring"

	// StatusReadyForGeneration indicates the open stage was completed.
	StatusReadyForGeneration Status = "ready_for_generation"

	// StatusGenerating indicates the manifest generation loop is running.
	StatusGenerating Status = "generating"

	// StatusGenerated indicates a manifest passed validation.
	StatusGenerated Status = "generated"

	// StatusGenerationFailed indicates the attempt budget was exhausted or the validator was unreachable.
	StatusGenerationFailed Status = "generation_failed"

	// StatusDeployed indicates the validated manifest was applied.
	StatusDeployed Status = "deployed"

	// StatusDeployFailed indicates applying the validated manifest failed.
	StatusDeployFailed Status = "deploy_failed"
)

// AcceptsAnswers returns true if answerQuestion calls are allowed in this status.
func (s Status) AcceptsAnswers() bool {
	return s == StatusSelected || s == StatusConfiguring
}

// CanGenerate returns true if a fresh generation run may start from this status.
func (s Status) CanGenerate() bool {
	return s == StatusReadyForGeneration || s == StatusGenerationFailed
}

// CanDeploy returns true if the stored manifest may be handed to a deployer.
func (s Status) CanDeploy() bool {
	return s == StatusGenerated || s == StatusDeployFailed || s == StatusDeployed
}

// AllowsManifestWrites returns true if manifestText and validationAttempts may change in this status.
func (s Status) AllowsManifestWrites() bool {
	return s == StatusGenerating || s == StatusGenerated || s == StatusGenerationFailed
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusSelected, StatusConfiguring, StatusReadyForGeneration,
		StatusGenerating, StatusGenerated, StatusGenerationFailed,
		StatusDeployed, StatusDeployFailed:
		return nil
	default:
		return fmt.Errorf("invalid solution status: %q", string(s))
	}
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Status(str)
	return s.Validate()
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *Stage) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Stage(str)
	return s.Validate()
}

// AttemptOutcome classifies a single generation attempt.
type AttemptOutcome string

const (
	// OutcomeValid means the validator accepted the manifest.
	OutcomeValid AttemptOutcome = "valid"

	// OutcomeInvalid means the validator rejected the manifest content.
	OutcomeInvalid AttemptOutcome = "invalid"

	// OutcomeValidatorError means the validator itself failed (e.g. cluster unreachable).
	OutcomeValidatorError AttemptOutcome = "validator_error"

	// OutcomeSynthesisError means the synthesizer failed to produce a manifest.
	OutcomeSynthesisError AttemptOutcome = "synthesis_error"
)

// Validate checks if the outcome is valid.
func (o AttemptOutcome) Validate() error {
	switch o {
	case OutcomeValid, OutcomeInvalid, OutcomeValidatorError, OutcomeSynthesisError:
		return nil
	default:
		return fmt.Errorf("invalid attempt outcome: %q", string(o))
	}
}
