package engine

import (
	"sort"
	"strings"
)

// OpenAnswerKey is the answer key of the single free-text open-stage answer.
const OpenAnswerKey = "open"

// legalTransitions lists the forward jumps allowed from each stage.
var legalTransitions = map[Stage][]Stage{
	StageRequired: {StageBasic, StageOpen},
	StageBasic:    {StageAdvanced, StageOpen},
	StageAdvanced: {StageOpen},
}

// CanTransition reports whether from -> to is a legal direct transition.
func CanTransition(from, to Stage) bool {
	for _, s := range legalTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionInput is everything NextStage needs to decide a submission.
type TransitionInput struct {
	// Current is the record's current stage.
	Current Stage

	// Requested is the stage the caller submits answers for.
	Requested Stage

	// Answers are the submitted answers for Requested.
	Answers Answers

	// Mandatory are the ids of required-stage questions that need a non-null answer.
	Mandatory []string

	// Completed are the stages accepted so far, in order.
	Completed []Stage
}

// Transition is the decision for an accepted submission.
type Transition struct {
	// Stage is the stage the answers are recorded under.
	Stage Stage

	// Next is the current stage after the submission.
	Next Stage

	// Skipped are stages passed over by a forward jump; they are recorded as
	// explicitly skipped.
	Skipped []Stage

	// Resubmission is true when the answers overwrite an already completed
	// stage without advancing.
	Resubmission bool

	// Ready is true when the open stage was completed.
	Ready bool
}

// NextStage decides whether a submission is legal and where it leads.
// It is pure: it inspects only its input.
//
// Submitting the current stage records the answers and advances. Submitting
// the most recently completed stage overwrites its answers and does not
// advance. Submitting a later stage is a forward jump and must be a legal
// direct transition from the current stage. Anything else is a stage mismatch.
func NextStage(in TransitionInput) (Transition, error) {
	if err := in.Current.Validate(); err != nil {
		return Transition{}, &StageMismatchError{Expected: in.Current, Received: in.Requested}
	}
	if err := in.Requested.Validate(); err != nil {
		return Transition{}, &StageMismatchError{Expected: in.Current, Received: in.Requested}
	}

	switch {
	case in.Requested == in.Current:
		if err := checkComplete(in.Requested, in.Answers, in.Mandatory); err != nil {
			return Transition{}, err
		}
		return advance(in.Requested, nil), nil

	case isLastCompleted(in.Completed, in.Requested):
		if err := checkComplete(in.Requested, in.Answers, in.Mandatory); err != nil {
			return Transition{}, err
		}
		return Transition{Stage: in.Requested, Next: in.Current, Resubmission: true}, nil

	case in.Requested.Index() > in.Current.Index():
		if !CanTransition(in.Current, in.Requested) {
			return Transition{}, &InvalidTransitionError{From: in.Current, To: in.Requested}
		}
		skipped := stagesBetween(in.Current, in.Requested)
		for _, s := range skipped {
			if s == StageRequired && len(in.Mandatory) > 0 {
				missing := append([]string(nil), in.Mandatory...)
				sort.Strings(missing)
				return Transition{}, &CompletenessError{
					Stage:   StageRequired,
					Missing: missing,
					Reason:  "required stage has mandatory questions and cannot be skipped",
				}
			}
		}
		if err := checkComplete(in.Requested, in.Answers, in.Mandatory); err != nil {
			return Transition{}, err
		}
		return advance(in.Requested, skipped), nil

	default:
		return Transition{}, &StageMismatchError{Expected: in.Current, Received: in.Requested}
	}
}

func advance(stage Stage, skipped []Stage) Transition {
	t := Transition{Stage: stage, Skipped: skipped}
	if next, ok := stage.Next(); ok {
		t.Next = next
		return t
	}
	t.Next = StageOpen
	t.Ready = true
	return t
}

// stagesBetween returns the stages from `from` (inclusive) up to `to` (exclusive).
func stagesBetween(from, to Stage) []Stage {
	return append([]Stage(nil), stageOrder[from.Index():to.Index()]...)
}

func isLastCompleted(completed []Stage, stage Stage) bool {
	return len(completed) > 0 && completed[len(completed)-1] == stage
}

// checkComplete enforces the per-stage completeness rules.
func checkComplete(stage Stage, answers Answers, mandatory []string) error {
	switch stage {
	case StageRequired:
		if len(answers) == 0 {
			missing := append([]string(nil), mandatory...)
			sort.Strings(missing)
			return &CompletenessError{Stage: stage, Missing: missing, Reason: "no answers submitted"}
		}
		var missing []string
		for _, id := range mandatory {
			if !answers.Answered(id) {
				missing = append(missing, id)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return &CompletenessError{Stage: stage, Missing: missing, Reason: "mandatory questions need a non-null answer"}
		}
		return nil

	case StageOpen:
		v, ok := answers[OpenAnswerKey]
		if len(answers) != 1 || !ok {
			return &CompletenessError{
				Stage:   stage,
				Missing: []string{OpenAnswerKey},
				Reason:  "open stage takes exactly one answer keyed \"open\"",
			}
		}
		if v == nil || strings.TrimSpace(v.String()) == "" {
			return &CompletenessError{
				Stage:   stage,
				Missing: []string{OpenAnswerKey},
				Reason:  "open answer must not be empty",
			}
		}
		return nil

	default:
		return nil
	}
}
