package engine

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	recordValidatorOnce sync.Once
	recordValidator     *validator.Validate
)

func structValidator() *validator.Validate {
	recordValidatorOnce.Do(func() {
		recordValidator = validator.New(validator.WithRequiredStructEnabled())
	})
	return recordValidator
}

// ValidateRecord checks the record's field-level constraints.
func ValidateRecord(r *SolutionRecord) error {
	if r == nil {
		return NewPermanentError("record is nil", nil).WithCode(ErrCodeInvariantViolation)
	}
	if err := structValidator().Struct(r); err != nil {
		return NewPermanentError("record failed validation", err).
			WithCode(ErrCodeInvariantViolation).
			WithSolution(r.ID)
	}
	for stage := range r.StageAnswers {
		if err := stage.Validate(); err != nil {
			return NewPermanentError("record has answers for an unknown stage", err).
				WithCode(ErrCodeInvariantViolation).
				WithSolution(r.ID)
		}
	}
	return nil
}

// ValidateQuestions checks a question set returned by a question source.
func ValidateQuestions(questions []Question) error {
	seen := make(map[string]bool, len(questions))
	for i := range questions {
		if err := structValidator().Struct(&questions[i]); err != nil {
			return fmt.Errorf("invalid question %q: %w", questions[i].ID, err)
		}
		if seen[questions[i].ID] {
			return fmt.Errorf("duplicate question id %q", questions[i].ID)
		}
		seen[questions[i].ID] = true
	}
	return nil
}

// CheckMutation verifies that after is a legal successor of before.
// Stores call it inside Update, before anything is written, so a faulty
// mutation fails closed.
func CheckMutation(before, after *SolutionRecord) error {
	violation := func(msg string) error {
		return NewPermanentError(msg, nil).
			WithCode(ErrCodeInvariantViolation).
			WithSolution(before.ID)
	}

	if after == nil {
		return violation("update produced a nil record")
	}
	if after.ID != before.ID {
		return violation("record id cannot change")
	}
	if !after.CreatedAt.Equal(before.CreatedAt) {
		return violation("created_at cannot change")
	}
	if !reflect.DeepEqual(normalizeResources(before.Resources), normalizeResources(after.Resources)) {
		return violation("resources are immutable once set")
	}
	if after.Generation < before.Generation {
		return violation("generation counter cannot decrease")
	}
	if after.CurrentStage.Index() < before.CurrentStage.Index() {
		return violation("current stage cannot move backwards")
	}

	if len(after.ValidationAttempts) < len(before.ValidationAttempts) {
		return violation("validation attempts are append-only")
	}
	for i := range before.ValidationAttempts {
		if !sameAttempt(before.ValidationAttempts[i], after.ValidationAttempts[i]) {
			return violation(fmt.Sprintf("validation attempt %d was rewritten", i))
		}
	}

	appended := len(after.ValidationAttempts) > len(before.ValidationAttempts)
	if (appended || after.ManifestText != before.ManifestText) && !after.Status.AllowsManifestWrites() {
		return violation(fmt.Sprintf("manifest fields cannot be written in status %s", after.Status))
	}

	if after.Status == StatusReadyForGeneration && before.Status != StatusReadyForGeneration &&
		!after.HasCompleted(StageOpen) {
		return violation("only completing the open stage makes a record ready for generation")
	}

	return ValidateRecord(after)
}

func normalizeResources(in []ResourceRef) []ResourceRef {
	if len(in) == 0 {
		return nil
	}
	return in
}

func sameAttempt(a, b ValidationAttempt) bool {
	return a.ID == b.ID &&
		a.Generation == b.Generation &&
		a.AttemptNumber == b.AttemptNumber &&
		a.ManifestText == b.ManifestText &&
		a.Outcome == b.Outcome &&
		a.ErrorDetail == b.ErrorDetail &&
		a.ErrorClass == b.ErrorClass &&
		a.CreatedAt.Equal(b.CreatedAt)
}
