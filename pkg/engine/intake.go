package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// IntakeResult is the outcome of an accepted answer submission.
type IntakeResult struct {
	// Record is the record as persisted by the submission.
	Record *SolutionRecord

	// Transition is the stage decision that was applied.
	Transition Transition

	// Questions are the questions of the record's current stage after the
	// submission. Empty once the record is ready for generation.
	Questions []Question
}

// Intake applies answer batches to solution records.
type Intake struct {
	store     RecordStore
	questions QuestionSource
	logger    zerolog.Logger
	now       Clock
}

// NewIntake creates a new answer intake.
func NewIntake(store RecordStore, questions QuestionSource, logger zerolog.Logger) *Intake {
	return &Intake{
		store:     store,
		questions: questions,
		logger:    logger.With().Str("component", "intake").Logger(),
		now:       time.Now,
	}
}

// SubmitAnswers validates a batch of answers for stage and, when accepted,
// persists them with exactly one store update. A rejected submission leaves
// the record untouched.
func (i *Intake) SubmitAnswers(ctx context.Context, id string, stage Stage, answers Answers) (*IntakeResult, error) {
	snapshot, err := i.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !snapshot.Status.AcceptsAnswers() {
		return nil, &PreconditionError{SolutionID: id, Operation: "answer questions", Status: snapshot.Status}
	}
	if err := stage.Validate(); err != nil {
		return nil, &StageMismatchError{Expected: snapshot.CurrentStage, Received: stage}
	}

	// Resources and intent are immutable, so the question sets fetched from
	// the snapshot stay valid for the update below.
	stageQuestions, err := i.fetch(ctx, snapshot, stage)
	if err != nil {
		return nil, err
	}
	requiredQuestions := stageQuestions
	if stage != StageRequired {
		requiredQuestions = nil
		if snapshot.CurrentStage == StageRequired {
			if requiredQuestions, err = i.fetch(ctx, snapshot, StageRequired); err != nil {
				return nil, err
			}
		}
	}

	var (
		applied    Transition
		normalized Answers
	)
	updated, err := i.store.Update(ctx, id, func(rec *SolutionRecord) error {
		if !rec.Status.AcceptsAnswers() {
			return &PreconditionError{SolutionID: id, Operation: "answer questions", Status: rec.Status}
		}

		t, err := NextStage(TransitionInput{
			Current:   rec.CurrentStage,
			Requested: stage,
			Answers:   answers,
			Mandatory: MandatoryIDs(requiredQuestions),
			Completed: rec.CompletedStages,
		})
		if err != nil {
			return err
		}

		normalized, err = NormalizeAnswers(stageQuestions, answers)
		if err != nil {
			return err
		}

		applyTransition(rec, t, normalized, i.now())
		applied = t
		return nil
	})
	if err != nil {
		i.logger.Debug().
			Err(err).
			Str("solution_id", id).
			Str("stage", string(stage)).
			Str("code", CodeOf(err)).
			Msg("Answer submission rejected")
		return nil, err
	}

	i.logger.Info().
		Str("solution_id", id).
		Str("stage", string(applied.Stage)).
		Str("next_stage", string(applied.Next)).
		Bool("resubmission", applied.Resubmission).
		Bool("ready", applied.Ready).
		Int("answers", len(normalized)).
		Msg("Answers accepted")

	result := &IntakeResult{Record: updated, Transition: applied}
	if applied.Ready {
		return result, nil
	}

	next, err := i.fetch(ctx, updated, updated.CurrentStage)
	if err != nil {
		return nil, fmt.Errorf("answers were saved but loading %s questions failed: %w", updated.CurrentStage, err)
	}
	result.Questions = next
	return result, nil
}

// Questions returns the question set of one stage for a record.
func (i *Intake) Questions(ctx context.Context, rec *SolutionRecord, stage Stage) ([]Question, error) {
	return i.fetch(ctx, rec, stage)
}

func (i *Intake) fetch(ctx context.Context, rec *SolutionRecord, stage Stage) ([]Question, error) {
	qs, err := i.questions.QuestionsFor(ctx, rec.Resources, rec.Intent, stage)
	if err != nil {
		var c classified
		if errors.As(err, &c) {
			return nil, err
		}
		return nil, NewTransientError("question source failed", err).
			WithCode(ErrCodeCollaborator).
			WithSolution(rec.ID).
			WithOperation("questions_for")
	}
	if err := ValidateQuestions(qs); err != nil {
		return nil, NewPermanentError("question source returned an invalid question set", err).
			WithCode(ErrCodeCollaborator).
			WithSolution(rec.ID)
	}
	return qs, nil
}

// applyTransition writes an accepted submission into rec.
func applyTransition(rec *SolutionRecord, t Transition, answers Answers, now time.Time) {
	if rec.StageAnswers == nil {
		rec.StageAnswers = make(map[Stage]Answers)
	}
	for _, s := range t.Skipped {
		rec.StageAnswers[s] = Answers{}
		rec.CompletedStages = append(rec.CompletedStages, s)
	}

	if answers == nil {
		answers = Answers{}
	}
	rec.StageAnswers[t.Stage] = answers.Clone()

	if !t.Resubmission {
		rec.CompletedStages = append(rec.CompletedStages, t.Stage)
		rec.CurrentStage = t.Next
	}

	switch {
	case t.Ready:
		rec.Status = StatusReadyForGeneration
	case rec.Status == StatusSelected:
		rec.Status = StatusConfiguring
	}
	rec.UpdatedAt = now
}
