package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: store unavailable, cluster temporarily unreachable.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassConflict indicates a concurrent modification of the same record.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: stage mismatch, missing answers, unknown solution.
	ErrorClassPermanent ErrorClass = "permanent"
)

// Common error codes.
const (
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeAlreadyExists      = "ALREADY_EXISTS"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeStageMismatch      = "STAGE_MISMATCH"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeIncomplete         = "INCOMPLETE_ANSWERS"
	ErrCodePrecondition       = "PRECONDITION_FAILED"
	ErrCodePersistence        = "PERSISTENCE_ERROR"
	ErrCodeGenerationFailed   = "GENERATION_FAILED"
	ErrCodeInvariantViolation = "INVARIANT_VIOLATION"
	ErrCodeDeployFailed       = "DEPLOY_FAILED"
	ErrCodeCollaborator       = "COLLABORATOR_FAILED"
)

// classified is implemented by every error type in this package.
type classified interface {
	error
	ErrorClass() ErrorClass
	ErrorCode() string
}

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// SolutionID is the solution that caused the error, if applicable.
	SolutionID string `json:"solution_id,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Class, e.Message)
	if e.SolutionID != "" && e.Operation != "" {
		fmt.Fprintf(&b, " (solution=%s, operation=%s)", e.SolutionID, e.Operation)
	} else if e.SolutionID != "" {
		fmt.Fprintf(&b, " (solution=%s)", e.SolutionID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %s", e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// ErrorClass returns the classification of the error.
func (e *EngineError) ErrorClass() ErrorClass { return e.Class }

// ErrorCode returns the programmatic error code.
func (e *EngineError) ErrorCode() string { return e.Code }

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassTransient, Message: message, Err: err}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassThrottled, Message: message, Err: err}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassConflict, Message: message, Err: err, Code: ErrCodeConflict}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassPermanent, Message: message, Err: err}
}

// NewPersistenceError wraps a failure of the durable medium. Callers may retry:
// a failed update never partially commits.
func NewPersistenceError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Code:    ErrCodePersistence,
		Message: message,
		Err:     err,
	}
}

// WithSolution adds solution context to an error.
func (e *EngineError) WithSolution(solutionID string) *EngineError {
	e.SolutionID = solutionID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NotFoundError is returned when a solution id has no record.
type NotFoundError struct {
	SolutionID string `json:"solution_id"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("solution not found: %s", e.SolutionID)
}

// ErrorClass returns the classification of the error.
func (e *NotFoundError) ErrorClass() ErrorClass { return ErrorClassPermanent }

// ErrorCode returns the programmatic error code.
func (e *NotFoundError) ErrorCode() string { return ErrCodeNotFound }

// AlreadyExistsError is returned when a record is created twice for the same id.
type AlreadyExistsError struct {
	SolutionID string `json:"solution_id"`
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("solution already exists: %s", e.SolutionID)
}

// ErrorClass returns the classification of the error.
func (e *AlreadyExistsError) ErrorClass() ErrorClass { return ErrorClassPermanent }

// ErrorCode returns the programmatic error code.
func (e *AlreadyExistsError) ErrorCode() string { return ErrCodeAlreadyExists }

// StageMismatchError is returned when the submitted stage is not the one the record expects.
type StageMismatchError struct {
	Expected Stage `json:"expected"`
	Received Stage `json:"received"`
}

func (e *StageMismatchError) Error() string {
	return fmt.Sprintf("stage mismatch: expected %q, received %q", e.Expected, e.Received)
}

// ErrorClass returns the classification of the error.
func (e *StageMismatchError) ErrorClass() ErrorClass { return ErrorClassPermanent }

// ErrorCode returns the programmatic error code.
func (e *StageMismatchError) ErrorCode() string { return ErrCodeStageMismatch }

// InvalidTransitionError is returned for a stage jump outside the legal transition table.
type InvalidTransitionError struct {
	From Stage `json:"from"`
	To   Stage `json:"to"`
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid stage transition: %s -> %s", e.From, e.To)
}

// ErrorClass returns the classification of the error.
func (e *InvalidTransitionError) ErrorClass() ErrorClass { return ErrorClassPermanent }

// ErrorCode returns the programmatic error code.
func (e *InvalidTransitionError) ErrorCode() string { return ErrCodeInvalidTransition }

// CompletenessError is returned when a stage cannot be completed with the submitted answers.
type CompletenessError struct {
	Stage   Stage    `json:"stage"`
	Missing []string `json:"missing,omitempty"`
	Reason  string   `json:"reason"`
}

func (e *CompletenessError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("stage %s incomplete: %s (missing: %s)", e.Stage, e.Reason, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("stage %s incomplete: %s", e.Stage, e.Reason)
}

// ErrorClass returns the classification of the error.
func (e *CompletenessError) ErrorClass() ErrorClass { return ErrorClassPermanent }

// ErrorCode returns the programmatic error code.
func (e *CompletenessError) ErrorCode() string { return ErrCodeIncomplete }

// AnswerTypeError is returned when an answer's kind does not match its question.
type AnswerTypeError struct {
	QuestionID string       `json:"question_id"`
	Expected   QuestionType `json:"expected"`
	Got        AnswerKind   `json:"got"`
	Reason     string       `json:"reason,omitempty"`
}

func (e *AnswerTypeError) Error() string {
	if e.QuestionID == "" && e.Reason != "" {
		return "invalid answer: " + e.Reason
	}
	if e.Reason != "" {
		return fmt.Sprintf("invalid answer for %s: %s", e.QuestionID, e.Reason)
	}
	return fmt.Sprintf("invalid answer for %s: expected %s, got %s", e.QuestionID, e.Expected, e.Got)
}

// ErrorClass returns the classification of the error.
func (e *AnswerTypeError) ErrorClass() ErrorClass { return ErrorClassPermanent }

// ErrorCode returns the programmatic error code.
func (e *AnswerTypeError) ErrorCode() string { return ErrCodeValidation }

// PreconditionError is returned when an operation is invoked in a status that does not allow it.
type PreconditionError struct {
	SolutionID string `json:"solution_id"`
	Operation  string `json:"operation"`
	Status     Status `json:"status"`
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot %s solution %s in status %s", e.Operation, e.SolutionID, e.Status)
}

// ErrorClass returns the classification of the error.
func (e *PreconditionError) ErrorClass() ErrorClass { return ErrorClassPermanent }

// ErrorCode returns the programmatic error code.
func (e *PreconditionError) ErrorCode() string { return ErrCodePrecondition }

// GenerationFailedError is returned when a generation run ends without a valid manifest.
type GenerationFailedError struct {
	SolutionID      string              `json:"solution_id"`
	LastErrorDetail string              `json:"last_error_detail"`
	Attempts        []ValidationAttempt `json:"attempts"`
	Transient       bool                `json:"transient"`
}

func (e *GenerationFailedError) Error() string {
	return fmt.Sprintf("manifest generation failed for %s after %d attempt(s): %s",
		e.SolutionID, len(e.Attempts), e.LastErrorDetail)
}

// ErrorClass returns the classification of the error.
func (e *GenerationFailedError) ErrorClass() ErrorClass {
	if e.Transient {
		return ErrorClassTransient
	}
	return ErrorClassPermanent
}

// ErrorCode returns the programmatic error code.
func (e *GenerationFailedError) ErrorCode() string { return ErrCodeGenerationFailed }

// ClassOf returns the class of the first classified error in the chain.
// Unclassified errors are treated as permanent.
func ClassOf(err error) ErrorClass {
	var c classified
	if errors.As(err, &c) {
		return c.ErrorClass()
	}
	return ErrorClassPermanent
}

// CodeOf returns the code of the first classified error in the chain.
func CodeOf(err error) string {
	var c classified
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	if err == nil {
		return ""
	}
	return ErrCodeInternal
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	return err != nil && ClassOf(err) == ErrorClassTransient
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	return err != nil && ClassOf(err) == ErrorClassConflict
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	return err != nil && ClassOf(err) == ErrorClassPermanent
}

// IsRetryable returns true if the error can be retried.
// Transient, throttled, and conflict errors are retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch ClassOf(err) {
	case ErrorClassTransient, ErrorClassThrottled, ErrorClassConflict:
		return true
	default:
		return false
	}
}

// IsNotFound returns true if the error reports a missing solution record.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
