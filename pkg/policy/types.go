package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo indicates an informational message.
	SeverityInfo Severity = "info"
	// SeverityWarning indicates a warning that should be addressed.
	SeverityWarning Severity = "warning"
	// SeverityError indicates an error that blocks the manifest.
	SeverityError Severity = "error"
	// SeverityCritical indicates a critical error that must be fixed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity rejects a manifest.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Rule names a top-level rule a policy package may define.
type Rule string

const (
	// RuleDeny collects blocking violations for one manifest document.
	RuleDeny Rule = "deny"
	// RuleWarn collects non-blocking findings for one manifest document.
	RuleWarn Rule = "warn"
	// RuleQuestions collects extra questions for a solution's resources.
	RuleQuestions Rule = "questions"
)

// Policy represents a single Rego policy.
type Policy struct {
	// Name is the unique identifier for the policy.
	Name string `json:"name" yaml:"name"`

	// Description explains what the policy checks.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity for violations that do not set one.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Builtin marks policies shipped with the binary.
	Builtin bool `json:"builtin" yaml:"-"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty" yaml:"-"`

	// Tags are used for categorizing and filtering policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	LoadedAt time.Time `json:"loaded_at" yaml:"-"`
}

// Violation represents a single finding reported by a policy.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	// Kind, Name and Namespace identify the offending manifest document.
	Kind      string `json:"kind,omitempty"`
	Name      string `json:"name,omitempty"`
	Namespace string `json:"namespace,omitempty"`

	// Field is the document path the finding refers to, when known.
	Field string `json:"field,omitempty"`

	// Index is the position of the document in the manifest bundle.
	Index int `json:"index"`
}

// Result is the aggregated outcome of evaluating a manifest bundle.
type Result struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`
	Warnings   []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the enabled policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	Documents int           `json:"documents"`
	Duration  time.Duration `json:"duration"`
}

// HasBlocking reports whether the result contains a blocking violation.
func (r *Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			return true
		}
	}
	return false
}

// Context carries information about where a manifest is headed.
type Context struct {
	SolutionID  string            `json:"solution_id,omitempty"`
	Environment string            `json:"environment,omitempty"`
	Namespace   string            `json:"namespace,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// DocumentInput is the input document for deny and warn rules.
type DocumentInput struct {
	// Document is one decoded manifest document.
	Document map[string]interface{} `json:"document"`

	// Index is the position of the document in the bundle.
	Index int `json:"index"`

	// Kinds lists the kinds present in the whole bundle.
	Kinds []string `json:"kinds"`

	Context *Context `json:"context,omitempty"`
}

// QuestionInput is the input document for questions rules.
type QuestionInput struct {
	// Resources lists the resource kinds of the solution.
	Resources []ResourceInput `json:"resources"`

	Intent string `json:"intent,omitempty"`
	Stage  string `json:"stage"`

	Context *Context `json:"context,omitempty"`
}

// ResourceInput is the policy view of one solution resource.
type ResourceInput struct {
	Kind       string `json:"kind"`
	APIVersion string `json:"apiVersion"`
	Namespaced bool   `json:"namespaced"`
}
