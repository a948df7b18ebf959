package kube

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ExecResult represents the result of one kubectl invocation.
type ExecResult struct {
	Stdout string
	Stderr string

	// ExitCode is -1 when the process could not be started or was killed.
	ExitCode int

	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// CommandError represents a failed kubectl invocation.
type CommandError struct {
	// Op is the kubectl operation that failed (e.g. "apply", "dry-run").
	Op string

	// Err is the underlying error
	Err error

	Stderr   string
	ExitCode int

	// IsTemporary indicates the failure is not about the manifest and the
	// call can be retried.
	IsTemporary bool
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return e.Op + ": " + e.Stderr
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure can be retried.
func (e *CommandError) Temporary() bool {
	return e.IsTemporary
}

// Rejected reports whether kubectl ran and refused the request for a
// reason other than the cluster connection. Only a rejection says anything
// about the manifest; a missing binary or a process that never started
// does not.
func (e *CommandError) Rejected() bool {
	return !e.IsTemporary && e.ExitCode > 0
}

// Runner executes a command with the given stdin.
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin string) (*ExecResult, error)
}

// ExecRunner runs commands as local processes.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin string) (*ExecResult, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	result := &ExecResult{StartedAt: time.Now()}
	err := cmd.Run()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.Stdout = strings.TrimSpace(stdoutBuf.String())
	result.Stderr = strings.TrimSpace(stderrBuf.String())
	result.ExitCode = -1
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	return result, err
}

// temporaryMarkers are kubectl stderr fragments that point at the cluster
// connection rather than the manifest.
var temporaryMarkers = []string{
	"unable to connect to the server",
	"connection refused",
	"i/o timeout",
	"tls handshake timeout",
	"the server is currently unable to handle the request",
	"context deadline exceeded",
	"too many requests",
	"etcdserver: request timed out",
}

// classify turns a runner failure into a *CommandError.
func classify(ctx context.Context, op string, result *ExecResult, err error) error {
	ce := &CommandError{Op: op, Err: err, ExitCode: -1}
	if result != nil {
		ce.Stderr = result.Stderr
		ce.ExitCode = result.ExitCode
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		ce.Err = fmt.Errorf("%w: %v", ctx.Err(), err)
		ce.IsTemporary = true
	case errors.Is(err, exec.ErrNotFound):
		ce.ExitCode = -1
	case errors.As(err, &exitErr), ce.ExitCode > 0:
		lower := strings.ToLower(ce.Stderr)
		for _, marker := range temporaryMarkers {
			if strings.Contains(lower, marker) {
				ce.IsTemporary = true
				break
			}
		}
	default:
		// The process did not start or ended without an exit status.
		ce.ExitCode = -1
		ce.IsTemporary = true
	}
	return ce
}
