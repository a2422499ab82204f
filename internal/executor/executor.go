// Package executor defines how the HTTP layer asks for code to be run.
//
// TWO EXECUTION STRATEGIES:
//   - Interactive (package interactive): runs the program in-process against a
//     capability allow-list. Supports input() relayed from POST /input.
//   - Batch (package docker): runs `python -c` in a throwaway container with a
//     hard timeout. Stronger containment, but stdin cannot be fed mid-run.
//
// They are separate endpoints (/execute and /run) rather than one merged path.
package executor

import (
	"context"
	"time"
)

// DefaultSessionID is used when a request carries no X-Session-ID header.
const DefaultSessionID = "default"

// ExecutionRequest is one submitted program.
type ExecutionRequest struct {
	Code      string `json:"code"`
	SessionID string `json:"-"` // from the X-Session-ID header
}

// State is where an execution is in its lifecycle.
//
//	Idle → Running → {Completed, Faulted, TimedOut} → Cleaned
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFaulted
	StateTimedOut
	StateCleaned
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFaulted:
		return "faulted"
	case StateTimedOut:
		return "timed_out"
	case StateCleaned:
		return "cleaned"
	default:
		return "unknown"
	}
}

// ExecutionResult is the response body of POST /execute.
//
// A nil pointer serialises as JSON null, which is how "absent" is expressed:
//   - Completed: Output is stdout (or "No output"), Error is stderr or null.
//   - Faulted / TimedOut: Output is null, Error describes the fault.
type ExecutionResult struct {
	Output *string `json:"output"`
	Error  *string `json:"error"`

	ID       string        `json:"-"`
	State    State         `json:"-"`
	Duration time.Duration `json:"-"`
}

// Executor runs one program to a terminal state. Faults in the submitted
// code are reported inside the result; a non-nil error means the executor
// itself could not do its job.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// Interactive is an Executor whose running programs can receive input from a
// separate request carrying the same session ID.
type Interactive interface {
	Executor
	// SupplyInput hands value to the execution waiting under sessionID.
	// Returns relay.ErrNoActiveSession, without blocking, if there is none.
	SupplyInput(sessionID, value string) error
}

// RunResult is the outcome of a batch run: stdout and stderr combined.
type RunResult struct {
	Output   string        `json:"output"`
	ExitCode int           `json:"exitCode"`
	TimedOut bool          `json:"timedOut"`
	Duration time.Duration `json:"duration"`
}

// Runner executes a program as a separate short-lived process.
type Runner interface {
	Run(ctx context.Context, code string) (*RunResult, error)
}

// StringPtr is a helper for building results.
func StringPtr(s string) *string { return &s }
