package scheduler

import (
	"time"

	"github.com/ToolGate/ToolGate/internal/tools"
)

// Status is the lifecycle state of a tool call. Transitions are
// monotonic: validating -> scheduled -> executing -> terminal, and the
// terminal states (success, error, cancelled) are never left.
type Status string

const (
	StatusValidating Status = "validating"
	StatusScheduled  Status = "scheduled"
	StatusExecuting  Status = "executing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusCancelled:
		return true
	}
	return false
}

// ErrorKind classifies terminal errors for callers.
type ErrorKind string

const (
	ErrToolNotRegistered  ErrorKind = "tool-not-registered"
	ErrInvalidToolParams  ErrorKind = "invalid-tool-params"
	ErrPolicyViolation    ErrorKind = "policy-violation"
	ErrUnhandledException ErrorKind = "unhandled-exception"
)

// Request is an immutable description of a proposed tool call.
type Request struct {
	CallID     string         `json:"callId"`
	Tool       string         `json:"tool"`
	ServerName string         `json:"serverName,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
}

// Response is the terminal payload of a completed call. ErrorKind and
// Error are set only for error calls. Cancelled calls carry neither:
// cancellation is a status, not a failure.
type Response struct {
	Content    string    `json:"content,omitempty"`
	ErrorKind  ErrorKind `json:"errorType,omitempty"`
	Error      string    `json:"error,omitempty"`
	OutputFile string    `json:"outputFile,omitempty"`
}

// ToolCall is the per-call record: the request plus the status
// discriminant and its status-specific payload. Owned by State; mutate
// only through State.UpdateStatus and State.Patch.
type ToolCall struct {
	Request Request
	Status  Status

	// Invocation is set once Build succeeds; nil for calls that failed
	// validation.
	Invocation tools.Invocation

	// Executing payload, patched live without a status change.
	PID        int
	LiveOutput string

	// Terminal payload.
	Response *Response

	StartedAt   time.Time
	CompletedAt time.Time
}
