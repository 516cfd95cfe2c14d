// Package tool governs model-requested function calls: method declarations,
// per-method approval preferences, and the invocation lifecycle that carries
// each call from declaration through approval to execution and an immutable
// result.
//
// Lifecycle:
//
//	Declared -> (policy lookup)
//	  AlwaysAllow -> Approved -> Executing -> Succeeded | Failed
//	  AlwaysDeny  -> Denied
//	  AlwaysAsk   -> PendingPrompt -> Approved -> Executing -> Succeeded | Failed
//	                               -> Denied
//
// Arguments are validated against the method schema before the policy
// lookup; a mismatch fails the invocation without asking for approval.
// Invocation IDs are remembered for the lifetime of a Lifecycle, so a
// re-delivered ID returns the original invocation and never executes twice.
package tool

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentcontext/internal/util"
)

// Error codes carried by *Error.
const (
	CodeUnknownMethod   = "UNKNOWN_METHOD"
	CodeValidationError = "VALIDATION_ERROR"
	CodeExecutionError  = "EXECUTION_ERROR"
	CodeDenied          = "DENIED"
)

var (
	// ErrDuplicateMethod is returned when a method name is registered twice.
	ErrDuplicateMethod = errors.New("method already registered")
	// ErrUnknownInvocation is returned for decisions on unknown invocation IDs.
	ErrUnknownInvocation = errors.New("unknown invocation")
	// ErrNotPending is returned when deciding an invocation that is not
	// awaiting a prompt decision.
	ErrNotPending = errors.New("invocation is not pending")
	// ErrBatchIncomplete is returned when results are requested from a batch
	// that still has non-terminal invocations.
	ErrBatchIncomplete = errors.New("batch has non-terminal invocations")
)

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// Error is the failure detail of an invocation result. Methods may return an
// *Error themselves to choose a custom code; any other error is reported as
// EXECUTION_ERROR.
type Error struct {
	Method  string `json:"method"`            // Name of the method that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Method, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Method, e.Message)
}

// NewError creates an Error with the given code.
func NewError(method, message, code string) *Error {
	return &Error{Method: method, Message: message, Code: code}
}

// Status is the lifecycle state of an invocation.
type Status int

const (
	StatusDeclared Status = iota
	StatusPendingPrompt
	StatusApproved
	StatusExecuting
	StatusSucceeded
	StatusFailed
	StatusDenied
)

var statusNames = [...]string{
	StatusDeclared:      "declared",
	StatusPendingPrompt: "pending_prompt",
	StatusApproved:      "approved",
	StatusExecuting:     "executing",
	StatusSucceeded:     "succeeded",
	StatusFailed:        "failed",
	StatusDenied:        "denied",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusDenied
}

// Preference is the standing approval policy of a method.
type Preference int

const (
	AlwaysAsk Preference = iota
	AlwaysAllow
	AlwaysDeny
)

func (p Preference) String() string {
	switch p {
	case AlwaysAllow:
		return "always_allow"
	case AlwaysDeny:
		return "always_deny"
	default:
		return "always_ask"
	}
}

// ParsePreference parses the names produced by Preference.String. Dashes
// and case are ignored.
func ParsePreference(s string) (Preference, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "always_allow", "allow":
		return AlwaysAllow, nil
	case "always_ask", "ask", "":
		return AlwaysAsk, nil
	case "always_deny", "deny":
		return AlwaysDeny, nil
	}
	return AlwaysAsk, fmt.Errorf("unknown tool preference %q", s)
}

// Decision is the outcome of an approval prompt.
type Decision int

const (
	Approved Decision = iota
	Denied
	Deferred
)

func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case Denied:
		return "denied"
	default:
		return "deferred"
	}
}
