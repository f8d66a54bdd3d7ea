// Package klerrors provides the structured error taxonomy of spec.md §7.
// Error preserves message and causal context while still implementing the
// standard error interface, so failures raised deep inside agent-issued code
// keep their causal chain reachable via errors.Unwrap. Each link of a foreign
// cause is copied into an *Error carrying its message; the original error
// values themselves are not kept in the chain.
package klerrors

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy from spec.md §7.
type Kind string

const (
	// KindEvalRuntimeError is raised when sandboxed code throws. Visible to
	// the agent only, as a retryable tool error.
	KindEvalRuntimeError Kind = "eval_runtime_error"
	// KindValidationError is raised when set_result fails schema or
	// caller-supplied validation. Visible to the agent only, retryable.
	KindValidationError Kind = "validation_error"
	// KindBailError is raised when the agent invokes bail. Rejects the
	// completion promise; visible to the caller.
	KindBailError Kind = "bail_error"
	// KindAgentExitWithoutCompletion is raised when the agent stream ends
	// without a successful set_result or bail.
	KindAgentExitWithoutCompletion Kind = "agent_exit_without_completion"
	// KindCancellationError is raised when the caller's cancellation handle
	// fires before completion.
	KindCancellationError Kind = "cancellation_error"
	// KindCacheRequiredButMissing is raised in force-use cache mode when no
	// cached transcript exists; rejects before any agent work.
	KindCacheRequiredButMissing Kind = "cache_required_but_missing"
	// KindReplayMismatch is internal: a recorded Ok tool call became an Err
	// during replay. It triggers silent fallback to live execution and is
	// not normally surfaced to the caller.
	KindReplayMismatch Kind = "replay_mismatch"
)

// Error is klendathu's structured error type. Cause links to an underlying
// Error, enabling chains that satisfy errors.Is/As while staying
// JSON-serialization friendly (Message/Kind are plain strings).
type Error struct {
	Kind    Kind
	Message string
	Cause   *Error
}

// New constructs an Error of the given kind with the provided message.
func New(kind Kind, message string) *Error {
	if message == "" {
		message = string(kind)
	}
	return &Error{Kind: kind, Message: message}
}

// Errorf formats according to a format specifier and returns an Error of the
// given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// NewWithCause constructs an Error that wraps an underlying error. The cause
// is converted into an Error chain so it survives round trips through
// anything that only understands the standard error interface.
func NewWithCause(kind Kind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into an Error chain, defaulting to
// KindEvalRuntimeError when the error carries no klendathu-specific kind.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindEvalRuntimeError, Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap returns the underlying Error, supporting errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an Error carrying the same Kind, allowing
// errors.Is(err, klerrors.New(klerrors.KindBailError, "")) style checks.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return e.Kind == t.Kind
}
