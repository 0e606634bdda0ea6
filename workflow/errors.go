package workflow

import (
	"errors"
	"fmt"
)

type (
	// ConfigError reports invalid or missing configuration: an unknown node
	// type, a connection referencing an absent node, a missing required
	// executor field, or a trigger event without a workflow ID. Config
	// errors are never retried.
	ConfigError struct {
		// Message is the human-readable summary of the failure.
		Message string
		// Cause links to the underlying error, if any.
		Cause error
	}

	// CycleError reports that the connection graph contains a cycle. It is
	// raised before any executor runs and is never retried.
	CycleError struct {
		// Remaining lists the node identifiers involved in (or downstream
		// of) the cycle, in no particular order.
		Remaining []string
	}

	// NotFoundError reports that a workflow does not exist or is not visible
	// to the caller. Loads deliberately do not distinguish the two cases.
	NotFoundError struct {
		// WorkflowID is the identifier that failed to resolve.
		WorkflowID string
	}

	// NotAuthorizedError reports that the workflow exists but the caller is
	// not its owner. Surfaced by save; loads return NotFoundError instead.
	NotAuthorizedError struct {
		// WorkflowID is the workflow the caller attempted to modify.
		WorkflowID string
	}
)

// Configf builds a ConfigError from a format string.
func Configf(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

// ConfigWrap builds a ConfigError that wraps an underlying error.
func ConfigWrap(message string, cause error) *ConfigError {
	return &ConfigError{Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error to support errors.Is/As.
func (e *ConfigError) Unwrap() error { return e.Cause }

// NonRetriable marks config errors as permanent.
func (e *ConfigError) NonRetriable() bool { return true }

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("workflow graph contains a cycle involving nodes %v", e.Remaining)
}

// NonRetriable marks cycle errors as permanent.
func (e *CycleError) NonRetriable() bool { return true }

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("workflow %q not found", e.WorkflowID)
}

// NonRetriable marks not-found errors as permanent.
func (e *NotFoundError) NonRetriable() bool { return true }

// Error implements the error interface.
func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("workflow %q is not owned by the caller", e.WorkflowID)
}

// NonRetriable marks authorization errors as permanent.
func (e *NotAuthorizedError) NonRetriable() bool { return true }

// nonRetriable is the tagging interface shared by permanent error kinds.
// Any error not implementing it (or returning false) defaults to retriable.
type nonRetriable interface {
	NonRetriable() bool
}

// IsNonRetriable reports whether err (or any error in its chain) is tagged
// as non-retriable. The transport uses this to decide between backoff retry
// and permanent failure.
func IsNonRetriable(err error) bool {
	for err != nil {
		if tagged, ok := err.(nonRetriable); ok && tagged.NonRetriable() {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
