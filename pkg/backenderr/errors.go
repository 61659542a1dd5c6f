package backenderr

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound means the backend no longer has the resource. Callers treat it
	// as "already in the target state" for deletes and as "deleted elsewhere"
	// for reads.
	ErrNotFound = errors.New("resource not found")

	// ErrStoppedByUser is the synthetic error attached to a response when the
	// user cancels a generation. It is not a failure.
	ErrStoppedByUser = errors.New("stopped by user")

	// ErrVersionMismatch means client and backend disagree on the schema
	// version. It short-circuits all retry and rollback logic and must be
	// propagated unchanged to the global handler.
	ErrVersionMismatch = errors.New("client/server version mismatch")
)

// BackendError is a structured error reported by the backend agent. Suggestion,
// when present, carries enough text for a generic renderer to offer a retry
// affordance without per-code UI logic.
type BackendError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

func (e *BackendError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToolError wraps a failure of a named tool so the tool name survives
// propagation.
type ToolError struct {
	Tool  string
	Cause error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Cause)
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

func NewToolError(tool string, cause error) *ToolError {
	return &ToolError{Tool: tool, Cause: cause}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsVersionMismatch(err error) bool {
	return errors.Is(err, ErrVersionMismatch)
}

func IsStoppedByUser(err error) bool {
	return errors.Is(err, ErrStoppedByUser)
}

// AsBackendError unwraps err to a *BackendError if one is in the chain.
func AsBackendError(err error) (*BackendError, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
