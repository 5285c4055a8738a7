package bootstrap

import (
	"errors"
	"fmt"
	"time"

	"github.com/petal-labs/toolmount/observer"
)

var (
	// ErrStrictMode marks a degradation refused because strict mode is on.
	ErrStrictMode = errors.New("bootstrap: strict mode violation")
	// ErrAborted is returned when the root was detached or the context
	// ended mid-attempt.
	ErrAborted = errors.New("bootstrap: attempt aborted")
	// ErrNoToolID is returned for roots without a data-tool-id.
	ErrNoToolID = errors.New("bootstrap: root has no tool id")
)

// Error codes carried by RuntimeError.
const (
	CodeManifestUnavailable = "MANIFEST_UNAVAILABLE"
	CodeTemplateUnavailable = "TEMPLATE_UNAVAILABLE"
	CodeDOMContract         = "DOM_CONTRACT"
	CodeModuleImport        = "MODULE_IMPORT"
	CodeNoLifecycle         = "NO_LIFECYCLE"
	CodeMountFailed         = "MOUNT_FAILED"
	CodeHealingFailed       = "HEALING_FAILED"
	CodeStrictMode          = "STRICT_MODE"
	CodeAborted             = "ABORTED"
)

// RuntimeError is a structured bootstrap failure.
type RuntimeError struct {
	Code    string
	Stage   State
	ToolID  string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.ToolID != "" {
		return fmt.Sprintf("%s: %s [%s at %s]", e.Code, e.Message, e.ToolID, e.Stage)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

func newRuntimeError(code string, stage State, toolID string, cause error) *RuntimeError {
	msg := code
	if cause != nil {
		msg = cause.Error()
	}
	return &RuntimeError{Code: code, Stage: stage, ToolID: toolID, Message: msg, Cause: cause}
}

// ErrorDescriptor is the last error exposed for diagnostics.
type ErrorDescriptor struct {
	ToolID    string            `json:"toolId"`
	AttemptID string            `json:"attemptId"`
	Stage     State             `json:"stage"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Category  observer.Category `json:"category"`
	At        time.Time         `json:"at"`
}
