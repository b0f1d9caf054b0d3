package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while preparing or
// dispatching an execution.
//
// Runtime errors include:
//   - Unknown engine: manifest names an engine no backend provides
//   - Unknown component: a step resolves to nothing in the engine's
//     capability set
//   - Missing upstream: a downstream layer has no successful upstream
//     execution to build on
//   - Missing source: a curation manifest points at a source file
//     that does not exist
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// ExecutionID identifies the affected execution, when one was
	// already minted.
	ExecutionID string

	// ManifestID identifies the manifest being triggered.
	ManifestID string

	// Step identifies the offending step component, for component errors.
	Step string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownEngine indicates the manifest's engine is not registered.
	ErrCodeUnknownEngine RuntimeErrorCode = "UNKNOWN_ENGINE"

	// ErrCodeUnknownComponent indicates a step has no matching component.
	ErrCodeUnknownComponent RuntimeErrorCode = "UNKNOWN_COMPONENT"

	// ErrCodeMissingUpstream indicates no successful upstream execution exists.
	ErrCodeMissingUpstream RuntimeErrorCode = "MISSING_UPSTREAM"

	// ErrCodeMissingSource indicates the declared source file does not exist.
	ErrCodeMissingSource RuntimeErrorCode = "MISSING_SOURCE"

	// ErrCodeStepFailed indicates a component step returned a failure.
	ErrCodeStepFailed RuntimeErrorCode = "STEP_FAILED"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.ExecutionID != "" && e.Step != "" {
		return fmt.Sprintf("%s: %s (execution=%s, step=%s)", e.Code, e.Message, e.ExecutionID, e.Step)
	}
	if e.ExecutionID != "" {
		return fmt.Sprintf("%s: %s (execution=%s)", e.Code, e.Message, e.ExecutionID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsMissingUpstream returns true if the error is a missing-upstream error.
// Uses errors.As to handle wrapped errors.
func IsMissingUpstream(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeMissingUpstream
}

// IsUnknownComponent returns true if the error is an unknown-component error.
// Uses errors.As to handle wrapped errors.
func IsUnknownComponent(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeUnknownComponent
}

// IsUnknownEngine returns true if the error is an unknown-engine error.
// Uses errors.As to handle wrapped errors.
func IsUnknownEngine(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeUnknownEngine
}

// NewMissingUpstreamError creates a RuntimeError for an unsatisfied
// upstream reference.
func NewMissingUpstreamError(executionID, manifestID, upstream string) *RuntimeError {
	return &RuntimeError{
		Code:        ErrCodeMissingUpstream,
		Message:     fmt.Sprintf("no successful execution of upstream %q", upstream),
		ExecutionID: executionID,
		ManifestID:  manifestID,
	}
}

// NewUnknownComponentError creates a RuntimeError for an unresolvable step.
func NewUnknownComponentError(executionID, manifestID, step string) *RuntimeError {
	return &RuntimeError{
		Code:        ErrCodeUnknownComponent,
		Message:     "engine has no component for step",
		ExecutionID: executionID,
		ManifestID:  manifestID,
		Step:        step,
	}
}

// NewUnknownEngineError creates a RuntimeError for an unregistered engine.
func NewUnknownEngineError(manifestID, engine string) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeUnknownEngine,
		Message:    fmt.Sprintf("engine %q is not registered", engine),
		ManifestID: manifestID,
	}
}

// NewMissingSourceError creates a RuntimeError for an absent source file.
func NewMissingSourceError(executionID, manifestID, path string) *RuntimeError {
	return &RuntimeError{
		Code:        ErrCodeMissingSource,
		Message:     fmt.Sprintf("source file %q does not exist", path),
		ExecutionID: executionID,
		ManifestID:  manifestID,
	}
}
