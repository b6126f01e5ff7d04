// Package errors defines the typed error taxonomy shared by every
// pipeline stage. Stages wrap causes with %w and attach the stage name
// so the orchestrator and the CLI can report failures uniformly.
package errors

import (
	"errors"
	"fmt"
)

// Type classifies a pipeline error.
type Type string

const (
	TypeConfig    Type = "config"    // invalid or inconsistent configuration
	TypeInput     Type = "input"     // missing or unreadable input file
	TypeSchema    Type = "schema"    // input present but malformed
	TypeEmpty     Type = "empty"     // no usable rows after filtering
	TypeCompute   Type = "compute"   // stage computation failed
	TypeIO        Type = "io"        // artifact write failed
	TypeCancelled Type = "cancelled" // context cancelled or deadline exceeded
)

// PipelineError is the error type produced by stages.
type PipelineError struct {
	Type    Type
	Stage   string
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e == nil {
		return "unknown pipeline error"
	}
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Type, e.Stage, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches on error type so callers can use errors.Is with sentinels
// such as NewEmpty("", "").
func (e *PipelineError) Is(target error) bool {
	var pe *PipelineError
	if !errors.As(target, &pe) {
		return false
	}
	return e.Type == pe.Type
}

// WithContext attaches a key/value pair and returns the error for chaining.
func (e *PipelineError) WithContext(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Retryable reports whether a retry could plausibly succeed. Only IO
// errors qualify; everything else is deterministic.
func (e *PipelineError) Retryable() bool {
	return e.Type == TypeIO
}

func newError(t Type, stage, message string, cause error) *PipelineError {
	return &PipelineError{Type: t, Stage: stage, Message: message, Cause: cause}
}

// NewConfig creates a configuration error.
func NewConfig(stage, message string) *PipelineError {
	return newError(TypeConfig, stage, message, nil)
}

// NewInput creates an input error wrapping the underlying cause.
func NewInput(stage, message string, cause error) *PipelineError {
	return newError(TypeInput, stage, message, cause)
}

// NewSchema creates a malformed-input error.
func NewSchema(stage, message string, cause error) *PipelineError {
	return newError(TypeSchema, stage, message, cause)
}

// NewEmpty signals that a stage produced no usable rows.
func NewEmpty(stage, message string) *PipelineError {
	return newError(TypeEmpty, stage, message, nil)
}

// NewCompute creates a computation error wrapping the underlying cause.
func NewCompute(stage, message string, cause error) *PipelineError {
	return newError(TypeCompute, stage, message, cause)
}

// NewIO creates an artifact IO error wrapping the underlying cause.
func NewIO(stage, message string, cause error) *PipelineError {
	return newError(TypeIO, stage, message, cause)
}

// NewCancelled wraps a context cancellation.
func NewCancelled(stage string, cause error) *PipelineError {
	return newError(TypeCancelled, stage, "stage cancelled", cause)
}

// TypeOf returns the pipeline error type of err, or an empty Type when
// err is not a PipelineError.
func TypeOf(err error) Type {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Type
	}
	return ""
}

// IsEmpty reports whether err is an empty-dataset error.
func IsEmpty(err error) bool {
	return TypeOf(err) == TypeEmpty
}
