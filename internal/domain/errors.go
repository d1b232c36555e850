package domain

import (
	"errors"
	"fmt"
)

// Reason codes shared across the pipeline. Slot-specific codes are built
// with the slot name prefix, e.g. RETRIEVER_LLM_FAILED.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeInProgress         = "IN_PROGRESS"
	CodeIdentityConflict   = "IDENTITY_CONFLICT"
	CodeInvalidStageOutput = "INVALID_STAGE_OUTPUT"
	CodeTurnNotFound       = "TURN_NOT_FOUND"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeOpenRouterTimeout  = "OPENROUTER_TIMEOUT"
)

// StageError is the single failure currency of the pipeline: every stage
// failure carries the stage that raised it, a machine-readable code, and a
// retryable flag so client retry logic is data-driven.
type StageError struct {
	Stage     string
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Stage, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Stage, e.Code, e.Message)
}

func (e *StageError) Unwrap() error { return e.Err }

func NewStageError(stage, code, message string, retryable bool) *StageError {
	return &StageError{Stage: stage, Code: code, Message: message, Retryable: retryable}
}

func WrapStageError(stage, code string, retryable bool, err error) *StageError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &StageError{Stage: stage, Code: code, Message: msg, Retryable: retryable, Err: err}
}

// AsStageError unwraps err to a StageError, or wraps it as a retryable
// internal failure attributed to the given stage.
func AsStageError(stage string, err error) *StageError {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	return WrapStageError(stage, "INTERNAL", true, err)
}
