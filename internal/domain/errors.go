package domain

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("already exists")
)

// FailureKind names the stage at which a submission failed.
type FailureKind string

const (
	FailureUpload            FailureKind = "UPLOAD_FAILURE"
	FailureExtractionCall    FailureKind = "EXTRACTION_CALL_FAILURE"
	FailureParse             FailureKind = "PARSE_FAILURE"
	FailureNoBiomarkers      FailureKind = "NO_BIOMARKERS"
	FailureEmptyValidatedSet FailureKind = "EMPTY_VALIDATED_SET"
	FailureUnknown           FailureKind = "UNKNOWN_FAILURE"
)

// Error codes for failures outside the pipeline
const (
	ErrInvalidInput    = "INVALID_INPUT"
	ErrValidation      = "VALIDATION_ERROR"
	ErrResourceMissing = "NOT_FOUND"
	ErrWrongState      = "INVALID_STATE"
	ErrDatabaseError   = "DATABASE_ERROR"
	ErrInternalServer  = "INTERNAL_SERVER_ERROR"
)

// PipelineError is returned by every failed submission. It carries the
// correlation id of the submission so callers can find its log lines.
type PipelineError struct {
	Kind          FailureKind `json:"code"`
	Message       string      `json:"error"`
	Detail        string      `json:"detail,omitempty"`
	CorrelationID string      `json:"correlationId"`
	StatusCode    int         `json:"status,omitempty"` // Upstream extraction status
	Timestamp     time.Time   `json:"timestamp"`
	Err           error       `json:"-"`
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// HTTPStatus is the status the HTTP layer should answer with. Pipeline
// failures are server-side, so an upstream extraction status is reported in
// the body and never becomes the response status.
func (e *PipelineError) HTTPStatus() int {
	return http.StatusInternalServerError
}

// NewPipelineError creates a PipelineError with timestamp
func NewPipelineError(kind FailureKind, message, correlationID string, err error) *PipelineError {
	return &PipelineError{
		Kind:          kind,
		Message:       message,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
		Err:           err,
	}
}

// AsPipelineError extracts a *PipelineError from err's chain.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// APIError represents a standardized error response outside the pipeline
type APIError struct {
	Code      string    `json:"code"`
	Message   string    `json:"error"`
	Details   string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"correlationId,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAPIError creates a new APIError with timestamp
func NewAPIError(code, message, details, requestID string) *APIError {
	return &APIError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}
