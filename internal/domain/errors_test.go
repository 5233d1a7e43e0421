package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestPipelineError(t *testing.T) {
	tests := []struct {
		name       string
		kind       FailureKind
		message    string
		detail     string
		statusCode int
		wantStatus int
		wantString string
	}{
		{
			name:       "Upload failure",
			kind:       FailureUpload,
			message:    "failed to store file",
			wantStatus: http.StatusInternalServerError,
			wantString: "UPLOAD_FAILURE: failed to store file",
		},
		{
			name:       "Extraction failure passes upstream status",
			kind:       FailureExtractionCall,
			message:    "extraction call failed",
			detail:     "rate limited",
			statusCode: http.StatusTooManyRequests,
			wantStatus: http.StatusInternalServerError,
			wantString: "EXTRACTION_CALL_FAILURE: extraction call failed: rate limited",
		},
		{
			name:       "Extraction failure without upstream status",
			kind:       FailureExtractionCall,
			message:    "circuit open",
			wantStatus: http.StatusInternalServerError,
			wantString: "EXTRACTION_CALL_FAILURE: circuit open",
		},
		{
			name:       "Empty validated set",
			kind:       FailureEmptyValidatedSet,
			message:    "no valid biomarkers",
			wantStatus: http.StatusInternalServerError,
			wantString: "EMPTY_VALIDATED_SET: no valid biomarkers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewPipelineError(tt.kind, tt.message, "corr-123", nil)
			err.Detail = tt.detail
			err.StatusCode = tt.statusCode

			if err.CorrelationID != "corr-123" {
				t.Errorf("Expected correlation id corr-123, got %s", err.CorrelationID)
			}
			if time.Since(err.Timestamp) > time.Minute {
				t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
			}
			if got := err.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("Expected HTTP status %d, got %d", tt.wantStatus, got)
			}
			if err.Error() != tt.wantString {
				t.Errorf("Expected error string %s, got %s", tt.wantString, err.Error())
			}
		})
	}
}

func TestPipelineErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("insert: %w", ErrConflict)
	err := NewPipelineError(FailureUpload, "failed to store file", "corr-1", cause)

	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected errors.Is to find ErrConflict")
	}

	wrapped := fmt.Errorf("processing: %w", err)
	pe, ok := AsPipelineError(wrapped)
	if !ok {
		t.Fatalf("Expected AsPipelineError to find the pipeline error")
	}
	if pe.Kind != FailureUpload {
		t.Errorf("Expected kind %s, got %s", FailureUpload, pe.Kind)
	}

	if _, ok := AsPipelineError(errors.New("plain")); ok {
		t.Errorf("Expected no pipeline error in a plain error")
	}
}

func TestAPIError(t *testing.T) {
	err := NewAPIError(ErrResourceMissing, "test result not found", "id abc", "req-456")

	if err.Code != "NOT_FOUND" {
		t.Errorf("Expected code NOT_FOUND, got %s", err.Code)
	}
	if err.Error() != "NOT_FOUND: test result not found" {
		t.Errorf("Unexpected error string %s", err.Error())
	}
	if time.Since(err.Timestamp) > time.Minute {
		t.Errorf("Timestamp should be recent, got %v", err.Timestamp)
	}
}

func TestValidationError(t *testing.T) {
	tests := []struct {
		name    string
		field   string
		message string
		value   interface{}
	}{
		{
			name:    "String validation error",
			field:   "userId",
			message: "is required",
			value:   "",
		},
		{
			name:    "Integer validation error",
			field:   "limit",
			message: "Must be positive",
			value:   -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewValidationError(tt.field, tt.message, tt.value)

			if err.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, err.Field)
			}

			if err.Value != tt.value {
				t.Errorf("Expected value %v, got %v", tt.value, err.Value)
			}

			expectedError := "validation error for field '" + tt.field + "': " + tt.message
			if err.Error() != expectedError {
				t.Errorf("Expected error string %s, got %s", expectedError, err.Error())
			}
		})
	}
}

func TestFailureKindValues(t *testing.T) {
	expected := map[FailureKind]string{
		FailureUpload:            "UPLOAD_FAILURE",
		FailureExtractionCall:    "EXTRACTION_CALL_FAILURE",
		FailureParse:             "PARSE_FAILURE",
		FailureNoBiomarkers:      "NO_BIOMARKERS",
		FailureEmptyValidatedSet: "EMPTY_VALIDATED_SET",
		FailureUnknown:           "UNKNOWN_FAILURE",
	}

	for kind, value := range expected {
		if string(kind) != value {
			t.Errorf("Expected %s, got %s", value, kind)
		}
	}
}

func TestPipelineErrorJSONCarriesUpstreamStatus(t *testing.T) {
	err := NewPipelineError(FailureExtractionCall, "AI extraction failed", "corr-9", nil)
	err.StatusCode = http.StatusUnauthorized
	err.Detail = "No auth credentials found"

	data, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		t.Fatalf("marshal: %v", marshalErr)
	}
	var body map[string]any
	if e := json.Unmarshal(data, &body); e != nil {
		t.Fatalf("unmarshal: %v", e)
	}
	if body["status"] != float64(http.StatusUnauthorized) {
		t.Errorf("Expected status 401 in body, got %v", body["status"])
	}
	if err.HTTPStatus() != http.StatusInternalServerError {
		t.Errorf("Expected HTTP status 500, got %d", err.HTTPStatus())
	}

	plain := NewPipelineError(FailureParse, "Failed to parse AI response", "corr-9", nil)
	data, _ = json.Marshal(plain)
	if strings.Contains(string(data), `"status"`) {
		t.Errorf("Expected no status field without an upstream status, got %s", data)
	}
}
