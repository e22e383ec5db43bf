package core

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	err := &Error{
		Category: ErrCategoryExpression,
		Code:     "test_error",
		Message:  "test message",
	}

	if got := err.Error(); got != "test message" {
		t.Errorf("Error() = %q, want %q", got, "test message")
	}
}

func TestError_ErrorWithCause(t *testing.T) {
	err := ErrInvalidExpression.WithCause(errors.New("expected ]"))

	got := err.Error()
	if !strings.Contains(got, "invalid xpath expression") {
		t.Errorf("Error() = %q, should contain message", got)
	}
	if !strings.Contains(got, "expected ]") {
		t.Errorf("Error() = %q, should contain cause", got)
	}
}

func TestError_WithCauseDoesNotModifyOriginal(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	newErr := ErrRepairClient.WithCause(cause)

	if newErr.Cause != cause {
		t.Error("WithCause() did not set cause")
	}
	if ErrRepairClient.Cause != nil {
		t.Error("WithCause() modified original error")
	}
	if !errors.Is(newErr, cause) {
		t.Error("errors.Is() should find the cause")
	}
	if !errors.Is(newErr, ErrRepairClient) {
		t.Error("errors.Is() should match the predefined error by code")
	}
	if errors.Is(newErr, ErrRetriesExhausted) {
		t.Error("errors.Is() matched a different code")
	}
}

func TestError_WithMessage(t *testing.T) {
	newErr := ErrMissingStateData.WithMessage("state login missing")

	if newErr.Message != "state login missing" {
		t.Errorf("Message = %q, want 'state login missing'", newErr.Message)
	}
	if newErr.Code != ErrMissingStateData.Code {
		t.Error("WithMessage() changed code")
	}
	if ErrMissingStateData.Message == "state login missing" {
		t.Error("WithMessage() modified original error")
	}
}

func TestError_WithDetails(t *testing.T) {
	original := &Error{
		Code:    "test",
		Message: "test",
		Details: map[string]interface{}{"existing": "value"},
	}

	newErr := original.WithDetails(map[string]interface{}{
		"stateId":  "login",
		"platform": "ios",
	})

	if newErr.Details["stateId"] != "login" {
		t.Error("WithDetails() did not add new details")
	}
	if newErr.Details["existing"] != "value" {
		t.Error("WithDetails() did not preserve existing details")
	}
	if _, ok := original.Details["stateId"]; ok {
		t.Error("WithDetails() modified original error")
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err      *Error
		category ErrorCategory
		code     string
	}{
		{ErrMalformedXML, ErrCategoryParse, "malformed_xml"},
		{ErrNoDocument, ErrCategoryParse, "no_document"},
		{ErrEmptyExpression, ErrCategoryExpression, "empty_expression"},
		{ErrInvalidExpression, ErrCategoryExpression, "invalid_expression"},
		{ErrRepairClient, ErrCategoryRepairClient, "repair_client_failed"},
		{ErrRetriesExhausted, ErrCategoryRepairClient, "retries_exhausted"},
		{ErrStuckEvaluation, ErrCategoryStuckState, "stuck_evaluation"},
		{ErrSnapshotNotFound, ErrCategorySnapshot, "snapshot_not_found"},
		{ErrMissingStateData, ErrCategorySnapshot, "missing_state_data"},
		{ErrMissingPlatformVersion, ErrCategorySnapshot, "missing_platform_version"},
		{ErrInvalidConfig, ErrCategoryConfig, "invalid_config"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Category != tt.category {
				t.Errorf("Category = %s, want %s", tt.err.Category, tt.category)
			}
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}

func TestErrorCategory_String(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		expected string
	}{
		{ErrCategoryNone, "none"},
		{ErrCategoryParse, "parse"},
		{ErrCategoryExpression, "expression"},
		{ErrCategoryRepairClient, "repair_client"},
		{ErrCategoryStuckState, "stuck_state"},
		{ErrCategorySnapshot, "snapshot"},
		{ErrCategoryConfig, "config"},
		{ErrorCategory(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.expected {
			t.Errorf("ErrorCategory(%d).String() = %q, want %q", tt.category, got, tt.expected)
		}
	}
}

func TestNewError(t *testing.T) {
	err := NewError(ErrCategorySnapshot, "custom_error", "custom message")

	if err.Category != ErrCategorySnapshot {
		t.Errorf("Category = %s, want %s", err.Category, ErrCategorySnapshot)
	}
	if err.Code != "custom_error" {
		t.Errorf("Code = %s, want 'custom_error'", err.Code)
	}
	if err.Message != "custom message" {
		t.Errorf("Message = %s, want 'custom message'", err.Message)
	}
}
