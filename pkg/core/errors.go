package core

import (
	"fmt"
)

// Error represents a structured error with category and details
type Error struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: invalid_expression, retries_exhausted, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by category and code so that copies made with the
// With* helpers still compare equal to the predefined values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Category == t.Category && e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause
func (e *Error) WithCause(cause error) *Error {
	return &Error{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *Error) WithMessage(msg string) *Error {
	return &Error{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &Error{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Parse errors
	ErrMalformedXML = &Error{
		Category: ErrCategoryParse,
		Code:     "malformed_xml",
		Message:  "page source could not be parsed",
	}
	ErrNoDocument = &Error{
		Category: ErrCategoryParse,
		Code:     "no_document",
		Message:  "no page source loaded",
	}

	// Expression errors
	ErrEmptyExpression = &Error{
		Category: ErrCategoryExpression,
		Code:     "empty_expression",
		Message:  "xpath expression is empty",
	}
	ErrInvalidExpression = &Error{
		Category: ErrCategoryExpression,
		Code:     "invalid_expression",
		Message:  "invalid xpath expression",
	}

	// Repair client errors
	ErrRepairClient = &Error{
		Category: ErrCategoryRepairClient,
		Code:     "repair_client_failed",
		Message:  "repair request failed",
	}
	ErrRetriesExhausted = &Error{
		Category: ErrCategoryRepairClient,
		Code:     "retries_exhausted",
		Message:  "repair request failed after all retries",
	}

	// Stuck state
	ErrStuckEvaluation = &Error{
		Category: ErrCategoryStuckState,
		Code:     "stuck_evaluation",
		Message:  "element evaluation did not complete in time",
	}

	// Snapshot errors
	ErrSnapshotNotFound = &Error{
		Category: ErrCategorySnapshot,
		Code:     "snapshot_not_found",
		Message:  "snapshot page not found",
	}
	ErrMissingStateData = &Error{
		Category: ErrCategorySnapshot,
		Code:     "missing_state_data",
		Message:  "state not present in snapshot",
	}
	ErrMissingPlatformVersion = &Error{
		Category: ErrCategorySnapshot,
		Code:     "missing_platform_version",
		Message:  "platform version not present in snapshot state",
	}

	// Config errors
	ErrInvalidConfig = &Error{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
)

// NewError creates a new Error with the given parameters
func NewError(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// ErrorCategory classifies the type of error for logging and reporting
type ErrorCategory int

const (
	ErrCategoryNone         ErrorCategory = iota // No error
	ErrCategoryParse                             // Malformed XML source, no document loaded
	ErrCategoryExpression                        // Malformed or empty XPath
	ErrCategoryRepairClient                      // Repair AI client failures
	ErrCategoryStuckState                        // Evaluation liveness faults
	ErrCategorySnapshot                          // Snapshot store lookups
	ErrCategoryConfig                            // Invalid configuration
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryParse:
		return "parse"
	case ErrCategoryExpression:
		return "expression"
	case ErrCategoryRepairClient:
		return "repair_client"
	case ErrCategoryStuckState:
		return "stuck_state"
	case ErrCategorySnapshot:
		return "snapshot"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}
