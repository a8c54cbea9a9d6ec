// Package errors provides standardized error handling for BPMN workflow integration
// and the HTTP API.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"diligence-engine/internal/models"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Gate and onboarding errors
const (
	ErrCodeCooldownActive        ErrorCode = "COOLDOWN_ACTIVE"
	ErrCodeOutOfOrderTransition  ErrorCode = "OUT_OF_ORDER_TRANSITION"
	ErrCodeStateConflict         ErrorCode = "STATE_CONFLICT"
	ErrCodeInvalidDecision       ErrorCode = "INVALID_DECISION"
	ErrCodeInvalidSubmission     ErrorCode = "INVALID_SUBMISSION"
	ErrCodeSubjectNotFound       ErrorCode = "SUBJECT_NOT_FOUND"
	ErrCodeProviderUnavailable   ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrCodePersistenceFailed     ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeEventPublishFailed    ErrorCode = "EVENT_PUBLISH_FAILED"
	ErrCodeAnalysisTimeout       ErrorCode = "ANALYSIS_TIMEOUT"
	ErrCodeInternal              ErrorCode = "INTERNAL_ERROR"
	ErrCodeParseError            ErrorCode = "PARSE_ERROR"
	ErrCodeExternalServiceFailed ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the domain error the StandardError was built from, if any.
func (e *StandardError) Unwrap() error { return e.cause }

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewCooldownActiveError creates a non-retryable cooldown error. The caller
// may try again after retryAfter.
func NewCooldownActiveError(scope models.CooldownScope, retryAfter time.Duration) *StandardError {
	secs := int64(retryAfter.Round(time.Second) / time.Second)
	return &StandardError{
		Code:      ErrCodeCooldownActive,
		Message:   "Analysis cooldown is active",
		Details:   fmt.Sprintf("scope: %s, retryAfterSeconds: %d", scope, secs),
		Retryable: false,
		Metadata: map[string]interface{}{
			"scope":             string(scope),
			"retryAfterSeconds": secs,
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewOutOfOrderTransitionError creates a non-retryable onboarding error.
func NewOutOfOrderTransitionError(stage models.Stage, subStage models.SubStage, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeOutOfOrderTransition,
		Message:   "Onboarding transition is not allowed from the current state",
		Details:   details,
		Retryable: false,
		Metadata: map[string]interface{}{
			"stage":    string(stage),
			"subStage": string(subStage),
		},
		Timestamp: time.Now().UTC(),
	}
}

// NewStateConflictError creates a retryable optimistic-concurrency error.
func NewStateConflictError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStateConflict,
		Message:   "Onboarding state changed concurrently",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidDecisionError creates a non-retryable input error.
func NewInvalidDecisionError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidDecision,
		Message:   "Invalid onboarding decision",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidSubmissionError creates a non-retryable input error.
func NewInvalidSubmissionError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidSubmission,
		Message:   "Submission failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProviderUnavailableError creates a retryable error for an exhausted cascade.
func NewProviderUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProviderUnavailable,
		Message:   "No analysis provider produced a result",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPersistenceFailedError creates a retryable storage error.
func NewPersistenceFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistenceFailed,
		Message:   "Storage operation failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewEventPublishFailedError creates a retryable event bus error.
func NewEventPublishFailedError(eventType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEventPublishFailed,
		Message:   "Event publish failed",
		Details:   fmt.Sprintf("type: %s, error: %s", eventType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAnalysisTimeoutError creates a retryable timeout error. The pipeline
// keeps running and persists its result; a retry may hit the cooldown.
func NewAnalysisTimeoutError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAnalysisTimeout,
		Message:   "Analysis did not finish before the caller deadline",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewParseError creates a non-retryable input decoding error.
func NewParseError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeParseError,
		Message:   "Failed to parse input",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSubjectNotFoundError creates a non-retryable lookup error.
func NewSubjectNotFoundError(subjectID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSubjectNotFound,
		Message:   "Subject not found",
		Details:   fmt.Sprintf("subjectId: %s", subjectID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalServiceFailed,
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Domain Error Mapping
// ==========================

// FromDomainError maps an engine error onto a StandardError. The original
// error stays reachable through errors.Is and errors.As.
func FromDomainError(err error) *StandardError {
	if err == nil {
		return nil
	}

	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}

	var out *StandardError
	var gateErr *models.GateError
	switch {
	case stderrors.As(err, &gateErr) && stderrors.Is(gateErr.Kind, models.ErrCooldownActive):
		out = NewCooldownActiveError(gateErr.Scope, gateErr.RetryAfter)
	case stderrors.As(err, &gateErr):
		out = NewOutOfOrderTransitionError(gateErr.Stage, gateErr.SubStage, gateErr.Error())
	case stderrors.Is(err, models.ErrCooldownActive):
		out = NewCooldownActiveError("", 0)
	case stderrors.Is(err, models.ErrOutOfOrderTransition):
		out = NewOutOfOrderTransitionError("", "", err.Error())
	case stderrors.Is(err, models.ErrVersionConflict):
		out = NewStateConflictError(err.Error())
	case stderrors.Is(err, models.ErrInvalidSubmission):
		out = NewInvalidSubmissionError(err.Error())
	case stderrors.Is(err, models.ErrProviderUnavailable):
		out = NewProviderUnavailableError(err)
	case stderrors.Is(err, models.ErrPersistence):
		out = NewPersistenceFailedError(err)
	case stderrors.Is(err, models.ErrNotFound):
		out = NewSubjectNotFoundError(err.Error())
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(err, context.Canceled):
		out = NewAnalysisTimeoutError(err)
	default:
		out = NewInternalError(err)
	}
	out.cause = err
	return out
}

// HTTPStatus returns the status code the API answers with for code.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeCooldownActive:
		return http.StatusTooManyRequests
	case ErrCodeOutOfOrderTransition, ErrCodeStateConflict:
		return http.StatusConflict
	case ErrCodeInvalidDecision, ErrCodeInvalidSubmission, ErrCodeParseError:
		return http.StatusBadRequest
	case ErrCodeSubjectNotFound:
		return http.StatusNotFound
	case ErrCodeProviderUnavailable, ErrCodeExternalServiceFailed:
		return http.StatusServiceUnavailable
	case ErrCodeAnalysisTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ==========================
// 5. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes. The BPMN
// model catches these on boundary events, so they are identical.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeCooldownActive:        "COOLDOWN_ACTIVE",
	ErrCodeOutOfOrderTransition:  "OUT_OF_ORDER_TRANSITION",
	ErrCodeStateConflict:         "STATE_CONFLICT",
	ErrCodeInvalidDecision:       "INVALID_DECISION",
	ErrCodeInvalidSubmission:     "INVALID_SUBMISSION",
	ErrCodeSubjectNotFound:       "SUBJECT_NOT_FOUND",
	ErrCodeProviderUnavailable:   "PROVIDER_UNAVAILABLE",
	ErrCodePersistenceFailed:     "PERSISTENCE_FAILED",
	ErrCodeEventPublishFailed:    "EVENT_PUBLISH_FAILED",
	ErrCodeAnalysisTimeout:       "ANALYSIS_TIMEOUT",
	ErrCodeParseError:            "PARSE_ERROR",
	ErrCodeExternalServiceFailed: "EXTERNAL_SERVICE_ERROR",
}

// GetRetryCount returns the recommended retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodePersistenceFailed,
		ErrCodeStateConflict,
		ErrCodeEventPublishFailed,
		ErrCodeExternalServiceFailed:
		return 3 // Retryable technical errors

	case ErrCodeProviderUnavailable,
		ErrCodeAnalysisTimeout:
		return 2

	default:
		return 0 // Business errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code) // Fallback
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	for k, v := range stdErr.Metadata {
		vars[k] = v
	}

	return &BPMNError{
		Code:           bpmnCode,
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 6. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "COOLDOWN") || strings.Contains(codeStr, "TRANSITION") || strings.Contains(codeStr, "STATE"):
		return "GATE"
	case strings.Contains(codeStr, "PROVIDER") || strings.Contains(codeStr, "ANALYSIS"):
		return "ANALYSIS"
	case strings.Contains(codeStr, "PERSISTENCE") || strings.Contains(codeStr, "EVENT"):
		return "INFRASTRUCTURE"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "PARSE") || strings.Contains(codeStr, "NOT_FOUND"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
