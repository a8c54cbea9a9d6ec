package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diligence-engine/internal/models"
)

func TestFromDomainError(t *testing.T) {
	cooldown := &models.GateError{
		Kind:       models.ErrCooldownActive,
		SubjectID:  "sub-1",
		Scope:      models.ScopePitch,
		RetryAfter: 90 * time.Minute,
	}
	outOfOrder := &models.GateError{
		Kind:     models.ErrOutOfOrderTransition,
		Stage:    models.StagePitch,
		SubStage: models.SubStageSubmitted,
		Message:  "cannot start pitch from submitted",
	}

	tests := []struct {
		name      string
		err       error
		code      ErrorCode
		retryable bool
	}{
		{"cooldown", cooldown, ErrCodeCooldownActive, false},
		{"wrapped cooldown", fmt.Errorf("analyze: %w", cooldown), ErrCodeCooldownActive, false},
		{"out of order", outOfOrder, ErrCodeOutOfOrderTransition, false},
		{"version conflict", fmt.Errorf("%w: sub-1", models.ErrVersionConflict), ErrCodeStateConflict, true},
		{"invalid submission", fmt.Errorf("%w: team too large", models.ErrInvalidSubmission), ErrCodeInvalidSubmission, false},
		{"provider unavailable", fmt.Errorf("%w: 2 provider(s) failed", models.ErrProviderUnavailable), ErrCodeProviderUnavailable, true},
		{"persistence", models.NewPersistenceError("put result", stderrors.New("disk full")), ErrCodePersistenceFailed, true},
		{"deadline", context.DeadlineExceeded, ErrCodeAnalysisTimeout, true},
		{"unknown", stderrors.New("boom"), ErrCodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromDomainError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	assert.Nil(t, FromDomainError(nil))
}

func TestFromDomainError_CooldownMetadata(t *testing.T) {
	got := FromDomainError(&models.GateError{
		Kind:       models.ErrCooldownActive,
		Scope:      models.ScopeIdentityVerification,
		RetryAfter: 2 * time.Hour,
	})
	assert.Equal(t, int64(7200), got.Metadata["retryAfterSeconds"])
	assert.Equal(t, "identity_verification", got.Metadata["scope"])
	assert.ErrorIs(t, got, models.ErrCooldownActive)
}

func TestFromDomainError_PassesStandardErrorThrough(t *testing.T) {
	orig := NewInvalidDecisionError("decision escalate")
	assert.Same(t, orig, FromDomainError(fmt.Errorf("wrap: %w", orig)))
}

func TestConvertToBPMNError(t *testing.T) {
	bpmn := ConvertToBPMNError(NewCooldownActiveError(models.ScopePitch, time.Hour))
	assert.Equal(t, "COOLDOWN_ACTIVE", bpmn.Code)
	assert.Equal(t, 0, bpmn.Retries)
	assert.Equal(t, int64(3600), bpmn.ErrorVariables["retryAfterSeconds"])

	vars := bpmn.ToErrorVariables()
	assert.Equal(t, "COOLDOWN_ACTIVE", vars["errorCode"])
	assert.Equal(t, false, vars["retryable"])

	retry := ConvertToBPMNError(NewPersistenceFailedError(stderrors.New("timeout")))
	assert.Equal(t, "PERSISTENCE_FAILED", retry.Code)
	assert.Equal(t, 3, retry.Retries)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, HTTPStatus(ErrCodeCooldownActive))
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrCodeOutOfOrderTransition))
	assert.Equal(t, http.StatusServiceUnavailable, HTTPStatus(ErrCodeProviderUnavailable))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(ErrCodePersistenceFailed))
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(ErrCodeInvalidSubmission))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(ErrCodeSubjectNotFound))
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "GATE", GetErrorCategory(ErrCodeCooldownActive))
	assert.Equal(t, "ANALYSIS", GetErrorCategory(ErrCodeProviderUnavailable))
	assert.Equal(t, "INFRASTRUCTURE", GetErrorCategory(ErrCodePersistenceFailed))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeInvalidSubmission))
	assert.True(t, IsRetryableErrorCode(ErrCodeStateConflict))
	assert.False(t, IsRetryableErrorCode(ErrCodeOutOfOrderTransition))
}
