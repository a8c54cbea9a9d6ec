package advanceonboarding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"diligence-engine/internal/common/config"
	"diligence-engine/internal/common/errors"
	"diligence-engine/internal/common/logger"
	"diligence-engine/internal/models"
)

// ==========================
// Mock Onboarding
// ==========================

type MockOnboarding struct {
	mock.Mock
}

func (m *MockOnboarding) StartStage(ctx context.Context, subjectID string, stage models.Stage) (*models.OnboardingState, error) {
	args := m.Called(ctx, subjectID, stage)
	return stateOrNil(args)
}

func (m *MockOnboarding) SubmitStage(ctx context.Context, subjectID string, stage models.Stage) (*models.OnboardingState, error) {
	args := m.Called(ctx, subjectID, stage)
	return stateOrNil(args)
}

func (m *MockOnboarding) AdvanceOnboarding(ctx context.Context, subjectID string, stage models.Stage, decision models.Decision, reasons []string) (*models.OnboardingState, error) {
	args := m.Called(ctx, subjectID, stage, decision, reasons)
	return stateOrNil(args)
}

func stateOrNil(args mock.Arguments) (*models.OnboardingState, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OnboardingState), args.Error(1)
}

func createTestHandler(t *testing.T, ob Onboarding) *Handler {
	return NewHandler(ConfigFromWorker(config.WorkerConfig{}), ob, logger.NewTestLogger(t))
}

// ==========================
// Tests
// ==========================

func TestHandler_Execute_DefaultsToDecide(t *testing.T) {
	ob := new(MockOnboarding)
	reasons := []string{"document expired"}
	ob.On("AdvanceOnboarding", mock.Anything, "sub-1", models.StageIdentityVerification, models.DecisionReject, reasons).
		Return(&models.OnboardingState{
			SubjectID:        "sub-1",
			Stage:            models.StageIdentityVerification,
			SubStage:         models.SubStageRejected,
			RejectionReasons: reasons,
			Version:          4,
		}, nil)

	out, err := createTestHandler(t, ob).Execute(context.Background(), &Input{
		SubjectID: "sub-1",
		Stage:     "identity_verification",
		Decision:  "reject",
		Reasons:   reasons,
	})
	require.NoError(t, err)
	assert.Equal(t, "identity_verification", out.Stage)
	assert.Equal(t, "rejected", out.SubStage)
	assert.Equal(t, int64(4), out.Version)
	assert.Equal(t, reasons, out.RejectionReasons)
	assert.False(t, out.Completed)
	ob.AssertExpectations(t)
}

func TestHandler_Execute_StartAndSubmit(t *testing.T) {
	ob := new(MockOnboarding)
	ob.On("StartStage", mock.Anything, "sub-1", models.StageRegistration).
		Return(&models.OnboardingState{Stage: models.StageRegistration, SubStage: models.SubStageInProgress, Version: 1}, nil)
	ob.On("SubmitStage", mock.Anything, "sub-1", models.StageRegistration).
		Return(&models.OnboardingState{Stage: models.StageRegistration, SubStage: models.SubStageSubmitted, Version: 2}, nil)
	h := createTestHandler(t, ob)

	out, err := h.Execute(context.Background(), &Input{SubjectID: "sub-1", Stage: "registration", Action: ActionStart})
	require.NoError(t, err)
	assert.Equal(t, "in_progress", out.SubStage)
	assert.NotNil(t, out.RejectionReasons)

	out, err = h.Execute(context.Background(), &Input{SubjectID: "sub-1", Stage: "registration", Action: ActionSubmit})
	require.NoError(t, err)
	assert.Equal(t, "submitted", out.SubStage)
	ob.AssertExpectations(t)
}

func TestHandler_Execute_PitchApprovalCompletes(t *testing.T) {
	ob := new(MockOnboarding)
	ob.On("AdvanceOnboarding", mock.Anything, "sub-1", models.StagePitch, models.DecisionApprove, []string(nil)).
		Return(&models.OnboardingState{Stage: models.StageDone, SubStage: models.SubStageApproved, Version: 9}, nil)

	out, err := createTestHandler(t, ob).Execute(context.Background(), &Input{
		SubjectID: "sub-1", Stage: "pitch", Decision: "approve",
	})
	require.NoError(t, err)
	assert.True(t, out.Completed)
}

func TestHandler_Execute_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input Input
		code  errors.ErrorCode
	}{
		{"missing subject", Input{Stage: "pitch", Decision: "approve"}, errors.ErrCodeInvalidSubmission},
		{"unknown stage", Input{SubjectID: "sub-1", Stage: "kyc", Decision: "approve"}, errors.ErrCodeInvalidDecision},
		{"unknown decision", Input{SubjectID: "sub-1", Stage: "pitch", Decision: "escalate"}, errors.ErrCodeInvalidDecision},
		{"unknown action", Input{SubjectID: "sub-1", Stage: "pitch", Action: "rewind"}, errors.ErrCodeInvalidDecision},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ob := new(MockOnboarding)
			_, err := createTestHandler(t, ob).Execute(context.Background(), &tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.FromDomainError(err).Code)
			ob.AssertExpectations(t)
		})
	}
}

func TestHandler_Execute_OutOfOrder(t *testing.T) {
	ob := new(MockOnboarding)
	ob.On("StartStage", mock.Anything, "sub-1", models.StagePitch).Return(nil, &models.GateError{
		Kind:      models.ErrOutOfOrderTransition,
		SubjectID: "sub-1",
		Stage:     models.StageRegistration,
		SubStage:  models.SubStageNotStarted,
		Message:   "cannot start pitch: it is ahead of current stage registration",
	})

	_, err := createTestHandler(t, ob).Execute(context.Background(), &Input{SubjectID: "sub-1", Stage: "pitch", Action: ActionStart})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrOutOfOrderTransition)
	assert.Equal(t, errors.ErrCodeOutOfOrderTransition, errors.FromDomainError(err).Code)
}
