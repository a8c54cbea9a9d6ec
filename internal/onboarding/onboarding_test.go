package onboarding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diligence-engine/internal/models"
)

var t0 = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

// stateAt walks a fresh subject forward until it sits at stage/not_started.
func stateAt(t *testing.T, stage models.Stage) *models.OnboardingState {
	t.Helper()
	s := New("sub-1", t0)
	for s.Stage != stage {
		var err error
		s, err = Start(s, s.Stage, t0)
		require.NoError(t, err)
		s, err = Approve(s, s.Stage, t0)
		require.NoError(t, err)
	}
	return s
}

func requireOutOfOrder(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrOutOfOrderTransition)
	var ge *models.GateError
	assert.ErrorAs(t, err, &ge)
}

func TestNew(t *testing.T) {
	s := New("sub-1", t0)
	assert.Equal(t, models.StageRegistration, s.Stage)
	assert.Equal(t, models.SubStageNotStarted, s.SubStage)
	assert.Len(t, s.Stages, len(models.Stages))
	assert.NotNil(t, s.RejectionReasons)
	assert.NotNil(t, s.History)
	assert.Equal(t, int64(0), s.Version)
}

func TestHappyPath(t *testing.T) {
	s := New("sub-1", t0)
	steps := []func(*models.OnboardingState) (*models.OnboardingState, error){
		func(s *models.OnboardingState) (*models.OnboardingState, error) {
			return Start(s, models.StageRegistration, at(1))
		},
		func(s *models.OnboardingState) (*models.OnboardingState, error) {
			return Approve(s, models.StageRegistration, at(2))
		},
		func(s *models.OnboardingState) (*models.OnboardingState, error) {
			return Start(s, models.StageIdentityVerification, at(3))
		},
		func(s *models.OnboardingState) (*models.OnboardingState, error) {
			return Submit(s, models.StageIdentityVerification, at(4))
		},
		func(s *models.OnboardingState) (*models.OnboardingState, error) {
			return Approve(s, models.StageIdentityVerification, at(5))
		},
		func(s *models.OnboardingState) (*models.OnboardingState, error) {
			return Skip(s, models.StageBusinessVerification, at(6))
		},
		func(s *models.OnboardingState) (*models.OnboardingState, error) {
			return Start(s, models.StagePitch, at(7))
		},
		func(s *models.OnboardingState) (*models.OnboardingState, error) {
			return Submit(s, models.StagePitch, at(8))
		},
		func(s *models.OnboardingState) (*models.OnboardingState, error) {
			return Approve(s, models.StagePitch, at(9))
		},
	}
	for i, step := range steps {
		next, err := step(s)
		require.NoError(t, err, "step %d", i)
		assert.Equal(t, s.Version+1, next.Version)
		s = next
	}

	assert.Equal(t, models.StageDone, s.Stage)
	assert.Equal(t, models.SubStageApproved, s.SubStage)
	assert.Equal(t, models.SubStageSkipped, s.Stages[models.StageBusinessVerification])
	assert.Equal(t, models.SubStageApproved, s.Stages[models.StagePitch])
	assert.Len(t, s.History, len(steps))
	assert.Equal(t, at(9), s.LastTransitionAt)
}

func TestTransitionsDoNotMutateInput(t *testing.T) {
	s := stateAt(t, models.StagePitch)
	snapshot := s.Clone()

	_, err := Start(s, models.StagePitch, at(1))
	require.NoError(t, err)
	assert.Equal(t, snapshot, s)
}

func TestForwardOnly(t *testing.T) {
	s := stateAt(t, models.StagePitch)

	_, err := Start(s, models.StageRegistration, at(1))
	requireOutOfOrder(t, err)
	assert.Contains(t, err.Error(), "behind")

	_, err = Approve(s, models.StageIdentityVerification, at(1))
	requireOutOfOrder(t, err)

	early := New("sub-2", t0)
	_, err = Start(early, models.StagePitch, at(1))
	requireOutOfOrder(t, err)
	assert.Contains(t, err.Error(), "ahead of")
}

func TestPitch_RetryOnReject(t *testing.T) {
	s := stateAt(t, models.StagePitch)
	s, err := Start(s, models.StagePitch, at(1))
	require.NoError(t, err)
	s, err = Submit(s, models.StagePitch, at(2))
	require.NoError(t, err)

	s, err = Reject(s, models.StagePitch, []string{"Whitepaper missing"}, at(3))
	require.NoError(t, err)
	assert.Equal(t, models.StagePitch, s.Stage)
	assert.Equal(t, models.SubStageRejected, s.SubStage)
	assert.Equal(t, []string{"Whitepaper missing"}, s.RejectionReasons)

	retry, err := Start(s, models.StagePitch, at(4))
	require.NoError(t, err)
	assert.Equal(t, models.SubStageInProgress, retry.SubStage)
	assert.Empty(t, retry.RejectionReasons)

	// The retry is consumed: a second Start without a new rejection fails.
	_, err = Start(retry, models.StagePitch, at(5))
	requireOutOfOrder(t, err)
}

func TestPitch_TerminalAfterApproval(t *testing.T) {
	s := stateAt(t, models.StagePitch)
	s, err := Start(s, models.StagePitch, at(1))
	require.NoError(t, err)
	s, err = Approve(s, models.StagePitch, at(2))
	require.NoError(t, err)
	require.Equal(t, models.StageDone, s.Stage)

	for _, op := range []func() error{
		func() error { _, err := Start(s, models.StagePitch, at(3)); return err },
		func() error { _, err := Reject(s, models.StagePitch, nil, at(3)); return err },
		func() error { _, err := Start(s, models.StageDone, at(3)); return err },
	} {
		requireOutOfOrder(t, op())
	}
}

func TestSkip_OnlyOptional(t *testing.T) {
	identity := stateAt(t, models.StageIdentityVerification)
	_, err := Skip(identity, models.StageIdentityVerification, at(1))
	requireOutOfOrder(t, err)
	assert.Contains(t, err.Error(), "not optional")

	business := stateAt(t, models.StageBusinessVerification)
	next, err := Skip(business, models.StageBusinessVerification, at(1))
	require.NoError(t, err)
	assert.Equal(t, models.StagePitch, next.Stage)
	assert.Equal(t, models.SubStageNotStarted, next.SubStage)

	submitted, err := Start(business, models.StageBusinessVerification, at(1))
	require.NoError(t, err)
	submitted, err = Submit(submitted, models.StageBusinessVerification, at(2))
	require.NoError(t, err)
	_, err = Skip(submitted, models.StageBusinessVerification, at(3))
	requireOutOfOrder(t, err)
}

func TestIllegalSubStageMoves(t *testing.T) {
	s := stateAt(t, models.StageIdentityVerification)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"submit before start", func() error { _, err := Submit(s, s.Stage, at(1)); return err }},
		{"approve before start", func() error { _, err := Approve(s, s.Stage, at(1)); return err }},
		{"reject before start", func() error { _, err := Reject(s, s.Stage, nil, at(1)); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireOutOfOrder(t, tt.fn())
		})
	}
}

func TestDecide(t *testing.T) {
	s := stateAt(t, models.StageBusinessVerification)
	started, err := Start(s, s.Stage, at(1))
	require.NoError(t, err)

	approved, err := Decide(started, models.StageBusinessVerification, models.DecisionApprove, nil, at(2))
	require.NoError(t, err)
	assert.Equal(t, models.StagePitch, approved.Stage)

	rejected, err := Decide(started, models.StageBusinessVerification, models.DecisionReject, []string{"registry mismatch"}, at(2))
	require.NoError(t, err)
	assert.Equal(t, models.SubStageRejected, rejected.SubStage)
	assert.Equal(t, []string{"registry mismatch"}, rejected.History[len(rejected.History)-1].Reasons)

	skipped, err := Decide(s, models.StageBusinessVerification, models.DecisionSkip, nil, at(2))
	require.NoError(t, err)
	assert.Equal(t, models.StagePitch, skipped.Stage)

	_, err = Decide(started, models.StageBusinessVerification, models.Decision("escalate"), nil, at(2))
	assert.Error(t, err)
}

func TestUnknownStage(t *testing.T) {
	_, err := Start(New("sub-1", t0), models.Stage("kyc"), at(1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrOutOfOrderTransition)
}

func TestNextAndIndex(t *testing.T) {
	assert.Equal(t, models.StageIdentityVerification, Next(models.StageRegistration))
	assert.Equal(t, models.StageBusinessVerification, Next(models.StageIdentityVerification))
	assert.Equal(t, models.StagePitch, Next(models.StageBusinessVerification))
	assert.Equal(t, models.StageDone, Next(models.StagePitch))
	assert.Equal(t, models.StageDone, Next(models.StageDone))
	assert.Equal(t, 0, Index(models.StageRegistration))
	assert.Equal(t, 4, Index(models.StageDone))
	assert.Equal(t, -1, Index(models.Stage("x")))
}
