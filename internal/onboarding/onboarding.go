// Package onboarding is the forward-only stage machine. Every function is
// pure: it takes a state, returns a new state with the transition applied
// and Version bumped, and never mutates its input.
package onboarding

import (
	"fmt"
	"time"

	"diligence-engine/internal/models"
)

// New returns the initial state of a subject that has never been seen.
func New(subjectID string, now time.Time) *models.OnboardingState {
	stages := make(map[models.Stage]models.SubStage, len(models.Stages))
	for _, st := range models.Stages {
		stages[st] = models.SubStageNotStarted
	}
	return &models.OnboardingState{
		SubjectID:        subjectID,
		Stage:            models.StageRegistration,
		SubStage:         models.SubStageNotStarted,
		LastTransitionAt: now,
		RejectionReasons: []string{},
		Stages:           stages,
		History:          []models.Transition{},
	}
}

// Index returns the position of stage in the fixed order, or -1.
func Index(stage models.Stage) int {
	for i, st := range models.Stages {
		if st == stage {
			return i
		}
	}
	return -1
}

// Next returns the stage after stage. done is its own successor.
func Next(stage models.Stage) models.Stage {
	switch stage {
	case models.StageRegistration:
		return models.StageIdentityVerification
	case models.StageIdentityVerification:
		return models.StageBusinessVerification
	case models.StageBusinessVerification:
		return models.StagePitch
	case models.StagePitch, models.StageDone:
		return models.StageDone
	default:
		return models.StageDone
	}
}

// IsOptional reports whether a stage may be skipped.
func IsOptional(stage models.Stage) bool {
	switch stage {
	case models.StageBusinessVerification:
		return true
	case models.StageRegistration, models.StageIdentityVerification, models.StagePitch, models.StageDone:
		return false
	default:
		return false
	}
}

// Start enters the current stage, or retries it after a rejection.
func Start(s *models.OnboardingState, stage models.Stage, now time.Time) (*models.OnboardingState, error) {
	if err := requireCurrent(s, stage, "start"); err != nil {
		return nil, err
	}
	switch s.SubStage {
	case models.SubStageNotStarted, models.SubStageRejected:
		next := apply(s, stage, models.SubStageInProgress, nil, now)
		next.RejectionReasons = []string{}
		return next, nil
	case models.SubStageInProgress, models.SubStageSubmitted, models.SubStageApproved, models.SubStageSkipped:
		return nil, illegal(s, "start", stage)
	default:
		return nil, illegal(s, "start", stage)
	}
}

// Submit marks the current stage's work as handed in for review.
func Submit(s *models.OnboardingState, stage models.Stage, now time.Time) (*models.OnboardingState, error) {
	if err := requireCurrent(s, stage, "submit"); err != nil {
		return nil, err
	}
	switch s.SubStage {
	case models.SubStageInProgress:
		return apply(s, stage, models.SubStageSubmitted, nil, now), nil
	case models.SubStageNotStarted, models.SubStageSubmitted, models.SubStageApproved, models.SubStageRejected, models.SubStageSkipped:
		return nil, illegal(s, "submit", stage)
	default:
		return nil, illegal(s, "submit", stage)
	}
}

// Approve accepts the current stage and moves the pointer forward. Approving
// pitch makes the state terminal.
func Approve(s *models.OnboardingState, stage models.Stage, now time.Time) (*models.OnboardingState, error) {
	if err := requireCurrent(s, stage, "approve"); err != nil {
		return nil, err
	}
	switch s.SubStage {
	case models.SubStageInProgress, models.SubStageSubmitted:
		return advance(apply(s, stage, models.SubStageApproved, nil, now)), nil
	case models.SubStageNotStarted, models.SubStageApproved, models.SubStageRejected, models.SubStageSkipped:
		return nil, illegal(s, "approve", stage)
	default:
		return nil, illegal(s, "approve", stage)
	}
}

// Reject refuses the current stage. The pointer stays so the subject can
// Start the same stage again.
func Reject(s *models.OnboardingState, stage models.Stage, reasons []string, now time.Time) (*models.OnboardingState, error) {
	if err := requireCurrent(s, stage, "reject"); err != nil {
		return nil, err
	}
	switch s.SubStage {
	case models.SubStageInProgress, models.SubStageSubmitted:
		next := apply(s, stage, models.SubStageRejected, reasons, now)
		next.RejectionReasons = append([]string{}, reasons...)
		return next, nil
	case models.SubStageNotStarted, models.SubStageApproved, models.SubStageRejected, models.SubStageSkipped:
		return nil, illegal(s, "reject", stage)
	default:
		return nil, illegal(s, "reject", stage)
	}
}

// Skip passes over an optional stage that has not been submitted.
func Skip(s *models.OnboardingState, stage models.Stage, now time.Time) (*models.OnboardingState, error) {
	if err := requireCurrent(s, stage, "skip"); err != nil {
		return nil, err
	}
	if !IsOptional(stage) {
		return nil, &models.GateError{
			Kind:      models.ErrOutOfOrderTransition,
			SubjectID: s.SubjectID,
			Stage:     s.Stage,
			SubStage:  s.SubStage,
			Message:   fmt.Sprintf("stage %s is not optional", stage),
		}
	}
	switch s.SubStage {
	case models.SubStageNotStarted, models.SubStageInProgress:
		return advance(apply(s, stage, models.SubStageSkipped, nil, now)), nil
	case models.SubStageSubmitted, models.SubStageApproved, models.SubStageRejected, models.SubStageSkipped:
		return nil, illegal(s, "skip", stage)
	default:
		return nil, illegal(s, "skip", stage)
	}
}

// Decide applies an admin or vendor decision.
func Decide(s *models.OnboardingState, stage models.Stage, decision models.Decision, reasons []string, now time.Time) (*models.OnboardingState, error) {
	switch decision {
	case models.DecisionApprove:
		return Approve(s, stage, now)
	case models.DecisionReject:
		return Reject(s, stage, reasons, now)
	case models.DecisionSkip:
		return Skip(s, stage, now)
	default:
		return nil, fmt.Errorf("unknown onboarding decision %q", decision)
	}
}

func requireCurrent(s *models.OnboardingState, stage models.Stage, op string) error {
	if Index(stage) < 0 {
		return fmt.Errorf("unknown onboarding stage %q", stage)
	}
	if s.Stage == models.StageDone {
		return &models.GateError{
			Kind:      models.ErrOutOfOrderTransition,
			SubjectID: s.SubjectID,
			Stage:     s.Stage,
			SubStage:  s.SubStage,
			Message:   fmt.Sprintf("cannot %s %s: onboarding is complete", op, stage),
		}
	}
	if stage == s.Stage {
		return nil
	}
	where := "behind"
	if Index(stage) > Index(s.Stage) {
		where = "ahead of"
	}
	return &models.GateError{
		Kind:      models.ErrOutOfOrderTransition,
		SubjectID: s.SubjectID,
		Stage:     s.Stage,
		SubStage:  s.SubStage,
		Message:   fmt.Sprintf("cannot %s %s: it is %s current stage %s", op, stage, where, s.Stage),
	}
}

func illegal(s *models.OnboardingState, op string, stage models.Stage) error {
	return &models.GateError{
		Kind:      models.ErrOutOfOrderTransition,
		SubjectID: s.SubjectID,
		Stage:     s.Stage,
		SubStage:  s.SubStage,
		Message:   fmt.Sprintf("cannot %s %s from %s", op, stage, s.SubStage),
	}
}

func apply(s *models.OnboardingState, stage models.Stage, to models.SubStage, reasons []string, now time.Time) *models.OnboardingState {
	next := s.Clone()
	if next.Stages == nil {
		next.Stages = make(map[models.Stage]models.SubStage, len(models.Stages))
	}
	next.History = append(next.History, models.Transition{
		Stage:   stage,
		From:    s.SubStage,
		To:      to,
		At:      now,
		Reasons: append([]string(nil), reasons...),
	})
	next.SubStage = to
	next.Stages[stage] = to
	next.LastTransitionAt = now
	next.Version = s.Version + 1
	return next
}

// advance moves the pointer past the stage that just closed.
func advance(s *models.OnboardingState) *models.OnboardingState {
	s.Stage = Next(s.Stage)
	if s.Stage == models.StageDone {
		s.SubStage = models.SubStageApproved
	} else {
		s.SubStage = models.SubStageNotStarted
	}
	s.Stages[s.Stage] = s.SubStage
	s.RejectionReasons = []string{}
	return s
}
