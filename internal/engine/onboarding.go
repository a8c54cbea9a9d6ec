package engine

import (
	"context"
	"time"

	"diligence-engine/internal/gate"
	"diligence-engine/internal/models"
	"diligence-engine/internal/onboarding"
)

// StartStage enters the current stage. Restarting a rejected identity or
// business verification is a retry and waits out that stage's cooldown
// window first. A rejected pitch reopens for one retry right away; the
// analysis that follows it is not cooldown gated.
func (e *Engine) StartStage(ctx context.Context, subjectID string, stage models.Stage) (*models.OnboardingState, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	return e.updateState(ctx, subjectID, func(cur *models.OnboardingState) (*models.OnboardingState, error) {
		if cur.Stage == stage && cur.SubStage == models.SubStageRejected && stage != models.StagePitch {
			if scope, ok := gate.ScopeFor(stage); ok {
				if err := e.gate.Check(ctx, subjectID, scope); err != nil {
					return nil, err
				}
			}
		}
		return onboarding.Start(cur, stage, e.now().UTC())
	})
}

func (e *Engine) SubmitStage(ctx context.Context, subjectID string, stage models.Stage) (*models.OnboardingState, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	return e.updateState(ctx, subjectID, func(cur *models.OnboardingState) (*models.OnboardingState, error) {
		return onboarding.Submit(cur, stage, e.now().UTC())
	})
}

// AdvanceOnboarding applies an approve, reject or skip decision. Rejecting
// identity or business verification opens that stage's cooldown window.
func (e *Engine) AdvanceOnboarding(ctx context.Context, subjectID string, stage models.Stage, decision models.Decision, reasons []string) (*models.OnboardingState, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	if reasons == nil {
		reasons = []string{}
	}
	now := e.now().UTC()
	next, err := e.updateState(ctx, subjectID, func(cur *models.OnboardingState) (*models.OnboardingState, error) {
		return onboarding.Decide(cur, stage, decision, reasons, now)
	})
	if err != nil {
		return nil, err
	}
	if decision == models.DecisionReject {
		e.recordRejection(ctx, subjectID, stage, now)
	}
	return next, nil
}

// recordRejection stamps the verification cooldown. Pitch cooldowns are
// stamped by the analysis itself. The transition is already committed, so
// a failed stamp is logged rather than returned.
func (e *Engine) recordRejection(ctx context.Context, subjectID string, stage models.Stage, at time.Time) {
	if stage == models.StagePitch {
		return
	}
	scope, ok := gate.ScopeFor(stage)
	if !ok {
		return
	}
	if err := e.gate.RecordAnalysis(ctx, subjectID, scope, at); err != nil {
		e.log.Error("failed to record rejection cooldown", map[string]interface{}{
			"subjectId": subjectID,
			"scope":     scope,
			"error":     err.Error(),
		})
	}
}
