package engine

import (
	"context"
	"fmt"
	"time"

	"diligence-engine/internal/analysis/normalize"
	"diligence-engine/internal/common/events"
	"diligence-engine/internal/common/validation"
	"diligence-engine/internal/models"
	"diligence-engine/internal/onboarding"
)

// VendorOutcome is what a vendor callback produced.
type VendorOutcome struct {
	Result *models.AnalysisResult  `json:"result"`
	State  *models.OnboardingState `json:"state"`
}

// HandleVendorDecision records a KYC/KYB vendor verdict as a normalized
// result and applies it to the onboarding state. A pending verdict is
// stored without a transition.
func (e *Engine) HandleVendorDecision(ctx context.Context, d models.VendorDecision) (*VendorOutcome, error) {
	if d.Reasons == nil {
		d.Reasons = []string{}
	}
	if err := validation.VendorDecision.ValidateGo(d).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidSubmission, err)
	}
	kind := models.RequestIdentityVendor
	if d.Stage == models.StageBusinessVerification {
		kind = models.RequestBusinessVendor
	}

	now := e.now().UTC()
	apply := vendorTransition(d, now)

	// Refuse an inapplicable verdict before anything is written.
	cur, err := e.loadState(ctx, d.SubjectID)
	if err != nil {
		return nil, err
	}
	if _, err := apply(cur); err != nil {
		return nil, err
	}

	req := &models.AnalysisRequest{
		ID:          e.newID(),
		SubjectID:   d.SubjectID,
		RequestedAt: now,
		Kind:        kind,
	}
	if err := e.store.PutRequest(ctx, req); err != nil {
		return nil, err
	}

	res := normalize.Normalize(vendorRaw(d), models.ProviderVendor, now)
	res.ID = e.newID()
	res.RequestID = req.ID
	res.SubjectID = d.SubjectID
	if err := e.store.PutResult(ctx, res); err != nil {
		return nil, err
	}

	st, err := e.updateState(ctx, d.SubjectID, apply)
	if err != nil {
		return nil, err
	}
	if d.Decision == models.VerdictRejected {
		e.recordRejection(ctx, d.SubjectID, d.Stage, now)
	}

	e.publish(ctx, events.TypeVendorDecision, d.SubjectID, map[string]interface{}{
		"stage":     d.Stage,
		"decision":  d.Decision,
		"resultId":  res.ID,
		"riskScore": res.RiskScore,
		"reasons":   d.Reasons,
	})
	e.log.Info("Vendor decision applied", map[string]interface{}{
		"subjectId": d.SubjectID,
		"stage":     d.Stage,
		"decision":  d.Decision,
		"riskScore": res.RiskScore,
	})
	return &VendorOutcome{Result: res, State: st}, nil
}

// vendorTransition starts a not_started stage on the vendor's behalf before
// approving or rejecting it.
func vendorTransition(d models.VendorDecision, now time.Time) transition {
	return func(cur *models.OnboardingState) (*models.OnboardingState, error) {
		if d.Decision == models.VerdictPending {
			return nil, nil
		}
		st := cur
		if cur.Stage == d.Stage && cur.SubStage == models.SubStageNotStarted {
			started, err := onboarding.Start(cur, d.Stage, now)
			if err != nil {
				return nil, err
			}
			st = started
		}
		switch d.Decision {
		case models.VerdictApproved:
			return onboarding.Approve(st, d.Stage, now)
		case models.VerdictRejected:
			return onboarding.Reject(st, d.Stage, d.Reasons, now)
		case models.VerdictPending:
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: unknown vendor decision %q", models.ErrInvalidSubmission, d.Decision)
		}
	}
}

func vendorRaw(d models.VendorDecision) *models.RawResult {
	raw := &models.RawResult{
		RiskScore:        d.RiskScore,
		ExecutiveSummary: models.String(fmt.Sprintf("Vendor %s decision: %s", d.Stage, d.Decision)),
	}
	for _, reason := range d.Reasons {
		raw.Findings = append(raw.Findings, models.Finding{
			Category: string(d.Stage),
			Finding:  reason,
			Source:   "vendor",
		})
	}
	if d.Decision == models.VerdictRejected {
		raw.Risks = append([]string{}, d.Reasons...)
	}
	return raw
}
