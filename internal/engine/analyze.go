package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"diligence-engine/internal/analysis/normalize"
	"diligence-engine/internal/common/events"
	"diligence-engine/internal/common/metrics"
	"diligence-engine/internal/common/validation"
	"diligence-engine/internal/models"
	"diligence-engine/internal/onboarding"
)

type pipelineResult struct {
	res *models.AnalysisResult
	err error
}

// Analyze runs a pitch analysis for a subject whose onboarding sits at the
// pitch stage. On a rejected pitch it is the retry: it restarts the stage
// with the new submission and skips the cooldown, once. The pipeline is detached from ctx: a caller that gives up
// gets ctx.Err() while the result, cooldown and state are still persisted.
func (e *Engine) Analyze(ctx context.Context, subjectID string, sub *models.Submission) (*models.AnalysisResult, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	if err := validateSubmission(sub); err != nil {
		return nil, err
	}

	st, err := e.loadState(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	kind, err := pitchRequestKind(st)
	if err != nil {
		return nil, err
	}
	if !pitchRetryOpen(st) {
		if err := e.gate.Check(ctx, subjectID, models.ScopePitch); err != nil {
			e.log.Info("Analysis refused by cooldown", map[string]interface{}{
				"subjectId": subjectID,
				"error":     err.Error(),
			})
			return nil, err
		}
	}

	req := &models.AnalysisRequest{
		ID:          e.newID(),
		SubjectID:   subjectID,
		Submission:  sub.Clone(),
		RequestedAt: e.now().UTC(),
		Kind:        kind,
	}

	done := make(chan pipelineResult, 1)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		res, err := e.pipeline(context.WithoutCancel(ctx), req)
		done <- pipelineResult{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		e.log.Warn("Caller abandoned analysis, pipeline continues in background", map[string]interface{}{
			"subjectId": subjectID,
			"requestId": req.ID,
		})
		return nil, ctx.Err()
	}
}

func (e *Engine) pipeline(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "engine.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("subject_id", req.SubjectID),
		attribute.String("request_id", req.ID),
		attribute.String("kind", string(req.Kind)),
	)

	if err := e.store.PutRequest(ctx, req); err != nil {
		span.SetStatus(codes.Error, "store request")
		return nil, err
	}

	outcome, err := e.analyzer.Run(ctx, req.Submission)
	if err != nil {
		span.SetStatus(codes.Error, "providers unavailable")
		e.log.Error("Analysis failed, no provider produced a result", map[string]interface{}{
			"subjectId": req.SubjectID,
			"requestId": req.ID,
			"error":     err.Error(),
		})
		return nil, err
	}

	res := normalize.Normalize(outcome.Raw, outcome.Used, e.now())
	res.ID = e.newID()
	res.RequestID = req.ID
	res.SubjectID = req.SubjectID
	if res.ProviderUsed == models.ProviderSimulation {
		e.fillComparables(ctx, res, req.Submission)
	}
	if err := normalize.CheckInvariants(res); err != nil {
		span.SetStatus(codes.Error, "invariant violation")
		return nil, fmt.Errorf("normalized result rejected: %w", err)
	}

	if err := e.store.PutResult(ctx, res); err != nil {
		span.SetStatus(codes.Error, "store result")
		return nil, err
	}
	if err := e.gate.RecordAnalysis(ctx, req.SubjectID, models.ScopePitch, res.GeneratedAt); err != nil {
		span.SetStatus(codes.Error, "record cooldown")
		return nil, err
	}

	now := e.now().UTC()
	if _, err := e.updateState(ctx, req.SubjectID, submitPitch(now)); err != nil {
		// The result is stored; a concurrent decision may have moved the
		// subject past pitch in the meantime.
		e.log.Warn("Analysis stored but pitch stage not advanced", map[string]interface{}{
			"subjectId": req.SubjectID,
			"requestId": req.ID,
			"error":     err.Error(),
		})
	}

	if e.index != nil {
		if err := e.index.IndexResult(ctx, res, req.Submission); err != nil {
			e.log.Warn("failed to index analysis result", map[string]interface{}{
				"resultId": res.ID,
				"error":    err.Error(),
			})
		}
	}

	e.publish(ctx, events.TypeAnalysisCompleted, req.SubjectID, map[string]interface{}{
		"resultId":     res.ID,
		"requestId":    req.ID,
		"score":        res.Score,
		"riskScore":    res.RiskScore,
		"rating":       res.Rating,
		"providerUsed": res.ProviderUsed,
	})

	metrics.AnalysisDuration.WithLabelValues(string(res.ProviderUsed)).Observe(time.Since(start).Seconds())
	if e.obs != nil {
		e.obs.RecordAnalysis(ctx, string(res.ProviderUsed))
	}
	span.SetAttributes(attribute.String("provider_used", string(res.ProviderUsed)), attribute.Int("score", res.Score))

	e.log.Info("Analysis completed", map[string]interface{}{
		"subjectId":    req.SubjectID,
		"requestId":    req.ID,
		"resultId":     res.ID,
		"score":        res.Score,
		"rating":       res.Rating,
		"providerUsed": res.ProviderUsed,
		"provider":     outcome.Provider,
		"attempts":     len(outcome.Attempts),
	})
	return res, nil
}

// fillComparables swaps the heuristic's generic peers for indexed ones when
// the lookup answers within its budget.
func (e *Engine) fillComparables(ctx context.Context, res *models.AnalysisResult, sub *models.Submission) {
	if e.comparables == nil || sub == nil {
		return
	}
	lookupCtx, cancel := context.WithTimeout(ctx, e.comparableBudget)
	defer cancel()

	type lookup struct {
		found []models.ComparableProject
		err   error
	}
	done := make(chan lookup, 1)
	go func() {
		found, err := e.comparables.Comparables(lookupCtx, res.SubjectID, sub.Sector, sub.Chain, comparableLimit)
		done <- lookup{found: found, err: err}
	}()

	var out lookup
	select {
	case out = <-done:
	case <-lookupCtx.Done():
		out = lookup{err: fmt.Errorf("comparable lookup timed out after %s: %w", e.comparableBudget, lookupCtx.Err())}
	}
	if out.err != nil {
		e.log.Warn("Comparable lookup failed, keeping generic comparables", map[string]interface{}{
			"subjectId": res.SubjectID,
			"error":     out.err.Error(),
		})
		return
	}
	if len(out.found) > 0 {
		res.ComparableProjects = out.found
	}
}

// pitchRequestKind decides whether the subject may submit a pitch analysis
// and which kind of request it is.
func pitchRequestKind(st *models.OnboardingState) (models.RequestKind, error) {
	if st.Stage != models.StagePitch {
		msg := fmt.Sprintf("analysis requires stage %s, subject is at %s", models.StagePitch, st.Stage)
		if st.Stage == models.StageDone {
			msg = "pitch already approved, onboarding is complete"
		}
		return "", &models.GateError{
			Kind:      models.ErrOutOfOrderTransition,
			SubjectID: st.SubjectID,
			Stage:     st.Stage,
			SubStage:  st.SubStage,
			Message:   msg,
		}
	}
	if pitchRetryOpen(st) {
		return models.RequestPitchReanalysis, nil
	}
	switch st.SubStage {
	case models.SubStageNotStarted, models.SubStageInProgress:
		return models.RequestPitchSubmission, nil
	case models.SubStageRejected, models.SubStageSubmitted:
		return models.RequestPitchReanalysis, nil
	case models.SubStageApproved, models.SubStageSkipped:
		return "", &models.GateError{
			Kind:      models.ErrOutOfOrderTransition,
			SubjectID: st.SubjectID,
			Stage:     st.Stage,
			SubStage:  st.SubStage,
			Message:   fmt.Sprintf("pitch is %s", st.SubStage),
		}
	default:
		return "", fmt.Errorf("unknown onboarding sub-stage %q", st.SubStage)
	}
}

// pitchRetryOpen reports whether a rejected pitch is waiting for its retry:
// still rejected, or restarted from rejected with nothing submitted since.
func pitchRetryOpen(st *models.OnboardingState) bool {
	if st.Stage != models.StagePitch {
		return false
	}
	switch st.SubStage {
	case models.SubStageRejected:
		return true
	case models.SubStageInProgress:
		if n := len(st.History); n > 0 {
			last := st.History[n-1]
			return last.Stage == models.StagePitch && last.From == models.SubStageRejected
		}
		return false
	default:
		return false
	}
}

// submitPitch moves the pitch stage to submitted once a result is stored,
// starting it first when needed. A pitch that is already submitted is left
// as is.
func submitPitch(now time.Time) transition {
	return func(cur *models.OnboardingState) (*models.OnboardingState, error) {
		switch {
		case cur.Stage == models.StagePitch && cur.SubStage == models.SubStageSubmitted:
			return nil, nil
		case cur.Stage == models.StagePitch && (cur.SubStage == models.SubStageNotStarted || cur.SubStage == models.SubStageRejected):
			started, err := onboarding.Start(cur, models.StagePitch, now)
			if err != nil {
				return nil, err
			}
			return onboarding.Submit(started, models.StagePitch, now)
		default:
			return onboarding.Submit(cur, models.StagePitch, now)
		}
	}
}

func validateSubmission(sub *models.Submission) error {
	if sub == nil {
		return fmt.Errorf("%w: submission is required", models.ErrInvalidSubmission)
	}
	if err := validation.Submission.ValidateGo(sub).Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSubmission, err)
	}
	return nil
}
