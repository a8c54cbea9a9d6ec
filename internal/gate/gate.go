// Package gate enforces the re-analysis cooldown windows.
package gate

import (
	"context"
	"fmt"
	"time"

	"diligence-engine/internal/common/metrics"
	"diligence-engine/internal/models"
	"diligence-engine/internal/store"
)

const (
	DefaultPitchWindow    = 24 * time.Hour
	DefaultIdentityWindow = 7 * 24 * time.Hour
	DefaultBusinessWindow = 14 * 24 * time.Hour
)

// Windows holds the cooldown length per scope. A zero window disables the
// gate for that scope.
type Windows struct {
	Pitch                time.Duration
	IdentityVerification time.Duration
	BusinessVerification time.Duration
}

func DefaultWindows() Windows {
	return Windows{
		Pitch:                DefaultPitchWindow,
		IdentityVerification: DefaultIdentityWindow,
		BusinessVerification: DefaultBusinessWindow,
	}
}

// For returns the window configured for scope.
func (w Windows) For(scope models.CooldownScope) (time.Duration, error) {
	switch scope {
	case models.ScopePitch:
		return w.Pitch, nil
	case models.ScopeIdentityVerification:
		return w.IdentityVerification, nil
	case models.ScopeBusinessVerification:
		return w.BusinessVerification, nil
	default:
		return 0, fmt.Errorf("unknown cooldown scope %q", scope)
	}
}

// ScopeFor maps an onboarding stage to the cooldown scope guarding its
// retries. ok is false for stages without one.
func ScopeFor(stage models.Stage) (models.CooldownScope, bool) {
	switch stage {
	case models.StagePitch:
		return models.ScopePitch, true
	case models.StageIdentityVerification:
		return models.ScopeIdentityVerification, true
	case models.StageBusinessVerification:
		return models.ScopeBusinessVerification, true
	case models.StageRegistration, models.StageDone:
		return "", false
	default:
		return "", false
	}
}

type Gate struct {
	store   store.CooldownStore
	windows Windows
	now     func() time.Time
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

func New(cs store.CooldownStore, windows Windows, opts ...Option) *Gate {
	g := &Gate{store: cs, windows: windows, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Remaining returns how long the subject must still wait in scope. Zero
// means an analysis may run now.
func (g *Gate) Remaining(ctx context.Context, subjectID string, scope models.CooldownScope) (time.Duration, error) {
	window, err := g.windows.For(scope)
	if err != nil {
		return 0, err
	}
	if window <= 0 {
		return 0, nil
	}

	rec, err := g.store.GetCooldown(ctx, subjectID, scope)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, nil
	}

	// The window in force is the configured one, not the one stored with
	// the record, so shortening a window takes effect immediately.
	elapsed := g.now().Sub(rec.LastAnalyzedAt)
	if elapsed >= window {
		return 0, nil
	}
	return window - elapsed, nil
}

func (g *Gate) CanAnalyze(ctx context.Context, subjectID string, scope models.CooldownScope) (bool, error) {
	remaining, err := g.Remaining(ctx, subjectID, scope)
	if err != nil {
		return false, err
	}
	return remaining == 0, nil
}

// Check returns a *models.GateError wrapping models.ErrCooldownActive when
// the subject is inside its window.
func (g *Gate) Check(ctx context.Context, subjectID string, scope models.CooldownScope) error {
	remaining, err := g.Remaining(ctx, subjectID, scope)
	if err != nil {
		return err
	}
	if remaining == 0 {
		return nil
	}
	metrics.GateRejections.WithLabelValues(string(scope)).Inc()
	return &models.GateError{
		Kind:       models.ErrCooldownActive,
		SubjectID:  subjectID,
		Scope:      scope,
		RetryAfter: remaining,
	}
}

// RecordAnalysis stamps a completed analysis. Call it only after the result
// is stored. The store keeps the latest of concurrent stamps.
func (g *Gate) RecordAnalysis(ctx context.Context, subjectID string, scope models.CooldownScope, at time.Time) error {
	window, err := g.windows.For(scope)
	if err != nil {
		return err
	}
	return g.store.PutCooldown(ctx, models.CooldownRecord{
		SubjectID:      subjectID,
		Scope:          scope,
		LastAnalyzedAt: at.UTC(),
		WindowSeconds:  int64(window / time.Second),
	})
}
