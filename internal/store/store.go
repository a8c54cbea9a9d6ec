// Package store holds the persistence adapters behind the engine's narrow
// storage interfaces. Every adapter honors the same contract:
//
//   - requests and results are append-only;
//   - LatestResult returns nil, nil when a subject has no result;
//   - GetState returns models.ErrNotFound for an unknown subject;
//   - CompareAndSwapState writes next only when the stored version equals
//     prevVersion (0 means "absent") and reports models.ErrVersionConflict
//     otherwise;
//   - PutCooldown keeps the most recent LastAnalyzedAt for a (subject, scope).
package store

import (
	"context"

	"diligence-engine/internal/models"
)

type RequestStore interface {
	PutRequest(ctx context.Context, req *models.AnalysisRequest) error
}

type ResultStore interface {
	PutResult(ctx context.Context, res *models.AnalysisResult) error
	LatestResult(ctx context.Context, subjectID string) (*models.AnalysisResult, error)
	// History returns up to limit results, newest first. limit <= 0 means all.
	History(ctx context.Context, subjectID string, limit int) ([]*models.AnalysisResult, error)
}

type StateStore interface {
	GetState(ctx context.Context, subjectID string) (*models.OnboardingState, error)
	CompareAndSwapState(ctx context.Context, prevVersion int64, next *models.OnboardingState) error
}

type CooldownStore interface {
	GetCooldown(ctx context.Context, subjectID string, scope models.CooldownScope) (*models.CooldownRecord, error)
	PutCooldown(ctx context.Context, rec models.CooldownRecord) error
}

// Store is everything the engine persists.
type Store interface {
	RequestStore
	ResultStore
	StateStore
	CooldownStore
}

// Composite assembles a Store from independent adapters, e.g. SQL for
// requests, results and state with Redis for cooldowns.
type Composite struct {
	RequestStore
	ResultStore
	StateStore
	CooldownStore
}
