package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"diligence-engine/internal/models"
)

// MemoryStore keeps everything in process. It backs the memory driver and
// most engine tests.
type MemoryStore struct {
	mu        sync.RWMutex
	requests  map[string]*models.AnalysisRequest
	results   map[string][]*models.AnalysisResult
	states    map[string]*models.OnboardingState
	cooldowns map[string]models.CooldownRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:  make(map[string]*models.AnalysisRequest),
		results:   make(map[string][]*models.AnalysisResult),
		states:    make(map[string]*models.OnboardingState),
		cooldowns: make(map[string]models.CooldownRecord),
	}
}

func (m *MemoryStore) PutRequest(_ context.Context, req *models.AnalysisRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.ID]; ok {
		return fmt.Errorf("request %s already stored", req.ID)
	}
	cp := *req
	cp.Submission = req.Submission.Clone()
	m.requests[req.ID] = &cp
	return nil
}

// Request returns a stored request by ID, or nil.
func (m *MemoryStore) Request(id string) *models.AnalysisRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[id]
}

func (m *MemoryStore) PutResult(_ context.Context, res *models.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *res
	m.results[res.SubjectID] = append(m.results[res.SubjectID], &cp)
	return nil
}

func (m *MemoryStore) LatestResult(ctx context.Context, subjectID string) (*models.AnalysisResult, error) {
	hist, err := m.History(ctx, subjectID, 1)
	if err != nil || len(hist) == 0 {
		return nil, err
	}
	return hist[0], nil
}

func (m *MemoryStore) History(_ context.Context, subjectID string, limit int) ([]*models.AnalysisResult, error) {
	m.mu.RLock()
	stored := m.results[subjectID]
	out := make([]*models.AnalysisResult, len(stored))
	for i, r := range stored {
		cp := *r
		out[len(stored)-1-i] = &cp
	}
	m.mu.RUnlock()

	// Newest insertion first, then by GeneratedAt; the stable sort keeps
	// insertion order among equal timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].GeneratedAt.After(out[j].GeneratedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetState(_ context.Context, subjectID string) (*models.OnboardingState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[subjectID]
	if !ok {
		return nil, fmt.Errorf("%w: onboarding state for %s", models.ErrNotFound, subjectID)
	}
	return s.Clone(), nil
}

func (m *MemoryStore) CompareAndSwapState(_ context.Context, prevVersion int64, next *models.OnboardingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.states[next.SubjectID]
	switch {
	case !ok && prevVersion != 0:
		return fmt.Errorf("%w: %s expected version %d, found none", models.ErrVersionConflict, next.SubjectID, prevVersion)
	case ok && cur.Version != prevVersion:
		return fmt.Errorf("%w: %s expected version %d, found %d", models.ErrVersionConflict, next.SubjectID, prevVersion, cur.Version)
	}
	m.states[next.SubjectID] = next.Clone()
	return nil
}

func (m *MemoryStore) GetCooldown(_ context.Context, subjectID string, scope models.CooldownScope) (*models.CooldownRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.cooldowns[cooldownKey(subjectID, scope)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStore) PutCooldown(_ context.Context, rec models.CooldownRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := cooldownKey(rec.SubjectID, rec.Scope)
	if cur, ok := m.cooldowns[key]; ok && cur.LastAnalyzedAt.After(rec.LastAnalyzedAt) {
		cur.WindowSeconds = rec.WindowSeconds
		m.cooldowns[key] = cur
		return nil
	}
	m.cooldowns[key] = rec
	return nil
}

func cooldownKey(subjectID string, scope models.CooldownScope) string {
	return "cooldown:" + string(scope) + ":" + subjectID
}
