// Package engine is the entry point collaborators call: it checks onboarding
// eligibility and cooldowns, runs the provider cascade, normalizes and stores
// the result, and advances the onboarding state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"diligence-engine/internal/analysis/cascade"
	"diligence-engine/internal/common/events"
	"diligence-engine/internal/common/logger"
	"diligence-engine/internal/common/metrics"
	"diligence-engine/internal/common/observability"
	"diligence-engine/internal/gate"
	"diligence-engine/internal/models"
	"diligence-engine/internal/onboarding"
	"diligence-engine/internal/store"
)

const (
	// maxStateAttempts bounds compare-and-swap retries on a version conflict.
	maxStateAttempts = 3

	comparableLimit         = 3
	defaultComparableBudget = 500 * time.Millisecond
)

// Analyzer runs a submission through the provider chain.
type Analyzer interface {
	Run(ctx context.Context, sub *models.Submission) (*cascade.Outcome, error)
}

// ResultIndexer mirrors stored results into a search index.
type ResultIndexer interface {
	IndexResult(ctx context.Context, res *models.AnalysisResult, sub *models.Submission) error
}

// ComparableLookup finds previously analyzed projects in the same sector,
// excluding the subject's own results.
type ComparableLookup interface {
	Comparables(ctx context.Context, subjectID, sector, chain string, limit int) ([]models.ComparableProject, error)
}

type Engine struct {
	store    store.Store
	analyzer Analyzer
	gate     *gate.Gate
	events   events.Publisher
	index    ResultIndexer
	obs      *observability.Observability

	comparables      ComparableLookup
	comparableBudget time.Duration

	tracer trace.Tracer
	log    logger.Logger
	now    func() time.Time
	newID  func() string

	inflight sync.WaitGroup
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.events = p
		}
	}
}

func WithResultIndex(x ResultIndexer) Option {
	return func(e *Engine) { e.index = x }
}

// WithComparables replaces the generic peer group of fallback results with
// indexed projects. The lookup runs after the cascade under its own budget
// and a slow or failing lookup keeps the generic peers.
func WithComparables(c ComparableLookup, budget time.Duration) Option {
	return func(e *Engine) {
		e.comparables = c
		if budget > 0 {
			e.comparableBudget = budget
		}
	}
}

func WithObservability(o *observability.Observability) Option {
	return func(e *Engine) {
		e.obs = o
		if o != nil {
			e.tracer = o.Tracer()
		}
	}
}

func New(st store.Store, analyzer Analyzer, g *gate.Gate, log logger.Logger, opts ...Option) (*Engine, error) {
	if st == nil || analyzer == nil || g == nil {
		return nil, errors.New("engine requires a store, an analyzer and a gate")
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	e := &Engine{
		store:    st,
		analyzer: analyzer,
		gate:     g,
		events:   events.NoopPublisher{},
		tracer:   otel.Tracer("diligence-engine/engine"),
		log:      logger.ForComponent(log, "engine"),
		now:      time.Now,
		newID:    uuid.NewString,

		comparableBudget: defaultComparableBudget,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Wait blocks until every detached analysis pipeline has finished or ctx
// is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) LatestResult(ctx context.Context, subjectID string) (*models.AnalysisResult, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	return e.store.LatestResult(ctx, subjectID)
}

// History returns up to limit stored results, newest first.
func (e *Engine) History(ctx context.Context, subjectID string, limit int) ([]*models.AnalysisResult, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	return e.store.History(ctx, subjectID, limit)
}

// OnboardingState returns the stored state, or the initial state for a
// subject that has never been seen.
func (e *Engine) OnboardingState(ctx context.Context, subjectID string) (*models.OnboardingState, error) {
	if err := requireSubject(subjectID); err != nil {
		return nil, err
	}
	return e.loadState(ctx, subjectID)
}

func (e *Engine) loadState(ctx context.Context, subjectID string) (*models.OnboardingState, error) {
	st, err := e.store.GetState(ctx, subjectID)
	if errors.Is(err, models.ErrNotFound) {
		return onboarding.New(subjectID, e.now().UTC()), nil
	}
	return st, err
}

// transition computes the next state from the current one. Returning nil,
// nil leaves the state untouched.
type transition func(cur *models.OnboardingState) (*models.OnboardingState, error)

// updateState applies fn under compare-and-swap, re-reading and retrying on
// a version conflict.
func (e *Engine) updateState(ctx context.Context, subjectID string, fn transition) (*models.OnboardingState, error) {
	for attempt := 1; ; attempt++ {
		cur, err := e.loadState(ctx, subjectID)
		if err != nil {
			return nil, err
		}
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return cur, nil
		}

		err = e.store.CompareAndSwapState(ctx, cur.Version, next)
		if err == nil {
			e.afterTransition(ctx, cur, next)
			return next, nil
		}
		if !errors.Is(err, models.ErrVersionConflict) || attempt >= maxStateAttempts {
			return nil, err
		}
		e.log.Debug("onboarding state changed concurrently, retrying", map[string]interface{}{
			"subjectId": subjectID,
			"attempt":   attempt,
		})
	}
}

func (e *Engine) afterTransition(ctx context.Context, prev, next *models.OnboardingState) {
	if len(next.History) <= len(prev.History) {
		return
	}
	for _, tr := range next.History[len(prev.History):] {
		metrics.OnboardingTransitions.WithLabelValues(string(tr.Stage), string(tr.To)).Inc()
		e.log.Info("Onboarding transition applied", map[string]interface{}{
			"subjectId": next.SubjectID,
			"stage":     tr.Stage,
			"from":      tr.From,
			"to":        tr.To,
			"version":   next.Version,
		})
		e.publish(ctx, events.TypeOnboardingTransitioned, next.SubjectID, map[string]interface{}{
			"stage":    tr.Stage,
			"from":     tr.From,
			"to":       tr.To,
			"reasons":  tr.Reasons,
			"current":  next.Stage,
			"subStage": next.SubStage,
			"version":  next.Version,
		})
	}
}

// publish is best effort; a failed publish never undoes the write.
func (e *Engine) publish(ctx context.Context, eventType, subjectID string, payload interface{}) {
	err := e.events.Publish(ctx, events.Event{
		Type:       eventType,
		SubjectID:  subjectID,
		OccurredAt: e.now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		e.log.Warn("failed to publish event", map[string]interface{}{
			"type":      eventType,
			"subjectId": subjectID,
			"error":     err.Error(),
		})
	}
}

func requireSubject(subjectID string) error {
	if strings.TrimSpace(subjectID) == "" {
		return fmt.Errorf("%w: subject id is required", models.ErrInvalidSubmission)
	}
	return nil
}
