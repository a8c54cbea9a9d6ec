package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"diligence-engine/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS analysis_requests (
	id           TEXT PRIMARY KEY,
	subject_id   TEXT NOT NULL,
	kind         TEXT NOT NULL,
	submission   TEXT NOT NULL DEFAULT '{}',
	requested_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_results (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	id            TEXT NOT NULL UNIQUE,
	request_id    TEXT NOT NULL,
	subject_id    TEXT NOT NULL,
	score         INTEGER NOT NULL,
	risk_score    INTEGER NOT NULL,
	rating        TEXT NOT NULL,
	provider_used TEXT NOT NULL,
	generated_at  INTEGER NOT NULL,
	body          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_subject ON analysis_results (subject_id, generated_at);

CREATE TABLE IF NOT EXISTS onboarding_states (
	subject_id TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	stage      TEXT NOT NULL,
	sub_stage  TEXT NOT NULL,
	body       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cooldowns (
	subject_id       TEXT NOT NULL,
	scope            TEXT NOT NULL,
	last_analyzed_at INTEGER NOT NULL,
	window_seconds   INTEGER NOT NULL,
	PRIMARY KEY (subject_id, scope)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS analysis_requests (
	id           TEXT PRIMARY KEY,
	subject_id   TEXT NOT NULL,
	kind         TEXT NOT NULL,
	submission   TEXT NOT NULL DEFAULT '{}',
	requested_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_results (
	seq           BIGSERIAL PRIMARY KEY,
	id            TEXT NOT NULL UNIQUE,
	request_id    TEXT NOT NULL,
	subject_id    TEXT NOT NULL,
	score         INTEGER NOT NULL,
	risk_score    INTEGER NOT NULL,
	rating        TEXT NOT NULL,
	provider_used TEXT NOT NULL,
	generated_at  BIGINT NOT NULL,
	body          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_subject ON analysis_results (subject_id, generated_at);

CREATE TABLE IF NOT EXISTS onboarding_states (
	subject_id TEXT PRIMARY KEY,
	version    BIGINT NOT NULL,
	stage      TEXT NOT NULL,
	sub_stage  TEXT NOT NULL,
	body       TEXT NOT NULL,
	updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS cooldowns (
	subject_id       TEXT NOT NULL,
	scope            TEXT NOT NULL,
	last_analyzed_at BIGINT NOT NULL,
	window_seconds   BIGINT NOT NULL,
	PRIMARY KEY (subject_id, scope)
);
`

// SQLStore persists requests, results, onboarding state and cooldowns in
// postgres or sqlite. Timestamps are stored as unix nanoseconds and nested
// documents as JSON text so one schema serves both drivers.
type SQLStore struct {
	db *sqlx.DB
}

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.db.DriverName() == "postgres" {
		schema = postgresSchema
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return models.NewPersistenceError("migrate", err)
	}
	return nil
}

type requestRow struct {
	ID          string `db:"id"`
	SubjectID   string `db:"subject_id"`
	Kind        string `db:"kind"`
	Submission  string `db:"submission"`
	RequestedAt int64  `db:"requested_at"`
}

func (s *SQLStore) PutRequest(ctx context.Context, req *models.AnalysisRequest) error {
	sub, err := json.Marshal(req.Submission)
	if err != nil {
		return models.NewPersistenceError("put request", err)
	}
	row := requestRow{
		ID:          req.ID,
		SubjectID:   req.SubjectID,
		Kind:        string(req.Kind),
		Submission:  string(sub),
		RequestedAt: req.RequestedAt.UnixNano(),
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO analysis_requests (id, subject_id, kind, submission, requested_at)
		VALUES (:id, :subject_id, :kind, :submission, :requested_at)`, row)
	if err != nil {
		return models.NewPersistenceError("put request", err)
	}
	return nil
}

// GetRequest loads a stored request by ID.
func (s *SQLStore) GetRequest(ctx context.Context, id string) (*models.AnalysisRequest, error) {
	var row requestRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, subject_id, kind, submission, requested_at
		FROM analysis_requests WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: request %s", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, models.NewPersistenceError("get request", err)
	}

	var sub *models.Submission
	if err := json.Unmarshal([]byte(row.Submission), &sub); err != nil {
		return nil, models.NewPersistenceError("decode request", err)
	}
	return &models.AnalysisRequest{
		ID:          row.ID,
		SubjectID:   row.SubjectID,
		Kind:        models.RequestKind(row.Kind),
		Submission:  sub,
		RequestedAt: time.Unix(0, row.RequestedAt).UTC(),
	}, nil
}

type resultRow struct {
	ID           string `db:"id"`
	RequestID    string `db:"request_id"`
	SubjectID    string `db:"subject_id"`
	Score        int    `db:"score"`
	RiskScore    int    `db:"risk_score"`
	Rating       string `db:"rating"`
	ProviderUsed string `db:"provider_used"`
	GeneratedAt  int64  `db:"generated_at"`
	Body         string `db:"body"`
}

func (s *SQLStore) PutResult(ctx context.Context, res *models.AnalysisResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return models.NewPersistenceError("put result", err)
	}
	row := resultRow{
		ID:           res.ID,
		RequestID:    res.RequestID,
		SubjectID:    res.SubjectID,
		Score:        res.Score,
		RiskScore:    res.RiskScore,
		Rating:       string(res.Rating),
		ProviderUsed: string(res.ProviderUsed),
		GeneratedAt:  res.GeneratedAt.UnixNano(),
		Body:         string(body),
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO analysis_results (id, request_id, subject_id, score, risk_score, rating, provider_used, generated_at, body)
		VALUES (:id, :request_id, :subject_id, :score, :risk_score, :rating, :provider_used, :generated_at, :body)`, row)
	if err != nil {
		return models.NewPersistenceError("put result", err)
	}
	return nil
}

func (s *SQLStore) LatestResult(ctx context.Context, subjectID string) (*models.AnalysisResult, error) {
	hist, err := s.History(ctx, subjectID, 1)
	if err != nil || len(hist) == 0 {
		return nil, err
	}
	return hist[0], nil
}

func (s *SQLStore) History(ctx context.Context, subjectID string, limit int) ([]*models.AnalysisResult, error) {
	query := `SELECT body FROM analysis_results WHERE subject_id = ? ORDER BY generated_at DESC, seq DESC`
	args := []interface{}{subjectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var bodies []string
	if err := s.db.SelectContext(ctx, &bodies, s.db.Rebind(query), args...); err != nil {
		return nil, models.NewPersistenceError("list results", err)
	}

	out := make([]*models.AnalysisResult, 0, len(bodies))
	for _, b := range bodies {
		var res models.AnalysisResult
		if err := json.Unmarshal([]byte(b), &res); err != nil {
			return nil, models.NewPersistenceError("decode result", err)
		}
		out = append(out, &res)
	}
	return out, nil
}

func (s *SQLStore) GetState(ctx context.Context, subjectID string) (*models.OnboardingState, error) {
	var body string
	err := s.db.GetContext(ctx, &body, s.db.Rebind(`SELECT body FROM onboarding_states WHERE subject_id = ?`), subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: onboarding state for %s", models.ErrNotFound, subjectID)
	}
	if err != nil {
		return nil, models.NewPersistenceError("get state", err)
	}

	var st models.OnboardingState
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		return nil, models.NewPersistenceError("decode state", err)
	}
	return &st, nil
}

func (s *SQLStore) CompareAndSwapState(ctx context.Context, prevVersion int64, next *models.OnboardingState) error {
	body, err := json.Marshal(next)
	if err != nil {
		return models.NewPersistenceError("put state", err)
	}
	updatedAt := next.LastTransitionAt.UnixNano()

	var res sql.Result
	if prevVersion == 0 {
		res, err = s.db.ExecContext(ctx, s.db.Rebind(`
			INSERT INTO onboarding_states (subject_id, version, stage, sub_stage, body, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (subject_id) DO NOTHING`),
			next.SubjectID, next.Version, string(next.Stage), string(next.SubStage), string(body), updatedAt)
	} else {
		res, err = s.db.ExecContext(ctx, s.db.Rebind(`
			UPDATE onboarding_states
			SET version = ?, stage = ?, sub_stage = ?, body = ?, updated_at = ?
			WHERE subject_id = ? AND version = ?`),
			next.Version, string(next.Stage), string(next.SubStage), string(body), updatedAt, next.SubjectID, prevVersion)
	}
	if err != nil {
		return models.NewPersistenceError("put state", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return models.NewPersistenceError("put state", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s expected version %d", models.ErrVersionConflict, next.SubjectID, prevVersion)
	}
	return nil
}

type cooldownRow struct {
	SubjectID      string `db:"subject_id"`
	Scope          string `db:"scope"`
	LastAnalyzedAt int64  `db:"last_analyzed_at"`
	WindowSeconds  int64  `db:"window_seconds"`
}

func (s *SQLStore) GetCooldown(ctx context.Context, subjectID string, scope models.CooldownScope) (*models.CooldownRecord, error) {
	var row cooldownRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT subject_id, scope, last_analyzed_at, window_seconds
		FROM cooldowns WHERE subject_id = ? AND scope = ?`), subjectID, string(scope))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewPersistenceError("get cooldown", err)
	}
	return &models.CooldownRecord{
		SubjectID:      row.SubjectID,
		Scope:          models.CooldownScope(row.Scope),
		LastAnalyzedAt: time.Unix(0, row.LastAnalyzedAt).UTC(),
		WindowSeconds:  row.WindowSeconds,
	}, nil
}

func (s *SQLStore) PutCooldown(ctx context.Context, rec models.CooldownRecord) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO cooldowns (subject_id, scope, last_analyzed_at, window_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (subject_id, scope) DO UPDATE SET
			last_analyzed_at = CASE
				WHEN excluded.last_analyzed_at > cooldowns.last_analyzed_at THEN excluded.last_analyzed_at
				ELSE cooldowns.last_analyzed_at
			END,
			window_seconds = excluded.window_seconds`),
		rec.SubjectID, string(rec.Scope), rec.LastAnalyzedAt.UnixNano(), rec.WindowSeconds)
	if err != nil {
		return models.NewPersistenceError("put cooldown", err)
	}
	return nil
}
