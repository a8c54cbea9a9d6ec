package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diligence-engine/internal/models"
)

func newPostgresMock(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(sqlx.NewDb(db, "postgres")), mock
}

func TestSQLStore_Postgres_MigrateUsesBigSerial(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectExec("BIGSERIAL").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Postgres_UpdateUsesDollarPlaceholders(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectExec(regexp.QuoteMeta("WHERE subject_id = $6 AND version = $7")).
		WithArgs(int64(3), "identity_verification", "in_progress", sqlmock.AnyArg(), sqlmock.AnyArg(), "sub-1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.CompareAndSwapState(context.Background(), 2, state("sub-1", 3))
	assert.ErrorIs(t, err, models.ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Postgres_ErrorsArePersistenceFailures(t *testing.T) {
	s, mock := newPostgresMock(t)
	boom := errors.New("connection reset")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM onboarding_states")).WillReturnError(boom)
	_, err := s.GetState(context.Background(), "sub-1")
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.ErrorIs(t, err, boom)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO cooldowns")).WillReturnError(boom)
	err = s.PutCooldown(context.Background(), models.CooldownRecord{SubjectID: "sub-1", Scope: models.ScopePitch, LastAnalyzedAt: base, WindowSeconds: 60})
	assert.ErrorIs(t, err, models.ErrPersistence)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM analysis_results")).
		WithArgs("sub-1", 1).
		WillReturnError(boom)
	_, err = s.LatestResult(context.Background(), "sub-1")
	assert.ErrorIs(t, err, models.ErrPersistence)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Postgres_CorruptBody(t *testing.T) {
	s, mock := newPostgresMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM analysis_results")).
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow("{not json"))

	_, err := s.History(context.Background(), "sub-1", 0)
	assert.ErrorIs(t, err, models.ErrPersistence)
}

func TestSQLStore_GetRequest(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	req := &models.AnalysisRequest{
		ID:          "req-1",
		SubjectID:   "sub-1",
		Kind:        models.RequestPitchReanalysis,
		RequestedAt: base,
		Submission:  &models.Submission{ProjectName: "Acme", Sector: "DeFi"},
	}
	require.NoError(t, s.PutRequest(ctx, req))

	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, models.RequestPitchReanalysis, got.Kind)
	assert.Equal(t, "DeFi", got.Submission.Sector)
	assert.True(t, got.RequestedAt.Equal(base))

	_, err = s.GetRequest(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
