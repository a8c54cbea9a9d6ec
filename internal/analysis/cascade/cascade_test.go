package cascade

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diligence-engine/internal/analysis/provider"
	"diligence-engine/internal/analysis/scoring"
	"diligence-engine/internal/common/logger"
	"diligence-engine/internal/models"
)

type fakeProvider struct {
	name  string
	raw   *models.RawResult
	err   error
	calls int
	block chan struct{}
	panic bool
}

func (f *fakeProvider) Name() string              { return f.name }
func (f *fakeProvider) Used() models.ProviderUsed { return models.ProviderPrimary }

func (f *fakeProvider) Analyze(ctx context.Context, _ *models.Submission) (*models.RawResult, error) {
	f.calls++
	if f.panic {
		panic("boom")
	}
	if f.block != nil {
		<-f.block
	}
	return f.raw, f.err
}

func failing(kind provider.ErrorKind) *fakeProvider {
	return &fakeProvider{name: "primary", err: provider.NewError("primary", kind, errors.New("nope"))}
}

func newTestCascade(t *testing.T, providers ...provider.Provider) *Cascade {
	t.Helper()
	c, err := New(providers, logger.NewTestLogger(t), WithTimeout(100*time.Millisecond))
	require.NoError(t, err)
	return c
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	_, err = New([]provider.Provider{nil}, nil)
	assert.Error(t, err)

	c, err := New([]provider.Provider{provider.NewHeuristicProvider(nil, nil)}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{provider.HeuristicName}, c.Providers())
}

func TestRun_PrimarySucceeds(t *testing.T) {
	primary := &fakeProvider{name: "primary", raw: &models.RawResult{Score: models.Float(81)}}
	heuristic := provider.NewHeuristicProvider(scoring.NoJitter{}, nil)
	c := newTestCascade(t, primary, heuristic)

	out, err := c.Run(context.Background(), &models.Submission{})
	require.NoError(t, err)
	assert.Equal(t, models.ProviderPrimary, out.Used)
	assert.Equal(t, "primary", out.Provider)
	assert.Equal(t, 81.0, *out.Raw.Score)
	assert.False(t, out.Fallback())
	require.Len(t, out.Attempts, 1)
	assert.Empty(t, out.Attempts[0].Kind)
}

func TestRun_EveryErrorKindFallsBack(t *testing.T) {
	kinds := []provider.ErrorKind{
		provider.KindQuotaExceeded,
		provider.KindAuthError,
		provider.KindModelError,
		provider.KindTransient,
		provider.KindMalformedResponse,
	}

	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			primary := failing(kind)
			c := newTestCascade(t, primary, provider.NewHeuristicProvider(scoring.NoJitter{}, nil))

			out, err := c.Run(context.Background(), &models.Submission{Sector: "DeFi"})
			require.NoError(t, err)
			assert.Equal(t, models.ProviderSimulation, out.Used)
			assert.True(t, out.Fallback())
			require.Len(t, out.Attempts, 2)
			assert.Equal(t, kind, out.Attempts[0].Kind)
			assert.NotNil(t, out.Raw.Score)
			assert.Equal(t, 1, primary.calls)
		})
	}
}

func TestRun_HungPrimaryTimesOut(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	primary := &fakeProvider{name: "primary", block: release}
	c := newTestCascade(t, primary, provider.NewHeuristicProvider(nil, nil))

	start := time.Now()
	out, err := c.Run(context.Background(), &models.Submission{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, models.ProviderSimulation, out.Used)
	assert.Equal(t, provider.KindTransient, out.Attempts[0].Kind)
}

func TestRun_UntypedErrorIsTransient(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("socket closed")}
	c := newTestCascade(t, primary, provider.NewHeuristicProvider(nil, nil))

	out, err := c.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, provider.KindTransient, out.Attempts[0].Kind)
}

func TestRun_PanicAndEmptyResult(t *testing.T) {
	panicky := &fakeProvider{name: "panicky", panic: true}
	empty := &fakeProvider{name: "empty"}
	c := newTestCascade(t, panicky, empty, provider.NewHeuristicProvider(nil, nil))

	out, err := c.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, out.Attempts, 3)
	assert.Equal(t, provider.KindTransient, out.Attempts[0].Kind)
	assert.Equal(t, provider.KindMalformedResponse, out.Attempts[1].Kind)
	assert.Equal(t, provider.HeuristicName, out.Provider)
}

func TestRun_AllFail(t *testing.T) {
	c := newTestCascade(t, failing(provider.KindAuthError), &fakeProvider{name: "second", err: errors.New("down")})

	out, err := c.Run(context.Background(), nil)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
}

func TestRun_CancelledContextStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	second := &fakeProvider{name: "second", raw: &models.RawResult{Score: models.Float(60)}}
	c := newTestCascade(t, failing(provider.KindTransient), second)

	_, err := c.Run(ctx, nil)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
	assert.Equal(t, 0, second.calls)
}
