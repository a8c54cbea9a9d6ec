package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diligence-engine/internal/analysis/normalize"
	"diligence-engine/internal/analysis/scoring"
	commonhttp "diligence-engine/internal/common/http"
	"diligence-engine/internal/common/logger"
	"diligence-engine/internal/models"
)

// ==========================
// Helpers
// ==========================

type mockMessager struct {
	response *anthropic.Message
	err      error
	params   anthropic.MessageNewParams
	calls    int
}

func (m *mockMessager) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	m.calls++
	m.params = params
	return m.response, m.err
}

func newMockMessage(text string) *anthropic.Message {
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: text},
		},
	}
}

func apiError(status int) error {
	return &anthropic.Error{
		StatusCode: status,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil),
		Response:   &http.Response{StatusCode: status},
	}
}

func fullSubmission() *models.Submission {
	return &models.Submission{
		ProjectName: "Relay",
		Problem:     "Cross-chain settlement is slow",
		Solution:    "Optimistic relayer network",
		Description: strings.Repeat("Relay moves value between chains. ", 20),
		Sector:      "DeFi",
		Chain:       "Solana",
		Stage:       "MVP",
		FundingGoal: 2_000_000,
		MarketSize:  "$4B",
		Tokenomics: &models.Tokenomics{
			TotalSupply: 1_000_000_000,
			Allocations: map[string]float64{"team": 15, "community": 60},
			Vesting:     "4y linear, 1y cliff",
		},
		Team: []models.TeamMember{
			{Name: "Ana", Role: "CEO", LinkedIn: "https://linkedin.com/in/ana"},
			{Name: "Ben", Role: "CTO", LinkedIn: "https://linkedin.com/in/ben"},
			{Name: "Caro", Role: "CMO"},
		},
		Documents: map[models.DocumentKind]string{
			models.DocumentPitchDeck:  "deck.pdf",
			models.DocumentWhitepaper: "wp.pdf",
			models.DocumentTokenomics: "tok.pdf",
			models.DocumentRoadmap:    "roadmap.pdf",
			models.DocumentLogo:       "logo.png",
		},
	}
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	require.Error(t, err)
	var pe *ProviderError
	require.True(t, errors.As(err, &pe), "expected *ProviderError, got %T", err)
	assert.Equal(t, kind, pe.Kind)
}

// ==========================
// Classification
// ==========================

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   ErrorKind
	}{
		{429, "", KindQuotaExceeded},
		{402, "", KindQuotaExceeded},
		{200, `{"error":{"code":"insufficient_quota"}}`, KindQuotaExceeded},
		{400, `{"error":"INSUFFICIENT_QUOTA"}`, KindQuotaExceeded},
		{401, "", KindAuthError},
		{403, "", KindAuthError},
		{404, "model not found", KindModelError},
		{400, "bad request", KindModelError},
		{422, "", KindModelError},
		{408, "", KindTransient},
		{500, "", KindTransient},
		{503, "", KindTransient},
		{529, "overloaded", KindTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.want), func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyStatus(tt.status, tt.body))
		})
	}
}

func TestErrorKind_Soft(t *testing.T) {
	assert.True(t, KindQuotaExceeded.Soft())
	assert.True(t, KindAuthError.Soft())
	assert.False(t, KindModelError.Soft())
	assert.False(t, KindTransient.Soft())
	assert.False(t, KindMalformedResponse.Soft())
}

func TestAsProviderError(t *testing.T) {
	assert.Nil(t, AsProviderError("x", nil))

	orig := NewError("anthropic", KindAuthError, errors.New("no key"))
	wrapped := fmt.Errorf("call: %w", orig)
	assert.Same(t, orig, AsProviderError("other", wrapped))

	pe := AsProviderError("gw", errors.New("boom"))
	assert.Equal(t, KindTransient, pe.Kind)
	assert.Equal(t, "gw", pe.Provider)
	assert.Contains(t, pe.Error(), "boom")
}

// ==========================
// Parsing
// ==========================

func TestParseResult(t *testing.T) {
	t.Run("plain JSON", func(t *testing.T) {
		raw, err := ParseResult("p", `{"score":82,"riskScore":18,"rating":"normal"}`)
		require.NoError(t, err)
		assert.Equal(t, 82.0, *raw.Score)
		assert.Equal(t, 18.0, *raw.RiskScore)
		assert.Nil(t, raw.Confidence)
	})

	t.Run("fenced JSON", func(t *testing.T) {
		raw, err := ParseResult("p", "```json\n{\"riskScore\": 40}\n```")
		require.NoError(t, err)
		assert.Nil(t, raw.Score)
		assert.Equal(t, 40.0, *raw.RiskScore)
	})

	t.Run("null score is derived from riskScore", func(t *testing.T) {
		raw, err := ParseResult("p", `{"score":null,"riskScore":30,"confidence":null}`)
		require.NoError(t, err)
		assert.Nil(t, raw.Score)
		assert.Nil(t, raw.Confidence)

		res := normalize.Normalize(raw, models.ProviderPrimary, time.Now())
		assert.Equal(t, 70, res.Score)
		assert.Equal(t, 30, res.RiskScore)
	})

	t.Run("only null scores is malformed", func(t *testing.T) {
		_, err := ParseResult("p", `{"score":null,"riskScore":null}`)
		requireKind(t, err, KindMalformedResponse)
	})

	t.Run("prose is malformed", func(t *testing.T) {
		_, err := ParseResult("p", "I think this project is great.")
		requireKind(t, err, KindMalformedResponse)
	})

	t.Run("missing both scores is malformed", func(t *testing.T) {
		_, err := ParseResult("p", `{"confidence":80}`)
		requireKind(t, err, KindMalformedResponse)
	})

	t.Run("empty is malformed", func(t *testing.T) {
		_, err := ParseResult("p", "   ")
		requireKind(t, err, KindMalformedResponse)
	})

	t.Run("wrong field type is malformed", func(t *testing.T) {
		_, err := ParseResult("p", `{"score":70,"teamAnalysis":{"members":[{"linkedinVerified":"yes"}]}}`)
		requireKind(t, err, KindMalformedResponse)
	})
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(fullSubmission())
	assert.Contains(t, p, "Project: Relay")
	assert.Contains(t, p, "Chain: Solana")
	assert.Contains(t, p, "- allocation community: 60.00%")
	assert.Contains(t, p, "- Caro (CMO), no LinkedIn")
	assert.Contains(t, p, "- whitepaper")
	assert.Less(t, strings.Index(p, "allocation community"), strings.Index(p, "allocation team"))

	empty := BuildPrompt(nil)
	assert.Contains(t, empty, "Project: (not provided)")
	assert.Contains(t, empty, "Documents provided:\n(none)")
}

// ==========================
// Anthropic
// ==========================

func TestAnthropicProvider_Success(t *testing.T) {
	mock := &mockMessager{response: newMockMessage("```json\n{\"score\":77,\"riskScore\":23,\"confidence\":81}\n```")}
	p := NewAnthropicProviderWith(mock, AnthropicConfig{Model: "claude-test"})

	raw, err := p.Analyze(context.Background(), fullSubmission())
	require.NoError(t, err)
	assert.Equal(t, 77.0, *raw.Score)
	assert.Equal(t, 1, mock.calls)
	assert.Equal(t, anthropic.Model("claude-test"), mock.params.Model)
	assert.Equal(t, int64(defaultMaxTokens), mock.params.MaxTokens)
	assert.Equal(t, models.ProviderPrimary, p.Used())
	assert.Equal(t, AnthropicName, p.Name())
}

func TestAnthropicProvider_DefaultModel(t *testing.T) {
	p := NewAnthropicProviderWith(&mockMessager{}, AnthropicConfig{})
	assert.Equal(t, DefaultAnthropicModel, p.Model())
}

func TestAnthropicProvider_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		resp *anthropic.Message
		want ErrorKind
	}{
		{name: "rate limited", err: apiError(429), want: KindQuotaExceeded},
		{name: "bad key", err: apiError(401), want: KindAuthError},
		{name: "forbidden", err: apiError(403), want: KindAuthError},
		{name: "unknown model", err: apiError(404), want: KindModelError},
		{name: "server error", err: apiError(500), want: KindTransient},
		{name: "overloaded", err: apiError(529), want: KindTransient},
		{name: "deadline", err: context.DeadlineExceeded, want: KindTransient},
		{name: "prose answer", resp: newMockMessage("Sounds promising!"), want: KindMalformedResponse},
		{name: "no content", resp: &anthropic.Message{}, want: KindMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewAnthropicProviderWith(&mockMessager{response: tt.resp, err: tt.err}, AnthropicConfig{})
			raw, err := p.Analyze(context.Background(), fullSubmission())
			assert.Nil(t, raw)
			requireKind(t, err, tt.want)
		})
	}
}

func TestAnthropicProvider_MissingKey(t *testing.T) {
	p := NewAnthropicProvider(AnthropicConfig{APIKey: "  "})
	_, err := p.Analyze(context.Background(), fullSubmission())
	requireKind(t, err, KindAuthError)
}

// ==========================
// Gateway
// ==========================

func TestGatewayProvider_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ai/generate", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "json_object", body.ResponseFormat)
		assert.Contains(t, body.Prompt, "Relay")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": `{"score":64,"riskScore":36}`})
	}))
	defer server.Close()

	p := NewGatewayProvider(GatewayConfig{BaseURL: server.URL + "/", APIKey: "secret"}, commonhttp.NewClient(5*time.Second))
	raw, err := p.Analyze(context.Background(), fullSubmission())
	require.NoError(t, err)
	assert.Equal(t, 64.0, *raw.Score)
}

func TestGatewayProvider_RetriesTransient(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": `{"riskScore":50}`})
	}))
	defer server.Close()

	p := NewGatewayProvider(GatewayConfig{BaseURL: server.URL, MaxRetries: 2}, nil)
	raw, err := p.Analyze(context.Background(), fullSubmission())
	require.NoError(t, err)
	assert.Equal(t, 50.0, *raw.RiskScore)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGatewayProvider_NoRetryOnQuota(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"error":{"type":"insufficient_quota","message":"You exceeded your current quota"}}`))
	}))
	defer server.Close()

	p := NewGatewayProvider(GatewayConfig{BaseURL: server.URL, MaxRetries: 3}, nil)
	_, err := p.Analyze(context.Background(), fullSubmission())
	requireKind(t, err, KindQuotaExceeded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGatewayProvider_StatusKinds(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   ErrorKind
	}{
		{http.StatusUnauthorized, `{"error":"invalid key"}`, KindAuthError},
		{http.StatusNotFound, `{"error":"model gpt-x not found"}`, KindModelError},
		{http.StatusServiceUnavailable, ``, KindTransient},
		{http.StatusOK, `not json`, KindMalformedResponse},
		{http.StatusOK, `{"text":"no json here"}`, KindMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(string(tt.want), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := NewGatewayProvider(GatewayConfig{BaseURL: server.URL}, nil)
			_, err := p.Analyze(context.Background(), fullSubmission())
			requireKind(t, err, tt.want)
		})
	}
}

func TestGatewayProvider_Unconfigured(t *testing.T) {
	p := NewGatewayProvider(GatewayConfig{}, nil)
	_, err := p.Analyze(context.Background(), nil)
	requireKind(t, err, KindAuthError)
}

func TestGatewayProvider_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	p := NewGatewayProvider(GatewayConfig{BaseURL: server.URL, MaxRetries: 10}, nil)
	_, err := p.Analyze(ctx, fullSubmission())
	requireKind(t, err, KindTransient)
}

// ==========================
// Heuristic
// ==========================

func TestHeuristicProvider_FullReport(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := NewHeuristicProvider(scoring.NoJitter{}, logger.NewTestLogger(t), WithClock(func() time.Time { return fixed }))

	raw, err := p.Analyze(context.Background(), fullSubmission())
	require.NoError(t, err)

	b := scoring.Score(fullSubmission(), scoring.NoJitter{})
	assert.Equal(t, float64(b.Score), *raw.Score)
	assert.Equal(t, float64(b.RiskScore), *raw.RiskScore)
	assert.Equal(t, float64(b.Confidence), *raw.Confidence)
	assert.Equal(t, string(models.RatingHigh), *raw.Rating)

	require.Len(t, raw.Findings, 5)
	for _, f := range raw.Findings {
		assert.Equal(t, "2025-03-01T12:00:00Z", f.Timestamp)
	}
	assert.Empty(t, raw.RiskDrivers)
	assert.Len(t, raw.ComparableProjects, 2)
	assert.Equal(t, "Similar DeFi projects on Solana", raw.ComparableProjects[0].Project)
	assert.Equal(t, "good", raw.MarketOutlook.MarketFit)
	assert.Contains(t, raw.MarketOutlook.Trends, "Solana ecosystem expansion")
	assert.Equal(t, []string{"Review tokenomics for sustainability"}, raw.TokenomicsReview.Recommendations)

	require.Len(t, raw.TeamAnalysis.Members, 3)
	assert.True(t, raw.TeamAnalysis.Members[0].LinkedInVerified)
	assert.False(t, raw.TeamAnalysis.Members[2].LinkedInVerified)
	assert.Equal(t, []string{"No LinkedIn profile"}, raw.TeamAnalysis.Members[2].Flags)
	assert.Len(t, raw.TeamAnalysis.LinkedInLinks, 2)

	assert.Contains(t, raw.Strengths, "Strong team composition")
	assert.Contains(t, raw.Recommendations, "All key documents present")
	assert.Contains(t, raw.UnverifiableClaims, "1 team member(s) without a verifiable profile")
	assert.True(t, strings.HasPrefix(*raw.ExecutiveSummary, "High potential DeFi project on Solana"))
}

func TestHeuristicProvider_SparseSubmission(t *testing.T) {
	p := NewHeuristicProvider(scoring.NewSequenceJitter(0), nil)

	raw, err := p.Analyze(context.Background(), &models.Submission{FundingGoal: 25_000_000})
	require.NoError(t, err)
	assert.Equal(t, float64(scoring.MinScore), *raw.Score)
	assert.Equal(t, string(models.RatingVeryLow), *raw.Rating)

	severities := map[models.Severity]int{}
	for _, d := range raw.RiskDrivers {
		severities[d.Severity]++
	}
	assert.Equal(t, 2, severities[models.SeverityHigh])
	assert.Equal(t, 3, severities[models.SeverityMedium])

	assert.Equal(t, "poor", raw.MarketOutlook.MarketFit)
	assert.Equal(t, "Similar Other projects on Ethereum", raw.ComparableProjects[0].Project)
	assert.Equal(t, []string{"Team credentials not verified"}, raw.UnverifiableClaims)
	assert.Contains(t, raw.Risks, "Very high funding ask may be difficult to raise")
	assert.Equal(t, []string{"Tokenomics not documented"}, raw.TokenomicsReview.Concerns)
	assert.Empty(t, raw.TeamAnalysis.Members)
	assert.NotNil(t, raw.TeamAnalysis.Members)
}

func TestHeuristicProvider_NilSubmission(t *testing.T) {
	p := NewHeuristicProvider(nil, nil)
	raw, err := p.Analyze(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, raw.Score)
	assert.Equal(t, models.ProviderSimulation, p.Used())
}

func TestHeuristicProvider_IgnoresCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewHeuristicProvider(scoring.NoJitter{}, logger.NewTestLogger(t))
	raw, err := p.Analyze(ctx, fullSubmission())
	require.NoError(t, err)
	require.NotNil(t, raw.Score)
	assert.Len(t, raw.ComparableProjects, 2)
}

func TestHeuristicProvider_RatingMatchesNormalizer(t *testing.T) {
	p := NewHeuristicProvider(scoring.NoJitter{}, nil)
	for _, sub := range []*models.Submission{fullSubmission(), {}, {ProjectName: "x", Description: strings.Repeat("d", 600)}} {
		raw, err := p.Analyze(context.Background(), sub)
		require.NoError(t, err)
		assert.Equal(t, string(normalize.RatingFor(int(*raw.Score))), *raw.Rating)
	}
}
