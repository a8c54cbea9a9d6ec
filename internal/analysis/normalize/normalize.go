// Package normalize turns any provider RawResult into an AnalysisResult whose
// numeric fields are in range and whose collections are never nil.
package normalize

import (
	"fmt"
	"math"
	"strings"
	"time"

	"diligence-engine/internal/models"
)

const (
	DefaultScore      = 50
	DefaultConfidence = 75

	// ComplementTolerance is how far an explicit riskScore may drift from
	// 100-score before it is recomputed.
	ComplementTolerance = 1
)

// RatingFor maps a score onto the fixed threshold table.
func RatingFor(score int) models.Rating {
	switch {
	case score >= 85:
		return models.RatingHigh
	case score >= 70:
		return models.RatingNormal
	case score >= 50:
		return models.RatingLow
	default:
		return models.RatingVeryLow
	}
}

// Complement returns clamp(100-score, 1, 100).
func Complement(score int) int {
	return clamp(100-score, 1, 100)
}

// Normalize builds a compliant result from raw. A nil raw yields the defaults.
// The caller assigns ID, RequestID and SubjectID.
func Normalize(raw *models.RawResult, provider models.ProviderUsed, now time.Time) *models.AnalysisResult {
	if raw == nil {
		raw = &models.RawResult{}
	}
	now = now.UTC()

	var adjustments []string
	score, risk := scorePair(raw.Score, raw.RiskScore, &adjustments)

	confidence := DefaultConfidence
	if v, ok := finite(raw.Confidence); ok {
		confidence = clampRound(v, 0, 100)
	}

	rating := RatingFor(score)
	if raw.Rating != nil {
		if label := ratingLabel(*raw.Rating); label != "" && label != rating {
			adjustments = append(adjustments, fmt.Sprintf("provider rating %q replaced by %q for score %d", *raw.Rating, rating, score))
		}
	}

	res := &models.AnalysisResult{
		Score:              score,
		RiskScore:          risk,
		Confidence:         confidence,
		Rating:             rating,
		Findings:           findings(raw.Findings, now),
		RiskDrivers:        riskDrivers(raw.RiskDrivers, &adjustments),
		ComparableProjects: nonNil(raw.ComparableProjects),
		MarketOutlook:      marketOutlook(raw.MarketOutlook),
		TokenomicsReview:   tokenomicsReview(raw.TokenomicsReview),
		TeamAnalysis:       teamAnalysis(raw.TeamAnalysis),
		UnverifiableClaims: nonNil(raw.UnverifiableClaims),
		Strengths:          nonNil(raw.Strengths),
		Risks:              nonNil(raw.Risks),
		Recommendations:    nonNil(raw.Recommendations),
		ProviderUsed:       provider,
		Adjustments:        nonNil(adjustments),
		GeneratedAt:        now,
	}
	if raw.ExecutiveSummary != nil {
		res.ExecutiveSummary = *raw.ExecutiveSummary
	}
	return res
}

// scorePair resolves score and riskScore. When only one is present the other
// is its exact complement. When both are present an inconsistency beyond
// ComplementTolerance recomputes riskScore from score and is recorded.
func scorePair(rawScore, rawRisk *float64, adjustments *[]string) (int, int) {
	s, hasScore := finite(rawScore)
	r, hasRisk := finite(rawRisk)

	switch {
	case hasScore && hasRisk:
		score := clampRound(s, 0, 100)
		risk := clampRound(r, 1, 100)
		if expected := Complement(score); abs(risk-expected) > ComplementTolerance {
			*adjustments = append(*adjustments, fmt.Sprintf("riskScore %d inconsistent with score %d; recomputed as %d", risk, score, expected))
			risk = expected
		}
		return score, risk
	case hasScore:
		score := clampRound(s, 0, 100)
		return score, Complement(score)
	case hasRisk:
		risk := clampRound(r, 1, 100)
		return 100 - risk, risk
	default:
		return DefaultScore, Complement(DefaultScore)
	}
}

func ratingLabel(s string) models.Rating {
	label := strings.ToLower(strings.TrimSpace(s))
	label = strings.NewReplacer(" ", "_", "-", "_").Replace(label)
	switch models.Rating(label) {
	case models.RatingHigh, models.RatingNormal, models.RatingLow, models.RatingVeryLow:
		return models.Rating(label)
	default:
		return ""
	}
}

func findings(in []models.Finding, now time.Time) []models.Finding {
	out := make([]models.Finding, 0, len(in))
	for _, f := range in {
		if f.Timestamp == "" {
			f.Timestamp = now.Format(time.RFC3339)
		}
		out = append(out, f)
	}
	return out
}

func riskDrivers(in []models.RiskDriver, adjustments *[]string) []models.RiskDriver {
	out := make([]models.RiskDriver, 0, len(in))
	for _, d := range in {
		sev := models.Severity(strings.ToLower(strings.TrimSpace(string(d.Severity))))
		switch sev {
		case models.SeverityHigh, models.SeverityMedium, models.SeverityLow:
		default:
			*adjustments = append(*adjustments, fmt.Sprintf("risk driver severity %q coerced to %q", d.Severity, models.SeverityMedium))
			sev = models.SeverityMedium
		}
		d.Severity = sev
		out = append(out, d)
	}
	return out
}

func marketOutlook(in *models.MarketOutlook) models.MarketOutlook {
	if in == nil {
		return models.MarketOutlook{Trends: []string{}}
	}
	out := *in
	out.Trends = nonNil(out.Trends)
	return out
}

func tokenomicsReview(in *models.TokenomicsReview) models.TokenomicsReview {
	if in == nil {
		return models.TokenomicsReview{Strengths: []string{}, Concerns: []string{}, Recommendations: []string{}}
	}
	out := *in
	out.Strengths = nonNil(out.Strengths)
	out.Concerns = nonNil(out.Concerns)
	out.Recommendations = nonNil(out.Recommendations)
	return out
}

func teamAnalysis(in *models.TeamAnalysis) models.TeamAnalysis {
	if in == nil {
		return models.TeamAnalysis{Members: []models.TeamMemberAnalysis{}, LinkedInLinks: []string{}}
	}
	out := models.TeamAnalysis{
		Overall:       in.Overall,
		Members:       make([]models.TeamMemberAnalysis, 0, len(in.Members)),
		LinkedInLinks: nonNil(in.LinkedInLinks),
	}
	for _, m := range in.Members {
		m.Flags = nonNil(m.Flags)
		out.Members = append(out.Members, m)
	}
	return out
}

// CheckInvariants reports the first range or consistency violation in res.
func CheckInvariants(res *models.AnalysisResult) error {
	switch {
	case res == nil:
		return fmt.Errorf("nil result")
	case res.Score < 0 || res.Score > 100:
		return fmt.Errorf("score %d out of range", res.Score)
	case res.RiskScore < 1 || res.RiskScore > 100:
		return fmt.Errorf("riskScore %d out of range", res.RiskScore)
	case res.Confidence < 0 || res.Confidence > 100:
		return fmt.Errorf("confidence %d out of range", res.Confidence)
	case abs(res.RiskScore-Complement(res.Score)) > ComplementTolerance:
		return fmt.Errorf("riskScore %d inconsistent with score %d", res.RiskScore, res.Score)
	case res.Rating != RatingFor(res.Score):
		return fmt.Errorf("rating %q does not match score %d", res.Rating, res.Score)
	}
	return nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func finite(v *float64) (float64, bool) {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return 0, false
	}
	return *v, true
}

// clampRound bounds v before converting so huge inputs never overflow int.
func clampRound(v float64, lo, hi int) int {
	v = math.Max(float64(lo), math.Min(float64(hi), v))
	return clamp(int(math.Round(v)), lo, hi)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
