// internal/models/result.go
package models

import "time"

type Rating string

const (
	RatingHigh    Rating = "high"
	RatingNormal  Rating = "normal"
	RatingLow     Rating = "low"
	RatingVeryLow Rating = "very_low"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ProviderUsed records which backend produced a stored result.
type ProviderUsed string

const (
	ProviderPrimary    ProviderUsed = "primary"
	ProviderSimulation ProviderUsed = "fallback-simulation"
	ProviderVendor     ProviderUsed = "vendor"
)

type Finding struct {
	Category  string `json:"category"`
	Finding   string `json:"finding"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Evidence  string `json:"evidence"`
}

type RiskDriver struct {
	Risk        string   `json:"risk"`
	Severity    Severity `json:"severity"`
	Remediation string   `json:"remediation"`
	Evidence    string   `json:"evidence"`
}

type ComparableProject struct {
	Project        string `json:"project"`
	Similarity     string `json:"similarity"`
	MarketPosition string `json:"marketPosition"`
}

type MarketOutlook struct {
	Narrative   string   `json:"narrative"`
	MarketFit   string   `json:"marketFit"`
	Trends      []string `json:"trends"`
	Opportunity string   `json:"opportunity"`
}

type TokenomicsReview struct {
	Assessment      string   `json:"assessment"`
	Strengths       []string `json:"strengths"`
	Concerns        []string `json:"concerns"`
	Recommendations []string `json:"recommendations"`
}

type TeamMemberAnalysis struct {
	Name             string   `json:"name"`
	Role             string   `json:"role"`
	LinkedInVerified bool     `json:"linkedinVerified"`
	Credibility      string   `json:"credibility"`
	Flags            []string `json:"flags"`
}

type TeamAnalysis struct {
	Overall       string               `json:"overall"`
	Members       []TeamMemberAnalysis `json:"members"`
	LinkedInLinks []string             `json:"linkedinLinks"`
}

// AnalysisResult is the normalized, stored assessment. Every field is always
// populated; collections are empty rather than nil.
type AnalysisResult struct {
	ID                 string              `json:"id"`
	RequestID          string              `json:"requestId"`
	SubjectID          string              `json:"subjectId"`
	Score              int                 `json:"score"`
	RiskScore          int                 `json:"riskScore"`
	Confidence         int                 `json:"confidence"`
	Rating             Rating              `json:"rating"`
	Findings           []Finding           `json:"findings"`
	RiskDrivers        []RiskDriver        `json:"riskDrivers"`
	ComparableProjects []ComparableProject `json:"comparableProjects"`
	MarketOutlook      MarketOutlook       `json:"marketOutlook"`
	TokenomicsReview   TokenomicsReview    `json:"tokenomicsReview"`
	TeamAnalysis       TeamAnalysis        `json:"teamAnalysis"`
	UnverifiableClaims []string            `json:"unverifiableClaims"`
	Strengths          []string            `json:"strengths"`
	Risks              []string            `json:"risks"`
	Recommendations    []string            `json:"recommendations"`
	ExecutiveSummary   string              `json:"executiveSummary"`
	ProviderUsed       ProviderUsed        `json:"providerUsed"`
	Adjustments        []string            `json:"adjustments"`
	GeneratedAt        time.Time           `json:"generatedAt"`
}

// RawResult is what a provider hands back before normalization. Scalars are
// pointers so that "absent" and "zero" stay distinguishable.
type RawResult struct {
	Score              *float64            `json:"score,omitempty"`
	RiskScore          *float64            `json:"riskScore,omitempty"`
	Confidence         *float64            `json:"confidence,omitempty"`
	Rating             *string             `json:"rating,omitempty"`
	Findings           []Finding           `json:"findings,omitempty"`
	RiskDrivers        []RiskDriver        `json:"riskDrivers,omitempty"`
	ComparableProjects []ComparableProject `json:"comparableProjects,omitempty"`
	MarketOutlook      *MarketOutlook      `json:"marketOutlook,omitempty"`
	TokenomicsReview   *TokenomicsReview   `json:"tokenomicsReview,omitempty"`
	TeamAnalysis       *TeamAnalysis       `json:"teamAnalysis,omitempty"`
	UnverifiableClaims []string            `json:"unverifiableClaims,omitempty"`
	Strengths          []string            `json:"strengths,omitempty"`
	Risks              []string            `json:"risks,omitempty"`
	Recommendations    []string            `json:"recommendations,omitempty"`
	ExecutiveSummary   *string             `json:"executiveSummary,omitempty"`
}

// Float is a convenience for building RawResult literals.
func Float(v float64) *float64 { return &v }

// String is a convenience for building RawResult literals.
func String(v string) *string { return &v }
