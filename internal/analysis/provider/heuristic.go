package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"diligence-engine/internal/analysis/normalize"
	"diligence-engine/internal/analysis/scoring"
	"diligence-engine/internal/common/logger"
	"diligence-engine/internal/models"
)

const (
	HeuristicName = "heuristic"

	defaultSector      = "Other"
	defaultChain       = "Ethereum"
	highFundingGoalUSD = 10_000_000
)

// HeuristicProvider scores a submission locally and builds a full report
// from the same signals. It makes no external calls and never fails.
type HeuristicProvider struct {
	jitter scoring.Jitter
	now    func() time.Time
	logger logger.Logger
}

type HeuristicOption func(*HeuristicProvider)

func WithClock(now func() time.Time) HeuristicOption {
	return func(p *HeuristicProvider) { p.now = now }
}

func NewHeuristicProvider(jitter scoring.Jitter, log logger.Logger, opts ...HeuristicOption) *HeuristicProvider {
	if jitter == nil {
		jitter = scoring.NoJitter{}
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	p := &HeuristicProvider{
		jitter: jitter,
		now:    time.Now,
		logger: log.WithFields(map[string]interface{}{"provider": HeuristicName}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *HeuristicProvider) Name() string              { return HeuristicName }
func (p *HeuristicProvider) Used() models.ProviderUsed { return models.ProviderSimulation }

// Analyze always returns a result and a nil error.
func (p *HeuristicProvider) Analyze(_ context.Context, sub *models.Submission) (*models.RawResult, error) {
	if sub == nil {
		sub = &models.Submission{}
	}
	b := scoring.Score(sub, p.jitter)
	f := newFacts(sub)
	stamp := p.now().UTC().Format(time.RFC3339)
	p.logger.Debug("Heuristic score computed", map[string]interface{}{
		"score":      b.Score,
		"riskScore":  b.RiskScore,
		"confidence": b.Confidence,
	})

	return &models.RawResult{
		Score:              models.Float(float64(b.Score)),
		RiskScore:          models.Float(float64(b.RiskScore)),
		Confidence:         models.Float(float64(b.Confidence)),
		Rating:             models.String(string(normalize.RatingFor(b.Score))),
		Findings:           f.findings(stamp),
		RiskDrivers:        f.riskDrivers(b.Score),
		ComparableProjects: f.comparableProjects(),
		MarketOutlook:      f.marketOutlook(b.Score),
		TokenomicsReview:   f.tokenomicsReview(),
		TeamAnalysis:       f.teamAnalysis(),
		UnverifiableClaims: f.unverifiableClaims(),
		Strengths:          f.strengths(),
		Risks:              f.risks(b.Score),
		Recommendations:    f.recommendations(b.Score),
		ExecutiveSummary:   models.String(f.summary(b.Score)),
	}, nil
}

// ==========================
// Report assembly
// ==========================

type facts struct {
	sub           *models.Submission
	sector        string
	chain         string
	hasPitchDeck  bool
	hasWhitepaper bool
	hasTokenDoc   bool
	hasRoadmap    bool
	hasLogo       bool
	teamSize      int
	linked        int
	descLen       int
}

func newFacts(sub *models.Submission) facts {
	sector := strings.TrimSpace(sub.Sector)
	if sector == "" {
		sector = defaultSector
	}
	chain := strings.TrimSpace(sub.Chain)
	if chain == "" {
		chain = defaultChain
	}
	return facts{
		sub:           sub,
		sector:        sector,
		chain:         chain,
		hasPitchDeck:  sub.HasDocument(models.DocumentPitchDeck),
		hasWhitepaper: sub.HasDocument(models.DocumentWhitepaper),
		hasTokenDoc:   sub.HasDocument(models.DocumentTokenomics),
		hasRoadmap:    sub.HasDocument(models.DocumentRoadmap),
		hasLogo:       sub.HasDocument(models.DocumentLogo),
		teamSize:      len(sub.Team),
		linked:        sub.LinkedMembers(),
		descLen:       len([]rune(strings.TrimSpace(sub.Description))),
	}
}

func (f facts) fullyDocumented() bool {
	return f.hasWhitepaper && f.hasTokenDoc
}

func (f facts) hasProblemSolution() bool {
	return strings.TrimSpace(f.sub.Problem) != "" && strings.TrimSpace(f.sub.Solution) != ""
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}

func (f facts) findings(stamp string) []models.Finding {
	team := "Team information missing"
	if f.teamSize > 0 {
		team = fmt.Sprintf("Team of %d members identified", f.teamSize)
		if f.linked > 0 {
			team += " with LinkedIn profiles"
		}
	}

	return []models.Finding{
		{
			Category:  "Document Analysis",
			Finding:   pick(f.hasPitchDeck, "Pitch deck provided", "Pitch deck missing, a professional presentation is recommended"),
			Source:    pick(f.hasPitchDeck, "Pitch Deck Document", "Document Review"),
			Timestamp: stamp,
			Evidence:  pick(f.hasPitchDeck, "Pitch deck reference present", "Pitch deck not found in submission"),
		},
		{
			Category:  "Document Analysis",
			Finding:   pick(f.hasWhitepaper, "Whitepaper provided with technical details", "Whitepaper missing, critical for investor confidence"),
			Source:    pick(f.hasWhitepaper, "Whitepaper Document", "Document Review"),
			Timestamp: stamp,
			Evidence:  pick(f.hasWhitepaper, "Whitepaper reference present", "Whitepaper not found in submission"),
		},
		{
			Category:  "Tokenomics Review",
			Finding:   pick(f.hasTokenDoc, "Tokenomics document provided with a distribution plan", "Tokenomics document missing, essential for an investment decision"),
			Source:    pick(f.hasTokenDoc, "Tokenomics Document", "Tokenomics Review"),
			Timestamp: stamp,
			Evidence:  pick(f.hasTokenDoc, "Tokenomics reference present", "Tokenomics document not found"),
		},
		{
			Category:  "Team Analysis",
			Finding:   team,
			Source:    "Team Data",
			Timestamp: stamp,
			Evidence:  pick(f.teamSize > 0, fmt.Sprintf("%d team members provided", f.teamSize), "No team members listed"),
		},
		{
			Category:  "Project Description",
			Finding:   pick(f.descLen > 500, "Comprehensive project description provided", "Project description needs more detail"),
			Source:    "Project Submission",
			Timestamp: stamp,
			Evidence:  fmt.Sprintf("Description length: %d characters", f.descLen),
		},
	}
}

// comparableProjects describes the peer group generically. Indexed peers
// are filled in by the engine after normalization.
func (f facts) comparableProjects() []models.ComparableProject {
	return []models.ComparableProject{
		{
			Project:        fmt.Sprintf("Similar %s projects on %s", f.sector, f.chain),
			Similarity:     "Sector and blockchain alignment",
			MarketPosition: "Competitive market with established players",
		},
		{
			Project:        fmt.Sprintf("%s ecosystem projects", f.sector),
			Similarity:     "Same sector focus",
			MarketPosition: "Growing market opportunity",
		},
	}
}

func (f facts) riskDrivers(score int) []models.RiskDriver {
	var out []models.RiskDriver
	if !f.hasPitchDeck {
		out = append(out, models.RiskDriver{
			Risk:        "Missing pitch deck reduces investor confidence and clarity",
			Severity:    models.SeverityMedium,
			Remediation: "Create a pitch deck with key metrics, visuals and the value proposition",
			Evidence:    "Pitch deck not found in project submission",
		})
	}
	if !f.hasWhitepaper {
		out = append(out, models.RiskDriver{
			Risk:        "No whitepaper, technical architecture unclear",
			Severity:    models.SeverityHigh,
			Remediation: "Publish a whitepaper covering architecture, tokenomics and roadmap",
			Evidence:    "Whitepaper not found in project submission",
		})
	}
	if !f.hasTokenDoc {
		out = append(out, models.RiskDriver{
			Risk:        "Tokenomics not documented, token distribution unclear",
			Severity:    models.SeverityHigh,
			Remediation: "Document allocation, vesting and the distribution schedule",
			Evidence:    "Tokenomics document not found",
		})
	}
	if f.teamSize < 2 {
		out = append(out, models.RiskDriver{
			Risk:        "Limited team size may impact execution capability",
			Severity:    models.SeverityMedium,
			Remediation: "Consider expanding the team with key roles such as CTO or CFO",
			Evidence:    fmt.Sprintf("Only %d team member(s) listed", f.teamSize),
		})
	}
	if score < 60 {
		out = append(out, models.RiskDriver{
			Risk:        "Overall project viability concerns based on completeness",
			Severity:    models.SeverityMedium,
			Remediation: "Complete missing documentation and strengthen the core value proposition",
			Evidence:    fmt.Sprintf("Overall score: %d/100", score),
		})
	}
	return out
}

func (f facts) marketOutlook(score int) *models.MarketOutlook {
	fit := "poor"
	switch {
	case score >= 75:
		fit = "good"
	case score >= 60:
		fit = "moderate"
	}

	narrative := fmt.Sprintf("%s sector on %s shows %s growth potential. %s and %s.",
		f.sector, f.chain,
		pick(score >= 70, "strong", "moderate"),
		pick(f.teamSize >= 3, "Team composition is strong", "Team needs expansion"),
		pick(f.fullyDocumented(), "documentation is comprehensive", "documentation needs completion"),
	)

	return &models.MarketOutlook{
		Narrative: narrative,
		MarketFit: fit,
		Trends: []string{
			fmt.Sprintf("%s sector growth", f.sector),
			fmt.Sprintf("%s ecosystem expansion", f.chain),
			"Increased institutional interest",
		},
		Opportunity: pick(score >= 70,
			"Strong market opportunity with proper execution",
			"Market opportunity exists but requires a stronger foundation"),
	}
}

func (f facts) tokenomicsReview() *models.TokenomicsReview {
	tok := f.sub.Tokenomics
	review := &models.TokenomicsReview{
		Assessment:      "Tokenomics documentation incomplete",
		Strengths:       []string{},
		Concerns:        []string{},
		Recommendations: []string{},
	}
	if tok.HasData() {
		review.Assessment = "Tokenomics structure provided with allocation details"
		review.Strengths = append(review.Strengths, "Tokenomics structure defined")
		if len(tok.Allocations) > 0 {
			review.Strengths = append(review.Strengths, "Allocation plan provided")
		}
	}

	hasVesting := tok != nil && strings.TrimSpace(tok.Vesting) != ""
	switch {
	case !f.hasTokenDoc && !tok.HasData():
		review.Concerns = append(review.Concerns, "Tokenomics not documented")
		review.Recommendations = append(review.Recommendations, "Document complete tokenomics")
	case !hasVesting:
		review.Concerns = append(review.Concerns, "Vesting schedule not specified")
		review.Recommendations = append(review.Recommendations, "Add vesting schedule")
	default:
		review.Recommendations = append(review.Recommendations, "Review tokenomics for sustainability")
	}
	return review
}

func (f facts) teamAnalysis() *models.TeamAnalysis {
	overall := "Team information not provided"
	if f.teamSize > 0 {
		overall = fmt.Sprintf("Team of %d members%s", f.teamSize,
			pick(f.teamSize >= 3, " with good composition", ", consider expansion"))
	}

	ta := &models.TeamAnalysis{
		Overall:       overall,
		Members:       make([]models.TeamMemberAnalysis, 0, f.teamSize),
		LinkedInLinks: []string{},
	}
	for _, m := range f.sub.Team {
		link := strings.TrimSpace(m.LinkedIn)
		member := models.TeamMemberAnalysis{
			Name:             pick(strings.TrimSpace(m.Name) != "", m.Name, "Unknown"),
			Role:             pick(strings.TrimSpace(m.Role) != "", m.Role, "Team Member"),
			LinkedInVerified: link != "",
			Credibility:      pick(link != "", "LinkedIn profile provided", "No LinkedIn profile"),
			Flags:            []string{},
		}
		if link == "" {
			member.Flags = append(member.Flags, "No LinkedIn profile")
		} else {
			ta.LinkedInLinks = append(ta.LinkedInLinks, link)
		}
		ta.Members = append(ta.Members, member)
	}
	return ta
}

func (f facts) unverifiableClaims() []string {
	var out []string
	if f.teamSize == 0 {
		out = append(out, "Team credentials not verified")
	} else if f.linked < f.teamSize {
		out = append(out, fmt.Sprintf("%d team member(s) without a verifiable profile", f.teamSize-f.linked))
	}
	if strings.TrimSpace(f.sub.MarketSize) != "" {
		out = append(out, "Market size estimate not independently verified")
	}
	return out
}

func (f facts) strengths() []string {
	var out []string
	if f.hasPitchDeck {
		out = append(out, "Professional pitch deck presentation")
	}
	if f.hasWhitepaper {
		out = append(out, "Comprehensive whitepaper documentation")
	}
	if f.hasTokenDoc {
		out = append(out, "Well-defined tokenomics structure")
	}
	if f.hasRoadmap {
		out = append(out, "Clear development roadmap")
	}
	switch {
	case f.teamSize >= 3:
		out = append(out, "Strong team composition")
	case f.teamSize > 0:
		out = append(out, "Team structure in place")
	}
	if f.descLen > 500 {
		out = append(out, "Detailed project description")
	}
	if f.hasProblemSolution() {
		out = append(out, "Clear problem-solution fit")
	}
	if strings.TrimSpace(f.sub.MarketSize) != "" {
		out = append(out, "Market opportunity identified")
	}
	return out
}

func (f facts) risks(score int) []string {
	var out []string
	if !f.hasPitchDeck {
		out = append(out, "Missing pitch deck reduces investor confidence")
	}
	if !f.hasWhitepaper {
		out = append(out, "No whitepaper, technical details unclear")
	}
	if !f.hasTokenDoc {
		out = append(out, "Tokenomics not documented")
	}
	if !f.hasRoadmap {
		out = append(out, "No roadmap, development timeline unclear")
	}
	if f.teamSize < 2 {
		out = append(out, "Limited team size may impact execution")
	}
	if f.descLen < 200 {
		out = append(out, "Project description needs more detail")
	}
	if score < 60 {
		out = append(out, "Overall project viability concerns")
	}
	if f.sub.FundingGoal > highFundingGoalUSD {
		out = append(out, "Very high funding ask may be difficult to raise")
	}
	return out
}

func (f facts) recommendations(score int) []string {
	var out []string
	if !f.hasPitchDeck {
		out = append(out, "Create a professional pitch deck with key metrics and visuals")
	}
	if !f.hasWhitepaper {
		out = append(out, "Develop a whitepaper with the technical architecture")
	}
	if !f.hasTokenDoc {
		out = append(out, "Document complete tokenomics including allocation and vesting")
	}
	if !f.hasRoadmap {
		out = append(out, "Create a roadmap with milestones and timelines")
	}
	if !f.hasLogo {
		out = append(out, "Add a project logo for brand recognition")
	}
	if f.teamSize < 3 {
		out = append(out, "Consider expanding the team with key roles")
	}
	if f.descLen < 500 {
		out = append(out, "Expand the project description")
	}
	if score < 70 {
		out = append(out, "Strengthen core value proposition and market positioning")
	}
	if f.hasPitchDeck && f.fullyDocumented() {
		out = append(out, "All key documents present")
	}
	return out
}

func (f facts) summary(score int) string {
	label := map[models.Rating]string{
		models.RatingHigh:    "High",
		models.RatingNormal:  "Normal",
		models.RatingLow:     "Low",
		models.RatingVeryLow: "Very low",
	}[normalize.RatingFor(score)]

	return fmt.Sprintf("%s potential %s project on %s (%d/100). %s. %s. %s.",
		label, f.sector, f.chain, score,
		pick(f.teamSize >= 3, "Strong team", "Team needs expansion"),
		pick(f.fullyDocumented(), "Comprehensive documentation", "Documentation incomplete"),
		pick(score >= 70, "Ready for investor review", "Needs improvement before investor presentation"),
	)
}
