package provider

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"diligence-engine/internal/common/validation"
	"diligence-engine/internal/models"
)

const systemPrompt = `You are a due-diligence analyst for early-stage blockchain projects.
Assess the submission you are given and respond with a single JSON object and nothing else.

Required keys:
  "score"       number 0-100, overall investment readiness
  "riskScore"   number 1-100, must equal 100 - score
  "confidence"  number 0-100
  "rating"      one of "high", "normal", "low", "very_low"

Optional keys:
  "findings"            [{"category","finding","source","timestamp","evidence"}]
  "riskDrivers"         [{"risk","severity":"high|medium|low","remediation","evidence"}]
  "comparableProjects"  [{"project","similarity","marketPosition"}]
  "marketOutlook"       {"narrative","marketFit","trends":[],"opportunity"}
  "tokenomicsReview"    {"assessment","strengths":[],"concerns":[],"recommendations":[]}
  "teamAnalysis"        {"overall","members":[{"name","role","linkedinVerified","credibility","flags":[]}],"linkedinLinks":[]}
  "unverifiableClaims", "strengths", "risks", "recommendations"  arrays of strings
  "executiveSummary"    string

Do not invent facts about team members. List anything you cannot verify under "unverifiableClaims".`

// BuildPrompt renders a submission into the user message sent to an LLM.
// Map-valued fields are rendered in sorted key order so the prompt is stable.
func BuildPrompt(sub *models.Submission) string {
	if sub == nil {
		sub = &models.Submission{}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s\n", orNone(sub.ProjectName))
	fmt.Fprintf(&b, "Sector: %s\n", orNone(sub.Sector))
	fmt.Fprintf(&b, "Chain: %s\n", orNone(sub.Chain))
	fmt.Fprintf(&b, "Stage: %s\n", orNone(sub.Stage))
	if sub.FundingGoal > 0 {
		fmt.Fprintf(&b, "Funding goal (USD): %.0f\n", sub.FundingGoal)
	}
	if sub.MarketSize != "" {
		fmt.Fprintf(&b, "Market size: %s\n", sub.MarketSize)
	}

	b.WriteString("\nProblem:\n")
	b.WriteString(orNone(sub.Problem))
	b.WriteString("\n\nSolution:\n")
	b.WriteString(orNone(sub.Solution))
	b.WriteString("\n\nDescription:\n")
	b.WriteString(orNone(sub.Description))
	b.WriteString("\n")

	b.WriteString("\nTokenomics:\n")
	if !sub.Tokenomics.HasData() {
		b.WriteString("(none provided)\n")
	} else {
		t := sub.Tokenomics
		if t.TotalSupply > 0 {
			fmt.Fprintf(&b, "- total supply: %.0f\n", t.TotalSupply)
		}
		keys := make([]string, 0, len(t.Allocations))
		for k := range t.Allocations {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- allocation %s: %.2f%%\n", k, t.Allocations[k])
		}
		if t.Vesting != "" {
			fmt.Fprintf(&b, "- vesting: %s\n", t.Vesting)
		}
	}

	b.WriteString("\nTeam:\n")
	if len(sub.Team) == 0 {
		b.WriteString("(none provided)\n")
	}
	for _, m := range sub.Team {
		linked := "no LinkedIn"
		if m.LinkedIn != "" {
			linked = "LinkedIn: " + m.LinkedIn
		}
		fmt.Fprintf(&b, "- %s (%s), %s\n", m.Name, orNone(m.Role), linked)
	}

	b.WriteString("\nDocuments provided:\n")
	listed := false
	for _, kind := range models.DocumentKinds {
		if sub.HasDocument(kind) {
			fmt.Fprintf(&b, "- %s\n", kind)
			listed = true
		}
	}
	if !listed {
		b.WriteString("(none)\n")
	}

	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(not provided)"
	}
	return s
}

// stripCodeFences removes a surrounding ``` or ```json fence if the model added one.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseResult decodes model output into a RawResult. Anything that is not a
// JSON object satisfying the provider result schema is malformed.
func ParseResult(provider, text string) (*models.RawResult, error) {
	body := stripCodeFences(text)
	if body == "" {
		return nil, NewError(provider, KindMalformedResponse, fmt.Errorf("empty response"))
	}

	if vr := validation.ProviderResult.ValidateBytes([]byte(body)); !vr.Valid {
		return nil, NewError(provider, KindMalformedResponse, vr.Err())
	}

	var raw models.RawResult
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, NewError(provider, KindMalformedResponse, fmt.Errorf("decode result: %w", err))
	}
	return &raw, nil
}
