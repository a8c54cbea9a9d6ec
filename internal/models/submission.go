// internal/models/submission.go
package models

import "strings"

type DocumentKind string

const (
	DocumentPitchDeck  DocumentKind = "pitchDeck"
	DocumentWhitepaper DocumentKind = "whitepaper"
	DocumentTokenomics DocumentKind = "tokenomics"
	DocumentRoadmap    DocumentKind = "roadmap"
	DocumentLogo       DocumentKind = "logo"
)

// DocumentKinds lists every document a pitch may reference, in report order.
var DocumentKinds = []DocumentKind{
	DocumentPitchDeck,
	DocumentWhitepaper,
	DocumentTokenomics,
	DocumentRoadmap,
	DocumentLogo,
}

type TeamMember struct {
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
}

type Tokenomics struct {
	TotalSupply float64            `json:"totalSupply,omitempty"`
	Allocations map[string]float64 `json:"allocations,omitempty"`
	Vesting     string             `json:"vesting,omitempty"`
}

// HasData reports whether any tokenomics field carries a value.
func (t *Tokenomics) HasData() bool {
	if t == nil {
		return false
	}
	return t.TotalSupply > 0 || len(t.Allocations) > 0 || strings.TrimSpace(t.Vesting) != ""
}

// Submission is the founder's pitch as submitted. It is never mutated; a
// resubmission produces a new value.
type Submission struct {
	ProjectName string                  `json:"projectName,omitempty"`
	Problem     string                  `json:"problem,omitempty"`
	Solution    string                  `json:"solution,omitempty"`
	Description string                  `json:"description,omitempty"`
	Sector      string                  `json:"sector,omitempty"`
	Chain       string                  `json:"chain,omitempty"`
	Stage       string                  `json:"stage,omitempty"`
	FundingGoal float64                 `json:"fundingGoal,omitempty"`
	MarketSize  string                  `json:"marketSize,omitempty"`
	Tokenomics  *Tokenomics             `json:"tokenomics,omitempty"`
	Team        []TeamMember            `json:"team,omitempty"`
	Documents   map[DocumentKind]string `json:"documents,omitempty"`
}

// HasDocument reports whether a non-blank reference exists for kind.
func (s *Submission) HasDocument(kind DocumentKind) bool {
	if s == nil || s.Documents == nil {
		return false
	}
	return strings.TrimSpace(s.Documents[kind]) != ""
}

// LinkedMembers counts team members with a profile link.
func (s *Submission) LinkedMembers() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, m := range s.Team {
		if strings.TrimSpace(m.LinkedIn) != "" {
			n++
		}
	}
	return n
}

// Clone returns a deep copy suitable for storing as a request snapshot.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	out := *s
	if s.Tokenomics != nil {
		tok := *s.Tokenomics
		if s.Tokenomics.Allocations != nil {
			tok.Allocations = make(map[string]float64, len(s.Tokenomics.Allocations))
			for k, v := range s.Tokenomics.Allocations {
				tok.Allocations[k] = v
			}
		}
		out.Tokenomics = &tok
	}
	if s.Team != nil {
		out.Team = append([]TeamMember(nil), s.Team...)
	}
	if s.Documents != nil {
		out.Documents = make(map[DocumentKind]string, len(s.Documents))
		for k, v := range s.Documents {
			out.Documents[k] = v
		}
	}
	return &out
}
