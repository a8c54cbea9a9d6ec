// Package scoring computes the heuristic completeness score of a pitch
// submission. It performs no I/O.
package scoring

import (
	"math"
	"strings"

	"diligence-engine/internal/models"
)

const (
	MinScore = 30
	MaxScore = 100

	MinConfidence = 60
	MaxConfidence = 95

	maxDocuments    = 55
	maxTeam         = 20
	maxNarrative    = 15
	maxTokenomics   = 15
	maxPlausibility = 10

	scoreJitterSpan = 10 // ±5
	riskJitterSpan  = 2  // ±1
	confidenceStep  = 7
)

// DocumentWeights sum to maxDocuments. Whitepaper and tokenomics weigh most.
var DocumentWeights = map[models.DocumentKind]int{
	models.DocumentPitchDeck:  10,
	models.DocumentWhitepaper: 15,
	models.DocumentTokenomics: 15,
	models.DocumentRoadmap:    10,
	models.DocumentLogo:       5,
}

var plausibleStages = map[string]bool{
	"mvp":    true,
	"beta":   true,
	"launch": true,
}

// Breakdown holds the per-category points and the final figures.
type Breakdown struct {
	Documents    int `json:"documents"`
	Team         int `json:"team"`
	Narrative    int `json:"narrative"`
	Tokenomics   int `json:"tokenomics"`
	Plausibility int `json:"plausibility"`

	// Signals counts categories where the submission supplied anything at all.
	Signals int `json:"signals"`

	Base       int `json:"base"`
	Score      int `json:"score"`
	RiskScore  int `json:"riskScore"`
	Confidence int `json:"confidence"`
}

// Score evaluates sub. Identical input and jitter sequence give identical output.
func Score(sub *models.Submission, jitter Jitter) Breakdown {
	if sub == nil {
		sub = &models.Submission{}
	}
	if jitter == nil {
		jitter = NoJitter{}
	}

	b := Breakdown{
		Documents:    documentPoints(sub),
		Team:         teamPoints(sub),
		Narrative:    narrativePoints(sub),
		Tokenomics:   tokenomicsPoints(sub),
		Plausibility: plausibilityPoints(sub),
		Signals:      signalCount(sub),
	}
	b.Base = b.Documents + b.Team + b.Narrative + b.Tokenomics + b.Plausibility

	b.Score = Clamp(b.Base+offset(jitter, scoreJitterSpan), MinScore, MaxScore)
	b.RiskScore = Clamp(100-b.Score+offset(jitter, riskJitterSpan), 1, 100)
	b.Confidence = Clamp(MinConfidence+confidenceStep*b.Signals, MinConfidence, MaxConfidence)
	return b
}

// offset maps jitter onto [-span/2, span/2].
func offset(j Jitter, span int) int {
	return int(math.Round(j.Next()*float64(span) - float64(span)/2))
}

func documentPoints(sub *models.Submission) int {
	points := 0
	for _, kind := range models.DocumentKinds {
		if sub.HasDocument(kind) {
			points += DocumentWeights[kind]
		}
	}
	return Clamp(points, 0, maxDocuments)
}

func teamPoints(sub *models.Submission) int {
	members := len(sub.Team)
	points := Clamp(members*3, 0, 9)
	if members >= 3 {
		points += 5
	}
	points += Clamp(sub.LinkedMembers()*2, 0, 6)
	return Clamp(points, 0, maxTeam)
}

func narrativePoints(sub *models.Submission) int {
	points := 0
	length := len([]rune(strings.TrimSpace(sub.Description)))
	if length > 200 {
		points += 5
	}
	if length > 500 {
		points += 5
	}
	if strings.TrimSpace(sub.Problem) != "" && strings.TrimSpace(sub.Solution) != "" {
		points += 5
	}
	return Clamp(points, 0, maxNarrative)
}

func tokenomicsPoints(sub *models.Submission) int {
	tok := sub.Tokenomics
	if !tok.HasData() {
		return 0
	}
	points := 3
	if tok.TotalSupply > 0 {
		points += 4
	}
	if len(tok.Allocations) > 0 {
		points += 4
	}
	if strings.TrimSpace(tok.Vesting) != "" {
		points += 4
	}
	return Clamp(points, 0, maxTokenomics)
}

func plausibilityPoints(sub *models.Submission) int {
	points := 0
	sector := strings.TrimSpace(sub.Sector)
	if sector != "" && !strings.EqualFold(sector, "other") {
		points += 3
	}
	if strings.TrimSpace(sub.Chain) != "" {
		points += 2
	}
	if plausibleStages[strings.ToLower(strings.TrimSpace(sub.Stage))] {
		points += 5
	}
	return Clamp(points, 0, maxPlausibility)
}

func signalCount(sub *models.Submission) int {
	n := 0
	hasDoc := false
	for _, kind := range models.DocumentKinds {
		if sub.HasDocument(kind) {
			hasDoc = true
			break
		}
	}
	if hasDoc {
		n++
	}
	if len(sub.Team) > 0 {
		n++
	}
	if strings.TrimSpace(sub.Description) != "" || strings.TrimSpace(sub.Problem) != "" || strings.TrimSpace(sub.Solution) != "" {
		n++
	}
	if sub.Tokenomics.HasData() {
		n++
	}
	if strings.TrimSpace(sub.Sector) != "" || strings.TrimSpace(sub.Chain) != "" || strings.TrimSpace(sub.Stage) != "" {
		n++
	}
	return n
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
