// internal/workers/analysis/analyze-pitch/models.go
package analyzepitch

import "diligence-engine/internal/models"

type Input struct {
	SubjectID  string             `json:"subjectId"`
	Submission *models.Submission `json:"submission"`
}

// Output is merged into the process instance variables.
type Output struct {
	ResultID         string              `json:"resultId"`
	RequestID        string              `json:"requestId"`
	Score            int                 `json:"score"`
	RiskScore        int                 `json:"riskScore"`
	Confidence       int                 `json:"confidence"`
	Rating           models.Rating       `json:"rating"`
	ProviderUsed     models.ProviderUsed `json:"providerUsed"`
	ExecutiveSummary string              `json:"executiveSummary"`
	RiskCount        int                 `json:"riskCount"`
}
