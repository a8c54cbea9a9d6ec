// internal/workers/onboarding/vendor-decision/models.go
package vendordecision

// Input carries the vendor verdict as the process received it.
type Input struct {
	SubjectID string   `json:"subjectId"`
	Stage     string   `json:"stage"`
	Decision  string   `json:"vendorDecision"`
	RiskScore *float64 `json:"vendorRiskScore,omitempty"`
	Reasons   []string `json:"vendorReasons"`
}

type Output struct {
	ResultID  string `json:"vendorResultId"`
	Score     int    `json:"vendorScore"`
	RiskScore int    `json:"vendorRiskScore"`
	Rating    string `json:"vendorRating"`
	Stage     string `json:"onboardingStage"`
	SubStage  string `json:"onboardingSubStage"`
	Version   int64  `json:"onboardingVersion"`
}
