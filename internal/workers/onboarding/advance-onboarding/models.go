// internal/workers/onboarding/advance-onboarding/models.go
package advanceonboarding

const (
	ActionStart  = "start"
	ActionSubmit = "submit"
	ActionDecide = "decide"
)

// Input drives one onboarding step. Action defaults to decide.
type Input struct {
	SubjectID string   `json:"subjectId"`
	Stage     string   `json:"stage"`
	Action    string   `json:"action,omitempty"`
	Decision  string   `json:"decision,omitempty"`
	Reasons   []string `json:"reasons,omitempty"`
}

type Output struct {
	Stage            string   `json:"onboardingStage"`
	SubStage         string   `json:"onboardingSubStage"`
	Version          int64    `json:"onboardingVersion"`
	RejectionReasons []string `json:"rejectionReasons"`
	Completed        bool     `json:"onboardingCompleted"`
}
