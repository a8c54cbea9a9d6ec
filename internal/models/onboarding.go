// internal/models/onboarding.go
package models

import (
	"fmt"
	"time"
)

type Stage string

const (
	StageRegistration         Stage = "registration"
	StageIdentityVerification Stage = "identity_verification"
	StageBusinessVerification Stage = "business_verification"
	StagePitch                Stage = "pitch"
	StageDone                 Stage = "done"
)

// Stages is the fixed onboarding order.
var Stages = []Stage{
	StageRegistration,
	StageIdentityVerification,
	StageBusinessVerification,
	StagePitch,
	StageDone,
}

// ParseStage rejects anything outside the closed set.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageRegistration, StageIdentityVerification, StageBusinessVerification, StagePitch, StageDone:
		return Stage(s), nil
	default:
		return "", fmt.Errorf("unknown onboarding stage %q", s)
	}
}

type SubStage string

const (
	SubStageNotStarted SubStage = "not_started"
	SubStageInProgress SubStage = "in_progress"
	SubStageSubmitted  SubStage = "submitted"
	SubStageApproved   SubStage = "approved"
	SubStageRejected   SubStage = "rejected"
	SubStageSkipped    SubStage = "skipped"
)

func ParseSubStage(s string) (SubStage, error) {
	switch SubStage(s) {
	case SubStageNotStarted, SubStageInProgress, SubStageSubmitted, SubStageApproved, SubStageRejected, SubStageSkipped:
		return SubStage(s), nil
	default:
		return "", fmt.Errorf("unknown onboarding sub-stage %q", s)
	}
}

type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionSkip    Decision = "skip"
)

func ParseDecision(s string) (Decision, error) {
	switch Decision(s) {
	case DecisionApprove, DecisionReject, DecisionSkip:
		return Decision(s), nil
	default:
		return "", fmt.Errorf("unknown onboarding decision %q", s)
	}
}

// Transition is one history entry of an onboarding state.
type Transition struct {
	Stage   Stage     `json:"stage"`
	From    SubStage  `json:"from"`
	To      SubStage  `json:"to"`
	At      time.Time `json:"at"`
	Reasons []string  `json:"reasons,omitempty"`
}

// OnboardingState is the per-subject position in the onboarding sequence.
// Version increases on every write and guards compare-and-swap updates.
type OnboardingState struct {
	SubjectID        string             `json:"subjectId"`
	Stage            Stage              `json:"stage"`
	SubStage         SubStage           `json:"subStage"`
	LastTransitionAt time.Time          `json:"lastTransitionAt"`
	RejectionReasons []string           `json:"rejectionReasons"`
	Stages           map[Stage]SubStage `json:"stages"`
	History          []Transition       `json:"history"`
	Version          int64              `json:"version"`
}

// Clone returns a deep copy so transitions never alias a stored value.
func (s *OnboardingState) Clone() *OnboardingState {
	if s == nil {
		return nil
	}
	out := *s
	out.RejectionReasons = append([]string{}, s.RejectionReasons...)
	out.History = append([]Transition{}, s.History...)
	out.Stages = make(map[Stage]SubStage, len(s.Stages))
	for k, v := range s.Stages {
		out.Stages[k] = v
	}
	return &out
}
