// internal/models/request.go
package models

import "time"

type RequestKind string

const (
	RequestPitchSubmission RequestKind = "pitch_submission"
	RequestPitchReanalysis RequestKind = "pitch_reanalysis"
	RequestIdentityVendor  RequestKind = "identity_vendor"
	RequestBusinessVendor  RequestKind = "business_vendor"
)

// AnalysisRequest is the append-only audit record of one analysis attempt.
type AnalysisRequest struct {
	ID          string      `json:"id" db:"id"`
	SubjectID   string      `json:"subjectId" db:"subject_id"`
	Submission  *Submission `json:"submission,omitempty" db:"-"`
	RequestedAt time.Time   `json:"requestedAt" db:"-"`
	Kind        RequestKind `json:"kind" db:"kind"`
}

type CooldownScope string

const (
	ScopePitch                CooldownScope = "pitch"
	ScopeIdentityVerification CooldownScope = "identity_verification"
	ScopeBusinessVerification CooldownScope = "business_verification"
)

type CooldownRecord struct {
	SubjectID      string        `json:"subjectId"`
	Scope          CooldownScope `json:"scope"`
	LastAnalyzedAt time.Time     `json:"lastAnalyzedAt"`
	WindowSeconds  int64         `json:"windowSeconds"`
}

// Until returns the instant at which the window closes.
func (c CooldownRecord) Until() time.Time {
	return c.LastAnalyzedAt.Add(time.Duration(c.WindowSeconds) * time.Second)
}

type VendorVerdict string

const (
	VerdictApproved VendorVerdict = "approved"
	VerdictRejected VendorVerdict = "rejected"
	VerdictPending  VendorVerdict = "pending"
)

// VendorDecision is the callback payload of an external KYC/KYB vendor.
type VendorDecision struct {
	SubjectID string        `json:"subjectId"`
	Stage     Stage         `json:"stage"`
	Decision  VendorVerdict `json:"decision"`
	RiskScore *float64      `json:"riskScore,omitempty"`
	Reasons   []string      `json:"reasons"`
}
