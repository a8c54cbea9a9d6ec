// Package provider defines the analysis backend contract and its
// implementations: an Anthropic-backed LLM, an HTTP GenAI gateway, and the
// local heuristic that never fails.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"diligence-engine/internal/models"
)

// Provider analyzes one submission. Failures are always *ProviderError.
type Provider interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Used is the provenance recorded on results this backend produced.
	Used() models.ProviderUsed
	Analyze(ctx context.Context, sub *models.Submission) (*models.RawResult, error)
}

type ErrorKind string

const (
	KindQuotaExceeded     ErrorKind = "quota_exceeded"
	KindAuthError         ErrorKind = "auth_error"
	KindModelError        ErrorKind = "model_error"
	KindTransient         ErrorKind = "transient"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// Soft reports whether the kind is an anticipated operational condition
// rather than a defect or outage.
func (k ErrorKind) Soft() bool {
	switch k {
	case KindQuotaExceeded, KindAuthError:
		return true
	case KindModelError, KindTransient, KindMalformedResponse:
		return false
	default:
		return false
	}
}

type ProviderError struct {
	Kind     ErrorKind
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func NewError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Err: err}
}

// AsProviderError extracts a *ProviderError, wrapping anything else as transient.
func AsProviderError(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return NewError(provider, KindTransient, err)
}

// ClassifyStatus maps an HTTP status and body onto an error kind.
func ClassifyStatus(status int, body string) ErrorKind {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "insufficient_quota"), strings.Contains(lower, "quota_exceeded"):
		return KindQuotaExceeded
	case status == 429 || status == 402:
		return KindQuotaExceeded
	case status == 401 || status == 403:
		return KindAuthError
	case status == 404 || status == 400 || status == 422:
		return KindModelError
	case status >= 500:
		return KindTransient
	case status == 408:
		return KindTransient
	default:
		return KindModelError
	}
}
