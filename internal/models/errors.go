// internal/models/errors.go
package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCooldownActive       = errors.New("COOLDOWN_ACTIVE")
	ErrOutOfOrderTransition = errors.New("OUT_OF_ORDER_TRANSITION")
	ErrProviderUnavailable  = errors.New("PROVIDER_UNAVAILABLE")
	ErrPersistence          = errors.New("PERSISTENCE_FAILED")
	ErrVersionConflict      = errors.New("VERSION_CONFLICT")
	ErrNotFound             = errors.New("NOT_FOUND")
	ErrInvalidSubmission    = errors.New("INVALID_SUBMISSION")
)

// GateError is an expected, user-facing refusal. It unwraps to
// ErrCooldownActive or ErrOutOfOrderTransition.
type GateError struct {
	Kind       error
	SubjectID  string
	Stage      Stage
	SubStage   SubStage
	Scope      CooldownScope
	RetryAfter time.Duration
	Message    string
}

func (e *GateError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrCooldownActive):
		return fmt.Sprintf("%s: subject %s in %s cooldown for another %s", e.Kind, e.SubjectID, e.Scope, e.RetryAfter.Round(time.Second))
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	default:
		return fmt.Sprintf("%s: subject %s at %s/%s", e.Kind, e.SubjectID, e.Stage, e.SubStage)
	}
}

func (e *GateError) Unwrap() error { return e.Kind }

// PersistenceError wraps a store failure. Callers treat the analysis as not
// completed and may retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
