package registration

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every error returned by Register matches exactly one kind via
// errors.Is.
var (
	ErrInvalidRequest         = errors.New("invalid registration request")
	ErrDuplicateAccount       = errors.New("duplicate account")
	ErrPersistence            = errors.New("persistence error")
	ErrGrantIssuance          = errors.New("grant issuance error")
	ErrThreadCreation         = errors.New("thread creation error")
	ErrCompensation           = errors.New("compensation failure")
	ErrRegistrationInProgress = errors.New("registration already in progress for this email")
)

// Field-specific duplicates. Both match ErrDuplicateAccount.
var (
	ErrDuplicateEmail    = fmt.Errorf("%w: email already registered", ErrDuplicateAccount)
	ErrDuplicateUsername = fmt.Errorf("%w: username already taken", ErrDuplicateAccount)
)

// Collaborator contract errors.
var (
	// ErrAccountNotFound is returned by the account store for unknown ids.
	ErrAccountNotFound = errors.New("account not found")

	// ErrThreadBusy is returned by the verification service when a run
	// cannot start because the thread already has an active run.
	ErrThreadBusy = errors.New("verification thread is busy")
)

// UniqueViolationError is returned by AccountStore.Insert when the store's
// uniqueness constraint rejects the row.
type UniqueViolationError struct {
	Field string // "email", "username", or "" when the store cannot tell
}

func (e *UniqueViolationError) Error() string {
	if e.Field == "" {
		return "unique constraint violation"
	}
	return "unique constraint violation on " + e.Field
}

// StageError tags a failure with the saga stage being attempted. It unwraps
// to both its kind and its cause.
type StageError struct {
	Stage Stage
	Kind  error
	Cause error
}

func (e *StageError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Cause)
}

func (e *StageError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func stageErr(stage Stage, kind, cause error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Cause: cause}
}

// FailureError is the failed form of a registration outcome.
type FailureError struct {
	// AttemptID identifies the saga in the journal.
	AttemptID string
	// Stage is the stage whose transition failed.
	Stage Stage
	// LastCompleted is the furthest stage confirmed before the failure.
	LastCompleted Stage
	// AccountID is set when an account was created before the failure.
	AccountID int64
	// Cause is the original stage error; compensation never replaces it.
	Cause error
	// Compensation holds one result per undone resource. Nil when nothing
	// needed undoing.
	Compensation CompensationSummary
	// Retryable reports whether the whole request can be attempted again.
	Retryable bool
}

func (e *FailureError) Error() string {
	msg := fmt.Sprintf("registration failed at %s: %v", e.Stage, e.Cause)
	if len(e.Compensation) > 0 {
		msg += fmt.Sprintf(" (compensation: %s)", e.Compensation)
	}
	return msg
}

func (e *FailureError) Unwrap() error { return e.Cause }

// Reason is a short operator-facing description of the cause.
func (e *FailureError) Reason() string {
	switch {
	case errors.Is(e.Cause, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(e.Cause, context.Canceled):
		return "cancelled"
	}
	var se *StageError
	if errors.As(e.Cause, &se) {
		if se.Cause != nil {
			return se.Cause.Error()
		}
		return se.Kind.Error()
	}
	return e.Cause.Error()
}

// CleanedUp reports whether every attempted compensation succeeded.
func (e *FailureError) CleanedUp() bool {
	return e.Compensation.AllUndone()
}

// Kind returns the taxonomy kind of the failure, or nil if the cause carries
// none.
func (e *FailureError) Kind() error {
	var se *StageError
	if errors.As(e.Cause, &se) {
		return se.Kind
	}
	return nil
}
