package types

import (
	"errors"
	"fmt"
)

// ValidationError reports bad input. Never retried, surfaced immediately.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ProviderUnavailableError marks a transient provider failure.
// The collector retries with backoff, then degrades that provider's
// data for the cycle instead of aborting it.
type ProviderUnavailableError struct {
	Provider string
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

// ProviderDeniedError marks an authorization failure from a provider.
// Not retried; the provider is degraded for the cycle.
type ProviderDeniedError struct {
	Provider string
	Err      error
}

func (e *ProviderDeniedError) Error() string {
	return fmt.Sprintf("provider %s denied access: %v", e.Provider, e.Err)
}

func (e *ProviderDeniedError) Unwrap() error { return e.Err }

// StateConflictError reports an operation that contradicts observed
// remote state, e.g. attaching an already-attached volume. Reported,
// not retried; the caller decides.
type StateConflictError struct {
	ResourceID string
	Msg        string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict on %s: %s", e.ResourceID, e.Msg)
}

// JobFailedError is terminal for a resilience job. Remote effects of
// prior steps are not rolled back automatically.
type JobFailedError struct {
	JobID string
	Step  string
	Err   error
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed at step %s: %v", e.JobID, e.Step, e.Err)
}

func (e *JobFailedError) Unwrap() error { return e.Err }

// FatalError aborts the process: configuration or persistence corruption.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsProviderUnavailable reports whether err marks a transient provider failure.
func IsProviderUnavailable(err error) bool {
	var pe *ProviderUnavailableError
	return errors.As(err, &pe)
}

// IsProviderDenied reports whether err marks a provider authorization failure.
func IsProviderDenied(err error) bool {
	var pe *ProviderDeniedError
	return errors.As(err, &pe)
}

// IsStateConflict reports whether err is a state conflict.
func IsStateConflict(err error) bool {
	var se *StateConflictError
	return errors.As(err, &se)
}

// IsFatal reports whether err should abort the process.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
