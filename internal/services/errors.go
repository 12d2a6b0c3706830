package services

import (
	"errors"
	"fmt"
	"net/http"
)

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string { return "Validation error" }

type ConflictError struct{ Message string }

func (e *ConflictError) Error() string { return e.Message }

type NotFoundError struct{ Message string }

func (e *NotFoundError) Error() string { return e.Message }

type UnauthorizedError struct{ Message string }

func (e *UnauthorizedError) Error() string { return e.Message }

type ForbiddenError struct{ Message string }

func (e *ForbiddenError) Error() string { return e.Message }

type RateLimitError struct{ Message string }

func (e *RateLimitError) Error() string { return e.Message }

// AuthConfigError means the provider credentials are missing or unusable.
// It is raised at startup and never retried.
type AuthConfigError struct{ Missing []string }

func (e *AuthConfigError) Error() string {
	return fmt.Sprintf("zoom: missing credentials %v", e.Missing)
}

// TokenFetchError wraps a failed OAuth exchange.
type TokenFetchError struct {
	Status int
	Err    error
}

func (e *TokenFetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("zoom: token exchange failed with status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("zoom: token exchange failed: %v", e.Err)
}

func (e *TokenFetchError) Unwrap() error { return e.Err }

// ProviderAPIError is any non-2xx answer from the meeting API.
type ProviderAPIError struct {
	Op      string
	Status  int
	Code    int
	Message string
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("zoom %s: status %d: %s", e.Op, e.Status, e.Message)
}

// Transient reports whether the failure is worth retrying on an idempotent verb.
func (e *ProviderAPIError) Transient() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

// PartialFailureError means the remote side changed but the local record
// did not follow. For creates, CompensationErr is the failed cleanup delete.
// Callers must reconcile manually.
type PartialFailureError struct {
	Op              string
	CourseID        string
	SessionID       string
	MeetingID       string
	Cause           error
	CompensationErr error
}

func (e *PartialFailureError) Error() string {
	msg := fmt.Sprintf("partial failure in %s (course %s, meeting %s): remote applied, local persistence failed: %v",
		e.Op, e.CourseID, e.MeetingID, e.Cause)
	if e.CompensationErr != nil {
		msg += fmt.Sprintf("; compensation failed: %v", e.CompensationErr)
	}
	return msg
}

func (e *PartialFailureError) Unwrap() []error {
	if e.CompensationErr != nil {
		return []error{e.Cause, e.CompensationErr}
	}
	return []error{e.Cause}
}

// InvalidStateError rejects an operation the session lifecycle does not allow.
type InvalidStateError struct {
	SessionID string
	State     string
	Op        string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("live session %s is %s; cannot %s", e.SessionID, e.State, e.Op)
}

// IsProviderNotFound reports whether err is a provider 404.
func IsProviderNotFound(err error) bool {
	var apiErr *ProviderAPIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// IsTransient reports whether err is a retryable provider or transport failure.
func IsTransient(err error) bool {
	var apiErr *ProviderAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var tokenErr *TokenFetchError
	if errors.As(err, &tokenErr) {
		return tokenErr.Status == 0 || tokenErr.Status >= 500
	}
	return false
}
