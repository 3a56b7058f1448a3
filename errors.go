package llmgate

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors.
var (
	ErrAuthMissing            = errors.New("llmgate: missing authentication headers")
	ErrAuthInvalid            = errors.New("llmgate: invalid or expired license")
	ErrQuotaExceeded          = errors.New("llmgate: monthly quota exceeded")
	ErrInvalidRequest         = errors.New("llmgate: invalid request")
	ErrInvalidLimit           = errors.New("llmgate: invalid quota limit")
	ErrStoreUnavailable       = errors.New("llmgate: quota store unavailable")
	ErrConcurrentModification = errors.New("llmgate: concurrent modification")
	ErrRecordNotFound         = errors.New("llmgate: usage record not found")
	ErrAlreadyExists          = errors.New("llmgate: usage record already exists")
	ErrSecretNotFound         = errors.New("llmgate: secret not found")
	ErrUpstream               = errors.New("llmgate: upstream failure")
)

// AdmissionError wraps a ledger failure with the key it was working on.
type AdmissionError struct {
	Err      error
	UserID   string
	Period   string
	Attempts int
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("llmgate: admit user=%s period=%s attempts=%d: %v",
		e.UserID, e.Period, e.Attempts, e.Err)
}

func (e *AdmissionError) Unwrap() error {
	return e.Err
}

// UpstreamError describes a non-successful upstream reply.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("llmgate: upstream status %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstream
}

// IsConflict reports whether err is a store-level CAS conflict that warrants
// re-reading and retrying the admission decision.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrAlreadyExists)
}

// StatusFor maps an error to the HTTP status returned to callers.
// Anything not explicitly modeled is an internal failure.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrAuthMissing), errors.Is(err, ErrAuthInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the fixed message shown to callers for err.
// Internal details never leave the process.
func PublicMessage(err error) string {
	switch {
	case errors.Is(err, ErrAuthMissing):
		return "Missing authentication headers"
	case errors.Is(err, ErrAuthInvalid):
		return "Invalid or expired license"
	case errors.Is(err, ErrQuotaExceeded):
		return "Monthly quota exceeded"
	case errors.Is(err, ErrInvalidRequest):
		return "Invalid request body"
	default:
		return "Internal server error"
	}
}
