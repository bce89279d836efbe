// Package syncerr defines the error taxonomy shared by every component
// of the sync core: credential refresh, rate limiting, retry, the
// request pipeline, and the orchestrator all return errors wrapped in
// *SyncError so callers can classify failures without type-switching
// on provider- or transport-specific error values.
package syncerr

import "fmt"

// Code categorizes a SyncError.
type Code string

const (
	CodeAuthenticationFailed Code = "authentication_failed"
	CodeCredentialExpired    Code = "credential_expired"
	CodeRateLimited          Code = "rate_limited"
	CodeServiceUnavailable   Code = "service_unavailable"
	CodeTimeout              Code = "timeout"
	CodeNetworkFailure       Code = "network_failure"
	CodeAPIFailure           Code = "api_failure"
	CodeDatabaseFailure      Code = "database_failure"
	CodeMaxRetriesExceeded   Code = "max_retries_exceeded"
	CodeConfigurationInvalid Code = "configuration_invalid"
	CodeValidation           Code = "validation"
	CodeCanceled             Code = "canceled"
)

// retryableByCode mirrors the retryable_kinds set from the retry
// engine's policy parameters: codes not listed here default to
// non-retryable.
var retryableByCode = map[Code]bool{
	CodeServiceUnavailable: true,
	CodeTimeout:            true,
	CodeNetworkFailure:     true,
	CodeRateLimited:        true,
	CodeCredentialExpired:  true,
}

// SyncError is the single error type returned across the sync core.
type SyncError struct {
	Code        Code
	Message     string
	StatusCode  int
	RetryAfter  int // seconds; 0 means no server-supplied hint
	OriginalErr error
	Attempts    int // populated for CodeMaxRetriesExceeded

	// retryableOverride lets a specific occurrence of a code diverge
	// from the code's default verdict — e.g. a 401 during credential
	// acquisition is retryable even though CodeAuthenticationFailed
	// defaults to non-retryable for other 4xx statuses.
	retryableOverride *bool
}

func (e *SyncError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status=%d)", e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *SyncError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports whether the retry engine should retry an
// operation that failed with this error.
func (e *SyncError) IsRetryable() bool {
	if e.retryableOverride != nil {
		return *e.retryableOverride
	}
	return retryableByCode[e.Code]
}

// WithRetryable overrides the code's default retryability verdict for
// this specific error occurrence.
func (e *SyncError) WithRetryable(retryable bool) *SyncError {
	e.retryableOverride = &retryable
	return e
}

// HasRetryAfter reports whether the error carries a server-supplied
// retry hint (Retry-After on 429/503 responses).
func (e *SyncError) HasRetryAfter() bool {
	return e.RetryAfter > 0
}

// New creates a SyncError of the given code.
func New(code Code, message string) *SyncError {
	return &SyncError{Code: code, Message: message}
}

// WithStatusCode sets the HTTP status code and returns the error for chaining.
func (e *SyncError) WithStatusCode(status int) *SyncError {
	e.StatusCode = status
	return e
}

// WithRetryAfter sets the server-supplied retry hint in seconds.
func (e *SyncError) WithRetryAfter(seconds int) *SyncError {
	e.RetryAfter = seconds
	return e
}

// WithCause wraps the original error and returns the error for chaining.
func (e *SyncError) WithCause(err error) *SyncError {
	e.OriginalErr = err
	return e
}

// WithAttempts sets the attempt count (used by MaxRetriesExceeded).
func (e *SyncError) WithAttempts(attempts int) *SyncError {
	e.Attempts = attempts
	return e
}

// Constructors for each taxonomy member named in the spec.

func AuthenticationFailed(message string) *SyncError {
	return New(CodeAuthenticationFailed, message)
}

func CredentialExpired(message string) *SyncError {
	return New(CodeCredentialExpired, message)
}

func RateLimited(retryAfterSeconds int) *SyncError {
	return New(CodeRateLimited, "rate limited by server").WithRetryAfter(retryAfterSeconds)
}

func ServiceUnavailable(retryAfterSeconds int) *SyncError {
	return New(CodeServiceUnavailable, "service unavailable").WithRetryAfter(retryAfterSeconds)
}

func Timeout(message string) *SyncError {
	return New(CodeTimeout, message)
}

func NetworkFailure(cause error) *SyncError {
	return New(CodeNetworkFailure, "network failure").WithCause(cause)
}

func APIFailure(status int, bodyExcerpt string) *SyncError {
	return New(CodeAPIFailure, bodyExcerpt).WithStatusCode(status)
}

func DatabaseFailure(cause error) *SyncError {
	msg := "failed to persist record"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	return New(CodeDatabaseFailure, msg).WithCause(cause)
}

func MaxRetriesExceeded(attempts int, cause error) *SyncError {
	return New(CodeMaxRetriesExceeded, "max retry attempts exceeded").
		WithCause(cause).WithAttempts(attempts)
}

func ConfigurationInvalid(message string) *SyncError {
	return New(CodeConfigurationInvalid, message)
}

func Validation(message string) *SyncError {
	return New(CodeValidation, message)
}

func Canceled(message string) *SyncError {
	return New(CodeCanceled, message)
}

// As attempts to extract a *SyncError from err, walking the Unwrap chain.
func As(err error) (*SyncError, bool) {
	for err != nil {
		if se, ok := err.(*SyncError); ok {
			return se, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}
