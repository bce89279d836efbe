// Package retry implements the classification-driven exponential
// backoff engine shared by the credential manager and the request
// pipeline: repeatedly invoke an operation until it succeeds, its
// error becomes non-retryable, or an attempt ceiling is reached.
package retry

import (
	"time"

	"github.com/basalt-labs/recordsync/internal/syncerr"
)

// Policy configures one retry loop. The field names follow the spec's
// own vocabulary rather than the teacher's RetryPolicy, since this
// package's only job is to implement that vocabulary directly.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration

	// RetryableCodes restricts which syncerr.Code values this policy
	// retries. Nil means "use SyncError.IsRetryable()'s default set".
	RetryableCodes map[syncerr.Code]bool
}

// DefaultPolicy is the request pipeline's default: 5 attempts, 1s base,
// 16s cap, 250ms jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    16 * time.Second,
		Jitter:      250 * time.Millisecond,
	}
}

// CredentialPolicy is the tightened policy the credential manager
// wraps token acquisition in.
func CredentialPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		MaxDelay:    5 * time.Second,
		Jitter:      250 * time.Millisecond,
	}
}

// allowsCode reports whether this policy retries the given error code.
func (p Policy) allowsCode(code syncerr.Code, defaultRetryable bool) bool {
	if p.RetryableCodes == nil {
		return defaultRetryable
	}
	return defaultRetryable && p.RetryableCodes[code]
}
