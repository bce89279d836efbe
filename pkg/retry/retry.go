package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/basalt-labs/recordsync/internal/logctx"
	"github.com/basalt-labs/recordsync/internal/syncerr"
)

// AttemptContext describes one retry: its index, the error that
// triggered it, and the delay before it. Do does not build or pass
// one; its retry log lines carry the same facts as fields.
type AttemptContext struct {
	Index     int // 0-based, attempt 0 is the first retry after the initial failure
	LastErr   error
	NextDelay time.Duration
}

// rng backs the jitter computation, matching the teacher's
// ExponentialBackoffStrategy's per-strategy math/rand source. Guarded
// by rngMu since every concurrent pipeline/queue worker's retry loop
// shares this one source.
var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter only, not security sensitive
)

func jitterFloat64() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}

// Do repeatedly invokes fn until it succeeds, its error is classified
// non-retryable, or the policy's attempt ceiling is reached. caller is
// a short description used in retry log lines (e.g. "GET /api/records").
func Do[T any](ctx context.Context, policy Policy, caller string, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		se, ok := syncerr.As(err)
		retryable := ok && se.IsRetryable()
		if policy.RetryableCodes != nil && ok {
			retryable = policy.allowsCode(se.Code, retryable)
		}

		if !retryable {
			return zero, err
		}

		nextAttempt := attempt + 1
		if nextAttempt >= policy.MaxAttempts {
			return zero, syncerr.MaxRetriesExceeded(nextAttempt, err)
		}

		delay := computeDelay(policy, attempt, se)
		logctx.Warn("retrying after failure",
			logctx.F("caller", caller),
			logctx.F("attempt", attempt),
			logctx.F("delay_ms", delay.Milliseconds()),
			logctx.F("error", err),
		)

		select {
		case <-ctx.Done():
			return zero, syncerr.Canceled("retry loop canceled").WithCause(ctx.Err())
		case <-time.After(delay):
		}
	}

	return zero, syncerr.MaxRetriesExceeded(policy.MaxAttempts, lastErr)
}

// computeDelay implements the spec's delay formula: base =
// min(baseDelay * 2^attempt, maxDelay), final = max(0, round(base +
// jitter)), jitter uniform in [-Jitter, +Jitter]. A server-supplied
// retry-after hint on the classified error overrides the exponential
// component entirely: delay = hint*1000ms + jitter, still floored at 0.
func computeDelay(policy Policy, attempt int, se *syncerr.SyncError) time.Duration {
	jitterComponent := time.Duration(0)
	if policy.Jitter > 0 {
		jitterComponent = time.Duration((jitterFloat64()*2 - 1) * float64(policy.Jitter))
	}

	if se != nil && se.HasRetryAfter() {
		delay := time.Duration(se.RetryAfter)*time.Second + jitterComponent
		if delay < 0 {
			delay = 0
		}
		return delay
	}

	base := float64(policy.BaseDelay) * math.Pow(2, float64(attempt))
	if policy.MaxDelay > 0 && base > float64(policy.MaxDelay) {
		base = float64(policy.MaxDelay)
	}

	delay := time.Duration(base) + jitterComponent
	if delay < 0 {
		delay = 0
	}
	return delay
}
