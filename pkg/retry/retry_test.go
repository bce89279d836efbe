package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basalt-labs/recordsync/internal/syncerr"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), DefaultPolicy(), "test", func(ctx context.Context, attempt int) (string, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Jitter: 0}
	calls := 0
	result, err := Do(context.Background(), policy, "test", func(ctx context.Context, attempt int) (int, error) {
		calls++
		if calls < 3 {
			return 0, syncerr.ServiceUnavailable(0)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 3, calls)
}

func TestDo_NonRetryableSurfacesImmediately(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), DefaultPolicy(), "test", func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, syncerr.APIFailure(400, "bad request")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	se, ok := syncerr.As(err)
	require.True(t, ok)
	assert.Equal(t, syncerr.CodeAPIFailure, se.Code)
}

func TestDo_MaxRetriesExceededWrapsLastError(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Jitter: 0}
	calls := 0
	_, err := Do(context.Background(), policy, "test", func(ctx context.Context, attempt int) (int, error) {
		calls++
		return 0, syncerr.NetworkFailure(errors.New("boom"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	se, ok := syncerr.As(err)
	require.True(t, ok)
	assert.Equal(t, syncerr.CodeMaxRetriesExceeded, se.Code)
	assert.Equal(t, 3, se.Attempts)
}

func TestDo_CancellationDuringDelay(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: time.Second, Jitter: 0}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, policy, "test", func(ctx context.Context, attempt int) (int, error) {
		return 0, syncerr.ServiceUnavailable(0)
	})

	require.Error(t, err)
	se, ok := syncerr.As(err)
	require.True(t, ok)
	assert.Equal(t, syncerr.CodeCanceled, se.Code)
}

func TestComputeDelay_ExponentialBackoffNoJitter(t *testing.T) {
	policy := Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: 1600 * time.Millisecond, Jitter: 0}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, 1600 * time.Millisecond},
		{5, 1600 * time.Millisecond},
	}

	for _, tt := range tests {
		got := computeDelay(policy, tt.attempt, nil)
		assert.Equal(t, tt.want, got, "attempt %d", tt.attempt)
	}
}

func TestComputeDelay_JitterBounded(t *testing.T) {
	policy := Policy{MaxAttempts: 10, BaseDelay: 1 * time.Second, MaxDelay: 16 * time.Second, Jitter: 250 * time.Millisecond}

	for attempt := 0; attempt < 5; attempt++ {
		base := float64(policy.BaseDelay) * pow2(attempt)
		if base > float64(policy.MaxDelay) {
			base = float64(policy.MaxDelay)
		}
		lo := time.Duration(base) - policy.Jitter
		if lo < 0 {
			lo = 0
		}
		hi := time.Duration(base) + policy.Jitter

		for i := 0; i < 20; i++ {
			got := computeDelay(policy, attempt, nil)
			assert.GreaterOrEqual(t, got, lo)
			assert.LessOrEqual(t, got, hi)
		}
	}
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

func TestComputeDelay_ServerHintOverridesBackoff(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 16 * time.Second, Jitter: 250 * time.Millisecond}
	se := syncerr.RateLimited(2)

	got := computeDelay(policy, 10, se) // large attempt index would normally cap at MaxDelay
	assert.GreaterOrEqual(t, got, 2*time.Second-policy.Jitter)
	assert.LessOrEqual(t, got, 2*time.Second+policy.Jitter)
}

func TestParseRetryAfter_Seconds(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "2")

	d, ok := ParseRetryAfter(h)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	future := time.Now().Add(5 * time.Second).UTC()
	h := http.Header{}
	h.Set("Retry-After", future.Format(http.TimeFormat))

	d, ok := ParseRetryAfter(h)
	require.True(t, ok)
	assert.InDelta(t, 5*float64(time.Second), float64(d), float64(2*time.Second))
}

func TestParseRetryAfter_Absent(t *testing.T) {
	h := http.Header{}
	d, ok := ParseRetryAfter(h)
	assert.False(t, ok)
	assert.Zero(t, d)
}

func TestParseRetryAfter_Unparseable(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "not-a-value")
	d, ok := ParseRetryAfter(h)
	assert.False(t, ok)
	assert.Zero(t, d)
}
