package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basalt-labs/recordsync/internal/syncerr"
	"github.com/basalt-labs/recordsync/pkg/retry"
	"github.com/basalt-labs/recordsync/pkg/transport"
)

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func successTransport(t *testing.T, hits *int64, expiresIn int64) transport.Func {
	return func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		atomic.AddInt64(hits, 1)
		return &transport.Response{
			StatusCode: 200,
			Body: mustJSON(t, authResponse{
				AccessToken: "tok-abc",
				TokenType:   "Bearer",
				ExpiresIn:   expiresIn,
			}),
		}, nil
	}
}

func TestManager_ObtainReturnsSameTokenBeforeExpiryBuffer(t *testing.T) {
	var hits int64
	m := New(Config{BaseURL: "http://api", Identity: "id", Secret: "secret",
		Transport: successTransport(t, &hits, 3600)})

	tok1, err := m.Obtain(context.Background())
	require.NoError(t, err)
	tok2, err := m.Obtain(context.Background())
	require.NoError(t, err)

	assert.Same(t, tok1, tok2)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestManager_ObtainRefreshesWithinBuffer(t *testing.T) {
	var hits int64
	// expires_in=100s, which is within the 300s refresh buffer, so every
	// Obtain should trigger a fresh refresh.
	m := New(Config{BaseURL: "http://api", Identity: "id", Secret: "secret",
		Transport: successTransport(t, &hits, 100)})

	_, err := m.Obtain(context.Background())
	require.NoError(t, err)
	_, err = m.Obtain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestManager_SingleFlightRefresh(t *testing.T) {
	var hits int64
	release := make(chan struct{})
	var startedOnce sync.Once
	started := make(chan struct{})

	xport := func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		atomic.AddInt64(&hits, 1)
		startedOnce.Do(func() { close(started) })
		<-release
		return &transport.Response{
			StatusCode: 200,
			Body: mustJSON(t, authResponse{
				AccessToken: "tok-shared",
				TokenType:   "Bearer",
				ExpiresIn:   3600,
			}),
		}, nil
	}

	m := New(Config{BaseURL: "http://api", Identity: "id", Secret: "secret", Transport: xport})

	const callers = 5
	results := make([]*Token, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			tok, err := m.Refresh(context.Background())
			results[i] = tok
			errs[i] = err
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond) // let stragglers join the in-flight future
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
}

func TestManager_InvalidateForcesRefresh(t *testing.T) {
	var hits int64
	m := New(Config{BaseURL: "http://api", Identity: "id", Secret: "secret",
		Transport: successTransport(t, &hits, 3600)})

	_, err := m.Obtain(context.Background())
	require.NoError(t, err)
	m.Invalidate()
	_, err = m.Obtain(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestManager_NonRetryable4xxFailsImmediately(t *testing.T) {
	var hits int64
	xport := func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		atomic.AddInt64(&hits, 1)
		return &transport.Response{StatusCode: 403, Body: []byte(`{"error":{"code":"forbidden"}}`)}, nil
	}
	m := New(Config{BaseURL: "http://api", Identity: "id", Secret: "secret", Transport: xport})

	_, err := m.Obtain(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))

	se, ok := syncerr.As(err)
	require.True(t, ok)
	assert.Equal(t, syncerr.CodeAuthenticationFailed, se.Code)
	assert.False(t, se.IsRetryable())
}

func TestManager_401IsRetryableThenSucceeds(t *testing.T) {
	var hits int64
	xport := func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		n := atomic.AddInt64(&hits, 1)
		if n < 3 {
			return &transport.Response{StatusCode: http.StatusUnauthorized}, nil
		}
		return &transport.Response{StatusCode: 200, Body: mustJSON(t, authResponse{
			AccessToken: "tok-retry", TokenType: "Bearer", ExpiresIn: 3600,
		})}, nil
	}
	policy := retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Jitter: 0}
	m := New(Config{BaseURL: "http://api", Identity: "id", Secret: "secret", Transport: xport, Policy: &policy})

	tok, err := m.Obtain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-retry", tok.AccessString)
	assert.Equal(t, int64(3), atomic.LoadInt64(&hits))
}

func TestManager_RefreshFailureKeepsExistingToken(t *testing.T) {
	var hits int64
	var fail int32
	xport := func(ctx context.Context, req transport.Request) (*transport.Response, error) {
		atomic.AddInt64(&hits, 1)
		if atomic.LoadInt32(&fail) == 1 {
			return &transport.Response{StatusCode: 403}, nil
		}
		return &transport.Response{StatusCode: 200, Body: mustJSON(t, authResponse{
			AccessToken: "tok-keep", TokenType: "Bearer", ExpiresIn: 3600,
		})}, nil
	}
	m := New(Config{BaseURL: "http://api", Identity: "id", Secret: "secret", Transport: xport})

	tok, err := m.Obtain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-keep", tok.AccessString)

	atomic.StoreInt32(&fail, 1)
	_, err = m.Refresh(context.Background())
	require.Error(t, err)

	// current token is untouched by the failed refresh
	stillValid, err := m.Obtain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-keep", stillValid.AccessString)
}

func TestToken_ExpiryAndNeedsRefresh(t *testing.T) {
	now := time.Now()
	tok := &Token{IssuedAt: now, Lifetime: 400 * time.Second}

	assert.False(t, tok.NeedsRefresh(now))
	assert.False(t, tok.Expired(now))
	assert.True(t, tok.NeedsRefresh(now.Add(150*time.Second))) // within 300s buffer of 400s expiry
	assert.True(t, tok.Expired(now.Add(400*time.Second)))
}

func TestToken_OAuth2Conversion(t *testing.T) {
	now := time.Now()
	tok := &Token{AccessString: "abc", SchemeLabel: "Bearer", IssuedAt: now, Lifetime: time.Hour}
	o2 := tok.OAuth2()
	assert.Equal(t, "abc", o2.AccessToken)
	assert.Equal(t, "Bearer", o2.TokenType)
	assert.WithinDuration(t, tok.ExpiryInstant(), o2.Expiry, time.Second)
}
