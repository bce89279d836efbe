package credential

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/basalt-labs/recordsync/internal/logctx"
	"github.com/basalt-labs/recordsync/internal/syncerr"
	"github.com/basalt-labs/recordsync/pkg/classify"
	"github.com/basalt-labs/recordsync/pkg/retry"
	"github.com/basalt-labs/recordsync/pkg/transport"
)

// authResponse is the expected body of a successful login response.
type authResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// refreshFuture is the stored one-shot completion handle that makes
// concurrent refresh callers share a single in-flight result — the
// single-flight coalescing design note from spec.md §9, generalized
// from the teacher's refreshInFlight map (keyed per credential ID,
// since it manages a pool) down to a single stored future, since this
// manager owns exactly one bearer credential.
type refreshFuture struct {
	done  chan struct{}
	token *Token
	err   error
}

// Manager produces a currently-valid token on demand, refreshes before
// expiry, and ensures at most one concurrent refresh against the
// upstream authentication endpoint regardless of caller count.
type Manager struct {
	baseURL  string
	identity string
	secret   string
	scheme   string
	xport    transport.Func
	policy   retry.Policy

	mu       sync.Mutex
	current  *Token
	inFlight *refreshFuture
}

// Config configures a Manager.
type Config struct {
	BaseURL  string
	Identity string
	Secret   string
	// Scheme is the Authorization scheme label given to an issued token
	// when the login response carries no token_type; a non-empty
	// token_type from the response is used instead. Defaults to
	// "Bearer" if empty.
	Scheme    string
	Transport transport.Func
	// Policy overrides the default tightened credential-acquisition
	// retry policy (3 attempts / 1s base / 5s max / 250ms jitter).
	Policy *retry.Policy
}

// New constructs a Manager. The returned Manager holds no token until
// the first Obtain or Refresh call.
func New(cfg Config) *Manager {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "Bearer"
	}
	policy := retry.CredentialPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	return &Manager{
		baseURL:  cfg.BaseURL,
		identity: cfg.Identity,
		secret:   cfg.Secret,
		scheme:   scheme,
		xport:    cfg.Transport,
		policy:   policy,
	}
}

// Obtain returns the current token if valid and not within the
// refresh buffer; otherwise triggers (or joins) a refresh and returns
// its result.
func (m *Manager) Obtain(ctx context.Context) (*Token, error) {
	m.mu.Lock()
	if m.current != nil && !m.current.NeedsRefresh(time.Now()) {
		tok := m.current
		m.mu.Unlock()
		return tok, nil
	}
	fut := m.joinOrStartLocked(ctx)
	m.mu.Unlock()

	<-fut.done
	return fut.token, fut.err
}

// Refresh forces a refresh; coalesces with any in-flight refresh.
func (m *Manager) Refresh(ctx context.Context) (*Token, error) {
	m.mu.Lock()
	fut := m.joinOrStartLocked(ctx)
	m.mu.Unlock()

	<-fut.done
	return fut.token, fut.err
}

// joinOrStartLocked must be called with m.mu held. It returns the
// in-flight future, starting a new refresh if none is running.
func (m *Manager) joinOrStartLocked(ctx context.Context) *refreshFuture {
	if m.inFlight != nil {
		return m.inFlight
	}
	fut := &refreshFuture{done: make(chan struct{})}
	m.inFlight = fut
	go m.runRefresh(ctx, fut)
	return fut
}

// runRefresh performs the upstream call outside the lock so it never
// blocks other callers from discovering the in-flight future.
func (m *Manager) runRefresh(ctx context.Context, fut *refreshFuture) {
	tok, err := m.authenticate(ctx)

	m.mu.Lock()
	if err == nil {
		m.current = tok
	}
	m.inFlight = nil
	m.mu.Unlock()

	if err != nil {
		logctx.Error("credential refresh failed", logctx.F("error", err))
	}

	fut.token = tok
	fut.err = err
	close(fut.done)
}

// Invalidate discards the current token; the next Obtain acquires fresh.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

// ExpiryInstant reports when the current token expires, if any.
func (m *Manager) ExpiryInstant() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return time.Time{}, false
	}
	return m.current.ExpiryInstant(), true
}

// TimeUntilExpiry reports how long until the current token expires, if any.
func (m *Manager) TimeUntilExpiry() (time.Duration, bool) {
	expiry, ok := m.ExpiryInstant()
	if !ok {
		return 0, false
	}
	return time.Until(expiry), true
}

// authenticate performs the POST to <base>/auth/login, wrapped in the
// tightened retry policy described in spec.md §4.1.
func (m *Manager) authenticate(ctx context.Context) (*Token, error) {
	return retry.Do(ctx, m.policy, "auth/login", func(ctx context.Context, attempt int) (*Token, error) {
		basic := base64.StdEncoding.EncodeToString([]byte(m.identity + ":" + m.secret))
		headers := http.Header{}
		headers.Set("Authorization", "Basic "+basic)
		headers.Set("Content-Type", "application/json")

		resp, err := m.xport(ctx, transport.Request{
			Method:  http.MethodPost,
			URL:     m.baseURL + "/auth/login",
			Headers: headers,
			Body:    []byte("{}"),
		})
		issuedAt := time.Now()
		if err != nil {
			if classify.IsNetworkFailureSignature(err) {
				return nil, syncerr.NetworkFailure(err)
			}
			return nil, err
		}

		if resp.OK() {
			var body authResponse
			if decodeErr := resp.JSON(&body); decodeErr != nil {
				return nil, syncerr.AuthenticationFailed("malformed auth response").WithCause(decodeErr)
			}
			scheme := body.TokenType
			if scheme == "" {
				scheme = m.scheme
			}
			return &Token{
				AccessString: body.AccessToken,
				SchemeLabel:  scheme,
				Lifetime:     time.Duration(body.ExpiresIn) * time.Second,
				IssuedAt:     issuedAt,
			}, nil
		}

		if resp.StatusCode == http.StatusUnauthorized {
			// A 401 acquiring a fresh token is itself retryable per
			// spec.md §4.1 ("Authentication failures (4xx other than
			// 401) are non-retryable"), distinct from other 4xx.
			return nil, syncerr.AuthenticationFailed("credentials rejected").
				WithStatusCode(resp.StatusCode).WithRetryable(true)
		}
		if resp.StatusCode >= 500 {
			return nil, syncerr.ServiceUnavailable(0).WithStatusCode(resp.StatusCode)
		}

		return nil, syncerr.AuthenticationFailed("credentials rejected").
			WithStatusCode(resp.StatusCode).WithRetryable(false)
	})
}
