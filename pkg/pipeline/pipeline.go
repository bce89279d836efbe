// Package pipeline composes the sync core's other components into a
// single request path: Retry wraps Rate Limiter admission wraps
// Credential attachment wraps the injected Transport. Every call the
// orchestrator makes to the upstream API goes through a Client.
package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/basalt-labs/recordsync/internal/syncerr"
	"github.com/basalt-labs/recordsync/pkg/classify"
	"github.com/basalt-labs/recordsync/pkg/credential"
	"github.com/basalt-labs/recordsync/pkg/ratelimit"
	"github.com/basalt-labs/recordsync/pkg/retry"
	"github.com/basalt-labs/recordsync/pkg/transport"
)

// defaultCallTimeout bounds a single attempt's wall-clock time,
// independent of the retry policy's own delay budget.
const defaultCallTimeout = 5 * time.Second

// Config configures a Client.
type Config struct {
	BaseURL    string
	Transport  transport.Func
	Limiter    *ratelimit.Limiter
	Credential *credential.Manager
	// Policy overrides the default retry policy for pipeline calls.
	Policy *retry.Policy
	// Timeout bounds each individual attempt. Defaults to 5s.
	Timeout time.Duration
}

// Client is the sync core's single path to the upstream API.
type Client struct {
	baseURL string
	xport   transport.Func
	limiter *ratelimit.Limiter
	cred    *credential.Manager
	policy  retry.Policy
	timeout time.Duration
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	policy := retry.DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCallTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		xport:   cfg.Transport,
		limiter: cfg.Limiter,
		cred:    cfg.Credential,
		policy:  policy,
		timeout: timeout,
	}
}

// Get issues a GET request and decodes its response body into out, if
// out is non-nil.
func (c *Client) Get(ctx context.Context, path string, out interface{}, priority int) error {
	resp, _, err := c.call(ctx, http.MethodGet, path, nil, priority)
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

// Post issues a POST request with body marshaled as JSON.
func (c *Client) Post(ctx context.Context, path string, body, out interface{}, priority int) error {
	resp, _, err := c.call(ctx, http.MethodPost, path, body, priority)
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

// Put issues a PUT request with body marshaled as JSON.
func (c *Client) Put(ctx context.Context, path string, body, out interface{}, priority int) error {
	resp, _, err := c.call(ctx, http.MethodPut, path, body, priority)
	if err != nil {
		return err
	}
	return decodeInto(resp, out)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, priority int) error {
	_, _, err := c.call(ctx, http.MethodDelete, path, nil, priority)
	return err
}

// PostTracked behaves like Post but also reports the number of
// attempts the retry engine consumed, for callers (the orchestrator)
// that report per-record retry counts.
func (c *Client) PostTracked(ctx context.Context, path string, body, out interface{}, priority int) (int, error) {
	resp, attempts, err := c.call(ctx, http.MethodPost, path, body, priority)
	if err != nil {
		return attempts, err
	}
	return attempts, decodeInto(resp, out)
}

func decodeInto(resp *transport.Response, out interface{}) error {
	if out == nil || resp == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := resp.JSON(out); err != nil {
		return syncerr.Validation("malformed response body").WithCause(err)
	}
	return nil
}

// call runs one logical request through Retry -> RateLimiter ->
// Credential -> Transport, returning the first successful response or
// the classified terminal error, plus the number of attempts made.
func (c *Client) call(ctx context.Context, method, path string, body interface{}, priority int) (*transport.Response, int, error) {
	label := method + " " + path
	attempts := 0
	resp, err := retry.Do(ctx, c.policy, label, func(ctx context.Context, attempt int) (*transport.Response, error) {
		attempts = attempt + 1
		return ratelimit.Execute(ctx, c.limiter, priority, func() (*transport.Response, error) {
			return c.attempt(ctx, method, path, body)
		})
	})
	return resp, attempts, err
}

func (c *Client) attempt(ctx context.Context, method, path string, body interface{}) (*transport.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	tok, err := c.cred.Obtain(callCtx)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", tok.Header())

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, syncerr.Validation("failed to encode request body").WithCause(err)
		}
		headers.Set("Content-Type", "application/json")
	}

	resp, err := c.xport(callCtx, transport.Request{
		Method:  method,
		URL:     c.baseURL + path,
		Headers: headers,
		Body:    bodyBytes,
	})
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, syncerr.Timeout("request exceeded per-call deadline").WithCause(err)
		}
		if classify.IsNetworkFailureSignature(err) {
			return nil, syncerr.NetworkFailure(err)
		}
		return nil, err
	}

	return classifyResponse(c, resp)
}

// classifyResponse maps a transport response onto the syncerr
// taxonomy: 2xx passes through, 401 invalidates the held credential so
// the next attempt re-authenticates, 429/503 carry any server Retry-
// After hint, and every other non-2xx status (including other 5xx) is
// a non-retryable API failure.
func classifyResponse(c *Client, resp *transport.Response) (*transport.Response, error) {
	if resp.OK() {
		return resp, nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.cred.Invalidate()
		return nil, syncerr.CredentialExpired("credential rejected by upstream").WithStatusCode(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		seconds := retryAfterSeconds(resp.Headers)
		return nil, syncerr.RateLimited(seconds).WithStatusCode(resp.StatusCode)
	}

	if resp.StatusCode == http.StatusServiceUnavailable {
		seconds := retryAfterSeconds(resp.Headers)
		return nil, syncerr.ServiceUnavailable(seconds).WithStatusCode(resp.StatusCode)
	}

	return nil, syncerr.APIFailure(resp.StatusCode, classify.BodyExcerpt(resp.Body)).WithStatusCode(resp.StatusCode)
}

// defaultRetryAfterSeconds is spec's fallback when a 429/503 response
// carries no parseable Retry-After header.
const defaultRetryAfterSeconds = 60

func retryAfterSeconds(headers http.Header) int {
	d, ok := retry.ParseRetryAfter(headers)
	if !ok {
		return defaultRetryAfterSeconds
	}
	return int(d.Seconds())
}
