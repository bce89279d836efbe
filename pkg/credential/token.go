// Package credential owns the current bearer token, tracks its expiry,
// and guarantees that concurrent callers share exactly one in-flight
// refresh against the upstream authentication endpoint.
package credential

import (
	"time"

	"golang.org/x/oauth2"
)

// refreshBuffer is the window before expiry within which a still-valid
// token is considered in need of proactive renewal.
const refreshBuffer = 300 * time.Second

// Token is an immutable snapshot of a bearer credential. A refresh
// never mutates a Token in place; it produces a new one that atomically
// replaces the Manager's current token.
type Token struct {
	AccessString string
	SchemeLabel  string
	Lifetime     time.Duration
	IssuedAt     time.Time
}

// ExpiryInstant returns issued_at + lifetime.
func (t *Token) ExpiryInstant() time.Time {
	return t.IssuedAt.Add(t.Lifetime)
}

// NeedsRefresh reports whether now >= expiry - refreshBuffer.
func (t *Token) NeedsRefresh(now time.Time) bool {
	return !now.Before(t.ExpiryInstant().Add(-refreshBuffer))
}

// Expired reports whether now >= expiry.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiryInstant())
}

// Header renders the Authorization header value for this token.
func (t *Token) Header() string {
	return t.SchemeLabel + " " + t.AccessString
}

// OAuth2 hands back a standard *oauth2.Token so callers that want to
// drive a stdlib-compatible oauth2.Transport can do so without
// recordsync having to reimplement that plumbing.
func (t *Token) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken: t.AccessString,
		TokenType:   t.SchemeLabel,
		Expiry:      t.ExpiryInstant(),
	}
}
