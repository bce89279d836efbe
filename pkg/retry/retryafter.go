package retry

import (
	"net/http"
	"strconv"
	"time"
)

// ParseRetryAfter parses a Retry-After header value. It tries
// delay-seconds (an integer) first, then falls back to an RFC-compliant
// HTTP-date and computes the delta from now, floored to zero. It
// returns ok=false when the header is absent or unparseable, leaving
// the default-60s fallback to the caller (response classification,
// which knows whether a default even applies).
func ParseRetryAfter(headers http.Header) (time.Duration, bool) {
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0, false
	}

	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if seconds < 0 {
			seconds = 0
		}
		return time.Duration(seconds) * time.Second, true
	}

	if t, err := http.ParseTime(raw); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}

	return 0, false
}
