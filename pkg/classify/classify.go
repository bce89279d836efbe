// Package classify implements the response/transport-error
// classification shared by the credential manager and the request
// pipeline: mapping raw transport outcomes onto the syncerr taxonomy.
package classify

import "strings"

// networkFailureSignatures are substrings whose presence in a
// transport error's message identifies it as a network-class failure
// rather than an application error the transport chose to surface
// as-is.
var networkFailureSignatures = []string{
	"ECONNREFUSED",
	"ENOTFOUND",
	"ETIMEDOUT",
	"fetch failed",
	"network",
	"connection refused",
	"no such host",
	"i/o timeout",
}

// IsNetworkFailureSignature reports whether err's message matches one
// of the known network-failure signatures.
func IsNetworkFailureSignature(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range networkFailureSignatures {
		if strings.Contains(msg, strings.ToLower(sig)) {
			return true
		}
	}
	return false
}

// maxBodyExcerpt bounds how much of an error response body gets
// carried into an ApiFailure's message.
const maxBodyExcerpt = 500

// BodyExcerpt truncates a raw response body to a bounded excerpt
// suitable for inclusion in an error message.
func BodyExcerpt(body []byte) string {
	if len(body) <= maxBodyExcerpt {
		return string(body)
	}
	return string(body[:maxBodyExcerpt]) + "...(truncated)"
}
