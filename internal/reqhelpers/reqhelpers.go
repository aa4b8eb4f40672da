// Package reqhelpers provides stateless helpers for inspecting gateway
// request bodies and headers. None of these functions hold state; they
// are pure parsing/classification utilities shared by validation, the
// protocol adapter, and the failover driver.
package reqhelpers

import (
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

// DefaultClientVersion is appended to /v1/models requests that lack one.
const DefaultClientVersion = "0.45.0"

// ExtractRequestModel returns body.model if present and non-empty.
func ExtractRequestModel(body []byte) (string, bool) {
	v := gjson.GetBytes(body, "model")
	if !v.Exists() || v.Type != gjson.String || v.String() == "" {
		return "", false
	}
	return v.String(), true
}

// ExtractRequestReasoningEffort returns reasoning.effort, falling back to
// a top-level reasoning_effort field.
func ExtractRequestReasoningEffort(body []byte) (string, bool) {
	if v := gjson.GetBytes(body, "reasoning.effort"); v.Exists() && v.Type == gjson.String && v.String() != "" {
		return v.String(), true
	}
	if v := gjson.GetBytes(body, "reasoning_effort"); v.Exists() && v.Type == gjson.String && v.String() != "" {
		return v.String(), true
	}
	return "", false
}

// ExtractRequestStream returns body.stream, defaulting to false.
func ExtractRequestStream(body []byte) bool {
	return gjson.GetBytes(body, "stream").Bool()
}

// NormalizeModelsPath ensures /v1/models requests carry a client_version
// query parameter; every other path is returned unchanged.
func NormalizeModelsPath(path string) string {
	u, err := url.Parse(path)
	if err != nil {
		return path
	}
	if u.Path != "/v1/models" {
		return path
	}
	q := u.Query()
	if q.Get("client_version") == "" {
		q.Set("client_version", DefaultClientVersion)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// IsHTMLContentType reports whether a Content-Type value denotes HTML,
// case-insensitively, ignoring any charset suffix.
func IsHTMLContentType(value string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(value)), "text/html")
}

// IsUpstreamChallengeResponse reports whether a response should be
// treated as an anti-abuse challenge rather than forwarded verbatim.
// A plain (non-HTML) 403 is NOT a challenge: it is usually a business
// auth error and misclassifying it would hide real errors from clients.
func IsUpstreamChallengeResponse(status int, contentType string) bool {
	if IsHTMLContentType(contentType) {
		return true
	}
	return status == 429
}

// alwaysDroppedHeaders holds header names dropped on every attempt,
// regardless of candidate index.
var alwaysDroppedHeaders = map[string]bool{
	"authorization":     true,
	"x-api-key":         true,
	"host":              true,
	"content-length":    true,
	"chatgpt-account-id": true,
}

var droppedHeaderPrefixes = []string{"anthropic-", "x-stainless-"}

// ShouldDropIncomingHeader reports whether a client-supplied header must
// never be forwarded upstream, even on the first attempt. SDK fingerprint
// headers raise challenge probability; auth headers are re-derived from
// the selected account's token.
func ShouldDropIncomingHeader(name string) bool {
	lower := strings.ToLower(name)
	if alwaysDroppedHeaders[lower] {
		return true
	}
	for _, prefix := range droppedHeaderPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// failoverStrippedHeaders additionally get dropped once the request has
// moved to a later candidate, because they would pin the request back to
// the account that just failed.
var failoverStrippedHeaders = map[string]bool{
	"session_id":         true,
	"x-codex-turn-state": true,
}

// ShouldDropIncomingHeaderForFailover reports whether a header must be
// stripped specifically because this attempt is not the first candidate.
func ShouldDropIncomingHeaderForFailover(name string) bool {
	lower := strings.ToLower(name)
	if ShouldDropIncomingHeader(lower) {
		return true
	}
	return failoverStrippedHeaders[lower]
}
