package reqhelpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractRequestModel(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
		ok   bool
	}{
		{"present", `{"model":"claude-3-5-sonnet-20241022"}`, "claude-3-5-sonnet-20241022", true},
		{"missing", `{}`, "", false},
		{"empty string", `{"model":""}`, "", false},
		{"wrong type", `{"model":5}`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractRequestModel([]byte(tc.body))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractRequestReasoningEffort(t *testing.T) {
	got, ok := ExtractRequestReasoningEffort([]byte(`{"reasoning":{"effort":"high"}}`))
	assert.True(t, ok)
	assert.Equal(t, "high", got)

	got, ok = ExtractRequestReasoningEffort([]byte(`{"reasoning_effort":"xhigh"}`))
	assert.True(t, ok)
	assert.Equal(t, "xhigh", got)

	_, ok = ExtractRequestReasoningEffort([]byte(`{}`))
	assert.False(t, ok)
}

func TestExtractRequestStream(t *testing.T) {
	assert.True(t, ExtractRequestStream([]byte(`{"stream":true}`)))
	assert.False(t, ExtractRequestStream([]byte(`{"stream":false}`)))
	assert.False(t, ExtractRequestStream([]byte(`{}`)))
}

func TestNormalizeModelsPath(t *testing.T) {
	assert.Equal(t, "/v1/models?client_version="+DefaultClientVersion, NormalizeModelsPath("/v1/models"))
	assert.Equal(t, "/v1/models?client_version=x", NormalizeModelsPath("/v1/models?client_version=x"))
	assert.Equal(t, "/v1/responses", NormalizeModelsPath("/v1/responses"))
}

func TestIsHTMLContentType(t *testing.T) {
	assert.True(t, IsHTMLContentType("text/html; charset=utf-8"))
	assert.True(t, IsHTMLContentType("TEXT/HTML"))
	assert.False(t, IsHTMLContentType("application/json"))
}

func TestIsUpstreamChallengeResponse(t *testing.T) {
	assert.True(t, IsUpstreamChallengeResponse(200, "text/html"))
	assert.True(t, IsUpstreamChallengeResponse(429, "application/json"))
	assert.False(t, IsUpstreamChallengeResponse(403, "application/json"))
	assert.False(t, IsUpstreamChallengeResponse(200, "application/json"))
}

func TestShouldDropIncomingHeader(t *testing.T) {
	for _, h := range []string{"Authorization", "x-api-key", "Host", "Content-Length", "anthropic-beta", "x-stainless-lang", "ChatGPT-Account-Id"} {
		assert.True(t, ShouldDropIncomingHeader(h), h)
	}
	assert.False(t, ShouldDropIncomingHeader("Accept"))
}

func TestShouldDropIncomingHeaderForFailover(t *testing.T) {
	assert.True(t, ShouldDropIncomingHeaderForFailover("session_id"))
	assert.True(t, ShouldDropIncomingHeaderForFailover("x-codex-turn-state"))
	assert.True(t, ShouldDropIncomingHeaderForFailover("Authorization"))
	assert.False(t, ShouldDropIncomingHeaderForFailover("Accept"))
}
