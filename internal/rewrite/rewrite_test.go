package rewrite

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"gpttoolsgw/internal/protocol"
)

func TestApplyKeyOverridesSkipsAnthropicNative(t *testing.T) {
	body := []byte(`{"model":"claude-3"}`)
	out, err := ApplyKeyOverrides(protocol.ProtocolAnthropicNative,
		sql.NullString{String: "gpt-5.3-codex", Valid: true}, sql.NullString{}, body)
	require.NoError(t, err)
	assert.Equal(t, "claude-3", gjson.GetBytes(out, "model").String())
}

func TestApplyKeyOverridesRewritesModelAndEffort(t *testing.T) {
	body := []byte(`{"model":"gpt-4o"}`)
	out, err := ApplyKeyOverrides(protocol.ProtocolOpenAICompat,
		sql.NullString{String: "gpt-5.3-codex", Valid: true},
		sql.NullString{String: "extra_high", Valid: true}, body)
	require.NoError(t, err)
	assert.Equal(t, "gpt-5.3-codex", gjson.GetBytes(out, "model").String())
	assert.Equal(t, "xhigh", gjson.GetBytes(out, "reasoning.effort").String())
}

func TestNormalizeReasoningEffortDefaultsToHigh(t *testing.T) {
	assert.Equal(t, "high", NormalizeReasoningEffort(""))
	assert.Equal(t, "xhigh", NormalizeReasoningEffort("extra-high"))
	assert.Equal(t, "medium", NormalizeReasoningEffort("Medium"))
}

func TestComputeUpstreamURLStripsV1ForChatGPTBackend(t *testing.T) {
	canonical, alt := ComputeUpstreamURL("https://chatgpt.com/backend-api/codex", "/v1/responses", true)
	assert.Equal(t, "https://chatgpt.com/backend-api/codex/responses", canonical)
	assert.Equal(t, "https://chatgpt.com/backend-api/codex/v1/responses", alt)
}

func TestComputeUpstreamURLKeepsModelsPathV1(t *testing.T) {
	canonical, alt := ComputeUpstreamURL("https://chatgpt.com/backend-api/codex", "/v1/models", true)
	assert.Equal(t, "https://chatgpt.com/backend-api/codex/v1/models", canonical)
	assert.Equal(t, "", alt)
}

func TestComputeUpstreamURLNonChatGPTBackendKeepsPrefix(t *testing.T) {
	canonical, alt := ComputeUpstreamURL("https://api.openai.com/v1", "/v1/responses", false)
	assert.Equal(t, "https://api.openai.com/v1/v1/responses", canonical)
	assert.Equal(t, "", alt)
}
