package counttokens

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gpttoolsgw/internal/protocol"
)

func TestAppliesOnlyToAnthropicNativePost(t *testing.T) {
	assert.True(t, Applies(protocol.ProtocolAnthropicNative, "POST", Path))
	assert.True(t, Applies(protocol.ProtocolAnthropicNative, "post", Path+"?beta=true"))
	assert.False(t, Applies(protocol.ProtocolOpenAICompat, "POST", Path))
	assert.False(t, Applies(protocol.ProtocolAnthropicNative, "GET", Path))
	assert.False(t, Applies(protocol.ProtocolAnthropicNative, "POST", "/v1/messages"))
}

func TestEstimateCountsSystemAndMessageText(t *testing.T) {
	body := []byte(`{
		"system": "0123456789",
		"messages": [
			{"role": "user", "content": "01234567"},
			{"role": "assistant", "content": [{"type":"text","text":"0123"}]}
		]
	}`)
	// 10 + 8 + 4 = 22 chars -> 22/4 = 5
	assert.Equal(t, int64(5), Estimate(body))
}

func TestEstimateFloorsAtOne(t *testing.T) {
	assert.Equal(t, int64(1), Estimate([]byte(`{}`)))
	assert.Equal(t, int64(1), Estimate([]byte(`not json`)))
}
