package protocol

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runTranslator(t *testing.T, upstream string) []string {
	t.Helper()
	var out bytes.Buffer
	tr := NewStreamTranslator(&out, nil)
	err := tr.Run(strings.NewReader(upstream))
	require.NoError(t, err)

	var events []string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	return events
}

func TestStreamTranslatorTextOnlyResponsesEvents(t *testing.T) {
	upstream := "" +
		"event: response.created\ndata: {\"response\":{\"id\":\"resp_1\",\"model\":\"gpt-5.3-codex\"}}\n\n" +
		"event: response.output_text.delta\ndata: {\"delta\":\"hel\"}\n\n" +
		"event: response.output_text.delta\ndata: {\"delta\":\"lo\"}\n\n" +
		"event: response.completed\ndata: {\"response\":{\"id\":\"resp_1\",\"model\":\"gpt-5.3-codex\",\"output\":[],\"usage\":{\"input_tokens\":3,\"output_tokens\":2}}}\n\n"

	events := runTranslator(t, upstream)
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, events)
}

func TestStreamTranslatorToolCallOpensAndClosesBlock(t *testing.T) {
	upstream := "" +
		"event: response.created\ndata: {\"response\":{\"id\":\"resp_2\",\"model\":\"gpt-5.3-codex\"}}\n\n" +
		"event: response.output_item.added\ndata: {\"item\":{\"type\":\"function_call\",\"call_id\":\"call_1\",\"name\":\"lookup\"}}\n\n" +
		"event: response.function_call_arguments.delta\ndata: {\"call_id\":\"call_1\",\"delta\":\"{\\\"q\\\":\"}\n\n" +
		"event: response.function_call_arguments.delta\ndata: {\"call_id\":\"call_1\",\"delta\":\"\\\"x\\\"}\"}\n\n" +
		"event: response.output_item.done\ndata: {\"call_id\":\"call_1\"}\n\n" +
		"event: response.completed\ndata: {\"response\":{\"id\":\"resp_2\",\"output\":[{\"type\":\"function_call\",\"call_id\":\"call_1\"}],\"usage\":{}}}\n\n"

	events := runTranslator(t, upstream)
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, events)
}

func TestStreamTranslatorEmptyOutputProducesSingleEmptyTextBlock(t *testing.T) {
	upstream := "event: response.completed\ndata: {\"response\":{\"id\":\"resp_3\",\"output\":[],\"usage\":{}}}\n\n"

	events := runTranslator(t, upstream)
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, events)
}

func TestStreamTranslatorChatCompletionsDeltaChunks(t *testing.T) {
	upstream := "" +
		"data: {\"id\":\"chatcmpl_1\",\"model\":\"gpt-5.3-codex\",\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: {\"id\":\"chatcmpl_1\",\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: [DONE]\n\n"

	events := runTranslator(t, upstream)
	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, events)
}

func TestStreamTranslatorUpstreamErrorEventStopsStream(t *testing.T) {
	upstream := "event: error\ndata: {\"error\":{\"type\":\"rate_limit_error\",\"message\":\"slow down\"}}\n\n"

	events := runTranslator(t, upstream)
	assert.Equal(t, []string{"error"}, events)
}
