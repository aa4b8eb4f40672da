package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/gjson"
)

// sseScanBufferSize matches the buffer the gateway's Chat Completions
// adapter already used for scanning upstream SSE bodies.
const sseScanBufferSize = 1024 * 1024

// upstreamEvent is one parsed "event: name\ndata: payload\n\n" frame.
// Name is empty for upstream bodies (Chat Completions) that only ever
// send bare "data: " lines.
type upstreamEvent struct {
	Name string
	Data string
}

// scanUpstreamSSE reads r line by line and invokes yield once per
// complete event frame, accumulating multi-line data per the SSE spec.
func scanUpstreamSSE(r io.Reader, yield func(upstreamEvent) error) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, sseScanBufferSize)

	var name string
	var data []string

	flush := func() error {
		if len(data) == 0 {
			name = ""
			return nil
		}
		ev := upstreamEvent{Name: name, Data: strings.Join(data, "\n")}
		name, data = "", nil
		return yield(ev)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// ignore id:, retry:, comments
		}
	}
	return flush()
}

// toolBlockState tracks one in-flight tool_use content block.
type toolBlockState struct {
	index int
	args  strings.Builder
}

// StreamTranslator converts an upstream event-stream body (either
// OpenAI Responses API events or Chat Completions delta chunks) into
// an Anthropic Messages SSE stream, maintaining the small running
// state machine described in §4.F: {NotStarted, Started,
// TextBlockOpen(index), Finished}.
type StreamTranslator struct {
	w     io.Writer
	flush func()

	started  bool
	finished bool

	nextIndex int
	textIndex *int

	toolBlocks map[string]*toolBlockState

	messageID string
	model     string
}

// NewStreamTranslator builds a translator that writes Anthropic SSE
// frames to w, calling flush after every frame so the client sees
// bytes as they arrive.
func NewStreamTranslator(w io.Writer, flush func()) *StreamTranslator {
	if flush == nil {
		flush = func() {}
	}
	return &StreamTranslator{w: w, flush: flush, toolBlocks: map[string]*toolBlockState{}}
}

// Run consumes upstream, translating every event until EOF or a
// terminal response.completed / response.failed / [DONE] marker.
func (t *StreamTranslator) Run(upstream io.Reader) error {
	err := scanUpstreamSSE(upstream, func(ev upstreamEvent) error {
		if t.finished {
			return nil
		}
		if ev.Data == "[DONE]" {
			return t.finishFromDeltas("end_turn")
		}
		if ev.Name != "" {
			return t.handleResponsesEvent(ev.Name, []byte(ev.Data))
		}
		return t.handleChatCompletionChunk([]byte(ev.Data))
	})
	if err != nil {
		return err
	}
	if !t.finished {
		return t.finishFromDeltas("end_turn")
	}
	return nil
}

func (t *StreamTranslator) write(event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(t.w, "event: %s\ndata: %s\n\n", event, body); err != nil {
		return err
	}
	t.flush()
	return nil
}

func (t *StreamTranslator) ensureStarted(id, model string) error {
	if t.started {
		return nil
	}
	t.started = true
	if id != "" {
		t.messageID = id
	}
	if model != "" {
		t.model = model
	}
	return t.write("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            t.messageID,
			"type":          "message",
			"role":          "assistant",
			"model":         t.model,
			"content":       []any{},
			"stop_reason":   nil,
			"usage":         AnthropicUsage{},
		},
	})
}

func (t *StreamTranslator) openTextBlock() error {
	if t.textIndex != nil {
		return nil
	}
	idx := t.nextIndex
	t.nextIndex++
	t.textIndex = &idx
	return t.write("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         idx,
		"content_block": map[string]any{"type": "text", "text": ""},
	})
}

func (t *StreamTranslator) closeTextBlock() error {
	if t.textIndex == nil {
		return nil
	}
	idx := *t.textIndex
	t.textIndex = nil
	return t.write("content_block_stop", map[string]any{"type": "content_block_stop", "index": idx})
}

func (t *StreamTranslator) emitTextDelta(text string) error {
	if text == "" {
		return nil
	}
	if err := t.ensureStarted("", ""); err != nil {
		return err
	}
	if err := t.openTextBlock(); err != nil {
		return err
	}
	return t.write("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": *t.textIndex,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})
}

func (t *StreamTranslator) openToolBlock(callID, name string) (*toolBlockState, error) {
	if b, ok := t.toolBlocks[callID]; ok {
		return b, nil
	}
	if err := t.closeTextBlock(); err != nil {
		return nil, err
	}
	idx := t.nextIndex
	t.nextIndex++
	b := &toolBlockState{index: idx}
	t.toolBlocks[callID] = b
	if err := t.write("content_block_start", map[string]any{
		"type":  "content_block_start",
		"index": idx,
		"content_block": map[string]any{
			"type":  "tool_use",
			"id":    callID,
			"name":  name,
			"input": json.RawMessage(`{}`),
		},
	}); err != nil {
		return nil, err
	}
	return b, nil
}

func (t *StreamTranslator) emitToolArgsDelta(callID, name, delta string) error {
	if err := t.ensureStarted("", ""); err != nil {
		return err
	}
	b, err := t.openToolBlock(callID, name)
	if err != nil {
		return err
	}
	b.args.WriteString(delta)
	return t.write("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": b.index,
		"delta": map[string]any{"type": "input_json_delta", "partial_json": delta},
	})
}

func (t *StreamTranslator) closeToolBlock(callID string) error {
	b, ok := t.toolBlocks[callID]
	if !ok {
		return nil
	}
	delete(t.toolBlocks, callID)
	return t.write("content_block_stop", map[string]any{"type": "content_block_stop", "index": b.index})
}

func (t *StreamTranslator) closeAllOpenBlocks() error {
	if err := t.closeTextBlock(); err != nil {
		return err
	}
	for callID := range t.toolBlocks {
		if err := t.closeToolBlock(callID); err != nil {
			return err
		}
	}
	return nil
}

// finishFromDeltas closes any still-open block and emits message_delta
// + message_stop using only locally accumulated state (no authoritative
// upstream final body was seen).
func (t *StreamTranslator) finishFromDeltas(stopReason string) error {
	if t.finished {
		return nil
	}
	if err := t.ensureStarted("", ""); err != nil {
		return err
	}
	if !t.started || (t.textIndex == nil && len(t.toolBlocks) == 0 && t.nextIndex == 0) {
		if err := t.openTextBlock(); err != nil {
			return err
		}
	}
	if err := t.closeAllOpenBlocks(); err != nil {
		return err
	}
	if err := t.write("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason},
		"usage": AnthropicUsage{},
	}); err != nil {
		return err
	}
	t.finished = true
	return t.write("message_stop", map[string]any{"type": "message_stop"})
}

// finishFromCompletedResponse is the authoritative path: it converts
// the embedded final response object via the same JSON mapping used
// for non-streaming bodies, but only to recover stop_reason and usage
// -- the content itself was already streamed incrementally and must
// not be re-emitted, or the client would see duplicated text.
func (t *StreamTranslator) finishFromCompletedResponse(final gjson.Result) error {
	if t.finished {
		return nil
	}
	if err := t.ensureStarted(final.Get("id").String(), final.Get("model").String()); err != nil {
		return err
	}

	hadToolCalls := len(t.toolBlocks) > 0
	for _, item := range final.Get("output").Array() {
		if item.Get("type").String() == "function_call" {
			hadToolCalls = true
		}
	}
	if t.nextIndex == 0 {
		if err := t.openTextBlock(); err != nil {
			return err
		}
	}
	if err := t.closeAllOpenBlocks(); err != nil {
		return err
	}

	stopReason := mapFinishReason("", hadToolCalls)
	usage := AnthropicUsage{
		InputTokens:  int(final.Get("usage.input_tokens").Int()),
		OutputTokens: int(final.Get("usage.output_tokens").Int()),
	}
	if err := t.write("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason},
		"usage": usage,
	}); err != nil {
		return err
	}
	t.finished = true
	return t.write("message_stop", map[string]any{"type": "message_stop"})
}

// handleResponsesEvent processes one named Responses API SSE event.
func (t *StreamTranslator) handleResponsesEvent(name string, data []byte) error {
	switch name {
	case "response.created", "response.in_progress":
		resp := gjson.GetBytes(data, "response")
		return t.ensureStarted(resp.Get("id").String(), resp.Get("model").String())

	case "response.output_text.delta":
		return t.emitTextDelta(gjson.GetBytes(data, "delta").String())

	case "response.output_text.done":
		return t.closeTextBlock()

	case "response.output_item.added":
		item := gjson.GetBytes(data, "item")
		if item.Get("type").String() != "function_call" {
			return nil
		}
		_, err := t.openToolBlock(item.Get("call_id").String(), item.Get("name").String())
		return err

	case "response.function_call_arguments.delta":
		callID := gjson.GetBytes(data, "call_id").String()
		if callID == "" {
			callID = gjson.GetBytes(data, "item_id").String()
		}
		name := gjson.GetBytes(data, "name").String()
		return t.emitToolArgsDelta(callID, name, gjson.GetBytes(data, "delta").String())

	case "response.function_call_arguments.done", "response.output_item.done":
		callID := gjson.GetBytes(data, "call_id").String()
		if callID == "" {
			callID = gjson.GetBytes(data, "item.call_id").String()
		}
		return t.closeToolBlock(callID)

	case "response.completed":
		return t.finishFromCompletedResponse(gjson.GetBytes(data, "response"))

	case "response.failed", "response.incomplete", "error":
		return t.emitError(data)

	default:
		return nil
	}
}

// handleChatCompletionChunk processes one Chat Completions streaming
// delta chunk (bare "data: {...}" line, no event: name).
func (t *StreamTranslator) handleChatCompletionChunk(data []byte) error {
	if gjson.GetBytes(data, "error").Exists() {
		return t.emitError(data)
	}

	choice := gjson.GetBytes(data, "choices.0")
	if !choice.Exists() {
		return nil
	}
	if err := t.ensureStarted(gjson.GetBytes(data, "id").String(), gjson.GetBytes(data, "model").String()); err != nil {
		return err
	}

	delta := choice.Get("delta")
	if text := delta.Get("content"); text.Exists() && text.String() != "" {
		if err := t.emitTextDelta(text.String()); err != nil {
			return err
		}
	}

	for _, tc := range delta.Get("tool_calls").Array() {
		callID := tc.Get("id").String()
		if callID == "" {
			// Sticky index: chunks after the first omit `id`, so fall
			// back to a synthetic per-stream key keyed by the sticky
			// tool_calls[i].index.
			callID = fmt.Sprintf("idx-%d", tc.Get("index").Int())
		}
		fn := tc.Get("function")
		if name := fn.Get("name").String(); name != "" {
			if _, err := t.openToolBlock(callID, name); err != nil {
				return err
			}
		}
		if args := fn.Get("arguments"); args.Exists() && args.String() != "" {
			if err := t.emitToolArgsDelta(callID, "", args.String()); err != nil {
				return err
			}
		}
	}

	if fr := choice.Get("finish_reason"); fr.Exists() && fr.String() != "" {
		return t.finishFromDeltas(mapFinishReason(fr.String(), len(t.toolBlocks) > 0))
	}
	return nil
}

// AggregateStream translates upstream's event-stream body the same way
// Run does, but into an in-memory buffer, then reassembles the
// resulting Anthropic SSE frames into a single complete
// AnthropicResponse. The upstream call always sends stream=true
// (§4.F), so a client whose own request had "stream":false still needs
// its response collapsed to one JSON body rather than SSE bytes.
func AggregateStream(upstream io.Reader) (*AnthropicResponse, error) {
	var buf bytes.Buffer
	tr := NewStreamTranslator(&buf, nil)
	if err := tr.Run(upstream); err != nil {
		return nil, err
	}
	return assembleFromAnthropicSSE(buf.Bytes())
}

// assembleFromAnthropicSSE rebuilds a complete response from the
// already-normalized Anthropic event frames a StreamTranslator wrote,
// rather than re-deriving content from the raw upstream shape, so it
// works identically regardless of whether upstream spoke Responses or
// Chat Completions events.
func assembleFromAnthropicSSE(frames []byte) (*AnthropicResponse, error) {
	resp := &AnthropicResponse{Type: "message", Role: "assistant"}
	blocks := map[int]*AnthropicOutContentBlock{}
	toolArgs := map[int]*strings.Builder{}
	var order []int

	err := scanUpstreamSSE(bytes.NewReader(frames), func(ev upstreamEvent) error {
		switch ev.Name {
		case "message_start":
			resp.ID = gjson.Get(ev.Data, "message.id").String()
			resp.Model = gjson.Get(ev.Data, "message.model").String()

		case "content_block_start":
			idx := int(gjson.Get(ev.Data, "index").Int())
			cb := gjson.Get(ev.Data, "content_block")
			block := &AnthropicOutContentBlock{Type: cb.Get("type").String()}
			if block.Type == "tool_use" {
				block.ID = cb.Get("id").String()
				block.Name = cb.Get("name").String()
				toolArgs[idx] = &strings.Builder{}
			}
			blocks[idx] = block
			order = append(order, idx)

		case "content_block_delta":
			idx := int(gjson.Get(ev.Data, "index").Int())
			delta := gjson.Get(ev.Data, "delta")
			switch delta.Get("type").String() {
			case "text_delta":
				if b, ok := blocks[idx]; ok {
					b.Text += delta.Get("text").String()
				}
			case "input_json_delta":
				if sb, ok := toolArgs[idx]; ok {
					sb.WriteString(delta.Get("partial_json").String())
				}
			}

		case "message_delta":
			resp.StopReason = gjson.Get(ev.Data, "delta.stop_reason").String()
			resp.Usage = AnthropicUsage{
				InputTokens:  int(gjson.Get(ev.Data, "usage.input_tokens").Int()),
				OutputTokens: int(gjson.Get(ev.Data, "usage.output_tokens").Int()),
			}

		case "error":
			return fmt.Errorf("upstream stream error: %s", ev.Data)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, idx := range order {
		b := blocks[idx]
		if b.Type == "tool_use" {
			if sb, ok := toolArgs[idx]; ok {
				b.Input = normalizeArguments([]byte(sb.String()))
			}
		}
		resp.Content = append(resp.Content, *b)
	}
	if len(resp.Content) == 0 {
		resp.Content = append(resp.Content, AnthropicOutContentBlock{Type: "text", Text: ""})
	}
	return resp, nil
}

func (t *StreamTranslator) emitError(data []byte) error {
	body := ConvertErrorBody(data)
	var payload AnthropicErrorBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return err
	}
	if err := t.write("error", payload); err != nil {
		return err
	}
	t.finished = true
	return nil
}
