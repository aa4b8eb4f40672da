package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// AnthropicOutContentBlock is one element of an Anthropic response's
// content array.
type AnthropicOutContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// AnthropicUsage mirrors Anthropic's usage accounting.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicResponse is a complete (non-streaming) Anthropic message
// response.
type AnthropicResponse struct {
	ID         string                     `json:"id"`
	Type       string                     `json:"type"`
	Role       string                     `json:"role"`
	Model      string                     `json:"model,omitempty"`
	Content    []AnthropicOutContentBlock `json:"content"`
	StopReason string                     `json:"stop_reason"`
	Usage      AnthropicUsage             `json:"usage"`
}

// AnthropicErrorBody is the synthesized error shape returned to clients
// when the adapter cannot convert an upstream payload, or when the
// upstream itself reported an OpenAI-style error.
type AnthropicErrorBody struct {
	Type  string             `json:"type"`
	Error AnthropicErrorInfo `json:"error"`
}

// AnthropicErrorInfo is the nested error payload of AnthropicErrorBody.
type AnthropicErrorInfo struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// argumentKeys enumerates the alternate keys an upstream tool call's
// arguments may be carried under.
var argumentKeys = []string{"arguments", "input", "arguments_json", "parsed_arguments", "args"}

// normalizeArguments accepts a raw JSON value (object, array, string
// possibly containing nested JSON, or opaque text) and returns a JSON
// object suitable for an Anthropic tool_use block's `input` field,
// wrapping non-object values as {"value": ...} per the edge cases in
// §4.F.
func normalizeArguments(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return json.RawMessage(`{}`)
	}

	var anyVal any
	if err := json.Unmarshal(trimmed, &anyVal); err == nil {
		switch v := anyVal.(type) {
		case map[string]any:
			return trimmed
		case string:
			var inner any
			if err := json.Unmarshal([]byte(v), &inner); err == nil {
				if _, ok := inner.(map[string]any); ok {
					if b, err := json.Marshal(inner); err == nil {
						return b
					}
				}
			}
			b, _ := json.Marshal(map[string]any{"value": v})
			return b
		default:
			b, _ := json.Marshal(map[string]any{"value": v})
			return b
		}
	}

	b, _ := json.Marshal(map[string]any{"value": string(trimmed)})
	return b
}

// extractArguments finds the first populated argument key on a gjson
// object representing one function/tool call entry.
func extractArguments(call gjson.Result) json.RawMessage {
	for _, key := range argumentKeys {
		if v := call.Get(key); v.Exists() {
			return normalizeArguments([]byte(v.Raw))
		}
	}
	return json.RawMessage(`{}`)
}

// mapFinishReason maps an OpenAI-style finish_reason onto an Anthropic
// stop_reason, with tool_use taking precedence whenever any tool call
// was emitted.
func mapFinishReason(finishReason string, hadToolCalls bool) string {
	if hadToolCalls {
		return "tool_use"
	}
	switch finishReason {
	case "tool_calls":
		return "tool_use"
	case "length":
		return "max_tokens"
	case "stop":
		return "end_turn"
	default:
		return "end_turn"
	}
}

// errorTypeTaxonomy maps an OpenAI-style error `type` field onto the
// small taxonomy Anthropic exposes; unknown types pass through as
// api_error.
func errorTypeTaxonomy(openAIType string) string {
	switch openAIType {
	case "authentication_error", "invalid_api_key":
		return "authentication_error"
	case "permission_error", "permission_denied":
		return "permission_error"
	case "rate_limit_error", "rate_limit_exceeded", "insufficient_quota":
		return "rate_limit_error"
	case "invalid_request_error":
		return "invalid_request_error"
	default:
		return "api_error"
	}
}

// ConvertErrorBody synthesizes an Anthropic-shaped error from an
// upstream OpenAI-style error body.
func ConvertErrorBody(upstream []byte) []byte {
	msg := gjson.GetBytes(upstream, "error.message")
	typ := gjson.GetBytes(upstream, "error.type")
	message := "upstream error"
	if msg.Exists() {
		message = msg.String()
	}
	mappedType := "api_error"
	if typ.Exists() {
		mappedType = errorTypeTaxonomy(typ.String())
	}
	out, _ := json.Marshal(AnthropicErrorBody{
		Type: "error",
		Error: AnthropicErrorInfo{
			Type:    mappedType,
			Message: message,
		},
	})
	return out
}

// ConvertJSONToAnthropic converts a complete (non-streaming) upstream
// JSON body, in either Chat Completions shape or Responses shape, into
// an Anthropic JSON response.
func ConvertJSONToAnthropic(upstream []byte) (*AnthropicResponse, error) {
	if gjson.GetBytes(upstream, "error").Exists() {
		return nil, fmt.Errorf("upstream error body: %s", string(ConvertErrorBody(upstream)))
	}
	if gjson.GetBytes(upstream, "choices").Exists() {
		return convertChatCompletions(upstream)
	}
	return convertResponses(upstream)
}

func convertChatCompletions(upstream []byte) (*AnthropicResponse, error) {
	first := gjson.GetBytes(upstream, "choices.0")
	if !first.Exists() {
		return nil, fmt.Errorf("chat completions body has no choices")
	}

	var content []AnthropicOutContentBlock
	message := first.Get("message")

	if text := message.Get("content"); text.Exists() && text.Type == gjson.String && text.String() != "" {
		content = append(content, AnthropicOutContentBlock{Type: "text", Text: text.String()})
	} else if arr := message.Get("content"); arr.IsArray() {
		for _, block := range arr.Array() {
			if t := block.Get("text"); t.Exists() {
				content = append(content, AnthropicOutContentBlock{Type: "text", Text: t.String()})
			}
		}
	}

	hadToolCalls := false
	for _, tc := range message.Get("tool_calls").Array() {
		hadToolCalls = true
		fn := tc.Get("function")
		content = append(content, AnthropicOutContentBlock{
			Type:  "tool_use",
			ID:    tc.Get("id").String(),
			Name:  fn.Get("name").String(),
			Input: extractArguments(fn),
		})
	}

	if len(content) == 0 {
		content = append(content, AnthropicOutContentBlock{Type: "text", Text: ""})
	}

	resp := &AnthropicResponse{
		ID:         gjson.GetBytes(upstream, "id").String(),
		Type:       "message",
		Role:       "assistant",
		Model:      gjson.GetBytes(upstream, "model").String(),
		Content:    content,
		StopReason: mapFinishReason(first.Get("finish_reason").String(), hadToolCalls),
		Usage: AnthropicUsage{
			InputTokens:  int(gjson.GetBytes(upstream, "usage.prompt_tokens").Int()),
			OutputTokens: int(gjson.GetBytes(upstream, "usage.completion_tokens").Int()),
		},
	}
	return resp, nil
}

func convertResponses(upstream []byte) (*AnthropicResponse, error) {
	var content []AnthropicOutContentBlock
	hadToolCalls := false

	if text := gjson.GetBytes(upstream, "output_text"); text.Exists() && text.String() != "" {
		content = append(content, AnthropicOutContentBlock{Type: "text", Text: text.String()})
	}

	for _, item := range gjson.GetBytes(upstream, "output").Array() {
		switch item.Get("type").String() {
		case "message":
			for _, block := range item.Get("content").Array() {
				if t := block.Get("output_text"); t.Exists() {
					content = append(content, AnthropicOutContentBlock{Type: "text", Text: t.String()})
					continue
				}
				if t := block.Get("text"); t.Exists() {
					content = append(content, AnthropicOutContentBlock{Type: "text", Text: t.String()})
				}
			}
		case "function_call":
			hadToolCalls = true
			content = append(content, AnthropicOutContentBlock{
				Type:  "tool_use",
				ID:    item.Get("call_id").String(),
				Name:  item.Get("name").String(),
				Input: extractArguments(item),
			})
		}
	}

	if len(content) == 0 {
		content = append(content, AnthropicOutContentBlock{Type: "text", Text: ""})
	}

	resp := &AnthropicResponse{
		ID:         gjson.GetBytes(upstream, "id").String(),
		Type:       "message",
		Role:       "assistant",
		Model:      gjson.GetBytes(upstream, "model").String(),
		Content:    content,
		StopReason: mapFinishReason("", hadToolCalls),
		Usage: AnthropicUsage{
			InputTokens:  int(gjson.GetBytes(upstream, "usage.input_tokens").Int()),
			OutputTokens: int(gjson.GetBytes(upstream, "usage.output_tokens").Int()),
		},
	}
	return resp, nil
}
