package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeReasoningEffort maps the client's requested effort level onto
// the four values the Responses API accepts. "extra_high" (however
// capitalized) becomes "xhigh"; low/medium/high/xhigh pass through
// unchanged; anything else (including empty) is reported as not-ok so
// the caller can fall back to its own default.
func NormalizeReasoningEffort(effort string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(effort))
	switch normalized {
	case "extra_high", "xhigh":
		return "xhigh", true
	case "low", "medium", "high":
		return normalized, true
	default:
		return "", false
	}
}

// isCodexModel reports whether the client's requested model should be
// honoured as-is rather than replaced with DefaultCodexModel.
func isCodexModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "codex")
}

// systemBlocksToInstructions joins Anthropic's `system` field (either a
// bare string or an array of text content blocks) into the Responses
// API's single `instructions` string, blank-line separated.
func systemBlocksToInstructions(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString)
	}

	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if t := strings.TrimSpace(b.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n\n")
}

// BuildOptions carries request-scoped context BuildResponsesRequest
// cannot infer from the body alone.
type BuildOptions struct {
	// PromptCacheKey, if non-empty, is forwarded so repeated client
	// sessions pin to the same upstream session (see transport.ResolveSessionID).
	PromptCacheKey string
}

// BuildResponsesRequest maps an Anthropic /v1/messages request body into
// a Responses API request, per §4.F.
func BuildResponsesRequest(body []byte, opts BuildOptions) (*ResponsesRequest, error) {
	var req AnthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode anthropic request: %w", err)
	}

	model := DefaultCodexModel
	if isCodexModel(req.Model) {
		model = req.Model
	}

	instructions := systemBlocksToInstructions(req.System)
	if instructions == "" {
		instructions = DefaultInstructions
	}

	effort := "high"
	if req.Reasoning != nil {
		if normalized, ok := NormalizeReasoningEffort(req.Reasoning.Effort); ok {
			effort = normalized
		}
	}

	input, err := flattenMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	out := &ResponsesRequest{
		Model:        model,
		Instructions: instructions,
		Input:        input,
		Reasoning:    ResponsesReasoning{Effort: effort},
		Text:         ResponsesText{Format: ResponsesTextFormat{Type: "text"}},
		ParallelToolCalls: true,
		Store:             false,
		Include:           []string{"reasoning.encrypted_content"},
		Stream:            true,
		PromptCacheKey:    opts.PromptCacheKey,
	}

	if len(req.Tools) > 0 {
		out.Tools, out.ToolChoice = mapTools(req.Tools, req.ToolChoice)
	}

	return out, nil
}

// mapTools converts Anthropic tool definitions and tool_choice into
// their Responses-API equivalents, capping the tool list at maxTools.
func mapTools(tools []AnthropicTool, toolChoice json.RawMessage) ([]ResponsesTool, any) {
	n := len(tools)
	if n > maxTools {
		n = maxTools
	}
	out := make([]ResponsesTool, 0, n)
	for _, t := range tools[:n] {
		out = append(out, ResponsesTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	return out, mapToolChoice(toolChoice)
}

// mapToolChoice translates Anthropic's {auto,any,none,tool{name}} into
// the Responses API's {auto,required,none,{type:"function",name}}.
func mapToolChoice(raw json.RawMessage) any {
	if len(raw) == 0 {
		return "auto"
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		switch asString {
		case "any":
			return "required"
		case "none":
			return "none"
		default:
			return "auto"
		}
	}

	var asObject struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &asObject); err == nil && asObject.Type == "tool" && asObject.Name != "" {
		return ResponsesToolChoiceFunction{Type: "function", Name: asObject.Name}
	}
	return "auto"
}

// flattenMessages converts Anthropic's nested messages array into the
// Responses API's flat input item list, per the role/content mapping
// table in §4.F.
func flattenMessages(messages []AnthropicMessage) ([]ResponsesInputItem, error) {
	var items []ResponsesInputItem
	for _, m := range messages {
		blocks, err := messageContentBlocks(m)
		if err != nil {
			return nil, err
		}
		for _, b := range blocks {
			item, ok, err := mapContentBlock(m.Role, b)
			if err != nil {
				return nil, err
			}
			if ok {
				items = append(items, item)
			}
		}
	}
	return items, nil
}

// messageContentBlocks normalizes a message's content field, which may
// be a bare string or an array of content blocks, into a block slice.
// A synthetic tool_result block is produced for legacy `role:"tool"`
// messages that carry a bare string content and a tool_call_id.
func messageContentBlocks(m AnthropicMessage) ([]AnthropicContentBlock, error) {
	if len(m.Content) == 0 {
		return nil, nil
	}

	var asString string
	if err := json.Unmarshal(m.Content, &asString); err == nil {
		if m.Role == "tool" && m.ToolCallID != "" {
			return []AnthropicContentBlock{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   m.Content,
			}}, nil
		}
		if asString == "" {
			return nil, nil
		}
		return []AnthropicContentBlock{{Type: "text", Text: asString}}, nil
	}

	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, fmt.Errorf("decode message content: %w", err)
	}
	return blocks, nil
}

// mapContentBlock converts one (role, content block) pair to zero or
// one Responses input item.
func mapContentBlock(role string, b AnthropicContentBlock) (ResponsesInputItem, bool, error) {
	switch {
	case b.Type == "text" && role == "user":
		return ResponsesInputItem{
			Type: "message", Role: "user",
			Content: []ResponsesContentPart{{Type: "input_text", Text: b.Text}},
		}, true, nil

	case b.Type == "text" && role == "assistant":
		return ResponsesInputItem{
			Type: "message", Role: "assistant",
			Content: []ResponsesContentPart{{Type: "output_text", Text: b.Text}},
		}, true, nil

	case b.Type == "tool_result":
		text := toolResultText(b.Content)
		if b.IsError {
			text = "[tool_error] " + text
		}
		return ResponsesInputItem{
			Type:   "function_call_output",
			CallID: b.ToolUseID,
			Output: text,
		}, true, nil

	case b.Type == "tool_use":
		args, err := serializeToolArguments(b.Input)
		if err != nil {
			return ResponsesInputItem{}, false, err
		}
		return ResponsesInputItem{
			Type:      "function_call",
			CallID:    b.ID,
			Name:      b.Name,
			Arguments: args,
		}, true, nil

	default:
		return ResponsesInputItem{}, false, nil
	}
}

// toolResultText extracts readable text from a tool_result block's
// content, which Anthropic allows as a bare string or an array of
// content blocks.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	var blocks []AnthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

// serializeToolArguments re-serializes a tool_use block's input as a
// JSON string, which is how the Responses API represents function_call
// arguments.
func serializeToolArguments(input json.RawMessage) (string, error) {
	if len(input) == 0 {
		return "{}", nil
	}
	return string(input), nil
}
