// Package protocol implements the Anthropic Messages <-> provider
// Responses API translation: request mapping, JSON response mapping,
// and the SSE-to-SSE streaming state machine. This is the gateway's
// largest single subsystem.
package protocol

import "encoding/json"

// ProtocolType decides, at validation time, which adapter branch an
// ApiKey's traffic uses.
type ProtocolType string

const (
	ProtocolOpenAICompat    ProtocolType = "openai_compat"
	ProtocolAnthropicNative ProtocolType = "anthropic_native"
)

// ResponseAdapter names the ways an upstream response can be transformed
// before it reaches the client. Nothing in the gateway sets or reads it:
// the validated request carries no adapter, and writeUpstreamResponse
// picks the branch from the key's protocol and the response's content
// type. Each branch is a distinct function rather than an interface so
// the SSE state machine stays an explicit, readable loop instead of
// virtual dispatch.
type ResponseAdapter int

const (
	AdapterPassthrough ResponseAdapter = iota
	AdapterAnthropicJSON
	AdapterAnthropicSSE
)

// DefaultCodexModel is substituted whenever the client did not request
// a model name containing "codex"; the upstream Responses endpoint
// returns text/html challenges for non-codex models on this path.
const DefaultCodexModel = "gpt-5.3-codex"

// DefaultInstructions is substituted when no system blocks are present.
const DefaultInstructions = "You are a helpful coding assistant."

// AnthropicMessage is one entry of an Anthropic request's messages array.
type AnthropicMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	// ToolCallID is only present on synthetic "tool" role messages some
	// OpenAI-compatible clients send instead of a tool_result block.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// AnthropicContentBlock is one element of a message's content array.
type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// AnthropicTool is one entry of an Anthropic request's tools array.
type AnthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// AnthropicReasoning carries the client's requested reasoning effort.
type AnthropicReasoning struct {
	Effort string `json:"effort,omitempty"`
}

// AnthropicRequest is the subset of an Anthropic /v1/messages request
// body this gateway understands.
type AnthropicRequest struct {
	Model      string              `json:"model"`
	System     json.RawMessage     `json:"system,omitempty"`
	Messages   []AnthropicMessage  `json:"messages"`
	MaxTokens  int                 `json:"max_tokens,omitempty"`
	Stream     bool                `json:"stream,omitempty"`
	Tools      []AnthropicTool     `json:"tools,omitempty"`
	ToolChoice json.RawMessage     `json:"tool_choice,omitempty"`
	Reasoning  *AnthropicReasoning `json:"reasoning,omitempty"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
}

// ResponsesReasoning is the Responses API's reasoning configuration.
type ResponsesReasoning struct {
	Effort string `json:"effort"`
}

// ResponsesTextFormat pins the output format to plain text.
type ResponsesTextFormat struct {
	Type string `json:"type"`
}

// ResponsesText wraps the text format.
type ResponsesText struct {
	Format ResponsesTextFormat `json:"format"`
}

// ResponsesContentPart is one element of a message input item's content.
type ResponsesContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ResponsesInputItem is one flattened entry of the Responses request's
// input array: a message, a function_call, or a function_call_output.
type ResponsesInputItem struct {
	Type      string                 `json:"type"`
	Role      string                 `json:"role,omitempty"`
	Content   []ResponsesContentPart `json:"content,omitempty"`
	CallID    string                 `json:"call_id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Arguments string                 `json:"arguments,omitempty"`
	Output    string                 `json:"output,omitempty"`
}

// ResponsesTool is one entry of the Responses request's tools array.
type ResponsesTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ResponsesToolChoiceFunction names a forced single tool.
type ResponsesToolChoiceFunction struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// ResponsesRequest is the provider-shaped request this gateway sends
// upstream for every adapted Anthropic call.
type ResponsesRequest struct {
	Model             string               `json:"model"`
	Instructions      string               `json:"instructions"`
	Input             []ResponsesInputItem `json:"input"`
	Reasoning         ResponsesReasoning   `json:"reasoning"`
	Text              ResponsesText        `json:"text"`
	ParallelToolCalls bool                 `json:"parallel_tool_calls"`
	Store             bool                 `json:"store"`
	Include           []string             `json:"include,omitempty"`
	Stream            bool                 `json:"stream"`
	PromptCacheKey    string               `json:"prompt_cache_key,omitempty"`
	Tools             []ResponsesTool      `json:"tools,omitempty"`
	ToolChoice        any                  `json:"tool_choice,omitempty"`
}

// maxTools caps the number of tools forwarded upstream.
const maxTools = 16
