// Package counttokens serves the anthropic_native count_tokens
// endpoint entirely locally: no upstream call, just a character-sum
// heuristic over the request's text content.
package counttokens

import (
	"strings"

	"github.com/tidwall/gjson"

	"gpttoolsgw/internal/protocol"
)

// Path is the exact endpoint this package short-circuits.
const Path = "/v1/messages/count_tokens"

// Applies reports whether a request should be answered locally instead
// of forwarded upstream.
func Applies(proto protocol.ProtocolType, method, path string) bool {
	if proto != protocol.ProtocolAnthropicNative || !strings.EqualFold(method, "POST") {
		return false
	}
	return path == Path || strings.HasPrefix(path, Path+"?")
}

// Estimate sums the rune length of every text/content field reachable
// from the request's system and messages blocks and divides by 4,
// flooring at 1 token so an empty request still reports a token.
func Estimate(body []byte) int64 {
	payload := gjson.ParseBytes(body)
	if !payload.IsObject() {
		return 1
	}

	var chars int64
	if sys := payload.Get("system"); sys.Exists() {
		chars += accumulateTextLen(sys)
	}
	if messages := payload.Get("messages"); messages.IsArray() {
		for _, m := range messages.Array() {
			if content := m.Get("content"); content.Exists() {
				chars += accumulateTextLen(content)
			}
		}
	}

	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

func accumulateTextLen(v gjson.Result) int64 {
	switch {
	case v.Type == gjson.String:
		return int64(len([]rune(v.String())))
	case v.IsArray():
		var total int64
		for _, item := range v.Array() {
			total += accumulateTextLen(item)
		}
		return total
	case v.IsObject():
		if text := v.Get("text"); text.Type == gjson.String {
			return int64(len([]rune(text.String())))
		}
		if content := v.Get("content"); content.Exists() {
			return accumulateTextLen(content)
		}
		if input := v.Get("input"); input.Exists() {
			return accumulateTextLen(input)
		}
		var total int64
		v.ForEach(func(_, value gjson.Result) bool {
			total += accumulateTextLen(value)
			return true
		})
		return total
	default:
		return 0
	}
}

// Response is the local count_tokens JSON body.
type Response struct {
	InputTokens int64 `json:"input_tokens"`
}
