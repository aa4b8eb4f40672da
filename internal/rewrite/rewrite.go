// Package rewrite applies a platform key's model/reasoning overrides to
// an outgoing request body and computes the upstream URL(s) a candidate
// attempt should hit.
package rewrite

import (
	"database/sql"
	"strings"

	"github.com/tidwall/sjson"

	"gpttoolsgw/internal/protocol"
)

// ApplyKeyOverrides rewrites body.model and body.reasoning.effort when
// the key carries overrides, except for anthropic_native keys, which
// pass the client's own model/reasoning choice straight through to the
// adapter (the override only makes sense for non-native protocols where
// the adapter otherwise substitutes its own default model).
func ApplyKeyOverrides(proto protocol.ProtocolType, modelOverride, reasoningOverride sql.NullString, body []byte) ([]byte, error) {
	if proto == protocol.ProtocolAnthropicNative {
		return body, nil
	}

	out := body
	var err error
	if modelOverride.Valid && modelOverride.String != "" {
		out, err = sjson.SetBytes(out, "model", modelOverride.String)
		if err != nil {
			return nil, err
		}
	}
	if reasoningOverride.Valid && reasoningOverride.String != "" {
		effort := NormalizeReasoningEffort(reasoningOverride.String)
		out, err = sjson.SetBytes(out, "reasoning.effort", effort)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NormalizeReasoningEffort maps the handful of effort aliases the
// clients and key overrides use onto the Responses API's vocabulary.
func NormalizeReasoningEffort(effort string) string {
	switch strings.ToLower(strings.TrimSpace(effort)) {
	case "extra_high", "extra-high", "xhigh":
		return "xhigh"
	case "":
		return "high"
	default:
		return strings.ToLower(strings.TrimSpace(effort))
	}
}

// modelsPath is left untouched by the /v1 strip: the upstream
// chatgpt-backend still expects it at /v1/models.
const modelsPath = "/v1/models"

// ComputeUpstreamURL joins base and path into the canonical upstream
// URL, along with an alternate URL to retry on 400/404 for chatgpt
// backends where the /v1 prefix is normally stripped. isChatGPTBackend
// should be true for the codex chatgpt.com/backend-api base; for any
// other base (e.g. the OpenAI API key fallback) the prefix is kept and
// no alternate is offered.
func ComputeUpstreamURL(base, path string, isChatGPTBackend bool) (canonical string, alternate string) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if !isChatGPTBackend {
		return base + path, ""
	}

	isModelsPath := path == modelsPath || strings.HasPrefix(path, modelsPath+"?")
	if isModelsPath {
		return base + path, ""
	}

	stripped := strings.TrimPrefix(path, "/v1")
	if stripped == path {
		// Path never carried a /v1 prefix: it is used as given, and the
		// /v1-prefixed form is offered as the alternate.
		return base + path, base + "/v1" + path
	}
	return base + stripped, base + path
}
