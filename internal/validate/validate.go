// Package validate implements the gateway's local authentication and
// request-shaping pass: extracting the platform key, looking it up,
// and producing a Request ready for candidate selection.
package validate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"gpttoolsgw/internal/protocol"
	"gpttoolsgw/internal/reqhelpers"
	"gpttoolsgw/internal/rewrite"
	"gpttoolsgw/internal/store"
)

var (
	// ErrMissingAPIKey means neither Authorization: Bearer nor x-api-key
	// carried a token.
	ErrMissingAPIKey = errors.New("missing api key")
	// ErrInvalidAPIKey means the hash didn't match any stored key.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrAPIKeyDisabled means the key exists but is not active.
	ErrAPIKeyDisabled = errors.New("api key disabled")
)

// Request is a fully validated, rewrite-applied inbound request ready
// to be handed to the candidate selector and failover driver.
type Request struct {
	Key             *store.APIKey
	Path            string
	Method          string
	Body            []byte
	IsStream        bool
	ModelForLog     string
	ReasoningForLog string
}

// ExtractPlatformKey reads the bearer token from Authorization or the
// raw value from x-api-key, preferring Authorization when both are set.
func ExtractPlatformKey(h http.Header) (string, bool) {
	if auth := h.Get("Authorization"); auth != "" {
		if rest, ok := strings.CutPrefix(auth, "Bearer "); ok {
			rest = strings.TrimSpace(rest)
			if rest != "" {
				return rest, true
			}
		}
	}
	if v := strings.TrimSpace(h.Get("x-api-key")); v != "" {
		return v, true
	}
	return "", false
}

// HashPlatformKey returns the hex SHA-256 digest used as the api_keys
// lookup column; raw keys are never persisted.
func HashPlatformKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Prepare reads body fully (even if auth will fail, so a retrying
// client never sees a truncated write), resolves the platform key, and
// applies path normalization plus key-level overrides.
func Prepare(ctx context.Context, keys APIKeyLookup, method, path string, header http.Header, body []byte) (*Request, error) {
	rawKey, ok := ExtractPlatformKey(header)
	if !ok {
		return nil, ErrMissingAPIKey
	}

	key, err := keys.GetAPIKeyByHash(ctx, HashPlatformKey(rawKey))
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrInvalidAPIKey
	}
	if !key.Active() {
		return nil, ErrAPIKeyDisabled
	}

	normalizedPath := reqhelpers.NormalizeModelsPath(path)
	rewritten, err := rewrite.ApplyKeyOverrides(protocol.ProtocolType(key.Protocol), key.ModelOverride, key.ReasoningOverride, body)
	if err != nil {
		return nil, err
	}

	modelForLog, ok := reqhelpers.ExtractRequestModel(rewritten)
	if !ok && key.ModelOverride.Valid {
		modelForLog = key.ModelOverride.String
	}
	reasoningForLog, ok := reqhelpers.ExtractRequestReasoningEffort(rewritten)
	if !ok && key.ReasoningOverride.Valid {
		reasoningForLog = key.ReasoningOverride.String
	}

	return &Request{
		Key:             key,
		Path:            normalizedPath,
		Method:          method,
		Body:            rewritten,
		IsStream:        reqhelpers.ExtractRequestStream(body),
		ModelForLog:     modelForLog,
		ReasoningForLog: reasoningForLog,
	}, nil
}

// APIKeyLookup is the storage dependency Prepare needs; *store.Store
// satisfies it.
type APIKeyLookup interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*store.APIKey, error)
}
