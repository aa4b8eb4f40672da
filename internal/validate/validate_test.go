package validate

import (
	"context"
	"database/sql"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpttoolsgw/internal/store"
)

type fakeKeys struct {
	byHash map[string]*store.APIKey
}

func (f *fakeKeys) GetAPIKeyByHash(ctx context.Context, hash string) (*store.APIKey, error) {
	return f.byHash[hash], nil
}

func TestExtractPlatformKeyPrefersBearer(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer sk-abc")
	h.Set("x-api-key", "sk-other")
	key, ok := ExtractPlatformKey(h)
	require.True(t, ok)
	assert.Equal(t, "sk-abc", key)
}

func TestExtractPlatformKeyFallsBackToXAPIKey(t *testing.T) {
	h := http.Header{}
	h.Set("x-api-key", "sk-other")
	key, ok := ExtractPlatformKey(h)
	require.True(t, ok)
	assert.Equal(t, "sk-other", key)
}

func TestExtractPlatformKeyMissing(t *testing.T) {
	_, ok := ExtractPlatformKey(http.Header{})
	assert.False(t, ok)
}

func TestPrepareRejectsMissingKey(t *testing.T) {
	_, err := Prepare(context.Background(), &fakeKeys{}, "POST", "/v1/messages", http.Header{}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestPrepareRejectsUnknownKey(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer sk-unknown")
	_, err := Prepare(context.Background(), &fakeKeys{byHash: map[string]*store.APIKey{}}, "POST", "/v1/messages", h, nil)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestPrepareRejectsDisabledKey(t *testing.T) {
	hash := HashPlatformKey("sk-real")
	keys := &fakeKeys{byHash: map[string]*store.APIKey{
		hash: {ID: "key-1", Status: "disabled", Protocol: "openai_compat"},
	}}
	h := http.Header{}
	h.Set("Authorization", "Bearer sk-real")
	_, err := Prepare(context.Background(), keys, "POST", "/v1/messages", h, nil)
	assert.ErrorIs(t, err, ErrAPIKeyDisabled)
}

func TestPrepareAppliesModelOverride(t *testing.T) {
	hash := HashPlatformKey("sk-real")
	keys := &fakeKeys{byHash: map[string]*store.APIKey{
		hash: {
			ID: "key-1", Status: "active", Protocol: "openai_compat",
			ModelOverride: sql.NullString{String: "gpt-5.3-codex", Valid: true},
		},
	}}
	h := http.Header{}
	h.Set("Authorization", "Bearer sk-real")
	req, err := Prepare(context.Background(), keys, "POST", "/v1/responses", h, []byte(`{"model":"gpt-4o"}`))
	require.NoError(t, err)
	assert.Equal(t, "gpt-5.3-codex", req.ModelForLog)
}

func TestPrepareLeavesAnthropicNativeBodyUntouched(t *testing.T) {
	hash := HashPlatformKey("sk-real")
	keys := &fakeKeys{byHash: map[string]*store.APIKey{
		hash: {
			ID: "key-1", Status: "active", Protocol: "anthropic_native",
			ModelOverride: sql.NullString{String: "gpt-5.3-codex", Valid: true},
		},
	}}
	h := http.Header{}
	h.Set("Authorization", "Bearer sk-real")
	req, err := Prepare(context.Background(), keys, "POST", "/v1/messages", h, []byte(`{"model":"claude-3"}`))
	require.NoError(t, err)
	assert.Equal(t, "claude-3", req.ModelForLog)
}
