package routehint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPreferredReturnsLastSuccess(t *testing.T) {
	r := New()
	scope := Key("key1", "/v1/messages", "gpt-5.3-codex")

	_, ok := r.Preferred(scope)
	assert.False(t, ok)

	r.RememberSuccess(scope, "acct-a")
	got, ok := r.Preferred(scope)
	assert.True(t, ok)
	assert.Equal(t, "acct-a", got)

	r.RememberSuccess(scope, "acct-b")
	got, ok = r.Preferred(scope)
	assert.True(t, ok)
	assert.Equal(t, "acct-b", got)
}

func TestPreferredExpiresAfterTTL(t *testing.T) {
	r := New()
	now := time.Now()
	r.now = func() time.Time { return now }
	scope := Key("key1", "/v1/messages", "")

	r.RememberSuccess(scope, "acct-a")
	now = now.Add(TTL + time.Second)

	_, ok := r.Preferred(scope)
	assert.False(t, ok)
}

func TestKeyUsesDashForEmptyModel(t *testing.T) {
	assert.Equal(t, "k|/v1/messages|-", Key("k", "/v1/messages", ""))
}
