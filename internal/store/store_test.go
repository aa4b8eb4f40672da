package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "gateway.db")
	s, err := New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAccountCreateGetList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &Account{ID: "acct-1", Label: "primary", Status: "active", MaxInflight: 2, Priority: 100}
	require.NoError(t, s.CreateAccount(ctx, a))

	got, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "primary", got.Label)
	require.True(t, got.Active())

	list, err := s.ListActiveAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, s.SetAccountStatus(ctx, "acct-1", "disabled"))
	list, err = s.ListActiveAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 0)
}

func TestAccountGetMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetAccount(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestAccountTokenRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateAccount(ctx, &Account{ID: "acct-1", Label: "primary", Status: "active"}))
	require.NoError(t, s.SetAccountTokens(ctx, "acct-1", "id-token", "refresh-token", time.Now().Add(time.Hour)))
	require.NoError(t, s.SetAPIKeyAccessToken(ctx, "acct-1", "exchanged-key"))

	tok, err := s.GetToken(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, tok)
	require.Equal(t, "id-token", tok.IDToken)
	require.Equal(t, "exchanged-key", tok.APIKeyAccessToken)
}

func TestAPIKeyCreateAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	k := &APIKey{ID: "key-1", KeyHash: "hash-abc", Label: "default", Protocol: "anthropic", Status: "active"}
	require.NoError(t, s.CreateAPIKey(ctx, k))

	got, err := s.GetAPIKeyByHash(ctx, "hash-abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, got.Active())

	require.NoError(t, s.SetAPIKeyStatus(ctx, "key-1", "disabled"))
	got, err = s.GetAPIKeyByHash(ctx, "hash-abc")
	require.NoError(t, err)
	require.False(t, got.Active())
}

func TestUsageSnapshotUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertUsageSnapshot(ctx, &UsageSnapshot{
		AccountID: "acct-1", WindowLabel: "5h", UsedPercent: 10, FetchedAt: time.Now(),
	}))
	require.NoError(t, s.UpsertUsageSnapshot(ctx, &UsageSnapshot{
		AccountID: "acct-1", WindowLabel: "5h", UsedPercent: 55, FetchedAt: time.Now(),
	}))

	snaps, err := s.ListUsageSnapshots(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	require.Equal(t, 55.0, snaps[0].UsedPercent)
}

func TestLoginSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateLoginSession(ctx, &LoginSession{
		State: "state-1", PKCEVerifier: "verifier", RedirectURI: "https://example.test/cb",
	}))

	got, err := s.GetLoginSession(ctx, "state-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Nil(t, got.CompletedAt)

	require.NoError(t, s.CompleteLoginSession(ctx, "state-1"))
	got, err = s.GetLoginSession(ctx, "state-1")
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
}

func TestRequestLogCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.CreateRequestLog(&RequestLog{
		ID: "req-1", Path: "/v1/messages", StatusCode: 200, CandidateSwitches: 1,
	}))

	got, err := s.GetRequestLog("req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, 200, got.StatusCode)
}
