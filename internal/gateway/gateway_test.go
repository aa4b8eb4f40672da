package gateway

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpttoolsgw/internal/cooldown"
	"gpttoolsgw/internal/failover"
	"gpttoolsgw/internal/gwmetrics"
	"gpttoolsgw/internal/inflight"
	"gpttoolsgw/internal/reqgate"
	"gpttoolsgw/internal/routehint"
	"gpttoolsgw/internal/routequality"
	"gpttoolsgw/internal/selector"
	"gpttoolsgw/internal/store"
	"gpttoolsgw/internal/tokenexchange"
	"gpttoolsgw/internal/tracelog"
	"gpttoolsgw/internal/transport"
	"gpttoolsgw/internal/validate"
	"gpttoolsgw/pkg/jwt"
)

func bytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

func keyHashFor(rawKey string) string {
	return validate.HashPlatformKey(rawKey)
}

type fakeAccounts struct {
	byID map[string]*store.Account
}

func (f *fakeAccounts) ListActiveAccounts(ctx context.Context) ([]*store.Account, error) {
	var out []*store.Account
	for _, a := range f.byID {
		if a.Active() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAccounts) GetAccount(ctx context.Context, id string) (*store.Account, error) {
	return f.byID[id], nil
}

func (f *fakeAccounts) TouchAccountLastUsed(ctx context.Context, id string) error { return nil }

type fakeKeys struct {
	byHash map[string]*store.APIKey
}

func (f *fakeKeys) GetAPIKeyByHash(ctx context.Context, hash string) (*store.APIKey, error) {
	return f.byHash[hash], nil
}

type discardLogs struct{ rows []*store.RequestLog }

func (d *discardLogs) CreateRequestLog(log *store.RequestLog) error {
	d.rows = append(d.rows, log)
	return nil
}

type discardExchanger struct{}

func (discardExchanger) ExchangeIDTokenForAPIKey(ctx context.Context, idToken string) (string, error) {
	return "exchanged-token", nil
}

func newTestGateway(t *testing.T, upstreamBase string, accounts *fakeAccounts, keys *fakeKeys, logs *discardLogs) *Gateway {
	t.Helper()
	cd := cooldown.NewRegistry()
	infl := inflight.New(0)
	hints := routehint.New()
	quality := routequality.New()
	metrics := gwmetrics.New()
	sel := selector.New(cd, infl, hints, quality)
	fo := failover.New(sel, cd, infl, hints, quality, metrics)
	httpClient := transport.NewClient(transport.DefaultConfig())
	trace := tracelog.New(nopWriter{})
	exchange := tokenexchange.New(nil, discardExchanger{})
	rpcAuth := jwt.NewManager("test-secret", "gpttoolsgw-rpc-test")

	return New(
		Config{UpstreamBaseURL: upstreamBase},
		accounts, keys, logs, exchange, fo, nil, hints,
		reqgate.New(), httpClient, metrics, trace, rpcAuth,
	)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestHandleOptionsRespondsNoContent(t *testing.T) {
	gw := newTestGateway(t, "http://unused", &fakeAccounts{byID: map[string]*store.Account{}}, &fakeKeys{}, &discardLogs{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/v1/messages", nil)
	gw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleHealthRespondsOK(t *testing.T) {
	gw := newTestGateway(t, "http://unused", &fakeAccounts{byID: map[string]*store.Account{}}, &fakeKeys{}, &discardLogs{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	gw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleForwardMissingAPIKeyReturns401(t *testing.T) {
	gw := newTestGateway(t, "http://unused", &fakeAccounts{byID: map[string]*store.Account{}}, &fakeKeys{}, &discardLogs{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	gw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleForwardCountTokensShortCircuitsLocally(t *testing.T) {
	keys := &fakeKeys{byHash: map[string]*store.APIKey{
		keyHashFor("sk-test"): {ID: "key-1", Status: "active", Protocol: "anthropic_native"},
	}}

	logs := &discardLogs{}
	gw := newTestGateway(t, "http://unused", &fakeAccounts{byID: map[string]*store.Account{}}, keys, logs)

	body := []byte(`{"system":"0123456789","messages":[]}`)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", bytesReader(body))
	req.Header.Set("Authorization", "Bearer sk-test")
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"input_tokens"`)
	require.Len(t, logs.rows, 1)
}

func TestHandleForwardOpenAICompatProxiesToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	keys := &fakeKeys{byHash: map[string]*store.APIKey{
		keyHashFor("sk-test"): {ID: "key-1", Status: "active", Protocol: "openai_compat"},
	}}
	accounts := &fakeAccounts{byID: map[string]*store.Account{
		"acct-a": {ID: "acct-a", Status: "active", APIKeyAccessToken: "static-bearer"},
	}}
	logs := &discardLogs{}
	gw := newTestGateway(t, upstream.URL, accounts, keys, logs)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", bytesReader([]byte(`{"model":"gpt-5.3-codex"}`)))
	req.Header.Set("Authorization", "Bearer sk-test")
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)
	require.Len(t, logs.rows, 1)
	assert.Equal(t, "acct-a", logs.rows[0].AccountID.String)
}

func TestHandleRPCRejectsMissingToken(t *testing.T) {
	gw := newTestGateway(t, "http://unused", &fakeAccounts{byID: map[string]*store.Account{}}, &fakeKeys{}, &discardLogs{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytesReader([]byte(`{"id":"1","method":"initialize"}`)))
	gw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleRPCAccountListWithValidToken(t *testing.T) {
	gw := newTestGateway(t, "http://unused", &fakeAccounts{byID: map[string]*store.Account{
		"acct-a": {ID: "acct-a", Status: "active"},
	}}, &fakeKeys{}, &discardLogs{})

	token, _, err := jwt.NewManager("test-secret", "gpttoolsgw-rpc-test").Generate("rpc-client", "rpc", time.Hour)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytesReader([]byte(`{"id":"1","method":"account/list"}`)))
	req.Header.Set("X-Gpttools-Rpc-Token", "Bearer "+token)
	gw.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "acct-a")
}

func TestHandleForwardNoActiveAccountsReturns503(t *testing.T) {
	keys := &fakeKeys{byHash: map[string]*store.APIKey{
		keyHashFor("sk-test"): {ID: "key-1", Status: "active", Protocol: "openai_compat"},
	}}
	gw := newTestGateway(t, "http://unused", &fakeAccounts{byID: map[string]*store.Account{}}, keys, &discardLogs{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", bytesReader([]byte(`{}`)))
	req.Header.Set("Authorization", "Bearer sk-test")
	gw.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

