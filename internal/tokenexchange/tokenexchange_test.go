package tokenexchange

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu    sync.Mutex
	token map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{token: map[string]string{}} }

func (s *fakeStore) GetToken(_ context.Context, accountID string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Token{AccountID: accountID, APIKeyAccessToken: s.token[accountID]}, nil
}

func (s *fakeStore) SetAPIKeyAccessToken(_ context.Context, accountID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token[accountID] = token
	return nil
}

type countingExchanger struct {
	calls int64
}

func (e *countingExchanger) ExchangeIDTokenForAPIKey(_ context.Context, idToken string) (string, error) {
	atomic.AddInt64(&e.calls, 1)
	return "exchanged-" + idToken, nil
}

func TestGetOrExchangeReturnsCachedToken(t *testing.T) {
	store := newFakeStore()
	exch := &countingExchanger{}
	c := New(store, exch)

	got, err := c.GetOrExchange(context.Background(), &Token{AccountID: "acc_1", APIKeyAccessToken: "already-have-it"})
	require.NoError(t, err)
	assert.Equal(t, "already-have-it", got)
	assert.Zero(t, atomic.LoadInt64(&exch.calls))
}

func TestGetOrExchangeSingleflightsConcurrentCallers(t *testing.T) {
	store := newFakeStore()
	exch := &countingExchanger{}
	c := New(store, exch)

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := c.GetOrExchange(context.Background(), &Token{AccountID: "acc_1", IDToken: "idtok"})
			require.NoError(t, err)
			results[i] = got
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, "exchanged-idtok", r)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&exch.calls), "at most one outbound exchange POST per account")
}
