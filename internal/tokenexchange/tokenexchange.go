// Package tokenexchange caches the "ID-token → API-key bearer" exchange
// needed when the upstream base is OpenAI's public API rather than the
// ChatGPT backend. Concurrent callers for the same account are
// deduplicated with golang.org/x/sync/singleflight so at most one
// outbound exchange POST is in flight per account at a time.
package tokenexchange

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/singleflight"
)

// Token is the subset of stored token fields the exchange cares about.
type Token struct {
	AccountID        string
	IDToken          string
	APIKeyAccessToken string
}

// Store is the persistence collaborator: re-read and persist the
// exchanged bearer on the account's token row.
type Store interface {
	GetToken(ctx context.Context, accountID string) (*Token, error)
	SetAPIKeyAccessToken(ctx context.Context, accountID, token string) error
}

// Exchanger performs the actual issuer POST. Implemented by the OAuth
// service collaborator; kept as an interface here so tests can supply a
// fake without standing up an HTTP server.
type Exchanger interface {
	ExchangeIDTokenForAPIKey(ctx context.Context, idToken string) (string, error)
}

// Cache is the per-account singleflight-backed exchange cache.
type Cache struct {
	store     Store
	exchanger Exchanger
	group     singleflight.Group
}

// New constructs a Cache.
func New(store Store, exchanger Exchanger) *Cache {
	return &Cache{store: store, exchanger: exchanger}
}

// GetOrExchange returns a usable api_key_access_token for accountID,
// exchanging with the issuer only when necessary.
//
// Order matches the spec precisely:
//  1. If the already-loaded Token carries an api_key_access_token, use it.
//  2. Otherwise join the per-account singleflight group.
//  3. Inside the group, re-read storage: another caller may have already
//     written it while we waited.
//  4. Only if still absent, exchange with the issuer and persist.
//
// Exchange failures propagate the issuer's error text verbatim; this
// cache never marks cooldown, since only the caller (the failover
// driver) knows whether the failure should count against the account.
func (c *Cache) GetOrExchange(ctx context.Context, tok *Token) (string, error) {
	if tok.APIKeyAccessToken != "" {
		return tok.APIKeyAccessToken, nil
	}

	accountID := tok.AccountID
	v, err, _ := c.group.Do(accountID, func() (interface{}, error) {
		fresh, err := c.store.GetToken(ctx, accountID)
		if err != nil {
			return "", fmt.Errorf("re-read token: %w", err)
		}
		if fresh != nil && fresh.APIKeyAccessToken != "" {
			return fresh.APIKeyAccessToken, nil
		}

		bearer, err := c.exchanger.ExchangeIDTokenForAPIKey(ctx, tok.IDToken)
		if err != nil {
			return "", err
		}
		if err := c.store.SetAPIKeyAccessToken(ctx, accountID, bearer); err != nil {
			return "", fmt.Errorf("persist exchanged token: %w", err)
		}
		return bearer, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// IssuerError wraps an HTTP-level failure from the token_exchange grant
// with the upstream status code, so callers can distinguish a 4xx
// rejection from a transport-level failure.
type IssuerError struct {
	StatusCode int
	Body       string
}

func (e *IssuerError) Error() string {
	return fmt.Sprintf("token exchange failed: status=%d body=%s", e.StatusCode, e.Body)
}

// NewIssuerError constructs an IssuerError from an HTTP response status
// and a pre-read body.
func NewIssuerError(resp *http.Response, body string) *IssuerError {
	return &IssuerError{StatusCode: resp.StatusCode, Body: body}
}
