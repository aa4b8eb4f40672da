// Package oauth implements the issuer-facing half of token exchange:
// trading an account's id_token for a usable api_key_access_token via
// the issuer's token_exchange grant. This replaces the teacher's
// multi-step session-key login flow (service/oauth.go) with the single
// POST the gateway's account model actually needs once an account's
// id_token is already on file.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"gpttoolsgw/internal/tokenexchange"
)

// grantType is the RFC 8693 token-exchange grant the issuer expects.
const grantType = "urn:ietf:params:oauth:grant-type:token-exchange"

// Exchanger calls the issuer's token endpoint to trade an id_token for
// an api_key_access_token. It implements tokenexchange.Exchanger.
type Exchanger struct {
	issuer     string
	clientID   string
	httpClient *http.Client
}

// New builds an Exchanger against issuer/clientID, following the
// teacher's fixed 30s client timeout for auth-flow calls.
func New(issuer, clientID string) *Exchanger {
	return &Exchanger{
		issuer:   issuer,
		clientID: clientID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ExchangeIDTokenForAPIKey POSTs the token_exchange grant and returns
// the issued access_token, wrapping a non-2xx response in a
// tokenexchange.IssuerError so callers can inspect the status code.
func (e *Exchanger) ExchangeIDTokenForAPIKey(ctx context.Context, idToken string) (string, error) {
	endpoint, err := url.JoinPath(e.issuer, "oauth", "token")
	if err != nil {
		return "", fmt.Errorf("build token endpoint: %w", err)
	}

	payload := map[string]string{
		"grant_type":           grantType,
		"client_id":            e.clientID,
		"subject_token":        idToken,
		"subject_token_type":   "urn:ietf:params:oauth:token-type:id_token",
		"requested_token_type": "urn:ietf:params:oauth:token-type:access_token",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode token exchange request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build token exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read token exchange response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", tokenexchange.NewIssuerError(resp, string(respBody))
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode token exchange response: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("token exchange response carried no access_token")
	}
	return result.AccessToken, nil
}
