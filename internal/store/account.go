package store

import (
	"context"
	"database/sql"
	"time"

	"gpttoolsgw/internal/tokenexchange"
)

// Account is one configured upstream credential the gateway can route
// requests through. This replaces the teacher's OAuth/session_key/
// api_key account-type split: every account here speaks the same
// ChatGPT-backend protocol, distinguished only by which fields are
// populated (a bare API-key-only account has no id_token/cookie).
type Account struct {
	ID                string
	Label             string
	ChatGPTAccountID  string
	WorkspaceID       string
	Cookie            string
	IDToken           string
	RefreshToken      string
	APIKeyAccessToken string
	TokenExpiresAt    *time.Time
	Status            string
	MaxInflight       int
	Priority          int
	CreatedAt         time.Time
	LastUsedAt        *time.Time
}

// Active reports whether the account should be offered as a candidate.
func (a *Account) Active() bool {
	return a.Status == "active"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var a Account
	err := row.Scan(
		&a.ID, &a.Label, &a.ChatGPTAccountID, &a.WorkspaceID, &a.Cookie,
		&a.IDToken, &a.RefreshToken, &a.APIKeyAccessToken, &a.TokenExpiresAt,
		&a.Status, &a.MaxInflight, &a.Priority, &a.CreatedAt, &a.LastUsedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const accountColumns = `id, label, chatgpt_account_id, workspace_id, cookie,
	id_token, refresh_token, api_key_access_token, token_expires_at,
	status, max_inflight, priority, created_at, last_used_at`

// CreateAccount inserts a new account row.
func (s *Store) CreateAccount(ctx context.Context, a *Account) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO accounts
		(id, label, chatgpt_account_id, workspace_id, cookie, id_token, refresh_token,
		 api_key_access_token, token_expires_at, status, max_inflight, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Label, a.ChatGPTAccountID, a.WorkspaceID, a.Cookie, a.IDToken, a.RefreshToken,
		a.APIKeyAccessToken, a.TokenExpiresAt, a.Status, a.MaxInflight, a.Priority)
	return err
}

// GetAccount fetches one account by id, returning (nil, nil) if absent.
func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListActiveAccounts returns every account currently eligible for selection.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE status = 'active' ORDER BY priority DESC, created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TouchAccountLastUsed stamps last_used_at to now.
func (s *Store) TouchAccountLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// SetAccountStatus updates an account's scheduling status (active/disabled).
func (s *Store) SetAccountStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET status = ? WHERE id = ?`, status, id)
	return err
}

// SetAccountTokens persists a refreshed id_token/refresh_token pair and
// clears the now-stale api_key_access_token so the next call re-exchanges.
func (s *Store) SetAccountTokens(ctx context.Context, id, idToken, refreshToken string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET
		id_token = ?, refresh_token = ?, token_expires_at = ?, api_key_access_token = ''
		WHERE id = ?`, idToken, refreshToken, expiresAt, id)
	return err
}

// GetToken implements tokenexchange.Store: it reads the subset of
// account fields the exchange cache needs.
func (s *Store) GetToken(ctx context.Context, accountID string) (*tokenexchange.Token, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, id_token, api_key_access_token FROM accounts WHERE id = ?`, accountID)
	var t tokenexchange.Token
	if err := row.Scan(&t.AccountID, &t.IDToken, &t.APIKeyAccessToken); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// SetAPIKeyAccessToken implements tokenexchange.Store.
func (s *Store) SetAPIKeyAccessToken(ctx context.Context, accountID, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE accounts SET api_key_access_token = ? WHERE id = ?`, token, accountID)
	return err
}
