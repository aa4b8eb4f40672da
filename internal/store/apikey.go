package store

import (
	"context"
	"database/sql"
	"time"
)

// APIKey is one platform-issued key accepted by the gateway's local
// validation layer. ModelOverride/ReasoningOverride force every
// request on this key to a fixed upstream model/reasoning effort
// regardless of what the client asked for; AccountID pins the key to
// a single account instead of the normal failover pool.
type APIKey struct {
	ID                string
	KeyHash           string
	Label             string
	Protocol          string
	ModelOverride      sql.NullString
	ReasoningOverride  sql.NullString
	AccountID         sql.NullString
	Status            string
	CreatedAt         time.Time
	LastUsedAt        *time.Time
}

// Active reports whether the key should still be accepted.
func (k *APIKey) Active() bool {
	return k.Status == "active"
}

const apiKeyColumns = `id, key_hash, label, protocol, model_override, reasoning_override,
	account_id, status, created_at, last_used_at`

func scanAPIKey(row rowScanner) (*APIKey, error) {
	var k APIKey
	err := row.Scan(&k.ID, &k.KeyHash, &k.Label, &k.Protocol, &k.ModelOverride,
		&k.ReasoningOverride, &k.AccountID, &k.Status, &k.CreatedAt, &k.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// CreateAPIKey inserts a new platform key. Only KeyHash is ever
// persisted; the raw key is shown to the caller once and discarded.
func (s *Store) CreateAPIKey(ctx context.Context, k *APIKey) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO api_keys
		(id, key_hash, label, protocol, model_override, reasoning_override, account_id, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.KeyHash, k.Label, k.Protocol, k.ModelOverride, k.ReasoningOverride, k.AccountID, k.Status)
	return err
}

// GetAPIKeyByHash looks up a key by its SHA-256 hash, returning
// (nil, nil) when no key matches.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*APIKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	k, err := scanAPIKey(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

// ListAPIKeys returns every configured platform key.
func (s *Store) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// TouchAPIKeyLastUsed stamps last_used_at to now.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// SetAPIKeyStatus enables or disables a platform key.
func (s *Store) SetAPIKeyStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE api_keys SET status = ? WHERE id = ?`, status, id)
	return err
}

// DeleteAPIKey removes a platform key permanently.
func (s *Store) DeleteAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	return err
}
