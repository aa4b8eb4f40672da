package store

import (
	"context"
	"database/sql"
	"time"
)

// UsageSnapshot is the last-observed quota usage for one rolling window
// (e.g. "5h", "weekly") on one account, as reported by the upstream
// usage endpoint.
type UsageSnapshot struct {
	AccountID   string
	WindowLabel string
	UsedPercent float64
	ResetsAt    *time.Time
	FetchedAt   time.Time
}

// UpsertUsageSnapshot records the latest usage reading for an
// account/window pair, overwriting whatever was stored before.
func (s *Store) UpsertUsageSnapshot(ctx context.Context, u *UsageSnapshot) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO usage_snapshots
		(account_id, window_label, used_percent, resets_at, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, window_label) DO UPDATE SET
			used_percent = excluded.used_percent,
			resets_at = excluded.resets_at,
			fetched_at = excluded.fetched_at`,
		u.AccountID, u.WindowLabel, u.UsedPercent, u.ResetsAt, u.FetchedAt)
	return err
}

// ListUsageSnapshots returns every known window reading for an account.
func (s *Store) ListUsageSnapshots(ctx context.Context, accountID string) ([]*UsageSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT account_id, window_label, used_percent, resets_at, fetched_at
		FROM usage_snapshots WHERE account_id = ? ORDER BY window_label`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*UsageSnapshot
	for rows.Next() {
		var u UsageSnapshot
		if err := rows.Scan(&u.AccountID, &u.WindowLabel, &u.UsedPercent, &u.ResetsAt, &u.FetchedAt); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// MostExhaustedWindow returns accountID's window with the highest
// used_percent, used to flag an account as nearly rate-limited before
// the upstream actually rejects it. Returns (nil, nil) when no snapshot
// has been recorded for that account.
func (s *Store) MostExhaustedWindow(ctx context.Context, accountID string) (*UsageSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT account_id, window_label, used_percent, resets_at, fetched_at
		FROM usage_snapshots WHERE account_id = ? ORDER BY used_percent DESC LIMIT 1`, accountID)
	var u UsageSnapshot
	err := row.Scan(&u.AccountID, &u.WindowLabel, &u.UsedPercent, &u.ResetsAt, &u.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
