package store

import (
	"context"
	"database/sql"
	"time"
)

// LoginSession tracks one in-flight OAuth PKCE login, keyed by the
// state parameter round-tripped through the upstream authorize
// redirect.
type LoginSession struct {
	State        string
	PKCEVerifier string
	RedirectURI  string
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

// CreateLoginSession persists a new PKCE login attempt.
func (s *Store) CreateLoginSession(ctx context.Context, l *LoginSession) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO login_sessions
		(state, pkce_verifier, redirect_uri) VALUES (?, ?, ?)`,
		l.State, l.PKCEVerifier, l.RedirectURI)
	return err
}

// GetLoginSession fetches a login session by its state token,
// returning (nil, nil) if it is unknown. Age and completion are not
// checked: an old or completed session is still returned.
func (s *Store) GetLoginSession(ctx context.Context, state string) (*LoginSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT state, pkce_verifier, redirect_uri, created_at, completed_at
		FROM login_sessions WHERE state = ?`, state)
	var l LoginSession
	err := row.Scan(&l.State, &l.PKCEVerifier, &l.RedirectURI, &l.CreatedAt, &l.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// CompleteLoginSession marks the session as consumed so the callback
// can't be replayed.
func (s *Store) CompleteLoginSession(ctx context.Context, state string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE login_sessions SET completed_at = CURRENT_TIMESTAMP WHERE state = ?`, state)
	return err
}

// DeleteStaleLoginSessions removes abandoned login attempts older than maxAge.
func (s *Store) DeleteStaleLoginSessions(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	result, err := s.db.ExecContext(ctx, `DELETE FROM login_sessions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
