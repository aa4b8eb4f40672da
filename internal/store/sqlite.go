// Package store persists accounts, api keys, usage snapshots, login
// sessions, and request logs in SQLite, adapted from the teacher's
// store package (same driver, same WAL pragma string, same additive
// migration style) onto the gateway's own schema.
package store

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the shared database handle.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the SQLite database at dbPath and
// runs all migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-64000")
	if err != nil {
		return nil, err
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB exposes the raw handle for callers (e.g. the /rpc admin
// surface) that need ad hoc queries outside this package's API.
func (s *Store) GetDB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			chatgpt_account_id TEXT,
			workspace_id TEXT,
			cookie TEXT,
			id_token TEXT,
			refresh_token TEXT,
			api_key_access_token TEXT,
			token_expires_at DATETIME,
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_used_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_status ON accounts(status)`,

		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			key_hash TEXT NOT NULL UNIQUE,
			label TEXT NOT NULL,
			protocol TEXT NOT NULL DEFAULT 'openai_compat',
			model_override TEXT,
			reasoning_override TEXT,
			account_id TEXT,
			status TEXT NOT NULL DEFAULT 'active',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_used_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_key_hash ON api_keys(key_hash)`,

		`CREATE TABLE IF NOT EXISTS usage_snapshots (
			account_id TEXT NOT NULL,
			window_label TEXT NOT NULL,
			used_percent REAL NOT NULL DEFAULT 0,
			resets_at DATETIME,
			fetched_at DATETIME NOT NULL,
			PRIMARY KEY (account_id, window_label)
		)`,

		`CREATE TABLE IF NOT EXISTS login_sessions (
			state TEXT PRIMARY KEY,
			pkce_verifier TEXT NOT NULL,
			redirect_uri TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,

		`CREATE TABLE IF NOT EXISTS request_logs (
			id TEXT PRIMARY KEY,
			api_key_id TEXT,
			account_id TEXT,
			path TEXT NOT NULL,
			model TEXT,
			status_code INTEGER,
			error TEXT,
			candidate_switches INTEGER DEFAULT 0,
			duration_ms INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_created_at ON request_logs(created_at)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}
	return s.addAccountScheduleColumns()
}

// addColumnIfNotExists adds a column to a table if it doesn't exist,
// ignoring the resulting sqlite error when it already does.
func (s *Store) addColumnIfNotExists(table, column, definition string) error {
	query := `ALTER TABLE ` + table + ` ADD COLUMN ` + column + ` ` + definition
	_, err := s.db.Exec(query)
	if err != nil && err.Error() != "duplicate column name: "+column {
		return err
	}
	return nil
}
