package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// RequestLog is one completed gateway request, recorded after the
// response (or failover exhaustion) finishes.
type RequestLog struct {
	ID                string
	APIKeyID          sql.NullString
	AccountID         sql.NullString
	Path              string
	Model             sql.NullString
	StatusCode        int
	Error             sql.NullString
	CandidateSwitches int
	DurationMs        sql.NullInt64
	CreatedAt         time.Time
}

type RequestLogFilter struct {
	APIKeyID  string
	AccountID string
	Path      string
	Model     string
	FromDate  *time.Time
	ToDate    *time.Time
	Page      int
	Limit     int
}

// CreateRequestLog inserts a completed request's log row.
func (s *Store) CreateRequestLog(log *RequestLog) error {
	query := `INSERT INTO request_logs (
		id, api_key_id, account_id, path, model,
		status_code, error, candidate_switches, duration_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		log.ID, log.APIKeyID, log.AccountID, log.Path, log.Model,
		log.StatusCode, log.Error, log.CandidateSwitches, log.DurationMs,
	)
	return err
}

// GetRequestLog retrieves a request log by ID.
func (s *Store) GetRequestLog(id string) (*RequestLog, error) {
	query := `SELECT
		id, api_key_id, account_id, path, model,
		status_code, error, candidate_switches, duration_ms, created_at
		FROM request_logs WHERE id = ?`

	row := s.db.QueryRow(query, id)

	var log RequestLog
	err := row.Scan(
		&log.ID, &log.APIKeyID, &log.AccountID, &log.Path, &log.Model,
		&log.StatusCode, &log.Error, &log.CandidateSwitches, &log.DurationMs, &log.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return &log, nil
}

// ListRequestLogs lists request logs with filtering and pagination.
func (s *Store) ListRequestLogs(filter RequestLogFilter) ([]*RequestLog, int, error) {
	var conditions []string
	var args []interface{}

	if filter.APIKeyID != "" {
		conditions = append(conditions, "api_key_id = ?")
		args = append(args, filter.APIKeyID)
	}
	if filter.AccountID != "" {
		conditions = append(conditions, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.Path != "" {
		conditions = append(conditions, "path = ?")
		args = append(args, filter.Path)
	}
	if filter.Model != "" {
		conditions = append(conditions, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.FromDate != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, *filter.FromDate)
	}
	if filter.ToDate != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, *filter.ToDate)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM request_logs %s", whereClause)
	var total int
	if err := s.db.QueryRow(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Page < 0 {
		filter.Page = 0
	}
	offset := filter.Page * filter.Limit

	query := fmt.Sprintf(`SELECT
		id, api_key_id, account_id, path, model,
		status_code, error, candidate_switches, duration_ms, created_at
		FROM request_logs %s
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, whereClause)

	args = append(args, filter.Limit, offset)
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var logs []*RequestLog
	for rows.Next() {
		var log RequestLog
		err := rows.Scan(
			&log.ID, &log.APIKeyID, &log.AccountID, &log.Path, &log.Model,
			&log.StatusCode, &log.Error, &log.CandidateSwitches, &log.DurationMs, &log.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, &log)
	}

	return logs, total, rows.Err()
}

// DeleteOldRequestLogs deletes request logs older than the specified number of days.
func (s *Store) DeleteOldRequestLogs(daysToKeep int) (int64, error) {
	query := `DELETE FROM request_logs WHERE created_at < datetime('now', '-' || ? || ' days')`
	result, err := s.db.Exec(query, daysToKeep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
