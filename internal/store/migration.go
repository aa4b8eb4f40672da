package store

import (
	"database/sql"

	"github.com/rs/zerolog/log"
)

// addAccountScheduleColumns is the additive-migration step for
// scheduling columns introduced after the initial accounts table,
// following the teacher's PRAGMA table_info probe-then-ALTER pattern
// so reruns never error on an already-migrated database.
func (s *Store) addAccountScheduleColumns() error {
	var hasMaxInflight bool
	rows, err := s.db.Query("PRAGMA table_info(accounts)")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, dfltValue, pk sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == "max_inflight" {
			hasMaxInflight = true
		}
	}

	if hasMaxInflight {
		return nil
	}

	additions := []struct{ column, definition string }{
		{"max_inflight", "INTEGER DEFAULT 0"},
		{"priority", "INTEGER DEFAULT 100"},
	}
	for _, a := range additions {
		if err := s.addColumnIfNotExists("accounts", a.column, a.definition); err != nil {
			log.Warn().Err(err).Str("column", a.column).Msg("account column migration skipped")
		}
	}
	return nil
}
