package store

import "fmt"

// dialect isolates the handful of SQL differences between SQLite and
// PostgreSQL that repository code needs: placeholder style and the
// timestamp default expression. Everything else is written as
// dialect-neutral SQL.
type dialect struct {
	name        string
	placeholder func(n int) string // 1-indexed bind position
	now         string
}

func dialectFor(driver string) (dialect, string, error) {
	switch driver {
	case "sqlite3", "":
		return dialect{
			name:        "sqlite3",
			placeholder: func(int) string { return "?" },
			now:         "CURRENT_TIMESTAMP",
		}, "sqlite3", nil
	case "pgx", "postgres", "postgresql":
		return dialect{
			name: "pgx",
			placeholder: func(n int) string {
				return fmt.Sprintf("$%d", n)
			},
			now: "now()",
		}, "pgx", nil
	default:
		return dialect{}, "", fmt.Errorf("unsupported db driver %q", driver)
	}
}

// rebind rewrites a "?"-placeholder query for the active dialect. SQLite
// queries are written with "?" directly; PostgreSQL queries built from the
// same template go through this so repository code is written once.
func (s *Store) rebind(query string) string {
	return s.DB.Rebind(query)
}
