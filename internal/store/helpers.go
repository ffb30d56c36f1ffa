package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rajeevramani/flowplane/internal/model"
)

// teamScopedQuery appends a team-ownership WHERE clause plus ordering and
// pagination to baseQuery. It is shared by every repository's ListByTeams
// method (spec.md §4.1 "list_by_teams(teams, include_globals, ...)").
func teamScopedQuery(baseQuery, teamCol string, teams []string, includeGlobals bool, limit, offset int) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if len(teams) > 0 {
		clauses = append(clauses, fmt.Sprintf("%s IN (?)", teamCol))
		args = append(args, teams)
	}
	if includeGlobals {
		clauses = append(clauses, fmt.Sprintf("%s IS NULL", teamCol))
	}

	query := baseQuery
	if len(clauses) > 0 {
		query += " WHERE (" + strings.Join(clauses, " OR ") + ")"
	}
	query += " ORDER BY name ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	}
	return query, args
}

// sqlxIn expands any `IN (?)` placeholders bound to slice args (as produced
// by teamScopedQuery) and rebinds the result for the active driver.
func sqlxIn(s *Store, query string, args []interface{}) (string, []interface{}, error) {
	if len(args) == 0 {
		return query, args, nil
	}
	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return s.rebind(expanded), expandedArgs, nil
}

// watchMarker computes the change-detection signal for a team-scoped table:
// row count plus the latest updated_at, polled by internal/watch on a fixed
// interval and compared against the previous cycle's marker (spec.md §4.4).
func watchMarker(ctx context.Context, s *Store, table string, team *string) (model.WatchMarker, error) {
	var where string
	var args []interface{}
	if team != nil {
		where = "WHERE team_id = ?"
		args = append(args, *team)
	} else {
		where = "WHERE team_id IS NULL"
	}

	var rowCount int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", table, where)
	if err := s.DB.GetContext(ctx, &rowCount, s.rebind(countQuery), args...); err != nil {
		return model.WatchMarker{}, fmt.Errorf("%w: counting %s: %v", errBackend, table, err)
	}

	var maxUpdated sql.NullTime
	maxQuery := fmt.Sprintf("SELECT MAX(updated_at) FROM %s %s", table, where)
	if err := s.DB.GetContext(ctx, &maxUpdated, s.rebind(maxQuery), args...); err != nil {
		return model.WatchMarker{}, fmt.Errorf("%w: reading max updated_at for %s: %v", errBackend, table, err)
	}

	marker := model.WatchMarker{RowCount: rowCount}
	if maxUpdated.Valid {
		marker.MaxUpdatedAt = maxUpdated.Time
	} else {
		marker.MaxUpdatedAt = time.Time{}
	}
	return marker, nil
}
