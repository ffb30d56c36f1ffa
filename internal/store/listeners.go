package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rajeevramani/flowplane/internal/errs"
	"github.com/rajeevramani/flowplane/internal/ids"
	"github.com/rajeevramani/flowplane/internal/model"
)

// ListenerRepository is the only writer of listeners and
// listener_route_bindings.
type ListenerRepository struct {
	s *Store
}

type listenerRow struct {
	ID               string         `db:"id"`
	Name             string         `db:"name"`
	Address          string         `db:"address"`
	Port             sql.NullInt32  `db:"port"`
	Protocol         string         `db:"protocol"`
	ConfigJSON       string         `db:"config_json"`
	Version          int64          `db:"version"`
	Source           string         `db:"source"`
	TeamID           sql.NullString `db:"team_id"`
	DataplaneBinding sql.NullString `db:"dataplane_binding"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r listenerRow) toModel() model.Listener {
	l := model.Listener{
		ID: r.ID, Name: r.Name, Address: r.Address, Protocol: model.Protocol(r.Protocol),
		ConfigJSON: []byte(r.ConfigJSON), Version: r.Version, Source: model.Source(r.Source),
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.Port.Valid {
		p := r.Port.Int32
		l.Port = &p
	}
	if r.TeamID.Valid {
		t := r.TeamID.String
		l.TeamID = &t
	}
	if r.DataplaneBinding.Valid {
		d := r.DataplaneBinding.String
		l.DataplaneBinding = &d
	}
	return l
}

// Create inserts a listener and its route-configuration bindings in one
// transaction. The (address, port) uniqueness invariant is enforced at the
// schema level; a conflict surfaces as errs.Conflict.
func (lr *ListenerRepository) Create(ctx context.Context, l model.Listener, routeConfigIDs []string) (model.Listener, error) {
	if l.Name == "" || l.Address == "" {
		return model.Listener{}, fmt.Errorf("%w: listener name and address are required", errs.Validation)
	}
	if l.ID == "" {
		l.ID = ids.New()
	}
	if l.Protocol == "" {
		l.Protocol = model.ProtocolTCP
	}
	if l.Source == "" {
		l.Source = model.SourceNativeAPI
	}
	now := time.Now().UTC()

	err := lr.s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO listeners (id, name, address, port, protocol, config_json, version, source, team_id, dataplane_binding, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			l.ID, l.Name, l.Address, l.Port, string(l.Protocol), string(l.ConfigJSON), 1,
			string(l.Source), l.TeamID, l.DataplaneBinding, now, now,
		); err != nil {
			return translateWriteErr(err)
		}
		for i, rcID := range routeConfigIDs {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO listener_route_bindings (id, listener_id, route_config_id, binding_order)
				VALUES (?, ?, ?, ?)`), ids.New(), l.ID, rcID, i,
			); err != nil {
				return translateWriteErr(err)
			}
		}
		return nil
	})
	if err != nil {
		return model.Listener{}, err
	}
	l.Version = 1
	l.CreatedAt, l.UpdatedAt = now, now
	return l, nil
}

// AttachRouteConfig adds one more route-config binding to an existing
// listener (spec.md §8 scenario "attach additional route config").
func (lr *ListenerRepository) AttachRouteConfig(ctx context.Context, listenerID, routeConfigID string, order int32) error {
	_, err := lr.s.DB.ExecContext(ctx, lr.s.rebind(`
		INSERT INTO listener_route_bindings (id, listener_id, route_config_id, binding_order)
		VALUES (?, ?, ?, ?)`), ids.New(), listenerID, routeConfigID, order)
	return translateWriteErr(err)
}

// GetByName fetches a listener by name.
func (lr *ListenerRepository) GetByName(ctx context.Context, name string) (model.Listener, error) {
	var row listenerRow
	err := lr.s.DB.GetContext(ctx, &row, lr.s.rebind(`
		SELECT id, name, address, port, protocol, config_json, version, source, team_id, dataplane_binding, created_at, updated_at
		FROM listeners WHERE name = ?`), name)
	if err == sql.ErrNoRows {
		return model.Listener{}, fmt.Errorf("%w: listener %s", errs.NotFound, name)
	}
	if err != nil {
		return model.Listener{}, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	return row.toModel(), nil
}

// RouteConfigBindingsFor returns a listener's route-config ids in binding order.
func (lr *ListenerRepository) RouteConfigBindingsFor(ctx context.Context, listenerID string) ([]string, error) {
	var ids []string
	err := lr.s.DB.SelectContext(ctx, &ids, lr.s.rebind(`
		SELECT route_config_id FROM listener_route_bindings
		WHERE listener_id = ? ORDER BY binding_order ASC`), listenerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	return ids, nil
}

// UpdateConfig replaces a listener's config_json and bumps its version.
func (lr *ListenerRepository) UpdateConfig(ctx context.Context, name string, configJSON []byte) (model.Listener, error) {
	now := time.Now().UTC()
	res, err := lr.s.DB.ExecContext(ctx, lr.s.rebind(`
		UPDATE listeners SET config_json = ?, version = version + 1, updated_at = ? WHERE name = ?`),
		string(configJSON), now, name)
	if err != nil {
		return model.Listener{}, translateWriteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Listener{}, fmt.Errorf("%w: listener %s", errs.NotFound, name)
	}
	return lr.GetByName(ctx, name)
}

// DeleteByName removes a listener, cascading its route bindings and
// auto-filter bookkeeping rows via FK ON DELETE CASCADE.
func (lr *ListenerRepository) DeleteByName(ctx context.Context, name string) error {
	res, err := lr.s.DB.ExecContext(ctx, lr.s.rebind(`DELETE FROM listeners WHERE name = ?`), name)
	if err != nil {
		return translateWriteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: listener %s", errs.NotFound, name)
	}
	return nil
}

// ListByTeams returns listeners owned by any of teams, plus global listeners
// when includeGlobals is set.
func (lr *ListenerRepository) ListByTeams(ctx context.Context, teams []string, includeGlobals bool, limit, offset int) ([]model.Listener, error) {
	query, args := teamScopedQuery(
		`SELECT id, name, address, port, protocol, config_json, version, source, team_id, dataplane_binding, created_at, updated_at FROM listeners`,
		"team_id", teams, includeGlobals, limit, offset)
	query, args, err := sqlxIn(lr.s, query, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	var rows []listenerRow
	if err := lr.s.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.Listener, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// WatchMarker returns the change-detection signal for listeners owned by
// team (or global listeners when team is nil).
func (lr *ListenerRepository) WatchMarker(ctx context.Context, team *string) (model.WatchMarker, error) {
	return watchMarker(ctx, lr.s, "listeners", team)
}
