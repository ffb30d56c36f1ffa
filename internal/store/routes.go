package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rajeevramani/flowplane/internal/errs"
	"github.com/rajeevramani/flowplane/internal/ids"
	"github.com/rajeevramani/flowplane/internal/model"
)

// RouteRepository is the only writer of route_configurations, virtual_hosts
// and routes.
type RouteRepository struct {
	s *Store
}

type routeConfigRow struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	ConfigJSON string         `db:"config_json"`
	Version    int64          `db:"version"`
	Source     string         `db:"source"`
	TeamID     sql.NullString `db:"team_id"`
	ImportID   sql.NullString `db:"import_id"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r routeConfigRow) toModel() model.RouteConfiguration {
	rc := model.RouteConfiguration{
		ID: r.ID, Name: r.Name, ConfigJSON: []byte(r.ConfigJSON), Version: r.Version,
		Source: model.Source(r.Source), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.TeamID.Valid {
		t := r.TeamID.String
		rc.TeamID = &t
	}
	if r.ImportID.Valid {
		i := r.ImportID.String
		rc.ImportID = &i
	}
	return rc
}

// CreateWithChildren inserts a route configuration and its full virtual-host
// / route tree in one transaction.
func (rr *RouteRepository) CreateWithChildren(ctx context.Context, rc model.RouteConfiguration, vhosts []model.VirtualHost, routesByVHost map[string][]model.Route) (model.RouteConfiguration, error) {
	if rc.Name == "" {
		return model.RouteConfiguration{}, fmt.Errorf("%w: route configuration name is required", errs.Validation)
	}
	if rc.ID == "" {
		rc.ID = ids.New()
	}
	if rc.Source == "" {
		rc.Source = model.SourceNativeAPI
	}
	now := time.Now().UTC()

	err := rr.s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO route_configurations (id, name, config_json, version, source, team_id, import_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			rc.ID, rc.Name, string(rc.ConfigJSON), 1, string(rc.Source), rc.TeamID, rc.ImportID, now, now,
		); err != nil {
			return translateWriteErr(err)
		}
		for _, vh := range vhosts {
			if vh.ID == "" {
				vh.ID = ids.New()
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO virtual_hosts (id, route_config_id, name, domains, position)
				VALUES (?, ?, ?, ?, ?)`),
				vh.ID, rc.ID, vh.Name, strings.Join(vh.Domains, ","), vh.Position,
			); err != nil {
				return translateWriteErr(err)
			}
			for _, rt := range routesByVHost[vh.Name] {
				if rt.ID == "" {
					rt.ID = ids.New()
				}
				if rt.Name == "" {
					rt.Name = autoRouteName(rt)
				}
				if _, err := tx.ExecContext(ctx, tx.Rebind(`
					INSERT INTO routes (id, virtual_host_id, name, match_type, path_pattern, cluster_name, route_order)
					VALUES (?, ?, ?, ?, ?, ?, ?)`),
					rt.ID, vh.ID, rt.Name, string(rt.MatchType), rt.PathPattern, rt.ClusterName, rt.Order,
				); err != nil {
					return translateWriteErr(err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return model.RouteConfiguration{}, err
	}
	rc.Version = 1
	rc.CreatedAt, rc.UpdatedAt = now, now
	return rc, nil
}

// autoRouteName deterministically names a route rule that arrived without
// one (typically from an OpenAPI import), from its match type and pattern,
// so that later filter attachments can address it stably.
func autoRouteName(rt model.Route) string {
	sanitized := strings.NewReplacer("/", "_", "*", "wild", "{", "", "}", "").Replace(rt.PathPattern)
	return fmt.Sprintf("auto_%s_%s", rt.MatchType, strings.Trim(sanitized, "_"))
}

// GetByName fetches a route configuration by name, without its children.
func (rr *RouteRepository) GetByName(ctx context.Context, name string) (model.RouteConfiguration, error) {
	var row routeConfigRow
	err := rr.s.DB.GetContext(ctx, &row, rr.s.rebind(`
		SELECT id, name, config_json, version, source, team_id, import_id, created_at, updated_at
		FROM route_configurations WHERE name = ?`), name)
	if err == sql.ErrNoRows {
		return model.RouteConfiguration{}, fmt.Errorf("%w: route configuration %s", errs.NotFound, name)
	}
	if err != nil {
		return model.RouteConfiguration{}, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	return row.toModel(), nil
}

// GetByID fetches a route configuration by its id, without its children.
func (rr *RouteRepository) GetByID(ctx context.Context, id string) (model.RouteConfiguration, error) {
	var row routeConfigRow
	err := rr.s.DB.GetContext(ctx, &row, rr.s.rebind(`
		SELECT id, name, config_json, version, source, team_id, import_id, created_at, updated_at
		FROM route_configurations WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return model.RouteConfiguration{}, fmt.Errorf("%w: route configuration %s", errs.NotFound, id)
	}
	if err != nil {
		return model.RouteConfiguration{}, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	return row.toModel(), nil
}

// VirtualHostsFor returns a route configuration's virtual hosts in position order.
func (rr *RouteRepository) VirtualHostsFor(ctx context.Context, routeConfigID string) ([]model.VirtualHost, error) {
	type row struct {
		ID            string `db:"id"`
		RouteConfigID string `db:"route_config_id"`
		Name          string `db:"name"`
		Domains       string `db:"domains"`
		Position      int32  `db:"position"`
	}
	var rows []row
	err := rr.s.DB.SelectContext(ctx, &rows, rr.s.rebind(`
		SELECT id, route_config_id, name, domains, position FROM virtual_hosts
		WHERE route_config_id = ? ORDER BY position ASC`), routeConfigID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.VirtualHost, len(rows))
	for i, r := range rows {
		domains := []string{}
		if r.Domains != "" {
			domains = strings.Split(r.Domains, ",")
		}
		out[i] = model.VirtualHost{ID: r.ID, RouteConfigID: r.RouteConfigID, Name: r.Name, Domains: domains, Position: r.Position}
	}
	return out, nil
}

// RoutesFor returns a virtual host's routes in route_order order.
func (rr *RouteRepository) RoutesFor(ctx context.Context, virtualHostID string) ([]model.Route, error) {
	type row struct {
		ID            string `db:"id"`
		VirtualHostID string `db:"virtual_host_id"`
		Name          string `db:"name"`
		MatchType     string `db:"match_type"`
		PathPattern   string `db:"path_pattern"`
		ClusterName   string `db:"cluster_name"`
		Order         int32  `db:"route_order"`
	}
	var rows []row
	err := rr.s.DB.SelectContext(ctx, &rows, rr.s.rebind(`
		SELECT id, virtual_host_id, name, match_type, path_pattern, cluster_name, route_order FROM routes
		WHERE virtual_host_id = ? ORDER BY route_order ASC`), virtualHostID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.Route, len(rows))
	for i, r := range rows {
		out[i] = model.Route{
			ID: r.ID, VirtualHostID: r.VirtualHostID, Name: r.Name,
			MatchType: model.MatchType(r.MatchType), PathPattern: r.PathPattern,
			ClusterName: r.ClusterName, Order: r.Order,
		}
	}
	return out, nil
}

// UpdateConfig replaces a route configuration's config_json and bumps its version.
func (rr *RouteRepository) UpdateConfig(ctx context.Context, name string, configJSON []byte) (model.RouteConfiguration, error) {
	now := time.Now().UTC()
	res, err := rr.s.DB.ExecContext(ctx, rr.s.rebind(`
		UPDATE route_configurations SET config_json = ?, version = version + 1, updated_at = ? WHERE name = ?`),
		string(configJSON), now, name)
	if err != nil {
		return model.RouteConfiguration{}, translateWriteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.RouteConfiguration{}, fmt.Errorf("%w: route configuration %s", errs.NotFound, name)
	}
	return rr.GetByName(ctx, name)
}

// DeleteByName removes a route configuration and cascades to its virtual
// hosts, routes, and filter attachments via FK ON DELETE CASCADE. It
// refuses with errs.Conflict while any listener is bound to it.
func (rr *RouteRepository) DeleteByName(ctx context.Context, name string) error {
	var bound int
	err := rr.s.DB.GetContext(ctx, &bound, rr.s.rebind(`
		SELECT COUNT(*) FROM listener_route_bindings lrb
		JOIN route_configurations rc ON rc.id = lrb.route_config_id
		WHERE rc.name = ?`), name)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.Backend, err)
	}
	if bound > 0 {
		return fmt.Errorf("%w: route configuration %s is bound to %d listener(s)", errs.Conflict, name, bound)
	}
	res, err := rr.s.DB.ExecContext(ctx, rr.s.rebind(`DELETE FROM route_configurations WHERE name = ?`), name)
	if err != nil {
		return translateWriteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: route configuration %s", errs.NotFound, name)
	}
	return nil
}

// ListByTeams returns route configurations owned by any of teams, plus
// global ones when includeGlobals is set.
func (rr *RouteRepository) ListByTeams(ctx context.Context, teams []string, includeGlobals bool, limit, offset int) ([]model.RouteConfiguration, error) {
	query, args := teamScopedQuery(
		`SELECT id, name, config_json, version, source, team_id, import_id, created_at, updated_at FROM route_configurations`,
		"team_id", teams, includeGlobals, limit, offset)
	query, args, err := sqlxIn(rr.s, query, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	var rows []routeConfigRow
	if err := rr.s.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.RouteConfiguration, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// ListByImport returns every route configuration created for a given import.
func (rr *RouteRepository) ListByImport(ctx context.Context, importID string) ([]model.RouteConfiguration, error) {
	var rows []routeConfigRow
	err := rr.s.DB.SelectContext(ctx, &rows, rr.s.rebind(`
		SELECT id, name, config_json, version, source, team_id, import_id, created_at, updated_at
		FROM route_configurations WHERE import_id = ?`), importID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.RouteConfiguration, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// WatchMarker returns the change-detection signal for route configurations
// owned by team (or global route configurations when team is nil).
func (rr *RouteRepository) WatchMarker(ctx context.Context, team *string) (model.WatchMarker, error) {
	return watchMarker(ctx, rr.s, "route_configurations", team)
}
