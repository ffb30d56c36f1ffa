package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rajeevramani/flowplane/internal/errs"
	"github.com/rajeevramani/flowplane/internal/ids"
	"github.com/rajeevramani/flowplane/internal/model"
)

// FilterRepository is the only writer of filters, filter_attachments, and
// listener_auto_filters.
type FilterRepository struct {
	s *Store
}

type filterRow struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	Kind       string    `db:"kind"`
	ConfigJSON string    `db:"config_json"`
	Version    int64     `db:"version"`
	TeamID     string    `db:"team_id"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r filterRow) toModel() model.Filter {
	return model.Filter{
		ID: r.ID, Name: r.Name, Kind: r.Kind, ConfigJSON: []byte(r.ConfigJSON),
		Version: r.Version, TeamID: r.TeamID, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

// Create inserts a new filter definition, scoped to a single team.
func (fr *FilterRepository) Create(ctx context.Context, f model.Filter) (model.Filter, error) {
	if f.Name == "" || f.Kind == "" || f.TeamID == "" {
		return model.Filter{}, fmt.Errorf("%w: filter name, kind, and team_id are required", errs.Validation)
	}
	if f.ID == "" {
		f.ID = ids.New()
	}
	now := time.Now().UTC()
	_, err := fr.s.DB.ExecContext(ctx, fr.s.rebind(`
		INSERT INTO filters (id, name, kind, config_json, version, team_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		f.ID, f.Name, f.Kind, string(f.ConfigJSON), 1, f.TeamID, now, now,
	)
	if err != nil {
		return model.Filter{}, translateWriteErr(err)
	}
	f.Version = 1
	f.CreatedAt, f.UpdatedAt = now, now
	return f, nil
}

// GetByID fetches a filter by its id.
func (fr *FilterRepository) GetByID(ctx context.Context, id string) (model.Filter, error) {
	var row filterRow
	err := fr.s.DB.GetContext(ctx, &row, fr.s.rebind(`
		SELECT id, name, kind, config_json, version, team_id, created_at, updated_at
		FROM filters WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return model.Filter{}, fmt.Errorf("%w: filter %s", errs.NotFound, id)
	}
	if err != nil {
		return model.Filter{}, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	return row.toModel(), nil
}

// GetByTeamAndName fetches a filter scoped to one team by its name.
func (fr *FilterRepository) GetByTeamAndName(ctx context.Context, teamID, name string) (model.Filter, error) {
	var row filterRow
	err := fr.s.DB.GetContext(ctx, &row, fr.s.rebind(`
		SELECT id, name, kind, config_json, version, team_id, created_at, updated_at
		FROM filters WHERE team_id = ? AND name = ?`), teamID, name)
	if err == sql.ErrNoRows {
		return model.Filter{}, fmt.Errorf("%w: filter %s/%s", errs.NotFound, teamID, name)
	}
	if err != nil {
		return model.Filter{}, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	return row.toModel(), nil
}

// ListByTeam returns every filter owned by a team.
func (fr *FilterRepository) ListByTeam(ctx context.Context, teamID string) ([]model.Filter, error) {
	var rows []filterRow
	err := fr.s.DB.SelectContext(ctx, &rows, fr.s.rebind(`
		SELECT id, name, kind, config_json, version, team_id, created_at, updated_at
		FROM filters WHERE team_id = ? ORDER BY name`), teamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.Filter, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// UpdateConfig replaces a filter's config_json and bumps its version.
func (fr *FilterRepository) UpdateConfig(ctx context.Context, id string, configJSON []byte) (model.Filter, error) {
	now := time.Now().UTC()
	res, err := fr.s.DB.ExecContext(ctx, fr.s.rebind(`
		UPDATE filters SET config_json = ?, version = version + 1, updated_at = ? WHERE id = ?`),
		string(configJSON), now, id)
	if err != nil {
		return model.Filter{}, translateWriteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Filter{}, fmt.Errorf("%w: filter %s", errs.NotFound, id)
	}
	return fr.GetByID(ctx, id)
}

// DeleteByID removes a filter. Attachments and auto-filter rows referencing
// it cascade via FK ON DELETE CASCADE.
func (fr *FilterRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := fr.s.DB.ExecContext(ctx, fr.s.rebind(`DELETE FROM filters WHERE id = ?`), id)
	if err != nil {
		return translateWriteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: filter %s", errs.NotFound, id)
	}
	return nil
}

type attachmentRow struct {
	ID              string         `db:"id"`
	FilterID        string         `db:"filter_id"`
	Level           string         `db:"level"`
	RouteConfigID   string         `db:"route_config_id"`
	VirtualHostID   string         `db:"virtual_host_id"`
	RouteID         string         `db:"route_id"`
	FilterOrder     int32          `db:"filter_order"`
	Behavior        string         `db:"behavior"`
	OverrideJSON    sql.NullString `db:"override_json"`
	RequirementName string         `db:"requirement_name"`
}

func (r attachmentRow) toModel() model.FilterAttachment {
	a := model.FilterAttachment{
		ID: r.ID, FilterID: r.FilterID, Level: model.AttachmentLevel(r.Level),
		RouteConfigID: r.RouteConfigID, VirtualHostID: r.VirtualHostID, RouteID: r.RouteID,
		FilterOrder: r.FilterOrder, Behavior: model.Behavior(r.Behavior), RequirementName: r.RequirementName,
	}
	if r.OverrideJSON.Valid {
		a.OverrideJSON = []byte(r.OverrideJSON.String)
	}
	return a
}

// Attach binds a filter to a route-config/virtual-host/route scope. The
// containing resource must belong to the same team as the filter
// (spec.md §3 FilterAttachment invariant); Attach checks that against the
// route configuration's team and refuses with errs.Validation otherwise. A
// global route configuration (no team) accepts any team's filter.
func (fr *FilterRepository) Attach(ctx context.Context, a model.FilterAttachment) (model.FilterAttachment, error) {
	if a.FilterID == "" || a.RouteConfigID == "" {
		return model.FilterAttachment{}, fmt.Errorf("%w: filter_id and route_config_id are required", errs.Validation)
	}
	var sameTeam int
	if err := fr.s.DB.GetContext(ctx, &sameTeam, fr.s.rebind(`
		SELECT COUNT(*) FROM filters f JOIN route_configurations rc ON rc.id = ?
		WHERE f.id = ? AND (rc.team_id IS NULL OR rc.team_id = f.team_id)`), a.RouteConfigID, a.FilterID); err != nil {
		return model.FilterAttachment{}, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	if sameTeam == 0 {
		return model.FilterAttachment{}, fmt.Errorf("%w: filter %s and route configuration %s must exist and belong to the same team", errs.Validation, a.FilterID, a.RouteConfigID)
	}
	switch a.Level {
	case model.LevelRouteConfig:
		a.VirtualHostID, a.RouteID = "", ""
	case model.LevelVirtualHost:
		if a.VirtualHostID == "" {
			return model.FilterAttachment{}, fmt.Errorf("%w: virtual_host_id required for virtual_host level", errs.Validation)
		}
		a.RouteID = ""
	case model.LevelRoute:
		if a.RouteID == "" {
			return model.FilterAttachment{}, fmt.Errorf("%w: route_id required for route level", errs.Validation)
		}
		a.VirtualHostID = ""
	default:
		return model.FilterAttachment{}, fmt.Errorf("%w: unknown attachment level %q", errs.Validation, a.Level)
	}
	if a.Behavior == "" {
		a.Behavior = model.BehaviorUseBase
	}
	if a.ID == "" {
		a.ID = ids.New()
	}
	_, err := fr.s.DB.ExecContext(ctx, fr.s.rebind(`
		INSERT INTO filter_attachments
			(id, filter_id, level, route_config_id, virtual_host_id, route_id, filter_order, behavior, override_json, requirement_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.FilterID, string(a.Level), a.RouteConfigID, a.VirtualHostID, a.RouteID,
		a.FilterOrder, string(a.Behavior), string(a.OverrideJSON), a.RequirementName,
	)
	if err != nil {
		return model.FilterAttachment{}, translateWriteErr(err)
	}
	return a, nil
}

// AttachmentsForRouteConfig returns every attachment (at any scope) anchored
// under a route configuration, ordered by filter_order, for the builder's
// inheritance resolution pass.
func (fr *FilterRepository) AttachmentsForRouteConfig(ctx context.Context, routeConfigID string) ([]model.FilterAttachment, error) {
	var rows []attachmentRow
	err := fr.s.DB.SelectContext(ctx, &rows, fr.s.rebind(`
		SELECT id, filter_id, level, route_config_id, virtual_host_id, route_id, filter_order, behavior, override_json, requirement_name
		FROM filter_attachments WHERE route_config_id = ? ORDER BY filter_order ASC, id ASC`), routeConfigID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.FilterAttachment, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// Detach removes a single filter attachment.
func (fr *FilterRepository) Detach(ctx context.Context, attachmentID string) error {
	res, err := fr.s.DB.ExecContext(ctx, fr.s.rebind(`DELETE FROM filter_attachments WHERE id = ?`), attachmentID)
	if err != nil {
		return translateWriteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: filter attachment %s", errs.NotFound, attachmentID)
	}
	return nil
}

type autoFilterRow struct {
	ID             string `db:"id"`
	ListenerID     string `db:"listener_id"`
	HTTPFilterName string `db:"http_filter_name"`
	SourceFilterID string `db:"source_filter_id"`
	RouteConfigID  string `db:"route_config_id"`
	Level          string `db:"level"`
	VirtualHostID  string `db:"virtual_host_id"`
	RouteID        string `db:"route_id"`
}

func (r autoFilterRow) toModel() model.ListenerAutoFilter {
	return model.ListenerAutoFilter{
		ID: r.ID, ListenerID: r.ListenerID, HTTPFilterName: r.HTTPFilterName,
		SourceFilterID: r.SourceFilterID, RouteConfigID: r.RouteConfigID,
		Level: model.AttachmentLevel(r.Level), VirtualHostID: r.VirtualHostID, RouteID: r.RouteID,
	}
}

// EnsureAutoFilter records that the builder inserted httpFilterName into
// listenerID's filter chain because of a filter attached at some scope; it
// is a no-op if the (listener, http_filter_name, source_filter_id) row
// already exists (UNIQUE constraint), matching the builder's idempotent
// rebuild semantics.
func (fr *FilterRepository) EnsureAutoFilter(ctx context.Context, af model.ListenerAutoFilter) error {
	if af.ID == "" {
		af.ID = ids.New()
	}
	_, err := fr.s.DB.ExecContext(ctx, fr.s.rebind(`
		INSERT INTO listener_auto_filters (id, listener_id, http_filter_name, source_filter_id, route_config_id, level, virtual_host_id, route_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		af.ID, af.ListenerID, af.HTTPFilterName, af.SourceFilterID, af.RouteConfigID,
		string(af.Level), af.VirtualHostID, af.RouteID,
	)
	if err != nil {
		if errKind := errs.Kind(translateWriteErr(err)); errKind == errs.Conflict {
			return nil
		}
		return translateWriteErr(err)
	}
	return nil
}

// AutoFiltersForListener returns a listener's recorded auto-inserted filters.
func (fr *FilterRepository) AutoFiltersForListener(ctx context.Context, listenerID string) ([]model.ListenerAutoFilter, error) {
	var rows []autoFilterRow
	err := fr.s.DB.SelectContext(ctx, &rows, fr.s.rebind(`
		SELECT id, listener_id, http_filter_name, source_filter_id, route_config_id, level, virtual_host_id, route_id
		FROM listener_auto_filters WHERE listener_id = ?`), listenerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.ListenerAutoFilter, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// PruneAutoFilters deletes a listener's auto-filter bookkeeping rows whose
// id is not in keepIDs, garbage-collecting entries whose originating
// attachment no longer exists (spec.md §8 "Auto-filter GC" property).
func (fr *FilterRepository) PruneAutoFilters(ctx context.Context, listenerID string, keepIDs []string) error {
	existing, err := fr.AutoFiltersForListener(ctx, listenerID)
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(keepIDs))
	for _, id := range keepIDs {
		keep[id] = true
	}
	for _, af := range existing {
		if keep[af.ID] {
			continue
		}
		if _, err := fr.s.DB.ExecContext(ctx, fr.s.rebind(`DELETE FROM listener_auto_filters WHERE id = ?`), af.ID); err != nil {
			return translateWriteErr(err)
		}
	}
	return nil
}
