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

// ClusterRepository is the only writer of clusters and cluster_endpoints.
type ClusterRepository struct {
	s *Store
}

type clusterRow struct {
	ID          string         `db:"id"`
	Name        string         `db:"name"`
	ServiceName string         `db:"service_name"`
	ConfigJSON  string         `db:"config_json"`
	Version     int64          `db:"version"`
	Source      string         `db:"source"`
	TeamID      sql.NullString `db:"team_id"`
	ImportID    sql.NullString `db:"import_id"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r clusterRow) toModel() model.Cluster {
	c := model.Cluster{
		ID: r.ID, Name: r.Name, ServiceName: r.ServiceName,
		ConfigJSON: []byte(r.ConfigJSON), Version: r.Version,
		Source: model.Source(r.Source), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.TeamID.Valid {
		t := r.TeamID.String
		c.TeamID = &t
	}
	if r.ImportID.Valid {
		i := r.ImportID.String
		c.ImportID = &i
	}
	return c
}

// Create inserts a cluster and its endpoints in one transaction.
func (cr *ClusterRepository) Create(ctx context.Context, c model.Cluster, endpoints []model.ClusterEndpoint) (model.Cluster, error) {
	if c.Name == "" || c.ServiceName == "" {
		return model.Cluster{}, fmt.Errorf("%w: cluster name and service_name are required", errs.Validation)
	}
	if c.ID == "" {
		c.ID = ids.New()
	}
	if c.Source == "" {
		c.Source = model.SourceNativeAPI
	}
	now := time.Now().UTC()

	err := cr.s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO clusters (id, name, service_name, config_json, version, source, team_id, import_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			c.ID, c.Name, c.ServiceName, string(c.ConfigJSON), 1, string(c.Source), c.TeamID, c.ImportID, now, now,
		); err != nil {
			return translateWriteErr(err)
		}
		for _, ep := range endpoints {
			if err := insertEndpoint(ctx, tx, c.ID, ep); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Cluster{}, err
	}
	c.Version = 1
	c.CreatedAt, c.UpdatedAt = now, now
	return c, nil
}

func insertEndpoint(ctx context.Context, tx *sqlx.Tx, clusterID string, ep model.ClusterEndpoint) error {
	if ep.ID == "" {
		ep.ID = ids.New()
	}
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO cluster_endpoints (id, cluster_id, address, port, weight, priority, health_status, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ep.ID, clusterID, ep.Address, ep.Port, ep.Weight, ep.Priority, ep.HealthStatus, string(ep.MetadataJSON), now, now,
	)
	return translateWriteErr(err)
}

// UpdateByName updates a cluster's config/service name and bumps its version.
func (cr *ClusterRepository) UpdateByName(ctx context.Context, name string, configJSON []byte, serviceName string) (model.Cluster, error) {
	now := time.Now().UTC()
	res, err := cr.s.DB.ExecContext(ctx, cr.s.rebind(`
		UPDATE clusters SET config_json = ?, service_name = ?, version = version + 1, updated_at = ?
		WHERE name = ?`), string(configJSON), serviceName, now, name)
	if err != nil {
		return model.Cluster{}, translateWriteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Cluster{}, fmt.Errorf("%w: cluster %s", errs.NotFound, name)
	}
	return cr.GetByName(ctx, name)
}

// ReplaceEndpoints atomically replaces a cluster's endpoint set and touches
// the cluster's updated_at, so the clusters watch marker sees the change.
func (cr *ClusterRepository) ReplaceEndpoints(ctx context.Context, clusterName string, endpoints []model.ClusterEndpoint) error {
	return cr.s.withTx(ctx, func(tx *sqlx.Tx) error {
		var clusterID string
		if err := tx.GetContext(ctx, &clusterID, tx.Rebind(`SELECT id FROM clusters WHERE name = ?`), clusterName); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("%w: cluster %s", errs.NotFound, clusterName)
			}
			return fmt.Errorf("%w: %v", errs.Backend, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM cluster_endpoints WHERE cluster_id = ?`), clusterID); err != nil {
			return translateWriteErr(err)
		}
		for _, ep := range endpoints {
			if err := insertEndpoint(ctx, tx, clusterID, ep); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE clusters SET updated_at = ? WHERE id = ?`), time.Now().UTC(), clusterID); err != nil {
			return translateWriteErr(err)
		}
		return nil
	})
}

// GetByName fetches a single cluster by name.
func (cr *ClusterRepository) GetByName(ctx context.Context, name string) (model.Cluster, error) {
	var row clusterRow
	err := cr.s.DB.GetContext(ctx, &row, cr.s.rebind(`
		SELECT id, name, service_name, config_json, version, source, team_id, import_id, created_at, updated_at
		FROM clusters WHERE name = ?`), name)
	if err == sql.ErrNoRows {
		return model.Cluster{}, fmt.Errorf("%w: cluster %s", errs.NotFound, name)
	}
	if err != nil {
		return model.Cluster{}, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	return row.toModel(), nil
}

// DeleteByName deletes a cluster, refusing with errs.Conflict while any
// route references it: routes name their cluster by text with no foreign
// key, so this check is what gives deletion RESTRICT semantics
// (spec.md §3 Cluster invariant, §9 design note).
func (cr *ClusterRepository) DeleteByName(ctx context.Context, name string) error {
	var referenced int
	err := cr.s.DB.GetContext(ctx, &referenced, cr.s.rebind(
		`SELECT COUNT(*) FROM routes WHERE cluster_name = ?`), name)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.Backend, err)
	}
	if referenced > 0 {
		return fmt.Errorf("%w: cluster %s is referenced by %d route(s)", errs.Conflict, name, referenced)
	}
	res, err := cr.s.DB.ExecContext(ctx, cr.s.rebind(`DELETE FROM clusters WHERE name = ?`), name)
	if err != nil {
		return translateWriteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: cluster %s", errs.NotFound, name)
	}
	return nil
}

// ListByTeams returns clusters owned by any of teams, plus global
// (team_id IS NULL) clusters when includeGlobals is set.
func (cr *ClusterRepository) ListByTeams(ctx context.Context, teams []string, includeGlobals bool, limit, offset int) ([]model.Cluster, error) {
	query, args := teamScopedQuery(
		`SELECT id, name, service_name, config_json, version, source, team_id, import_id, created_at, updated_at FROM clusters`,
		"team_id", teams, includeGlobals, limit, offset)
	query, args, err := sqlxIn(cr.s, query, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	var rows []clusterRow
	if err := cr.s.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.Cluster, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// ListByImport returns every cluster created for a given import.
func (cr *ClusterRepository) ListByImport(ctx context.Context, importID string) ([]model.Cluster, error) {
	var rows []clusterRow
	err := cr.s.DB.SelectContext(ctx, &rows, cr.s.rebind(`
		SELECT id, name, service_name, config_json, version, source, team_id, import_id, created_at, updated_at
		FROM clusters WHERE import_id = ?`), importID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.Cluster, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// EndpointsFor returns a cluster's endpoints in priority-then-insertion order.
func (cr *ClusterRepository) EndpointsFor(ctx context.Context, clusterID string) ([]model.ClusterEndpoint, error) {
	type row struct {
		ID           string    `db:"id"`
		ClusterID    string    `db:"cluster_id"`
		Address      string    `db:"address"`
		Port         int32     `db:"port"`
		Weight       int32     `db:"weight"`
		Priority     int32     `db:"priority"`
		HealthStatus string    `db:"health_status"`
		MetadataJSON sql.NullString `db:"metadata_json"`
		CreatedAt    time.Time `db:"created_at"`
		UpdatedAt    time.Time `db:"updated_at"`
	}
	var rows []row
	err := cr.s.DB.SelectContext(ctx, &rows, cr.s.rebind(`
		SELECT id, cluster_id, address, port, weight, priority, health_status, metadata_json, created_at, updated_at
		FROM cluster_endpoints WHERE cluster_id = ? ORDER BY priority ASC, created_at ASC`), clusterID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.ClusterEndpoint, len(rows))
	for i, r := range rows {
		out[i] = model.ClusterEndpoint{
			ID: r.ID, ClusterID: r.ClusterID, Address: r.Address, Port: r.Port,
			Weight: r.Weight, Priority: r.Priority, HealthStatus: r.HealthStatus,
			MetadataJSON: []byte(r.MetadataJSON.String), CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		}
	}
	return out, nil
}

// WatchMarker returns the change-detection signal for clusters owned by
// team (or global clusters when team is nil).
func (cr *ClusterRepository) WatchMarker(ctx context.Context, team *string) (model.WatchMarker, error) {
	return watchMarker(ctx, cr.s, "clusters", team)
}
