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

// ImportRepository drives the OpenAPI import workflow of spec.md §4.6:
// dedup-create clusters, create route configurations, optionally attach a
// listener, and track per-import cluster reference counts so reimport and
// delete can garbage-collect clusters nothing references anymore.
type ImportRepository struct {
	s *Store
}

// ImportPlan is everything Create needs to materialize one OpenAPI import
// as rows: the import's own metadata, the clusters it references (Create
// looks each up by name, reuses an existing cluster of that name instead of
// inserting one, and reference-counts it), and the route configuration
// built from the spec.
type ImportPlan struct {
	Import        model.ImportMetadata
	Clusters      []model.Cluster
	RouteConfig   model.RouteConfiguration
	VirtualHosts  []model.VirtualHost
	RoutesByVHost map[string][]model.Route
	ListenerID    string // non-empty to attach RouteConfig to an existing listener
}

type importRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Version      string         `db:"version"`
	Checksum     string         `db:"checksum"`
	TeamID       string         `db:"team_id"`
	SourceSpec   sql.NullString `db:"source_spec"`
	ListenerName sql.NullString `db:"listener_name"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (r importRow) toModel() model.ImportMetadata {
	m := model.ImportMetadata{
		ID: r.ID, Name: r.Name, Version: r.Version, Checksum: r.Checksum,
		TeamID: r.TeamID, CreatedAt: r.CreatedAt,
	}
	if r.SourceSpec.Valid {
		m.SourceSpec = []byte(r.SourceSpec.String)
	}
	if r.ListenerName.Valid {
		l := r.ListenerName.String
		m.ListenerName = &l
	}
	return m
}

// Create runs an entire import transactionally: upserts import_metadata,
// dedup-creates clusters (recording a cluster_references row for this
// import against every cluster in the plan, new or existing), creates the
// route configuration tree, optionally binds it to a listener, and bumps
// the route version counter once, plus the cluster counter once when the
// plan carries any clusters.
func (ir *ImportRepository) Create(ctx context.Context, plan ImportPlan) (model.ImportMetadata, error) {
	if plan.Import.Name == "" || plan.Import.TeamID == "" {
		return model.ImportMetadata{}, fmt.Errorf("%w: import name and team_id are required", errs.Validation)
	}
	if plan.Import.ID == "" {
		plan.Import.ID = ids.New()
	}
	now := time.Now().UTC()
	plan.Import.CreatedAt = now

	err := ir.s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO import_metadata (id, name, version, checksum, team_id, source_spec, listener_name, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
			plan.Import.ID, plan.Import.Name, plan.Import.Version, plan.Import.Checksum,
			plan.Import.TeamID, string(plan.Import.SourceSpec), plan.Import.ListenerName, now,
		); err != nil {
			return translateWriteErr(err)
		}

		clusterIDByName := map[string]string{}
		for _, c := range plan.Clusters {
			clusterID, created, err := upsertImportedCluster(ctx, tx, c, plan.Import.TeamID, plan.Import.ID, now)
			if err != nil {
				return err
			}
			clusterIDByName[c.Name] = clusterID
			if err := bumpClusterReference(ctx, tx, clusterID, plan.Import.ID); err != nil {
				return err
			}
			_ = created
		}

		rc := plan.RouteConfig
		if rc.ID == "" {
			rc.ID = ids.New()
		}
		rc.TeamID = &plan.Import.TeamID
		rc.ImportID = &plan.Import.ID
		rc.Source = model.SourceOpenAPIImport
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO route_configurations (id, name, config_json, version, source, team_id, import_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			rc.ID, rc.Name, string(rc.ConfigJSON), 1, string(rc.Source), rc.TeamID, rc.ImportID, now, now,
		); err != nil {
			return translateWriteErr(err)
		}
		for _, vh := range plan.VirtualHosts {
			if vh.ID == "" {
				vh.ID = ids.New()
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO virtual_hosts (id, route_config_id, name, domains, position)
				VALUES (?, ?, ?, ?, ?)`),
				vh.ID, rc.ID, vh.Name, joinDomains(vh.Domains), vh.Position,
			); err != nil {
				return translateWriteErr(err)
			}
			for _, rt := range plan.RoutesByVHost[vh.Name] {
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

		if plan.ListenerID != "" {
			if _, err := tx.ExecContext(ctx, tx.Rebind(`
				INSERT INTO listener_route_bindings (id, listener_id, route_config_id, binding_order)
				VALUES (?, ?, ?, (SELECT COALESCE(MAX(binding_order), -1) + 1 FROM listener_route_bindings WHERE listener_id = ?))`),
				ids.New(), plan.ListenerID, rc.ID, plan.ListenerID,
			); err != nil {
				return translateWriteErr(err)
			}
		}

		if len(plan.Clusters) > 0 {
			if err := bumpVersionTx(ctx, tx, model.ResourceCluster); err != nil {
				return err
			}
		}
		return bumpVersionTx(ctx, tx, model.ResourceRoute)
	})
	if err != nil {
		return model.ImportMetadata{}, err
	}
	return plan.Import, nil
}

func joinDomains(domains []string) string {
	out := ""
	for i, d := range domains {
		if i > 0 {
			out += ","
		}
		out += d
	}
	return out
}

func bumpVersionTx(ctx context.Context, tx *sqlx.Tx, rt model.ResourceType) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`UPDATE configuration_versions SET counter = counter + 1 WHERE resource_type = ?`), string(rt)); err != nil {
		return fmt.Errorf("%w: bumping version counter %s: %v", errs.Backend, rt, err)
	}
	return nil
}

// upsertImportedCluster inserts c if a cluster with its name doesn't exist
// yet, otherwise returns the existing cluster's id unchanged: clusters are
// deduplicated by name across imports (spec.md §8 scenario "shared cluster
// dedup"). Reports whether a new row was inserted.
func upsertImportedCluster(ctx context.Context, tx *sqlx.Tx, c model.Cluster, teamID, importID string, now time.Time) (string, bool, error) {
	var existingID string
	err := tx.GetContext(ctx, &existingID, tx.Rebind(`SELECT id FROM clusters WHERE name = ?`), c.Name)
	if err == nil {
		return existingID, false, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("%w: %v", errs.Backend, err)
	}

	if c.ID == "" {
		c.ID = ids.New()
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO clusters (id, name, service_name, config_json, version, source, team_id, import_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Name, c.ServiceName, string(c.ConfigJSON), 1, string(model.SourceOpenAPIImport), teamID, importID, now, now,
	); err != nil {
		return "", false, translateWriteErr(err)
	}
	return c.ID, true, nil
}

func bumpClusterReference(ctx context.Context, tx *sqlx.Tx, clusterID, importID string) error {
	var routeCount int32
	err := tx.GetContext(ctx, &routeCount, tx.Rebind(
		`SELECT route_count FROM cluster_references WHERE cluster_id = ? AND import_id = ?`), clusterID, importID)
	if err == nil {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`UPDATE cluster_references SET route_count = route_count + 1 WHERE cluster_id = ? AND import_id = ?`),
			clusterID, importID)
		return translateWriteErr(err)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("%w: %v", errs.Backend, err)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO cluster_references (cluster_id, import_id, route_count) VALUES (?, ?, 1)`), clusterID, importID)
	return translateWriteErr(err)
}

// Delete removes an import's route configuration (cascading virtual hosts,
// routes, listener bindings, and filter attachments), decrements its
// cluster references, and garbage-collects clusters no import references
// anymore (spec.md §8 scenario "import delete GC").
func (ir *ImportRepository) Delete(ctx context.Context, importID string) error {
	return ir.s.withTx(ctx, func(tx *sqlx.Tx) error {
		var clusterIDs []string
		if err := tx.SelectContext(ctx, &clusterIDs, tx.Rebind(
			`SELECT cluster_id FROM cluster_references WHERE import_id = ?`), importID); err != nil {
			return fmt.Errorf("%w: %v", errs.Backend, err)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM route_configurations WHERE import_id = ?`), importID); err != nil {
			return translateWriteErr(err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM cluster_references WHERE import_id = ?`), importID); err != nil {
			return translateWriteErr(err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM import_metadata WHERE id = ?`), importID); err != nil {
			return translateWriteErr(err)
		}

		for _, clusterID := range clusterIDs {
			var remaining int
			if err := tx.GetContext(ctx, &remaining, tx.Rebind(
				`SELECT COUNT(*) FROM cluster_references WHERE cluster_id = ?`), clusterID); err != nil {
				return fmt.Errorf("%w: %v", errs.Backend, err)
			}
			if remaining == 0 {
				if _, err := tx.ExecContext(ctx, tx.Rebind(
					`DELETE FROM clusters WHERE id = ? AND import_id IS NOT NULL`), clusterID); err != nil {
					return translateWriteErr(err)
				}
			}
		}

		if err := bumpVersionTx(ctx, tx, model.ResourceRoute); err != nil {
			return err
		}
		if len(clusterIDs) > 0 {
			if err := bumpVersionTx(ctx, tx, model.ResourceCluster); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reimport replaces an existing import's resources with a delete followed
// by a create (not a diff/patch). Delete and Create each run in their own
// transaction, so a failing Create leaves the old import already deleted.
func (ir *ImportRepository) Reimport(ctx context.Context, importID string, plan ImportPlan) (model.ImportMetadata, error) {
	if err := ir.Delete(ctx, importID); err != nil {
		return model.ImportMetadata{}, err
	}
	return ir.Create(ctx, plan)
}

// GetByTeamAndName fetches import metadata by (team, name).
func (ir *ImportRepository) GetByTeamAndName(ctx context.Context, teamID, name string) (model.ImportMetadata, error) {
	var row importRow
	err := ir.s.DB.GetContext(ctx, &row, ir.s.rebind(`
		SELECT id, name, version, checksum, team_id, source_spec, listener_name, created_at
		FROM import_metadata WHERE team_id = ? AND name = ?`), teamID, name)
	if err == sql.ErrNoRows {
		return model.ImportMetadata{}, fmt.Errorf("%w: import %s/%s", errs.NotFound, teamID, name)
	}
	if err != nil {
		return model.ImportMetadata{}, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	return row.toModel(), nil
}

// ListByTeam returns every import recorded for a team.
func (ir *ImportRepository) ListByTeam(ctx context.Context, teamID string) ([]model.ImportMetadata, error) {
	var rows []importRow
	err := ir.s.DB.SelectContext(ctx, &rows, ir.s.rebind(`
		SELECT id, name, version, checksum, team_id, source_spec, listener_name, created_at
		FROM import_metadata WHERE team_id = ? ORDER BY created_at DESC`), teamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.ImportMetadata, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

type clusterReferenceRow struct {
	ClusterID  string `db:"cluster_id"`
	ImportID   string `db:"import_id"`
	RouteCount int32  `db:"route_count"`
}

// ClusterReferences returns the per-import reference rows for a cluster.
func (ir *ImportRepository) ClusterReferences(ctx context.Context, clusterID string) ([]model.ClusterReference, error) {
	var rows []clusterReferenceRow
	err := ir.s.DB.SelectContext(ctx, &rows, ir.s.rebind(
		`SELECT cluster_id, import_id, route_count FROM cluster_references WHERE cluster_id = ?`), clusterID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.ClusterReference, len(rows))
	for i, r := range rows {
		out[i] = model.ClusterReference{ClusterID: r.ClusterID, ImportID: r.ImportID, RouteCount: r.RouteCount}
	}
	return out, nil
}
