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

// TeamRepository is the only writer of the teams table.
type TeamRepository struct {
	s *Store
}

type teamRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	Organization   string         `db:"organization"`
	Status         string         `db:"status"`
	EnvoyAdminPort sql.NullInt32  `db:"envoy_admin_port"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r teamRow) toModel() model.Team {
	t := model.Team{
		ID:           r.ID,
		Name:         r.Name,
		Organization: r.Organization,
		Status:       model.TeamStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.EnvoyAdminPort.Valid {
		p := r.EnvoyAdminPort.Int32
		t.EnvoyAdminPort = &p
	}
	return t
}

// Create inserts a new team.
func (tr *TeamRepository) Create(ctx context.Context, t model.Team) (model.Team, error) {
	if t.Name == "" || t.Organization == "" {
		return model.Team{}, fmt.Errorf("%w: team name and organization are required", errs.Validation)
	}
	if t.ID == "" {
		t.ID = ids.New()
	}
	if t.Status == "" {
		t.Status = model.TeamActive
	}
	now := time.Now().UTC()

	_, err := tr.s.DB.ExecContext(ctx, tr.s.rebind(`
		INSERT INTO teams (id, name, organization, status, envoy_admin_port, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Name, t.Organization, string(t.Status), t.EnvoyAdminPort, now, now,
	)
	if err != nil {
		return model.Team{}, translateWriteErr(err)
	}
	t.CreatedAt, t.UpdatedAt = now, now
	return t, nil
}

// GetByName fetches a team by (organization, name).
func (tr *TeamRepository) GetByName(ctx context.Context, organization, name string) (model.Team, error) {
	var row teamRow
	err := tr.s.DB.GetContext(ctx, &row, tr.s.rebind(
		`SELECT id, name, organization, status, envoy_admin_port, created_at, updated_at
		 FROM teams WHERE organization = ? AND name = ?`), organization, name)
	if err == sql.ErrNoRows {
		return model.Team{}, fmt.Errorf("%w: team %s/%s", errs.NotFound, organization, name)
	}
	if err != nil {
		return model.Team{}, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	return row.toModel(), nil
}

// GetByID fetches a team by its stable id.
func (tr *TeamRepository) GetByID(ctx context.Context, id string) (model.Team, error) {
	var row teamRow
	err := tr.s.DB.GetContext(ctx, &row, tr.s.rebind(
		`SELECT id, name, organization, status, envoy_admin_port, created_at, updated_at
		 FROM teams WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return model.Team{}, fmt.Errorf("%w: team %s", errs.NotFound, id)
	}
	if err != nil {
		return model.Team{}, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	return row.toModel(), nil
}

// List returns every team, for the admin surface and for watchers that
// need to enumerate known teams.
func (tr *TeamRepository) List(ctx context.Context) ([]model.Team, error) {
	var rows []teamRow
	err := tr.s.DB.SelectContext(ctx, &rows, `SELECT id, name, organization, status, envoy_admin_port, created_at, updated_at FROM teams ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.Team, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// UpdateStatus changes a team's lifecycle status.
func (tr *TeamRepository) UpdateStatus(ctx context.Context, id string, status model.TeamStatus) error {
	now := time.Now().UTC()
	res, err := tr.s.DB.ExecContext(ctx, tr.s.rebind(
		`UPDATE teams SET status = ?, updated_at = ? WHERE id = ?`), string(status), now, id)
	if err != nil {
		return translateWriteErr(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: team %s", errs.NotFound, id)
	}
	return nil
}
