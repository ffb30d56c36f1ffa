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

// SecretRepository is the only writer of secrets. It stores either an
// AES-GCM encrypted inline value (Backend == BackendInline, see
// internal/secretcrypto) or a reference string that the builder resolves
// against an external backend on every BuildSecrets call, that is, on each
// rebuild (spec.md §9 Open Question).
type SecretRepository struct {
	s *Store
}

type secretRow struct {
	ID             string         `db:"id"`
	Name           string         `db:"name"`
	TeamID         string         `db:"team_id"`
	SecretType     string         `db:"secret_type"`
	Backend        string         `db:"backend"`
	EncryptedValue sql.NullString `db:"encrypted_value"`
	Reference      sql.NullString `db:"reference"`
	Version        int64          `db:"version"`
	ExpiresAt      sql.NullTime   `db:"expires_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r secretRow) toModel() model.Secret {
	sec := model.Secret{
		ID: r.ID, Name: r.Name, TeamID: r.TeamID, SecretType: model.SecretType(r.SecretType),
		Backend: model.SecretBackend(r.Backend), Version: r.Version, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
	if r.EncryptedValue.Valid {
		sec.EncryptedValue = []byte(r.EncryptedValue.String)
	}
	if r.Reference.Valid {
		sec.Reference = r.Reference.String
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		sec.ExpiresAt = &t
	}
	return sec
}

// Create inserts a secret, already encrypted by the caller when inline.
func (sr *SecretRepository) Create(ctx context.Context, sec model.Secret) (model.Secret, error) {
	if sec.Name == "" || sec.TeamID == "" || sec.SecretType == "" {
		return model.Secret{}, fmt.Errorf("%w: secret name, team_id, and secret_type are required", errs.Validation)
	}
	if sec.Backend == model.BackendInline && len(sec.EncryptedValue) == 0 {
		return model.Secret{}, fmt.Errorf("%w: inline secrets require an encrypted_value", errs.Validation)
	}
	if sec.Backend != model.BackendInline && sec.Reference == "" {
		return model.Secret{}, fmt.Errorf("%w: backend-sourced secrets require a reference", errs.Validation)
	}
	if sec.ID == "" {
		sec.ID = ids.New()
	}
	now := time.Now().UTC()
	_, err := sr.s.DB.ExecContext(ctx, sr.s.rebind(`
		INSERT INTO secrets (id, name, team_id, secret_type, backend, encrypted_value, reference, version, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sec.ID, sec.Name, sec.TeamID, string(sec.SecretType), string(sec.Backend),
		string(sec.EncryptedValue), nullableString(sec.Reference), 1, sec.ExpiresAt, now, now,
	)
	if err != nil {
		return model.Secret{}, translateWriteErr(err)
	}
	sec.Version = 1
	sec.CreatedAt, sec.UpdatedAt = now, now
	return sec, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// GetByTeamAndName fetches a secret scoped to one team by name.
func (sr *SecretRepository) GetByTeamAndName(ctx context.Context, teamID, name string) (model.Secret, error) {
	var row secretRow
	err := sr.s.DB.GetContext(ctx, &row, sr.s.rebind(`
		SELECT id, name, team_id, secret_type, backend, encrypted_value, reference, version, expires_at, created_at, updated_at
		FROM secrets WHERE team_id = ? AND name = ?`), teamID, name)
	if err == sql.ErrNoRows {
		return model.Secret{}, fmt.Errorf("%w: secret %s/%s", errs.NotFound, teamID, name)
	}
	if err != nil {
		return model.Secret{}, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	return row.toModel(), nil
}

// ListByTeam returns every secret owned by a team.
func (sr *SecretRepository) ListByTeam(ctx context.Context, teamID string) ([]model.Secret, error) {
	var rows []secretRow
	err := sr.s.DB.SelectContext(ctx, &rows, sr.s.rebind(`
		SELECT id, name, team_id, secret_type, backend, encrypted_value, reference, version, expires_at, created_at, updated_at
		FROM secrets WHERE team_id = ? ORDER BY name`), teamID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.Secret, len(rows))
	for i, r := range rows {
		out[i] = r.toModel()
	}
	return out, nil
}

// Rotate replaces an inline secret's encrypted value and bumps its version.
func (sr *SecretRepository) Rotate(ctx context.Context, id string, encryptedValue []byte, expiresAt *time.Time) (model.Secret, error) {
	now := time.Now().UTC()
	res, err := sr.s.DB.ExecContext(ctx, sr.s.rebind(`
		UPDATE secrets SET encrypted_value = ?, expires_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND backend = ''`), string(encryptedValue), expiresAt, now, id)
	if err != nil {
		return model.Secret{}, translateWriteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.Secret{}, fmt.Errorf("%w: inline secret %s", errs.NotFound, id)
	}
	return sr.GetByID(ctx, id)
}

// GetByID fetches a secret by its id.
func (sr *SecretRepository) GetByID(ctx context.Context, id string) (model.Secret, error) {
	var row secretRow
	err := sr.s.DB.GetContext(ctx, &row, sr.s.rebind(`
		SELECT id, name, team_id, secret_type, backend, encrypted_value, reference, version, expires_at, created_at, updated_at
		FROM secrets WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return model.Secret{}, fmt.Errorf("%w: secret %s", errs.NotFound, id)
	}
	if err != nil {
		return model.Secret{}, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	return row.toModel(), nil
}

// DeleteByID removes a secret.
func (sr *SecretRepository) DeleteByID(ctx context.Context, id string) error {
	res, err := sr.s.DB.ExecContext(ctx, sr.s.rebind(`DELETE FROM secrets WHERE id = ?`), id)
	if err != nil {
		return translateWriteErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: secret %s", errs.NotFound, id)
	}
	return nil
}

// WatchMarker returns the change-detection signal for secrets owned by
// teamID. Secrets are always team-owned, unlike the other resource tables.
func (sr *SecretRepository) WatchMarker(ctx context.Context, teamID string) (model.WatchMarker, error) {
	return watchMarker(ctx, sr.s, "secrets", &teamID)
}
