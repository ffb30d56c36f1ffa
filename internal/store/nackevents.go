package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rajeevramani/flowplane/internal/errs"
	"github.com/rajeevramani/flowplane/internal/ids"
	"github.com/rajeevramani/flowplane/internal/model"
)

// NackRepository persists Envoy NACK events (spec.md §3 "NACK event", §6
// "NACK observability"). Writes happen synchronously on receipt so the
// event survives stream cancellation.
type NackRepository struct {
	s *Store
}

type nackRow struct {
	ID                string    `db:"id"`
	TeamID            string    `db:"team_id"`
	DataplaneName     string    `db:"dataplane_name"`
	TypeURL           string    `db:"type_url"`
	RejectedVersion   string    `db:"rejected_version"`
	Nonce             string    `db:"nonce"`
	ErrorCode         int32     `db:"error_code"`
	ErrorMessage      string    `db:"error_message"`
	NodeID            string    `db:"node_id"`
	RejectedResources string    `db:"rejected_resources"`
	CreatedAt         time.Time `db:"created_at"`
}

// Record writes one NACK event.
func (nr *NackRepository) Record(ctx context.Context, e model.NackEvent) (model.NackEvent, error) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	resourcesJSON, err := json.Marshal(e.RejectedResources)
	if err != nil {
		return model.NackEvent{}, fmt.Errorf("%w: marshaling rejected resources: %v", errs.Validation, err)
	}

	_, err = nr.s.DB.ExecContext(ctx, nr.s.rebind(`
		INSERT INTO xds_nack_events
			(id, team_id, dataplane_name, type_url, rejected_version, nonce, error_code, error_message, node_id, rejected_resources, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.TeamID, e.DataplaneName, e.TypeURL, e.RejectedVersion, e.Nonce,
		e.ErrorCode, e.ErrorMessage, e.NodeID, string(resourcesJSON), e.CreatedAt,
	)
	if err != nil {
		return model.NackEvent{}, translateWriteErr(err)
	}
	return e, nil
}

// ListByTeam returns the most recent NACK events for a team, newest first.
func (nr *NackRepository) ListByTeam(ctx context.Context, teamID string, limit int) ([]model.NackEvent, error) {
	var rows []nackRow
	err := nr.s.DB.SelectContext(ctx, &rows, nr.s.rebind(
		`SELECT id, team_id, dataplane_name, type_url, rejected_version, nonce, error_code, error_message, node_id, rejected_resources, created_at
		 FROM xds_nack_events WHERE team_id = ? ORDER BY created_at DESC LIMIT ?`), teamID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.Backend, err)
	}
	out := make([]model.NackEvent, len(rows))
	for i, r := range rows {
		var resources []string
		_ = json.Unmarshal([]byte(r.RejectedResources), &resources)
		out[i] = model.NackEvent{
			ID: r.ID, TeamID: r.TeamID, DataplaneName: r.DataplaneName, TypeURL: r.TypeURL,
			RejectedVersion: r.RejectedVersion, Nonce: r.Nonce, ErrorCode: r.ErrorCode,
			ErrorMessage: r.ErrorMessage, NodeID: r.NodeID, RejectedResources: resources,
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}
