package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rajeevramani/flowplane/internal/errs"
	"github.com/rajeevramani/flowplane/internal/model"
)

// VersionRepository owns the per-resource-type monotonic counters of
// spec.md §3 ("Configuration version") / §4.4. A counter only ever
// increases across the process lifetime.
type VersionRepository struct {
	s *Store
}

// Current returns the counter's present value without incrementing it.
func (vr *VersionRepository) Current(ctx context.Context, rt model.ResourceType) (int64, error) {
	var counter int64
	err := vr.s.DB.GetContext(ctx, &counter, vr.s.rebind(
		`SELECT counter FROM configuration_versions WHERE resource_type = ?`), string(rt))
	if err != nil {
		return 0, fmt.Errorf("%w: reading version counter %s: %v", errs.Backend, rt, err)
	}
	return counter, nil
}

// Bump increments the counter for rt and returns the new value. Callers
// must invoke this either inside the same transaction as the data mutation
// it versions, or from the watcher's commit step — never speculatively.
func (vr *VersionRepository) Bump(ctx context.Context, rt model.ResourceType) (int64, error) {
	return vr.bumpTx(ctx, vr.s.DB, rt)
}

// BumpTx is the transactional form of Bump, for callers already inside a
// Store-managed transaction (imports, cascading deletes).
func (vr *VersionRepository) BumpTx(ctx context.Context, tx *sqlx.Tx, rt model.ResourceType) (int64, error) {
	return vr.bumpTx(ctx, tx, rt)
}

type execQueryer interface {
	sqlx.ExecerContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Rebind(query string) string
}

func (vr *VersionRepository) bumpTx(ctx context.Context, q execQueryer, rt model.ResourceType) (int64, error) {
	if _, err := q.ExecContext(ctx, q.Rebind(
		`UPDATE configuration_versions SET counter = counter + 1 WHERE resource_type = ?`), string(rt)); err != nil {
		return 0, fmt.Errorf("%w: bumping version counter %s: %v", errs.Backend, rt, err)
	}
	var counter int64
	if err := q.GetContext(ctx, &counter, q.Rebind(
		`SELECT counter FROM configuration_versions WHERE resource_type = ?`), string(rt)); err != nil {
		return 0, fmt.Errorf("%w: reading version counter %s: %v", errs.Backend, rt, err)
	}
	return counter, nil
}
