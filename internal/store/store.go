// Package store is the persistence layer of SPEC_FULL.md §4.1: typed
// repositories over a relational store (SQLite or PostgreSQL), the only
// writers to the database. Every repository exposes create/update/delete,
// bulk listing by team and by import, and watch-marker reads used by
// internal/watch for change detection. Transactions wrap any multi-row
// mutation.
//
// The two supported drivers are github.com/mattn/go-sqlite3 and
// github.com/jackc/pgx/v5/stdlib, selected by config.DBDriver, both
// accessed through github.com/jmoiron/sqlx so repository code is
// driver-agnostic except for the handful of dialect differences isolated
// in dialect.go.
package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	// SQLite driver, registered under "sqlite3".
	_ "github.com/mattn/go-sqlite3"
	// PostgreSQL driver, registered under "pgx" via the stdlib adapter.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/rajeevramani/flowplane/internal/config"
)

// Store is the persistence layer handle shared by every repository.
type Store struct {
	DB      *sqlx.DB
	dialect dialect

	Teams     *TeamRepository
	Clusters  *ClusterRepository
	Routes    *RouteRepository
	Listeners *ListenerRepository
	Filters   *FilterRepository
	Secrets   *SecretRepository
	Imports   *ImportRepository
	Versions  *VersionRepository
	Nacks     *NackRepository
}

// Open connects to the configured database, creates the schema if absent,
// and wires up every repository.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	d, driverName, err := dialectFor(cfg.DBDriver)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBackend, err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting to database: %v", errBackend, err)
	}

	s := &Store{DB: db, dialect: d}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrating schema: %v", errBackend, err)
	}

	s.Teams = &TeamRepository{s: s}
	s.Clusters = &ClusterRepository{s: s}
	s.Routes = &RouteRepository{s: s}
	s.Listeners = &ListenerRepository{s: s}
	s.Filters = &FilterRepository{s: s}
	s.Secrets = &SecretRepository{s: s}
	s.Imports = &ImportRepository{s: s}
	s.Versions = &VersionRepository{s: s}
	s.Nacks = &NackRepository{s: s}

	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}

// withTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise. Every multi-row mutation (imports, deletes that cascade)
// goes through this helper.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", errBackend, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing transaction: %v", errBackend, err)
	}
	return nil
}
