package store

import "context"

// schemaStatements is the idempotent create-if-absent schema. No migration
// tooling ships as part of the core contract (SPEC_FULL.md / spec.md §6):
// boot-time CREATE TABLE IF NOT EXISTS is enough, and identical across
// SQLite and PostgreSQL because every column uses a portable type (TEXT,
// INTEGER, TIMESTAMP) rather than a dialect-specific one. JSON payloads and
// encrypted secret bytes are stored as TEXT (JSON text, base64 respectively)
// for that reason.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS teams (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		organization TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		envoy_admin_port INTEGER,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(organization, name)
	)`,
	`CREATE TABLE IF NOT EXISTS clusters (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		service_name TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		source TEXT NOT NULL DEFAULT 'native_api',
		team_id TEXT REFERENCES teams(id),
		import_id TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cluster_endpoints (
		id TEXT PRIMARY KEY,
		cluster_id TEXT NOT NULL REFERENCES clusters(id) ON DELETE CASCADE,
		address TEXT NOT NULL,
		port INTEGER NOT NULL,
		weight INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		health_status TEXT NOT NULL DEFAULT 'unknown',
		metadata_json TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(cluster_id, address, port)
	)`,
	`CREATE TABLE IF NOT EXISTS route_configurations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		config_json TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		source TEXT NOT NULL DEFAULT 'native_api',
		team_id TEXT REFERENCES teams(id),
		import_id TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS virtual_hosts (
		id TEXT PRIMARY KEY,
		route_config_id TEXT NOT NULL REFERENCES route_configurations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		domains TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		UNIQUE(route_config_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS routes (
		id TEXT PRIMARY KEY,
		virtual_host_id TEXT NOT NULL REFERENCES virtual_hosts(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		match_type TEXT NOT NULL,
		path_pattern TEXT NOT NULL,
		cluster_name TEXT NOT NULL,
		route_order INTEGER NOT NULL DEFAULT 0,
		UNIQUE(virtual_host_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS listeners (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		address TEXT NOT NULL,
		port INTEGER,
		protocol TEXT NOT NULL DEFAULT 'tcp',
		config_json TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		source TEXT NOT NULL DEFAULT 'native_api',
		team_id TEXT REFERENCES teams(id),
		dataplane_binding TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(address, port)
	)`,
	`CREATE TABLE IF NOT EXISTS listener_route_bindings (
		id TEXT PRIMARY KEY,
		listener_id TEXT NOT NULL REFERENCES listeners(id) ON DELETE CASCADE,
		route_config_id TEXT NOT NULL REFERENCES route_configurations(id) ON DELETE CASCADE,
		binding_order INTEGER NOT NULL DEFAULT 0,
		UNIQUE(listener_id, route_config_id)
	)`,
	`CREATE TABLE IF NOT EXISTS filters (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		config_json TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		team_id TEXT NOT NULL REFERENCES teams(id),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(team_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS filter_attachments (
		id TEXT PRIMARY KEY,
		filter_id TEXT NOT NULL REFERENCES filters(id) ON DELETE CASCADE,
		level TEXT NOT NULL,
		route_config_id TEXT NOT NULL REFERENCES route_configurations(id) ON DELETE CASCADE,
		virtual_host_id TEXT NOT NULL DEFAULT '',
		route_id TEXT NOT NULL DEFAULT '',
		filter_order INTEGER NOT NULL DEFAULT 0,
		behavior TEXT NOT NULL DEFAULT 'use_base',
		override_json TEXT,
		requirement_name TEXT NOT NULL DEFAULT '',
		CHECK (
			(level = 'route_config' AND virtual_host_id = '' AND route_id = '') OR
			(level = 'virtual_host' AND virtual_host_id <> '' AND route_id = '') OR
			(level = 'route' AND virtual_host_id = '' AND route_id <> '')
		)
	)`,
	`CREATE TABLE IF NOT EXISTS listener_auto_filters (
		id TEXT PRIMARY KEY,
		listener_id TEXT NOT NULL REFERENCES listeners(id) ON DELETE CASCADE,
		http_filter_name TEXT NOT NULL,
		source_filter_id TEXT NOT NULL REFERENCES filters(id) ON DELETE CASCADE,
		route_config_id TEXT NOT NULL REFERENCES route_configurations(id) ON DELETE CASCADE,
		level TEXT NOT NULL,
		virtual_host_id TEXT NOT NULL DEFAULT '',
		route_id TEXT NOT NULL DEFAULT '',
		CHECK (
			(level = 'route_config' AND virtual_host_id = '' AND route_id = '') OR
			(level = 'virtual_host' AND virtual_host_id <> '' AND route_id = '') OR
			(level = 'route' AND virtual_host_id = '' AND route_id <> '')
		),
		UNIQUE(listener_id, http_filter_name, source_filter_id)
	)`,
	`CREATE TABLE IF NOT EXISTS import_metadata (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		checksum TEXT NOT NULL,
		team_id TEXT NOT NULL REFERENCES teams(id),
		source_spec TEXT,
		listener_name TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(team_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS cluster_references (
		cluster_id TEXT NOT NULL REFERENCES clusters(id) ON DELETE CASCADE,
		import_id TEXT NOT NULL REFERENCES import_metadata(id) ON DELETE CASCADE,
		route_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (cluster_id, import_id)
	)`,
	`CREATE TABLE IF NOT EXISTS secrets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		team_id TEXT NOT NULL REFERENCES teams(id),
		secret_type TEXT NOT NULL,
		backend TEXT NOT NULL DEFAULT '',
		encrypted_value TEXT,
		reference TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		expires_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(team_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS configuration_versions (
		resource_type TEXT PRIMARY KEY,
		counter INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS xds_nack_events (
		id TEXT PRIMARY KEY,
		team_id TEXT NOT NULL,
		dataplane_name TEXT NOT NULL,
		type_url TEXT NOT NULL,
		rejected_version TEXT NOT NULL,
		nonce TEXT NOT NULL,
		error_code INTEGER NOT NULL,
		error_message TEXT NOT NULL,
		node_id TEXT NOT NULL,
		rejected_resources TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,

	// Indexing requirements from spec.md §4.1.
	`CREATE INDEX IF NOT EXISTS idx_clusters_team ON clusters(team_id, name)`,
	`CREATE INDEX IF NOT EXISTS idx_clusters_import ON clusters(import_id)`,
	`CREATE INDEX IF NOT EXISTS idx_routeconfigs_team ON route_configurations(team_id, name)`,
	`CREATE INDEX IF NOT EXISTS idx_routeconfigs_import ON route_configurations(import_id)`,
	`CREATE INDEX IF NOT EXISTS idx_listeners_team ON listeners(team_id, name)`,
	`CREATE INDEX IF NOT EXISTS idx_filters_team ON filters(team_id, name)`,
	`CREATE INDEX IF NOT EXISTS idx_secrets_team ON secrets(team_id, name)`,
	`CREATE INDEX IF NOT EXISTS idx_nack_team_created ON xds_nack_events(team_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_filter_attach_routeconfig ON filter_attachments(route_config_id)`,
	`CREATE INDEX IF NOT EXISTS idx_autofilter_listener ON listener_auto_filters(listener_id)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	var seed string
	if s.dialect.name == "pgx" {
		seed = `INSERT INTO configuration_versions (resource_type, counter) VALUES ($1, 0) ON CONFLICT (resource_type) DO NOTHING`
	} else {
		seed = `INSERT OR IGNORE INTO configuration_versions (resource_type, counter) VALUES (?, 0)`
	}
	for _, rt := range []string{"cluster", "route", "listener", "endpoint", "secret"} {
		if _, err := s.DB.ExecContext(ctx, seed, rt); err != nil {
			return err
		}
	}
	return nil
}
