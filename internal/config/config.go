// Package config loads and validates the control plane configuration from
// environment variables. All settings have sensible defaults so the binary
// works out of the box for local development against an embedded SQLite
// database without any .env file.
//
// In production, set the FLOWPLANE_* environment variables (in particular
// the PostgreSQL DSN and the secret encryption key) before starting the
// process. Load reads only the process environment; it does not read a
// .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the control plane. Values are
// loaded once at startup via Load() and then treated as immutable.
type Config struct {
	// XDSAddr is the gRPC listen address for the xDS server. Envoy
	// connects here to receive dynamic configuration.
	XDSAddr string

	// AdminAddr is the HTTP listen address for the thin admin wiring
	// surface described in SPEC_FULL.md §C.
	AdminAddr string

	// DBDriver selects the repository backend: "sqlite3" or "pgx".
	DBDriver string

	// DBDSN is the driver-specific data source name.
	DBDSN string

	// DefaultTeam is the team a stream is scoped to when the connecting
	// Envoy's node metadata carries no team key.
	DefaultTeam string

	// TeamMetadataKey is the well-known node.metadata key carrying the
	// team's id.
	TeamMetadataKey string

	// WatcherInterval is how often each per-resource-type watcher polls
	// its change markers.
	WatcherInterval time.Duration

	// SecretEncryptionKey is the 32-byte AES-256-GCM key (the raw 32 bytes
	// or their standard base64 encoding) used to encrypt inline secret values at rest. Required only when
	// secrets with inline values are used.
	SecretEncryptionKey string

	// TLSCertFile / TLSKeyFile / TLSClientCAFile configure the xDS gRPC
	// server's transport credentials. All empty means plaintext. Setting
	// TLSClientCAFile in addition to cert/key requires mTLS.
	TLSCertFile     string
	TLSKeyFile      string
	TLSClientCAFile string

	// MaxConcurrentBuilds bounds the watcher's per-tick fanout across
	// teams so a rebuild storm cannot spawn unbounded goroutines.
	MaxConcurrentBuilds int
}

// Load reads configuration from environment variables. Missing variables
// fall back to defaults suitable for local development. An error is
// returned if a variable that is present fails to parse.
func Load() (*Config, error) {
	interval, err := getDuration("FLOWPLANE_WATCHER_INTERVAL", 200*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("parsing FLOWPLANE_WATCHER_INTERVAL: %w", err)
	}

	maxBuilds, err := getInt("FLOWPLANE_MAX_CONCURRENT_BUILDS", 8)
	if err != nil {
		return nil, fmt.Errorf("parsing FLOWPLANE_MAX_CONCURRENT_BUILDS: %w", err)
	}

	cfg := &Config{
		XDSAddr:             getEnv("FLOWPLANE_XDS_ADDR", ":18000"),
		AdminAddr:           getEnv("FLOWPLANE_ADMIN_ADDR", ":8080"),
		DBDriver:            getEnv("FLOWPLANE_DB_DRIVER", "sqlite3"),
		DBDSN:               getEnv("FLOWPLANE_DB_DSN", "file:flowplane.db?cache=shared&_fk=1"),
		DefaultTeam:         getEnv("FLOWPLANE_DEFAULT_TEAM", "default"),
		TeamMetadataKey:     getEnv("FLOWPLANE_TEAM_METADATA_KEY", "team"),
		WatcherInterval:     interval,
		SecretEncryptionKey: getEnv("FLOWPLANE_SECRET_ENCRYPTION_KEY", ""),
		TLSCertFile:         getEnv("FLOWPLANE_TLS_CERT_FILE", ""),
		TLSKeyFile:          getEnv("FLOWPLANE_TLS_KEY_FILE", ""),
		TLSClientCAFile:     getEnv("FLOWPLANE_TLS_CLIENT_CA_FILE", ""),
		MaxConcurrentBuilds: maxBuilds,
	}
	return cfg, nil
}

// MTLSEnabled reports whether the xDS server requires client certificates.
func (c *Config) MTLSEnabled() bool {
	return c.TLSClientCAFile != ""
}

// TLSEnabled reports whether the xDS server terminates TLS at all.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// getEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
