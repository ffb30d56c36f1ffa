package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearFlowplaneEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FLOWPLANE_XDS_ADDR", "FLOWPLANE_ADMIN_ADDR", "FLOWPLANE_DB_DRIVER",
		"FLOWPLANE_DB_DSN", "FLOWPLANE_DEFAULT_TEAM", "FLOWPLANE_TEAM_METADATA_KEY",
		"FLOWPLANE_WATCHER_INTERVAL", "FLOWPLANE_SECRET_ENCRYPTION_KEY",
		"FLOWPLANE_TLS_CERT_FILE", "FLOWPLANE_TLS_KEY_FILE", "FLOWPLANE_TLS_CLIENT_CA_FILE",
		"FLOWPLANE_MAX_CONCURRENT_BUILDS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearFlowplaneEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":18000", cfg.XDSAddr)
	require.Equal(t, ":8080", cfg.AdminAddr)
	require.Equal(t, "sqlite3", cfg.DBDriver)
	require.Equal(t, "default", cfg.DefaultTeam)
	require.Equal(t, "team", cfg.TeamMetadataKey)
	require.Equal(t, 200*time.Millisecond, cfg.WatcherInterval)
	require.Equal(t, 8, cfg.MaxConcurrentBuilds)
	require.False(t, cfg.TLSEnabled())
	require.False(t, cfg.MTLSEnabled())
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearFlowplaneEnv(t)
	t.Setenv("FLOWPLANE_XDS_ADDR", ":9000")
	t.Setenv("FLOWPLANE_DB_DRIVER", "pgx")
	t.Setenv("FLOWPLANE_WATCHER_INTERVAL", "5s")
	t.Setenv("FLOWPLANE_MAX_CONCURRENT_BUILDS", "16")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.XDSAddr)
	require.Equal(t, "pgx", cfg.DBDriver)
	require.Equal(t, 5*time.Second, cfg.WatcherInterval)
	require.Equal(t, 16, cfg.MaxConcurrentBuilds)
}

func TestLoadRejectsUnparseableInterval(t *testing.T) {
	clearFlowplaneEnv(t)
	t.Setenv("FLOWPLANE_WATCHER_INTERVAL", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsUnparseableMaxConcurrentBuilds(t *testing.T) {
	clearFlowplaneEnv(t)
	t.Setenv("FLOWPLANE_MAX_CONCURRENT_BUILDS", "not-a-number")
	_, err := Load()
	require.Error(t, err)
}

func TestTLSEnabledRequiresBothCertAndKey(t *testing.T) {
	clearFlowplaneEnv(t)
	t.Setenv("FLOWPLANE_TLS_CERT_FILE", "/tmp/cert.pem")
	cfg, err := Load()
	require.NoError(t, err)
	require.False(t, cfg.TLSEnabled())

	t.Setenv("FLOWPLANE_TLS_KEY_FILE", "/tmp/key.pem")
	cfg, err = Load()
	require.NoError(t, err)
	require.True(t, cfg.TLSEnabled())
}

func TestMTLSEnabledRequiresClientCAFile(t *testing.T) {
	clearFlowplaneEnv(t)
	t.Setenv("FLOWPLANE_TLS_CLIENT_CA_FILE", "/tmp/ca.pem")
	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.MTLSEnabled())
}
