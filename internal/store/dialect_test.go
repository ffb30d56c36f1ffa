package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDialectForSQLite(t *testing.T) {
	d, driverName, err := dialectFor("sqlite3")
	require.NoError(t, err)
	require.Equal(t, "sqlite3", driverName)
	require.Equal(t, "?", d.placeholder(1))
	require.Equal(t, "?", d.placeholder(5))
}

func TestDialectForEmptyDefaultsToSQLite(t *testing.T) {
	d, driverName, err := dialectFor("")
	require.NoError(t, err)
	require.Equal(t, "sqlite3", driverName)
	require.Equal(t, "sqlite3", d.name)
}

func TestDialectForPostgresVariants(t *testing.T) {
	for _, driver := range []string{"pgx", "postgres", "postgresql"} {
		d, driverName, err := dialectFor(driver)
		require.NoError(t, err)
		require.Equal(t, "pgx", driverName)
		require.Equal(t, "$1", d.placeholder(1))
		require.Equal(t, "$5", d.placeholder(5))
	}
}

func TestDialectForUnsupportedDriverFails(t *testing.T) {
	_, _, err := dialectFor("mysql")
	require.Error(t, err)
}
