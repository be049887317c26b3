package database

import (
	"context"
	"os"
	"strconv"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := DefaultPostgresConfig()
	cfg.Password = "secret"

	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=secret dbname=ekrini_booking sslmode=disable",
		cfg.DSN(),
	)
}

func TestNewPostgres_Unreachable(t *testing.T) {
	cfg := DefaultPostgresConfig()
	cfg.Port = 1
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.MaxRetries = 1
	cfg.RetryInterval = 10 * time.Millisecond

	db, err := NewPostgres(context.Background(), cfg)
	assert.Nil(t, db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}

func integrationConfig(t *testing.T) *PostgresConfig {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run.")
	}
	cfg := DefaultPostgresConfig()
	if v := os.Getenv("TEST_POSTGRES_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("TEST_POSTGRES_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		require.NoError(t, err)
		cfg.Port = port
	}
	cfg.Password = os.Getenv("TEST_POSTGRES_PASSWORD")
	if v := os.Getenv("TEST_POSTGRES_DB"); v != "" {
		cfg.Database = v
	}
	return cfg
}

func TestMigrate_Integration(t *testing.T) {
	cfg := integrationConfig(t)
	ctx := context.Background()

	db, err := NewPostgres(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.HealthCheck(ctx))

	suffix := strconv.FormatInt(time.Now().UnixNano(), 10)
	table := "migrate_probe_" + suffix
	fsys := fstest.MapFS{
		suffix + "_probe.up.sql": {Data: []byte("CREATE TABLE " + table + " (id INT)")},
		"README.md":              {Data: []byte("ignored")},
	}
	defer db.Pool().Exec(ctx, "DROP TABLE IF EXISTS "+table)

	applied, err := db.Migrate(ctx, fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{suffix + "_probe"}, applied)

	applied, err = db.Migrate(ctx, fsys)
	require.NoError(t, err)
	assert.Empty(t, applied, "applied versions are recorded")
}
