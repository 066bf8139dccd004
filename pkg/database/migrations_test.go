//go:build integration

package database_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/database"
	"github.com/chemforge-inc/chemforge-engine/pkg/testhelpers"
)

// newScratchDatabase creates a database plus a login role for it and drops both on cleanup.
// When grantCreate is false the role cannot create objects in schema public.
func newScratchDatabase(t *testing.T, name, user string, grantCreate bool) *sql.DB {
	t.Helper()
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()
	password := "test_password"

	_, _ = testDB.Pool.Exec(ctx, "DROP DATABASE IF EXISTS "+name)
	_, _ = testDB.Pool.Exec(ctx, "DROP USER IF EXISTS "+user)

	_, err := testDB.Pool.Exec(ctx, "CREATE DATABASE "+name)
	require.NoError(t, err)
	_, err = testDB.Pool.Exec(ctx, "CREATE USER "+user+" WITH PASSWORD '"+password+"'")
	require.NoError(t, err)
	_, err = testDB.Pool.Exec(ctx, "GRANT CONNECT ON DATABASE "+name+" TO "+user)
	require.NoError(t, err)

	adminStr, err := testDB.ConnStrFor(ctx, "chemforge", "test_password", name)
	require.NoError(t, err)
	admin, err := sql.Open("pgx", adminStr)
	require.NoError(t, err)
	if grantCreate {
		_, err = admin.Exec("GRANT ALL ON SCHEMA public TO " + user)
	} else {
		// PostgreSQL 15+ already withholds CREATE on public from PUBLIC.
		_, err = admin.Exec("REVOKE CREATE ON SCHEMA public FROM PUBLIC")
	}
	require.NoError(t, err)
	require.NoError(t, admin.Close())

	connStr, err := testDB.ConnStrFor(ctx, user, password, name)
	require.NoError(t, err)
	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
		_, _ = testDB.Pool.Exec(ctx, `
			SELECT pg_terminate_backend(pid)
			FROM pg_stat_activity
			WHERE datname = $1 AND pid <> pg_backend_pid()
		`, name)
		time.Sleep(100 * time.Millisecond)
		_, _ = testDB.Pool.Exec(ctx, "DROP DATABASE IF EXISTS "+name)
		_, _ = testDB.Pool.Exec(ctx, "DROP USER IF EXISTS "+user)
	})
	return db
}

func TestRunMigrations_InsufficientPermissionsFailsFast(t *testing.T) {
	db := newScratchDatabase(t, "test_migration_perms", "restricted_user", false)
	require.NoError(t, db.Ping())

	done := make(chan error, 1)
	go func() { done <- database.RunMigrations(db, zap.NewNop()) }()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "permission denied")
	case <-time.After(30 * time.Second):
		t.Fatal("migrations hung instead of failing with a permission error")
	}
}

func TestRunMigrations_AppliesAndIsIdempotent(t *testing.T) {
	db := newScratchDatabase(t, "test_migration_success", "full_perms_user", true)

	require.NoError(t, database.RunMigrations(db, zap.NewNop()))
	require.NoError(t, database.RunMigrations(db, zap.NewNop()), "second run should be a no-op")

	for _, table := range []string{"companies", "tenants", "provisioning_events", database.MigrationsTable} {
		var exists bool
		err := db.QueryRow(`
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}

	var version int
	var dirty bool
	require.NoError(t, db.QueryRow(`SELECT version, dirty FROM public.`+database.MigrationsTable).Scan(&version, &dirty))
	assert.Positive(t, version)
	assert.False(t, dirty)

	// schema_name is unique across the registry
	_, err := db.Exec(`INSERT INTO tenants (tenant_id, tenant_name, schema_name) VALUES ('a', 'A', 'tenant_a')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO tenants (tenant_id, tenant_name, schema_name) VALUES ('b', 'B', 'tenant_a')`)
	require.Error(t, err)

	_, err = db.Exec(`INSERT INTO tenants (tenant_id, tenant_name, schema_name, status) VALUES ('c', 'C', 'tenant_c', 'bogus')`)
	require.Error(t, err, "status check constraint")
}
