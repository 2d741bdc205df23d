//go:build integration

package subscriptions

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tallyhq/tally/pkg/observability"
	"github.com/tallyhq/tally/pkg/plans"
	"github.com/tallyhq/tally/pkg/storage/postgres"
)

// setupPostgres starts a disposable PostgreSQL container, runs the
// schema migrations and returns a connected pool.
func setupPostgres(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker/Podman not available, skipping integration tests")
	}
	defer provider.Close()

	container, err := pgcontainer.Run(ctx, "postgres:15-alpine",
		pgcontainer.WithDatabase("tally_test"),
		pgcontainer.WithUsername("tally"),
		pgcontainer.WithPassword("tally_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
		pgcontainer.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	require.NoError(t, postgres.RunMigrations(ctx, db))

	cleanup := func() {
		db.Close()

		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Errorf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

// setupService wires the real service against the container database
func setupService(t *testing.T, db *sql.DB) *PostgresService {
	t.Helper()
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewPostgresService(db, plans.NewPostgresCatalog(db), logger, nil)
}

// createUser inserts a test user and returns its id
func createUser(t *testing.T, db *sql.DB, email string) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(
		"INSERT INTO users (email, password_hash) VALUES ($1, 'x') RETURNING id",
		email).Scan(&id)
	require.NoError(t, err)
	return id
}

// setPlanLimit overrides a plan's usage limit for a scenario
func setPlanLimit(t *testing.T, db *sql.DB, planName string, limit int64) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(
		"UPDATE subscription_plans SET usage_limit = $1 WHERE name = $2 RETURNING id",
		limit, planName).Scan(&id)
	require.NoError(t, err)
	return id
}
