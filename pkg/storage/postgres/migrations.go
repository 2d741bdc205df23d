package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					password_hash VARCHAR(255) NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create subscription_plans table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscription_plans (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(100) NOT NULL UNIQUE,
					price_cents BIGINT NOT NULL CHECK (price_cents >= 0),
					usage_limit BIGINT NOT NULL CHECK (usage_limit > 0),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     3,
			Description: "Create subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					plan_id BIGINT NOT NULL REFERENCES subscription_plans(id),
					status VARCHAR(20) NOT NULL DEFAULT 'active'
						CHECK (status IN ('active', 'expired', 'inactive')),
					start_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					end_date TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX idx_subscriptions_one_active_per_user
					ON subscriptions(user_id) WHERE status = 'active';
				CREATE INDEX idx_subscriptions_user_id ON subscriptions(user_id);
				CREATE INDEX idx_subscriptions_status_end_date
					ON subscriptions(status, end_date);
			`,
		},
		{
			Version:     4,
			Description: "Create usage_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS usage_events (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					subscription_id BIGINT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_usage_events_subscription_id ON usage_events(subscription_id);
				CREATE INDEX idx_usage_events_user_id ON usage_events(user_id);
			`,
		},
		{
			Version:     5,
			Description: "Seed subscription plans",
			SQL: `
				INSERT INTO subscription_plans (name, price_cents, usage_limit) VALUES
					('Free', 0, 10),
					('Starter', 999, 100),
					('Pro', 2999, 1000)
				ON CONFLICT (name) DO NOTHING;
			`,
		},
	}
}

// RunMigrations executes all pending migrations. Each migration runs in
// its own transaction and is recorded in schema_migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
