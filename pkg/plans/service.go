package plans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Catalog provides read access to the plan catalog
type Catalog interface {
	ListPlans(ctx context.Context) ([]*Plan, error)
	GetPlan(ctx context.Context, id int64) (*Plan, error)
	GetFreePlan(ctx context.Context) (*Plan, error)
}

// PostgresCatalog implements Catalog backed by PostgreSQL
type PostgresCatalog struct {
	db *sql.DB
}

// NewPostgresCatalog creates a plan catalog
func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// ListPlans returns all plans ordered by price, cheapest first
func (c *PostgresCatalog) ListPlans(ctx context.Context) ([]*Plan, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, price_cents, usage_limit, created_at
		FROM subscription_plans
		ORDER BY price_cents ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	var result []*Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.UsageLimit, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}

	return result, nil
}

// GetPlan returns the plan with the given id
func (c *PostgresCatalog) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	var p Plan
	err := c.db.QueryRowContext(ctx, `
		SELECT id, name, price_cents, usage_limit, created_at
		FROM subscription_plans
		WHERE id = $1`, id).Scan(&p.ID, &p.Name, &p.PriceCents, &p.UsageLimit, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan %d: %w", id, err)
	}

	return &p, nil
}

// GetFreePlan returns the zero-price plan used for auto-provisioning.
// The catalog must contain exactly one; zero or several is a
// ConfigurationError, a deployment problem rather than a user error.
func (c *PostgresCatalog) GetFreePlan(ctx context.Context) (*Plan, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, price_cents, usage_limit, created_at
		FROM subscription_plans
		WHERE price_cents = 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to get free plan: %w", err)
	}
	defer rows.Close()

	var free []*Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.PriceCents, &p.UsageLimit, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		free = append(free, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate free plans: %w", err)
	}

	switch len(free) {
	case 0:
		return nil, &ConfigurationError{Message: "no free plan defined"}
	case 1:
		return free[0], nil
	default:
		return nil, &ConfigurationError{Message: fmt.Sprintf("%d free plans defined, expected exactly one", len(free))}
	}
}
