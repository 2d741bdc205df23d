package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RecordUsage admits one usage event if the subscription's count is
// strictly below the plan limit, or denies with QuotaExceededError and
// writes nothing. The count, check and insert run inside a single
// transaction holding a row lock on the subscription, so two concurrent
// calls for the same subscription serialize and the count never passes
// the limit.
func (s *PostgresService) RecordUsage(ctx context.Context, userID int64) (*UsageReceipt, error) {
	sub, err := s.EnsureActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin usage transaction: %w", err)
	}
	defer tx.Rollback()

	var subscriptionID, limit int64
	err = tx.QueryRowContext(ctx, `
		SELECT s.id, p.usage_limit
		FROM subscriptions s
		JOIN subscription_plans p ON s.plan_id = p.id
		WHERE s.id = $1 AND s.status = 'active'
		FOR UPDATE OF s`, sub.ID).Scan(&subscriptionID, &limit)
	if errors.Is(err, sql.ErrNoRows) {
		// The subscription changed between EnsureActive and the lock.
		return nil, ErrNoActiveSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock subscription %d: %w", sub.ID, err)
	}

	var used int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM usage_events WHERE subscription_id = $1`,
		subscriptionID).Scan(&used); err != nil {
		return nil, fmt.Errorf("failed to count usage for subscription %d: %w", subscriptionID, err)
	}

	if used >= limit {
		if s.metrics != nil {
			s.metrics.UsageDeniedTotal.Inc()
		}
		return nil, &QuotaExceededError{Used: used, Limit: limit}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_events (user_id, subscription_id)
		VALUES ($1, $2)`, userID, subscriptionID); err != nil {
		return nil, fmt.Errorf("failed to record usage event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit usage event: %w", err)
	}

	if s.metrics != nil {
		s.metrics.UsageAdmittedTotal.Inc()
	}

	return &UsageReceipt{Used: used + 1, Limit: limit}, nil
}

// GetUsage returns a usage snapshot for a subscription. Advisory only;
// admission decisions happen in RecordUsage under the row lock.
func (s *PostgresService) GetUsage(ctx context.Context, subscriptionID int64) (*UsageReceipt, error) {
	var receipt UsageReceipt
	err := s.db.QueryRowContext(ctx, `
		SELECT p.usage_limit, COUNT(u.id)
		FROM subscriptions s
		JOIN subscription_plans p ON s.plan_id = p.id
		LEFT JOIN usage_events u ON u.subscription_id = s.id
		WHERE s.id = $1
		GROUP BY p.usage_limit`, subscriptionID).
		Scan(&receipt.Limit, &receipt.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage for subscription %d: %w", subscriptionID, err)
	}
	return &receipt, nil
}
