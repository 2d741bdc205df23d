package subscriptions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tallyhq/tally/pkg/observability"
	"github.com/tallyhq/tally/pkg/plans"
)

// PostgresService implements Service backed by PostgreSQL. All
// cross-request coordination goes through the database's transactional
// guarantees so multiple instances are safe.
type PostgresService struct {
	db      *sql.DB
	catalog plans.Catalog
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewPostgresService creates the subscription service. metrics may be
// nil.
func NewPostgresService(db *sql.DB, catalog plans.Catalog, logger *observability.Logger, metrics *observability.Metrics) *PostgresService {
	return &PostgresService{
		db:      db,
		catalog: catalog,
		logger:  logger,
		metrics: metrics,
	}
}

const subscriptionColumns = "id, user_id, plan_id, status, start_date, end_date, created_at"

func scanSubscription(row *sql.Row) (*Subscription, error) {
	var s Subscription
	err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.Status, &s.StartDate, &s.EndDate, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Reconcile lapses the user's active subscription if its end date has
// passed. Idempotent; a no-op when nothing has lapsed.
func (s *PostgresService) Reconcile(ctx context.Context, userID int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'expired'
		WHERE user_id = $1
		  AND status = 'active'
		  AND end_date IS NOT NULL
		  AND end_date < NOW()`, userID)
	if err != nil {
		return fmt.Errorf("failed to reconcile subscriptions for user %d: %w", userID, err)
	}

	if expired, err := result.RowsAffected(); err == nil && expired > 0 {
		s.logger.WithFields(map[string]interface{}{
			"user_id": userID,
		}).Info("subscription expired")
		if s.metrics != nil {
			s.metrics.SubscriptionsExpiredTotal.Add(float64(expired))
		}
	}

	return nil
}

// SweepExpired lapses every active subscription whose end date has
// passed, across all users. Used by the background sweeper; the lazy
// per-user Reconcile remains authoritative for request paths.
func (s *PostgresService) SweepExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'expired'
		WHERE status = 'active'
		  AND end_date IS NOT NULL
		  AND end_date < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired subscriptions: %w", err)
	}

	expired, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read sweep result: %w", err)
	}
	if expired > 0 && s.metrics != nil {
		s.metrics.SubscriptionsExpiredTotal.Add(float64(expired))
	}

	return expired, nil
}

// CountActive returns the number of active subscriptions across all
// users. Used for the periodic gauge sample.
func (s *PostgresService) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM subscriptions WHERE status = 'active'`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active subscriptions: %w", err)
	}
	return count, nil
}

// GetActive returns the user's active subscription after reconciliation,
// or ErrNoActiveSubscription.
func (s *PostgresService) GetActive(ctx context.Context, userID int64) (*Subscription, error) {
	if err := s.Reconcile(ctx, userID); err != nil {
		return nil, err
	}
	return s.getActiveRow(ctx, userID)
}

func (s *PostgresService) getActiveRow(ctx context.Context, userID int64) (*Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE user_id = $1 AND status = 'active'`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active subscription for user %d: %w", userID, err)
	}
	return sub, nil
}

// EnsureActive reconciles and, when the user has no active
// subscription, provisions one on the free plan (start=now, no end
// date). Concurrent calls for the same user yield exactly one active
// row: the partial unique index on (user_id) WHERE status='active'
// rejects the second insert and the loser re-reads the winner's row.
func (s *PostgresService) EnsureActive(ctx context.Context, userID int64) (*Subscription, error) {
	sub, err := s.GetActive(ctx, userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, ErrNoActiveSubscription) {
		return nil, err
	}

	freePlan, err := s.catalog.GetFreePlan(ctx)
	if err != nil {
		return nil, err
	}

	sub, err = scanSubscription(s.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (user_id, plan_id, status, start_date, end_date)
		VALUES ($1, $2, 'active', NOW(), NULL)
		ON CONFLICT (user_id) WHERE status = 'active' DO NOTHING
		RETURNING `+subscriptionColumns, userID, freePlan.ID))
	if errors.Is(err, sql.ErrNoRows) {
		// Lost the provisioning race; the other caller's row is active.
		return s.getActiveRow(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to provision free subscription for user %d: %w", userID, err)
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id":         userID,
		"subscription_id": sub.ID,
		"plan_id":         freePlan.ID,
	}).Info("provisioned free subscription")
	if s.metrics != nil {
		s.metrics.SubscriptionsProvisionedTotal.Inc()
	}

	return sub, nil
}

// ChangePlan supersedes the user's active subscription and creates a
// new one on the given paid plan with a one-month term. The supersede
// and create run in one transaction; a failure leaves the prior active
// subscription untouched.
func (s *PostgresService) ChangePlan(ctx context.Context, userID, planID int64) (*Subscription, error) {
	plan, err := s.catalog.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.IsFree() {
		return nil, ErrFreePlanNotSelectable
	}

	if err := s.Reconcile(ctx, userID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin plan change: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	endDate := now.AddDate(0, 1, 0)

	if _, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'inactive', end_date = $2
		WHERE user_id = $1 AND status = 'active'`, userID, now); err != nil {
		return nil, fmt.Errorf("failed to supersede active subscription: %w", err)
	}

	var sub Subscription
	err = tx.QueryRowContext(ctx, `
		INSERT INTO subscriptions (user_id, plan_id, status, start_date, end_date)
		VALUES ($1, $2, 'active', $3, $4)
		RETURNING `+subscriptionColumns, userID, planID, now, endDate).
		Scan(&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status, &sub.StartDate, &sub.EndDate, &sub.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription on plan %d: %w", planID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit plan change: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"user_id":         userID,
		"subscription_id": sub.ID,
		"plan_id":         planID,
	}).Info("plan changed")
	if s.metrics != nil {
		s.metrics.SubscriptionsUpgradedTotal.Inc()
	}

	return &sub, nil
}

// GetCurrent returns the reconciled active subscription joined with its
// plan and live usage count, auto-provisioning the free plan when the
// user has none.
func (s *PostgresService) GetCurrent(ctx context.Context, userID int64) (*CurrentSubscription, error) {
	sub, err := s.EnsureActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	var cur CurrentSubscription
	err = s.db.QueryRowContext(ctx, `
		SELECT s.id, s.start_date, s.end_date, s.status, p.id, p.name, p.usage_limit,
		       COUNT(u.id)
		FROM subscriptions s
		JOIN subscription_plans p ON s.plan_id = p.id
		LEFT JOIN usage_events u ON u.subscription_id = s.id
		WHERE s.id = $1
		GROUP BY s.id, s.start_date, s.end_date, s.status, p.id, p.name, p.usage_limit`,
		sub.ID).
		Scan(&cur.SubscriptionID, &cur.StartDate, &cur.EndDate, &cur.Status,
			&cur.PlanID, &cur.PlanName, &cur.UsageLimit, &cur.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load current subscription for user %d: %w", userID, err)
	}

	return &cur, nil
}
