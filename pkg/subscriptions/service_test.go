package subscriptions

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyhq/tally/pkg/observability"
	"github.com/tallyhq/tally/pkg/plans"
)

// fakeCatalog is an in-memory plans.Catalog for unit tests
type fakeCatalog struct {
	plans map[int64]*plans.Plan
}

func (c *fakeCatalog) ListPlans(ctx context.Context) ([]*plans.Plan, error) {
	var result []*plans.Plan
	for _, p := range c.plans {
		result = append(result, p)
	}
	return result, nil
}

func (c *fakeCatalog) GetPlan(ctx context.Context, id int64) (*plans.Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return nil, plans.ErrPlanNotFound
	}
	return p, nil
}

func (c *fakeCatalog) GetFreePlan(ctx context.Context) (*plans.Plan, error) {
	for _, p := range c.plans {
		if p.IsFree() {
			return p, nil
		}
	}
	return nil, &plans.ConfigurationError{Message: "no free plan defined"}
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{plans: map[int64]*plans.Plan{
		1: {ID: 1, Name: "Free", PriceCents: 0, UsageLimit: 10},
		2: {ID: 2, Name: "Starter", PriceCents: 999, UsageLimit: 100},
		3: {ID: 3, Name: "Pro", PriceCents: 2999, UsageLimit: 1000},
	}}
}

func newTestService(t *testing.T) (*PostgresService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	svc := NewPostgresService(db, testCatalog(), logger, nil)

	return svc, mock, func() { db.Close() }
}

func subscriptionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "plan_id", "status", "start_date", "end_date", "created_at"})
}

func TestReconcileIdempotent(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()

	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, svc.Reconcile(context.Background(), 7))
	require.NoError(t, svc.Reconcile(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveNone(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()

	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, user_id, plan_id, status, start_date, end_date, created_at").
		WithArgs(int64(7)).
		WillReturnRows(subscriptionRows())

	_, err := svc.GetActive(context.Background(), 7)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureActiveProvisionsFreePlan(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()
	now := time.Now()

	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, user_id, plan_id, status, start_date, end_date, created_at").
		WithArgs(int64(7)).
		WillReturnRows(subscriptionRows())
	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs(int64(7), int64(1)).
		WillReturnRows(subscriptionRows().AddRow(11, 7, 1, "active", now, nil, now))

	sub, err := svc.EnsureActive(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(11), sub.ID)
	assert.Equal(t, StatusActive, sub.Status)
	assert.Nil(t, sub.EndDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureActiveLosesProvisionRace(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()
	now := time.Now()

	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, user_id, plan_id, status, start_date, end_date, created_at").
		WithArgs(int64(7)).
		WillReturnRows(subscriptionRows())
	// conflict with the concurrent winner: no row returned
	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs(int64(7), int64(1)).
		WillReturnRows(subscriptionRows())
	// re-read picks up the winner's row
	mock.ExpectQuery("SELECT id, user_id, plan_id, status, start_date, end_date, created_at").
		WithArgs(int64(7)).
		WillReturnRows(subscriptionRows().AddRow(12, 7, 1, "active", now, nil, now))

	sub, err := svc.EnsureActive(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(12), sub.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureActiveReturnsExisting(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()
	now := time.Now()

	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, user_id, plan_id, status, start_date, end_date, created_at").
		WithArgs(int64(7)).
		WillReturnRows(subscriptionRows().AddRow(5, 7, 2, "active", now, &now, now))

	sub, err := svc.EnsureActive(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(5), sub.ID)
	assert.Equal(t, int64(2), sub.PlanID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangePlanUnknownPlan(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()

	_, err := svc.ChangePlan(context.Background(), 7, 99)
	assert.ErrorIs(t, err, plans.ErrPlanNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangePlanRejectsFreePlan(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()

	_, err := svc.ChangePlan(context.Background(), 7, 1)
	assert.ErrorIs(t, err, ErrFreePlanNotSelectable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangePlanSupersedesInTransaction(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()
	now := time.Now()
	end := now.AddDate(0, 1, 0)

	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs(int64(7), int64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(subscriptionRows().AddRow(20, 7, 3, "active", now, &end, now))
	mock.ExpectCommit()

	sub, err := svc.ChangePlan(context.Background(), 7, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(20), sub.ID)
	assert.Equal(t, int64(3), sub.PlanID)
	require.NotNil(t, sub.EndDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangePlanRollsBackOnInsertFailure(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()

	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(int64(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO subscriptions").
		WithArgs(int64(7), int64(3), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err := svc.ChangePlan(context.Background(), 7, 3)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCurrentJoinsPlanAndUsage(t *testing.T) {
	svc, mock, cleanup := newTestService(t)
	defer cleanup()
	now := time.Now()

	mock.ExpectExec("UPDATE subscriptions").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, user_id, plan_id, status, start_date, end_date, created_at").
		WithArgs(int64(7)).
		WillReturnRows(subscriptionRows().AddRow(5, 7, 2, "active", now, nil, now))
	mock.ExpectQuery("SELECT s.id, s.start_date, s.end_date, s.status, p.id, p.name, p.usage_limit").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "start_date", "end_date", "status", "plan_id", "name", "usage_limit", "count"}).
			AddRow(5, now, nil, "active", 2, "Starter", 100, 17))

	cur, err := svc.GetCurrent(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cur.SubscriptionID)
	assert.Equal(t, "Starter", cur.PlanName)
	assert.Equal(t, int64(100), cur.UsageLimit)
	assert.Equal(t, int64(17), cur.Used)
	assert.NoError(t, mock.ExpectationsWereMet())
}
