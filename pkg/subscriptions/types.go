// Package subscriptions implements the subscription lifecycle and quota
// enforcement engine: lazy expiry, free-plan auto-provisioning, plan
// changes and atomic usage admission.
package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a subscription row
type Status string

const (
	// StatusActive is the single live subscription for a user
	StatusActive Status = "active"
	// StatusExpired means the end date passed and was observed
	StatusExpired Status = "expired"
	// StatusInactive means the row was superseded by a plan change
	StatusInactive Status = "inactive"
)

// Subscription binds a user to a plan over a time window. A nil EndDate
// means no expiry, which is reserved for the free plan. Expired and
// inactive rows are terminal; a new row is created instead of reviving
// one.
type Subscription struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	PlanID    int64      `json:"plan_id"`
	Status    Status     `json:"status"`
	StartDate time.Time  `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
	CreatedAt time.Time  `json:"created_at"`
}

// CurrentSubscription is the reconciled view of a user's active
// subscription joined with its plan and live usage count.
type CurrentSubscription struct {
	SubscriptionID int64      `json:"subscription_id"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date"`
	Status         Status     `json:"status"`
	PlanID         int64      `json:"plan_id"`
	PlanName       string     `json:"plan_name"`
	UsageLimit     int64      `json:"calculations_limit"`
	Used           int64      `json:"calculations_used"`
}

// UsageReceipt reports usage against the plan limit
type UsageReceipt struct {
	Used  int64 `json:"calculations_used"`
	Limit int64 `json:"calculations_limit"`
}

// QuotaExceededError is returned when a usage event is denied because
// the subscription's limit is reached. No event is recorded.
type QuotaExceededError struct {
	Used  int64
	Limit int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d of %d calculations used", e.Used, e.Limit)
}

// IsQuotaExceeded checks if an error is a QuotaExceededError
func IsQuotaExceeded(err error) bool {
	var quotaErr *QuotaExceededError
	return errors.As(err, &quotaErr)
}

// AsQuotaExceeded extracts a QuotaExceededError when present
func AsQuotaExceeded(err error) (*QuotaExceededError, bool) {
	var quotaErr *QuotaExceededError
	if errors.As(err, &quotaErr) {
		return quotaErr, true
	}
	return nil, false
}

var (
	// ErrNoActiveSubscription is returned when a user has no active
	// subscription after reconciliation
	ErrNoActiveSubscription = errors.New("no active subscription")
	// ErrSubscriptionNotFound is returned when a subscription id does
	// not exist
	ErrSubscriptionNotFound = errors.New("subscription not found")
	// ErrFreePlanNotSelectable rejects manual selection of the free
	// plan; it is the auto-provision fallback, not a destination
	ErrFreePlanNotSelectable = errors.New("free plan cannot be selected")
)

// Service is the public surface of the subscription engine
type Service interface {
	GetCurrent(ctx context.Context, userID int64) (*CurrentSubscription, error)
	ChangePlan(ctx context.Context, userID, planID int64) (*Subscription, error)
	RecordUsage(ctx context.Context, userID int64) (*UsageReceipt, error)
	GetUsage(ctx context.Context, subscriptionID int64) (*UsageReceipt, error)
}
