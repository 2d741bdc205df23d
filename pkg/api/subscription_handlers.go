// Package api exposes the HTTP boundary: route registration, request
// handlers and error translation.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tallyhq/tally/pkg/httputil"
	"github.com/tallyhq/tally/pkg/middleware"
	"github.com/tallyhq/tally/pkg/observability"
	"github.com/tallyhq/tally/pkg/plans"
	"github.com/tallyhq/tally/pkg/subscriptions"
)

// SubscriptionHandlers handles subscription and usage HTTP requests
type SubscriptionHandlers struct {
	subs    subscriptions.Service
	catalog plans.Catalog
	logger  *observability.Logger
}

// NewSubscriptionHandlers creates subscription handlers
func NewSubscriptionHandlers(subs subscriptions.Service, catalog plans.Catalog, logger *observability.Logger) *SubscriptionHandlers {
	return &SubscriptionHandlers{
		subs:    subs,
		catalog: catalog,
		logger:  logger,
	}
}

// RegisterRoutes registers subscription routes. authn wraps the
// authenticated endpoints; plan listing is public.
func (h *SubscriptionHandlers) RegisterRoutes(router *mux.Router, authn func(http.Handler) http.Handler) {
	router.HandleFunc("/subscriptions/plans", h.ListPlans).Methods("GET")
	router.Handle("/subscriptions/current", authn(http.HandlerFunc(h.GetCurrent))).Methods("GET")
	router.Handle("/subscriptions/update", authn(http.HandlerFunc(h.UpdateSubscription))).Methods("POST")
	router.Handle("/subscriptions/calculate", authn(http.HandlerFunc(h.RecordCalculation))).Methods("POST")
}

// ListPlans returns all plans ordered by ascending price
func (h *SubscriptionHandlers) ListPlans(w http.ResponseWriter, r *http.Request) {
	allPlans, err := h.catalog.ListPlans(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("failed to list plans")
		httputil.WriteInternalError(w, errors.New("failed to list plans"))
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"plans": allPlans,
	})
}

// GetCurrent returns the user's reconciled active subscription with its
// plan and live usage count, provisioning the free plan if needed.
func (h *SubscriptionHandlers) GetCurrent(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUser(w, r)
	if !ok {
		return
	}

	current, err := h.subs.GetCurrent(r.Context(), userID)
	if err != nil {
		h.writeSubscriptionError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, current)
}

type updateSubscriptionRequest struct {
	PlanID int64 `json:"plan_id"`
}

type updateSubscriptionResponse struct {
	SubscriptionID int64      `json:"subscription_id"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date"`
}

// UpdateSubscription moves the user to a paid plan, superseding the
// current subscription.
func (h *SubscriptionHandlers) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUser(w, r)
	if !ok {
		return
	}

	var req updateSubscriptionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.PlanID, "plan_id") {
		return
	}

	sub, err := h.subs.ChangePlan(r.Context(), userID, req.PlanID)
	if err != nil {
		h.writeSubscriptionError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, updateSubscriptionResponse{
		SubscriptionID: sub.ID,
		StartDate:      sub.StartDate,
		EndDate:        sub.EndDate,
	})
}

// RecordCalculation admits one metered usage event against the user's
// quota. Denials return 403 with the usage figures.
func (h *SubscriptionHandlers) RecordCalculation(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUser(w, r)
	if !ok {
		return
	}

	receipt, err := h.subs.RecordUsage(r.Context(), userID)
	if err != nil {
		if quotaErr, isQuota := subscriptions.AsQuotaExceeded(err); isQuota {
			httputil.WriteJSON(w, http.StatusForbidden, map[string]interface{}{
				"error":              "calculation limit reached for current subscription",
				"calculations_used":  quotaErr.Used,
				"calculations_limit": quotaErr.Limit,
			})
			return
		}
		h.writeSubscriptionError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, receipt)
}

// writeSubscriptionError maps service errors to HTTP responses. Business
// failures get specific codes; configuration and store failures are
// logged and surfaced opaquely.
func (h *SubscriptionHandlers) writeSubscriptionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, plans.ErrPlanNotFound):
		httputil.WriteNotFound(w, "plan not found")
	case errors.Is(err, subscriptions.ErrFreePlanNotSelectable):
		httputil.WriteBadRequest(w, "cannot manually subscribe to free plan")
	case errors.Is(err, subscriptions.ErrSubscriptionNotFound):
		httputil.WriteNotFound(w, "subscription not found")
	default:
		observability.GetLogger(r.Context()).WithError(err).Error("subscription operation failed")
		httputil.WriteInternalError(w, errors.New("internal server error"))
	}
}
