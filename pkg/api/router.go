package api

import (
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"

	"github.com/tallyhq/tally/pkg/auth"
	"github.com/tallyhq/tally/pkg/config"
	"github.com/tallyhq/tally/pkg/httputil"
	"github.com/tallyhq/tally/pkg/middleware"
	"github.com/tallyhq/tally/pkg/observability"
	"github.com/tallyhq/tally/pkg/plans"
	"github.com/tallyhq/tally/pkg/subscriptions"
)

// RouterDeps carries the services and plumbing the router wires up
type RouterDeps struct {
	Config        *config.Config
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	TokenManager  *auth.TokenManager
	AuthService   auth.Service
	Catalog       plans.Catalog
	Subscriptions subscriptions.Service

	// RedisClient switches rate limiting to the distributed limiter
	// when set; nil uses the in-memory token bucket.
	RedisClient *redis.Client
}

// NewRouter builds the API router with the full middleware chain
func NewRouter(deps RouterDeps) *mux.Router {
	router := mux.NewRouter()

	authn := middleware.NewAuthMiddleware(deps.TokenManager, false).Handler

	authHandlers := NewAuthHandlers(deps.AuthService, deps.Logger)
	authHandlers.RegisterRoutes(router, authn)

	subHandlers := NewSubscriptionHandlers(deps.Subscriptions, deps.Catalog, deps.Logger)
	subHandlers.RegisterRoutes(router, authn)

	chain := []func(http.Handler) http.Handler{
		middleware.NewAuthMiddleware(deps.TokenManager, true).Handler,
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(deps.Logger),
		httputil.RecoveryMiddleware(deps.Logger),
		httputil.CORSMiddleware([]string{"*"}),
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(1 << 20),
	}

	if deps.Config.RateLimit.Enabled {
		limitCfg := &middleware.RateLimitConfig{
			RequestsPerWindow: deps.Config.RateLimit.WindowRequests,
			WindowDuration:    deps.Config.RateLimit.Window,
			BurstSize:         deps.Config.RateLimit.Burst,
		}
		if deps.RedisClient != nil {
			limiter := middleware.NewDistributedRateLimiter(deps.RedisClient, limitCfg, deps.Logger)
			chain = append(chain, limiter.Handler)
		} else {
			chain = append(chain, middleware.NewRateLimiter(limitCfg).Handler)
		}
	}

	if deps.Metrics != nil {
		router.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				path := r.URL.Path
				if route := mux.CurrentRoute(r); route != nil {
					if tmpl, err := route.GetPathTemplate(); err == nil {
						path = tmpl
					}
				}
				deps.Metrics.InstrumentHandler(path, next).ServeHTTP(w, r)
			})
		})
	}

	router.Use(httputil.Chain(chain...))

	return router
}
