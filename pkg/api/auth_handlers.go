package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/tallyhq/tally/pkg/auth"
	"github.com/tallyhq/tally/pkg/httputil"
	"github.com/tallyhq/tally/pkg/middleware"
	"github.com/tallyhq/tally/pkg/observability"
)

// AuthHandlers handles account and token HTTP requests
type AuthHandlers struct {
	auth   auth.Service
	logger *observability.Logger
}

// NewAuthHandlers creates auth handlers
func NewAuthHandlers(authService auth.Service, logger *observability.Logger) *AuthHandlers {
	return &AuthHandlers{
		auth:   authService,
		logger: logger,
	}
}

// RegisterRoutes registers auth routes. authn wraps endpoints that need
// a valid access token.
func (h *AuthHandlers) RegisterRoutes(router *mux.Router, authn func(http.Handler) http.Handler) {
	router.HandleFunc("/auth/register", h.Register).Methods("POST")
	router.HandleFunc("/auth/login", h.Login).Methods("POST")
	router.HandleFunc("/auth/refresh", h.Refresh).Methods("POST")
	router.Handle("/auth/me", authn(http.HandlerFunc(h.Me))).Methods("GET")
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User   *auth.User      `json:"user"`
	Tokens *auth.TokenPair `json:"tokens"`
}

// Register creates a new account
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}
	if len(req.Password) < 8 {
		httputil.WriteBadRequest(w, "password must be at least 8 characters")
		return
	}

	user, tokens, err := h.auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			httputil.WriteConflict(w, "email already registered")
			return
		}
		h.logger.WithError(err).Error("registration failed")
		httputil.WriteInternalError(w, errors.New("registration failed"))
		return
	}

	httputil.WriteCreated(w, authResponse{User: user, Tokens: tokens})
}

// Login verifies credentials and issues tokens
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}

	user, tokens, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			httputil.WriteUnauthorized(w, "invalid email or password")
			return
		}
		h.logger.WithError(err).Error("login failed")
		httputil.WriteInternalError(w, errors.New("login failed"))
		return
	}

	httputil.WriteSuccess(w, authResponse{User: user, Tokens: tokens})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a fresh token pair
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.RefreshToken, "refresh_token") {
		return
	}

	tokens, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}
		h.logger.WithError(err).Error("token refresh failed")
		httputil.WriteInternalError(w, errors.New("token refresh failed"))
		return
	}

	httputil.WriteSuccess(w, map[string]*auth.TokenPair{"tokens": tokens})
}

// Me returns the authenticated user's account
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.RequireUser(w, r)
	if !ok {
		return
	}

	user, err := h.auth.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			httputil.WriteNotFound(w, "user not found")
			return
		}
		h.logger.WithError(err).Error("failed to load user")
		httputil.WriteInternalError(w, errors.New("failed to load user"))
		return
	}

	httputil.WriteSuccess(w, user)
}
