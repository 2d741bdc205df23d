// Package contextkeys centralizes the context keys shared across the
// application so middleware and handlers agree on what travels in a
// request context.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserIDKey contains the authenticated user's id (int64).
	// Set by: middleware.AuthMiddleware after JWT validation.
	UserIDKey Key = "user_id"

	// RequestIDKey contains the request ID string (UUID).
	// Set by: httputil.RequestIDMiddleware.
	RequestIDKey Key = "request_id"

	// LoggerKey contains a *observability.Logger scoped to the request.
	LoggerKey Key = "logger"
)

// WithUserID adds the authenticated user id to the context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves the authenticated user id from context.
// The second return is false when no user is authenticated.
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context.
// The second return is false when no request ID is set.
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(RequestIDKey).(string)
	return requestID, ok
}

// WithLogger adds a logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}
