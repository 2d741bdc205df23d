// Package auth provides user accounts, password hashing and JWT token
// issuance.
package auth

import (
	"errors"
	"time"
)

// User represents a registered account
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// TokenPair holds an access/refresh token pair issued at login
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// TokenType distinguishes access from refresh tokens
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

var (
	// ErrEmailTaken is returned when registering an email that exists
	ErrEmailTaken = errors.New("email already registered")
	// ErrUserNotFound is returned when a user lookup finds nothing
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned on a failed login
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidToken is returned when a JWT fails validation
	ErrInvalidToken = errors.New("invalid or expired token")
)
