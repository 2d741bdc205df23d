package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Service provides account registration, login and token refresh
type Service interface {
	Register(ctx context.Context, email, password string) (*User, *TokenPair, error)
	Login(ctx context.Context, email, password string) (*User, *TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	GetUser(ctx context.Context, id int64) (*User, error)
}

// PostgresService implements Service backed by PostgreSQL
type PostgresService struct {
	db     *sql.DB
	hasher *PasswordHasher
	tokens *TokenManager
}

// NewPostgresService creates the auth service
func NewPostgresService(db *sql.DB, hasher *PasswordHasher, tokens *TokenManager) *PostgresService {
	return &PostgresService{
		db:     db,
		hasher: hasher,
		tokens: tokens,
	}
}

// Register creates a new account and issues its first token pair
func (s *PostgresService) Register(ctx context.Context, email, password string) (*User, *TokenPair, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, nil, err
	}

	var user User
	user.Email = email
	user.PasswordHash = hash

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, created_at`, email, hash).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, nil, ErrEmailTaken
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, nil, err
	}

	return &user, pair, nil
}

// Login verifies credentials and issues a token pair
func (s *PostgresService) Login(ctx context.Context, email, password string) (*User, *TokenPair, error) {
	user, err := s.getByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}

	if !s.hasher.Verify(user.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(user.ID)
	if err != nil {
		return nil, nil, err
	}

	return user, pair, nil
}

// Refresh validates a refresh token and issues a fresh pair
func (s *PostgresService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.Validate(refreshToken, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	// Make sure the account still exists before minting new tokens.
	if _, err := s.GetUser(ctx, claims.UserID); err != nil {
		return nil, ErrInvalidToken
	}

	return s.tokens.IssuePair(claims.UserID)
}

// GetUser returns the user with the given id
func (s *PostgresService) GetUser(ctx context.Context, id int64) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users
		WHERE id = $1`, id).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return &user, nil
}

func (s *PostgresService) getByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at
		FROM users
		WHERE email = $1`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &user, nil
}
