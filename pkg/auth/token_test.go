package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidatePair(t *testing.T) {
	tm := NewTokenManager("test-secret", 15*time.Minute, 30*24*time.Hour)

	pair, err := tm.IssuePair(42)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := tm.Validate(pair.AccessToken, TokenTypeAccess)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, TokenTypeAccess, claims.TokenType)

	claims, err = tm.Validate(pair.RefreshToken, TokenTypeRefresh)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
}

func TestValidateRejectsWrongType(t *testing.T) {
	tm := NewTokenManager("test-secret", 15*time.Minute, 30*24*time.Hour)

	pair, err := tm.IssuePair(1)
	require.NoError(t, err)

	_, err = tm.Validate(pair.RefreshToken, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tm.Validate(pair.AccessToken, TokenTypeRefresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	tm := NewTokenManager("secret-a", 15*time.Minute, time.Hour)
	other := NewTokenManager("secret-b", 15*time.Minute, time.Hour)

	pair, err := tm.IssuePair(1)
	require.NoError(t, err)

	_, err = other.Validate(pair.AccessToken, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsExpired(t *testing.T) {
	tm := NewTokenManager("test-secret", -time.Minute, time.Hour)

	pair, err := tm.IssuePair(7)
	require.NoError(t, err)

	_, err = tm.Validate(pair.AccessToken, TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateRejectsGarbage(t *testing.T) {
	tm := NewTokenManager("test-secret", time.Minute, time.Hour)

	_, err := tm.Validate("not-a-jwt", TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPasswordHasher(t *testing.T) {
	hasher := NewPasswordHasher(4) // low cost for test speed

	hash, err := hasher.Hash("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", hash)

	assert.True(t, hasher.Verify(hash, "hunter2"))
	assert.False(t, hasher.Verify(hash, "wrong"))
}
