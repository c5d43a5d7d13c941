package services

import (
	"testing"
	"time"

	"ringline/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	auth := NewAuthService("test-secret", "ringline", time.Hour)

	token, err := auth.GenerateToken("alice", "Alice")
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.IdentityID("alice"), claims.Identity)
	assert.Equal(t, "Alice", claims.Name)
	assert.Equal(t, "alice", claims.Subject)
}

func TestAuthService_Rejects(t *testing.T) {
	auth := NewAuthService("test-secret", "ringline", time.Hour)

	t.Run("expired", func(t *testing.T) {
		expired := NewAuthService("test-secret", "ringline", -time.Minute)
		token, err := expired.GenerateToken("alice", "")
		require.NoError(t, err)

		_, err = auth.ValidateToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewAuthService("other-secret", "ringline", time.Hour)
		token, err := other.GenerateToken("alice", "")
		require.NoError(t, err)

		_, err = auth.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewAuthService("test-secret", "someone-else", time.Hour)
		token, err := other.GenerateToken("alice", "")
		require.NoError(t, err)

		_, err = auth.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing identity", func(t *testing.T) {
		token, err := auth.GenerateToken("", "")
		require.NoError(t, err)

		_, err = auth.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unsigned token", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Identity: "alice"})
		raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = auth.ValidateToken(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := auth.ValidateToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
