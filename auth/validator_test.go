package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(Config{Secret: "test-secret", Issuer: "ai-gateway"})
	require.NoError(t, err)
	return v
}

func TestNewValidator(t *testing.T) {
	t.Run("requires secret", func(t *testing.T) {
		_, err := NewValidator(Config{})
		assert.Error(t, err)
	})

	t.Run("valid config", func(t *testing.T) {
		v, err := NewValidator(Config{Secret: "s"})
		require.NoError(t, err)
		assert.NotNil(t, v)
	})
}

func TestValidateToken(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		token, err := v.IssueToken("user-1", "user@example.com", []string{"admin"}, time.Hour)
		require.NoError(t, err)

		claims, err := v.ValidateToken(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "user-1", claims.Sub)
		assert.Equal(t, "user@example.com", claims.Email)
		assert.Equal(t, []string{"admin"}, claims.Groups)
		assert.Equal(t, "ai-gateway", claims.Iss)
		assert.Greater(t, claims.Exp, time.Now().Unix())
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := v.IssueToken("user-1", "user@example.com", nil, -time.Hour)
		require.NoError(t, err)

		_, err = v.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewValidator(Config{Secret: "other-secret", Issuer: "ai-gateway"})
		require.NoError(t, err)

		token, err := other.IssueToken("user-1", "user@example.com", nil, time.Hour)
		require.NoError(t, err)

		_, err = v.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, err := NewValidator(Config{Secret: "test-secret", Issuer: "someone-else"})
		require.NoError(t, err)

		token, err := other.IssueToken("user-1", "user@example.com", nil, time.Hour)
		require.NoError(t, err)

		_, err = v.ValidateToken(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidIssuer)
	})

	t.Run("wrong signing method", func(t *testing.T) {
		// Tokens signed with "none" must be rejected
		token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = v.ValidateToken(ctx, signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := v.ValidateToken(ctx, "not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
