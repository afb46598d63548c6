package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-for-unit-tests"

func TestValidateToken(t *testing.T) {
	svc := NewService(testSecret, "", "")

	token, err := svc.GenerateToken("user-1", "u1@example.com", RoleUser, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "u1@example.com", claims.Email)
	assert.True(t, claims.HasRole(RoleUser))
	assert.False(t, claims.HasRole(RoleAdmin))
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewService(testSecret, "issuer-a", "")

	t.Run("expired", func(t *testing.T) {
		token, err := svc.GenerateToken("user-1", "", RoleUser, -time.Minute)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewService("another-secret-entirely", "issuer-a", "")
		token, err := other.GenerateToken("user-1", "", RoleUser, time.Hour)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := NewService(testSecret, "issuer-b", "")
		token, err := other.GenerateToken("user-1", "", RoleUser, time.Hour)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("missing subject", func(t *testing.T) {
		token, err := svc.GenerateToken("", "", RoleUser, time.Hour)
		require.NoError(t, err)
		_, err = svc.ValidateToken(token)
		assert.ErrorIs(t, err, ErrMissingUser)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := svc.ValidateToken("not-a-token")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestAdminHoldsEveryRole(t *testing.T) {
	claims := &JWTClaims{Role: RoleAdmin}
	assert.True(t, claims.HasRole(RoleUser))
	assert.True(t, claims.HasRole(RoleAdmin))

	anonymousRole := &JWTClaims{}
	assert.True(t, anonymousRole.HasRole(RoleUser))
}
