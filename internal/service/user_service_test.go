package service

import (
	"context"
	"testing"
	"time"

	"persona/backend/internal/ledger"
	"persona/backend/internal/ledger/ledgertest"
	"persona/backend/pkg/cache"
	apperrors "persona/backend/pkg/errors"
	"persona/backend/pkg/jwt"
	"persona/backend/pkg/logger"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claimsFor(sub, email string) *jwt.JWTClaims {
	return &jwt.JWTClaims{Email: email, Name: "Alice", RegisteredClaims: gojwt.RegisteredClaims{Subject: sub}}
}

func TestEnsureUserProvisionsOnce(t *testing.T) {
	repo := &fakeUserRepo{}
	store := ledgertest.NewStore()
	svc := NewUserService(repo, ledger.New(store, logger.Discard()), cache.NewMemory(cache.Options{}), time.Minute, 100)
	ctx := context.Background()

	user, err := svc.EnsureUser(ctx, claimsFor(alice, "alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, alice, user.ID)

	_, err = svc.EnsureUser(ctx, claimsFor(alice, "alice@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 1, repo.upserts)

	row, ok := store.Row(alice)
	require.True(t, ok)
	assert.Equal(t, 100, row.Balance)

	// a changed profile is written through
	_, err = svc.EnsureUser(ctx, claimsFor(alice, "alice@new.example.com"))
	require.NoError(t, err)
	assert.Equal(t, 2, repo.upserts)
	row, _ = store.Row(alice)
	assert.Equal(t, 100, row.Balance)

	got, err := svc.GetUser(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "alice@new.example.com", got.Email)
}

func TestEnsureUserRequiresSubject(t *testing.T) {
	svc := NewUserService(&fakeUserRepo{}, ledger.New(ledgertest.NewStore(), logger.Discard()), nil, 0, 100)
	_, err := svc.EnsureUser(context.Background(), claimsFor("", "x@example.com"))
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
