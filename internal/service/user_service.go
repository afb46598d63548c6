package service

import (
	"context"
	"fmt"
	"time"

	"persona/backend/internal/ledger"
	"persona/backend/internal/models"
	"persona/backend/internal/repository"
	"persona/backend/pkg/cache"
	apperrors "persona/backend/pkg/errors"
	"persona/backend/pkg/jwt"
	"persona/backend/pkg/logger"
)

// UserService provisions users known from identity-provider tokens
type UserService struct {
	repo        repository.UserRepository
	ledger      *ledger.Ledger
	cache       cache.Cache
	cacheTTL    time.Duration
	signupGrant int
}

func NewUserService(repo repository.UserRepository, l *ledger.Ledger, c cache.Cache, cacheTTL time.Duration, signupGrant int) *UserService {
	if c == nil {
		c = cache.Noop{}
	}
	if cacheTTL <= 0 {
		cacheTTL = cachedTTL
	}
	return &UserService{repo: repo, ledger: l, cache: c, cacheTTL: cacheTTL, signupGrant: signupGrant}
}

// EnsureUser upserts the user named by the claims and opens their token
// account with the signup grant. The result is cached so the upsert runs
// once per user per TTL.
func (s *UserService) EnsureUser(ctx context.Context, claims *jwt.JWTClaims) (*models.User, error) {
	userID := claims.UserID()
	if userID == "" {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, jwt.ErrMissingUser)
	}

	key := cache.UserKey(userID)
	var cached models.User
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit &&
		cached.Email == claims.Email && cached.Name == claims.Name {
		return &cached, nil
	}

	user := &models.User{ID: userID, Email: claims.Email, Name: claims.Name}
	if err := s.repo.Upsert(ctx, user); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	created, err := s.ledger.EnsureAccount(ctx, userID, s.signupGrant)
	if err != nil {
		return nil, err
	}
	if created {
		logger.FromContext(ctx).Info("User provisioned", "user_id", userID, "signup_grant", s.signupGrant)
	}

	if err := s.cache.Set(ctx, key, user, s.cacheTTL); err != nil {
		logger.FromContext(ctx).LogError(err, "Cache write failed", "key", key)
	}
	return user, nil
}

func (s *UserService) GetUser(ctx context.Context, userID string) (*models.User, error) {
	return s.repo.GetByID(ctx, userID)
}
