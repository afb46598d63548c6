// Package ledgertest provides an in-memory ledger.Store for tests.
package ledgertest

import (
	"context"
	"sync"
	"time"

	"persona/backend/internal/models"
	apperrors "persona/backend/pkg/errors"
)

// Store keeps ledger rows in memory. Each method holds the lock for its
// whole conditional update, mirroring a single SQL statement.
type Store struct {
	mu   sync.Mutex
	rows map[string]*models.UserTokenBalance
	// Err, when set, is returned by every call
	Err error
}

// NewStore returns an empty store
func NewStore() *Store {
	return &Store{rows: make(map[string]*models.UserTokenBalance)}
}

// Seed sets a user's row directly
func (s *Store) Seed(row models.UserTokenBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[row.UserID] = &row
}

// Row returns a copy of the user's row
func (s *Store) Row(userID string) (models.UserTokenBalance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[userID]
	if !ok {
		return models.UserTokenBalance{}, false
	}
	return *r, true
}

func (s *Store) Spend(_ context.Context, userID string, amount int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, false, s.Err
	}
	r, ok := s.rows[userID]
	if !ok || r.Balance < amount {
		return 0, false, nil
	}
	r.Balance -= amount
	return r.Balance, true, nil
}

func (s *Store) Grant(_ context.Context, userID string, amount int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return 0, s.Err
	}
	r, ok := s.rows[userID]
	if !ok {
		r = &models.UserTokenBalance{UserID: userID}
		s.rows[userID] = r
	}
	r.Balance += amount
	return r.Balance, nil
}

func (s *Store) Get(_ context.Context, userID string) (*models.UserTokenBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	r, ok := s.rows[userID]
	if !ok {
		return nil, apperrors.NotFoundf("token balance of %s", userID)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) EnsureAccount(_ context.Context, userID string, initial int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	if _, ok := s.rows[userID]; ok {
		return false, nil
	}
	s.rows[userID] = &models.UserTokenBalance{UserID: userID, Balance: initial}
	return true, nil
}

func stale(r *models.UserTokenBalance, today time.Time) bool {
	return r.LastResetDate == nil || r.LastResetDate.Before(today)
}

func (s *Store) ConsumeDailyFree(_ context.Context, userID string, amount, maxDaily int, today time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	r, ok := s.rows[userID]
	if !ok || amount > maxDaily {
		return false, nil
	}
	if stale(r, today) {
		d := today
		r.LastResetDate = &d
		r.DailyTokensUsed = amount
		return true, nil
	}
	if r.DailyTokensUsed+amount > maxDaily {
		return false, nil
	}
	r.DailyTokensUsed += amount
	return true, nil
}

func (s *Store) RefundDailyFree(_ context.Context, userID string, amount int, today time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	r, ok := s.rows[userID]
	if !ok || r.LastResetDate == nil || !r.LastResetDate.Equal(today) {
		return nil
	}
	r.DailyTokensUsed -= amount
	if r.DailyTokensUsed < 0 {
		r.DailyTokensUsed = 0
	}
	return nil
}

func (s *Store) ResetDailyIfDue(_ context.Context, userID string, today time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return false, s.Err
	}
	r, ok := s.rows[userID]
	if !ok || !stale(r, today) {
		return false, nil
	}
	d := today
	r.LastResetDate = &d
	r.DailyTokensUsed = 0
	return true, nil
}
