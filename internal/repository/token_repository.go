package repository

import (
	"context"
	"errors"
	"time"

	"persona/backend/internal/models"
	apperrors "persona/backend/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTokenRepository is the PostgreSQL ledger.Store
type GormTokenRepository struct {
	db *gorm.DB
}

func NewGormTokenRepository(db *gorm.DB) *GormTokenRepository {
	return &GormTokenRepository{db: db}
}

// stale matches a counter that was never reset or was reset on an earlier day
const stale = "(last_reset_date IS NULL OR last_reset_date < ?)"

// Spend runs UPDATE ... SET balance = balance - ? WHERE user_id = ? AND balance >= ? RETURNING balance
func (r *GormTokenRepository) Spend(ctx context.Context, userID string, amount int) (int, bool, error) {
	var row models.UserTokenBalance
	res := r.db.WithContext(ctx).Model(&row).
		Clauses(clause.Returning{Columns: []clause.Column{{Name: "balance"}}}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, false, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, false, nil
	}
	return row.Balance, true, nil
}

// Grant upserts the row, adding amount to an existing balance
func (r *GormTokenRepository) Grant(ctx context.Context, userID string, amount int) (int, error) {
	row := models.UserTokenBalance{UserID: userID, Balance: amount, UpdatedAt: time.Now()}
	err := r.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"balance":    gorm.Expr("user_token_balances.balance + EXCLUDED.balance"),
				"updated_at": gorm.Expr("EXCLUDED.updated_at"),
			}),
		},
		clause.Returning{Columns: []clause.Column{{Name: "balance"}}},
	).Create(&row).Error
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return 0, apperrors.NotFoundf("user %s", userID)
	}
	if err != nil {
		return 0, err
	}
	return row.Balance, nil
}

func (r *GormTokenRepository) Get(ctx context.Context, userID string) (*models.UserTokenBalance, error) {
	var row models.UserTokenBalance
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		return nil, notFound(err, "token balance of %s", userID)
	}
	return &row, nil
}

// EnsureAccount inserts the row with ON CONFLICT DO NOTHING
func (r *GormTokenRepository) EnsureAccount(ctx context.Context, userID string, initial int) (bool, error) {
	row := models.UserTokenBalance{UserID: userID, Balance: initial, UpdatedAt: time.Now()}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ConsumeDailyFree resets a stale counter and consumes in the same statement.
// Every placeholder sits next to a typed column so PostgreSQL infers an
// integer or date parameter; the caller rejects amount > maxDaily.
func (r *GormTokenRepository) ConsumeDailyFree(ctx context.Context, userID string, amount, maxDaily int, today time.Time) (bool, error) {
	if amount > maxDaily {
		return false, nil
	}
	res := r.db.WithContext(ctx).Model(&models.UserTokenBalance{}).
		Where("user_id = ?", userID).
		Where("("+stale+" OR daily_tokens_used + ? <= ?)", today, amount, maxDaily).
		Updates(map[string]any{
			"daily_tokens_used": gorm.Expr("CASE WHEN "+stale+" THEN ? ELSE daily_tokens_used + ? END", today, amount, amount),
			"last_reset_date":   today,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *GormTokenRepository) RefundDailyFree(ctx context.Context, userID string, amount int, today time.Time) error {
	return r.db.WithContext(ctx).Model(&models.UserTokenBalance{}).
		Where("user_id = ? AND last_reset_date = ?", userID, today).
		Updates(map[string]any{
			"daily_tokens_used": gorm.Expr("GREATEST(daily_tokens_used - ?, 0)", amount),
			"updated_at":        time.Now(),
		}).Error
}

// ResetDailyIfDue only matches a stale row, so a second caller on the same day updates nothing
func (r *GormTokenRepository) ResetDailyIfDue(ctx context.Context, userID string, today time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.UserTokenBalance{}).
		Where("user_id = ? AND "+stale, userID, today).
		Updates(map[string]any{
			"daily_tokens_used": 0,
			"last_reset_date":   today,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
