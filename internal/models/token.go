package models

import "time"

// UserTokenBalance is the ledger row of one user
type UserTokenBalance struct {
	UserID          string     `gorm:"primaryKey;size:191" json:"user_id"`
	Balance         int        `gorm:"not null;default:0;check:chk_balance_non_negative,balance >= 0" json:"balance"`
	DailyTokensUsed int        `gorm:"not null;default:0" json:"daily_tokens_used"`
	LastResetDate   *time.Time `gorm:"type:date" json:"last_reset_date"`
	UpdatedAt       time.Time  `json:"updated_at"`

	User *User `gorm:"foreignKey:UserID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName overrides the table name
func (UserTokenBalance) TableName() string {
	return "user_token_balances"
}

// GrantTokensRequest is the body of POST /admin/tokens/grant
type GrantTokensRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount int    `json:"amount" binding:"required,min=1"`
	Reason string `json:"reason" binding:"max=200"`
}
