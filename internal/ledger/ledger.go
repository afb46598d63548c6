// Package ledger implements the per-user token balance: atomic conditional
// spend, grants, and a free daily allowance reset by UTC calendar day.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"persona/backend/internal/models"
	apperrors "persona/backend/pkg/errors"
	"persona/backend/pkg/logger"
	"persona/backend/pkg/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CodeInsufficientTokens is the failure code of a spend the balance cannot cover
const CodeInsufficientTokens = "INSUFFICIENT_TOKENS"

// ErrInsufficientTokens is returned by Charge when neither the daily
// allowance nor the balance can pay
var ErrInsufficientTokens = fmt.Errorf("%w: %s", apperrors.ErrInsufficientBalance, CodeInsufficientTokens)

// Store persists ledger rows. Every mutating method is a single conditional
// statement; none of them reads before writing.
type Store interface {
	// Spend decrements the balance by amount if it is at least amount
	Spend(ctx context.Context, userID string, amount int) (balanceAfter int, ok bool, err error)
	// Grant increments the balance, creating the row if needed
	Grant(ctx context.Context, userID string, amount int) (balanceAfter int, err error)
	// Get returns the row, or an error wrapping apperrors.ErrNotFound
	Get(ctx context.Context, userID string) (*models.UserTokenBalance, error)
	// EnsureAccount inserts a row with the initial balance unless one exists
	EnsureAccount(ctx context.Context, userID string, initial int) (created bool, err error)
	// ConsumeDailyFree adds amount to today's usage, resetting a stale
	// counter first, only if the result stays within maxDaily
	ConsumeDailyFree(ctx context.Context, userID string, amount, maxDaily int, today time.Time) (bool, error)
	// RefundDailyFree gives back amount of today's usage
	RefundDailyFree(ctx context.Context, userID string, amount int, today time.Time) error
	// ResetDailyIfDue zeroes a stale counter and reports whether it did
	ResetDailyIfDue(ctx context.Context, userID string, today time.Time) (bool, error)
}

// SpendResult is the outcome of Spend
type SpendResult struct {
	Success      bool   `json:"success"`
	BalanceAfter int    `json:"balance_after"`
	Error        string `json:"error,omitempty"`
}

// Source names what paid for a metered action
type Source string

// Charge sources
const (
	SourceNone      Source = "none"
	SourceDailyFree Source = "daily_free"
	SourceBalance   Source = "balance"
)

// ChargeResult is the outcome of Charge
type ChargeResult struct {
	Source       Source `json:"source"`
	Amount       int    `json:"amount"`
	BalanceAfter int    `json:"balance_after"`
}

// Status is the ledger state shown to a user
type Status struct {
	Balance   int            `json:"balance"`
	MaxDaily  int            `json:"max_daily"`
	Daily     DailyAllowance `json:"daily"`
	NextReset time.Time      `json:"next_reset"`
}

// Ledger applies the token rules on top of a Store
type Ledger struct {
	store  Store
	now    func() time.Time
	log    *logger.Logger
	tracer trace.Tracer
}

// New creates a ledger over store
func New(store Store, log *logger.Logger) *Ledger {
	return &Ledger{
		store:  store,
		now:    time.Now,
		log:    log.WithComponent("ledger"),
		tracer: otel.Tracer("persona/backend/internal/ledger"),
	}
}

func (l *Ledger) start(ctx context.Context, op, userID string) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attribute.String("user.id", userID)))
}

func finish(span trace.Span, op, outcome string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		outcome = "error"
	}
	metrics.LedgerOperations.WithLabelValues(op, outcome).Inc()
	span.End()
}

// Spend deducts amount from the balance in one conditional update. A
// non-positive amount is a successful no-op. Failure is final; there are no
// retries.
func (l *Ledger) Spend(ctx context.Context, userID string, amount int) (res SpendResult, err error) {
	ctx, span := l.start(ctx, "spend", userID)
	outcome := "ok"
	defer func() { finish(span, "spend", outcome, err) }()

	if amount <= 0 {
		outcome = "noop"
		balance, err := l.Balance(ctx, userID)
		if err != nil {
			return SpendResult{}, err
		}
		return SpendResult{Success: true, BalanceAfter: balance}, nil
	}

	balance, ok, err := l.store.Spend(ctx, userID, amount)
	if err != nil {
		return SpendResult{}, fmt.Errorf("spend tokens: %w", err)
	}
	if !ok {
		outcome = "insufficient"
		return SpendResult{Success: false, Error: CodeInsufficientTokens}, nil
	}

	metrics.TokensSpent.WithLabelValues(string(SourceBalance)).Add(float64(amount))
	return SpendResult{Success: true, BalanceAfter: balance}, nil
}

// Grant adds amount to the balance
func (l *Ledger) Grant(ctx context.Context, userID string, amount int, reason string) (balance int, err error) {
	ctx, span := l.start(ctx, "grant", userID)
	defer func() { finish(span, "grant", "ok", err) }()

	if amount <= 0 {
		return 0, apperrors.Validationf("grant amount must be positive, got %d", amount)
	}
	balance, err = l.store.Grant(ctx, userID, amount)
	if err != nil {
		return 0, fmt.Errorf("grant tokens: %w", err)
	}

	logger.FromContext(ctx).Info("Tokens granted",
		"user_id", userID,
		"amount", amount,
		"reason", reason,
		"balance", balance,
	)
	return balance, nil
}

// Balance returns the balance; a user without a ledger row has zero
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	row, err := l.store.Get(ctx, userID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return row.Balance, nil
}

// EnsureAccount creates the user's ledger row with an initial balance
func (l *Ledger) EnsureAccount(ctx context.Context, userID string, initial int) (bool, error) {
	if initial < 0 {
		initial = 0
	}
	created, err := l.store.EnsureAccount(ctx, userID, initial)
	if err != nil {
		return false, fmt.Errorf("ensure token account: %w", err)
	}
	if created {
		l.log.Info("Token account created", "user_id", userID, "initial", initial)
	}
	return created, nil
}

// ConsumeDailyFree takes amount from today's free allowance if it fits
func (l *Ledger) ConsumeDailyFree(ctx context.Context, userID string, amount, maxDaily int) (ok bool, err error) {
	ctx, span := l.start(ctx, "consume_daily", userID)
	outcome := "ok"
	defer func() { finish(span, "consume_daily", outcome, err) }()

	if amount <= 0 {
		outcome = "noop"
		return true, nil
	}
	if amount > maxDaily {
		outcome = "exhausted"
		return false, nil
	}

	ok, err = l.store.ConsumeDailyFree(ctx, userID, amount, maxDaily, UTCDate(l.now()))
	if err != nil {
		return false, fmt.Errorf("consume daily tokens: %w", err)
	}
	if !ok {
		outcome = "exhausted"
		return false, nil
	}
	metrics.TokensSpent.WithLabelValues(string(SourceDailyFree)).Add(float64(amount))
	return true, nil
}

// ResetDailyIfDue persists a due daily reset. It reports true for exactly
// one call per user per UTC day.
func (l *Ledger) ResetDailyIfDue(ctx context.Context, userID string) (bool, error) {
	reset, err := l.store.ResetDailyIfDue(ctx, userID, UTCDate(l.now()))
	if err != nil {
		return false, fmt.Errorf("reset daily tokens: %w", err)
	}
	return reset, nil
}

// Charge pays for a metered action. The daily allowance pays when it can
// cover the whole amount, otherwise the balance does. It returns
// ErrInsufficientTokens when neither can, leaving everything unchanged.
func (l *Ledger) Charge(ctx context.Context, userID, action string, amount, maxDaily int) (ChargeResult, error) {
	if amount <= 0 {
		return ChargeResult{Source: SourceNone}, nil
	}

	free, err := l.ConsumeDailyFree(ctx, userID, amount, maxDaily)
	if err != nil {
		return ChargeResult{}, err
	}
	if free {
		balance, err := l.Balance(ctx, userID)
		if err != nil {
			return ChargeResult{}, err
		}
		metrics.MeteredCharges.WithLabelValues(action, string(SourceDailyFree)).Inc()
		return ChargeResult{Source: SourceDailyFree, Amount: amount, BalanceAfter: balance}, nil
	}

	res, err := l.Spend(ctx, userID, amount)
	if err != nil {
		return ChargeResult{}, err
	}
	if !res.Success {
		metrics.MeteredCharges.WithLabelValues(action, string(SourceNone)).Inc()
		return ChargeResult{}, ErrInsufficientTokens
	}
	metrics.MeteredCharges.WithLabelValues(action, string(SourceBalance)).Inc()
	return ChargeResult{Source: SourceBalance, Amount: amount, BalanceAfter: res.BalanceAfter}, nil
}

// Refund reverses a charge whose action could not be performed
func (l *Ledger) Refund(ctx context.Context, userID string, charge ChargeResult, reason string) error {
	switch charge.Source {
	case SourceBalance:
		_, err := l.Grant(ctx, userID, charge.Amount, reason)
		return err
	case SourceDailyFree:
		if err := l.store.RefundDailyFree(ctx, userID, charge.Amount, UTCDate(l.now())); err != nil {
			return fmt.Errorf("refund daily tokens: %w", err)
		}
	}
	return nil
}

// Status returns the balance together with today's allowance
func (l *Ledger) Status(ctx context.Context, userID string, maxDaily int) (Status, error) {
	now := l.now()
	status := Status{
		MaxDaily:  maxDaily,
		NextReset: UTCDate(now).AddDate(0, 0, 1),
	}

	row, err := l.store.Get(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status.Daily = CalculateDailyFreeTokensRemaining(0, nil, maxDaily, now)
		return status, nil
	case err != nil:
		return Status{}, fmt.Errorf("read token status: %w", err)
	}

	status.Balance = row.Balance
	status.Daily = CalculateDailyFreeTokensRemaining(row.DailyTokensUsed, row.LastResetDate, maxDaily, now)
	return status, nil
}
