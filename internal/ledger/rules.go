package ledger

import "time"

// DailyAllowance is the computed state of a user's free daily tokens
type DailyAllowance struct {
	Remaining     int  `json:"remaining"`
	ShouldReset   bool `json:"should_reset"`
	EffectiveUsed int  `json:"effective_used"`
}

// UTCDate truncates t to midnight of its UTC calendar day
func UTCDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ShouldResetDailyTokens reports whether the daily counter is stale: there
// was never a reset, or the last one happened on an earlier UTC day.
func ShouldResetDailyTokens(lastReset *time.Time, now time.Time) bool {
	if lastReset == nil {
		return true
	}
	return !UTCDate(*lastReset).Equal(UTCDate(now))
}

// CalculateDailyFreeTokensRemaining computes the allowance left today. A
// stale counter counts as zero; persisting the reset is up to the caller.
func CalculateDailyFreeTokensRemaining(used int, lastReset *time.Time, maxDaily int, now time.Time) DailyAllowance {
	reset := ShouldResetDailyTokens(lastReset, now)
	effective := used
	if reset {
		effective = 0
	}
	remaining := maxDaily - effective
	if remaining < 0 {
		remaining = 0
	}
	return DailyAllowance{Remaining: remaining, ShouldReset: reset, EffectiveUsed: effective}
}
