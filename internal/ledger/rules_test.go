package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestShouldResetDailyTokens(t *testing.T) {
	last := at("2024-05-01T23:59:00Z")

	assert.True(t, ShouldResetDailyTokens(nil, at("2024-05-01T10:00:00Z")))
	assert.False(t, ShouldResetDailyTokens(&last, at("2024-05-01T23:59:30Z")))
	// calendar boundary, not a rolling 24h window
	assert.True(t, ShouldResetDailyTokens(&last, at("2024-05-02T00:01:00Z")))
}

func TestShouldResetDailyTokensSameDayIsStable(t *testing.T) {
	last := at("2024-05-01T08:00:00Z")
	now := at("2024-05-01T20:00:00Z")

	assert.False(t, ShouldResetDailyTokens(&last, now))
	assert.False(t, ShouldResetDailyTokens(&last, now))
}

func TestShouldResetDailyTokensUsesUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// 2024-05-02 07:00 JST is still 2024-05-01 in UTC
	last := time.Date(2024, 5, 2, 7, 0, 0, 0, tokyo)
	assert.False(t, ShouldResetDailyTokens(&last, at("2024-05-01T23:00:00Z")))
}

func TestCalculateDailyFreeTokensRemaining(t *testing.T) {
	last := at("2024-05-01T08:00:00Z")

	cases := []struct {
		name     string
		used     int
		last     *time.Time
		maxDaily int
		now      time.Time
		want     DailyAllowance
	}{
		{"same day", 5, &last, 20, at("2024-05-01T12:00:00Z"), DailyAllowance{Remaining: 15, EffectiveUsed: 5}},
		{"stale counter", 18, &last, 20, at("2024-05-02T00:00:00Z"), DailyAllowance{Remaining: 20, ShouldReset: true}},
		{"never reset", 7, nil, 20, at("2024-05-01T12:00:00Z"), DailyAllowance{Remaining: 20, ShouldReset: true}},
		{"over the cap", 25, &last, 20, at("2024-05-01T12:00:00Z"), DailyAllowance{Remaining: 0, EffectiveUsed: 25}},
		{"no allowance", 0, &last, 0, at("2024-05-01T12:00:00Z"), DailyAllowance{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CalculateDailyFreeTokensRemaining(tc.used, tc.last, tc.maxDaily, tc.now))
		})
	}
}
