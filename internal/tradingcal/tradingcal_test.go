package tradingcal

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chinaTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04:05", value, ChinaTZ())
	require.NoError(t, err)
	return ts
}

func TestIsTradingTime(t *testing.T) {
	cases := []struct {
		name string
		at   string
		want bool
	}{
		{"day session open", "2024-01-15 09:00:00", true},
		{"day session mid", "2024-01-15 10:30:00", true},
		{"day session close", "2024-01-15 15:00:00", true},
		{"afternoon gap", "2024-01-15 16:30:00", false},
		{"night session start", "2024-01-15 21:00:00", true},
		{"night session past midnight", "2024-01-16 01:45:00", true},
		{"night session end", "2024-01-16 02:30:00", true},
		{"after night session", "2024-01-16 03:00:00", false},
		{"pre-open", "2024-01-15 08:30:00", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTradingTime(chinaTime(t, tc.at)))
		})
	}
}

func TestTradingDay(t *testing.T) {
	// Monday 21:30 belongs to Tuesday's trading day.
	assert.Equal(t, "20240116", TradingDay(chinaTime(t, "2024-01-15 21:30:00")))
	// 01:00 is still the same calendar date's trading day.
	assert.Equal(t, "20240116", TradingDay(chinaTime(t, "2024-01-16 01:00:00")))
	// Plain day session.
	assert.Equal(t, "20240115", TradingDay(chinaTime(t, "2024-01-15 10:30:00")))
}

func TestValidateTimestamp(t *testing.T) {
	now := time.Now().UTC()

	ok, reason := ValidateTimestamp(now, now)
	assert.True(t, ok)
	assert.Equal(t, "valid", reason)

	ok, reason = ValidateTimestamp(now.Add(2*time.Minute), now)
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(reason, "future_timestamp"))

	ok, reason = ValidateTimestamp(now.Add(-2*time.Hour), now)
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(reason, "stale_timestamp"))

	// Edges of the acceptance window.
	ok, _ = ValidateTimestamp(now.Add(MaxFutureSeconds*time.Second), now)
	assert.True(t, ok)
	ok, _ = ValidateTimestamp(now.Add(-MaxPastSeconds*time.Second), now)
	assert.True(t, ok)
}

func TestParseExchangeTimestamp(t *testing.T) {
	ts, err := ParseExchangeTimestamp("20240115", "10:30:00", 500)
	require.NoError(t, err)

	// 10:30:00.500 Asia/Shanghai == 02:30:00.500 UTC.
	assert.Equal(t, time.Date(2024, 1, 15, 2, 30, 0, 500_000_000, time.UTC), ts)

	_, err = ParseExchangeTimestamp("2024011", "10:30:00", 0)
	assert.Error(t, err)
	_, err = ParseExchangeTimestamp("20240115", "25:99:00", 0)
	assert.Error(t, err)
}
