// Package tradingcal handles China futures market time: Asia/Shanghai
// conversion, session windows and trading-day resolution.
package tradingcal

import (
	"fmt"
	"time"
)

// Session windows for China futures (exchange local time). The night
// session runs past midnight into the next calendar day.
const (
	daySessionStartHour   = 9
	daySessionEndHour     = 15
	nightSessionStartHour = 21
	nightSessionEndHour   = 2
	nightSessionEndMin    = 30
)

// Timestamp acceptance window relative to the reference clock.
const (
	MaxFutureSeconds = 60
	MaxPastSeconds   = 3600
)

var chinaTZ = mustLoadChinaTZ()

func mustLoadChinaTZ() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		// CST has no DST; a fixed offset is an exact fallback for hosts
		// without tzdata.
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}

// ChinaTZ returns the exchange time zone.
func ChinaTZ() *time.Location {
	return chinaTZ
}

// ToChinaTime converts t to exchange local time.
func ToChinaTime(t time.Time) time.Time {
	return t.In(chinaTZ)
}

// IsTradingTime reports whether t falls inside the day session
// (09:00-15:00) or the night session (21:00-02:30 next day).
func IsTradingTime(t time.Time) bool {
	local := ToChinaTime(t)
	h, m := local.Hour(), local.Minute()

	if h >= daySessionStartHour && (h < daySessionEndHour || (h == daySessionEndHour && m == 0)) {
		return true
	}
	if h >= nightSessionStartHour {
		return true
	}
	if h < nightSessionEndHour || (h == nightSessionEndHour && m <= nightSessionEndMin) {
		return true
	}
	return false
}

// TradingDay returns the trading day label (YYYYMMDD) for t. Activity at
// or after 21:00 exchange time is booked to the next calendar date.
func TradingDay(t time.Time) string {
	local := ToChinaTime(t)
	if local.Hour() >= nightSessionStartHour {
		local = local.AddDate(0, 0, 1)
	}
	return local.Format("20060102")
}

// ValidateTimestamp checks ts against reference: at most MaxFutureSeconds
// ahead and MaxPastSeconds behind. Returns a reason string on rejection.
func ValidateTimestamp(ts, reference time.Time) (bool, string) {
	diff := ts.Sub(reference).Seconds()
	if diff > MaxFutureSeconds {
		return false, fmt.Sprintf("future_timestamp: %.1fs ahead", diff)
	}
	if diff < -MaxPastSeconds {
		return false, fmt.Sprintf("stale_timestamp: %.1fs old", -diff)
	}
	return true, "valid"
}

// ParseExchangeTimestamp composes a UTC timestamp from the raw CTP fields:
// TradingDay (YYYYMMDD), UpdateTime (HH:MM:SS) and UpdateMillisec,
// interpreted in exchange local time.
func ParseExchangeTimestamp(tradingDay, updateTime string, millisec int) (time.Time, error) {
	t, err := time.ParseInLocation("20060102 15:04:05", tradingDay+" "+updateTime, chinaTZ)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse exchange timestamp %q %q: %w", tradingDay, updateTime, err)
	}
	return t.Add(time.Duration(millisec) * time.Millisecond).UTC(), nil
}
