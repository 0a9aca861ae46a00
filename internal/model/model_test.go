package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTick() *Tick {
	t := NewTick("IF2401", "CFFEX", time.Now().UTC(), decimal.NewFromFloat(3500.0))
	t.Volume = 10000
	t.Turnover = decimal.NewFromInt(35_000_000)
	t.BidPrice1 = decimal.NewFromFloat(3499.8)
	t.AskPrice1 = decimal.NewFromFloat(3500.2)
	t.GatewayName = "ctp_market"
	return t
}

func TestTickValidateOK(t *testing.T) {
	tick := validTick()
	ok, errs := tick.Validate(0)
	assert.True(t, ok)
	assert.Empty(t, errs)
	assert.Equal(t, StatusValid, tick.Status)
}

func TestTickValidateInvalidPrice(t *testing.T) {
	tick := validTick()
	tick.LastPrice = decimal.NewFromInt(-1)
	tick.Volume = 100

	ok, errs := tick.Validate(0)
	assert.False(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "invalid price: -1", errs[0])
	assert.Equal(t, StatusInvalid, tick.Status)
}

func TestTickValidatePreOpenZeroRow(t *testing.T) {
	tick := validTick()
	tick.LastPrice = decimal.Zero
	tick.Volume = 0

	ok, errs := tick.Validate(0)
	assert.True(t, ok)
	assert.Empty(t, errs)
	assert.Equal(t, StatusValid, tick.Status)
}

func TestTickValidateEmptySymbolAndExchange(t *testing.T) {
	tick := validTick()
	tick.Symbol = ""
	tick.Exchange = "NYSE"

	ok, errs := tick.Validate(0)
	assert.False(t, ok)
	assert.Len(t, errs, 2)
	assert.Equal(t, StatusInvalid, tick.Status)
}

func TestTickValidateStale(t *testing.T) {
	tick := validTick()
	tick.Timestamp = time.Now().UTC().Add(-2 * time.Hour)

	ok, errs := tick.Validate(time.Hour)
	assert.False(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, StatusStale, tick.Status)

	// A stale tick with a hard failure on top is INVALID, not STALE.
	tick2 := validTick()
	tick2.Timestamp = time.Now().UTC().Add(-2 * time.Hour)
	tick2.LastPrice = decimal.Zero
	tick2.Volume = 10
	ok, _ = tick2.Validate(time.Hour)
	assert.False(t, ok)
	assert.Equal(t, StatusInvalid, tick2.Status)
}

func TestTickLatency(t *testing.T) {
	tick := validTick()
	tick.Timestamp = time.Now().UTC().Add(-time.Millisecond)
	tick.LocalTimestamp = time.Now().UTC()
	assert.GreaterOrEqual(t, tick.LatencyUs(), int64(0))
	assert.Less(t, tick.LatencyUs(), int64(1_000_000))
}

func TestTickUniqueID(t *testing.T) {
	tick := validTick()
	uid := tick.UniqueID()
	require.Len(t, uid, 16)
	for _, c := range uid {
		assert.Contains(t, "0123456789abcdef", string(c))
	}
	// Same symbol+timestamp yields the same id.
	other := *tick
	other.LastPrice = decimal.NewFromInt(1)
	assert.Equal(t, uid, other.UniqueID())
	// A different timestamp changes it.
	other.Timestamp = tick.Timestamp.Add(time.Microsecond)
	assert.NotEqual(t, uid, other.UniqueID())
}

func TestTickMapRoundTrip(t *testing.T) {
	tick := validTick()
	ok, _ := tick.Validate(0)
	require.True(t, ok)
	// Pin the instants after validating so the map assertions below are
	// deterministic; staleness checks against the wall clock.
	tick.Timestamp = time.Date(2024, 1, 15, 2, 30, 0, 500_000_000, time.UTC)
	tick.LocalTimestamp = tick.Timestamp.Add(1500 * time.Microsecond)

	m := tick.ToMap()
	assert.Equal(t, "3500", m["last_price"])
	assert.Equal(t, "VALID", m["status"])
	assert.Equal(t, "2024-01-15T02:30:00.500000Z", m["timestamp"])

	back, err := TickFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, tick.Symbol, back.Symbol)
	assert.Equal(t, tick.Exchange, back.Exchange)
	assert.True(t, tick.Timestamp.Equal(back.Timestamp))
	assert.True(t, tick.LocalTimestamp.Equal(back.LocalTimestamp))
	assert.True(t, tick.LastPrice.Equal(back.LastPrice))
	assert.True(t, tick.BidPrice1.Equal(back.BidPrice1))
	assert.True(t, tick.AskPrice1.Equal(back.AskPrice1))
	assert.Equal(t, tick.Volume, back.Volume)
	assert.Equal(t, tick.Status, back.Status)
}

func TestDepthDerived(t *testing.T) {
	d := &Depth{
		Symbol:   "IF2401",
		Exchange: "CFFEX",
		Bids: []PriceLevel{
			{Price: decimal.NewFromFloat(3499.8), Volume: 10},
			{Price: decimal.NewFromFloat(3499.6), Volume: 20},
		},
		Asks: []PriceLevel{
			{Price: decimal.NewFromFloat(3500.2), Volume: 5},
			{Price: decimal.NewFromFloat(3500.4), Volume: 8},
		},
	}
	assert.True(t, d.BidPrice1().Equal(decimal.NewFromFloat(3499.8)))
	assert.True(t, d.AskPrice1().Equal(decimal.NewFromFloat(3500.2)))
	assert.True(t, d.Spread().Equal(decimal.NewFromFloat(0.4)))

	empty := &Depth{}
	assert.True(t, empty.Spread().IsZero())
	assert.True(t, empty.BidPrice1().IsZero())
}

func TestBarValidate(t *testing.T) {
	bar := &Bar{
		Open:  decimal.NewFromInt(100),
		High:  decimal.NewFromInt(110),
		Low:   decimal.NewFromInt(95),
		Close: decimal.NewFromInt(105),
	}
	ok, errs := bar.Validate()
	assert.True(t, ok)
	assert.Empty(t, errs)

	bar.High = decimal.NewFromInt(90)
	ok, errs = bar.Validate()
	assert.False(t, ok)
	assert.NotEmpty(t, errs)
}

func TestBarPeriodTruncate(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 37, 42, 123456000, time.UTC)

	assert.Equal(t, time.Date(2024, 1, 15, 10, 37, 0, 0, time.UTC), Minute1.Truncate(ts))
	assert.Equal(t, time.Date(2024, 1, 15, 10, 35, 0, 0, time.UTC), Minute5.Truncate(ts))
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), Minute15.Truncate(ts))
	assert.Equal(t, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC), Minute30.Truncate(ts))
	assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), Hour1.Truncate(ts))
	// 10:37 UTC is 18:37 in Shanghai; the daily boundary is local midnight,
	// which is 16:00 UTC the previous day.
	assert.Equal(t, time.Date(2024, 1, 14, 16, 0, 0, 0, time.UTC), Daily.Truncate(ts))
}

func TestDataStatusNames(t *testing.T) {
	assert.Equal(t, "VALID", StatusValid.String())
	assert.Equal(t, "FILTERED", StatusFiltered.String())
	s, err := ParseDataStatus("STALE")
	require.NoError(t, err)
	assert.Equal(t, StatusStale, s)
	_, err = ParseDataStatus("NOPE")
	assert.Error(t, err)
}
