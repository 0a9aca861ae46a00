// Package model defines the canonical in-process market data types: Tick,
// Depth, Bar and their validation and serialization rules. Timestamps are
// UTC with microsecond precision; prices are fixed-point decimals.
package model

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TimeLayout is the wire format for timestamps: ISO-8601 with a fixed
// six-digit fraction so microsecond precision survives round trips.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// DefaultStaleThreshold is the validation window for tick timestamps when
// no filter config overrides it.
const DefaultStaleThreshold = time.Hour

// ValidExchanges is the closed set of supported exchange codes.
var ValidExchanges = map[string]struct{}{
	"CFFEX": {}, // China Financial Futures Exchange
	"SHFE":  {}, // Shanghai Futures Exchange
	"DCE":   {}, // Dalian Commodity Exchange
	"CZCE":  {}, // Zhengzhou Commodity Exchange
	"INE":   {}, // Shanghai International Energy Exchange
	"GFEX":  {}, // Guangzhou Futures Exchange
}

// IsValidExchange reports membership in ValidExchanges.
func IsValidExchange(exchange string) bool {
	_, ok := ValidExchanges[exchange]
	return ok
}

// DataStatus classifies a record after validation.
type DataStatus int

const (
	StatusValid DataStatus = iota
	StatusStale
	StatusInvalid
	StatusFiltered
)

var statusNames = [...]string{"VALID", "STALE", "INVALID", "FILTERED"}

func (s DataStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "INVALID"
	}
	return statusNames[s]
}

// ParseDataStatus maps a status label back to its value.
func ParseDataStatus(name string) (DataStatus, error) {
	for i, n := range statusNames {
		if n == name {
			return DataStatus(i), nil
		}
	}
	return StatusInvalid, fmt.Errorf("unknown data status %q", name)
}

// BarPeriod is a bar aggregation period.
type BarPeriod int

const (
	Minute1 BarPeriod = iota
	Minute5
	Minute15
	Minute30
	Hour1
	Daily
)

var periodNames = [...]string{"1m", "5m", "15m", "30m", "1h", "1d"}

func (p BarPeriod) String() string {
	if p < 0 || int(p) >= len(periodNames) {
		return "unknown"
	}
	return periodNames[p]
}

// AllBarPeriods lists every supported period, in ascending length.
func AllBarPeriods() []BarPeriod {
	return []BarPeriod{Minute1, Minute5, Minute15, Minute30, Hour1, Daily}
}

// Truncate floors ts to the start of the period containing it. Minute
// periods zero the seconds and floor the minute; Hour1 zeroes minutes;
// Daily floors to exchange-local midnight (Asia/Shanghai) expressed in the
// original location.
func (p BarPeriod) Truncate(ts time.Time) time.Time {
	switch p {
	case Minute1:
		return ts.Truncate(time.Minute)
	case Minute5:
		return ts.Truncate(5 * time.Minute)
	case Minute15:
		return ts.Truncate(15 * time.Minute)
	case Minute30:
		return ts.Truncate(30 * time.Minute)
	case Hour1:
		return ts.Truncate(time.Hour)
	case Daily:
		local := ts.In(chinaTZ)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, chinaTZ)
		return day.In(ts.Location())
	default:
		return ts.Truncate(time.Minute)
	}
}

var chinaTZ = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		return time.FixedZone("CST", 8*3600)
	}
	return loc
}()

// PriceLevel is one level of an order book side.
type PriceLevel struct {
	Price      decimal.Decimal `json:"price"`
	Volume     int64           `json:"volume"`
	OrderCount int             `json:"order_count,omitempty"`
}

// Tick is a single market-data snapshot for one symbol. It is treated as
// immutable once validated.
type Tick struct {
	Symbol    string          `json:"symbol"`
	Exchange  string          `json:"exchange"`
	Timestamp time.Time       `json:"timestamp"`
	LastPrice decimal.Decimal `json:"last_price"`

	Volume       int64           `json:"volume"` // cumulative day total
	Turnover     decimal.Decimal `json:"turnover"`
	OpenInterest int64           `json:"open_interest"`

	BidPrice1  decimal.Decimal `json:"bid_price_1"`
	BidVolume1 int64           `json:"bid_volume_1"`
	AskPrice1  decimal.Decimal `json:"ask_price_1"`
	AskVolume1 int64           `json:"ask_volume_1"`

	PreClose      decimal.Decimal `json:"pre_close"`
	PreSettlement decimal.Decimal `json:"pre_settlement"`
	UpperLimit    decimal.Decimal `json:"upper_limit"`
	LowerLimit    decimal.Decimal `json:"lower_limit"`

	GatewayName    string     `json:"gateway_name"`
	LocalTimestamp time.Time  `json:"local_timestamp"`
	Status         DataStatus `json:"status"`
}

// NewTick builds a tick with the reception wall clock stamped.
func NewTick(symbol, exchange string, ts time.Time, lastPrice decimal.Decimal) *Tick {
	return &Tick{
		Symbol:         symbol,
		Exchange:       exchange,
		Timestamp:      ts,
		LastPrice:      lastPrice,
		LocalTimestamp: time.Now().UTC(),
	}
}

// Validate checks the tick's invariants and updates Status. It returns
// (ok, reasons). A zero price with zero volume passes the price rule
// (pre-open quote). Staleness against wall-clock UTC marks the tick STALE;
// any other failure marks it INVALID.
func (t *Tick) Validate(staleThreshold time.Duration) (bool, []string) {
	if staleThreshold <= 0 {
		staleThreshold = DefaultStaleThreshold
	}
	if t.LocalTimestamp.IsZero() {
		t.LocalTimestamp = time.Now().UTC()
	}

	var errs []string
	hardFailure := false

	if t.Symbol == "" {
		errs = append(errs, "empty symbol")
		hardFailure = true
	}
	if !IsValidExchange(t.Exchange) {
		errs = append(errs, fmt.Sprintf("invalid exchange: %s", t.Exchange))
		hardFailure = true
	}
	if t.LastPrice.Sign() <= 0 && t.Volume > 0 {
		errs = append(errs, fmt.Sprintf("invalid price: %s", t.LastPrice))
		hardFailure = true
	}

	age := time.Now().UTC().Sub(t.Timestamp)
	if age < 0 {
		age = -age
	}
	if age > staleThreshold {
		errs = append(errs, fmt.Sprintf("stale timestamp: %.0fs old", age.Seconds()))
	}

	switch {
	case len(errs) == 0:
		t.Status = StatusValid
	case hardFailure:
		t.Status = StatusInvalid
	default:
		t.Status = StatusStale
	}
	return len(errs) == 0, errs
}

// LatencyUs is the reception latency in microseconds.
func (t *Tick) LatencyUs() int64 {
	if t.LocalTimestamp.IsZero() {
		return 0
	}
	return t.LocalTimestamp.Sub(t.Timestamp).Microseconds()
}

// UniqueID derives a 16-hex-char identifier from symbol and timestamp,
// used for dedup downstream.
func (t *Tick) UniqueID() string {
	key := t.Symbol + ":" + t.Timestamp.Format(TimeLayout)
	sum := md5.Sum([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// ToMap serializes the tick to a transport-neutral map: decimals become
// strings, timestamps ISO-8601, status its label.
func (t *Tick) ToMap() map[string]any {
	return map[string]any{
		"symbol":          t.Symbol,
		"exchange":        t.Exchange,
		"timestamp":       t.Timestamp.UTC().Format(TimeLayout),
		"last_price":      t.LastPrice.String(),
		"volume":          t.Volume,
		"turnover":        t.Turnover.String(),
		"open_interest":   t.OpenInterest,
		"bid_price_1":     t.BidPrice1.String(),
		"bid_volume_1":    t.BidVolume1,
		"ask_price_1":     t.AskPrice1.String(),
		"ask_volume_1":    t.AskVolume1,
		"pre_close":       t.PreClose.String(),
		"pre_settlement":  t.PreSettlement.String(),
		"upper_limit":     t.UpperLimit.String(),
		"lower_limit":     t.LowerLimit.String(),
		"gateway_name":    t.GatewayName,
		"local_timestamp": t.LocalTimestamp.UTC().Format(TimeLayout),
		"status":          t.Status.String(),
	}
}

// TickFromMap rebuilds a tick from its ToMap form.
func TickFromMap(m map[string]any) (*Tick, error) {
	str := func(key string) string {
		s, _ := m[key].(string)
		return s
	}
	dec := func(key string) (decimal.Decimal, error) {
		s := str(key)
		if s == "" {
			return decimal.Zero, nil
		}
		return decimal.NewFromString(s)
	}
	i64 := func(key string) int64 {
		switch v := m[key].(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
		return 0
	}

	ts, err := time.Parse(TimeLayout, str("timestamp"))
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	local, err := time.Parse(TimeLayout, str("local_timestamp"))
	if err != nil {
		return nil, fmt.Errorf("parse local_timestamp: %w", err)
	}
	status, err := ParseDataStatus(str("status"))
	if err != nil {
		return nil, err
	}

	t := &Tick{
		Symbol:         str("symbol"),
		Exchange:       str("exchange"),
		Timestamp:      ts,
		Volume:         i64("volume"),
		OpenInterest:   i64("open_interest"),
		BidVolume1:     i64("bid_volume_1"),
		AskVolume1:     i64("ask_volume_1"),
		GatewayName:    str("gateway_name"),
		LocalTimestamp: local,
		Status:         status,
	}
	for _, f := range []struct {
		key string
		dst *decimal.Decimal
	}{
		{"last_price", &t.LastPrice},
		{"turnover", &t.Turnover},
		{"bid_price_1", &t.BidPrice1},
		{"ask_price_1", &t.AskPrice1},
		{"pre_close", &t.PreClose},
		{"pre_settlement", &t.PreSettlement},
		{"upper_limit", &t.UpperLimit},
		{"lower_limit", &t.LowerLimit},
	} {
		d, err := dec(f.key)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f.key, err)
		}
		*f.dst = d
	}
	return t, nil
}

func (t *Tick) String() string {
	return fmt.Sprintf("Tick(%s@%s, price=%s, vol=%d, ts=%s)",
		t.Symbol, t.Exchange, t.LastPrice, t.Volume,
		t.Timestamp.UTC().Format("15:04:05.000"))
}

// Depth is a level-2 order book snapshot. Bids are sorted descending by
// price, asks ascending.
type Depth struct {
	Symbol         string       `json:"symbol"`
	Exchange       string       `json:"exchange"`
	Timestamp      time.Time    `json:"timestamp"`
	Bids           []PriceLevel `json:"bids"`
	Asks           []PriceLevel `json:"asks"`
	GatewayName    string       `json:"gateway_name"`
	LocalTimestamp time.Time    `json:"local_timestamp"`
}

// BidPrice1 is the best bid, zero when the side is empty.
func (d *Depth) BidPrice1() decimal.Decimal {
	if len(d.Bids) == 0 {
		return decimal.Zero
	}
	return d.Bids[0].Price
}

// AskPrice1 is the best ask, zero when the side is empty.
func (d *Depth) AskPrice1() decimal.Decimal {
	if len(d.Asks) == 0 {
		return decimal.Zero
	}
	return d.Asks[0].Price
}

// Spread is ask1 - bid1, zero when either side is empty.
func (d *Depth) Spread() decimal.Decimal {
	if len(d.Bids) == 0 || len(d.Asks) == 0 {
		return decimal.Zero
	}
	return d.Asks[0].Price.Sub(d.Bids[0].Price)
}

// Bar is a fixed-period OHLCV aggregation.
//
// Volume carries the latest cumulative-day snapshot at bar close, not a
// per-bar delta; consumers needing deltas must difference consecutive
// bars themselves.
type Bar struct {
	Symbol       string          `json:"symbol"`
	Exchange     string          `json:"exchange"`
	Period       BarPeriod       `json:"period"`
	BarDatetime  time.Time       `json:"bar_datetime"` // period start
	Open         decimal.Decimal `json:"open"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	Close        decimal.Decimal `json:"close"`
	Volume       int64           `json:"volume"`
	Turnover     decimal.Decimal `json:"turnover"`
	OpenInterest int64           `json:"open_interest"`
	GatewayName  string          `json:"gateway_name"`
}

// Validate checks the OHLC relationship invariants.
func (b *Bar) Validate() (bool, []string) {
	var errs []string
	if b.High.LessThan(b.Low) {
		errs = append(errs, fmt.Sprintf("high(%s) < low(%s)", b.High, b.Low))
	}
	if b.Open.GreaterThan(b.High) || b.Open.LessThan(b.Low) {
		errs = append(errs, fmt.Sprintf("open(%s) outside high-low range", b.Open))
	}
	if b.Close.GreaterThan(b.High) || b.Close.LessThan(b.Low) {
		errs = append(errs, fmt.Sprintf("close(%s) outside high-low range", b.Close))
	}
	return len(errs) == 0, errs
}

func (b *Bar) String() string {
	return fmt.Sprintf("Bar(%s %s O=%s H=%s L=%s C=%s)",
		b.Symbol, b.Period, b.Open, b.High, b.Low, b.Close)
}
