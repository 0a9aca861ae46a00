// Package bars builds fixed-period OHLCV bars from the tick stream.
package bars

import (
	"time"

	"ctp-md-gateway/internal/model"
)

// Aggregator maintains the in-progress bar for one (symbol, period) pair.
// It is driven exclusively from the gateway dispatch loop, so it carries
// no locking.
type Aggregator struct {
	symbol string
	period model.BarPeriod

	current *model.Bar
	start   time.Time
}

// NewAggregator starts with no open bar.
func NewAggregator(symbol string, period model.BarPeriod) *Aggregator {
	return &Aggregator{symbol: symbol, period: period}
}

// Period returns the aggregation period.
func (a *Aggregator) Period() model.BarPeriod {
	return a.period
}

// Update folds a tick into the current bar. When the tick opens a new
// period the previous bar is returned as completed; otherwise nil.
//
// Volume, turnover and open interest are cumulative-day snapshots on CTP
// ticks, so the bar records the latest snapshot rather than a sum.
func (a *Aggregator) Update(tick *model.Tick) *model.Bar {
	start := a.period.Truncate(tick.Timestamp)

	if a.current == nil || start.After(a.start) {
		completed := a.current
		a.start = start
		a.current = &model.Bar{
			Symbol:       a.symbol,
			Exchange:     tick.Exchange,
			Period:       a.period,
			BarDatetime:  start,
			Open:         tick.LastPrice,
			High:         tick.LastPrice,
			Low:          tick.LastPrice,
			Close:        tick.LastPrice,
			Volume:       tick.Volume,
			Turnover:     tick.Turnover,
			OpenInterest: tick.OpenInterest,
			GatewayName:  tick.GatewayName,
		}
		return completed
	}

	bar := a.current
	if tick.LastPrice.GreaterThan(bar.High) {
		bar.High = tick.LastPrice
	}
	if tick.LastPrice.LessThan(bar.Low) {
		bar.Low = tick.LastPrice
	}
	bar.Close = tick.LastPrice
	bar.Volume = tick.Volume
	bar.Turnover = tick.Turnover
	bar.OpenInterest = tick.OpenInterest
	return nil
}

// Current returns the in-progress bar, nil before the first tick.
func (a *Aggregator) Current() *model.Bar {
	return a.current
}

// Set groups the aggregators for one symbol across all periods.
type Set struct {
	aggs []*Aggregator
}

// NewSet builds aggregators for every supported period.
func NewSet(symbol string) *Set {
	periods := model.AllBarPeriods()
	aggs := make([]*Aggregator, 0, len(periods))
	for _, p := range periods {
		aggs = append(aggs, NewAggregator(symbol, p))
	}
	return &Set{aggs: aggs}
}

// Update routes the tick to every period's aggregator and returns the
// bars completed by it.
func (s *Set) Update(tick *model.Tick) []*model.Bar {
	var completed []*model.Bar
	for _, a := range s.aggs {
		if bar := a.Update(tick); bar != nil {
			completed = append(completed, bar)
		}
	}
	return completed
}
