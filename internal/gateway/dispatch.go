package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"ctp-md-gateway/internal/bars"
	"ctp-md-gateway/internal/ctp"
	"ctp-md-gateway/internal/metrics"
	"ctp-md-gateway/internal/model"
	"ctp-md-gateway/internal/tradingcal"
)

type eventKind int

const (
	evTick eventKind = iota
	evDisconnect
	evForget
)

// event crosses from the SDK callback thread (or the API surface) into
// the dispatch goroutine.
type event struct {
	kind    eventKind
	raw     *ctp.RawTick
	reason  int
	symbols []string
}

// spiBridge adapts the SDK callbacks onto the event channel. It runs on
// the SDK's worker thread and must never block on gateway state; a full
// event channel drops the tick and counts it.
type spiBridge struct {
	g *Gateway
}

func (b *spiBridge) OnFrontConnected() {
	g := b.g
	g.logger.Info().Msg("Front channel established, sending login")

	g.mu.Lock()
	api := g.api
	g.mu.Unlock()
	if api == nil {
		return
	}

	req := &ctp.LoginRequest{
		BrokerID: g.cfg.CTP.BrokerID,
		UserID:   g.cfg.CTP.InvestorID,
		Password: g.cfg.CTP.Password,
		AuthCode: g.cfg.CTP.AuthCode,
		AppID:    g.cfg.CTP.AppID,
	}
	if rc := api.ReqUserLogin(req, g.nextRequestID()); rc != 0 {
		g.logger.Error().Int("rc", rc).Msg("Login request rejected by SDK")
		g.signalLogin(&sdkError{op: "ReqUserLogin", rc: rc})
	}
}

func (b *spiBridge) OnFrontDisconnected(reason int) {
	b.g.logger.Warn().Int("reason", reason).Msg("Front channel lost")
	b.g.postEvent(event{kind: evDisconnect, reason: reason})
}

func (b *spiBridge) OnRspUserLogin(rsp *ctp.RspInfo, requestID int, isLast bool) {
	if rsp.Failed() {
		b.g.logger.Error().
			Int("error_id", rsp.ErrorID).
			Str("error_msg", rsp.ErrorMsg).
			Msg("Login rejected")
		b.g.signalLogin(&sdkError{op: "login", rc: rsp.ErrorID, msg: rsp.ErrorMsg})
		return
	}
	b.g.signalLogin(nil)
}

func (b *spiBridge) OnRtnDepthMarketData(data *ctp.RawTick) {
	if data == nil {
		return
	}
	b.g.postEvent(event{kind: evTick, raw: data})
}

func (b *spiBridge) OnRspSubMarketData(instrumentID string, rsp *ctp.RspInfo, requestID int, isLast bool) {
	if rsp.Failed() {
		b.g.logger.Warn().
			Str("symbol", instrumentID).
			Int("error_id", rsp.ErrorID).
			Str("error_msg", rsp.ErrorMsg).
			Msg("Exchange rejected subscription")
		return
	}
	b.g.logger.Debug().Str("symbol", instrumentID).Msg("Subscription confirmed")
}

// sdkError carries a raw SDK return code through the login channel.
type sdkError struct {
	op  string
	rc  int
	msg string
}

func (e *sdkError) Error() string {
	if e.msg != "" {
		return e.op + ": " + e.msg
	}
	return e.op + " returned nonzero code"
}

// postEvent enqueues without blocking; the SDK thread must keep running
// even when the dispatch goroutine falls behind.
func (g *Gateway) postEvent(ev event) {
	select {
	case g.events <- ev:
	default:
		if ev.kind == evTick {
			metrics.TickDropped.WithLabelValues(g.cfg.GatewayName, "event").Inc()
		}
	}
}

// dispatch is the single consumer of the event channel. All ingest state
// (per-symbol ordering, aggregators, cache) is owned here and touched by
// no other goroutine.
func (g *Gateway) dispatch() {
	defer close(g.dispatchDone)
	for {
		select {
		case <-g.quit:
			return
		case ev := <-g.events:
			switch ev.kind {
			case evTick:
				g.handleRawTick(ev.raw)
			case evDisconnect:
				g.handleDisconnect(ev.reason)
			case evForget:
				for _, s := range ev.symbols {
					delete(g.lastSeen, s)
					delete(g.aggs, s)
				}
			}
		}
	}
}

// handleDisconnect starts the reconnect loop when the loss interrupts a
// live session. Losses during an explicit disconnect, or while a
// reconnect is already running, are ignored here.
func (g *Gateway) handleDisconnect(reason int) {
	if !g.sm.IsConnected() {
		return
	}
	g.startReconnect(reason)
}

func (g *Gateway) handleRawTick(raw *ctp.RawTick) {
	g.mu.Lock()
	_, wanted := g.subscribed[raw.InstrumentID]
	g.mu.Unlock()
	if !wanted {
		// Unsubscribed while in flight.
		return
	}

	tick := g.parseRawTick(raw)

	if !g.acceptTick(tick) {
		return
	}

	g.lastTickMu.Lock()
	g.lastTickAt = tick.LocalTimestamp
	g.lastTickMu.Unlock()

	metrics.RecordTickReceived(g.cfg.GatewayName, tick.Exchange,
		float64(tick.LatencyUs())/1e6)

	g.cache.push(tick)
	g.enqueue(tick)
	g.fanOutTick(tick)

	if depth := depthFromRaw(raw, tick); depth != nil {
		g.fanOutDepth(depth)
	}
	g.updateBars(tick)
}

// parseRawTick converts the SDK record to the canonical tick. An
// unparsable exchange timestamp is rescued with the reception wall clock
// so the row survives with its prices intact.
func (g *Gateway) parseRawTick(raw *ctp.RawTick) *model.Tick {
	ts, err := tradingcal.ParseExchangeTimestamp(raw.TradingDay, raw.UpdateTime, raw.UpdateMillisec)
	if err != nil {
		ts = time.Now().UTC()
		if g.cfg.DataFilter.LogDirtyData {
			g.logger.Warn().
				Str("symbol", raw.InstrumentID).
				Str("trading_day", raw.TradingDay).
				Str("update_time", raw.UpdateTime).
				Err(err).
				Msg("Unparsable exchange timestamp, using reception time")
		}
		metrics.RecordTickFiltered(g.cfg.GatewayName, "timestamp_rescued")
	}

	tick := model.NewTick(raw.InstrumentID, raw.ExchangeID, ts,
		decimal.NewFromFloat(raw.LastPrice))
	tick.Volume = raw.Volume
	tick.Turnover = decimal.NewFromFloat(raw.Turnover)
	tick.OpenInterest = int64(raw.OpenInterest)
	tick.BidPrice1 = decimal.NewFromFloat(raw.BidPrice1)
	tick.BidVolume1 = raw.BidVolume1
	tick.AskPrice1 = decimal.NewFromFloat(raw.AskPrice1)
	tick.AskVolume1 = raw.AskVolume1
	tick.PreClose = decimal.NewFromFloat(raw.PreClosePrice)
	tick.PreSettlement = decimal.NewFromFloat(raw.PreSettlementPrice)
	tick.UpperLimit = decimal.NewFromFloat(raw.UpperLimitPrice)
	tick.LowerLimit = decimal.NewFromFloat(raw.LowerLimitPrice)
	tick.GatewayName = g.cfg.GatewayName
	return tick
}

// acceptTick runs validation and the per-symbol order check. A rejected
// tick is counted, optionally logged and never reaches consumers.
func (g *Gateway) acceptTick(tick *model.Tick) bool {
	ok, reasons := tick.Validate(g.cfg.DataFilter.StaleThreshold())
	if !ok {
		if tick.Status == model.StatusStale {
			g.rejectTick(tick, "stale_timestamp", reasons)
			return false
		}
		if g.cfg.DataFilter.FilterInvalidPrice {
			g.rejectTick(tick, "invalid_price", reasons)
			return false
		}
	}

	if g.cfg.DataFilter.FilterZeroVolume && tick.Volume == 0 && tick.LastPrice.Sign() > 0 {
		g.rejectTick(tick, "zero_volume", reasons)
		return false
	}

	// Per-symbol monotonic ordering; equal timestamps are legal since
	// CTP can emit several snapshots within one millisecond.
	if last, seen := g.lastSeen[tick.Symbol]; seen && tick.Timestamp.Before(last) {
		g.rejectTick(tick, "out_of_order", []string{
			"timestamp " + tick.Timestamp.Format(model.TimeLayout) +
				" before " + last.Format(model.TimeLayout)})
		return false
	}
	g.lastSeen[tick.Symbol] = tick.Timestamp
	return true
}

func (g *Gateway) rejectTick(tick *model.Tick, reason string, details []string) {
	tick.Status = model.StatusFiltered
	metrics.RecordTickFiltered(g.cfg.GatewayName, reason)
	if g.cfg.DataFilter.LogDirtyData {
		g.logger.Warn().
			Str("symbol", tick.Symbol).
			Str("reason", reason).
			Strs("details", details).
			Msg("Tick filtered")
	}
}

// enqueue feeds the bounded consumer queue. When the consumer lags the
// newest tick is logged and dropped; the queue never blocks the
// dispatch loop. The drop log is throttled to once per second, the
// counter tracks every drop.
func (g *Gateway) enqueue(tick *model.Tick) {
	select {
	case g.tickQueue <- tick:
	default:
		metrics.TickDropped.WithLabelValues(g.cfg.GatewayName, "queue").Inc()
		if now := time.Now(); now.Sub(g.lastDropLog) >= time.Second {
			g.lastDropLog = now
			g.logger.Warn().
				Str("symbol", tick.Symbol).
				Int("queue_size", len(g.tickQueue)).
				Msg("Tick queue full, dropping newest")
		}
	}
	metrics.SetQueueSize(g.cfg.GatewayName, len(g.tickQueue))
}

func (g *Gateway) fanOutTick(tick *model.Tick) {
	for _, cb := range g.tickCallbacks {
		g.safeCall(func() { cb(tick) }, "tick")
	}
}

func (g *Gateway) fanOutDepth(depth *model.Depth) {
	for _, cb := range g.depthCallbacks {
		g.safeCall(func() { cb(depth) }, "depth")
	}
}

func (g *Gateway) fanOutBar(bar *model.Bar) {
	metrics.BarsEmitted.WithLabelValues(g.cfg.GatewayName, bar.Period.String()).Inc()
	for _, cb := range g.barCallbacks {
		g.safeCall(func() { cb(bar) }, "bar")
	}
}

// safeCall isolates a consumer panic so one bad callback cannot take the
// feed down.
func (g *Gateway) safeCall(f func(), kind string) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().
				Interface("panic", r).
				Str("callback", kind).
				Msg("Consumer callback panicked")
		}
	}()
	f()
}

// updateBars creates the symbol's aggregator set lazily on the first tick
// and fans out any bars the tick completes.
func (g *Gateway) updateBars(tick *model.Tick) {
	set, ok := g.aggs[tick.Symbol]
	if !ok {
		set = bars.NewSet(tick.Symbol)
		g.aggs[tick.Symbol] = set
	}
	for _, bar := range set.Update(tick) {
		g.fanOutBar(bar)
	}
}

// depthFromRaw builds a depth snapshot from whatever book levels the feed
// carried. Level-1 feeds yield a one-level book; rows with an empty book
// yield nil.
func depthFromRaw(raw *ctp.RawTick, tick *model.Tick) *model.Depth {
	bidPrices := []float64{raw.BidPrice1, raw.BidPrice2, raw.BidPrice3, raw.BidPrice4, raw.BidPrice5}
	bidVolumes := []int64{raw.BidVolume1, raw.BidVolume2, raw.BidVolume3, raw.BidVolume4, raw.BidVolume5}
	askPrices := []float64{raw.AskPrice1, raw.AskPrice2, raw.AskPrice3, raw.AskPrice4, raw.AskPrice5}
	askVolumes := []int64{raw.AskVolume1, raw.AskVolume2, raw.AskVolume3, raw.AskVolume4, raw.AskVolume5}

	var bids, asks []model.PriceLevel
	for i := range bidPrices {
		if bidVolumes[i] > 0 {
			bids = append(bids, model.PriceLevel{
				Price:  decimal.NewFromFloat(bidPrices[i]),
				Volume: bidVolumes[i],
			})
		}
		if askVolumes[i] > 0 {
			asks = append(asks, model.PriceLevel{
				Price:  decimal.NewFromFloat(askPrices[i]),
				Volume: askVolumes[i],
			})
		}
	}
	if len(bids) == 0 && len(asks) == 0 {
		return nil
	}
	return &model.Depth{
		Symbol:         tick.Symbol,
		Exchange:       tick.Exchange,
		Timestamp:      tick.Timestamp,
		Bids:           bids,
		Asks:           asks,
		GatewayName:    tick.GatewayName,
		LocalTimestamp: tick.LocalTimestamp,
	}
}

// TickStream returns a channel draining the bounded queue. The channel
// closes when ctx is canceled or the gateway stops.
func (g *Gateway) TickStream(ctx context.Context) <-chan *model.Tick {
	out := make(chan *model.Tick)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-g.quit:
				// Drain what is already queued before closing.
				for {
					select {
					case t := <-g.tickQueue:
						select {
						case out <- t:
						case <-ctx.Done():
							return
						}
					default:
						return
					}
				}
			case t := <-g.tickQueue:
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// CachedTicks returns up to limit most recent accepted ticks for the
// symbol, oldest first. limit <= 0 returns everything cached.
func (g *Gateway) CachedTicks(symbol string, limit int) []*model.Tick {
	return g.cache.recent(symbol, limit)
}

// LatestTick returns the newest cached tick for the symbol, nil if none.
func (g *Gateway) LatestTick(symbol string) *model.Tick {
	ticks := g.cache.recent(symbol, 1)
	if len(ticks) == 0 {
		return nil
	}
	return ticks[0]
}
