package gateway

import (
	"path"
	"sort"
	"strings"

	"ctp-md-gateway/internal/ctp"
	"ctp-md-gateway/internal/gwerr"
	"ctp-md-gateway/internal/metrics"
	"ctp-md-gateway/internal/session"
)

// subscribeBatchSize caps one SDK subscribe request; CTP fronts reject
// oversized instrument arrays.
const subscribeBatchSize = 100

// maxSymbolLen bounds a literal instrument ID; CTP InstrumentID fields
// are 31 bytes.
const maxSymbolLen = 31

// Subscribe registers market-data subscriptions and returns the symbols
// actually subscribed by this call. Entries containing * or ? are
// expanded against the loaded symbol universe. Already subscribed
// symbols are skipped without touching the SDK. On a limit breach
// nothing is subscribed.
func (g *Gateway) Subscribe(symbols []string) ([]string, error) {
	if !g.sm.IsConnected() {
		return nil, gwerr.New(gwerr.ConnectionLost, "cannot subscribe while disconnected",
			map[string]any{"state": g.sm.State().String()})
	}
	if len(symbols) == 0 {
		return nil, nil
	}

	expanded, err := g.expandSymbols(symbols)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	fresh := make([]string, 0, len(expanded))
	for _, s := range expanded {
		if _, ok := g.subscribed[s]; !ok {
			fresh = append(fresh, s)
		}
	}
	current := len(g.subscribed)
	api := g.api
	g.mu.Unlock()

	if len(fresh) == 0 {
		g.logger.Debug().Int("requested", len(symbols)).Msg("All symbols already subscribed")
		return nil, nil
	}
	if current+len(fresh) > g.cfg.MaxSubscriptions {
		return nil, gwerr.New(gwerr.SubscriptionLimitExceeded, "subscription limit exceeded",
			map[string]any{
				"current":   current,
				"max":       g.cfg.MaxSubscriptions,
				"requested": len(fresh),
				"symbols":   fresh,
			})
	}
	if api == nil {
		return nil, gwerr.New(gwerr.ConnectionLost, "native handle is gone", nil)
	}

	g.sm.Set(session.Subscribing)

	accepted, failed := g.sendSubscribeBatches(api, fresh)

	g.mu.Lock()
	for _, s := range accepted {
		g.subscribed[s] = struct{}{}
	}
	total := len(g.subscribed)
	g.mu.Unlock()
	metrics.SetSubscriptions(g.cfg.GatewayName, total)
	g.sm.Set(session.Running)

	// Batch rejections are per-batch failures, not a failure of the call:
	// the rejected symbols are simply absent from the accepted list.
	if len(failed) > 0 {
		g.logger.Warn().
			Int("accepted", len(accepted)).
			Int("failed", len(failed)).
			Msg("Some subscribe batches were rejected")
	}
	g.logger.Info().
		Int("new", len(accepted)).
		Int("total", total).
		Msg("Subscribed to market data")
	return accepted, nil
}

// sendSubscribeBatches issues the SDK requests in fixed-size batches. A
// rejected batch drops only its own symbols.
func (g *Gateway) sendSubscribeBatches(api ctp.MdAPI, symbols []string) (accepted, failed []string) {
	for start := 0; start < len(symbols); start += subscribeBatchSize {
		end := start + subscribeBatchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batch := symbols[start:end]
		if rc := api.SubscribeMarketData(ctp.EncodeSymbols(batch)); rc != 0 {
			g.logger.Error().
				Int("rc", rc).
				Int("batch_size", len(batch)).
				Str("first", batch[0]).
				Msg("Subscribe batch rejected by SDK")
			failed = append(failed, batch...)
			continue
		}
		accepted = append(accepted, batch...)
	}
	return accepted, failed
}

// expandSymbols validates literal symbols and expands wildcard patterns
// against the symbol universe. The result is deduplicated and sorted.
func (g *Gateway) expandSymbols(symbols []string) ([]string, error) {
	g.mu.Lock()
	universe := make([]string, 0, len(g.universe))
	for s := range g.universe {
		universe = append(universe, s)
	}
	g.mu.Unlock()

	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}

	for _, s := range symbols {
		if !isWildcard(s) {
			// Literals go to the front as-is; option contracts such as
			// IO2402-C-3950 or MA505C2700 don't fit a plain futures
			// pattern. Only obviously broken input is refused.
			if s == "" || len(s) > maxSymbolLen || strings.ContainsAny(s, " \t\r\n") {
				return nil, gwerr.New(gwerr.SymbolInvalidFormat, "invalid symbol format",
					map[string]any{"symbol": s})
			}
			add(s)
			continue
		}

		if len(universe) == 0 {
			return nil, gwerr.New(gwerr.SymbolNotFound, "wildcard with no symbol universe loaded",
				map[string]any{"pattern": s})
		}
		matched := 0
		for _, u := range universe {
			ok, err := path.Match(s, u)
			if err != nil {
				return nil, gwerr.Wrap(gwerr.SymbolInvalidFormat, "bad wildcard pattern",
					map[string]any{"pattern": s}, err)
			}
			if ok {
				add(u)
				matched++
			}
		}
		if matched == 0 {
			g.logger.Warn().Str("pattern", s).Msg("Wildcard matched no symbols")
		}
	}
	sort.Strings(out)
	return out, nil
}

func isWildcard(s string) bool {
	for _, r := range s {
		if r == '*' || r == '?' || r == '[' {
			return true
		}
	}
	return false
}

// Unsubscribe removes market-data subscriptions and returns the symbols
// actually removed. Unknown symbols are ignored. An SDK rejection is
// logged and yields an empty list; the registry drop stands so the
// symbols are not replayed on reconnect.
func (g *Gateway) Unsubscribe(symbols []string) ([]string, error) {
	if !g.sm.IsConnected() {
		return nil, gwerr.New(gwerr.ConnectionLost, "cannot unsubscribe while disconnected",
			map[string]any{"state": g.sm.State().String()})
	}

	g.mu.Lock()
	var removed []string
	for _, s := range symbols {
		if _, ok := g.subscribed[s]; ok {
			removed = append(removed, s)
			delete(g.subscribed, s)
		}
	}
	total := len(g.subscribed)
	api := g.api
	g.mu.Unlock()

	if len(removed) == 0 {
		return nil, nil
	}
	metrics.SetSubscriptions(g.cfg.GatewayName, total)

	rejected := false
	if api != nil {
		if rc := api.UnSubscribeMarketData(ctp.EncodeSymbols(removed)); rc != 0 {
			g.logger.Warn().Int("rc", rc).Msg("Unsubscribe rejected by SDK; registry updated anyway")
			rejected = true
		}
	}

	// Drop dispatch-owned per-symbol state (last-seen, aggregators).
	g.postEvent(event{kind: evForget, symbols: removed})

	if rejected {
		return nil, nil
	}
	g.logger.Info().Int("removed", len(removed)).Int("total", total).Msg("Unsubscribed")
	return removed, nil
}

// SubscribedSymbols returns the active subscriptions, sorted.
func (g *Gateway) SubscribedSymbols() []string {
	g.mu.Lock()
	out := make([]string, 0, len(g.subscribed))
	for s := range g.subscribed {
		out = append(out, s)
	}
	g.mu.Unlock()
	sort.Strings(out)
	return out
}

// SubscriptionCount returns the number of active subscriptions.
func (g *Gateway) SubscriptionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subscribed)
}

// restoreSubscriptions replays the registry after a reconnect. Failures
// are logged; the registry keeps the symbols so the next reconnect tries
// again.
func (g *Gateway) restoreSubscriptions() {
	g.mu.Lock()
	symbols := make([]string, 0, len(g.subscribed))
	for s := range g.subscribed {
		symbols = append(symbols, s)
	}
	api := g.api
	g.mu.Unlock()

	if len(symbols) == 0 || api == nil {
		return
	}
	sort.Strings(symbols)

	accepted, failed := g.sendSubscribeBatches(api, symbols)
	if len(failed) > 0 {
		g.logger.Error().
			Int("restored", len(accepted)).
			Int("failed", len(failed)).
			Msg("Subscription restore incomplete")
		return
	}
	g.logger.Info().Int("restored", len(accepted)).Msg("Subscriptions restored")
}
