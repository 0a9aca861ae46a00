package gateway

import (
	"context"
	"fmt"
	"time"

	"ctp-md-gateway/internal/gwerr"
	"ctp-md-gateway/internal/metrics"
	"ctp-md-gateway/internal/session"
)

// startReconnect launches the reconnect loop. Called from the dispatch
// goroutine on front loss; a second loss while a loop is running is a
// no-op.
func (g *Gateway) startReconnect(reason int) {
	g.mu.Lock()
	if g.reconnectCancel != nil {
		g.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	g.reconnectCancel = cancel
	g.reconnectDone = done
	g.mu.Unlock()

	g.sm.Set(session.Reconnecting)
	g.logger.Warn().Int("reason", reason).Msg("Starting reconnect loop")

	go func() {
		defer close(done)
		g.reconnectLoop(ctx)
	}()
}

// reconnectLoop retries the connect handshake with exponential backoff
// until it succeeds, max_attempts is exhausted, or the loop is
// canceled by an explicit disconnect.
func (g *Gateway) reconnectLoop(ctx context.Context) {
	rc := g.cfg.Reconnect
	interval := time.Duration(rc.InitialInterval * float64(time.Second))
	maxInterval := time.Duration(rc.MaxInterval * float64(time.Second))
	failures := 0

	for {
		if rc.MaxAttempts > 0 && failures >= rc.MaxAttempts {
			g.logger.Error().
				Int("attempts", failures).
				Msg("Reconnect attempts exhausted, giving up")
			g.notifyAlert("CRITICAL",
				gwerr.New(gwerr.ReconnectExhausted, "reconnect attempts exhausted",
					map[string]any{"attempts": failures}).Error())
			g.finishReconnect()
			g.sm.Set(session.Error)
			return
		}

		select {
		case <-ctx.Done():
			g.logger.Info().Msg("Reconnect loop canceled")
			g.finishReconnect()
			return
		case <-time.After(interval):
		}

		g.logger.Info().
			Int("attempt", failures+1).
			Dur("interval", interval).
			Msg("Reconnect attempt")

		if err := g.reconnectOnce(ctx); err != nil {
			failures++
			metrics.RecordReconnect(g.cfg.GatewayName, false)
			g.logger.Warn().
				Err(err).
				Int("failures", failures).
				Msg("Reconnect attempt failed")

			interval = nextBackoff(interval, rc.Multiplier, maxInterval)
			if rc.AlertThreshold > 0 && failures >= rc.AlertThreshold {
				g.notifyAlert("CRITICAL", fmt.Sprintf(
					"gateway %s reconnect failing: %d consecutive failures, next retry in %s",
					g.cfg.GatewayName, failures, interval))
			}
			continue
		}

		metrics.RecordReconnect(g.cfg.GatewayName, true)
		g.mu.Lock()
		g.connectedAt = time.Now().UTC()
		g.mu.Unlock()
		g.finishReconnect()
		g.sm.Set(session.Connected)
		if g.SubscriptionCount() > 0 {
			g.sm.Set(session.Subscribing)
			g.restoreSubscriptions()
			g.sm.Set(session.Running)
		}
		g.logger.Info().Int("failures", failures).Msg("Reconnected")
		return
	}
}

// nextBackoff grows the retry interval geometrically and clamps it.
func nextBackoff(cur time.Duration, multiplier float64, max time.Duration) time.Duration {
	next := time.Duration(float64(cur) * multiplier)
	if next > max {
		next = max
	}
	return next
}

// reconnectOnce recreates the native handle and redoes the login
// handshake, bounded by the configured connect timeout.
func (g *Gateway) reconnectOnce(ctx context.Context) error {
	if err := g.bringUp(); err != nil {
		return err
	}
	return g.waitForLogin(ctx)
}

// finishReconnect clears the task handle so the next front loss can start
// a fresh loop.
func (g *Gateway) finishReconnect() {
	g.mu.Lock()
	if g.reconnectCancel != nil {
		g.reconnectCancel()
	}
	g.reconnectCancel = nil
	g.reconnectDone = nil
	g.mu.Unlock()
}

func (g *Gateway) notifyAlert(level, message string) {
	if g.alert == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error().Interface("panic", r).Msg("Alert sink panicked")
		}
	}()
	g.alert(level, message)
}
