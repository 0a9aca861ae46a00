// Package metrics exposes the gateway's Prometheus surface.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics for the CTP market-data gateway
var (
	TickReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tick_received_total",
			Help: "Total number of ticks received",
		},
		[]string{"gateway", "exchange"},
	)

	// reason: invalid_price, stale_timestamp, out_of_order
	TickFiltered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tick_filtered_total",
			Help: "Total number of ticks filtered (invalid/stale/out-of-order)",
		},
		[]string{"gateway", "reason"},
	)

	TickDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tick_dropped_total",
			Help: "Total number of ticks dropped on full queue or bridge",
		},
		[]string{"gateway", "stage"},
	)

	TickLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_tick_latency_seconds",
			Help:    "Latency from exchange timestamp to local reception",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"gateway"},
	)

	GatewayState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_state",
			Help: "Session state (0=disconnected .. 7=stopped)",
		},
		[]string{"gateway"},
	)

	Subscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_subscriptions",
			Help: "Number of active subscriptions",
		},
		[]string{"gateway"},
	)

	QueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_queue_size",
			Help: "Current size of the tick queue",
		},
		[]string{"gateway"},
	)

	ReconnectTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_reconnect_total",
			Help: "Total number of reconnection attempts",
		},
		[]string{"gateway", "result"}, // result: success/failure
	)

	BarsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_bars_emitted_total",
			Help: "Total number of completed bars emitted",
		},
		[]string{"gateway", "period"},
	)
)

// RecordTickReceived records an accepted tick and its reception latency.
func RecordTickReceived(gateway, exchange string, latencySeconds float64) {
	TickReceived.WithLabelValues(gateway, exchange).Inc()
	if latencySeconds >= 0 {
		TickLatency.WithLabelValues(gateway).Observe(latencySeconds)
	}
}

// RecordTickFiltered records a filtered tick with its reason.
func RecordTickFiltered(gateway, reason string) {
	TickFiltered.WithLabelValues(gateway, reason).Inc()
}

// RecordReconnect records a reconnect attempt outcome.
func RecordReconnect(gateway string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	ReconnectTotal.WithLabelValues(gateway, result).Inc()
}

// SetState publishes the session state gauge.
func SetState(gateway string, value float64) {
	GatewayState.WithLabelValues(gateway).Set(value)
}

// SetSubscriptions publishes the active subscription count.
func SetSubscriptions(gateway string, count int) {
	Subscriptions.WithLabelValues(gateway).Set(float64(count))
}

// SetQueueSize publishes the tick queue depth.
func SetQueueSize(gateway string, size int) {
	QueueSize.WithLabelValues(gateway).Set(float64(size))
}

// Server serves /metrics and /health.
type Server struct {
	addr   string
	server *http.Server
}

// NewServer creates a metrics server bound to addr.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		addr:   addr,
		server: &http.Server{Addr: addr, Handler: mux},
	}
}

// Start blocks serving until Stop is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.addr).Msg("Starting metrics server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
