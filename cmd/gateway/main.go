package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ctp-md-gateway/internal/config"
	"ctp-md-gateway/internal/gateway"
	"ctp-md-gateway/internal/metrics"
	"ctp-md-gateway/internal/publisher"
	"ctp-md-gateway/internal/recorder"
	"ctp-md-gateway/internal/session"
	"ctp-md-gateway/internal/stream"
)

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := loadConfig()

	log.Info().
		Str("gateway", cfg.GatewayName).
		Str("type", string(cfg.GatewayType)).
		Str("front", cfg.CTP.FrontAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("Starting market data gateway")

	// Start metrics server
	var metricsServer *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddr)
		go func() {
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Metrics server error")
			}
		}()
	}

	gw, err := gateway.New(cfg, gateway.WithAlertFunc(func(level, message string) {
		log.Error().Str("level", level).Msg(message)
	}))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gateway")
	}

	// Wire sinks before connecting.
	var closers []func() error

	if cfg.Redis.Enabled {
		pub, err := publisher.NewRedisPublisher(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Redis publisher")
		}
		closers = append(closers, pub.Close)
		gw.OnTick(pub.TickSink())
		gw.OnBar(pub.BarSink())
		log.Info().Str("addr", cfg.Redis.Addr).Msg("Redis publisher enabled")
	}

	if cfg.Recorder.Enabled {
		rec, err := recorder.New(cfg.Recorder)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create tick recorder")
		}
		closers = append(closers, rec.Close)
		gw.OnTick(rec.TickSink())
		log.Info().Msg("Postgres tick recorder enabled")
	}

	if cfg.StreamAddr != "" {
		ws := stream.NewServer(cfg.StreamAddr)
		ws.Start()
		closers = append(closers, ws.Stop)
		gw.OnTick(ws.TickSink())
		gw.OnBar(ws.BarSink())
	}

	gw.OnStateChange(func(old, new session.State) {
		log.Info().Str("from", old.String()).Str("to", new.String()).Msg("Gateway session state")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gw.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to market front")
	}

	if symbols := subscribeList(); len(symbols) > 0 {
		accepted, err := gw.Subscribe(symbols)
		if err != nil {
			log.Fatal().Err(err).Strs("symbols", symbols).Msg("Failed to subscribe")
		}
		log.Info().Int("count", len(accepted)).Msg("Startup subscriptions placed")
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down...")

	if err := gw.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing gateway")
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("Error closing sink")
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			log.Error().Err(err).Msg("Error stopping metrics server")
		}
	}
}

// loadConfig reads the YAML file named by CONFIG_PATH, then applies
// environment overrides for deployment-specific values and credentials.
func loadConfig() config.Config {
	var cfg config.Config
	var err error

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("Failed to load config")
		}
	} else {
		cfg = config.Default()
	}

	if cfg.CTP == nil {
		cfg.CTP = &config.CTPConfig{}
	}
	overrideString(&cfg.CTP.BrokerID, "CTP_BROKER_ID")
	overrideString(&cfg.CTP.InvestorID, "CTP_INVESTOR_ID")
	overrideString(&cfg.CTP.Password, "CTP_PASSWORD")
	overrideString(&cfg.CTP.FrontAddr, "CTP_FRONT_ADDR")
	overrideString(&cfg.CTP.AuthCode, "CTP_AUTH_CODE")
	overrideString(&cfg.CTP.AppID, "CTP_APP_ID")
	overrideString(&cfg.MetricsAddr, "METRICS_ADDR")
	overrideString(&cfg.StreamAddr, "STREAM_ADDR")
	overrideString(&cfg.Redis.Addr, "REDIS_ADDR")
	overrideString(&cfg.Recorder.DSN, "RECORDER_DSN")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	return cfg
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// subscribeList reads the startup subscriptions from SUBSCRIBE_SYMBOLS,
// a comma-separated list that may contain wildcards.
func subscribeList() []string {
	raw := os.Getenv("SUBSCRIBE_SYMBOLS")
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
