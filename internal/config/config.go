// Package config defines the validated gateway configuration record.
// Loading happens once at startup; every component receives the already
// validated struct and never re-checks ranges.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// GatewayType selects the front-end protocol flavor.
type GatewayType string

const (
	GatewayCTP    GatewayType = "ctp"
	GatewaySimnow GatewayType = "simnow"
	GatewayIB     GatewayType = "ib" // reserved, no core support
)

// frontAddrPattern matches the CTP front address form tcp://host:port.
var frontAddrPattern = regexp.MustCompile(`^tcp://[\w.\-]+:\d+$`)

// CTPConfig carries the CTP login credentials and front address.
type CTPConfig struct {
	BrokerID   string `yaml:"broker_id"`
	InvestorID string `yaml:"investor_id"`
	Password   string `yaml:"password"`
	FrontAddr  string `yaml:"front_addr"`
	AuthCode   string `yaml:"auth_code"`
	AppID      string `yaml:"app_id"`
}

func (c *CTPConfig) validate() error {
	if c.BrokerID == "" {
		return fmt.Errorf("ctp: broker_id is required")
	}
	if c.InvestorID == "" {
		return fmt.Errorf("ctp: investor_id is required")
	}
	if c.Password == "" {
		return fmt.Errorf("ctp: password is required")
	}
	if !frontAddrPattern.MatchString(c.FrontAddr) {
		return fmt.Errorf("ctp: front_addr %q must match tcp://host:port", c.FrontAddr)
	}
	return nil
}

// ReconnectConfig tunes the exponential-backoff reconnect loop.
type ReconnectConfig struct {
	InitialInterval float64 `yaml:"initial_interval"` // seconds, 0.1-10.0
	MaxInterval     float64 `yaml:"max_interval"`     // seconds, 1-300
	Multiplier      float64 `yaml:"multiplier"`       // 1.1-5.0
	MaxAttempts     int     `yaml:"max_attempts"`     // 0 = retry forever
	AlertThreshold  int     `yaml:"alert_threshold"`  // consecutive failures before alerting
}

func (c *ReconnectConfig) validate() error {
	if c.InitialInterval < 0.1 || c.InitialInterval > 10.0 {
		return fmt.Errorf("reconnect: initial_interval %.2f outside [0.1, 10.0]", c.InitialInterval)
	}
	if c.MaxInterval < 1 || c.MaxInterval > 300 {
		return fmt.Errorf("reconnect: max_interval %.2f outside [1, 300]", c.MaxInterval)
	}
	if c.Multiplier < 1.1 || c.Multiplier > 5.0 {
		return fmt.Errorf("reconnect: multiplier %.2f outside [1.1, 5.0]", c.Multiplier)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("reconnect: max_attempts must be >= 0")
	}
	if c.AlertThreshold < 1 {
		return fmt.Errorf("reconnect: alert_threshold must be >= 1")
	}
	return nil
}

// DataFilterConfig tunes tick validation and dirty-data handling.
type DataFilterConfig struct {
	FilterInvalidPrice    bool `yaml:"filter_invalid_price"`
	FilterZeroVolume      bool `yaml:"filter_zero_volume"`
	StaleThresholdSeconds int  `yaml:"stale_threshold_seconds"` // 60-86400
	LogDirtyData          bool `yaml:"log_dirty_data"`
}

func (c *DataFilterConfig) validate() error {
	if c.StaleThresholdSeconds < 60 || c.StaleThresholdSeconds > 86400 {
		return fmt.Errorf("data_filter: stale_threshold_seconds %d outside [60, 86400]", c.StaleThresholdSeconds)
	}
	return nil
}

// StaleThreshold returns the threshold as a duration.
func (c *DataFilterConfig) StaleThreshold() time.Duration {
	return time.Duration(c.StaleThresholdSeconds) * time.Second
}

// RedisConfig configures the optional Redis publisher sink.
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	DB            int    `yaml:"db"`
	Password      string `yaml:"password"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// RecorderConfig configures the optional Postgres tick recorder sink.
type RecorderConfig struct {
	Enabled       bool    `yaml:"enabled"`
	DSN           string  `yaml:"dsn"`
	BatchSize     int     `yaml:"batch_size"`     // 100-100000
	FlushInterval float64 `yaml:"flush_interval"` // seconds, 0.1-60
}

func (c *RecorderConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.DSN == "" {
		return fmt.Errorf("recorder: dsn is required when enabled")
	}
	if c.BatchSize < 100 || c.BatchSize > 100000 {
		return fmt.Errorf("recorder: batch_size %d outside [100, 100000]", c.BatchSize)
	}
	if c.FlushInterval < 0.1 || c.FlushInterval > 60 {
		return fmt.Errorf("recorder: flush_interval %.2f outside [0.1, 60]", c.FlushInterval)
	}
	return nil
}

// Config is the gateway construction record.
type Config struct {
	GatewayType      GatewayType `yaml:"gateway_type"`
	GatewayName      string      `yaml:"gateway_name"`
	ConnectTimeout   float64     `yaml:"connect_timeout"`    // seconds, 1.0-60.0
	MaxSubscriptions int         `yaml:"max_subscriptions"`  // 1-5000
	TickCacheSeconds int         `yaml:"tick_cache_seconds"` // 10-300, sizing hint
	TickCacheSize    int         `yaml:"tick_cache_size"`    // ring buffer entries
	TickQueueSize    int         `yaml:"tick_queue_size"`    // bounded consumer queue

	CTP        *CTPConfig       `yaml:"ctp"`
	Reconnect  ReconnectConfig  `yaml:"reconnect"`
	DataFilter DataFilterConfig `yaml:"data_filter"`

	Redis       RedisConfig    `yaml:"redis"`
	Recorder    RecorderConfig `yaml:"recorder"`
	StreamAddr  string         `yaml:"stream_addr"`  // ws broadcast listen addr, empty = off
	MetricsAddr string         `yaml:"metrics_addr"` // prometheus listen addr, empty = off
}

// Default returns a config with sensible defaults for every tunable.
// CTP credentials have no default and must be filled before Validate.
func Default() Config {
	return Config{
		GatewayType:      GatewayCTP,
		GatewayName:      "ctp_market",
		ConnectTimeout:   10.0,
		MaxSubscriptions: 1000,
		TickCacheSeconds: 30,
		TickCacheSize:    150000, // ~30s at 5000 ticks/s
		TickQueueSize:    10000,
		Reconnect: ReconnectConfig{
			InitialInterval: 1.0,
			MaxInterval:     60,
			Multiplier:      2.0,
			MaxAttempts:     0,
			AlertThreshold:  10,
		},
		DataFilter: DataFilterConfig{
			FilterInvalidPrice:    true,
			FilterZeroVolume:      false,
			StaleThresholdSeconds: 3600,
			LogDirtyData:          true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			ChannelPrefix: "market:",
		},
		Recorder: RecorderConfig{
			BatchSize:     1000,
			FlushInterval: 1.0,
		},
	}
}

// Validate enforces every range constraint. A config that fails here must
// never reach gateway construction.
func (c *Config) Validate() error {
	switch c.GatewayType {
	case GatewayCTP, GatewaySimnow, GatewayIB:
	default:
		return fmt.Errorf("gateway_type %q is not one of ctp, simnow, ib", c.GatewayType)
	}
	if n := len(c.GatewayName); n < 1 || n > 50 {
		return fmt.Errorf("gateway_name length %d outside [1, 50]", n)
	}
	if c.ConnectTimeout < 1.0 || c.ConnectTimeout > 60.0 {
		return fmt.Errorf("connect_timeout %.2f outside [1.0, 60.0]", c.ConnectTimeout)
	}
	if c.MaxSubscriptions < 1 || c.MaxSubscriptions > 5000 {
		return fmt.Errorf("max_subscriptions %d outside [1, 5000]", c.MaxSubscriptions)
	}
	if c.TickCacheSeconds < 10 || c.TickCacheSeconds > 300 {
		return fmt.Errorf("tick_cache_seconds %d outside [10, 300]", c.TickCacheSeconds)
	}
	if c.TickCacheSize < 1 {
		return fmt.Errorf("tick_cache_size must be >= 1")
	}
	if c.TickQueueSize < 1 {
		return fmt.Errorf("tick_queue_size must be >= 1")
	}

	if c.GatewayType == GatewayCTP || c.GatewayType == GatewaySimnow {
		if c.CTP == nil {
			return fmt.Errorf("%s gateway requires a ctp section", c.GatewayType)
		}
		if err := c.CTP.validate(); err != nil {
			return err
		}
	}
	if err := c.Reconnect.validate(); err != nil {
		return err
	}
	if err := c.DataFilter.validate(); err != nil {
		return err
	}
	if err := c.Recorder.validate(); err != nil {
		return err
	}
	return nil
}

// ConnectTimeoutDuration returns the login wait bound as a duration.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout * float64(time.Second))
}

// Load reads a YAML config file on top of the defaults and validates it.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
