package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Default()
	cfg.CTP = &CTPConfig{
		BrokerID:   "9999",
		InvestorID: "test_user",
		Password:   "test_password",
		FrontAddr:  "tcp://180.168.146.187:10211",
	}
	return cfg
}

func TestValidateOK(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeoutDuration())
	assert.Equal(t, time.Hour, cfg.DataFilter.StaleThreshold())
}

func TestMalformedFrontAddrRejected(t *testing.T) {
	cfg := validConfig()
	cfg.CTP.FrontAddr = "http://host:10211"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "front_addr")
}

func TestCTPSectionRequired(t *testing.T) {
	cfg := validConfig()
	cfg.CTP = nil
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.GatewayType = GatewaySimnow
	cfg.CTP = nil
	assert.Error(t, cfg.Validate())

	// IB is reserved but does not need a CTP section.
	cfg = validConfig()
	cfg.GatewayType = GatewayIB
	cfg.CTP = nil
	assert.NoError(t, cfg.Validate())
}

func TestRangeChecks(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad gateway_type", func(c *Config) { c.GatewayType = "fix" }},
		{"empty gateway_name", func(c *Config) { c.GatewayName = "" }},
		{"long gateway_name", func(c *Config) { c.GatewayName = string(make([]byte, 51)) }},
		{"connect_timeout low", func(c *Config) { c.ConnectTimeout = 0.5 }},
		{"connect_timeout high", func(c *Config) { c.ConnectTimeout = 61 }},
		{"max_subscriptions", func(c *Config) { c.MaxSubscriptions = 5001 }},
		{"tick_cache_seconds", func(c *Config) { c.TickCacheSeconds = 5 }},
		{"reconnect initial", func(c *Config) { c.Reconnect.InitialInterval = 0.01 }},
		{"reconnect max", func(c *Config) { c.Reconnect.MaxInterval = 301 }},
		{"reconnect multiplier", func(c *Config) { c.Reconnect.Multiplier = 1.0 }},
		{"reconnect alert", func(c *Config) { c.Reconnect.AlertThreshold = 0 }},
		{"stale threshold", func(c *Config) { c.DataFilter.StaleThresholdSeconds = 30 }},
		{"empty broker", func(c *Config) { c.CTP.BrokerID = "" }},
		{"empty password", func(c *Config) { c.CTP.Password = "" }},
		{"recorder no dsn", func(c *Config) { c.Recorder.Enabled = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 150000, cfg.TickCacheSize)
	assert.Equal(t, 10000, cfg.TickQueueSize)
	assert.Equal(t, 1.0, cfg.Reconnect.InitialInterval)
	assert.Equal(t, 2.0, cfg.Reconnect.Multiplier)
	assert.Equal(t, 0, cfg.Reconnect.MaxAttempts)
	assert.True(t, cfg.DataFilter.FilterInvalidPrice)
	assert.False(t, cfg.DataFilter.FilterZeroVolume)
	assert.True(t, cfg.DataFilter.LogDirtyData)
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	body := `
gateway_type: simnow
gateway_name: simnow_md
connect_timeout: 5
ctp:
  broker_id: "9999"
  investor_id: "123456"
  password: "pw"
  front_addr: "tcp://180.168.146.187:10131"
reconnect:
  initial_interval: 0.5
  max_interval: 30
  multiplier: 1.5
  max_attempts: 5
  alert_threshold: 3
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, GatewaySimnow, cfg.GatewayType)
	assert.Equal(t, "simnow_md", cfg.GatewayName)
	assert.Equal(t, 0.5, cfg.Reconnect.InitialInterval)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.MaxSubscriptions)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
