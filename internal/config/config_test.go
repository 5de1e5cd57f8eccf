package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name  string
		check func(*Config) bool
	}{
		{"default mode is run", func(c *Config) bool { return c.Mode == "run" }},
		{"default host is 0.0.0.0", func(c *Config) bool { return c.Host == "0.0.0.0" }},
		{"default port is 8080", func(c *Config) bool { return c.Port == 8080 }},
		{"default log level is info", func(c *Config) bool { return c.LogLevel == "info" }},
		{"default log format is json", func(c *Config) bool { return c.LogFormat == "json" }},
		{"default metrics path", func(c *Config) bool { return c.MetricsPath == "/metrics" }},
		{"default loader batch size", func(c *Config) bool { return c.LoaderBatchSize == 1 }},
		{"default janitor batch size", func(c *Config) bool { return c.JanitorBatchSize == 100 }},
		{"default janitor max process limit", func(c *Config) bool { return c.JanitorMaxProcessLimit == 1000 }},
		{"default worker poll interval", func(c *Config) bool { return c.WorkerPollInterval == time.Second }},
		{"default worker mock success rate", func(c *Config) bool { return c.WorkerMockSuccessRate == 0.8 }},
		{"default worker concurrency", func(c *Config) bool { return c.WorkerConcurrency == 4 }},
		{"default adapter name", func(c *Config) bool { return c.AdapterName == "mock" }},
		{"default redis url", func(c *Config) bool { return c.RedisURL == "redis://localhost:6379/0" }},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" }},
		{"notifications disabled by default", func(c *Config) bool { return !c.NotificationsEnabled() }},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("%s: unexpected value", tt.name)
			}
		})
	}
}

func TestNotificationsEnabled(t *testing.T) {
	cfg := &Config{}
	if cfg.NotificationsEnabled() {
		t.Fatal("expected disabled with no Slack fields set")
	}

	cfg.SlackBotToken = "xoxb-test"
	if cfg.NotificationsEnabled() {
		t.Fatal("expected disabled with only bot token set")
	}

	cfg.SlackAlertChannel = "#creep-alerts"
	if !cfg.NotificationsEnabled() {
		t.Fatal("expected enabled once both bot token and channel are set")
	}
}
