package config

import "testing"

func TestDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerConfig.Port != 5000 {
		t.Errorf("default port = %d", cfg.ServerConfig.Port)
	}
	if cfg.FeedConfig.URL == "" {
		t.Error("feed url default missing")
	}
	if cfg.SignalConfig.HistoryDepth != 300 {
		t.Errorf("history depth = %d", cfg.SignalConfig.HistoryDepth)
	}
	if cfg.DatabaseConfig.Enabled {
		t.Error("database enabled without DATABASE_URL")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("FEED_URL", "wss://example.test/feed")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerConfig.Port != 8088 {
		t.Errorf("port = %d", cfg.ServerConfig.Port)
	}
	if cfg.FeedConfig.URL != "wss://example.test/feed" {
		t.Errorf("feed url = %s", cfg.FeedConfig.URL)
	}
	if !cfg.DatabaseConfig.Enabled || cfg.DatabaseConfig.URL == "" {
		t.Error("DATABASE_URL did not enable persistence")
	}
	if !cfg.RedisConfig.Enabled {
		t.Error("redis not enabled")
	}
	if cfg.LoggingConfig.Level != "DEBUG" {
		t.Errorf("log level = %s", cfg.LoggingConfig.Level)
	}
}

func TestInvalidPortRejected(t *testing.T) {
	t.Setenv("PORT", "99999")
	if _, err := Load(); err == nil {
		t.Error("out-of-range port accepted")
	}
}
