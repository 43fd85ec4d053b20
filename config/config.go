package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full bot configuration. Defaults come from code, a
// config.json can override them, and environment variables win last.
type Config struct {
	FeedConfig     FeedConfig     `json:"feed"`
	ServerConfig   ServerConfig   `json:"server"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	LoggingConfig  LoggingConfig  `json:"logging"`
	SignalConfig   SignalConfig   `json:"signal"`
}

// FeedConfig holds the upstream market-data connection settings.
type FeedConfig struct {
	URL   string `json:"url"`
	Token string `json:"token"`
}

// ServerConfig holds the HTTP status API settings.
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	ProductionMode  bool   `json:"production_mode"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // seconds
}

// DatabaseConfig holds PostgreSQL settings. Disabled means the bot
// runs without persistence.
type DatabaseConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
}

// RedisConfig holds cache settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level      string `json:"level"` // DEBUG, INFO, WARN, ERROR
	JSONFormat bool   `json:"json_format"`
}

// SignalConfig tunes the signal pipeline's ambient behavior.
type SignalConfig struct {
	HistoryDepth     int           `json:"history_depth"`
	SnapshotInterval time.Duration `json:"snapshot_interval"`
}

func defaults() *Config {
	return &Config{
		FeedConfig: FeedConfig{
			URL: "wss://ws.derivws.com/websockets/v3?app_id=1089",
		},
		ServerConfig: ServerConfig{
			Port:            5000,
			Host:            "0.0.0.0",
			ShutdownTimeout: 10,
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			JSONFormat: true,
		},
		SignalConfig: SignalConfig{
			HistoryDepth:     300,
			SnapshotInterval: 5 * time.Minute,
		},
	}
}

// Load builds the configuration: defaults, then config.json when
// present, then environment overrides.
func Load() (*Config, error) {
	cfg := defaults()

	if data, err := os.ReadFile("config.json"); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config.json: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.ServerConfig.Port <= 0 || cfg.ServerConfig.Port > 65535 {
		return nil, fmt.Errorf("invalid server port %d", cfg.ServerConfig.Port)
	}
	if cfg.FeedConfig.URL == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.FeedConfig.URL = getEnvOrDefault("FEED_URL", cfg.FeedConfig.URL)
	cfg.FeedConfig.Token = getEnvOrDefault("FEED_TOKEN", cfg.FeedConfig.Token)

	cfg.ServerConfig.Port = getEnvIntOrDefault("PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.ProductionMode = getEnvBoolOrDefault("PRODUCTION_MODE", cfg.ServerConfig.ProductionMode)

	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.DatabaseConfig.Enabled = true
		cfg.DatabaseConfig.URL = url
	}

	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)

	cfg.SignalConfig.HistoryDepth = getEnvIntOrDefault("HISTORY_DEPTH", cfg.SignalConfig.HistoryDepth)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBoolOrDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}
