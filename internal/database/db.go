package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"otc-signal-bot/internal/logging"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger *logging.Logger
}

// NewDB connects to PostgreSQL using a DATABASE_URL-style DSN.
func NewDB(ctx context.Context, databaseURL string, logger *logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("database")

	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Connected to PostgreSQL")
	return &DB{Pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("Database connection closed")
	}
}

// RunMigrations creates the schema. Every statement is idempotent, so
// re-running on boot is safe.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("Running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			chat_id VARCHAR(64) NOT NULL UNIQUE,
			first_name VARCHAR(128),
			accepted_terms BOOLEAN NOT NULL DEFAULT FALSE,
			timezone VARCHAR(64) DEFAULT '',
			confidence_filter DECIMAL(5, 2) DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_chat_id ON users(chat_id)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id UUID PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL UNIQUE,
			chat_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			timeframe BIGINT NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'active',
			started_at TIMESTAMP NOT NULL,
			stopped_at TIMESTAMP,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			total_signals INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_chat_id ON sessions(chat_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,

		`CREATE TABLE IF NOT EXISTS signals (
			id UUID PRIMARY KEY,
			session_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			timeframe BIGINT NOT NULL,
			direction VARCHAR(10) NOT NULL,
			confidence DECIMAL(5, 1) NOT NULL,
			p_up DECIMAL(8, 6),
			quality_score DECIMAL(5, 1),
			entry_price DECIMAL(20, 8),
			candle_close_time BIGINT,
			volatility_override BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_session ON signals(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at)`,

		`CREATE TABLE IF NOT EXISTS trade_results (
			id UUID PRIMARY KEY,
			signal_key VARCHAR(128) NOT NULL,
			session_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			direction VARCHAR(10) NOT NULL,
			outcome VARCHAR(8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8) NOT NULL,
			resolved_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_results_session ON trade_results(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trade_results_resolved_at ON trade_results(resolved_at)`,

		`CREATE TABLE IF NOT EXISTS volatility_history (
			id UUID PRIMARY KEY,
			symbol VARCHAR(32) NOT NULL,
			score DECIMAL(5, 3) NOT NULL,
			severity VARCHAR(16) NOT NULL,
			is_stable BOOLEAN NOT NULL,
			recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_volatility_symbol ON volatility_history(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_volatility_recorded_at ON volatility_history(recorded_at)`,
	}

	for i, stmt := range migrations {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}

	db.logger.Info("Migrations complete", "statements", len(migrations))
	return nil
}
