package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository provides data access. Writes are best-effort: callers in
// the signal path log failures and carry on, the pipeline never blocks
// on the database.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over an open pool.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck pings the database.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// UpsertUser creates or refreshes a user keyed by chat id.
func (r *Repository) UpsertUser(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	query := `
		INSERT INTO users (id, chat_id, first_name, accepted_terms, timezone, confidence_filter)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chat_id) DO UPDATE
		SET first_name = EXCLUDED.first_name,
		    timezone = EXCLUDED.timezone,
		    confidence_filter = EXCLUDED.confidence_filter,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING id, created_at, updated_at
	`
	return r.db.Pool.QueryRow(ctx, query,
		u.ID, u.ChatID, u.FirstName, u.AcceptedTerms, u.Timezone, u.ConfidenceFilter,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
}

// GetUserByChatID loads a user, returning (nil, nil) when absent.
func (r *Repository) GetUserByChatID(ctx context.Context, chatID string) (*User, error) {
	query := `
		SELECT id, chat_id, first_name, accepted_terms, timezone, confidence_filter, created_at, updated_at
		FROM users WHERE chat_id = $1
	`
	u := &User{}
	err := r.db.Pool.QueryRow(ctx, query, chatID).Scan(
		&u.ID, &u.ChatID, &u.FirstName, &u.AcceptedTerms, &u.Timezone,
		&u.ConfidenceFilter, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", chatID, err)
	}
	return u, nil
}

// AcceptTerms marks a user as having accepted the terms of use.
func (r *Repository) AcceptTerms(ctx context.Context, chatID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE users SET accepted_terms = TRUE, updated_at = CURRENT_TIMESTAMP WHERE chat_id = $1`,
		chatID)
	return err
}

// CountUsers returns the total registered users.
func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

// CountAcceptedTerms returns how many users accepted the terms.
func (r *Repository) CountAcceptedTerms(ctx context.Context) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE accepted_terms`).Scan(&n)
	return n, err
}

// CreateSession records a new session.
func (r *Repository) CreateSession(ctx context.Context, s *SessionRecord) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO sessions (id, session_id, chat_id, symbol, timeframe, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO NOTHING`,
		s.ID, s.SessionID, s.ChatID, s.Symbol, s.Timeframe, s.Status, s.StartedAt)
	return err
}

// CloseSession marks a session stopped and freezes its stats.
func (r *Repository) CloseSession(ctx context.Context, sessionID string, wins, losses, totalSignals int) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE sessions
		SET status = 'stopped', stopped_at = CURRENT_TIMESTAMP,
		    wins = $2, losses = $3, total_signals = $4
		WHERE session_id = $1`,
		sessionID, wins, losses, totalSignals)
	return err
}

// ActiveSessions loads every session still marked active, for restart
// recovery.
func (r *Repository) ActiveSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, session_id, chat_id, symbol, timeframe, status, started_at, stopped_at, wins, losses, total_signals
		FROM sessions WHERE status = 'active' ORDER BY started_at`)
	if err != nil {
		return nil, fmt.Errorf("active sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var s SessionRecord
		if err := rows.Scan(&s.ID, &s.SessionID, &s.ChatID, &s.Symbol, &s.Timeframe, &s.Status,
			&s.StartedAt, &s.StoppedAt, &s.Wins, &s.Losses, &s.TotalSignals); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LogSignal persists one emitted signal.
func (r *Repository) LogSignal(ctx context.Context, s *SignalLog) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO signals (id, session_id, symbol, timeframe, direction, confidence,
		                     p_up, quality_score, entry_price, candle_close_time, volatility_override)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.SessionID, s.Symbol, s.Timeframe, s.Direction, s.Confidence,
		s.PUp, s.QualityScore, s.EntryPrice, s.CandleCloseTime, s.VolatilityOverride)
	return err
}

// RecentSignals returns the latest signals for a session, newest first.
func (r *Repository) RecentSignals(ctx context.Context, sessionID string, limit int) ([]SignalLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, session_id, symbol, timeframe, direction, confidence,
		       p_up, quality_score, entry_price, candle_close_time, volatility_override, created_at
		FROM signals WHERE session_id = $1
		ORDER BY created_at DESC LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	defer rows.Close()

	var out []SignalLog
	for rows.Next() {
		var s SignalLog
		if err := rows.Scan(&s.ID, &s.SessionID, &s.Symbol, &s.Timeframe, &s.Direction,
			&s.Confidence, &s.PUp, &s.QualityScore, &s.EntryPrice,
			&s.CandleCloseTime, &s.VolatilityOverride, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LogTradeResult persists one resolved outcome.
func (r *Repository) LogTradeResult(ctx context.Context, t *TradeResultLog) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO trade_results (id, signal_key, session_id, symbol, direction, outcome, entry_price, exit_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.SignalKey, t.SessionID, t.Symbol, t.Direction, t.Outcome, t.EntryPrice, t.ExitPrice)
	return err
}

// LogVolatility persists one volatility snapshot.
func (r *Repository) LogVolatility(ctx context.Context, v *VolatilityRecord) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO volatility_history (id, symbol, score, severity, is_stable)
		VALUES ($1, $2, $3, $4, $5)`,
		v.ID, v.Symbol, v.Score, v.Severity, v.IsStable)
	return err
}
